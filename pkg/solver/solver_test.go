package solver

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arnavshah/shift-optimizer/pkg/apperrors"
	"github.com/arnavshah/shift-optimizer/pkg/models"
	"github.com/arnavshah/shift-optimizer/pkg/snapshot"
	"github.com/arnavshah/shift-optimizer/pkg/testutil"
)

func buildSnapshot(t *testing.T, f *testutil.Fixture) *snapshot.Snapshot {
	t.Helper()
	snap, err := snapshot.NewBuilder(f.Store, zap.NewNop()).Build(context.Background(), f.Schedule.ID)
	require.NoError(t, err)
	return snap
}

// preferenceOptions rewards coverage and preferences only
func preferenceOptions() Options {
	return Options{
		WeightPreferences: 1,
		WeightCoverage:    1,
		SoftPenalty:       10000,
		TimeLimit:         10 * time.Second,
		FixExisting:       true,
	}
}

func solve(t *testing.T, snap *snapshot.Snapshot, opts Options) *Solution {
	t.Helper()
	m, err := Build(snap, opts)
	require.NoError(t, err)
	return m.Solve(context.Background())
}

func shiftsOf(sol *Solution, employeeID uint) []uint {
	var ids []uint
	for _, a := range sol.Assignments {
		if a.EmployeeID == employeeID {
			ids = append(ids, a.ShiftID)
		}
	}
	return ids
}

func prefer(f *testutil.Fixture, e models.Employee, tmpl models.ShiftTemplate) {
	f.Preference(models.EmployeePreference{EmployeeID: e.ID, TemplateID: &tmpl.ID, Weight: 1})
}

func TestSolve_TwoOfThreeWaiters(t *testing.T) {
	f := testutil.NewFixture(t)
	waiter := f.Role("Waiter")
	f.Employee("Ana", waiter)
	f.Employee("Ben", waiter)
	f.Employee("Cleo", waiter)
	shift := f.Shift(f.Template("Dinner", map[uint]int{waiter.ID: 2}), 0, 17, 6)

	cfg := f.Config("default", true)
	opts, err := NewOptions(&cfg, 10000)
	require.NoError(t, err)

	sol := solve(t, buildSnapshot(t, f), opts)
	require.Equal(t, models.SolverOptimal, sol.Status, sol.Message)
	require.Len(t, sol.Assignments, 2)
	assert.NotEqual(t, sol.Assignments[0].EmployeeID, sol.Assignments[1].EmployeeID)
	for _, a := range sol.Assignments {
		assert.Equal(t, shift.ID, a.ShiftID)
		assert.Equal(t, waiter.ID, a.RoleID)
	}
	assert.InDelta(t, 0, sol.MIPGap, 1e-9)
	// two assignments at coverage weight 1, fairness deviations 1/3 + 1/3 + 2/3 at weight 0.5
	assert.InDelta(t, 2-2.0/3.0, sol.ObjectiveValue, 1e-6)
}

func TestBuild_NoEligibleEmployeeIsInfeasible(t *testing.T) {
	f := testutil.NewFixture(t)
	cook := f.Role("Cook")
	waiter := f.Role("Waiter")
	ana := f.Employee("Ana", cook)
	f.Employee("Ben", waiter)
	shift := f.Shift(f.Template("Kitchen", map[uint]int{cook.ID: 1}), 2, 8, 8)
	f.TimeOff(ana, 2, 2)

	_, err := Build(buildSnapshot(t, f), preferenceOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInfeasible))
	assert.Contains(t, err.Error(), "no employee is eligible")
	assert.Contains(t, err.Error(), "shift "+uintString(shift.ID))
}

func TestBuild_TooFewEligibleIsInfeasible(t *testing.T) {
	f := testutil.NewFixture(t)
	waiter := f.Role("Waiter")
	f.Employee("Ana", waiter)
	f.Shift(f.Template("Dinner", map[uint]int{waiter.ID: 2}), 0, 17, 6)

	_, err := Build(buildSnapshot(t, f), preferenceOptions())
	assert.True(t, errors.Is(err, apperrors.ErrInfeasible))
}

func TestBuild_PenaltyMustDominateObjective(t *testing.T) {
	f := testutil.NewFixture(t)
	waiter := f.Role("Waiter")
	f.Employee("Ana", waiter)
	f.Employee("Ben", waiter)
	f.Shift(f.Template("Dinner", map[uint]int{waiter.ID: 2}), 0, 17, 6)

	opts := preferenceOptions()
	opts.SoftPenalty = opts.MaxSwing(2)
	_, err := Build(buildSnapshot(t, f), opts)
	assert.True(t, errors.Is(err, apperrors.ErrValidationFailure))

	opts.SoftPenalty = opts.MaxSwing(2) + 1
	_, err = Build(buildSnapshot(t, f), opts)
	assert.NoError(t, err)
}

func TestSolve_OvernightOverlap(t *testing.T) {
	t.Run("split across employees", func(t *testing.T) {
		f := testutil.NewFixture(t)
		waiter := f.Role("Waiter")
		ana := f.Employee("Ana", waiter)
		ben := f.Employee("Ben", waiter)
		tmpl := f.Template("Bar", map[uint]int{waiter.ID: 1})
		f.Shift(tmpl, 0, 22, 4) // Mon 22:00 - Tue 02:00
		f.Shift(tmpl, 1, 1, 4)  // Tue 01:00 - 05:00
		prefer(f, ana, tmpl)

		sol := solve(t, buildSnapshot(t, f), preferenceOptions())
		require.Equal(t, models.SolverOptimal, sol.Status, sol.Message)
		assert.Len(t, shiftsOf(sol, ana.ID), 1)
		assert.Len(t, shiftsOf(sol, ben.ID), 1)
	})

	t.Run("single employee cannot cover both", func(t *testing.T) {
		f := testutil.NewFixture(t)
		waiter := f.Role("Waiter")
		f.Employee("Ana", waiter)
		tmpl := f.Template("Bar", map[uint]int{waiter.ID: 1})
		f.Shift(tmpl, 0, 22, 4)
		f.Shift(tmpl, 1, 1, 4)

		sol := solve(t, buildSnapshot(t, f), preferenceOptions())
		assert.Equal(t, models.SolverInfeasible, sol.Status)
		assert.Empty(t, sol.Assignments)
	})
}

func TestSolve_SingleRolePerShift(t *testing.T) {
	f := testutil.NewFixture(t)
	waiter := f.Role("Waiter")
	cook := f.Role("Cook")
	ana := f.Employee("Ana", waiter, cook)
	ben := f.Employee("Ben", cook)
	tmpl := f.Template("Lunch", map[uint]int{waiter.ID: 1, cook.ID: 1})
	f.Shift(tmpl, 0, 11, 4)
	prefer(f, ana, tmpl)

	sol := solve(t, buildSnapshot(t, f), preferenceOptions())
	require.Equal(t, models.SolverOptimal, sol.Status, sol.Message)
	require.Len(t, sol.Assignments, 2)
	roles := map[uint]uint{}
	for _, a := range sol.Assignments {
		roles[a.EmployeeID] = a.RoleID
	}
	assert.Equal(t, waiter.ID, roles[ana.ID])
	assert.Equal(t, cook.ID, roles[ben.ID])
}

func TestSolve_HardMaxShifts(t *testing.T) {
	f := testutil.NewFixture(t)
	waiter := f.Role("Waiter")
	ana := f.Employee("Ana", waiter)
	ben := f.Employee("Ben", waiter)
	tmpl := f.Template("Lunch", map[uint]int{waiter.ID: 1})
	for day := 0; day < 3; day++ {
		f.Shift(tmpl, day*2, 11, 4)
	}
	prefer(f, ana, tmpl)
	f.Constraint(models.MaxShiftsPerWeek, 2, true)

	sol := solve(t, buildSnapshot(t, f), preferenceOptions())
	require.Equal(t, models.SolverOptimal, sol.Status, sol.Message)
	assert.Len(t, shiftsOf(sol, ana.ID), 2)
	assert.Len(t, shiftsOf(sol, ben.ID), 1)
}

func TestSolve_HardMaxHours(t *testing.T) {
	f := testutil.NewFixture(t)
	waiter := f.Role("Waiter")
	ana := f.Employee("Ana", waiter)
	ben := f.Employee("Ben", waiter)
	tmpl := f.Template("Long", map[uint]int{waiter.ID: 1})
	f.Shift(tmpl, 0, 8, 8)
	f.Shift(tmpl, 2, 8, 8)
	prefer(f, ana, tmpl)
	f.Constraint(models.MaxHoursPerWeek, 10, true)

	sol := solve(t, buildSnapshot(t, f), preferenceOptions())
	require.Equal(t, models.SolverOptimal, sol.Status, sol.Message)
	assert.Len(t, shiftsOf(sol, ana.ID), 1)
	assert.Len(t, shiftsOf(sol, ben.ID), 1)
}

func TestSolve_HardRestSeparatesShifts(t *testing.T) {
	f := testutil.NewFixture(t)
	waiter := f.Role("Waiter")
	ana := f.Employee("Ana", waiter)
	ben := f.Employee("Ben", waiter)
	tmpl := f.Template("Split", map[uint]int{waiter.ID: 1})
	f.Shift(tmpl, 0, 6, 4)  // 06:00 - 10:00
	f.Shift(tmpl, 0, 12, 4) // 12:00 - 16:00
	prefer(f, ana, tmpl)
	f.Constraint(models.MinRestHours, 8, true)

	sol := solve(t, buildSnapshot(t, f), preferenceOptions())
	require.Equal(t, models.SolverOptimal, sol.Status, sol.Message)
	assert.Len(t, shiftsOf(sol, ana.ID), 1)
	assert.Len(t, shiftsOf(sol, ben.ID), 1)
}

func TestSolve_MaxConsecutiveDays(t *testing.T) {
	t.Run("hard rule hands a day to someone else", func(t *testing.T) {
		f := testutil.NewFixture(t)
		waiter := f.Role("Waiter")
		ana := f.Employee("Ana", waiter)
		ben := f.Employee("Ben", waiter)
		tmpl := f.Template("Lunch", map[uint]int{waiter.ID: 1})
		for day := 0; day < 3; day++ {
			f.Shift(tmpl, day, 11, 4)
		}
		prefer(f, ana, tmpl)
		f.Constraint(models.MaxConsecutiveDays, 2, true)

		sol := solve(t, buildSnapshot(t, f), preferenceOptions())
		require.Equal(t, models.SolverOptimal, sol.Status, sol.Message)
		assert.Len(t, shiftsOf(sol, ana.ID), 2)
		assert.Len(t, shiftsOf(sol, ben.ID), 1)
	})

	t.Run("soft rule is penalized not infeasible", func(t *testing.T) {
		f := testutil.NewFixture(t)
		waiter := f.Role("Waiter")
		ana := f.Employee("Ana", waiter)
		tmpl := f.Template("Lunch", map[uint]int{waiter.ID: 1})
		for day := 0; day < 3; day++ {
			f.Shift(tmpl, day, 11, 4)
		}
		f.Constraint(models.MaxConsecutiveDays, 2, false)

		opts := preferenceOptions()
		sol := solve(t, buildSnapshot(t, f), opts)
		require.Equal(t, models.SolverOptimal, sol.Status, sol.Message)
		assert.Len(t, shiftsOf(sol, ana.ID), 3)
		assert.InDelta(t, 3-opts.SoftPenalty, sol.ObjectiveValue, 1e-6)
	})
}

func TestSolve_SoftMinShiftsKeepsCoverageExact(t *testing.T) {
	f := testutil.NewFixture(t)
	waiter := f.Role("Waiter")
	f.Employee("Ana", waiter)
	f.Employee("Ben", waiter)
	f.Shift(f.Template("Lunch", map[uint]int{waiter.ID: 1}), 0, 11, 4)
	f.Constraint(models.MinShiftsPerWeek, 1, false)

	sol := solve(t, buildSnapshot(t, f), preferenceOptions())
	require.Equal(t, models.SolverOptimal, sol.Status, sol.Message)
	assert.Len(t, sol.Assignments, 1)
}

func TestSolve_ExistingAssignments(t *testing.T) {
	setup := func(t *testing.T) (*testutil.Fixture, models.Employee, models.Employee) {
		f := testutil.NewFixture(t)
		waiter := f.Role("Waiter")
		ana := f.Employee("Ana", waiter)
		ben := f.Employee("Ben", waiter)
		tmpl := f.Template("Lunch", map[uint]int{waiter.ID: 1})
		s := f.Shift(tmpl, 0, 11, 4)
		prefer(f, ana, tmpl)
		f.Assign(s, ben, waiter)
		return f, ana, ben
	}

	t.Run("kept when fixed", func(t *testing.T) {
		f, _, ben := setup(t)
		sol := solve(t, buildSnapshot(t, f), preferenceOptions())
		require.Equal(t, models.SolverOptimal, sol.Status, sol.Message)
		require.Len(t, sol.Assignments, 1)
		assert.Equal(t, ben.ID, sol.Assignments[0].EmployeeID)
	})

	t.Run("replaced when not fixed", func(t *testing.T) {
		f, ana, _ := setup(t)
		opts := preferenceOptions()
		opts.FixExisting = false
		sol := solve(t, buildSnapshot(t, f), opts)
		require.Equal(t, models.SolverOptimal, sol.Status, sol.Message)
		require.Len(t, sol.Assignments, 1)
		assert.Equal(t, ana.ID, sol.Assignments[0].EmployeeID)
		assert.InDelta(t, 0.5, sol.Assignments[0].Score, 1e-9)
	})
}

func TestSolve_CostPrefersCheaperEmployee(t *testing.T) {
	f := testutil.NewFixture(t)
	waiter := f.Role("Waiter")
	cheap := f.Employee("Cheap", waiter)
	pricey := f.Employee("Pricey", waiter)
	require.NoError(t, f.DB.Model(&cheap).Update("hourly_rate", 15).Error)
	require.NoError(t, f.DB.Model(&pricey).Update("hourly_rate", 30).Error)
	f.Shift(f.Template("Lunch", map[uint]int{waiter.ID: 1}), 0, 11, 4)

	opts := preferenceOptions()
	opts.WeightCost = 1
	sol := solve(t, buildSnapshot(t, f), opts)
	require.Equal(t, models.SolverOptimal, sol.Status, sol.Message)
	require.Len(t, sol.Assignments, 1)
	assert.Equal(t, cheap.ID, sol.Assignments[0].EmployeeID)
}

func TestSolve_CancelledContext(t *testing.T) {
	f := testutil.NewFixture(t)
	waiter := f.Role("Waiter")
	f.Employee("Ana", waiter)
	f.Employee("Ben", waiter)
	f.Shift(f.Template("Lunch", map[uint]int{waiter.ID: 1}), 0, 11, 4)

	m, err := Build(buildSnapshot(t, f), preferenceOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sol := m.Solve(ctx)
	// the greedy start still yields an incumbent but nothing is proven
	assert.Equal(t, models.SolverFeasible, sol.Status)
	assert.Len(t, sol.Assignments, 1)
}

func TestNewOptions(t *testing.T) {
	valid := models.OptimizationConfig{
		WeightFairness: 0.5, WeightPreferences: 0.5, WeightCoverage: 1,
		MaxRuntimeSeconds: 60, MIPGap: 0.01,
	}

	opts, err := NewOptions(&valid, 10000)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, opts.TimeLimit)
	assert.True(t, opts.FixExisting)
	assert.InDelta(t, 10*(0.5+1)+2*10*0.5, opts.MaxSwing(10), 1e-9)

	cases := map[string]func(c *models.OptimizationConfig){
		"weight above one": func(c *models.OptimizationConfig) { c.WeightCost = 1.5 },
		"negative weight":  func(c *models.OptimizationConfig) { c.WeightFairness = -0.1 },
		"no runtime":       func(c *models.OptimizationConfig) { c.MaxRuntimeSeconds = 0 },
		"gap of one":       func(c *models.OptimizationConfig) { c.MIPGap = 1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			_, err := NewOptions(&cfg, 10000)
			assert.True(t, errors.Is(err, apperrors.ErrValidationFailure))
		})
	}
}

func uintString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}

// lunchAndKitchen commits Ana to a Lunch shift as Cook, a role Lunch does not
// require, while an overlapping Kitchen shift needs a Cook.
func lunchAndKitchen(t *testing.T, withSecondCook bool) (*testutil.Fixture, models.Employee, models.Shift, models.Shift) {
	f := testutil.NewFixture(t)
	waiter, cook := f.Role("Waiter"), f.Role("Cook")
	ana := f.Employee("Ana", waiter, cook)
	f.Employee("Ben", waiter)
	if withSecondCook {
		f.Employee("Cara", cook)
	}
	lunch := f.Shift(f.Template("Lunch", map[uint]int{waiter.ID: 1}), 0, 11, 6)
	kitchen := f.Shift(f.Template("Kitchen", map[uint]int{cook.ID: 1}), 0, 12, 6)
	f.Assign(lunch, ana, cook)
	return f, ana, lunch, kitchen
}

func TestBuild_RetainedAssignmentBlocksOverlap(t *testing.T) {
	f, _, _, kitchen := lunchAndKitchen(t, false)

	_, err := Build(buildSnapshot(t, f), preferenceOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInfeasible))
	assert.Contains(t, err.Error(), "shift "+uintString(kitchen.ID)+" needs 1")
}

func TestSolve_RetainedAssignmentOccupiesEmployee(t *testing.T) {
	f, ana, lunch, kitchen := lunchAndKitchen(t, true)

	m, err := Build(buildSnapshot(t, f), preferenceOptions())
	require.NoError(t, err)
	require.Len(t, m.Retained(), 1)
	assert.Zero(t, m.RetainedCoverage())

	sol := m.Solve(context.Background())
	require.Equal(t, models.SolverOptimal, sol.Status, sol.Message)
	assert.Empty(t, shiftsOf(sol, ana.ID))
	for _, a := range sol.Assignments {
		assert.Contains(t, []uint{lunch.ID, kitchen.ID}, a.ShiftID)
	}
	assert.Len(t, sol.Assignments, 2)
}

func TestSolve_RetainedAssignmentFillsItsSlot(t *testing.T) {
	f := testutil.NewFixture(t)
	waiter := f.Role("Waiter")
	ana := f.Employee("Ana", waiter)
	ben := f.Employee("Ben", waiter)
	tmpl := f.Template("Lunch", map[uint]int{waiter.ID: 2})
	s := f.Shift(tmpl, 0, 11, 4)
	f.Assign(s, ana, waiter)
	// time off removes Ana's column but her committed row stays
	f.TimeOff(ana, 0, 0)

	m, err := Build(buildSnapshot(t, f), preferenceOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, m.RetainedCoverage())

	sol := m.Solve(context.Background())
	require.Equal(t, models.SolverOptimal, sol.Status, sol.Message)
	require.Len(t, sol.Assignments, 1)
	assert.Equal(t, ben.ID, sol.Assignments[0].EmployeeID)
}

func TestSolve_RetainedAssignmentUsesWeeklyLimit(t *testing.T) {
	f := testutil.NewFixture(t)
	waiter, cook := f.Role("Waiter"), f.Role("Cook")
	ana := f.Employee("Ana", waiter, cook)
	f.Employee("Ben", waiter)
	f.Employee("Cara", waiter)
	lunch := f.Shift(f.Template("Lunch", map[uint]int{waiter.ID: 1}), 0, 11, 4)
	dinner := f.Template("Dinner", map[uint]int{waiter.ID: 1})
	f.Shift(dinner, 2, 18, 4)
	prefer(f, ana, dinner)
	f.Assign(lunch, ana, cook)
	f.Constraint(models.MaxShiftsPerWeek, 1, true)

	sol := solve(t, buildSnapshot(t, f), preferenceOptions())
	require.Equal(t, models.SolverOptimal, sol.Status, sol.Message)
	// the retained Lunch already uses Ana's one shift
	assert.Empty(t, shiftsOf(sol, ana.ID))
	assert.Len(t, sol.Assignments, 2)
}

func TestSolve_RespectsTimeLimitAtRealisticSize(t *testing.T) {
	if testing.Short() {
		t.Skip("realistic-size solve")
	}
	f := testutil.NewFixture(t)
	waiter, cook := f.Role("Waiter"), f.Role("Cook")
	var staff []models.Employee
	for i := 0; i < 20; i++ {
		roles := []models.Role{waiter}
		if i%3 == 0 {
			roles = append(roles, cook)
		}
		staff = append(staff, f.Employee("Employee "+strconv.Itoa(i), roles...))
	}
	demand := map[uint]int{waiter.ID: 2, cook.ID: 1}
	morning, evening := f.Template("Morning", demand), f.Template("Evening", demand)
	for day := 0; day < 7; day++ {
		f.Shift(morning, day, 7, 6)
		f.Shift(evening, day, 15, 6)
	}
	for i, e := range staff {
		if i%2 == 0 {
			prefer(f, e, morning)
		} else {
			prefer(f, e, evening)
		}
	}
	f.Constraint(models.MaxShiftsPerWeek, 5, true)
	f.Constraint(models.MinShiftsPerWeek, 1, false)
	f.Constraint(models.MinRestHours, 10, false)
	f.Constraint(models.MaxConsecutiveDays, 5, true)

	opts := preferenceOptions()
	opts.WeightFairness = 0.5
	opts.TimeLimit = 3 * time.Second
	opts.MIPGap = 0.05

	m, err := Build(buildSnapshot(t, f), opts)
	require.NoError(t, err)

	start := time.Now()
	sol := m.Solve(context.Background())
	elapsed := time.Since(start)

	assert.LessOrEqual(t, elapsed, opts.TimeLimit+time.Second)
	require.Contains(t, []models.SolverStatus{models.SolverOptimal, models.SolverFeasible}, sol.Status, sol.Message)

	type slot struct{ shift, role uint }
	filled := make(map[slot]int)
	perEmployee := make(map[uint]map[uint]bool)
	for _, a := range sol.Assignments {
		filled[slot{a.ShiftID, a.RoleID}]++
		if perEmployee[a.EmployeeID] == nil {
			perEmployee[a.EmployeeID] = make(map[uint]bool)
		}
		assert.False(t, perEmployee[a.EmployeeID][a.ShiftID], "employee %d twice on shift %d", a.EmployeeID, a.ShiftID)
		perEmployee[a.EmployeeID][a.ShiftID] = true
	}
	assert.Len(t, sol.Assignments, 14*3)
	for s, n := range filled {
		assert.Equal(t, demand[s.role], n, "shift %d role %d", s.shift, s.role)
	}
	for id, shifts := range perEmployee {
		assert.LessOrEqual(t, len(shifts), 5, "employee %d", id)
	}
}

// Package solver builds the assignment MIP from a snapshot and solves it by
// branch-and-bound over LP relaxations.
package solver

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/arnavshah/shift-optimizer/pkg/apperrors"
	"github.com/arnavshah/shift-optimizer/pkg/models"
	"github.com/arnavshah/shift-optimizer/pkg/scheduler"
	"github.com/arnavshah/shift-optimizer/pkg/snapshot"
)

type varKind uint8

const (
	assignVar     varKind = iota // x[employee, shift, role]
	workDayVar                   // y[employee, date]
	continuousVar                // slack or fairness deviation
)

type variable struct {
	kind varKind
	obj  float64 // maximization coefficient
}

func (v variable) binary() bool {
	return v.kind != continuousVar
}

type sense int8

const (
	lessEq sense = iota
	greaterEq
	equal
)

type term struct {
	col  int
	coef float64
}

type row struct {
	name  string
	terms []term
	sense sense
	rhs   float64
}

// Candidate is one eligible (employee, shift, role) triple, i.e. one x column.
type Candidate struct {
	Employee int
	Shift    int
	RoleID   uint
	Score    float64
}

// occupancy is what an employee's retained assignments already take up
type occupancy struct {
	shifts []int
	hours  float64
	dates  map[time.Time]struct{}
}

// coverageGroup is the set of x columns that must sum to required. required
// excludes slots already held by retained assignments.
type coverageGroup struct {
	shift    int
	roleID   uint
	required int
	cols     []int
}

// Model is the assignment MIP of one snapshot. x columns come first and are
// indexed like Candidates.
type Model struct {
	snap *snapshot.Snapshot
	opts Options

	vars       []variable
	rows       []row
	candidates []Candidate
	groups     []coverageGroup

	byEmployee [][]int
	conflicts  map[snapshot.Pair]struct{}

	// existing holds the x columns pinned to 1
	existing []int

	// retained are committed assignments with no x column. They stay
	// committed, so their employees count as occupied.
	retained      []snapshot.Existing
	retainedCover int
	occ           []occupancy

	// fixed holds binaries whose value occupancy decides
	fixed map[int]int8

	// workDays maps every y column to the x columns of its date
	workDays map[int][]int

	// constant collects objective terms no column can change
	constant float64
}

// Build turns snapshot into a model. It returns ErrValidationFailure when the
// soft penalty does not dominate the primary objective, and ErrInfeasible when
// coverage or a hard rule provably cannot be met, before any solving.
func Build(snap *snapshot.Snapshot, opts Options) (*Model, error) {
	if err := opts.CheckPenalty(snap.TotalRequired()); err != nil {
		return nil, err
	}

	m := &Model{
		snap:       snap,
		opts:       opts,
		byEmployee: make([][]int, len(snap.Employees)),
		conflicts:  make(map[snapshot.Pair]struct{}),
		occ:        make([]occupancy, len(snap.Employees)),
		fixed:      make(map[int]int8),
		workDays:   make(map[int][]int),
	}

	m.addCandidates()
	problems := m.pinExisting()
	m.addPairRows(snap.Overlaps, "overlap")
	m.addPairRows(snap.RestConflicts, "rest")
	problems = append(problems, m.occupy()...)
	if eligibility := m.checkEligibility(); len(eligibility) > 0 {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInfeasible, strings.Join(eligibility, "; "))
	}

	m.addCoverage()
	m.addSingleRole()
	m.addSoftRest()
	problems = append(problems, m.addWeeklyLimits()...)
	m.addConsecutiveDays()
	m.addFairness()

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInfeasible, strings.Join(problems, "; "))
	}
	return m, nil
}

// NumVariables is the number of model columns
func (m *Model) NumVariables() int {
	return len(m.vars)
}

// NumConstraints is the number of model rows
func (m *Model) NumConstraints() int {
	return len(m.rows)
}

// Candidates returns the eligible triples in column order
func (m *Model) Candidates() []Candidate {
	return m.candidates
}

// Retained returns the committed assignments the model cannot represent as
// columns. The solution never contains them, but they stay committed and the
// solution is built around them.
func (m *Model) Retained() []snapshot.Existing {
	return m.retained
}

// RetainedCoverage is the number of required slots retained assignments fill.
func (m *Model) RetainedCoverage() int {
	return m.retainedCover
}

func (m *Model) addVar(v variable) int {
	m.vars = append(m.vars, v)
	return len(m.vars) - 1
}

func (m *Model) addRow(r row) {
	terms := r.terms[:0]
	for _, t := range r.terms {
		if t.coef != 0 {
			terms = append(terms, t)
		}
	}
	r.terms = terms
	m.rows = append(m.rows, r)
}

// slack adds a penalized continuous column
func (m *Model) slack() int {
	return m.addVar(variable{kind: continuousVar, obj: -m.opts.SoftPenalty})
}

// addCandidates creates x columns only for available, qualified, required triples.
func (m *Model) addCandidates() {
	snap := m.snap

	maxCost := 0.0
	if m.opts.WeightCost > 0 {
		for si := range snap.Shifts {
			for _, e := range snap.Employees {
				maxCost = math.Max(maxCost, e.HourlyRate*snap.Durations[si])
			}
		}
	}

	for si := range snap.Shifts {
		shift := &snap.Shifts[si]
		for _, req := range shift.Requirements {
			g := coverageGroup{shift: si, roleID: req.RoleID, required: req.RequiredCount}
			for ei := range snap.Employees {
				e := &snap.Employees[ei]
				if !snap.Availability[ei][si] || !e.HasRole(req.RoleID) {
					continue
				}
				score := snap.Preference[ei][si]
				obj := m.opts.WeightPreferences*score + m.opts.WeightCoverage
				if maxCost > 0 {
					obj -= m.opts.WeightCost * e.HourlyRate * snap.Durations[si] / maxCost
				}
				col := m.addVar(variable{kind: assignVar, obj: obj})
				m.candidates = append(m.candidates, Candidate{Employee: ei, Shift: si, RoleID: req.RoleID, Score: score})
				m.byEmployee[ei] = append(m.byEmployee[ei], col)
				g.cols = append(g.cols, col)
			}
			m.groups = append(m.groups, g)
		}
	}
}

// checkEligibility reports coverage groups with too few open candidates for
// the slots retained assignments leave. A candidate fixed to 0 by occupancy
// is not open.
func (m *Model) checkEligibility() []string {
	var problems []string
	for _, g := range m.groups {
		open := 0
		for _, col := range g.cols {
			if v, ok := m.fixed[col]; !ok || v != 0 {
				open++
			}
		}
		shiftID := m.snap.Shifts[g.shift].ID
		switch {
		case g.required <= 0:
		case open == 0:
			problems = append(problems, fmt.Sprintf("shift %d needs %d of role %d but no employee is eligible",
				shiftID, g.required, g.roleID))
		case open < g.required:
			problems = append(problems, fmt.Sprintf("shift %d needs %d of role %d but only %d employees are eligible",
				shiftID, g.required, g.roleID, open))
		}
	}
	return problems
}

// pinExisting fixes committed assignments when the run keeps them. A
// committed assignment without a column is retained instead: it fills its
// coverage slot when the shift requires its role.
func (m *Model) pinExisting() []string {
	if !m.opts.FixExisting {
		return nil
	}
	index := make(map[Candidate]int, len(m.candidates))
	for col, c := range m.candidates {
		index[Candidate{Employee: c.Employee, Shift: c.Shift, RoleID: c.RoleID}] = col
	}
	type slot struct {
		shift  int
		roleID uint
	}
	groupOf := make(map[slot]int, len(m.groups))
	for gi, g := range m.groups {
		groupOf[slot{g.shift, g.roleID}] = gi
	}

	committed := make(map[int]int) // group -> committed count
	held := make(map[int]int)      // group -> retained count
	for _, ex := range m.snap.Existing {
		gi, required := groupOf[slot{ex.Shift, ex.RoleID}]
		if col, ok := index[Candidate{Employee: ex.Employee, Shift: ex.Shift, RoleID: ex.RoleID}]; ok {
			m.existing = append(m.existing, col)
			committed[gi]++
			continue
		}
		m.retained = append(m.retained, ex)
		if required {
			committed[gi]++
			held[gi]++
		}
	}

	var problems []string
	for gi, n := range committed {
		g := m.groups[gi]
		if n > g.required {
			problems = append(problems, fmt.Sprintf("shift %d already has %d committed for role %d but requires %d",
				m.snap.Shifts[g.shift].ID, n, g.roleID, g.required))
		}
	}
	for gi, n := range held {
		m.groups[gi].required -= n
		m.retainedCover += n
	}
	sort.Strings(problems)
	return problems
}

func (m *Model) addCoverage() {
	for _, g := range m.groups {
		if len(g.cols) == 0 {
			continue
		}
		terms := make([]term, len(g.cols))
		for i, col := range g.cols {
			terms[i] = term{col: col, coef: 1}
		}
		m.addRow(row{
			name:  fmt.Sprintf("coverage[s%d,r%d]", m.snap.Shifts[g.shift].ID, g.roleID),
			terms: terms,
			sense: equal,
			rhs:   float64(g.required),
		})
	}
}

// shiftCols returns the x columns of employee ei on shift si
func (m *Model) shiftCols(ei, si int) []int {
	var cols []int
	for _, col := range m.byEmployee[ei] {
		if m.candidates[col].Shift == si {
			cols = append(cols, col)
		}
	}
	return cols
}

// atMostOne adds sum(cols) <= 1, or <= 1 + slack when soft
func (m *Model) atMostOne(name string, cols []int, soft bool) {
	terms := make([]term, 0, len(cols)+1)
	for _, col := range cols {
		terms = append(terms, term{col: col, coef: 1})
	}
	if soft {
		terms = append(terms, term{col: m.slack(), coef: -1})
	}
	m.addRow(row{name: name, terms: terms, sense: lessEq, rhs: 1})
}

func (m *Model) addSingleRole() {
	for ei := range m.snap.Employees {
		perShift := make(map[int][]int)
		for _, col := range m.byEmployee[ei] {
			si := m.candidates[col].Shift
			perShift[si] = append(perShift[si], col)
		}
		shifts := make([]int, 0, len(perShift))
		for si, cols := range perShift {
			if len(cols) > 1 {
				shifts = append(shifts, si)
			}
		}
		sort.Ints(shifts)
		for _, si := range shifts {
			m.atMostOne(fmt.Sprintf("single_role[e%d,s%d]", m.snap.Employees[ei].ID, m.snap.Shifts[si].ID), perShift[si], false)
		}
	}
}

// addPairRows forbids one employee from working both shifts of a pair.
func (m *Model) addPairRows(pairs []snapshot.Pair, kind string) {
	for _, p := range pairs {
		if _, dup := m.conflicts[p]; dup {
			continue
		}
		m.conflicts[p] = struct{}{}
		for ei := range m.snap.Employees {
			a, b := m.shiftCols(ei, p.A), m.shiftCols(ei, p.B)
			if len(a) == 0 || len(b) == 0 {
				continue
			}
			name := fmt.Sprintf("%s[e%d,s%d,s%d]", kind, m.snap.Employees[ei].ID, m.snap.Shifts[p.A].ID, m.snap.Shifts[p.B].ID)
			m.atMostOne(name, append(a, b...), false)
		}
	}
}

// occupy charges each retained assignment to its employee. Columns that would
// put the employee on the same shift again or break a hard overlap or rest
// rule against it are fixed to 0, and soft rest against it is charged on the
// column's objective.
func (m *Model) occupy() []string {
	if len(m.retained) == 0 {
		return nil
	}
	shifts := m.snap.Shifts
	blocking := make(map[int][]int)
	for p := range m.conflicts {
		blocking[p.A] = append(blocking[p.A], p.B)
		blocking[p.B] = append(blocking[p.B], p.A)
	}
	rest, softRest := m.snap.Constraints.Lookup(models.MinRestHours)
	softRest = softRest && !rest.IsHard
	pinned := make(map[int]struct{}, len(m.existing))
	for _, col := range m.existing {
		pinned[col] = struct{}{}
	}

	var problems []string
	for _, ex := range m.retained {
		o := &m.occ[ex.Employee]
		o.shifts = append(o.shifts, ex.Shift)
		o.hours += m.snap.Durations[ex.Shift]
		if o.dates == nil {
			o.dates = make(map[time.Time]struct{})
		}
		o.dates[shifts[ex.Shift].Date] = struct{}{}

		for _, si := range append([]int{ex.Shift}, blocking[ex.Shift]...) {
			for _, col := range m.shiftCols(ex.Employee, si) {
				m.fixed[col] = 0
				if _, ok := pinned[col]; ok {
					problems = append(problems, fmt.Sprintf("employee %d is committed to shifts %d and %d which cannot both be worked",
						m.snap.Employees[ex.Employee].ID, shifts[ex.Shift].ID, shifts[si].ID))
				}
			}
		}

		if !softRest {
			continue
		}
		for si := range shifts {
			p := snapshot.Pair{A: min(si, ex.Shift), B: max(si, ex.Shift)}
			if _, hard := m.conflicts[p]; hard || si == ex.Shift {
				continue
			}
			a, b := shifts[ex.Shift], shifts[si]
			if scheduler.RestGapHours(a.Start, a.End, b.Start, b.End) >= rest.Value {
				continue
			}
			for _, col := range m.shiftCols(ex.Employee, si) {
				m.vars[col].obj -= m.opts.SoftPenalty
			}
		}
	}
	sort.Strings(problems)
	return problems
}

// addSoftRest builds rest pairs on demand when the rule is soft.
func (m *Model) addSoftRest() {
	rule, ok := m.snap.Constraints.Lookup(models.MinRestHours)
	if !ok || rule.IsHard {
		return
	}
	shifts := m.snap.Shifts
	for i := 0; i < len(shifts); i++ {
		for j := i + 1; j < len(shifts); j++ {
			p := snapshot.Pair{A: i, B: j}
			if _, hard := m.conflicts[p]; hard {
				continue
			}
			gap := scheduler.RestGapHours(shifts[i].Start, shifts[i].End, shifts[j].Start, shifts[j].End)
			if gap >= rule.Value {
				continue
			}
			for ei := range m.snap.Employees {
				a, b := m.shiftCols(ei, i), m.shiftCols(ei, j)
				if len(a) == 0 || len(b) == 0 {
					continue
				}
				name := fmt.Sprintf("soft_rest[e%d,s%d,s%d]", m.snap.Employees[ei].ID, shifts[i].ID, shifts[j].ID)
				m.atMostOne(name, append(a, b...), true)
			}
		}
	}
}

type weeklyLimit struct {
	ct       models.ConstraintType
	sense    sense
	weight   func(col int) float64
	occupied func(ei int) float64
}

// addWeeklyLimits bounds each employee's shifts and hours. Retained
// assignments already use part of the limit.
func (m *Model) addWeeklyLimits() []string {
	count := func(int) float64 { return 1 }
	hours := func(col int) float64 { return m.snap.Durations[m.candidates[col].Shift] }
	occShifts := func(ei int) float64 { return float64(len(m.occ[ei].shifts)) }
	occHours := func(ei int) float64 { return m.occ[ei].hours }
	limits := []weeklyLimit{
		{models.MaxShiftsPerWeek, lessEq, count, occShifts},
		{models.MinShiftsPerWeek, greaterEq, count, occShifts},
		{models.MaxHoursPerWeek, lessEq, hours, occHours},
		{models.MinHoursPerWeek, greaterEq, hours, occHours},
	}

	var problems []string
	for _, lim := range limits {
		rule, ok := m.snap.Constraints.Lookup(lim.ct)
		if !ok {
			continue
		}
		for ei, e := range m.snap.Employees {
			cols := m.byEmployee[ei]
			used := lim.occupied(ei)
			rhs := rule.Value - used

			if lim.sense == lessEq && rhs < 0 {
				if rule.IsHard {
					problems = append(problems, fmt.Sprintf("employee %d already has %g committed but %s is %g",
						e.ID, used, lim.ct, rule.Value))
					continue
				}
				if len(cols) == 0 {
					m.constant -= m.opts.SoftPenalty * -rhs
					continue
				}
			}
			if len(cols) == 0 {
				if lim.sense == greaterEq && rhs > 0 {
					if rule.IsHard {
						problems = append(problems, fmt.Sprintf("employee %d cannot be assigned any shift but %s is %g",
							e.ID, lim.ct, rule.Value))
					} else {
						m.constant -= m.opts.SoftPenalty * rhs
					}
				}
				continue
			}

			terms := make([]term, 0, len(cols)+1)
			for _, col := range cols {
				terms = append(terms, term{col: col, coef: lim.weight(col)})
			}
			if !rule.IsHard {
				coef := -1.0
				if lim.sense == greaterEq {
					coef = 1
				}
				terms = append(terms, term{col: m.slack(), coef: coef})
			}
			m.addRow(row{
				name:  fmt.Sprintf("%s[e%d]", strings.ToLower(string(lim.ct)), e.ID),
				terms: terms,
				sense: lim.sense,
				rhs:   rhs,
			})
		}
	}
	sort.Strings(problems)
	return problems
}

// addConsecutiveDays links a works-that-day indicator per (employee, date) to
// the x columns of that date and caps every window of max+1 calendar days.
// Dates a retained assignment occupies have their indicator fixed to 1.
func (m *Model) addConsecutiveDays() {
	rule, ok := m.snap.Constraints.Lookup(models.MaxConsecutiveDays)
	if !ok {
		return
	}
	limit := int(math.Floor(rule.Value))
	if limit < 0 {
		limit = 0
	}
	dates := m.snap.CalendarDates()

	for ei, e := range m.snap.Employees {
		perDate := make(map[time.Time][]int)
		for _, col := range m.byEmployee[ei] {
			d := m.snap.Shifts[m.candidates[col].Shift].Date
			perDate[d] = append(perDate[d], col)
		}
		busy := m.occ[ei].dates
		days := len(perDate)
		for d := range busy {
			if _, ok := perDate[d]; !ok {
				days++
			}
		}
		if days <= limit || len(perDate) == 0 {
			continue
		}

		works := make(map[time.Time]int, days)
		for _, d := range dates {
			cols, open := perDate[d]
			_, occupied := busy[d]
			if !open && !occupied {
				continue
			}
			y := m.addVar(variable{kind: workDayVar})
			works[d] = y
			m.workDays[y] = cols
			day := d.Format("2006-01-02")
			if occupied {
				m.fixed[y] = 1
			}
			sum := []term{{col: y, coef: 1}}
			for _, col := range cols {
				m.addRow(row{
					name:  fmt.Sprintf("works_lb[e%d,%s,x%d]", e.ID, day, col),
					terms: []term{{col: y, coef: 1}, {col: col, coef: -1}},
					sense: greaterEq,
				})
				sum = append(sum, term{col: col, coef: -1})
			}
			if !occupied {
				m.addRow(row{name: fmt.Sprintf("works_ub[e%d,%s]", e.ID, day), terms: sum, sense: lessEq})
			}
		}

		for _, start := range dates {
			terms := make([]term, 0, limit+2)
			for k := 0; k <= limit; k++ {
				y, ok := works[start.AddDate(0, 0, k)]
				if !ok {
					break
				}
				terms = append(terms, term{col: y, coef: 1})
			}
			if len(terms) <= limit {
				continue
			}
			if !rule.IsHard {
				terms = append(terms, term{col: m.slack(), coef: -1})
			}
			m.addRow(row{
				name:  fmt.Sprintf("consecutive[e%d,%s]", e.ID, start.Format("2006-01-02")),
				terms: terms,
				sense: lessEq,
				rhs:   float64(limit),
			})
		}
	}
}

// addFairness adds sum(x_e) + retained_e - mean = dev_pos - dev_neg per
// employee. With exact coverage the total number of assignments is fixed, so
// mean is a constant.
func (m *Model) addFairness() {
	if m.opts.WeightFairness <= 0 || len(m.snap.Employees) == 0 {
		return
	}
	total := m.snap.TotalRequired() - m.retainedCover + len(m.retained)
	mean := float64(total) / float64(len(m.snap.Employees))
	for ei, e := range m.snap.Employees {
		pos := m.addVar(variable{kind: continuousVar, obj: -m.opts.WeightFairness})
		neg := m.addVar(variable{kind: continuousVar, obj: -m.opts.WeightFairness})
		terms := make([]term, 0, len(m.byEmployee[ei])+2)
		for _, col := range m.byEmployee[ei] {
			terms = append(terms, term{col: col, coef: 1})
		}
		terms = append(terms, term{col: pos, coef: -1}, term{col: neg, coef: 1})
		rhs := mean - float64(len(m.occ[ei].shifts))
		m.addRow(row{name: fmt.Sprintf("fairness[e%d]", e.ID), terms: terms, sense: equal, rhs: rhs})
	}
}

// objective evaluates the maximization objective at values
func (m *Model) objective(values []float64) float64 {
	total := m.constant
	for j, v := range m.vars {
		total += v.obj * values[j]
	}
	return total
}

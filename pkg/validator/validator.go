// Package validator checks assignment sets against hard and soft scheduling rules.
// It never mutates state.
package validator

import (
	"fmt"
	"sort"
	"time"

	"github.com/arnavshah/shift-optimizer/pkg/models"
	"github.com/arnavshah/shift-optimizer/pkg/scheduler"
)

type ViolationType string

const (
	EmployeeNotFound           ViolationType = "EMPLOYEE_NOT_FOUND"
	EmployeeInactive           ViolationType = "EMPLOYEE_INACTIVE"
	ShiftNotFound              ViolationType = "SHIFT_NOT_FOUND"
	TimeOffConflict            ViolationType = "TIME_OFF_CONFLICT"
	RoleNotQualified           ViolationType = "ROLE_NOT_QUALIFIED"
	ShiftOverlap               ViolationType = "SHIFT_OVERLAP"
	InsufficientRest           ViolationType = "INSUFFICIENT_REST"
	MaxHoursExceeded           ViolationType = "MAX_HOURS_EXCEEDED"
	MinHoursNotMet             ViolationType = "MIN_HOURS_NOT_MET"
	MaxShiftsExceeded          ViolationType = "MAX_SHIFTS_EXCEEDED"
	MinShiftsNotMet            ViolationType = "MIN_SHIFTS_NOT_MET"
	MaxConsecutiveDaysExceeded ViolationType = "MAX_CONSECUTIVE_DAYS_EXCEEDED"
)

type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

func severity(hard bool) Severity {
	if hard {
		return SeverityError
	}
	return SeverityWarning
}

// Violation is one broken rule
type Violation struct {
	Type       ViolationType `json:"type"`
	Severity   Severity      `json:"severity"`
	EmployeeID uint          `json:"employee_id"`
	ShiftID    uint          `json:"shift_id,omitempty"`
	Message    string        `json:"message"`
}

// Result separates hard violations from soft ones
type Result struct {
	Errors   []Violation `json:"errors"`
	Warnings []Violation `json:"warnings"`
}

// IsValid is true when no hard rule is broken
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

func (r *Result) add(v Violation) {
	if v.Severity == SeverityError {
		r.Errors = append(r.Errors, v)
		return
	}
	r.Warnings = append(r.Warnings, v)
}

func (r *Result) merge(o Result) {
	r.Errors = append(r.Errors, o.Errors...)
	r.Warnings = append(r.Warnings, o.Warnings...)
}

// Assignment is a proposed or committed (employee, shift, role) triple
type Assignment struct {
	EmployeeID uint `json:"employee_id" binding:"required"`
	ShiftID    uint `json:"shift_id" binding:"required"`
	RoleID     uint `json:"role_id" binding:"required"`
}

// Domain is the state a validation reads. Employees carry their roles and
// TimeOff holds approved requests only. Roster lists the employees weekly
// aggregates always cover, assigned or not.
type Domain struct {
	Employees   map[uint]*models.Employee
	Shifts      map[uint]*models.Shift
	TimeOff     map[uint][]models.TimeOffRequest
	Constraints models.ConstraintSet
	Roster      []uint
}

// ValidateAssignment checks a single assignment on its own and against the
// employee's other assignments in existing.
func ValidateAssignment(d *Domain, a Assignment, existing []Assignment) Result {
	var res Result

	employee, ok := d.Employees[a.EmployeeID]
	if !ok {
		res.add(Violation{Type: EmployeeNotFound, Severity: SeverityError, EmployeeID: a.EmployeeID, ShiftID: a.ShiftID,
			Message: fmt.Sprintf("employee %d does not exist", a.EmployeeID)})
		return res
	}
	if !employee.IsActive {
		res.add(Violation{Type: EmployeeInactive, Severity: SeverityError, EmployeeID: a.EmployeeID, ShiftID: a.ShiftID,
			Message: fmt.Sprintf("employee %s is inactive", employee.Name)})
	}

	shift, ok := d.Shifts[a.ShiftID]
	if !ok {
		res.add(Violation{Type: ShiftNotFound, Severity: SeverityError, EmployeeID: a.EmployeeID, ShiftID: a.ShiftID,
			Message: fmt.Sprintf("shift %d does not exist", a.ShiftID)})
		return res
	}

	for _, r := range d.TimeOff[a.EmployeeID] {
		if r.Status == models.TimeOffApproved && scheduler.DateInRange(shift.Date, r.StartDate, r.EndDate) {
			res.add(Violation{Type: TimeOffConflict, Severity: SeverityError, EmployeeID: a.EmployeeID, ShiftID: a.ShiftID,
				Message: fmt.Sprintf("employee %s has approved time off on %s", employee.Name, shift.Date.Format("2006-01-02"))})
			break
		}
	}

	if !hasRole(employee, a.RoleID) {
		res.add(Violation{Type: RoleNotQualified, Severity: SeverityError, EmployeeID: a.EmployeeID, ShiftID: a.ShiftID,
			Message: fmt.Sprintf("employee %s does not hold role %d", employee.Name, a.RoleID)})
	}

	rest, restConfigured := d.Constraints.Lookup(models.MinRestHours)
	for _, other := range existing {
		if other.EmployeeID != a.EmployeeID {
			continue
		}
		if other.ShiftID == a.ShiftID {
			if other.RoleID != a.RoleID {
				res.add(Violation{Type: ShiftOverlap, Severity: SeverityError, EmployeeID: a.EmployeeID, ShiftID: a.ShiftID,
					Message: fmt.Sprintf("already on shift %d as role %d", shift.ID, other.RoleID)})
			}
			continue
		}
		otherShift, ok := d.Shifts[other.ShiftID]
		if !ok {
			continue
		}
		if scheduler.Overlap(shift.StartAt, shift.EndAt, otherShift.StartAt, otherShift.EndAt) {
			res.add(Violation{Type: ShiftOverlap, Severity: SeverityError, EmployeeID: a.EmployeeID, ShiftID: a.ShiftID,
				Message: fmt.Sprintf("shift %d overlaps shift %d", shift.ID, otherShift.ID)})
			continue
		}
		if !restConfigured {
			continue
		}
		gap := scheduler.RestGapHours(shift.StartAt, shift.EndAt, otherShift.StartAt, otherShift.EndAt)
		if gap < rest.Value {
			res.add(Violation{Type: InsufficientRest, Severity: severity(rest.IsHard), EmployeeID: a.EmployeeID, ShiftID: a.ShiftID,
				Message: fmt.Sprintf("only %.1fh rest between shifts %d and %d, minimum is %.1fh", gap, shift.ID, otherShift.ID, rest.Value)})
		}
	}
	return res
}

// ValidateWeeklySchedule checks every assignment against the ones before it and
// then the weekly aggregates of each employee. The output order depends only on
// the set of assignments, not on their order in proposed.
func ValidateWeeklySchedule(d *Domain, proposed []Assignment) Result {
	return ValidateProposal(d, proposed, nil)
}

// ValidateProposal checks proposed next to retained, the committed
// assignments that stay in place with it. Retained assignments are not
// checked on their own, but every proposed assignment is checked against
// them and they count toward weekly aggregates. Aggregates cover the Roster
// and everyone either set names, in ascending employee ID.
func ValidateProposal(d *Domain, proposed, retained []Assignment) Result {
	sorted := sortAssignments(d, proposed)

	var res Result
	byEmployee := make(map[uint][]Assignment)
	for _, a := range sortAssignments(d, retained) {
		byEmployee[a.EmployeeID] = append(byEmployee[a.EmployeeID], a)
	}
	for _, a := range sorted {
		prior := byEmployee[a.EmployeeID]
		res.merge(ValidateAssignment(d, a, prior))
		byEmployee[a.EmployeeID] = append(prior, a)
	}

	scope := make(map[uint]struct{}, len(d.Roster)+len(byEmployee))
	for _, id := range d.Roster {
		scope[id] = struct{}{}
	}
	for id := range byEmployee {
		scope[id] = struct{}{}
	}
	employees := make([]uint, 0, len(scope))
	for id := range scope {
		employees = append(employees, id)
	}
	sort.Slice(employees, func(i, j int) bool { return employees[i] < employees[j] })

	for _, id := range employees {
		if _, ok := d.Employees[id]; !ok {
			continue
		}
		res.merge(weeklyAggregates(d, id, byEmployee[id]))
	}
	return res
}

// sortAssignments orders by employee, then shift start, then IDs.
func sortAssignments(d *Domain, in []Assignment) []Assignment {
	sorted := append([]Assignment(nil), in...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.EmployeeID != b.EmployeeID {
			return a.EmployeeID < b.EmployeeID
		}
		sa, sb := d.Shifts[a.ShiftID], d.Shifts[b.ShiftID]
		if sa != nil && sb != nil && !sa.StartAt.Equal(sb.StartAt) {
			return sa.StartAt.Before(sb.StartAt)
		}
		if a.ShiftID != b.ShiftID {
			return a.ShiftID < b.ShiftID
		}
		return a.RoleID < b.RoleID
	})
	return sorted
}

func weeklyAggregates(d *Domain, employeeID uint, assignments []Assignment) Result {
	var res Result

	hours := 0.0
	var dates []time.Time
	seen := make(map[uint]struct{})
	for _, a := range assignments {
		s, ok := d.Shifts[a.ShiftID]
		if !ok {
			continue
		}
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		hours += scheduler.DurationHours(s.StartAt, s.EndAt)
		dates = append(dates, s.Date)
	}
	shifts := float64(len(seen))

	streak := float64(scheduler.LongestStreak(dates))
	limits := []struct {
		ct     models.ConstraintType
		vt     ViolationType
		actual float64
		unit   string
		upper  bool
	}{
		{models.MaxHoursPerWeek, MaxHoursExceeded, hours, "hours", true},
		{models.MinHoursPerWeek, MinHoursNotMet, hours, "hours", false},
		{models.MaxShiftsPerWeek, MaxShiftsExceeded, shifts, "shifts", true},
		{models.MinShiftsPerWeek, MinShiftsNotMet, shifts, "shifts", false},
		{models.MaxConsecutiveDays, MaxConsecutiveDaysExceeded, streak, "consecutive days", true},
	}
	for _, l := range limits {
		rule, ok := d.Constraints.Lookup(l.ct)
		if !ok {
			continue
		}
		broken := l.actual < rule.Value
		if l.upper {
			broken = l.actual > rule.Value
		}
		if !broken {
			continue
		}
		res.add(Violation{Type: l.vt, Severity: severity(rule.IsHard), EmployeeID: employeeID,
			Message: fmt.Sprintf("%g %s against a limit of %g", l.actual, l.unit, rule.Value)})
	}
	return res
}

func hasRole(e *models.Employee, roleID uint) bool {
	for _, r := range e.Roles {
		if r.ID == roleID {
			return true
		}
	}
	return false
}

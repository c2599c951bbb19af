// Package snapshot turns raw domain records into the immutable optimization
// problem consumed by the solver.
package snapshot

import (
	"time"

	"github.com/arnavshah/shift-optimizer/pkg/models"
)

// RoleRequirement is the exact head-count a shift needs for one role
type RoleRequirement struct {
	RoleID        uint `json:"role_id"`
	RequiredCount int  `json:"required_count"`
}

// Employee is an assignable employee. RoleIDs is never empty.
type Employee struct {
	ID         uint
	Name       string
	RoleIDs    []uint
	HourlyRate float64
	roles      map[uint]struct{}
}

// HasRole reports whether the employee holds roleID
func (e *Employee) HasRole(roleID uint) bool {
	_, ok := e.roles[roleID]
	return ok
}

// Shift is a non-cancelled shift with its resolved demand
type Shift struct {
	ID           uint
	TemplateID   *uint
	Date         time.Time
	Start        time.Time
	End          time.Time
	Location     string
	Requirements []RoleRequirement
}

// Required returns the head-count required for roleID (0 when not required)
func (s *Shift) Required(roleID uint) int {
	for _, r := range s.Requirements {
		if r.RoleID == roleID {
			return r.RequiredCount
		}
	}
	return 0
}

// TotalRequired sums the head-count over all roles
func (s *Shift) TotalRequired() int {
	total := 0
	for _, r := range s.Requirements {
		total += r.RequiredCount
	}
	return total
}

// Pair is an unordered pair of shift indices with A < B
type Pair struct {
	A, B int
}

// DateRange is an inclusive calendar range
type DateRange struct {
	From, To time.Time
}

// Existing is a committed assignment expressed in snapshot indices
type Existing struct {
	Employee int
	Shift    int
	RoleID   uint
}

// Snapshot is the normalized optimization problem for one schedule.
// Matrices are dense and addressed as [employee index][shift index].
type Snapshot struct {
	ScheduleID uint
	Employees  []Employee
	Shifts     []Shift

	EmployeeIndex map[uint]int
	ShiftIndex    map[uint]int

	Availability [][]bool
	Preference   [][]float64
	Durations    []float64

	Overlaps      []Pair
	RestConflicts []Pair

	Existing    []Existing
	TimeOff     map[uint][]DateRange
	Constraints models.ConstraintSet

	// StaleAssignments counts committed assignments whose employee or shift is no longer in scope.
	StaleAssignments int
}

// TotalRequired sums the head-count demand over every shift
func (s *Snapshot) TotalRequired() int {
	total := 0
	for i := range s.Shifts {
		total += s.Shifts[i].TotalRequired()
	}
	return total
}

// CalendarDates returns the distinct shift dates in ascending order
func (s *Snapshot) CalendarDates() []time.Time {
	var dates []time.Time
	seen := make(map[time.Time]struct{})
	for i := range s.Shifts {
		d := s.Shifts[i].Date
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		dates = append(dates, d)
	}
	sortDates(dates)
	return dates
}

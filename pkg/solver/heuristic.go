package solver

import (
	"math"

	"github.com/arnavshah/shift-optimizer/pkg/models"
	"github.com/arnavshah/shift-optimizer/pkg/snapshot"
)

// warmStart fills every coverage slot greedily and, when that succeeds,
// completes the remaining columns to get a starting incumbent.
func (m *Model) warmStart() ([]float64, float64, bool) {
	fix, ok := m.greedy()
	if !ok {
		return nil, 0, false
	}
	return m.complete(fix)
}

// complete turns a full x assignment into values for every column. Each y
// column takes 1 when its date is worked. Every slack or deviation column
// sits in exactly one row, so its least value follows from that row alone.
// ok is false when the x assignment breaks a row no continuous column can
// absorb.
func (m *Model) complete(fix []int8) ([]float64, float64, bool) {
	values := make([]float64, len(m.vars))
	for col := range m.candidates {
		if fix[col] == free {
			return nil, 0, false
		}
		values[col] = float64(fix[col])
	}
	for y, cols := range m.workDays {
		if m.fixed[y] == 1 {
			values[y] = 1
			continue
		}
		for _, col := range cols {
			if values[col] > 0.5 {
				values[y] = 1
				break
			}
		}
	}

	for _, r := range m.rows {
		residual := r.rhs
		var up, down *term // continuous columns that raise or lower the row
		for i := range r.terms {
			t := &r.terms[i]
			if m.vars[t.col].binary() {
				residual -= t.coef * values[t.col]
				continue
			}
			if t.coef > 0 {
				up = t
			} else {
				down = t
			}
		}

		var need float64 // signed amount the continuous columns must add
		switch r.sense {
		case lessEq:
			need = math.Min(residual, 0)
		case greaterEq:
			need = math.Max(residual, 0)
		default:
			need = residual
		}
		switch {
		case math.Abs(need) <= primalTol:
		case need > 0 && up != nil:
			values[up.col] = need / up.coef
		case need < 0 && down != nil:
			values[down.col] = need / down.coef
		default:
			return nil, 0, false
		}
	}
	return values, m.objective(values), true
}

// greedy walks the coverage slots in shift order and gives each one to the
// least-loaded eligible employee that breaks no hard pairwise or weekly cap.
func (m *Model) greedy() ([]int8, bool) {
	snap := m.snap
	fix := m.rootFixings()

	hours := make([]float64, len(snap.Employees))
	shifts := make([]int, len(snap.Employees))
	assigned := make([][]int, len(snap.Employees))
	for ei, o := range m.occ {
		hours[ei] = o.hours
		shifts[ei] = len(o.shifts)
		assigned[ei] = append([]int(nil), o.shifts...)
	}
	take := func(col int) {
		c := m.candidates[col]
		hours[c.Employee] += snap.Durations[c.Shift]
		shifts[c.Employee]++
		assigned[c.Employee] = append(assigned[c.Employee], c.Shift)
	}
	for _, col := range m.existing {
		take(col)
	}

	maxShifts, capShifts := snap.Constraints.Hard(models.MaxShiftsPerWeek)
	maxHours, capHours := snap.Constraints.Hard(models.MaxHoursPerWeek)

	conflicts := func(ei, si int) bool {
		for _, other := range assigned[ei] {
			if other == si {
				return true
			}
			p := snapshot.Pair{A: other, B: si}
			if si < other {
				p = snapshot.Pair{A: si, B: other}
			}
			if _, ok := m.conflicts[p]; ok {
				return true
			}
		}
		return false
	}

	for _, g := range m.groups {
		need := g.required
		var candidates []int
		for _, col := range g.cols {
			if fix[col] == 1 {
				need--
				continue
			}
			candidates = append(candidates, col)
		}

		for ; need > 0; need-- {
			best := -1
			for _, col := range candidates {
				if fix[col] != free {
					continue
				}
				c := m.candidates[col]
				d := snap.Durations[c.Shift]
				if conflicts(c.Employee, c.Shift) ||
					(capShifts && float64(shifts[c.Employee]+1) > maxShifts.Value) ||
					(capHours && hours[c.Employee]+d > maxHours.Value) {
					continue
				}
				if best < 0 || m.preferred(col, best, hours) {
					best = col
				}
			}
			if best < 0 {
				return nil, false
			}
			fix[best] = 1
			take(best)
		}
		for _, col := range candidates {
			if fix[col] == free {
				fix[col] = 0
			}
		}
	}

	// x columns of shifts that were already complete stay free otherwise
	for col := range m.candidates {
		if fix[col] == free {
			fix[col] = 0
		}
	}
	return fix, true
}

// preferred orders candidates by assigned hours, then objective coefficient.
func (m *Model) preferred(col, than int, hours []float64) bool {
	a, b := m.candidates[col], m.candidates[than]
	if hours[a.Employee] != hours[b.Employee] {
		return hours[a.Employee] < hours[b.Employee]
	}
	return m.vars[col].obj > m.vars[than].obj
}

package solver

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/arnavshah/shift-optimizer/pkg/models"
)

const (
	integralityTol = 1e-6
	pruneTol       = 1e-7
)

// Assignment is one selected (employee, shift, role) triple
type Assignment struct {
	EmployeeID uint    `json:"employee_id"`
	ShiftID    uint    `json:"shift_id"`
	RoleID     uint    `json:"role_id"`
	Score      float64 `json:"score"`
}

// Solution is the outcome of one solve. MIPGap is +Inf when no bound was proven.
type Solution struct {
	Status         models.SolverStatus
	ObjectiveValue float64
	MIPGap         float64
	Runtime        time.Duration
	Nodes          int
	Assignments    []Assignment
	Message        string
}

type node struct {
	fix   []int8
	bound float64 // relaxation bound of the parent
	depth int
}

type search struct {
	m  *Model
	tb *tableau

	incumbent    []float64
	incumbentObj float64

	nodes       int
	failedBound float64 // best parent bound among nodes whose relaxation failed
	lastErr     error
}

func (s *search) hasIncumbent() bool {
	return s.incumbent != nil
}

// offer rounds the binaries of an integral relaxation, recomputes the
// continuous columns from them and keeps the result when it improves.
func (s *search) offer(values []float64, obj float64) bool {
	if s.hasIncumbent() && obj <= s.incumbentObj+pruneTol {
		return false
	}
	fix := make([]int8, len(values))
	for j, v := range values {
		fix[j] = free
		if s.m.vars[j].binary() {
			fix[j] = int8(math.Round(v))
		}
	}
	if clean, cleanObj, ok := s.m.complete(fix); ok {
		values, obj = clean, cleanObj
		if s.hasIncumbent() && obj <= s.incumbentObj+pruneTol {
			return false
		}
	}
	s.incumbent = values
	s.incumbentObj = obj
	return true
}

// relax solves the LP relaxation with the columns in fix pinned and returns
// every column value and the maximization objective.
func (s *search) relax(ctx context.Context, fix []int8) ([]float64, float64, error) {
	if s.tb == nil {
		values := make([]float64, len(s.m.vars))
		for j, v := range s.m.vars {
			switch {
			case fix[j] != free:
				values[j] = float64(fix[j])
			case v.binary() && v.obj > 0:
				values[j] = 1
			}
		}
		return values, s.m.objective(values), nil
	}
	values, err := s.tb.solve(ctx, fix)
	if err != nil {
		return nil, 0, err
	}
	return values, s.m.objective(values), nil
}

// bestBound is the largest objective any unexplored part of the tree may still reach
func (s *search) bestBound(open []node) float64 {
	bound := math.Inf(-1)
	if s.hasIncumbent() {
		bound = s.incumbentObj
	}
	bound = math.Max(bound, s.failedBound)
	for _, n := range open {
		bound = math.Max(bound, n.bound)
	}
	return bound
}

func (s *search) gap(bound float64) float64 {
	if !s.hasIncumbent() || math.IsInf(bound, 1) {
		return math.Inf(1)
	}
	diff := bound - s.incumbentObj
	if diff <= 0 {
		return 0
	}
	return diff / math.Max(math.Abs(s.incumbentObj), 1e-9)
}

// Solve runs depth-first branch-and-bound until the tree is exhausted, the
// relative gap drops to MIPGap, the time limit passes or ctx is done. The
// deadline is checked between simplex pivots, so Solve returns shortly after
// it with the best incumbent found.
func (m *Model) Solve(ctx context.Context) *Solution {
	start := time.Now()
	if m.opts.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.TimeLimit)
		defer cancel()
	}

	s := &search{m: m, tb: newTableau(m), failedBound: math.Inf(-1)}
	if values, obj, ok := m.warmStart(); ok {
		s.offer(values, obj)
	}

	open := []node{{fix: m.rootFixings(), bound: math.Inf(1)}}
	budgetHit, withinGap, rootFailed := false, false, false

	for len(open) > 0 {
		if ctx.Err() != nil {
			budgetHit = true
			break
		}
		if s.hasIncumbent() && s.gap(s.bestBound(open)) <= m.opts.MIPGap {
			withinGap = true
			break
		}

		n := open[len(open)-1]
		open = open[:len(open)-1]
		if s.hasIncumbent() && n.bound <= s.incumbentObj+pruneTol {
			continue
		}

		values, obj, err := s.relax(ctx, n.fix)
		if ctx.Err() != nil {
			// the node is still open; its bound counts toward the gap
			open = append(open, n)
			budgetHit = true
			break
		}
		s.nodes++
		if errors.Is(err, errNodeInfeasible) {
			continue
		}
		if err != nil {
			s.lastErr = err
			s.failedBound = math.Max(s.failedBound, n.bound)
			if n.depth == 0 {
				rootFailed = true
			}
			continue
		}
		if s.hasIncumbent() && obj <= s.incumbentObj+pruneTol {
			continue
		}

		j := m.branchColumn(values)
		if j < 0 {
			s.offer(values, obj)
			continue
		}
		down := append([]int8(nil), n.fix...)
		down[j] = 0
		up := append([]int8(nil), n.fix...)
		up[j] = 1
		// the up branch is popped first
		open = append(open,
			node{fix: down, bound: obj, depth: n.depth + 1},
			node{fix: up, bound: obj, depth: n.depth + 1})
	}

	sol := &Solution{Runtime: time.Since(start), Nodes: s.nodes, MIPGap: math.Inf(1)}
	exhausted := len(open) == 0 && !budgetHit && !withinGap

	if s.hasIncumbent() {
		sol.ObjectiveValue = s.incumbentObj
		sol.MIPGap = s.gap(s.bestBound(open))
		sol.Assignments = m.extract(s.incumbent)
		switch {
		case exhausted && s.lastErr == nil, sol.MIPGap <= m.opts.MIPGap:
			sol.Status = models.SolverOptimal
		default:
			sol.Status = models.SolverFeasible
		}
		if sol.Status == models.SolverOptimal && exhausted {
			sol.MIPGap = 0
		}
		return sol
	}

	switch {
	case rootFailed || (exhausted && s.lastErr != nil):
		sol.Status = models.SolverError
		sol.Message = s.lastErr.Error()
	case exhausted:
		sol.Status = models.SolverInfeasible
		sol.Message = "no assignment satisfies every hard constraint"
	default:
		sol.Status = models.SolverNoSolutionFound
		sol.Message = "search budget exhausted before a feasible assignment was found"
	}
	return sol
}

func (m *Model) rootFixings() []int8 {
	fix := make([]int8, len(m.vars))
	for j := range fix {
		fix[j] = free
	}
	for _, col := range m.existing {
		fix[col] = 1
	}
	for col, v := range m.fixed {
		fix[col] = v
	}
	return fix
}

// branchColumn picks the most fractional binary column, -1 when values are integral.
func (m *Model) branchColumn(values []float64) int {
	best, bestFrac := -1, integralityTol
	for j, v := range m.vars {
		if !v.binary() {
			continue
		}
		frac := math.Abs(values[j] - math.Round(values[j]))
		if frac > bestFrac {
			best, bestFrac = j, frac
		}
	}
	return best
}

func (m *Model) extract(values []float64) []Assignment {
	var out []Assignment
	for col, c := range m.candidates {
		if values[col] <= 0.5 {
			continue
		}
		out = append(out, Assignment{
			EmployeeID: m.snap.Employees[c.Employee].ID,
			ShiftID:    m.snap.Shifts[c.Shift].ID,
			RoleID:     c.RoleID,
			Score:      c.Score,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ShiftID != out[j].ShiftID {
			return out[i].ShiftID < out[j].ShiftID
		}
		return out[i].EmployeeID < out[j].EmployeeID
	})
	return out
}

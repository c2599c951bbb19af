package solver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	primalTol = 1e-7
	dualTol   = 1e-9
	pivotTol  = 1e-7

	// box caps columns that have no natural upper bound
	box = 1e7

	refreshEvery = 100
)

var (
	errNodeInfeasible = errors.New("relaxation infeasible")
	errIterationLimit = errors.New("simplex iteration limit reached")
	errNumerical      = errors.New("simplex lost numerical stability")
)

// free marks a binary column that is not fixed at a node
const free int8 = -1

// tableau is a bounded-variable dual simplex over the model rows.
//
// Every row i reads sum(a_ij x_j) + s_i = b_i with one logical column s_i:
// [0, box] for <=, the negated surplus [0, box] for >=, and [0, 0] for =.
// The all-logical basis therefore always exists. Every column is bounded on
// both sides, so any basis becomes dual feasible by moving each nonbasic
// column to the bound its reduced cost points at. A node only changes the
// bounds of binary columns; the search keeps one tableau and each relaxation
// restarts from the basis the previous node ended with.
type tableau struct {
	rows       int
	cols       int // model columns followed by the logicals
	structural int

	ab   *mat.Dense // [A | b] as built
	t    *mat.Dense // B^-1 [A | b]
	cost []float64  // minimization costs
	lo   []float64
	up   []float64
	lo0  []float64
	up0  []float64

	head []int  // basic column of each row
	pos  []int  // row of a basic column, -1 when nonbasic
	atUp []bool // nonbasic column sits at its upper bound
	x    []float64
	d    []float64 // reduced costs
	nb   []float64 // nonbasic values with zeros at basic columns

	pivots int // since the last refactor
}

// newTableau returns nil for a model without rows.
func newTableau(m *Model) *tableau {
	rows, structural := len(m.rows), len(m.vars)
	if rows == 0 {
		return nil
	}
	cols := structural + rows
	tb := &tableau{
		rows:       rows,
		cols:       cols,
		structural: structural,
		ab:         mat.NewDense(rows, cols+1, nil),
		cost:       make([]float64, cols),
		lo0:        make([]float64, cols),
		up0:        make([]float64, cols),
		lo:         make([]float64, cols),
		up:         make([]float64, cols),
		head:       make([]int, rows),
		pos:        make([]int, cols),
		atUp:       make([]bool, cols),
		x:          make([]float64, cols),
		d:          make([]float64, cols),
		nb:         make([]float64, cols),
	}

	for j, v := range m.vars {
		tb.cost[j] = -v.obj
		tb.up0[j] = box
		if v.binary() {
			tb.up0[j] = 1
		}
	}
	for i, r := range m.rows {
		for _, t := range r.terms {
			tb.ab.Set(i, t.col, tb.ab.At(i, t.col)+t.coef)
		}
		logical := structural + i
		switch r.sense {
		case lessEq:
			tb.ab.Set(i, logical, 1)
			tb.up0[logical] = box
		case greaterEq:
			tb.ab.Set(i, logical, -1)
			tb.up0[logical] = box
		default:
			tb.ab.Set(i, logical, 1)
		}
		tb.ab.Set(i, cols, r.rhs)
	}
	copy(tb.lo, tb.lo0)
	copy(tb.up, tb.up0)
	tb.reset()
	return tb
}

// reset returns to the all-logical basis
func (tb *tableau) reset() {
	tb.t = mat.DenseCopyOf(tb.ab)
	for j := range tb.pos {
		tb.pos[j] = -1
	}
	for i := 0; i < tb.rows; i++ {
		logical := tb.structural + i
		tb.head[i] = logical
		tb.pos[logical] = i
		if tb.ab.At(i, logical) < 0 {
			floats.Scale(-1, tb.t.RawRowView(i))
		}
	}
	copy(tb.d, tb.cost)
	tb.pivots = 0
}

// solve optimizes the relaxation with fixed binaries pinned by fix and returns
// the model column values. ctx is checked before every pivot.
func (tb *tableau) solve(ctx context.Context, fix []int8) ([]float64, error) {
	copy(tb.lo, tb.lo0)
	copy(tb.up, tb.up0)
	for j, f := range fix {
		if f != free {
			tb.lo[j], tb.up[j] = float64(f), float64(f)
		}
	}

	tb.place()
	err := tb.optimize(ctx)
	if err != nil && !errors.Is(err, errNodeInfeasible) && ctx.Err() == nil {
		// numerical trouble: start over from the logical basis once
		tb.reset()
		tb.place()
		err = tb.optimize(ctx)
	}
	if err != nil {
		return nil, err
	}

	values := make([]float64, tb.structural)
	for j := range values {
		v := math.Max(tb.lo[j], math.Min(tb.up[j], tb.x[j]))
		if v > box/2 {
			return nil, fmt.Errorf("column %d is unbounded in the relaxation", j)
		}
		values[j] = v
	}
	return values, nil
}

// place puts every nonbasic column on the bound its reduced cost asks for and
// recomputes the basic values. Ties keep their current side.
func (tb *tableau) place() {
	for j := 0; j < tb.cols; j++ {
		if tb.pos[j] >= 0 {
			continue
		}
		switch {
		case tb.lo[j] == tb.up[j]:
			tb.atUp[j] = false
		case tb.d[j] < -dualTol:
			tb.atUp[j] = true
		case tb.d[j] > dualTol:
			tb.atUp[j] = false
		}
		if tb.atUp[j] {
			tb.x[j] = tb.up[j]
		} else {
			tb.x[j] = tb.lo[j]
		}
	}
	tb.computeBasic()
}

func (tb *tableau) computeBasic() {
	for j := 0; j < tb.cols; j++ {
		if tb.pos[j] >= 0 {
			tb.nb[j] = 0
		} else {
			tb.nb[j] = tb.x[j]
		}
	}
	for i := 0; i < tb.rows; i++ {
		r := tb.t.RawRowView(i)
		tb.x[tb.head[i]] = r[tb.cols] - floats.Dot(r[:tb.cols], tb.nb)
	}
}

func (tb *tableau) computeDuals() {
	copy(tb.d, tb.cost)
	for i := 0; i < tb.rows; i++ {
		if c := tb.cost[tb.head[i]]; c != 0 {
			floats.AddScaled(tb.d, -c, tb.t.RawRowView(i)[:tb.cols])
		}
	}
	for _, j := range tb.head {
		tb.d[j] = 0
	}
}

// refresh recomputes reduced costs and basic values from the tableau so that
// rounding in the incremental updates does not pile up.
func (tb *tableau) refresh() error {
	tb.computeDuals()
	tb.place()
	tb.pivots = 0
	if floats.HasNaN(tb.x) || floats.HasNaN(tb.d) {
		return errNumerical
	}
	return nil
}

// optimize runs dual simplex iterations until the basic values are within
// their bounds.
func (tb *tableau) optimize(ctx context.Context) error {
	limit := 50 * (tb.rows + tb.cols)
	for iter := 0; iter < limit; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if tb.pivots >= refreshEvery {
			if err := tb.refresh(); err != nil {
				return err
			}
		}
		r, below := tb.leaving()
		if r < 0 {
			return nil
		}
		q := tb.entering(r, below)
		if q < 0 {
			return errNodeInfeasible
		}
		tb.pivot(r, q, below)
	}
	return errIterationLimit
}

// leaving picks the basic column furthest outside its bounds. below reports
// that it sits under its lower bound.
func (tb *tableau) leaving() (int, bool) {
	best, worst, below := -1, primalTol, false
	for i, k := range tb.head {
		v := tb.x[k]
		if gap := tb.lo[k] - v; gap > worst {
			best, worst, below = i, gap, true
		}
		if gap := v - tb.up[k]; gap > worst {
			best, worst, below = i, gap, false
		}
	}
	return best, below
}

// entering runs a two-pass ratio test over row r: the first pass finds the
// largest step that keeps every reduced cost within tolerance, the second
// takes the largest pivot element inside that step.
func (tb *tableau) entering(r int, below bool) int {
	alpha := tb.t.RawRowView(r)[:tb.cols]
	// eligible returns the pivot magnitude when moving column j off its bound
	// pushes the leaving column toward the violated bound.
	eligible := func(j int) (float64, bool) {
		if tb.pos[j] >= 0 || tb.lo[j] == tb.up[j] {
			return 0, false
		}
		a := alpha[j]
		if !below {
			a = -a
		}
		if tb.atUp[j] {
			return a, a > pivotTol
		}
		return -a, a < -pivotTol
	}

	step := math.Inf(1)
	for j := range alpha {
		if a, ok := eligible(j); ok {
			step = math.Min(step, (math.Abs(tb.d[j])+dualTol)/a)
		}
	}
	if math.IsInf(step, 1) {
		return -1
	}

	best, bestAlpha := -1, 0.0
	for j := range alpha {
		if a, ok := eligible(j); ok && math.Abs(tb.d[j])/a <= step && a > bestAlpha {
			best, bestAlpha = j, a
		}
	}
	return best
}

// pivot brings column q into the basis at row r. The leaving column moves to
// its lower bound when below, its upper bound otherwise.
func (tb *tableau) pivot(r, q int, below bool) {
	k := tb.head[r]
	pr := tb.t.RawRowView(r)
	alpha := pr[q]

	theta := tb.d[q] / alpha
	floats.AddScaled(tb.d, -theta, pr[:tb.cols])
	tb.d[q] = 0

	target := tb.up[k]
	if below {
		target = tb.lo[k]
	}
	delta := (tb.x[k] - target) / alpha
	tb.x[q] += delta
	for i, j := range tb.head {
		if f := tb.t.At(i, q); f != 0 {
			tb.x[j] -= f * delta
		}
	}
	tb.x[k] = target

	floats.Scale(1/alpha, pr)
	for i := 0; i < tb.rows; i++ {
		if i == r {
			continue
		}
		ri := tb.t.RawRowView(i)
		if f := ri[q]; f != 0 {
			floats.AddScaled(ri, -f, pr)
		}
	}

	tb.head[r] = q
	tb.pos[q] = r
	tb.pos[k] = -1
	tb.atUp[k] = !below && tb.lo[k] != tb.up[k]
	tb.atUp[q] = false
	tb.pivots++
}

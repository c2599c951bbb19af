package solver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeFix(n int) []int8 {
	fix := make([]int8, n)
	for j := range fix {
		fix[j] = free
	}
	return fix
}

func TestTableau_ContinuousOptimum(t *testing.T) {
	// max 3a + 2b  s.t.  a + b <= 4, a + 3b <= 6, a <= 3
	m := &Model{
		vars: []variable{{kind: continuousVar, obj: 3}, {kind: continuousVar, obj: 2}},
		rows: []row{
			{terms: []term{{0, 1}, {1, 1}}, sense: lessEq, rhs: 4},
			{terms: []term{{0, 1}, {1, 3}}, sense: lessEq, rhs: 6},
			{terms: []term{{0, 1}}, sense: lessEq, rhs: 3},
		},
	}
	tb := newTableau(m)
	values, err := tb.solve(context.Background(), freeFix(2))
	require.NoError(t, err)
	assert.InDelta(t, 3, values[0], 1e-6)
	assert.InDelta(t, 1, values[1], 1e-6)
	assert.InDelta(t, 11, m.objective(values), 1e-6)
}

func TestTableau_ResolvesAfterBoundChanges(t *testing.T) {
	// max 5a + 4b + 3c over binaries with a + b + c <= 2
	m := &Model{
		vars: []variable{{kind: assignVar, obj: 5}, {kind: assignVar, obj: 4}, {kind: assignVar, obj: 3}},
		rows: []row{{terms: []term{{0, 1}, {1, 1}, {2, 1}}, sense: lessEq, rhs: 2}},
	}
	tb := newTableau(m)
	ctx := context.Background()

	cases := []struct {
		name string
		fix  []int8
		want float64
	}{
		{"root", []int8{free, free, free}, 9},
		{"a down", []int8{0, free, free}, 7},
		{"a and b down", []int8{0, 0, free}, 3},
		{"back to root", []int8{free, free, free}, 9},
	}
	for _, tc := range cases {
		values, err := tb.solve(ctx, tc.fix)
		require.NoError(t, err, tc.name)
		assert.InDelta(t, tc.want, m.objective(values), 1e-6, tc.name)
	}

	_, err := tb.solve(ctx, []int8{1, 1, 1})
	assert.ErrorIs(t, err, errNodeInfeasible)
}

func TestTableau_EqualityAndSurplusRows(t *testing.T) {
	// max -a - b  s.t.  a + b = 1.5, a >= 1, over binaries
	m := &Model{
		vars: []variable{{kind: assignVar, obj: -1}, {kind: assignVar, obj: -1}},
		rows: []row{
			{terms: []term{{0, 1}, {1, 1}}, sense: equal, rhs: 1.5},
			{terms: []term{{0, 1}}, sense: greaterEq, rhs: 1},
		},
	}
	values, err := newTableau(m).solve(context.Background(), freeFix(2))
	require.NoError(t, err)
	assert.InDelta(t, 1, values[0], 1e-6)
	assert.InDelta(t, 0.5, values[1], 1e-6)
}

func TestTableau_StopsOnCancelledContext(t *testing.T) {
	m := &Model{
		vars: []variable{{kind: assignVar, obj: 1}, {kind: assignVar, obj: 1}},
		rows: []row{{terms: []term{{0, 1}, {1, 1}}, sense: lessEq, rhs: 1}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTableau(m).solve(ctx, freeFix(2))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewTableau_NoRows(t *testing.T) {
	assert.Nil(t, newTableau(&Model{vars: []variable{{kind: assignVar, obj: 1}}}))
}

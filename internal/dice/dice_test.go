package dice

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded() *Roller {
	return NewRoller(rand.NewPCG(1, 2))
}

func TestRollInRange(t *testing.T) {
	r := seeded()
	for i := 0; i < 1000; i++ {
		res, err := r.Roll(Request{Sides: 20})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Total, 1)
		assert.LessOrEqual(t, res.Total, 20)
		assert.Len(t, res.Rolls, 1)
		assert.Equal(t, "normal", res.Mode)
	}
}

func TestRollAdvantage(t *testing.T) {
	r := seeded()
	for i := 0; i < 500; i++ {
		res, err := r.Roll(Request{Sides: 20, Advantage: true, Offset: 3})
		require.NoError(t, err)
		require.Len(t, res.Rolls, 2)
		for _, v := range res.Rolls {
			assert.GreaterOrEqual(t, v, 1)
			assert.LessOrEqual(t, v, 20)
		}
		assert.Equal(t, max(res.Rolls[0], res.Rolls[1]), res.Kept)
		assert.Equal(t, res.Kept+3, res.Total)
	}
}

func TestRollDisadvantage(t *testing.T) {
	r := seeded()
	for i := 0; i < 500; i++ {
		res, err := r.Roll(Request{Sides: 8, Disadvantage: true, Offset: -1})
		require.NoError(t, err)
		require.Len(t, res.Rolls, 2)
		assert.Equal(t, min(res.Rolls[0], res.Rolls[1]), res.Kept)
		assert.Equal(t, res.Kept-1, res.Total)
	}
}

func TestRollAdvantageAndDisadvantageCancel(t *testing.T) {
	res, err := seeded().Roll(Request{Sides: 20, Advantage: true, Disadvantage: true})
	require.NoError(t, err)
	assert.Equal(t, "normal", res.Mode)
	assert.Len(t, res.Rolls, 1)
}

func TestRollInvalidSides(t *testing.T) {
	for _, sides := range []int{0, -4, MaxSides + 1} {
		_, err := seeded().Roll(Request{Sides: sides})
		assert.True(t, errors.Is(err, ErrInvalidRoll), "sides=%d", sides)
	}
}

func TestResultString(t *testing.T) {
	res := &Result{Sides: 20, Mode: "advantage", Rolls: []int{4, 17}, Kept: 17, Offset: 2, Total: 19}
	assert.Equal(t, "Rolled d20 with advantage [4 17]: 17 + 2 = 19", res.String())

	res = &Result{Sides: 6, Mode: "normal", Rolls: []int{5}, Kept: 5, Total: 5}
	assert.Equal(t, "Rolled d6: 5", res.String())
}

func TestEvaluate(t *testing.T) {
	r := seeded()
	for i := 0; i < 200; i++ {
		eval, err := r.Evaluate("2d6+3")
		require.NoError(t, err)
		require.Len(t, eval.Terms, 1)
		require.Len(t, eval.Terms[0].Rolls, 2)
		assert.Equal(t, eval.Terms[0].Sum+3, eval.Total)
		assert.GreaterOrEqual(t, eval.Total, 5)
		assert.LessOrEqual(t, eval.Total, 15)
	}
}

func TestEvaluateNotations(t *testing.T) {
	tests := []struct {
		notation string
		terms    int
		min, max int
	}{
		{"d20", 1, 1, 20},
		{"1D4 + 1d4", 2, 2, 8},
		{"(d10 + 2) * 2", 1, 6, 24},
		{"10 / 3", 0, 3, 3},
		{"4d6 - 4", 1, 0, 20},
	}

	r := seeded()
	for _, tt := range tests {
		t.Run(tt.notation, func(t *testing.T) {
			eval, err := r.Evaluate(tt.notation)
			require.NoError(t, err)
			assert.Len(t, eval.Terms, tt.terms)
			assert.GreaterOrEqual(t, eval.Total, tt.min)
			assert.LessOrEqual(t, eval.Total, tt.max)
		})
	}
}

func TestEvaluateRejects(t *testing.T) {
	r := seeded()
	for _, notation := range []string{
		"",
		"0d6",
		"101d6",
		"2d0",
		"2d6 + len('x')",
		"1d20; 5",
		"2d6 +",
	} {
		_, err := r.Evaluate(notation)
		assert.True(t, errors.Is(err, ErrInvalidRoll), "notation %q: %v", notation, err)
	}
}

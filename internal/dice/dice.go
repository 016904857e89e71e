// Package dice rolls single dice with advantage rules and evaluates dice notation
package dice

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
)

const (
	MaxSides = 1000
	MaxCount = 100
)

var ErrInvalidRoll = errors.New("invalid roll")

// Request is one die roll. Advantage and disadvantage together cancel out.
type Request struct {
	Sides        int
	Advantage    bool
	Disadvantage bool
	Offset       int
}

// Mode returns how the kept roll is chosen
func (r Request) Mode() string {
	switch {
	case r.Advantage && !r.Disadvantage:
		return "advantage"
	case r.Disadvantage && !r.Advantage:
		return "disadvantage"
	default:
		return "normal"
	}
}

// Result is the outcome of a Request
type Result struct {
	Sides  int    `json:"sides"`
	Mode   string `json:"mode"`
	Rolls  []int  `json:"rolls"`
	Kept   int    `json:"kept"`
	Offset int    `json:"offset"`
	Total  int    `json:"total"`
}

func (r *Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rolled d%d", r.Sides)
	if r.Mode != "normal" {
		fmt.Fprintf(&b, " with %s %v", r.Mode, r.Rolls)
	}
	fmt.Fprintf(&b, ": %d", r.Kept)
	switch {
	case r.Offset > 0:
		fmt.Fprintf(&b, " + %d = %d", r.Offset, r.Total)
	case r.Offset < 0:
		fmt.Fprintf(&b, " - %d = %d", -r.Offset, r.Total)
	}
	return b.String()
}

// Roller is a concurrency-safe source of die rolls
type Roller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRoller creates a roller. A nil source seeds from the runtime.
func NewRoller(src rand.Source) *Roller {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Roller{rng: rand.New(src)}
}

func (r *Roller) die(sides int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return 1 + r.rng.IntN(sides)
}

// Roll rolls one die and applies advantage, disadvantage and offset
func (r *Roller) Roll(req Request) (*Result, error) {
	if req.Sides < 1 || req.Sides > MaxSides {
		return nil, fmt.Errorf("%w: sides must be between 1 and %d, got %d", ErrInvalidRoll, MaxSides, req.Sides)
	}

	res := &Result{Sides: req.Sides, Mode: req.Mode(), Offset: req.Offset}
	res.Rolls = append(res.Rolls, r.die(req.Sides))
	res.Kept = res.Rolls[0]

	if res.Mode != "normal" {
		second := r.die(req.Sides)
		res.Rolls = append(res.Rolls, second)
		if (res.Mode == "advantage" && second > res.Kept) || (res.Mode == "disadvantage" && second < res.Kept) {
			res.Kept = second
		}
	}

	res.Total = res.Kept + req.Offset
	return res, nil
}

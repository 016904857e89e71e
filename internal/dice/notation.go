package dice

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

var (
	termPattern       = regexp.MustCompile(`(\d*)d(\d+)`)
	expressionPattern = regexp.MustCompile(`^[0-9+\-*/() ]+$`)
)

// Term is one NdM group of a notation and what it rolled
type Term struct {
	Notation string `json:"notation"`
	Rolls    []int  `json:"rolls"`
	Sum      int    `json:"sum"`
}

// Evaluation is the outcome of a dice notation such as "2d6+3"
type Evaluation struct {
	Notation   string `json:"notation"`
	Expression string `json:"expression"`
	Terms      []Term `json:"terms"`
	Total      int    `json:"total"`
}

func (e *Evaluation) String() string {
	parts := make([]string, 0, len(e.Terms))
	for _, t := range e.Terms {
		parts = append(parts, fmt.Sprintf("%s %v", t.Notation, t.Rolls))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Rolled %s: %d", e.Notation, e.Total)
	}
	return fmt.Sprintf("Rolled %s (%s): %d", e.Notation, strings.Join(parts, ", "), e.Total)
}

// Evaluate rolls every NdM term in notation and evaluates the remaining
// arithmetic. Fractional totals round down.
func (r *Roller) Evaluate(notation string) (*Evaluation, error) {
	normalized := strings.ToLower(strings.TrimSpace(notation))
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty notation", ErrInvalidRoll)
	}

	eval := &Evaluation{Notation: notation}
	var termErr error

	expression := termPattern.ReplaceAllStringFunc(normalized, func(match string) string {
		if termErr != nil {
			return "0"
		}
		groups := termPattern.FindStringSubmatch(match)

		count := 1
		if groups[1] != "" {
			count, _ = strconv.Atoi(groups[1])
		}
		sides, _ := strconv.Atoi(groups[2])

		if count < 1 || count > MaxCount {
			termErr = fmt.Errorf("%w: %s rolls %d dice, limit is %d", ErrInvalidRoll, match, count, MaxCount)
			return "0"
		}
		if sides < 1 || sides > MaxSides {
			termErr = fmt.Errorf("%w: %s has %d sides, limit is %d", ErrInvalidRoll, match, sides, MaxSides)
			return "0"
		}

		term := Term{Notation: match, Rolls: make([]int, 0, count)}
		for i := 0; i < count; i++ {
			v := r.die(sides)
			term.Rolls = append(term.Rolls, v)
			term.Sum += v
		}
		eval.Terms = append(eval.Terms, term)
		return "(" + strconv.Itoa(term.Sum) + ")"
	})
	if termErr != nil {
		return nil, termErr
	}

	if !expressionPattern.MatchString(expression) {
		return nil, fmt.Errorf("%w: unsupported characters in %q", ErrInvalidRoll, notation)
	}
	eval.Expression = expression

	out, err := expr.Eval(expression, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoll, err)
	}

	switch v := out.(type) {
	case int:
		eval.Total = v
	case float64:
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, fmt.Errorf("%w: %q does not evaluate to a finite number", ErrInvalidRoll, notation)
		}
		eval.Total = int(math.Floor(v))
	default:
		return nil, fmt.Errorf("%w: %q evaluated to %T", ErrInvalidRoll, notation, out)
	}
	return eval, nil
}

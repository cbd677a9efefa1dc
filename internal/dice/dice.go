// Package dice implements dice expressions and the rollers that resolve them.
package dice

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMissingDice indicates a roll request had no dice specified.
var ErrMissingDice = errors.New("at least one die must be provided")

// ErrInvalidDiceSpec indicates a die specification has invalid fields.
var ErrInvalidDiceSpec = errors.New("dice must have positive sides and count")

// ErrInvalidExpression indicates a dice string could not be parsed.
var ErrInvalidExpression = errors.New("invalid dice expression")

// ErrUnknownDieKind indicates a die kind outside d4..d100.
var ErrUnknownDieKind = errors.New("unknown die kind")

// Roller is the source of randomness every resolver draws from.
// IntN returns a value in [0, n); Float64 returns a value in [0, 1).
type Roller interface {
	IntN(n int) int
	Float64() float64
}

// DieKinds lists the die sizes accepted by RollDie, smallest first.
var DieKinds = []int{4, 6, 8, 10, 12, 20, 100}

// DiceSpec describes a die to roll and how many times to roll it.
type DiceSpec struct {
	Sides int
	Count int
}

// DieRoll captures the results for a single dice spec.
type DieRoll struct {
	Sides   int   `json:"sides"`
	Results []int `json:"results"`
	Total   int   `json:"total"`
}

// RollResult captures the results from rolling multiple dice.
type RollResult struct {
	Rolls    []DieRoll `json:"rolls"`
	Modifier int       `json:"modifier"`
	Total    int       `json:"total"`
}

// RollDice rolls each spec in order. Total is the sum of every die rolled.
func RollDice(r Roller, specs ...DiceSpec) (RollResult, error) {
	if len(specs) == 0 {
		return RollResult{}, ErrMissingDice
	}

	rolls := make([]DieRoll, 0, len(specs))
	total := 0
	for _, spec := range specs {
		if spec.Sides <= 0 || spec.Count <= 0 {
			return RollResult{}, ErrInvalidDiceSpec
		}

		results := make([]int, spec.Count)
		rollTotal := 0
		for i := 0; i < spec.Count; i++ {
			value := Roll(r, spec.Sides)
			results[i] = value
			rollTotal += value
		}
		rolls = append(rolls, DieRoll{Sides: spec.Sides, Results: results, Total: rollTotal})
		total += rollTotal
	}

	return RollResult{Rolls: rolls, Total: total}, nil
}

// Roll rolls a single die with the provided number of sides.
func Roll(r Roller, sides int) int {
	return r.IntN(sides) + 1
}

// D20 rolls a twenty-sided die.
func D20(r Roller) int {
	return Roll(r, 20)
}

// AbilityModifier returns floor((score - 10) / 2).
func AbilityModifier(score int) int {
	d := score - 10
	if d < 0 {
		return -((-d + 1) / 2)
	}
	return d / 2
}

// Expression is a parsed "NdS+M" dice string.
type Expression struct {
	Count    int
	Sides    int
	Modifier int
}

// ParseExpression parses strings such as "1d8", "d20", "2d6+3" and "1d4-1".
func ParseExpression(s string) (Expression, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	idx := strings.IndexByte(raw, 'd')
	if idx < 0 {
		return Expression{}, fmt.Errorf("%w: %q", ErrInvalidExpression, s)
	}

	expr := Expression{Count: 1}
	if idx > 0 {
		count, err := strconv.Atoi(raw[:idx])
		if err != nil {
			return Expression{}, fmt.Errorf("%w: %q", ErrInvalidExpression, s)
		}
		expr.Count = count
	}

	rest := raw[idx+1:]
	if cut := strings.IndexAny(rest, "+-"); cut >= 0 {
		mod, err := strconv.Atoi(rest[cut:])
		if err != nil {
			return Expression{}, fmt.Errorf("%w: %q", ErrInvalidExpression, s)
		}
		expr.Modifier = mod
		rest = rest[:cut]
	}

	sides, err := strconv.Atoi(rest)
	if err != nil {
		return Expression{}, fmt.Errorf("%w: %q", ErrInvalidExpression, s)
	}
	expr.Sides = sides

	if expr.Count <= 0 || expr.Sides <= 0 {
		return Expression{}, ErrInvalidDiceSpec
	}
	return expr, nil
}

// Roll resolves the expression against r.
func (e Expression) Roll(r Roller) (RollResult, error) {
	result, err := RollDice(r, DiceSpec{Sides: e.Sides, Count: e.Count})
	if err != nil {
		return RollResult{}, err
	}
	result.Modifier = e.Modifier
	result.Total += e.Modifier
	return result, nil
}

func (e Expression) String() string {
	s := fmt.Sprintf("%dd%d", e.Count, e.Sides)
	switch {
	case e.Modifier > 0:
		s += "+" + strconv.Itoa(e.Modifier)
	case e.Modifier < 0:
		s += strconv.Itoa(e.Modifier)
	}
	return s
}

// ParseDieKind accepts "d4" through "d100" and returns the number of sides.
func ParseDieKind(kind string) (int, error) {
	raw := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(kind)), "d")
	sides, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownDieKind, kind)
	}
	for _, k := range DieKinds {
		if k == sides {
			return sides, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDieKind, kind)
}

// RollDie rolls one die of the given kind and adds modifier.
func RollDie(r Roller, kind string, modifier int) (RollResult, error) {
	sides, err := ParseDieKind(kind)
	if err != nil {
		return RollResult{}, err
	}
	return Expression{Count: 1, Sides: sides, Modifier: modifier}.Roll(r)
}

package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Amount is a monetary figure decoded from tool arguments. Models send
// amounts as JSON numbers or as strings such as "750,000"; both decode.
type Amount float64

// UnmarshalJSON accepts a number or a numeric string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := ParseAmount(s)
		if err != nil {
			return err
		}
		*a = Amount(v)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%w: %s is not a number", ErrInvalidAmount, data)
	}
	*a = Amount(f)
	return nil
}

// ParseAmount parses a numeric string, ignoring thousands separators,
// underscores and surrounding whitespace.
func ParseAmount(s string) (float64, error) {
	clean := strings.NewReplacer(",", "", "_", "", " ", "").Replace(strings.TrimSpace(s))
	if clean == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidAmount)
	}
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, s)
	}
	return v, nil
}

// Goal is a savings goal: either an absolute amount or a percentage of
// income.
type Goal struct {
	Value   float64
	Percent bool
}

// ParseGoal parses "40%", "300000" or "300,000".
func ParseGoal(s string) (Goal, error) {
	s = strings.TrimSpace(s)
	if pct, ok := strings.CutSuffix(s, "%"); ok {
		v, err := ParseAmount(pct)
		if err != nil {
			return Goal{}, err
		}
		return Goal{Value: v, Percent: true}, nil
	}
	v, err := ParseAmount(s)
	if err != nil {
		return Goal{}, err
	}
	return Goal{Value: v}, nil
}

// Resolve returns the goal as an absolute amount of income.
func (g Goal) Resolve(income float64) float64 {
	if g.Percent {
		return g.Value / 100 * income
	}
	return g.Value
}

// String renders the goal the way a user would type it.
func (g Goal) String() string {
	v := strconv.FormatFloat(g.Value, 'f', -1, 64)
	if g.Percent {
		return v + "%"
	}
	return v
}

// UnmarshalJSON accepts a number, a numeric string or a percentage string.
func (g *Goal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseGoal(s)
		if err != nil {
			return err
		}
		*g = parsed
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%w: savings goal %s is not a number or percentage", ErrInvalidAmount, data)
	}
	*g = Goal{Value: f}
	return nil
}

// FormatMoney renders an amount with thousands separators and two
// decimals: 750000 becomes "750,000.00".
func FormatMoney(v float64) string {
	return humanize.FormatFloat("#,###.##", v)
}

// numberList decodes an array of amounts. Some models encode the whole
// array as a JSON string, so that form is unwrapped first.
type numberList []float64

func (n *numberList) UnmarshalJSON(data []byte) error {
	data, err := unwrapJSONString(data)
	if err != nil {
		return err
	}
	var raw []Amount
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: numbers must be a list: %v", ErrInvalidArgument, err)
	}
	out := make([]float64, len(raw))
	for i, a := range raw {
		out[i] = float64(a)
	}
	*n = out
	return nil
}

// expenseList decodes a list of expenses, unwrapping a JSON string the
// same way numberList does.
type expenseList []Expense

func (e *expenseList) UnmarshalJSON(data []byte) error {
	data, err := unwrapJSONString(data)
	if err != nil {
		return err
	}
	var raw []Expense
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: expenses must be a list of {amount, category}: %v", ErrInvalidArgument, err)
	}
	*e = raw
	return nil
}

func unwrapJSONString(data []byte) ([]byte, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '"' {
		return data, nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return []byte(s), nil
}

package turn

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultDieSides applies when the model omits the die type.
const DefaultDieSides = 20

// maxDieSides rejects absurd bounds that would make the roll prompt useless.
const maxDieSides = 1000

// ErrInvalidDieType is returned for die types with no usable upper bound.
var ErrInvalidDieType = errors.New("invalid die type")

// DiceRequest is a model-issued prompt for a number in [1, UpperBound].
type DiceRequest struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	UpperBound  int    `json:"upper_bound"`
}

// ParseDieType reads the upper bound from "D20", "d6", "1d20" or "20".
// An empty type means a D20.
func ParseDieType(dieType string) (int, error) {
	s := strings.ToUpper(strings.TrimSpace(dieType))
	if s == "" {
		return DefaultDieSides, nil
	}
	s = strings.TrimPrefix(s, "1D")
	s = strings.TrimPrefix(s, "D")

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w %q", ErrInvalidDieType, dieType)
	}
	if n < 1 || n > maxDieSides {
		return 0, fmt.Errorf("%w %q: sides out of range", ErrInvalidDieType, dieType)
	}
	return n, nil
}

// DieType renders a bound in the "D20" form used in prompts and logs.
func DieType(bound int) string {
	if bound <= 0 {
		bound = DefaultDieSides
	}
	return "D" + strconv.Itoa(bound)
}

// flexInt accepts a JSON number or a numeric string. Anything else, null
// included, counts as zero.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	s = strings.TrimSpace(s)
	if s == "" {
		*f = 0
		return nil
	}
	if n, err := strconv.Atoi(strings.TrimPrefix(s, "+")); err == nil {
		*f = flexInt(n)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(int(v))
	return nil
}

// flexBool accepts a JSON boolean, "true"/"false" strings or null.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	switch strings.ToLower(s) {
	case "true":
		*f = true
	case "false", "null", "":
		*f = false
	default:
		return fmt.Errorf("not a boolean: %s", s)
	}
	return nil
}

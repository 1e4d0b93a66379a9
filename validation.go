package xlas

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValidationKind selects the rule checked against literal input.
type ValidationKind uint8

const (
	ValidateNumber ValidationKind = iota + 1 // any numeric literal
	ValidateText                             // anything that is not numeric
	ValidateRange                            // numeric within [Min, Max], optionally integral
	ValidateSet                              // member of an enumerated set (case-insensitive)
)

// ValidationRule constrains input to a cell. The raw text is checked as
// typed, formula text included. Min/Max are open-ended when nil.
type ValidationRule struct {
	Kind    ValidationKind
	Min     *float64
	Max     *float64
	Integer bool     // with ValidateRange: require an integral value
	Allowed []string // with ValidateSet
}

// Check reports whether the literal input satisfies the rule.
func (r *ValidationRule) Check(input string) bool {
	switch r.Kind {
	case ValidateNumber:
		_, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
		return err == nil

	case ValidateText:
		_, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
		return err != nil

	case ValidateRange:
		n, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
		if err != nil {
			return false
		}
		if r.Integer && n != math.Trunc(n) {
			return false
		}
		if r.Min != nil && n < *r.Min {
			return false
		}
		if r.Max != nil && n > *r.Max {
			return false
		}
		return true

	case ValidateSet:
		for _, allowed := range r.Allowed {
			if strings.EqualFold(allowed, strings.TrimSpace(input)) {
				return true
			}
		}
		return false
	}
	return true
}

func (r *ValidationRule) describe() string {
	switch r.Kind {
	case ValidateNumber:
		return "number required"
	case ValidateText:
		return "text required"
	case ValidateRange:
		lo, hi := "-inf", "+inf"
		if r.Min != nil {
			lo = formatNumber(*r.Min)
		}
		if r.Max != nil {
			hi = formatNumber(*r.Max)
		}
		kind := "number"
		if r.Integer {
			kind = "integer"
		}
		return fmt.Sprintf("%s in [%s, %s] required", kind, lo, hi)
	case ValidateSet:
		return fmt.Sprintf("one of %s required", strings.Join(r.Allowed, ", "))
	}
	return "unconstrained"
}

package xlas

import (
	"math"
	"strconv"
	"strings"
)

// ErrorKind identifies a formula error value. Error values are data: they
// live in cells and flow through dependents, they are never raised as Go
// errors across the public API.
type ErrorKind uint8

const (
	ErrKindValue    ErrorKind = 1 // #VALUE! - wrong type of argument or operand
	ErrKindDiv0     ErrorKind = 2 // #DIV/0! - division by zero
	ErrKindCircular ErrorKind = 3 // #CIRC! - cell participates in or is isolated behind a reference cycle
	ErrKindName     ErrorKind = 4 // #NAME? - unrecognized function, table or named range
	ErrKindRef      ErrorKind = 5 // #REF! - reference into a removed sheet or invalid coordinate
	ErrKindParse    ErrorKind = 6 // #PARSE! - formula text did not parse
)

var errorKindLabels = map[ErrorKind]string{
	ErrKindValue:    "#VALUE!",
	ErrKindDiv0:     "#DIV/0!",
	ErrKindCircular: "#CIRC!",
	ErrKindName:     "#NAME?",
	ErrKindRef:      "#REF!",
	ErrKindParse:    "#PARSE!",
}

// String returns the display label for the error kind.
func (k ErrorKind) String() string {
	if label, ok := errorKindLabels[k]; ok {
		return label
	}
	return "#ERROR!"
}

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	KindEmpty ValueKind = iota
	KindNumber
	KindText
	KindBool
	KindError
)

// Value is the tagged variant every cell computation produces. Exactly one
// payload field is meaningful, selected by Kind. Consumers must switch on
// Kind rather than sniffing payloads.
type Value struct {
	Kind ValueKind
	Num  float64
	Str  string
	Bool bool
	Err  ErrorKind
}

func Empty() Value              { return Value{Kind: KindEmpty} }
func Number(n float64) Value    { return Value{Kind: KindNumber, Num: n} }
func Text(s string) Value       { return Value{Kind: KindText, Str: s} }
func Boolean(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func ErrorOf(k ErrorKind) Value { return Value{Kind: KindError, Err: k} }

// IsError reports whether the value is an error of any kind.
func (v Value) IsError() bool { return v.Kind == KindError }

// IsEmpty reports whether the value is the empty variant.
func (v Value) IsEmpty() bool { return v.Kind == KindEmpty }

// Display renders the value the way a grid cell shows it.
func (v Value) Display() string {
	switch v.Kind {
	case KindEmpty:
		return ""
	case KindNumber:
		return formatNumber(v.Num)
	case KindText:
		return v.Str
	case KindBool:
		if v.Bool {
			return "TRUE"
		}
		return "FALSE"
	case KindError:
		return v.Err.String()
	}
	return ""
}

// formatNumber renders a float without trailing decimal noise.
func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// AsNumber applies the arithmetic coercion rules: numbers pass through,
// booleans map to 0/1, numeric-looking text parses, Empty coerces to 0.
// The second result is false when the value cannot serve as a number.
func (v Value) AsNumber() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	case KindText:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case KindEmpty:
		return 0, true
	}
	return 0, false
}

// AsText renders the value for concatenation contexts.
func (v Value) AsText() string {
	if v.Kind == KindText {
		return v.Str
	}
	return v.Display()
}

// Equal compares two values for the spreadsheet '=' operator: same-kind
// payload equality, with numeric text comparing as text (coercion applies
// only in arithmetic contexts).
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindEmpty:
		return true
	case KindNumber:
		return v.Num == o.Num
	case KindText:
		return strings.EqualFold(v.Str, o.Str)
	case KindBool:
		return v.Bool == o.Bool
	case KindError:
		return v.Err == o.Err
	}
	return false
}

// compareValues orders two values for the relational operators. Returns
// -1/0/1, or incomparable=true when the operands have no defined ordering
// (mixed kinds other than number-vs-numeric-text).
func compareValues(a, b Value) (cmp int, incomparable bool) {
	an, aok := a.AsNumber()
	bn, bok := b.AsNumber()
	if aok && bok {
		switch {
		case an < bn:
			return -1, false
		case an > bn:
			return 1, false
		}
		return 0, false
	}

	if a.Kind == KindText && b.Kind == KindText {
		as, bs := strings.ToLower(a.Str), strings.ToLower(b.Str)
		switch {
		case as < bs:
			return -1, false
		case as > bs:
			return 1, false
		}
		return 0, false
	}

	if a.Kind == KindBool && b.Kind == KindBool {
		switch {
		case a.Bool == b.Bool:
			return 0, false
		case !a.Bool:
			return -1, false
		}
		return 1, false
	}

	return 0, true
}

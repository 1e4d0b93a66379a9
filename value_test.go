package xlas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueDisplay(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{Empty(), ""},
		{Number(42), "42"},
		{Number(2.5), "2.5"},
		{Number(-0.125), "-0.125"},
		{Number(1e20), "1e+20"},
		{Text("hello"), "hello"},
		{Boolean(true), "TRUE"},
		{Boolean(false), "FALSE"},
		{ErrorOf(ErrKindDiv0), "#DIV/0!"},
		{ErrorOf(ErrKindCircular), "#CIRC!"},
		{ErrorOf(ErrKindName), "#NAME?"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.v.Display())
	}
}

func TestValueAsNumber(t *testing.T) {
	n, ok := Number(3.5).AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 3.5, n)

	n, ok = Text(" 12 ").AsNumber()
	assert.True(t, ok, "numeric text coerces")
	assert.Equal(t, 12.0, n)

	_, ok = Text("twelve").AsNumber()
	assert.False(t, ok)

	n, ok = Empty().AsNumber()
	assert.True(t, ok, "blank coerces to zero")
	assert.Zero(t, n)

	n, ok = Boolean(true).AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 1.0, n)
}

func TestValueEqualIsKindStrict(t *testing.T) {
	assert.True(t, Text("ABC").Equal(Text("abc")), "text equality folds case")
	assert.False(t, Number(1).Equal(Text("1")), "no cross-kind coercion under '='")
	assert.True(t, Empty().Equal(Empty()))
	assert.True(t, ErrorOf(ErrKindRef).Equal(ErrorOf(ErrKindRef)))
	assert.False(t, ErrorOf(ErrKindRef).Equal(ErrorOf(ErrKindName)))
}

func TestCompareValues(t *testing.T) {
	cmp, bad := compareValues(Number(1), Number(2))
	assert.False(t, bad)
	assert.Equal(t, -1, cmp)

	cmp, bad = compareValues(Number(5), Text("5"))
	assert.False(t, bad, "numeric text is comparable to a number")
	assert.Equal(t, 0, cmp)

	cmp, bad = compareValues(Text("a"), Text("B"))
	assert.False(t, bad)
	assert.Equal(t, -1, cmp, "text comparison folds case")

	_, bad = compareValues(Number(1), Text("x"))
	assert.True(t, bad)
}

func TestBuiltinsDirect(t *testing.T) {
	vals := []Value{Number(1), Empty(), Text("x"), Number(3)}
	assert.Equal(t, Number(4), fnSum(vals))
	assert.Equal(t, Number(2), fnAverage(vals))
	assert.Equal(t, Number(1), fnMin(vals))
	assert.Equal(t, Number(3), fnMax(vals))
	assert.Equal(t, Number(2), fnCount(vals))
	assert.Equal(t, Number(1), fnCount([]Value{Number(0), Number(5), Empty()}), "zeros are not counted")

	none := []Value{Text("a"), Empty()}
	assert.Equal(t, ErrorOf(ErrKindDiv0), fnAverage(none))
	assert.Equal(t, ErrorOf(ErrKindValue), fnMin(none))
	assert.Equal(t, ErrorOf(ErrKindValue), fnMax(none))
	assert.Equal(t, Number(0), fnSum(none))

	assert.Equal(t, ErrorOf(ErrKindName), callBuiltin("BOGUS", nil))
}

func TestValidationRuleCheck(t *testing.T) {
	assert.True(t, (&ValidationRule{Kind: ValidateNumber}).Check("3.5"))
	assert.False(t, (&ValidationRule{Kind: ValidateNumber}).Check("abc"))
	assert.True(t, (&ValidationRule{Kind: ValidateText}).Check("abc"))
	assert.False(t, (&ValidationRule{Kind: ValidateText}).Check("42"))

	lo, hi := 0.0, 10.0
	ranged := &ValidationRule{Kind: ValidateRange, Min: &lo, Max: &hi, Integer: true}
	assert.True(t, ranged.Check("7"))
	assert.False(t, ranged.Check("15"))
	assert.False(t, ranged.Check("7.5"))
	assert.False(t, ranged.Check("-1"))

	set := &ValidationRule{Kind: ValidateSet, Allowed: []string{"Red", "Blue"}}
	assert.True(t, set.Check("red"))
	assert.False(t, set.Check("green"))
}

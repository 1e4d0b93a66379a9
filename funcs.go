package xlas

// builtinFunc aggregates an already-flattened, error-free argument list.
type builtinFunc func(args []Value) Value

// builtins maps upper-cased function names to implementations and minimum
// argument counts. Everything here is variadic beyond the minimum.
var builtins = map[string]struct {
	fn      builtinFunc
	minArgs int
}{
	"SUM":     {fnSum, 1},
	"AVERAGE": {fnAverage, 1},
	"MIN":     {fnMin, 1},
	"MAX":     {fnMax, 1},
	"COUNT":   {fnCount, 1},
}

// callBuiltin dispatches a function by name. Unknown names are a name error,
// not a parse failure, so stored formulas survive function typos.
func callBuiltin(name string, args []Value) Value {
	entry, ok := builtins[name]
	if !ok {
		return ErrorOf(ErrKindName)
	}
	return entry.fn(args)
}

// builtinMinArgs reports a known builtin's minimum argument count so the
// parser can reject calls like SUM() up front.
func builtinMinArgs(name string) (int, bool) {
	entry, ok := builtins[name]
	if !ok {
		return 0, false
	}
	return entry.minArgs, true
}

// numericEntries filters the numeric values out of an argument list. Blanks,
// text and booleans are skipped, the way aggregation over a mixed range is
// expected to behave.
func numericEntries(args []Value) []float64 {
	nums := make([]float64, 0, len(args))
	for _, v := range args {
		if v.Kind == KindNumber {
			nums = append(nums, v.Num)
		}
	}
	return nums
}

func fnSum(args []Value) Value {
	total := 0.0
	for _, n := range numericEntries(args) {
		total += n
	}
	return Number(total)
}

func fnAverage(args []Value) Value {
	nums := numericEntries(args)
	if len(nums) == 0 {
		return ErrorOf(ErrKindDiv0)
	}
	total := 0.0
	for _, n := range nums {
		total += n
	}
	return Number(total / float64(len(nums)))
}

func fnMin(args []Value) Value {
	nums := numericEntries(args)
	if len(nums) == 0 {
		return ErrorOf(ErrKindValue)
	}
	least := nums[0]
	for _, n := range nums[1:] {
		if n < least {
			least = n
		}
	}
	return Number(least)
}

func fnMax(args []Value) Value {
	nums := numericEntries(args)
	if len(nums) == 0 {
		return ErrorOf(ErrKindValue)
	}
	most := nums[0]
	for _, n := range nums[1:] {
		if n > most {
			most = n
		}
	}
	return Number(most)
}

// fnCount counts non-zero numeric entries.
func fnCount(args []Value) Value {
	count := 0
	for _, n := range numericEntries(args) {
		if n != 0 {
			count++
		}
	}
	return Number(float64(count))
}

package xlas

import (
	"fmt"
	"math"
	"strings"
)

// EvalContext supplies everything a formula needs from the outside world.
// The evaluator itself never triggers recalculation: Resolve must hand back
// already-committed values, ordering is the scheduler's job.
type EvalContext struct {
	// CurrentSheet is the sheet owning the formula; unqualified references
	// resolve against it.
	CurrentSheet uint32

	// Resolve returns the committed Value at a coordinate. Coordinates on
	// removed sheets resolve to ErrorOf(ErrKindRef), untouched coordinates
	// to Empty().
	Resolve func(Coord) Value

	// Bounds returns the used extent of a sheet so open-ended ranges are
	// not walked past materialized content.
	Bounds func(sheet uint32) (rows, cols uint32, ok bool)

	// NamedRange resolves a sheet-scoped named range.
	NamedRange func(sheet uint32, name string) (RangeAddress, bool)

	// TableColumn resolves a structured reference to the body range under
	// a table header.
	TableColumn func(table, column string) (RangeAddress, bool)
}

// Node is one vertex of a parsed formula. Trees are immutable once built
// and owned by their cell.
type Node interface {
	// Eval computes the node's scalar value. Errors are Values, never Go
	// errors; rectangular references collapse only when they are 1x1.
	Eval(ctx *EvalContext) Value

	// String renders a canonical form of the node, used for debugging and
	// AST comparison in tests.
	String() string
}

// BinaryOp enumerates the binary operators.
type BinaryOp uint8

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpPow
	OpConcat
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

var binaryOpText = map[BinaryOp]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpPow: "^",
	OpConcat: "&", OpEq: "=", OpNe: "<>", OpLt: "<", OpLe: "<=",
	OpGt: ">", OpGe: ">=",
}

// UnaryOp enumerates the prefix operators.
type UnaryOp uint8

const (
	OpNeg UnaryOp = iota
	OpPos
)

// LiteralNode holds a number, text or boolean literal.
type LiteralNode struct {
	Val Value
	Pos int
}

func (n *LiteralNode) Eval(ctx *EvalContext) Value { return n.Val }

func (n *LiteralNode) String() string {
	if n.Val.Kind == KindText {
		return `"` + strings.ReplaceAll(n.Val.Str, `"`, `""`) + `"`
	}
	return n.Val.Display()
}

// CellRefNode is a single-cell reference. Sheet is the interned sheet ID
// (0 means the formula's own sheet). The absolute flags are round-trip and
// sort-adjustment metadata only; evaluation ignores them.
type CellRefNode struct {
	Sheet  uint32
	Row    uint32
	Col    uint32
	AbsRow bool
	AbsCol bool
	Pos    int
}

func (n *CellRefNode) coord(ctx *EvalContext) Coord {
	sheet := n.Sheet
	if sheet == 0 {
		sheet = ctx.CurrentSheet
	}
	return Coord{Sheet: sheet, Row: n.Row, Col: n.Col}
}

func (n *CellRefNode) Eval(ctx *EvalContext) Value {
	return ctx.Resolve(n.coord(ctx))
}

func (n *CellRefNode) String() string {
	var b strings.Builder
	if n.Sheet != 0 {
		fmt.Fprintf(&b, "sheet[%d]!", n.Sheet)
	}
	if n.AbsCol {
		b.WriteByte('$')
	}
	b.WriteString(ColName(n.Col))
	if n.AbsRow {
		b.WriteByte('$')
	}
	fmt.Fprintf(&b, "%d", n.Row+1)
	return b.String()
}

// RangeRefNode is a rectangular reference, stored normalized top-left to
// bottom-right regardless of the written corner order. The four absolute
// flags follow the normalized corners.
type RangeRefNode struct {
	Sheet                    uint32
	StartRow, StartCol       uint32
	EndRow, EndCol           uint32
	AbsStartRow, AbsStartCol bool
	AbsEndRow, AbsEndCol     bool
	Pos                      int
}

func (n *RangeRefNode) address(ctx *EvalContext) RangeAddress {
	sheet := n.Sheet
	if sheet == 0 {
		sheet = ctx.CurrentSheet
	}
	return RangeAddress{
		Sheet:    sheet,
		StartRow: n.StartRow, StartCol: n.StartCol,
		EndRow: n.EndRow, EndCol: n.EndCol,
	}
}

func (n *RangeRefNode) Eval(ctx *EvalContext) Value {
	return evalRangeScalar(ctx, n.address(ctx))
}

func (n *RangeRefNode) String() string {
	corner := func(row, col uint32, absRow, absCol bool) string {
		var b strings.Builder
		if absCol {
			b.WriteByte('$')
		}
		b.WriteString(ColName(col))
		if absRow {
			b.WriteByte('$')
		}
		fmt.Fprintf(&b, "%d", row+1)
		return b.String()
	}
	prefix := ""
	if n.Sheet != 0 {
		prefix = fmt.Sprintf("sheet[%d]!", n.Sheet)
	}
	return prefix +
		corner(n.StartRow, n.StartCol, n.AbsStartRow, n.AbsStartCol) + ":" +
		corner(n.EndRow, n.EndCol, n.AbsEndRow, n.AbsEndCol)
}

// NamedRangeNode references a sheet-scoped named range by name. Resolved at
// evaluation time so redefinitions take effect without re-parsing.
type NamedRangeNode struct {
	Name string
	Pos  int
}

func (n *NamedRangeNode) Eval(ctx *EvalContext) Value {
	addr, ok := ctx.NamedRange(ctx.CurrentSheet, n.Name)
	if !ok {
		return ErrorOf(ErrKindName)
	}
	return evalRangeScalar(ctx, addr)
}

func (n *NamedRangeNode) String() string { return n.Name }

// StructRefNode is a Table[Header] reference resolving to the body column
// under the named header.
type StructRefNode struct {
	Table  string
	Column string
	Pos    int
}

func (n *StructRefNode) Eval(ctx *EvalContext) Value {
	addr, ok := ctx.TableColumn(n.Table, n.Column)
	if !ok {
		return ErrorOf(ErrKindName)
	}
	return evalRangeScalar(ctx, addr)
}

func (n *StructRefNode) String() string {
	return n.Table + "[" + n.Column + "]"
}

// FunctionNode is a call with an ordered argument list. Unknown names
// survive parsing and surface as Error(Name) here.
type FunctionNode struct {
	Name string
	Args []Node
	Pos  int
}

func (n *FunctionNode) Eval(ctx *EvalContext) Value {
	flat := make([]Value, 0, len(n.Args))
	for _, arg := range n.Args {
		vals, errVal := expandArg(ctx, arg)
		if errVal.IsError() {
			return errVal
		}
		flat = append(flat, vals...)
	}
	return callBuiltin(n.Name, flat)
}

func (n *FunctionNode) String() string {
	parts := make([]string, len(n.Args))
	for i, a := range n.Args {
		parts[i] = a.String()
	}
	return n.Name + "(" + strings.Join(parts, ",") + ")"
}

// BinaryNode applies a binary operator with left-to-right first-error-wins
// propagation.
type BinaryNode struct {
	Op    BinaryOp
	Left  Node
	Right Node
	Pos   int
}

func (n *BinaryNode) Eval(ctx *EvalContext) Value {
	left := n.Left.Eval(ctx)
	if left.IsError() {
		return left
	}
	right := n.Right.Eval(ctx)
	if right.IsError() {
		return right
	}

	switch n.Op {
	case OpAdd, OpSub, OpMul, OpDiv, OpPow:
		return evalArithmetic(n.Op, left, right)
	case OpConcat:
		return Text(left.AsText() + right.AsText())
	case OpEq:
		return Boolean(left.Equal(right))
	case OpNe:
		return Boolean(!left.Equal(right))
	case OpLt, OpLe, OpGt, OpGe:
		cmp, incomparable := compareValues(left, right)
		if incomparable {
			return ErrorOf(ErrKindValue)
		}
		switch n.Op {
		case OpLt:
			return Boolean(cmp < 0)
		case OpLe:
			return Boolean(cmp <= 0)
		case OpGt:
			return Boolean(cmp > 0)
		default:
			return Boolean(cmp >= 0)
		}
	}
	return ErrorOf(ErrKindValue)
}

func (n *BinaryNode) String() string {
	return "(" + n.Left.String() + binaryOpText[n.Op] + n.Right.String() + ")"
}

// UnaryNode applies a prefix sign.
type UnaryNode struct {
	Op      UnaryOp
	Operand Node
	Pos     int
}

func (n *UnaryNode) Eval(ctx *EvalContext) Value {
	v := n.Operand.Eval(ctx)
	if v.IsError() {
		return v
	}
	num, ok := v.AsNumber()
	if !ok {
		return ErrorOf(ErrKindValue)
	}
	if n.Op == OpNeg {
		return Number(-num)
	}
	return Number(num)
}

func (n *UnaryNode) String() string {
	if n.Op == OpNeg {
		return "-" + n.Operand.String()
	}
	return "+" + n.Operand.String()
}

// evalArithmetic applies coercion per the arithmetic rules: blanks are 0,
// numeric text converts, anything else is a #VALUE!.
func evalArithmetic(op BinaryOp, left, right Value) Value {
	l, lok := left.AsNumber()
	if !lok {
		return ErrorOf(ErrKindValue)
	}
	r, rok := right.AsNumber()
	if !rok {
		return ErrorOf(ErrKindValue)
	}

	switch op {
	case OpAdd:
		return Number(l + r)
	case OpSub:
		return Number(l - r)
	case OpMul:
		return Number(l * r)
	case OpDiv:
		if r == 0 {
			return ErrorOf(ErrKindDiv0)
		}
		return Number(l / r)
	case OpPow:
		return Number(math.Pow(l, r))
	}
	return ErrorOf(ErrKindValue)
}

// evalRangeScalar collapses a rectangular reference used in scalar context:
// a 1x1 rectangle yields its cell's value, anything larger is a type error.
func evalRangeScalar(ctx *EvalContext, addr RangeAddress) Value {
	if addr.StartRow == addr.EndRow && addr.StartCol == addr.EndCol {
		return ctx.Resolve(Coord{Sheet: addr.Sheet, Row: addr.StartRow, Col: addr.StartCol})
	}
	return ErrorOf(ErrKindValue)
}

// expandArg flattens one function argument. Rectangular references expand
// row-major (clamped to the sheet's used extent); scalars pass through.
// The second result is the first error encountered, if any.
func expandArg(ctx *EvalContext, arg Node) ([]Value, Value) {
	var addr RangeAddress
	switch n := arg.(type) {
	case *RangeRefNode:
		addr = n.address(ctx)
	case *NamedRangeNode:
		a, ok := ctx.NamedRange(ctx.CurrentSheet, n.Name)
		if !ok {
			return nil, ErrorOf(ErrKindName)
		}
		addr = a
	case *StructRefNode:
		a, ok := ctx.TableColumn(n.Table, n.Column)
		if !ok {
			return nil, ErrorOf(ErrKindName)
		}
		addr = a
	default:
		v := arg.Eval(ctx)
		if v.IsError() {
			return nil, v
		}
		return []Value{v}, Empty()
	}

	endRow, endCol := addr.EndRow, addr.EndCol
	if rows, cols, ok := ctx.Bounds(addr.Sheet); ok {
		// cells past the used extent are Empty and invisible to every
		// aggregate, so the walk can stop at the extent
		if rows == 0 || cols == 0 {
			return nil, Empty()
		}
		endRow = min(endRow, rows-1)
		endCol = min(endCol, cols-1)
	} else {
		return nil, ErrorOf(ErrKindRef)
	}

	var out []Value
	for row := addr.StartRow; row <= endRow; row++ {
		for col := addr.StartCol; col <= endCol; col++ {
			v := ctx.Resolve(Coord{Sheet: addr.Sheet, Row: row, Col: col})
			if v.IsError() {
				return nil, v
			}
			out = append(out, v)
		}
	}
	return out, Empty()
}

// Walk visits n and every descendant in depth-first order.
func Walk(n Node, visit func(Node)) {
	if n == nil {
		return
	}
	visit(n)
	switch t := n.(type) {
	case *BinaryNode:
		Walk(t.Left, visit)
		Walk(t.Right, visit)
	case *UnaryNode:
		Walk(t.Operand, visit)
	case *FunctionNode:
		for _, arg := range t.Args {
			Walk(arg, visit)
		}
	}
}

package xlas

import (
	"fmt"
	"strconv"
	"strings"
)

// ParserContext supplies the parser with name resolution hooks. Sheet names
// are interned eagerly so a formula keeps pointing at the same sheet across
// renames, and so references to not-yet-existing sheets still parse.
type ParserContext struct {
	// CurrentSheet is the sheet the formula lives on. References without a
	// qualifier stay sheet-relative (node sheet ID 0).
	CurrentSheet uint32

	// InternSheet maps a sheet name to its stable ID, creating the ID when
	// the name has never been seen.
	InternSheet func(name string) uint32
}

// maxParseDepth bounds expression nesting (parentheses, function arguments,
// prefix signs) so pathological input fails with a ParseError instead of
// growing the stack without limit.
const maxParseDepth = 512

// Parser builds an AST from a token stream using recursive descent, one
// method per precedence tier.
type Parser struct {
	tokens []Token
	pos    int
	depth  int
	ctx    *ParserContext
}

// ParseFormula tokenizes and parses formula source text (with its leading
// '='). The returned tree is ready for dependency extraction and evaluation.
func ParseFormula(input string, ctx *ParserContext) (Node, error) {
	tokens, err := NewLexer(input).Tokenize()
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: tokens, ctx: ctx}
	if p.current().Type != TokenEquals {
		return nil, p.unexpected("expected '='")
	}
	p.pos++

	node, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	if p.current().Type != TokenEOF {
		return nil, p.unexpected("trailing input after expression")
	}
	return node, nil
}

func (p *Parser) current() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) advance() Token {
	tok := p.current()
	p.pos++
	return tok
}

func (p *Parser) unexpected(detail string) error {
	return &ParseError{Kind: ParseUnexpectedToken, Pos: p.current().Pos, Detail: detail}
}

func (p *Parser) enter() error {
	p.depth++
	if p.depth > maxParseDepth {
		return p.unexpected("formula nested too deeply")
	}
	return nil
}

func (p *Parser) leave() { p.depth-- }

// parseComparison handles =, <>, <, <=, >, >= (lowest precedence).
func (p *Parser) parseComparison() (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	left, err := p.parseConcatenation()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.current()
		if tok.Type != TokenBinaryOp {
			return left, nil
		}
		var op BinaryOp
		switch tok.Value {
		case "=":
			op = OpEq
		case "<>":
			op = OpNe
		case "<":
			op = OpLt
		case "<=":
			op = OpLe
		case ">":
			op = OpGt
		case ">=":
			op = OpGe
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseConcatenation()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: op, Left: left, Right: right, Pos: tok.Pos}
	}
}

// parseConcatenation handles the & text operator.
func (p *Parser) parseConcatenation() (Node, error) {
	left, err := p.parseAddition()
	if err != nil {
		return nil, err
	}
	for p.current().Type == TokenBinaryOp && p.current().Value == "&" {
		tok := p.advance()
		right, err := p.parseAddition()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: OpConcat, Left: left, Right: right, Pos: tok.Pos}
	}
	return left, nil
}

// parseAddition handles + and -.
func (p *Parser) parseAddition() (Node, error) {
	left, err := p.parseMultiplication()
	if err != nil {
		return nil, err
	}
	for p.current().Type == TokenBinaryOp && (p.current().Value == "+" || p.current().Value == "-") {
		tok := p.advance()
		right, err := p.parseMultiplication()
		if err != nil {
			return nil, err
		}
		op := OpAdd
		if tok.Value == "-" {
			op = OpSub
		}
		left = &BinaryNode{Op: op, Left: left, Right: right, Pos: tok.Pos}
	}
	return left, nil
}

// parseMultiplication handles * and /.
func (p *Parser) parseMultiplication() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.current().Type == TokenBinaryOp && (p.current().Value == "*" || p.current().Value == "/") {
		tok := p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		op := OpMul
		if tok.Value == "/" {
			op = OpDiv
		}
		left = &BinaryNode{Op: op, Left: left, Right: right, Pos: tok.Pos}
	}
	return left, nil
}

// parseUnary handles prefix signs. Exponentiation binds tighter, so -2^2
// parses as -(2^2).
func (p *Parser) parseUnary() (Node, error) {
	if p.current().Type == TokenUnaryOp {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		tok := p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		op := OpPos
		if tok.Value == "-" {
			op = OpNeg
		}
		return &UnaryNode{Op: op, Operand: operand, Pos: tok.Pos}, nil
	}
	return p.parsePower()
}

// parsePower handles ^, left-associative like the other tiers, with a signed
// exponent allowed (=2^-1). Each exponent is a signed primary, so a chain
// leans left: 2^3^2 is (2^3)^2.
func (p *Parser) parsePower() (Node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.current().Type == TokenBinaryOp && p.current().Value == "^" {
		tok := p.advance()
		right, err := p.parseExponent()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: OpPow, Left: left, Right: right, Pos: tok.Pos}
	}
	return left, nil
}

// parseExponent admits prefix signs on the exponent without re-entering the
// power tier, keeping ^ chains left-leaning.
func (p *Parser) parseExponent() (Node, error) {
	if p.current().Type == TokenUnaryOp {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		tok := p.advance()
		operand, err := p.parseExponent()
		if err != nil {
			return nil, err
		}
		op := OpPos
		if tok.Value == "-" {
			op = OpNeg
		}
		return &UnaryNode{Op: op, Operand: operand, Pos: tok.Pos}, nil
	}
	return p.parsePrimary()
}

// parsePrimary handles literals, references, calls and parenthesized groups.
func (p *Parser) parsePrimary() (Node, error) {
	tok := p.current()
	switch tok.Type {
	case TokenNumber:
		p.advance()
		n, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, &ParseError{Kind: ParseUnexpectedToken, Pos: tok.Pos,
				Detail: fmt.Sprintf("invalid number %q", tok.Value)}
		}
		return &LiteralNode{Val: Number(n), Pos: tok.Pos}, nil

	case TokenString:
		p.advance()
		return &LiteralNode{Val: Text(tok.Value), Pos: tok.Pos}, nil

	case TokenBoolean:
		p.advance()
		return &LiteralNode{Val: Boolean(tok.Value == "TRUE"), Pos: tok.Pos}, nil

	case TokenCell:
		p.advance()
		return p.cellRefNode(tok)

	case TokenRange:
		p.advance()
		return p.rangeRefNode(tok)

	case TokenStructRef:
		p.advance()
		return structRefNode(tok)

	case TokenIdentifier:
		p.advance()
		return &NamedRangeNode{Name: tok.Value, Pos: tok.Pos}, nil

	case TokenFunction:
		return p.parseFunctionCall()

	case TokenLeftParen:
		p.advance()
		inner, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if p.current().Type != TokenRightParen {
			return nil, p.unexpected("expected ')'")
		}
		p.advance()
		return inner, nil
	}
	return nil, p.unexpected(fmt.Sprintf("unexpected token %q", tok.Value))
}

// parseFunctionCall parses NAME(arg, arg, ...). Unknown names parse fine and
// fail at evaluation; known builtins get their arity checked here.
func (p *Parser) parseFunctionCall() (Node, error) {
	name := p.advance()
	if p.current().Type != TokenLeftParen {
		return nil, p.unexpected("expected '(' after function name")
	}
	p.advance()

	var args []Node
	if p.current().Type != TokenRightParen {
		for {
			arg, err := p.parseComparison()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.current().Type != TokenComma {
				break
			}
			p.advance()
		}
	}
	if p.current().Type != TokenRightParen {
		return nil, p.unexpected("expected ')' to close argument list")
	}
	p.advance()

	if minArgs, known := builtinMinArgs(name.Value); known && len(args) < minArgs {
		return nil, &ParseError{Kind: ParseArityMismatch, Pos: name.Pos,
			Detail: fmt.Sprintf("%s requires at least %d argument(s)", name.Value, minArgs)}
	}
	return &FunctionNode{Name: name.Value, Args: args, Pos: name.Pos}, nil
}

// cellRefNode converts a TokenCell value (optionally sheet-qualified, with
// optional absolute markers) into a node.
func (p *Parser) cellRefNode(tok Token) (Node, error) {
	sheetName, qualified, rest := splitSheetQualifier(tok.Value)
	row, col, absRow, absCol, err := ParseRef(rest)
	if err != nil {
		return nil, &ParseError{Kind: ParseInvalidReference, Pos: tok.Pos, Detail: err.Error()}
	}
	node := &CellRefNode{Row: row, Col: col, AbsRow: absRow, AbsCol: absCol, Pos: tok.Pos}
	if qualified {
		node.Sheet = p.ctx.InternSheet(sheetName)
	}
	return node, nil
}

// rangeRefNode converts a TokenRange value into a normalized node, keeping
// the corners ordered top-left to bottom-right and carrying the absolute
// flags with the corner they land on.
func (p *Parser) rangeRefNode(tok Token) (Node, error) {
	sheetName, qualified, rest := splitSheetQualifier(tok.Value)
	first, second, found := strings.Cut(rest, ":")
	if !found {
		return nil, &ParseError{Kind: ParseInvalidReference, Pos: tok.Pos, Detail: "malformed range"}
	}
	r1, c1, ar1, ac1, err := ParseRef(first)
	if err != nil {
		return nil, &ParseError{Kind: ParseInvalidReference, Pos: tok.Pos, Detail: err.Error()}
	}
	r2, c2, ar2, ac2, err := ParseRef(second)
	if err != nil {
		return nil, &ParseError{Kind: ParseInvalidReference, Pos: tok.Pos, Detail: err.Error()}
	}
	if r1 > r2 {
		r1, r2 = r2, r1
		ar1, ar2 = ar2, ar1
	}
	if c1 > c2 {
		c1, c2 = c2, c1
		ac1, ac2 = ac2, ac1
	}
	node := &RangeRefNode{
		StartRow: r1, StartCol: c1, EndRow: r2, EndCol: c2,
		AbsStartRow: ar1, AbsStartCol: ac1, AbsEndRow: ar2, AbsEndCol: ac2,
		Pos: tok.Pos,
	}
	if qualified {
		node.Sheet = p.ctx.InternSheet(sheetName)
	}
	return node, nil
}

// structRefNode splits Table[Header] into its parts.
func structRefNode(tok Token) (Node, error) {
	open := strings.IndexByte(tok.Value, '[')
	if open < 0 || !strings.HasSuffix(tok.Value, "]") {
		return nil, &ParseError{Kind: ParseInvalidReference, Pos: tok.Pos, Detail: "malformed structured reference"}
	}
	table := tok.Value[:open]
	column := strings.TrimSpace(tok.Value[open+1 : len(tok.Value)-1])
	if table == "" || column == "" {
		return nil, &ParseError{Kind: ParseInvalidReference, Pos: tok.Pos, Detail: "empty structured reference part"}
	}
	return &StructRefNode{Table: table, Column: column, Pos: tok.Pos}, nil
}

// splitSheetQualifier splits an optional Sheet! or 'Sheet Name'! prefix off
// a reference token.
func splitSheetQualifier(ref string) (sheet string, qualified bool, rest string) {
	if strings.HasPrefix(ref, "'") {
		end := strings.IndexByte(ref[1:], '\'')
		if end < 0 {
			return "", false, ref
		}
		return ref[1 : end+1], true, ref[end+3:]
	}
	if i := strings.IndexByte(ref, '!'); i >= 0 {
		return ref[:i], true, ref[i+1:]
	}
	return "", false, ref
}

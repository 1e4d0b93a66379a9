package xlas

import "fmt"

// ParseErrorKind classifies why formula text was rejected. A ParseError
// never crosses the store boundary; the store converts it into a cell-level
// error Value.
type ParseErrorKind uint8

const (
	ParseUnexpectedToken ParseErrorKind = iota + 1
	ParseUnterminatedString
	ParseInvalidReference
	ParseArityMismatch
)

// ParseError reports malformed formula text with the byte position of the
// offending token.
type ParseError struct {
	Kind   ParseErrorKind
	Pos    int
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d: %s", e.Pos, e.Detail)
}

// TokenType represents different types of tokens in formulas.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenEquals
	TokenNumber
	TokenString
	TokenBoolean
	TokenCell
	TokenRange
	TokenStructRef
	TokenFunction
	TokenIdentifier
	TokenUnaryOp
	TokenBinaryOp
	TokenComma
	TokenLeftParen
	TokenRightParen
)

// Token is one lexical unit with its byte position in the input.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

// lexState tracks what the previous significant token allows next.
type lexState int

const (
	stateStart lexState = iota
	stateAfterEquals
	stateAfterValue
	stateAfterOperator
	stateAfterLeftParen
	stateAfterRightParen
	stateAfterComma
	stateAfterIdentifier
)

// tokenTransitions maps the current state to the token types valid next.
// Catching "1 2" or "A1 B1" here keeps the parser free of adjacency checks.
var tokenTransitions = map[lexState]map[TokenType]bool{
	stateStart: {
		TokenEquals: true,
	},
	stateAfterEquals: {
		TokenNumber: true, TokenString: true, TokenBoolean: true,
		TokenCell: true, TokenRange: true, TokenStructRef: true,
		TokenFunction: true, TokenIdentifier: true,
		TokenLeftParen: true, TokenUnaryOp: true,
	},
	stateAfterValue: {
		TokenBinaryOp: true, TokenRightParen: true, TokenComma: true, TokenEOF: true,
	},
	stateAfterOperator: {
		TokenNumber: true, TokenString: true, TokenBoolean: true,
		TokenCell: true, TokenRange: true, TokenStructRef: true,
		TokenFunction: true, TokenIdentifier: true,
		TokenLeftParen: true, TokenUnaryOp: true,
	},
	stateAfterLeftParen: {
		TokenNumber: true, TokenString: true, TokenBoolean: true,
		TokenCell: true, TokenRange: true, TokenStructRef: true,
		TokenFunction: true, TokenIdentifier: true,
		TokenLeftParen: true, TokenUnaryOp: true,
		TokenRightParen: true, // empty argument list
	},
	stateAfterRightParen: {
		TokenBinaryOp: true, TokenRightParen: true, TokenComma: true, TokenEOF: true,
	},
	stateAfterComma: {
		TokenNumber: true, TokenString: true, TokenBoolean: true,
		TokenCell: true, TokenRange: true, TokenStructRef: true,
		TokenFunction: true, TokenIdentifier: true,
		TokenLeftParen: true, TokenUnaryOp: true,
	},
	stateAfterIdentifier: {
		TokenBinaryOp: true, TokenRightParen: true, TokenComma: true, TokenEOF: true,
	},
}

// Lexer tokenizes formula text (including the leading '=').
type Lexer struct {
	runes      []rune
	pos        int
	state      lexState
	parenDepth int
}

// NewLexer creates a lexer over formula source text.
func NewLexer(input string) *Lexer {
	return &Lexer{runes: []rune(input)}
}

// Tokenize scans the whole input. The leading '=' is required and emitted
// as a token so the parser sees the full source.
func (l *Lexer) Tokenize() ([]Token, error) {
	if len(l.runes) == 0 || l.runes[0] != '=' {
		return nil, &ParseError{Kind: ParseUnexpectedToken, Pos: 0, Detail: "formula must start with '='"}
	}

	var tokens []Token
	for l.pos < len(l.runes) {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenEOF {
			break
		}
		if !tokenTransitions[l.state][tok.Type] {
			return nil, &ParseError{Kind: ParseUnexpectedToken, Pos: tok.Pos,
				Detail: fmt.Sprintf("unexpected token %q", tok.Value)}
		}
		tokens = append(tokens, tok)
		l.advanceState(tok.Type)
	}

	if l.parenDepth != 0 {
		return nil, &ParseError{Kind: ParseUnexpectedToken, Pos: l.pos, Detail: "unbalanced parentheses"}
	}
	if !tokenTransitions[l.state][TokenEOF] {
		return nil, &ParseError{Kind: ParseUnexpectedToken, Pos: l.pos, Detail: "unexpected end of formula"}
	}

	tokens = append(tokens, Token{Type: TokenEOF, Pos: l.pos})
	return tokens, nil
}

func (l *Lexer) advanceState(t TokenType) {
	switch t {
	case TokenEquals:
		l.state = stateAfterEquals
	case TokenNumber, TokenString, TokenBoolean, TokenCell, TokenRange, TokenStructRef:
		l.state = stateAfterValue
	case TokenUnaryOp, TokenBinaryOp:
		l.state = stateAfterOperator
	case TokenLeftParen:
		l.state = stateAfterLeftParen
	case TokenRightParen:
		l.state = stateAfterRightParen
	case TokenComma:
		l.state = stateAfterComma
	case TokenIdentifier, TokenFunction:
		l.state = stateAfterIdentifier
	}
}

func (l *Lexer) current() rune {
	if l.pos >= len(l.runes) {
		return 0
	}
	return l.runes[l.pos]
}

func (l *Lexer) peek(offset int) rune {
	p := l.pos + offset
	if p < 0 || p >= len(l.runes) {
		return 0
	}
	return l.runes[p]
}

func (l *Lexer) substring(start, end int) string {
	return string(l.runes[start:end])
}

func isDigit(ch rune) bool { return ch >= '0' && ch <= '9' }

func isAlpha(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentRune(ch rune) bool {
	return isAlpha(ch) || isDigit(ch) || ch == '_'
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.runes) {
		switch l.current() {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

// next returns the next significant token.
func (l *Lexer) next() (Token, error) {
	l.skipWhitespace()
	if l.pos >= len(l.runes) {
		return Token{Type: TokenEOF, Pos: l.pos}, nil
	}

	start := l.pos
	ch := l.current()

	switch {
	case ch == '"':
		return l.scanString()
	case ch == '\'':
		return l.scanQuotedSheetRef()
	case ch == '$':
		return l.scanReference(start)
	case isDigit(ch) || (ch == '.' && isDigit(l.peek(1))):
		return l.scanNumber()
	case isAlpha(ch) || ch == '_':
		return l.scanIdentifierOrReference()
	}

	switch ch {
	case '(':
		l.pos++
		l.parenDepth++
		return Token{Type: TokenLeftParen, Value: "(", Pos: start}, nil
	case ')':
		l.pos++
		l.parenDepth--
		if l.parenDepth < 0 {
			return Token{}, &ParseError{Kind: ParseUnexpectedToken, Pos: start, Detail: "unexpected ')'"}
		}
		return Token{Type: TokenRightParen, Value: ")", Pos: start}, nil
	case ',':
		l.pos++
		return Token{Type: TokenComma, Value: ",", Pos: start}, nil
	case '+', '-':
		l.pos++
		if l.unaryContext() {
			return Token{Type: TokenUnaryOp, Value: string(ch), Pos: start}, nil
		}
		return Token{Type: TokenBinaryOp, Value: string(ch), Pos: start}, nil
	case '*', '/', '^', '&':
		l.pos++
		return Token{Type: TokenBinaryOp, Value: string(ch), Pos: start}, nil
	case '=':
		l.pos++
		if start == 0 {
			return Token{Type: TokenEquals, Value: "=", Pos: start}, nil
		}
		return Token{Type: TokenBinaryOp, Value: "=", Pos: start}, nil
	case '<':
		l.pos++
		switch l.current() {
		case '=':
			l.pos++
			return Token{Type: TokenBinaryOp, Value: "<=", Pos: start}, nil
		case '>':
			l.pos++
			return Token{Type: TokenBinaryOp, Value: "<>", Pos: start}, nil
		}
		return Token{Type: TokenBinaryOp, Value: "<", Pos: start}, nil
	case '>':
		l.pos++
		if l.current() == '=' {
			l.pos++
			return Token{Type: TokenBinaryOp, Value: ">=", Pos: start}, nil
		}
		return Token{Type: TokenBinaryOp, Value: ">", Pos: start}, nil
	}

	return Token{}, &ParseError{Kind: ParseUnexpectedToken, Pos: start,
		Detail: fmt.Sprintf("unexpected character %q", string(ch))}
}

// unaryContext reports whether +/- binds as a sign rather than an operator.
func (l *Lexer) unaryContext() bool {
	switch l.state {
	case stateStart, stateAfterEquals, stateAfterOperator, stateAfterLeftParen, stateAfterComma:
		return true
	}
	return false
}

func (l *Lexer) scanNumber() (Token, error) {
	start := l.pos
	for isDigit(l.current()) {
		l.pos++
	}
	if l.current() == '.' && isDigit(l.peek(1)) {
		l.pos++
		for isDigit(l.current()) {
			l.pos++
		}
	}
	// scientific notation
	if l.current() == 'e' || l.current() == 'E' {
		saved := l.pos
		l.pos++
		if l.current() == '+' || l.current() == '-' {
			l.pos++
		}
		if !isDigit(l.current()) {
			l.pos = saved
		} else {
			for isDigit(l.current()) {
				l.pos++
			}
		}
	}
	return Token{Type: TokenNumber, Value: l.substring(start, l.pos), Pos: start}, nil
}

// scanString scans a double-quoted literal; "" escapes a quote.
func (l *Lexer) scanString() (Token, error) {
	start := l.pos
	l.pos++ // opening quote

	var out []rune
	for l.pos < len(l.runes) {
		ch := l.current()
		if ch == '"' {
			if l.peek(1) == '"' {
				out = append(out, '"')
				l.pos += 2
				continue
			}
			l.pos++
			return Token{Type: TokenString, Value: string(out), Pos: start}, nil
		}
		out = append(out, ch)
		l.pos++
	}
	return Token{}, &ParseError{Kind: ParseUnterminatedString, Pos: start, Detail: "unterminated string literal"}
}

// scanQuotedSheetRef scans 'Sheet Name'!A1 or 'Sheet Name'!A1:B2.
func (l *Lexer) scanQuotedSheetRef() (Token, error) {
	start := l.pos
	l.pos++ // opening apostrophe
	for l.pos < len(l.runes) && l.current() != '\'' {
		l.pos++
	}
	if l.pos >= len(l.runes) {
		return Token{}, &ParseError{Kind: ParseInvalidReference, Pos: start, Detail: "unclosed sheet name"}
	}
	l.pos++ // closing apostrophe
	if l.current() != '!' {
		return Token{}, &ParseError{Kind: ParseInvalidReference, Pos: start, Detail: "expected '!' after sheet name"}
	}
	l.pos++
	return l.scanReference(start)
}

// scanIdentifierOrReference disambiguates cell refs, ranges, sheet-qualified
// refs, structured refs, booleans, function names and bare identifiers.
func (l *Lexer) scanIdentifierOrReference() (Token, error) {
	start := l.pos
	for isIdentRune(l.current()) {
		l.pos++
	}
	word := l.substring(start, l.pos)

	switch l.current() {
	case '!':
		// sheet-qualified reference
		l.pos++
		return l.scanReference(start)
	case '[':
		// structured reference: Table[Header]
		l.pos++
		for l.pos < len(l.runes) && l.current() != ']' {
			l.pos++
		}
		if l.pos >= len(l.runes) {
			return Token{}, &ParseError{Kind: ParseInvalidReference, Pos: start, Detail: "unclosed structured reference"}
		}
		l.pos++
		return Token{Type: TokenStructRef, Value: l.substring(start, l.pos), Pos: start}, nil
	}

	upper := toUpperASCII(word)
	if upper == "TRUE" || upper == "FALSE" {
		return Token{Type: TokenBoolean, Value: upper, Pos: start}, nil
	}

	if isPlainCellRef(word) {
		return l.maybeRange(start, word)
	}

	if l.current() == '(' {
		return Token{Type: TokenFunction, Value: upper, Pos: start}, nil
	}
	return Token{Type: TokenIdentifier, Value: word, Pos: start}, nil
}

// scanReference scans the A1 part after an optional sheet qualifier (the
// qualifier, when present, began at start and is already consumed), then
// extends across ':' into a range token when a second ref follows.
func (l *Lexer) scanReference(start int) (Token, error) {
	if !l.scanOneRef() {
		return Token{}, &ParseError{Kind: ParseInvalidReference, Pos: start, Detail: "invalid cell reference"}
	}
	if l.current() == ':' {
		l.pos++
		if !l.scanOneRef() {
			return Token{}, &ParseError{Kind: ParseInvalidReference, Pos: start, Detail: "invalid range reference"}
		}
		return Token{Type: TokenRange, Value: l.substring(start, l.pos), Pos: start}, nil
	}
	return Token{Type: TokenCell, Value: l.substring(start, l.pos), Pos: start}, nil
}

// scanOneRef consumes [$]letters[$]digits; reports whether it matched.
func (l *Lexer) scanOneRef() bool {
	if l.current() == '$' {
		l.pos++
	}
	letters := 0
	for isAlpha(l.current()) {
		l.pos++
		letters++
	}
	if l.current() == '$' {
		l.pos++
	}
	digits := 0
	for isDigit(l.current()) {
		l.pos++
		digits++
	}
	return letters > 0 && digits > 0
}

// maybeRange extends an already-scanned bare cell ref into a range when a
// ':' with another valid ref follows; otherwise returns the single cell.
func (l *Lexer) maybeRange(start int, word string) (Token, error) {
	if l.current() != ':' {
		return Token{Type: TokenCell, Value: word, Pos: start}, nil
	}
	saved := l.pos
	l.pos++
	if !l.scanOneRef() {
		l.pos = saved
		return Token{Type: TokenCell, Value: word, Pos: start}, nil
	}
	return Token{Type: TokenRange, Value: l.substring(start, l.pos), Pos: start}, nil
}

// isPlainCellRef reports whether s is letters-then-digits (no qualifier, no
// absolute markers; those paths arrive via scanReference).
func isPlainCellRef(s string) bool {
	i := 0
	for i < len(s) && isAlpha(rune(s[i])) {
		i++
	}
	if i == 0 || i > 7 || i == len(s) {
		return false
	}
	for ; i < len(s); i++ {
		if !isDigit(rune(s[i])) {
			return false
		}
	}
	return true
}

func toUpperASCII(s string) string {
	out := []byte(s)
	for i, ch := range out {
		if ch >= 'a' && ch <= 'z' {
			out[i] = ch - 32
		}
	}
	return string(out)
}

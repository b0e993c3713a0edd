package haku

import "unicode/utf8"

// Lexer performs a single left-to-right pass over a SourceCode, emitting a
// bounded token stream plus diagnostics. It never panics on valid UTF-8
// input; running out of token capacity surfaces as ErrTooManyTokens.
type Lexer struct {
	Lexis       *Lexis
	Diagnostics []Diagnostic

	input    string
	position uint32
	diagCap  int
}

func NewLexer(input *SourceCode, maxTokens, maxDiagnostics int) *Lexer {
	return &Lexer{
		Lexis:       newLexis(maxTokens),
		Diagnostics: make([]Diagnostic, 0, maxDiagnostics),
		input:       input.Text(),
		diagCap:     maxDiagnostics,
	}
}

func (l *Lexer) current() rune {
	if int(l.position) >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.position:])
	return r
}

func (l *Lexer) advance() {
	r := l.current()
	if r == 0 {
		return
	}
	l.position += uint32(utf8.RuneLen(r))
}

func (l *Lexer) emit(span Span, message string) {
	if len(l.Diagnostics) < l.diagCap {
		l.Diagnostics = append(l.Diagnostics, newDiagnostic(span, message))
	}
}

func isIdentChar(c rune) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

func isAsciiDigit(c rune) bool {
	return c >= '0' && c <= '9'
}

func isAsciiHexDigit(c rune) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func (l *Lexer) one(kind TokenKind) TokenKind {
	l.advance()
	return kind
}

func (l *Lexer) oneOrTwo(kind1 TokenKind, c2 rune, kind2 TokenKind) TokenKind {
	l.advance()
	if l.current() == c2 {
		l.advance()
		return kind2
	}
	return kind1
}

var keywords = map[string]TokenKind{
	"_":    TokUnderscore,
	"and":  TokAnd,
	"or":   TokOr,
	"if":   TokIf,
	"else": TokElse,
	"let":  TokLet,
}

func (l *Lexer) ident() TokenKind {
	start := l.position
	for isIdentChar(l.current()) {
		l.advance()
	}
	end := l.position
	text := NewSpan(start, end).Slice(l.input)
	if kind, ok := keywords[text]; ok {
		return kind
	}
	return TokIdent
}

func (l *Lexer) tag() TokenKind {
	for isIdentChar(l.current()) {
		l.advance()
	}
	return TokTag
}

// number does not guarantee the lexed span is parsable - a decimal point
// without a trailing digit still yields a Number token alongside a diagnostic.
func (l *Lexer) number() TokenKind {
	for isAsciiDigit(l.current()) {
		l.advance()
	}
	if l.current() == '.' {
		dot := l.position
		l.advance()
		if !isAsciiDigit(l.current()) {
			l.emit(NewSpan(dot, l.position), "there must be at least a single digit after the decimal point")
		}
		for isAsciiDigit(l.current()) {
			l.advance()
		}
	}
	return TokNumber
}

// color does not guarantee the lexed span is parsable either.
func (l *Lexer) color() TokenKind {
	hash := l.position
	l.advance() // #

	if !isAsciiHexDigit(l.current()) {
		l.emit(NewSpan(hash, l.position), "hex digits expected after `#` (color literal)")
	}

	start := l.position
	for isAsciiHexDigit(l.current()) {
		l.advance()
	}
	length := l.position - start

	if length != 3 && length != 4 && length != 6 && length != 8 {
		l.emit(NewSpan(hash, l.position), "incorrect number of digits in color literal (must be #RGB, #RGBA, #RRGGBB, or #RRGGBBAA)")
	}

	return TokColor
}

func (l *Lexer) whitespaceAndComments() {
	for {
		switch l.current() {
		case '-':
			position := l.position
			l.advance()
			if l.current() == '-' {
				for l.current() != '\n' && l.current() != 0 {
					l.advance()
				}
			} else {
				l.position = position
				return
			}
		case ' ', '\r', '\t':
			l.advance()
		default:
			return
		}
	}
}

func (l *Lexer) newline() (TokenKind, Span) {
	start := l.position
	l.advance() // skip the initial newline
	end := l.position

	for {
		l.whitespaceAndComments()
		if l.current() == '\n' {
			l.advance()
			continue
		}
		break
	}

	return TokNewline, NewSpan(start, end)
}

func (l *Lexer) token() (TokenKind, Span) {
	l.whitespaceAndComments()

	start := l.position
	var kind TokenKind

	c := l.current()
	switch {
	case c == 0:
		kind = TokEof
	case c >= 'A' && c <= 'Z':
		kind = l.tag()
	case isAsciiDigit(c):
		kind = l.number()
	case isIdentChar(c):
		kind = l.ident()
	case c == '#':
		kind = l.color()
	case c == '+':
		kind = l.one(TokPlus)
	case c == '-':
		kind = l.oneOrTwo(TokMinus, '>', TokRArrow)
	case c == '*':
		kind = l.one(TokStar)
	case c == '/':
		kind = l.one(TokSlash)
	case c == '=':
		kind = l.oneOrTwo(TokEqual, '=', TokEqualEqual)
	case c == '!':
		kind = l.oneOrTwo(TokNot, '=', TokNotEqual)
	case c == '<':
		kind = l.oneOrTwo(TokLess, '=', TokLessEqual)
	case c == '>':
		kind = l.oneOrTwo(TokGreater, '=', TokGreaterEqual)
	case c == '\n':
		return l.newline()
	case c == '(':
		kind = l.one(TokLParen)
	case c == ')':
		kind = l.one(TokRParen)
	case c == '[':
		kind = l.one(TokLBrack)
	case c == ']':
		kind = l.one(TokRBrack)
	case c == ',':
		kind = l.one(TokComma)
	case c == '\\':
		kind = l.one(TokBackslash)
	default:
		l.advance()
		l.emit(NewSpan(start, l.position), "unexpected character")
		kind = TokError
	}

	end := l.position
	return kind, NewSpan(start, end)
}

// Lex runs the lexer to completion, filling l.Lexis until an Eof token is
// produced or the token capacity is exhausted.
func (l *Lexer) Lex() error {
	for {
		kind, span := l.token()
		if err := l.Lexis.push(kind, span); err != nil {
			return err
		}
		if kind == TokEof {
			return nil
		}
	}
}

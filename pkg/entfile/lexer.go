package entfile

// Token is one lexical token.
type Token struct {
	Text   string
	Quoted bool
	Line   int
}

// Is reports whether t is the unquoted punctuation s.
func (t Token) Is(s string) bool {
	return !t.Quoted && t.Text == s
}

// Lexer splits entity text into tokens. It never backtracks: every call to
// Next consumes input.
type Lexer struct {
	data []byte
	pos  int
	line int
}

// NewLexer returns a lexer over data.
func NewLexer(data []byte) *Lexer {
	return &Lexer{data: data, line: 1}
}

// Line returns the current line number.
func (l *Lexer) Line() int { return l.line }

func isSingle(c byte) bool {
	switch c {
	case '{', '}', '(', ')', '\'', ':':
		return true
	}
	return false
}

// Next returns the next token, or false at end of input.
func (l *Lexer) Next() (Token, bool) {
	for {
		for l.pos < len(l.data) && l.data[l.pos] <= ' ' {
			if l.data[l.pos] == '\n' {
				l.line++
			}
			l.pos++
		}
		if l.pos >= len(l.data) {
			return Token{}, false
		}
		if l.data[l.pos] == '/' && l.pos+1 < len(l.data) && l.data[l.pos+1] == '/' {
			for l.pos < len(l.data) && l.data[l.pos] != '\n' {
				l.pos++
			}
			continue
		}
		break
	}

	line := l.line
	c := l.data[l.pos]
	if c == '"' {
		l.pos++
		start := l.pos
		for l.pos < len(l.data) && l.data[l.pos] != '"' {
			if l.data[l.pos] == '\n' {
				l.line++
			}
			l.pos++
		}
		text := string(l.data[start:l.pos])
		if l.pos < len(l.data) {
			l.pos++
		}
		return Token{Text: text, Quoted: true, Line: line}, true
	}

	if isSingle(c) {
		l.pos++
		return Token{Text: string(c), Line: line}, true
	}

	start := l.pos
	for l.pos < len(l.data) && l.data[l.pos] > ' ' && !isSingle(l.data[l.pos]) {
		l.pos++
	}
	return Token{Text: string(l.data[start:l.pos]), Line: line}, true
}

// OpenGroup consumes the opening brace of the next group. It returns false
// at end of input.
func (l *Lexer) OpenGroup() (bool, error) {
	tok, ok := l.Next()
	if !ok {
		return false, nil
	}
	if !tok.Is("{") {
		return false, &ParseError{Err: ErrExpectedBrace, Line: tok.Line, Detail: "found " + tok.Text}
	}
	return true, nil
}

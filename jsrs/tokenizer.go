package jsrs

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"
)

// TokenKind identifies the lexical class of a token.
type TokenKind int

// Token kinds.
const (
	TokenNone TokenKind = iota
	TokenTrue
	TokenFalse
	TokenNull
	TokenUndefined
	TokenNumber
	TokenKey
	TokenString
	TokenLeftBrace
	TokenRightBrace
	TokenLeftBracket
	TokenRightBracket
	TokenComma
	TokenColon
)

var tokenNames = [...]string{
	TokenNone:         "end of input",
	TokenTrue:         "true",
	TokenFalse:        "false",
	TokenNull:         "null",
	TokenUndefined:    "undefined",
	TokenNumber:       "number",
	TokenKey:          "identifier",
	TokenString:       "string",
	TokenLeftBrace:    "'{'",
	TokenRightBrace:   "'}'",
	TokenLeftBracket:  "'['",
	TokenRightBracket: "']'",
	TokenComma:        "','",
	TokenColon:        "':'",
}

func (k TokenKind) String() string {
	if int(k) < len(tokenNames) {
		return tokenNames[k]
	}
	return "unknown"
}

// Token is one lexical unit. Str holds the payload of Key and String tokens,
// Num the payload of Number tokens.
type Token struct {
	Kind   TokenKind
	Str    string
	Num    float64
	Offset int
	// Integer is set for numeric literals written without fraction or exponent.
	Integer bool
}

// Tokenizer splits record text into tokens.
type Tokenizer struct {
	input string
	pos   int
}

// NewTokenizer creates a tokenizer over input.
func NewTokenizer(input string) *Tokenizer {
	return &Tokenizer{input: input}
}

// Offset returns the byte offset of the next unread character.
func (t *Tokenizer) Offset() int {
	return t.pos
}

// Next returns the next token, or a TokenNone token at end of input.
func (t *Tokenizer) Next() (Token, error) {
	if err := t.skipSpaceAndComments(); err != nil {
		return Token{}, err
	}
	if t.pos >= len(t.input) {
		return Token{Kind: TokenNone, Offset: t.pos}, nil
	}

	start := t.pos
	c := t.input[t.pos]
	switch c {
	case '{':
		t.pos++
		return Token{Kind: TokenLeftBrace, Offset: start}, nil
	case '}':
		t.pos++
		return Token{Kind: TokenRightBrace, Offset: start}, nil
	case '[':
		t.pos++
		return Token{Kind: TokenLeftBracket, Offset: start}, nil
	case ']':
		t.pos++
		return Token{Kind: TokenRightBracket, Offset: start}, nil
	case ',':
		t.pos++
		return Token{Kind: TokenComma, Offset: start}, nil
	case ':':
		t.pos++
		return Token{Kind: TokenColon, Offset: start}, nil
	case '\'', '"':
		return t.readString()
	case '+', '-':
		if t.pos+1 < len(t.input) {
			r, _ := utf8.DecodeRuneInString(t.input[t.pos+1:])
			if isIdentStart(r) {
				return t.readSignedInfinity()
			}
		}
		return t.readNumber()
	}
	if isDigit(c) || c == '.' {
		return t.readNumber()
	}
	r, _ := utf8.DecodeRuneInString(t.input[t.pos:])
	if isIdentStart(r) {
		return t.readIdentifier(), nil
	}
	return Token{}, &LexError{Offset: start, Msg: "unexpected character " + strconv.QuoteRune(r)}
}

func (t *Tokenizer) skipSpaceAndComments() error {
	for t.pos < len(t.input) {
		c := t.input[t.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f':
			t.pos++
		case c == '/' && t.pos+1 < len(t.input) && t.input[t.pos+1] == '/':
			end := strings.IndexByte(t.input[t.pos:], '\n')
			if end < 0 {
				t.pos = len(t.input)
			} else {
				t.pos += end + 1
			}
		case c == '/' && t.pos+1 < len(t.input) && t.input[t.pos+1] == '*':
			end := strings.Index(t.input[t.pos+2:], "*/")
			if end < 0 {
				return &LexError{Offset: t.pos, Msg: "unterminated comment"}
			}
			t.pos += end + 4
		case c >= utf8.RuneSelf:
			r, size := utf8.DecodeRuneInString(t.input[t.pos:])
			if !unicode.IsSpace(r) && r != '\uFEFF' {
				return nil
			}
			t.pos += size
		default:
			return nil
		}
	}
	return nil
}

func (t *Tokenizer) readNumber() (Token, error) {
	start := t.pos
	i := t.pos
	if t.input[i] == '+' || t.input[i] == '-' {
		i++
	}
	digits := 0
	for i < len(t.input) && isDigit(t.input[i]) {
		i++
		digits++
	}
	integer := true
	if i < len(t.input) && t.input[i] == '.' {
		integer = false
		i++
		for i < len(t.input) && isDigit(t.input[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return Token{}, &LexError{Offset: start, Msg: "invalid number"}
	}
	if i < len(t.input) && (t.input[i] == 'e' || t.input[i] == 'E') {
		j := i + 1
		if j < len(t.input) && (t.input[j] == '+' || t.input[j] == '-') {
			j++
		}
		if j < len(t.input) && isDigit(t.input[j]) {
			for j < len(t.input) && isDigit(t.input[j]) {
				j++
			}
			integer = false
			i = j
		}
	}

	text := t.input[start:i]
	f, err := strconv.ParseFloat(text, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return Token{}, &LexError{Offset: start, Msg: "invalid number " + strconv.Quote(text)}
	}
	t.pos = i
	return Token{Kind: TokenNumber, Num: f, Integer: integer, Offset: start}, nil
}

func (t *Tokenizer) readIdentifier() Token {
	start := t.pos
	for t.pos < len(t.input) {
		r, size := utf8.DecodeRuneInString(t.input[t.pos:])
		if !isIdentPart(r) {
			break
		}
		t.pos += size
	}
	word := t.input[start:t.pos]
	switch word {
	case "null":
		return Token{Kind: TokenNull, Offset: start}
	case "undefined":
		return Token{Kind: TokenUndefined, Offset: start}
	case "true":
		return Token{Kind: TokenTrue, Offset: start}
	case "false":
		return Token{Kind: TokenFalse, Offset: start}
	case "NaN":
		return Token{Kind: TokenNumber, Num: math.NaN(), Offset: start}
	case "Infinity":
		return Token{Kind: TokenNumber, Num: math.Inf(1), Offset: start}
	}
	return Token{Kind: TokenKey, Str: word, Offset: start}
}

func (t *Tokenizer) readSignedInfinity() (Token, error) {
	start := t.pos
	sign := 1
	if t.input[t.pos] == '-' {
		sign = -1
	}
	t.pos++
	word := t.readIdentifier()
	if word.Kind != TokenNumber || !math.IsInf(word.Num, 0) {
		return Token{}, &LexError{Offset: start, Msg: "malformed Infinity literal " + strconv.Quote(t.input[start:t.pos])}
	}
	return Token{Kind: TokenNumber, Num: math.Inf(sign), Offset: start}, nil
}

func (t *Tokenizer) readString() (Token, error) {
	start := t.pos
	quote := t.input[t.pos]
	t.pos++

	var b strings.Builder
	for {
		i := t.pos
		for i < len(t.input) && t.input[i] != quote && t.input[i] != '\\' {
			i++
		}
		b.WriteString(t.input[t.pos:i])
		t.pos = i
		if t.pos >= len(t.input) {
			return Token{}, &LexError{Offset: start, Msg: "unmatched quote"}
		}
		if t.input[t.pos] == quote {
			t.pos++
			return Token{Kind: TokenString, Str: b.String(), Offset: start}, nil
		}
		if err := t.readEscape(&b); err != nil {
			return Token{}, err
		}
	}
}

// readEscape consumes one backslash sequence starting at t.pos.
func (t *Tokenizer) readEscape(b *strings.Builder) error {
	start := t.pos
	t.pos++
	if t.pos >= len(t.input) {
		return &LexError{Offset: start, Msg: "unmatched quote"}
	}
	c := t.input[t.pos]
	t.pos++
	switch c {
	case 'n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case 'v':
		b.WriteByte('\v')
	case '0':
		b.WriteByte(0)
	case '\n':
		// line continuation
	case '\r':
		if t.pos < len(t.input) && t.input[t.pos] == '\n' {
			t.pos++
		}
	case 'x':
		v, ok := parseHex(t.input, t.pos, 2)
		if !ok {
			return &LexError{Offset: start, Msg: "invalid hexadecimal escape"}
		}
		t.pos += 2
		b.WriteRune(rune(v))
	case 'u':
		r, err := t.readUnicodeEscape(start)
		if err != nil {
			return err
		}
		b.WriteRune(r)
	default:
		t.pos--
		r, size := utf8.DecodeRuneInString(t.input[t.pos:])
		t.pos += size
		b.WriteRune(r)
	}
	return nil
}

// readUnicodeEscape reads the part after "\u". Surrogate pairs written as two
// consecutive escapes are combined into one code point.
func (t *Tokenizer) readUnicodeEscape(start int) (rune, error) {
	invalid := &LexError{Offset: start, Msg: "invalid unicode escape"}
	if t.pos < len(t.input) && t.input[t.pos] == '{' {
		end := strings.IndexByte(t.input[t.pos:], '}')
		if end < 2 || end > 7 {
			return 0, invalid
		}
		v, ok := parseHex(t.input, t.pos+1, end-1)
		if !ok || v > unicode.MaxRune {
			return 0, invalid
		}
		t.pos += end + 1
		return rune(v), nil
	}

	v, ok := parseHex(t.input, t.pos, 4)
	if !ok {
		return 0, invalid
	}
	t.pos += 4
	r := rune(v)
	if utf16.IsSurrogate(r) && r < 0xDC00 &&
		strings.HasPrefix(t.input[t.pos:], `\u`) {
		if lo, ok := parseHex(t.input, t.pos+2, 4); ok {
			if combined := utf16.DecodeRune(r, rune(lo)); combined != unicode.ReplacementChar {
				t.pos += 6
				return combined, nil
			}
		}
	}
	return r, nil
}

func parseHex(s string, at, n int) (uint32, bool) {
	if at+n > len(s) {
		return 0, false
	}
	var v uint32
	for i := at; i < at+n; i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			v = v<<4 | uint32(c-'0')
		case c >= 'a' && c <= 'f':
			v = v<<4 | uint32(c-'a'+10)
		case c >= 'A' && c <= 'F':
			v = v<<4 | uint32(c-'A'+10)
		default:
			return 0, false
		}
	}
	return v, true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r) || r == '\u200C' || r == '\u200D'
}

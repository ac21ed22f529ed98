package jsrs

import "fmt"

// Parser builds value trees from record text by recursive descent.
type Parser struct {
	tok *Tokenizer
	cur Token
}

// NewParser creates a parser over input and reads the first token.
func NewParser(input string) (*Parser, error) {
	p := &Parser{tok: NewTokenizer(input)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

// Parse parses input as exactly one record; trailing input is an error.
func Parse(input string) (Value, error) {
	p, err := NewParser(input)
	if err != nil {
		return nil, err
	}
	v, err := p.Parse()
	if err != nil {
		return nil, err
	}
	if p.cur.Kind != TokenNone {
		return nil, p.errorf("unexpected %s after record", p.cur.Kind)
	}
	return v, nil
}

// ParseObject parses input that must be an object record.
func ParseObject(input string) (*Object, error) {
	p, err := NewParser(input)
	if err != nil {
		return nil, err
	}
	o, err := p.ParseObject()
	if err != nil {
		return nil, err
	}
	if p.cur.Kind != TokenNone {
		return nil, p.errorf("unexpected %s after record", p.cur.Kind)
	}
	return o, nil
}

// Parse parses the value starting at the current token.
func (p *Parser) Parse() (Value, error) {
	switch p.cur.Kind {
	case TokenLeftBrace:
		obj, err := p.ParseObject()
		if err != nil {
			return nil, err
		}
		return obj, nil
	case TokenLeftBracket:
		arr, err := p.ParseArray()
		if err != nil {
			return nil, err
		}
		return arr, nil
	}
	v, err := p.literal()
	if err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return v, nil
}

// ParseArray parses an array; the current token must be '['.
// Holes between commas and a leading comma yield Undefined elements.
func (p *Parser) ParseArray() (Array, error) {
	if p.cur.Kind != TokenLeftBracket {
		return nil, p.errorf("expected '[' but found %s", p.cur.Kind)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	arr := Array{}
	for {
		switch p.cur.Kind {
		case TokenRightBracket:
			return arr, p.advance()
		case TokenComma:
			arr = append(arr, Undefined{})
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}

		v, err := p.Parse()
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)

		switch p.cur.Kind {
		case TokenRightBracket:
			return arr, p.advance()
		case TokenComma:
			if err := p.advance(); err != nil {
				return nil, err
			}
		default:
			return nil, p.errorf("expected ',' or ']' but found %s", p.cur.Kind)
		}
	}
}

// ParseObject parses an object; the current token must be '{'.
// Duplicate keys overwrite the earlier value in its original position.
func (p *Parser) ParseObject() (*Object, error) {
	if p.cur.Kind != TokenLeftBrace {
		return nil, p.errorf("expected '{' but found %s", p.cur.Kind)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	obj := NewObject()
	for {
		if p.cur.Kind == TokenRightBrace {
			return obj, p.advance()
		}

		var key string
		switch p.cur.Kind {
		case TokenKey, TokenString:
			key = p.cur.Str
		case TokenNumber:
			key = formatNumber(p.cur.Num)
		default:
			return nil, p.errorf("expected key but found %s", p.cur.Kind)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.Kind != TokenColon {
			return nil, p.errorf("expected ':' after key %q", key)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		switch p.cur.Kind {
		case TokenComma, TokenRightBrace, TokenNone:
			return nil, p.errorf("missing value for key %q", key)
		}

		v, err := p.Parse()
		if err != nil {
			return nil, err
		}
		obj.Set(key, v)

		switch p.cur.Kind {
		case TokenRightBrace:
			return obj, p.advance()
		case TokenComma:
			if err := p.advance(); err != nil {
				return nil, err
			}
		default:
			return nil, p.errorf("expected ',' or '}' but found %s", p.cur.Kind)
		}
	}
}

func (p *Parser) literal() (Value, error) {
	switch p.cur.Kind {
	case TokenTrue:
		return Bool(true), nil
	case TokenFalse:
		return Bool(false), nil
	case TokenNull:
		return Null{}, nil
	case TokenUndefined:
		return Undefined{}, nil
	case TokenNumber:
		return Number(p.cur.Num), nil
	case TokenString:
		return String(p.cur.Str), nil
	case TokenKey:
		return nil, p.errorf("%s is not defined", p.cur.Str)
	case TokenNone:
		return nil, p.errorf("unexpected end of input")
	}
	return nil, p.errorf("unexpected %s", p.cur.Kind)
}

func (p *Parser) advance() error {
	tok, err := p.tok.Next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *Parser) errorf(format string, args ...any) error {
	return &ParseError{Offset: p.cur.Offset, Msg: fmt.Sprintf(format, args...)}
}

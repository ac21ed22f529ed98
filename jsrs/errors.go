package jsrs

import "fmt"

// LexError is returned when the input cannot be split into tokens.
type LexError struct {
	Offset int
	Msg    string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("jsrs: lex error at offset %d: %s", e.Offset, e.Msg)
}

// ParseError is returned when the token stream does not form a record.
type ParseError struct {
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("jsrs: parse error at offset %d: %s", e.Offset, e.Msg)
}

package jsrs

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

const hexDigits = "0123456789abcdef"

// Stringify renders v as record text. Parse(Stringify(v)) yields a tree
// equal to v for every tree Parse can produce. A nil Value renders as
// undefined.
func Stringify(v Value) string {
	var b strings.Builder
	writeValue(&b, v)
	return b.String()
}

func writeValue(b *strings.Builder, v Value) {
	switch val := v.(type) {
	case nil, Undefined:
		b.WriteString("undefined")
	case Null:
		b.WriteString("null")
	case Bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case Number:
		b.WriteString(formatNumber(float64(val)))
	case String:
		writeString(b, string(val))
	case Array:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeValue(b, item)
		}
		b.WriteByte(']')
	case *Object:
		b.WriteByte('{')
		for i := 0; i < val.Len(); i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			writeKey(b, val.keys[i])
			b.WriteByte(':')
			writeValue(b, val.values[i])
		}
		b.WriteByte('}')
	}
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func writeKey(b *strings.Builder, key string) {
	if isBareKey(key) {
		b.WriteString(key)
		return
	}
	writeString(b, key)
}

// isBareKey reports whether key can be written without quotes and still be
// read back as the same key.
func isBareKey(key string) bool {
	switch key {
	case "", "null", "undefined", "true", "false", "NaN", "Infinity":
		return false
	}
	for i, r := range key {
		if r == utf8.RuneError {
			return false
		}
		if i == 0 && !isIdentStart(r) {
			return false
		}
		if !isIdentPart(r) {
			return false
		}
	}
	return true
}

func writeString(b *strings.Builder, s string) {
	b.WriteByte('\'')
	start := 0
	for i := 0; i < len(s); {
		c := s[i]
		var esc string
		switch c {
		case '\\':
			esc = `\\`
		case '\'':
			esc = `\'`
		case '\n':
			esc = `\n`
		case '\r':
			esc = `\r`
		case '\t':
			esc = `\t`
		case '\b':
			esc = `\b`
		case '\f':
			esc = `\f`
		case '\v':
			esc = `\v`
		}
		switch {
		case esc != "":
		case c < 0x20 || c == 0x7f:
			esc = `\x` + string(hexDigits[c>>4]) + string(hexDigits[c&0xf])
		case c == 0xe2 && i+2 < len(s) && s[i+1] == 0x80 && (s[i+2] == 0xa8 || s[i+2] == 0xa9):
			b.WriteString(s[start:i])
			if s[i+2] == 0xa8 {
				b.WriteString(`\u2028`)
			} else {
				b.WriteString(`\u2029`)
			}
			i += 3
			start = i
			continue
		default:
			i++
			continue
		}
		b.WriteString(s[start:i])
		b.WriteString(esc)
		i++
		start = i
	}
	b.WriteString(s[start:])
	b.WriteByte('\'')
}

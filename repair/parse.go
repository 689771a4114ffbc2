package repair

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"extract-core/format"
)

// ParseError reports text that could not be decoded even after the lenient
// rewrites.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "invalid JSON: " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

// ParseTolerant decodes model output as JSON. Byte-order marks and code
// fences are stripped first. When the strict decode fails, trailing-comma
// removal and single-quote normalisation are tried alone and then together;
// a rewrite only counts if the rewritten text decodes cleanly.
func ParseTolerant(text string) (any, error) {
	text = strings.TrimSpace(strings.TrimPrefix(text, "\ufeff"))
	text = strings.TrimSpace(format.StripCodeFences(text))

	v, strictErr := decodeStrict(text)
	if strictErr == nil {
		return v, nil
	}

	candidates := []string{
		removeTrailingCommas(text),
		normalizeQuotes(text),
		removeTrailingCommas(normalizeQuotes(text)),
	}
	for _, c := range candidates {
		if c == text {
			continue
		}
		if v, err := decodeStrict(c); err == nil {
			return v, nil
		}
	}
	return nil, &ParseError{Err: strictErr}
}

// decodeStrict decodes exactly one JSON value with numbers kept as
// json.Number.
func decodeStrict(text string) (any, error) {
	if text == "" {
		return nil, errors.New("empty input")
	}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}
	return v, nil
}

// removeTrailingCommas drops commas that directly precede a closing bracket
// or brace, outside string literals.
func removeTrailingCommas(text string) string {
	var b bytes.Buffer
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(text) && strings.IndexByte(" \t\r\n", text[j]) >= 0 {
				j++
			}
			if j < len(text) && (text[j] == '}' || text[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// normalizeQuotes rewrites single-quoted string literals as double-quoted
// ones, leaving double-quoted literals untouched.
func normalizeQuotes(text string) string {
	var b strings.Builder
	const (
		outside = iota
		inDouble
		inSingle
	)
	state, escaped := outside, false
	for _, r := range text {
		switch state {
		case outside:
			switch r {
			case '"':
				state = inDouble
				b.WriteRune(r)
			case '\'':
				state = inSingle
				b.WriteByte('"')
			default:
				b.WriteRune(r)
			}
		case inDouble:
			b.WriteRune(r)
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				state = outside
			}
		case inSingle:
			switch {
			case escaped:
				escaped = false
				if r == '\'' {
					b.WriteRune('\'')
				} else {
					b.WriteByte('\\')
					b.WriteRune(r)
				}
			case r == '\\':
				escaped = true
			case r == '\'':
				state = outside
				b.WriteByte('"')
			case r == '"':
				b.WriteString(`\"`)
			default:
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

package extract

import (
	"fmt"
	"strings"
)

// EnvelopeMismatchError means the response did not contain `callback(...)`
// for the callback that was sent.
type EnvelopeMismatchError struct {
	Callback string
	Reason   string
}

func (e *EnvelopeMismatchError) Error() string {
	return fmt.Sprintf("jsonp envelope %s: %s", e.Callback, e.Reason)
}

// UnwrapJSONP returns the text between `callback(` and its matching `)`.
// Nesting depth is tracked over (), [] and {} outside of string literals, so
// parentheses inside the payload never end the envelope early.
func UnwrapJSONP(body, callback string) (string, error) {
	if callback == "" {
		return "", &EnvelopeMismatchError{Reason: "empty callback"}
	}

	idx := strings.Index(body, callback)
	for idx >= 0 {
		rest := strings.TrimLeft(body[idx+len(callback):], " \t\r\n")
		if strings.HasPrefix(rest, "(") {
			return scanEnvelope(rest[1:], callback)
		}
		next := strings.Index(body[idx+1:], callback)
		if next < 0 {
			break
		}
		idx += next + 1
	}
	return "", &EnvelopeMismatchError{Callback: callback, Reason: "callback not found"}
}

func scanEnvelope(payload, callback string) (string, error) {
	depth := 0
	var quote byte
	escaped := false

	for i := 0; i < len(payload); i++ {
		c := payload[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}

		switch c {
		case '"', '\'':
			quote = c
		case '(', '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth < 0 {
				return "", &EnvelopeMismatchError{Callback: callback, Reason: "unbalanced payload"}
			}
		case ')':
			if depth == 0 {
				return strings.TrimSpace(payload[:i]), nil
			}
			depth--
		}
	}
	return "", &EnvelopeMismatchError{Callback: callback, Reason: "unterminated envelope"}
}

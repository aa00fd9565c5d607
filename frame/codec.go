// Package frame encodes and decodes the flat ASCII messages exchanged between
// peers and with the directory host.
//
// A payload is a command tag followed by arguments, joined with Delimiter.
// There is no length prefix and no terminator: a message ends where the
// sender closes its side of the stream.
package frame

import (
	"errors"
	"strconv"
	"strings"
)

const (
	// Delimiter separates fields of peer-link and directory traffic.
	Delimiter = "@"

	// LineDelimiter separates lines of legacy line-based payloads.
	LineDelimiter = "\r\n"
)

var (
	// ErrMalformed reports a field that could not be parsed.
	ErrMalformed = errors.New("frame: malformed message")

	// ErrUnknownCommand reports a command tag outside the protocol.
	ErrUnknownCommand = errors.New("frame: unknown command")

	// ErrEmpty reports an empty payload.
	ErrEmpty = errors.New("frame: empty payload")
)

// Encode joins command and fields with Delimiter.
func Encode(command string, fields ...string) string {
	if len(fields) == 0 {
		return command
	}
	return command + Delimiter + strings.Join(fields, Delimiter)
}

// Decode splits payload on every occurrence of delim. Empty fields are kept:
// arguments are addressed by index, so dropping one would shift the rest.
func Decode(payload, delim string) []string {
	return strings.Split(payload, delim)
}

// DecodeLines splits a legacy line-based payload on CRLF and drops empty
// lines. Line payloads are re-framed per request and never index-addressed.
func DecodeLines(payload string) []string {
	parts := strings.Split(payload, LineDelimiter)
	lines := parts[:0]
	for _, p := range parts {
		if p != "" {
			lines = append(lines, p)
		}
	}
	return lines
}

// FormatFloat renders v with the fewest digits that parse back to v.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(fields []string, i int, name string) (float64, error) {
	if i >= len(fields) {
		return 0, &FieldError{Field: name, Index: i, Err: ErrMalformed}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
	if err != nil {
		return 0, &FieldError{Field: name, Index: i, Value: fields[i], Err: ErrMalformed}
	}
	return v, nil
}

// FieldError describes which argument of a message failed to parse.
type FieldError struct {
	Field string
	Index int
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Value == "" {
		return e.Err.Error() + ": missing field " + e.Field + " at index " + strconv.Itoa(e.Index)
	}
	return e.Err.Error() + ": field " + e.Field + " at index " + strconv.Itoa(e.Index) + ": " + strconv.Quote(e.Value)
}

func (e *FieldError) Unwrap() error { return e.Err }

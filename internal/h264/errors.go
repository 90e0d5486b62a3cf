package h264

import (
	"errors"
	"fmt"
)

var (
	// ErrNALTypeMismatch is returned when a parser is handed a NAL unit of
	// the wrong type.
	ErrNALTypeMismatch = errors.New("h264: nal unit type mismatch")
	// ErrOutOfRange is returned when a syntax element exceeds its legal range.
	ErrOutOfRange = errors.New("h264: syntax element out of range")
	// ErrEmptyNAL is returned for a zero-length NAL unit.
	ErrEmptyNAL = errors.New("h264: empty nal unit")
)

// ParseError records which syntax element was being read when parsing
// failed. It wraps the underlying bitstream or range error.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("h264: parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

package bare

import (
	"errors"
	"fmt"
	"io"
)

// Encode and decode errors. Every failure returned by this package wraps one
// of these or is an *IOError, so callers can test with errors.Is.
var (
	ErrInvalidVarint            = errors.New("bare: invalid variable-length integer")
	ErrInvalidUTF8              = errors.New("bare: invalid utf-8 in string")
	ErrInvalidBool              = errors.New("bare: invalid boolean byte")
	ErrInvalidChar              = errors.New("bare: invalid unicode codepoint in char")
	ErrLengthOverflow           = errors.New("bare: length does not fit")
	ErrSequenceLengthRequired   = errors.New("bare: sequence length required")
	ErrMapLengthRequired        = errors.New("bare: map length required")
	ErrUnsupported              = errors.New("bare: unsupported by a non self-describing format")
	ErrUnrecognizedDiscriminant = errors.New("bare: unrecognized union discriminant")
	ErrLimitExceeded            = errors.New("bare: limit exceeded")
	ErrTrailingData             = errors.New("bare: trailing data after value")
)

// IOError reports a failure of the underlying sink or source. A source that
// ends in the middle of a value produces an IOError wrapping io.ErrUnexpectedEOF.
type IOError struct {
	Op     string // "read" or "write"
	Offset int64  // bytes consumed or produced before the failure
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("bare: %s at offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsIO reports whether err was caused by the underlying sink or source.
func IsIO(err error) bool {
	var ioe *IOError
	return errors.As(err, &ioe)
}

// UnrecognizedTag builds the error an Unmarshaler returns from a ReadUnion
// callback when tag selects no variant.
func UnrecognizedTag(tag uint64) error {
	return fmt.Errorf("%w: %d", ErrUnrecognizedDiscriminant, tag)
}

// unexpectedEOF upgrades a clean io.EOF in the middle of a value.
func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

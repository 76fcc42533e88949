package measurement

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidData reports a malformed or out-of-range payload.
	ErrInvalidData = errors.New("invalid measurement data")

	// ErrNoValue reports a well-formed payload that does not yield a value
	// yet, such as the first crank event of a session.
	ErrNoValue = errors.New("no measurement value")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidData, fmt.Sprintf(format, args...))
}

// Decoder turns notification payloads into a single integer reading.
type Decoder interface {
	Decode(data []byte) (int, error)
}

// DecoderFunc adapts a plain function to Decoder.
type DecoderFunc func(data []byte) (int, error)

func (f DecoderFunc) Decode(data []byte) (int, error) { return f(data) }

package position

import (
	"errors"
	"fmt"
)

// ErrNoPosition is wrapped by validation failures for envelopes without coordinates.
var ErrNoPosition = errors.New("envelope has no position")

// DecodeError reports bytes that are not a structurally valid wire message.
// Decode errors are permanent: redelivering the same bytes cannot fix them.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode vehicle position: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ValidationError reports a structurally valid envelope that breaks an invariant.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid vehicle position: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func IsDecodeError(err error) bool {
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr)
}

func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

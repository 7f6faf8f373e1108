package decode

import (
	"fmt"

	gwerrors "github.com/covgateway/gateway/errors"
)

// ErrorKind names one of the five rejection reasons a decode can produce.
type ErrorKind string

const (
	ErrInvalidJSON        ErrorKind = "invalid_json"
	ErrMissingField       ErrorKind = "missing_field"
	ErrInvalidType        ErrorKind = "invalid_type"
	ErrInvalidValue       ErrorKind = "invalid_value"
	ErrUnknownMessageType ErrorKind = "unknown_message_type"
)

// FieldError carries the offending field path alongside the rejection
// kind, for logging. It is always wrapped in a gwerrors.ClassifiedError
// with class ErrorInvalid before it leaves this package.
type FieldError struct {
	Kind  ErrorKind
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: field %q: %v", e.Kind, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

func fieldErr(kind ErrorKind, field string, err error) error {
	fe := &FieldError{Kind: kind, Field: field, Err: err}
	return gwerrors.WrapInvalid(fe, "decode", "Decode", string(kind))
}

// Kind extracts the FieldError.Kind from err, if err wraps one.
func Kind(err error) (ErrorKind, bool) {
	if !gwerrors.IsInvalid(err) {
		return "", false
	}
	if fe, ok := unwrapFieldError(err); ok {
		return fe.Kind, true
	}
	return "", false
}

func unwrapFieldError(err error) (*FieldError, bool) {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if fe, ok := err.(*FieldError); ok {
			return fe, true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

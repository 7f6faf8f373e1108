package registry

import (
	"errors"
	"fmt"

	gwerrors "github.com/covgateway/gateway/errors"
)

// Sentinel causes wrapped by gwerrors.WrapInvalid; callers use errors.Is
// against these, not against the wrapped ClassifiedError directly.
var (
	ErrKindMismatch    = errors.New("value kind mismatch")
	ErrNotFound        = errors.New("object not found")
	ErrOutOfRange      = errors.New("value out of range")
	ErrCapacityInvalid = errors.New("invalid offset configuration")
)

func kindMismatch(key fmt.Stringer) error {
	return gwerrors.WrapInvalid(fmt.Errorf("%w: %s", ErrKindMismatch, key), "registry", "Apply", "kind_mismatch")
}

func notFound(key fmt.Stringer) error {
	return gwerrors.WrapInvalid(fmt.Errorf("%w: %s", ErrNotFound, key), "registry", "Apply", "not_found")
}

func outOfRange(key fmt.Stringer, detail string) error {
	return gwerrors.WrapInvalid(fmt.Errorf("%w: %s: %s", ErrOutOfRange, key, detail), "registry", "Apply", "out_of_range")
}

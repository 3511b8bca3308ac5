package blockdev

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfRange  = errors.New("access beyond end of device")
	ErrInvalidSize = errors.New("size is not a multiple of the sector size")
	ErrUnsupported = errors.New("operation not supported by encrypted device")
	ErrClosed      = errors.New("device is closed")
	ErrMediumIO    = errors.New("medium i/o error")
)

// MediumError records a failure of the underlying storage handle.
// It matches ErrMediumIO and unwraps to the storage error.
type MediumError struct {
	Op     string
	Offset int64
	Err    error
}

func (e *MediumError) Error() string {
	return fmt.Sprintf("%s at offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *MediumError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrMediumIO.
func (e *MediumError) Is(target error) bool {
	return target == ErrMediumIO
}

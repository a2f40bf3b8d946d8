package device

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceGone       = errors.New("device is detached")
	ErrNotAttached      = errors.New("device is not attached")
	ErrAlreadyAttached  = errors.New("device is already attached")
	ErrQueueClosed      = errors.New("device queue is closed")
	ErrReadOnlyFeature  = errors.New("feature is exposed as a read-only sensor")
	ErrUnsupportedState = errors.New("bolt state is not supported by this lock")
	ErrNotSupported     = errors.New("operation not supported by this device variant")
)

// CapabilityMutationError is a failure adding, removing or writing a
// capability. It aborts the current pass.
type CapabilityMutationError struct {
	DeviceID   string
	Capability string
	Op         string
	Err        error
}

func (e *CapabilityMutationError) Error() string {
	if e == nil {
		return "capability mutation failed"
	}
	return fmt.Sprintf("device %s: %s capability %s: %v", e.DeviceID, e.Op, e.Capability, e.Err)
}

func (e *CapabilityMutationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

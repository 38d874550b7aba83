package netx

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport wraps failures reported by the bus. The underlying bus error
	// stays reachable through errors.Is / errors.As.
	ErrTransport          = errors.New("netx: bus transfer failed")
	ErrUnrecognizedFamily = errors.New("netx: model not recognized")
	ErrUnsupported        = errors.New("netx: operation not supported")
	ErrInvalidArgument    = errors.New("netx: invalid argument")
)

// UnrecognizedFamilyError reports the raw discovery bytes that matched no
// classification rule.
type UnrecognizedFamilyError struct {
	Response [3]byte
}

func (e *UnrecognizedFamilyError) Error() string {
	return fmt.Sprintf("%s: read %02x %02x %02x", ErrUnrecognizedFamily, e.Response[0], e.Response[1], e.Response[2])
}

func (e *UnrecognizedFamilyError) Is(target error) bool {
	return target == ErrUnrecognizedFamily
}

func transportError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

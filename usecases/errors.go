package usecases

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: unknown device or content id.
	ErrNotFound = errors.New("not found")
	// ErrUnknownDevice: sync/heartbeat from a device that never registered.
	// Devices should fall back to registration instead of retrying.
	ErrUnknownDevice = errors.New("unknown device")
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidTransition: command not legal for the device's declared state.
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidCommand    = errors.New("invalid command")
	ErrInvalidArgument   = errors.New("invalid argument")
	// ErrTransient: storage unavailable; the caller may retry.
	ErrTransient = errors.New("transient storage failure")
	// ErrStaleWrite: heartbeat older than what is already applied. Never
	// returned to callers.
	ErrStaleWrite = errors.New("stale write")
)

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

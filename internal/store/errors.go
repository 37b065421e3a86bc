package store

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyText is returned by Add when the text is empty or whitespace.
	ErrEmptyText = errors.New("task text is empty")

	// ErrCorruptState is matched by every CorruptStateError.
	ErrCorruptState = errors.New("corrupt task state")

	// ErrIO is matched by every IOError.
	ErrIO = errors.New("task storage i/o failure")
)

// CorruptStateError reports a storage file that exists but does not hold a
// valid task list.
type CorruptStateError struct {
	Path string
	Err  error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt task file %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *CorruptStateError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrCorruptState.
func (e *CorruptStateError) Is(target error) bool {
	return target == ErrCorruptState
}

// IOError reports a failed read or write of the storage target.
type IOError struct {
	Op   string // "read" or "write"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *IOError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrIO.
func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

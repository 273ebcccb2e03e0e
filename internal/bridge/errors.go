package bridge

import (
	"errors"
	"fmt"
)

// Init failure reasons, matched with errors.Is against an *InitError.
var (
	ErrModuleNotFound = errors.New("backend module not found")
	ErrModuleInvalid  = errors.New("backend module invalid")
	ErrIntegrity      = errors.New("backend module integrity check failed")
)

// InitError reports that the backend could not be brought up. It is cached:
// every later call on the same Bridge returns the same error.
type InitError struct {
	Reason error
	Err    error
}

func (e *InitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("bridge init: %v", e.Reason)
	}
	return fmt.Sprintf("bridge init: %v: %v", e.Reason, e.Err)
}

func (e *InitError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

// ExecutionError carries an exception raised by the backend while handling
// a command. Message is the exception text as the backend produced it.
type ExecutionError struct {
	Command string
	Message string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("backend raised on %q: %s", e.Command, e.Message)
}

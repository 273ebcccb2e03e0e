package shell

import (
	"fmt"
)

// ValidationError rejects a request before it reaches the bridge.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// BackendError is a well-formed backend reply whose status is not success.
type BackendError struct {
	Command string
	Message string
}

func (e *BackendError) Error() string {
	return "backend error: " + e.Message
}

// BridgeError wraps a failure to get any reply out of the bridge.
type BridgeError struct {
	Command string
	Err     error
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("bridge error: %v", e.Err)
}

func (e *BridgeError) Unwrap() error { return e.Err }

// ErrorString flattens err to the single descriptive string handed to
// callers outside the process. A nil error flattens to "".
func ErrorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

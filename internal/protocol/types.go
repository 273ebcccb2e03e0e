package protocol

import "encoding/json"

// Status values returned by the backend.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Envelope is the single argument passed to the backend's entry method.
type Envelope struct {
	Command string          `json:"cmd"`
	Payload json.RawMessage `json:"payload"`
}

// Response is the part of a backend result the shell interprets.
// Everything else the backend returns is kept in Extra.
type Response struct {
	Status  string                     `json:"status"`
	Message string                     `json:"message"`
	TaskID  string                     `json:"task_id,omitempty"`
	Extra   map[string]json.RawMessage `json:"-"`
}

// IsSuccess reports whether the backend accepted the command.
func (r *Response) IsSuccess() bool {
	return r.Status == StatusSuccess
}

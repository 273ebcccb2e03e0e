package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SerializationError reports a value that cannot cross the runtime boundary as JSON.
type SerializationError struct {
	Op  string // "payload" or "result"
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error (%s): %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

var emptyObject = json.RawMessage(`{}`)

// EncodePayload marshals a Go value into a payload.
// Values with no JSON form (NaN, channels, funcs) are rejected.
func EncodePayload(v any) (json.RawMessage, error) {
	if v == nil {
		return emptyObject, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return CheckPayload(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &SerializationError{Op: "payload", Err: err}
	}
	return b, nil
}

// CheckPayload validates raw JSON text before it crosses the boundary.
// An empty payload becomes {}.
func CheckPayload(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return emptyObject, nil
	}
	if !json.Valid(trimmed) {
		return nil, &SerializationError{Op: "payload", Err: fmt.Errorf("payload is not valid JSON")}
	}
	return json.RawMessage(trimmed), nil
}

// EncodeEnvelope renders the envelope as JSON text for the codec.
func EncodeEnvelope(cmd string, payload json.RawMessage) ([]byte, error) {
	payload, err := CheckPayload(payload)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(Envelope{Command: cmd, Payload: payload})
	if err != nil {
		return nil, &SerializationError{Op: "payload", Err: err}
	}
	return b, nil
}

// DecodeResponse parses a backend result. The result must be a JSON object
// with a string status; other fields are kept in Extra.
func DecodeResponse(raw json.RawMessage) (*Response, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("backend result is not a JSON object: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("backend result is null")
	}

	resp := &Response{Extra: make(map[string]json.RawMessage)}
	for k, v := range fields {
		var err error
		switch k {
		case "status":
			err = json.Unmarshal(v, &resp.Status)
		case "message":
			if json.Unmarshal(v, &resp.Message) != nil {
				resp.Message = string(v)
			}
		case "task_id":
			err = json.Unmarshal(v, &resp.TaskID)
		default:
			resp.Extra[k] = v
		}
		if err != nil {
			return nil, fmt.Errorf("backend result field %q: %w", k, err)
		}
	}

	if resp.Status == "" {
		return nil, fmt.Errorf("backend result missing required field: status")
	}
	return resp, nil
}

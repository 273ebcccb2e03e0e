package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mattjoyce/convert/internal/events"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/mattjoyce/convert/internal/tasks Store

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the task has finished one way or another.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

var (
	ErrUnknownKind  = errors.New("unknown task kind")
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskFinished = errors.New("task already finished")
	ErrShuttingDown = errors.New("supervisor is shutting down")
)

// Snapshot is the observable state of one task.
type Snapshot struct {
	ID          string       `json:"task_id"`
	Kind        string       `json:"kind"`
	Status      Status       `json:"status"`
	Phase       events.Phase `json:"phase,omitempty"`
	Progress    float64      `json:"progress"`
	Speed       string       `json:"speed,omitempty"`
	ETA         string       `json:"eta,omitempty"`
	Message     string       `json:"message,omitempty"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Update is one progress report from a Runner.
type Update struct {
	Phase    events.Phase
	Progress float64
	Speed    string
	ETA      string
	Message  string
}

// Runner does the work of one task kind. It reports through rep and returns
// nil on success. It must return promptly once ctx is done.
type Runner interface {
	Run(ctx context.Context, params json.RawMessage, rep *Reporter) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, params json.RawMessage, rep *Reporter) error

func (f RunnerFunc) Run(ctx context.Context, params json.RawMessage, rep *Reporter) error {
	return f(ctx, params, rep)
}

// Emitter receives every progress event. Publish must not block.
type Emitter interface {
	Publish(ev events.ProgressEvent)
}

// Store persists task records so status survives restarts.
type Store interface {
	Create(ctx context.Context, snap Snapshot, params json.RawMessage) error
	Update(ctx context.Context, snap Snapshot) error
	Get(ctx context.Context, id string) (*Snapshot, error)
}

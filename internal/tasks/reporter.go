package tasks

import (
	"sync"

	"github.com/mattjoyce/convert/internal/events"
)

// Reporter is a Runner's handle for publishing progress. It keeps a task's
// event stream well formed: phases never go backwards, progress never
// decreases and stays within [0,100], and nothing follows a terminal event.
type Reporter struct {
	mu       sync.Mutex
	phase    events.Phase
	progress float64
	started  bool
	closed   bool
	result   string
	publish  func(Update)
}

func newReporter(publish func(Update)) *Reporter {
	return &Reporter{publish: publish}
}

// Emit publishes u and reports whether it was accepted. Terminal phases are
// reserved for the supervisor and are refused, as are unknown phases and
// phases earlier than the current one.
func (r *Reporter) Emit(u Update) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || u.Phase.Terminal() || u.Phase.Rank() < 0 {
		return false
	}
	if r.started && u.Phase.Rank() < r.phase.Rank() {
		return false
	}

	u.Progress = clamp(u.Progress)
	if r.started && u.Progress < r.progress {
		u.Progress = r.progress
	}

	r.phase, r.progress, r.started = u.Phase, u.Progress, true
	r.publish(u)
	return true
}

// Complete sets the message carried by the final done event.
func (r *Reporter) Complete(message string) {
	r.mu.Lock()
	r.result = message
	r.mu.Unlock()
}

// Progress returns the last accepted progress value.
func (r *Reporter) Progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// finish publishes the terminal event. Only the first call has any effect.
func (r *Reporter) finish(phase events.Phase, message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || !phase.Terminal() {
		return false
	}
	progress := r.progress
	if phase == events.PhaseDone {
		progress = 100
		if r.result != "" {
			message = r.result
		}
	}

	r.phase, r.progress, r.started, r.closed = phase, progress, true, true
	r.publish(Update{
		Phase:    phase,
		Progress: progress,
		Speed:    "0 MB/s",
		ETA:      "0s",
		Message:  message,
	})
	return true
}

func clamp(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

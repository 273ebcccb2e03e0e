// Package events broadcasts task progress to any number of listeners.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// ProgressChannel is the event name listeners subscribe to.
const ProgressChannel = "backup_progress"

// Phase is a named stage of a background task.
type Phase string

const (
	PhaseInit       Phase = "init"
	PhaseSnapshot   Phase = "snapshot"
	PhaseEncrypting Phase = "encrypting"
	PhaseFinalizing Phase = "finalizing"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

var phaseRank = map[Phase]int{
	PhaseInit:       0,
	PhaseSnapshot:   1,
	PhaseEncrypting: 2,
	PhaseFinalizing: 3,
	PhaseDone:       4,
	PhaseFailed:     4,
	PhaseCancelled:  4,
}

// Rank orders phases; a task's phase rank never decreases. Unknown phases rank -1.
func (p Phase) Rank() int {
	r, ok := phaseRank[p]
	if !ok {
		return -1
	}
	return r
}

// Terminal reports whether nothing may follow this phase.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed || p == PhaseCancelled
}

// ProgressEvent is one progress notification for a task.
type ProgressEvent struct {
	Seq      int64     `json:"seq"`
	At       time.Time `json:"at"`
	TaskID   string    `json:"task_id"`
	Phase    Phase     `json:"phase"`
	Progress float64   `json:"progress"`
	Speed    string    `json:"speed"`
	ETA      string    `json:"eta"`
	Message  string    `json:"message"`
}

// Stats counts hub traffic.
type Stats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

const subscriberBuffer = 128

type subscriber struct {
	taskID string
	ch     chan ProgressEvent
}

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
type Hub struct {
	published atomic.Uint64
	dropped   atomic.Uint64

	// mu also orders seq assignment, so fan-out order matches Seq.
	mu      sync.Mutex
	nextSeq int64
	ring    []ProgressEvent
	start   int
	size    int

	subs      map[int]subscriber
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	return &Hub{
		ring: make([]ProgressEvent, capacity),
		subs: make(map[int]subscriber),
	}
}

// Publish stamps ev and fans it out. It never blocks and never fails;
// a subscriber whose buffer is full misses the event.
func (h *Hub) Publish(ev ProgressEvent) {
	h.mu.Lock()
	h.nextSeq++
	ev.Seq = h.nextSeq
	ev.At = time.Now().UTC()
	h.pushLocked(ev)
	for _, sub := range h.subs {
		if sub.taskID != "" && sub.taskID != ev.TaskID {
			continue
		}
		// Don't let slow clients block producers.
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
	h.mu.Unlock()
	h.published.Add(1)
}

// Subscribe returns a channel of events for taskID, or for every task when
// taskID is empty. The returned func unsubscribes and closes the channel.
func (h *Hub) Subscribe(taskID string) (<-chan ProgressEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan ProgressEvent, subscriberBuffer)
	h.subs[id] = subscriber{taskID: taskID, ch: ch}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if s, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(s.ch)
			}
			h.mu.Unlock()
		})
	}

	return ch, cancel
}

// SnapshotSince returns buffered events with Seq > lastSeq, oldest-first,
// limited to taskID when it is non-empty.
func (h *Hub) SnapshotSince(lastSeq int64, taskID string) []ProgressEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]ProgressEvent, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.Seq <= lastSeq {
			continue
		}
		if taskID != "" && ev.TaskID != taskID {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Stats returns publish and drop counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	subs := len(h.subs)
	h.mu.Unlock()
	return Stats{
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
		Subscribers: subs,
	}
}

func (h *Hub) pushLocked(ev ProgressEvent) {
	capacity := len(h.ring)
	if capacity == 0 {
		return
	}

	if h.size < capacity {
		idx := (h.start + h.size) % capacity
		h.ring[idx] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}

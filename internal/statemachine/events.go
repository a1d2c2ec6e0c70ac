package statemachine

import "time"

// EventType identifies a Machine event.
type EventType string

const (
	// EventStateChanged is published after every accepted transition.
	EventStateChanged EventType = "state_changed"

	// EventTransitionRejected is published when a transition is refused.
	EventTransitionRejected EventType = "transition_rejected"
)

// Event is published to Machine subscribers.
type Event struct {
	Type      EventType     `json:"type"`
	From      State         `json:"from"`
	To        State         `json:"to"`
	Reason    string        `json:"reason,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration_ns,omitempty"`
	Err       error         `json:"-"`
}

// ring is a fixed-capacity transition history. Not safe for concurrent use;
// the Machine guards it with its own lock.
type ring struct {
	buf   []Record
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Record, capacity)}
}

func (r *ring) push(rec Record) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = rec
		r.size++
		return
	}
	r.buf[r.start] = rec
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) at(i int) Record {
	return r.buf[(r.start+i)%len(r.buf)]
}

// last returns up to n most recent records, oldest first.
func (r *ring) last(n int) []Record {
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]Record, 0, n)
	for i := r.size - n; i < r.size; i++ {
		out = append(out, r.at(i))
	}
	return out
}

// pausedFrom finds the direction that was interrupted by the most recent
// entry into paused.
func (r *ring) pausedFrom() (State, bool) {
	for i := r.size - 1; i >= 0; i-- {
		rec := r.at(i)
		if rec.To != StatePaused {
			continue
		}
		if rec.From.IsMoving() {
			return rec.From, true
		}
		return "", false
	}
	return "", false
}

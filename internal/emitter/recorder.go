package emitter

import (
	"sync"
	"time"

	"prayercall/internal/prayer"
)

// Recorder is an Observer that captures an EventTrace. Delays are measured
// between scheduled instants, so a run against the real clock records the same
// trace as a run against a virtual clock. Lateness keeps the real-clock offsets.
type Recorder struct {
	mu       sync.Mutex
	origin   time.Time
	quantum  time.Duration
	until    time.Time
	prev     time.Time
	entries  []prayer.TraceEntry
	lateness []time.Duration
	err      error
	done     chan struct{}
	closed   bool
}

// NewRecorder records events scheduled after origin. Events past until (when
// non-zero) end the recording as if the session had completed.
func NewRecorder(origin, until time.Time, quantum time.Duration) *Recorder {
	if quantum <= 0 {
		quantum = prayer.Quantum
	}
	return &Recorder{origin: origin, until: until, quantum: quantum, done: make(chan struct{})}
}

func (r *Recorder) OnEvent(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if !r.until.IsZero() && ev.At.After(r.until) {
		r.closeLocked()
		return nil
	}
	var d time.Duration
	if len(r.entries) == 0 {
		d = ev.At.Sub(r.origin)
	} else {
		d = ev.At.Sub(r.prev) - r.quantum
	}
	r.prev = ev.At
	r.entries = append(r.entries, prayer.TraceEntry{DelayMs: d.Milliseconds(), Index: ev.Index})
	r.lateness = append(r.lateness, ev.FiredAt.Sub(ev.At))
	return nil
}

func (r *Recorder) OnComplete() {
	r.mu.Lock()
	r.closeLocked()
	r.mu.Unlock()
}

func (r *Recorder) OnError(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.closeLocked()
	r.mu.Unlock()
}

func (r *Recorder) closeLocked() {
	if !r.closed {
		r.closed = true
		close(r.done)
	}
}

// Done is closed once the session completed, failed or passed until.
func (r *Recorder) Done() <-chan struct{} { return r.done }

func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) Trace() prayer.EventTrace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return prayer.EventTrace{Entries: append([]prayer.TraceEntry(nil), r.entries...)}
}

// Lateness returns FiredAt-At for every recorded event.
func (r *Recorder) Lateness() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.lateness...)
}

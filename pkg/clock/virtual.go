package clock

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// Virtual is a manually advanced clock. It is safe for concurrent use, but
// callbacks always run on the goroutine calling Advance/AdvanceTo.
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	q       timerQueue
	stopped bool
}

func NewVirtual(start time.Time) *Virtual {
	v := &Virtual{now: start}
	heap.Init(&v.q)
	return v
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) AfterFunc(d time.Duration, f func()) (Timer, error) {
	if f == nil {
		return nil, errors.New("clock: nil callback")
	}
	if d < 0 {
		d = 0
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped {
		return nil, ErrStopped
	}
	v.seq++
	t := &virtualTimer{clock: v, at: v.now.Add(d), seq: v.seq, fn: f, idx: -1}
	heap.Push(&v.q, t)
	return t, nil
}

// Advance moves time forward by d and returns the number of callbacks run.
func (v *Virtual) Advance(d time.Duration) int {
	return v.AdvanceTo(v.Now().Add(d))
}

// AdvanceTo runs every timer due at or before target in (deadline, arming)
// order, setting Now to each deadline while its callback runs. Timers armed by
// callbacks are flushed too when they fall inside target. Time never moves
// backwards: an earlier target only flushes what is already due.
func (v *Virtual) AdvanceTo(target time.Time) int {
	fired := 0
	for {
		v.mu.Lock()
		if v.q.Len() == 0 || v.q[0].at.After(target) {
			if target.After(v.now) {
				v.now = target
			}
			v.mu.Unlock()
			return fired
		}
		t := heap.Pop(&v.q).(*virtualTimer)
		if t.at.After(v.now) {
			v.now = t.at
		}
		fn := t.fn
		v.mu.Unlock()

		fn()
		fired++
	}
}

// RunAll advances through every pending timer, including timers armed along the
// way, and stops after limit callbacks (limit <= 0 means no limit).
func (v *Virtual) RunAll(limit int) int {
	fired := 0
	for limit <= 0 || fired < limit {
		next, ok := v.Next()
		if !ok {
			break
		}
		n := v.AdvanceTo(next)
		if n == 0 {
			break
		}
		fired += n
	}
	return fired
}

// Next returns the deadline of the earliest pending timer.
func (v *Virtual) Next() (time.Time, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.q.Len() == 0 {
		return time.Time{}, false
	}
	return v.q[0].at, true
}

// Pending returns the number of armed timers.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.q.Len()
}

// Close drops pending timers and makes AfterFunc fail with ErrStopped.
func (v *Virtual) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
	for _, t := range v.q {
		t.idx = -1
	}
	v.q = v.q[:0]
}

type virtualTimer struct {
	clock *Virtual
	at    time.Time
	seq   uint64
	fn    func()
	idx   int // heap index, -1 when not queued
}

func (t *virtualTimer) Stop() bool {
	v := t.clock
	v.mu.Lock()
	defer v.mu.Unlock()
	if t.idx < 0 {
		return false
	}
	heap.Remove(&v.q, t.idx)
	return true
}

// timerQueue orders timers by deadline, then by arming order.
type timerQueue []*virtualTimer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].idx = i
	q[j].idx = j
}

func (q *timerQueue) Push(x any) {
	t := x.(*virtualTimer)
	t.idx = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.idx = -1
	*q = old[:n-1]
	return t
}

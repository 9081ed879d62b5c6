package emitter

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"prayercall/internal/prayer"
	"prayercall/pkg/clock"
	logx "prayercall/pkg/logx"
)

type subscription struct {
	h Handle
	o Observer
}

// Status is a point-in-time view of the emitter.
type Status struct {
	Running     bool
	Paused      bool
	Cursor      int
	Len         int
	Subscribers int
	Next        time.Time
	Delivered   uint64
	Failures    uint64
}

// Emitter owns one timeline: a plan, a cursor into it and at most one timer.
type Emitter struct {
	clock clock.Clock
	log   logx.Logger

	mu      sync.Mutex
	subs    []subscription
	nextH   Handle
	session uint64
	token   uint64
	plan    prayer.Plan
	targets []time.Time
	cursor  int
	timer   clock.Timer
	running bool
	paused  bool
	onDrain func()
	onFail  func(error)

	delivered atomic.Uint64
	failures  atomic.Uint64
}

func New(c clock.Clock, log logx.Logger) *Emitter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Emitter{clock: c, log: log}
}

// OnDrain installs the hook run after the last event of a session has been
// delivered and observers were told the session completed.
func (e *Emitter) OnDrain(fn func()) {
	e.mu.Lock()
	e.onDrain = fn
	e.mu.Unlock()
}

// OnFail installs the hook run after a session ended on a timer or platform
// failure and observers were told.
func (e *Emitter) OnFail(fn func(error)) {
	e.mu.Lock()
	e.onFail = fn
	e.mu.Unlock()
}

// Subscribe registers o. Observers are called in subscription order. A paused
// chain resumes, skipping events whose instant has already passed.
func (e *Emitter) Subscribe(o Observer) Handle {
	if o == nil {
		return 0
	}
	e.mu.Lock()
	e.nextH++
	h := e.nextH
	e.subs = append(e.subs, subscription{h: h, o: o})
	if !e.running || !e.paused {
		e.mu.Unlock()
		return h
	}
	e.paused = false
	session := e.session
	e.log.Debug("observer joined; resuming", logx.Int("cursor", e.cursor))
	done, err := e.resumeLocked()
	e.mu.Unlock()

	switch {
	case err != nil:
		e.fail(session, err)
	case done:
		e.complete(session)
	}
	return h
}

// Unsubscribe removes a subscription. It reports false for unknown handles.
// Removing the last observer stops timer arming until the next Subscribe.
func (e *Emitter) Unsubscribe(h Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := -1
	for i, s := range e.subs {
		if s.h == h {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	e.subs = append(e.subs[:idx:idx], e.subs[idx+1:]...)
	if len(e.subs) == 0 && e.running && !e.paused {
		e.paused = true
		e.stopTimerLocked()
		e.log.Debug("last observer left; pausing", logx.Int("cursor", e.cursor))
	}
	return true
}

// Schedule replaces any running session with p. An empty plan is rejected with
// prayer.ErrEmptySchedule. A failure to arm the first timer ends the session,
// is reported to observers and returned.
func (e *Emitter) Schedule(p prayer.Plan) error {
	if p.Len() == 0 {
		return prayer.ErrEmptySchedule
	}
	targets := p.FiringInstants()

	e.mu.Lock()
	e.stopTimerLocked()
	e.session++
	session := e.session
	e.plan = p
	e.targets = targets
	e.cursor = 0
	e.running = true
	e.paused = len(e.subs) == 0
	if e.paused {
		e.mu.Unlock()
		e.log.Debug("session scheduled without observers; paused", logx.Int("events", p.Len()))
		return nil
	}
	err := e.armLocked()
	e.mu.Unlock()

	if err != nil {
		e.fail(session, err)
		return err
	}
	e.log.Debug("session scheduled", logx.Int("events", p.Len()), logx.Time("first", targets[0]))
	return nil
}

// Cancel ends the current session. No event is delivered afterwards, even from
// a timer that is already running.
func (e *Emitter) Cancel() {
	e.mu.Lock()
	wasRunning := e.running
	e.session++
	e.stopTimerLocked()
	e.running = false
	e.paused = false
	e.mu.Unlock()
	if wasRunning {
		e.log.Debug("session cancelled")
	}
}

// Fail ends the current session and reports err to every observer.
func (e *Emitter) Fail(err error) {
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()
	e.fail(session, err)
}

func (e *Emitter) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		Running:     e.running,
		Paused:      e.paused,
		Cursor:      e.cursor,
		Len:         len(e.targets),
		Subscribers: len(e.subs),
		Delivered:   e.delivered.Load(),
		Failures:    e.failures.Load(),
	}
	if e.running && e.cursor < len(e.targets) {
		st.Next = e.targets[e.cursor]
	}
	return st
}

// resync returns the wait until target measured from the clock's current
// reading, so lateness of the previous timer is absorbed instead of summed.
func (e *Emitter) resync(target time.Time) time.Duration {
	wait := target.Sub(e.clock.Now())
	if wait < 0 {
		return 0
	}
	return wait
}

func (e *Emitter) armLocked() error {
	e.token++
	token := e.token
	target := e.targets[e.cursor]
	t, err := e.clock.AfterFunc(e.resync(target), func() { e.fire(token) })
	if err != nil {
		return fmt.Errorf("arm timer for event %d: %w", e.plan.Delays[e.cursor].Index, err)
	}
	e.timer = t
	return nil
}

func (e *Emitter) stopTimerLocked() {
	e.token++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// resumeLocked skips elapsed events and arms the next one. done reports that
// nothing is left in the session.
func (e *Emitter) resumeLocked() (done bool, err error) {
	now := e.clock.Now()
	skipped := 0
	for e.cursor < len(e.targets) && !e.targets[e.cursor].After(now) {
		e.cursor++
		skipped++
	}
	if skipped > 0 {
		e.log.Debug("skipped elapsed events while paused", logx.Int("skipped", skipped))
	}
	if e.cursor >= len(e.targets) {
		return true, nil
	}
	return false, e.armLocked()
}

func (e *Emitter) fire(token uint64) {
	e.mu.Lock()
	if token != e.token || !e.running || e.paused || e.cursor >= len(e.targets) {
		e.mu.Unlock()
		return
	}
	e.timer = nil
	session := e.session
	d := e.plan.Delays[e.cursor]
	ev := Event{
		Index:   d.Index,
		Kind:    d.Kind,
		Prayer:  d.Prayer,
		At:      e.targets[e.cursor],
		FiredAt: e.clock.Now(),
	}
	subs := append([]subscription(nil), e.subs...)
	e.mu.Unlock()

	if late := ev.FiredAt.Sub(ev.At); late > 50*time.Millisecond {
		e.log.Debug("timer fired late", logx.Int("index", ev.Index), logx.Duration("late", late))
	}
	e.deliver(session, subs, ev)

	e.mu.Lock()
	if session != e.session || !e.running {
		e.mu.Unlock()
		return
	}
	e.cursor++
	if e.cursor >= len(e.targets) {
		e.mu.Unlock()
		e.complete(session)
		return
	}
	if e.paused {
		e.mu.Unlock()
		return
	}
	err := e.armLocked()
	e.mu.Unlock()
	if err != nil {
		e.fail(session, err)
	}
}

func (e *Emitter) complete(session uint64) {
	e.mu.Lock()
	if session != e.session || !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.paused = false
	subs := append([]subscription(nil), e.subs...)
	drain := e.onDrain
	n := len(e.targets)
	e.mu.Unlock()

	e.log.Debug("session complete", logx.Int("events", n))
	for _, s := range subs {
		if !e.subscribed(s.h) {
			continue
		}
		e.safeCall(s.h, "complete", func() error { s.o.OnComplete(); return nil })
	}
	if drain != nil {
		drain()
	}
}

func (e *Emitter) fail(session uint64, err error) {
	e.mu.Lock()
	if session != e.session {
		e.mu.Unlock()
		return
	}
	e.session++
	e.stopTimerLocked()
	e.running = false
	e.paused = false
	subs := append([]subscription(nil), e.subs...)
	hook := e.onFail
	e.mu.Unlock()

	e.log.Error("session failed", logx.Err(err))
	for _, s := range subs {
		if !e.subscribed(s.h) {
			continue
		}
		e.safeCall(s.h, "error", func() error { s.o.OnError(err); return nil })
	}
	if hook != nil {
		hook(err)
	}
}

// deliver fans ev out in subscription order. Each observer is checked right
// before its call, so one unsubscribed or a session cancelled by an earlier
// observer gets nothing more.
func (e *Emitter) deliver(session uint64, subs []subscription, ev Event) {
	for _, s := range subs {
		if !e.live(session, s.h) {
			continue
		}
		e.safeCall(s.h, "event", func() error { return s.o.OnEvent(ev) })
	}
	e.delivered.Add(1)
	e.log.Debug("event emitted",
		logx.Int("index", ev.Index),
		logx.String("kind", ev.Kind.String()),
		logx.String("prayer", ev.Prayer.String()),
		logx.Int("observers", len(subs)),
	)
}

func (e *Emitter) live(session uint64, h Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return session == e.session && e.running && e.hasLocked(h)
}

func (e *Emitter) subscribed(h Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasLocked(h)
}

func (e *Emitter) hasLocked(h Handle) bool {
	for _, s := range e.subs {
		if s.h == h {
			return true
		}
	}
	return false
}

// safeCall isolates one observer callback: errors and panics are logged and
// counted, never propagated.
func (e *Emitter) safeCall(h Handle, what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.failures.Add(1)
			e.log.Warn("observer panicked", logx.Uint64("handle", uint64(h)), logx.String("callback", what), logx.Any("panic", r))
		}
	}()
	if err := fn(); err != nil {
		e.failures.Add(1)
		e.log.Warn("observer failed", logx.Uint64("handle", uint64(h)), logx.String("callback", what), logx.Err(err))
	}
}

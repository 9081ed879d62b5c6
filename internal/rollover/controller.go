// Package rollover keeps an emitter fed with one day of events after another.
//
// The controller builds today's plan from a Source, hands it to the emitter and
// waits for the emitter to drain. On drain it builds again from the drain
// instant; since every event of the finished day is then in the past, the build
// comes back empty and the controller moves to the following day. Empty builds
// are bounded by LookaheadDays so broken timetables cannot loop forever.
package rollover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"prayercall/internal/emitter"
	"prayercall/internal/eventbus"
	"prayercall/internal/prayer"
	"prayercall/pkg/clock"
	logx "prayercall/pkg/logx"
)

var ErrAlreadyStarted = errors.New("rollover: already started")

type Config struct {
	// Location defines calendar days. Nil means time.Local.
	Location *time.Location
	Iqama    prayer.IqamaConfig
	// Quantum <= 0 selects prayer.Quantum.
	Quantum time.Duration
	// LookaheadDays bounds how many consecutive days are tried when builds come
	// back empty. Default 2 (today and tomorrow).
	LookaheadDays int
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Quantum <= 0 {
		c.Quantum = prayer.Quantum
	}
	if c.LookaheadDays <= 0 {
		c.LookaheadDays = 2
	}
	return c
}

// Status is a point-in-time view for logs and the CLI.
type Status struct {
	State  State
	Day    time.Time
	Events int
	Iqama  string
	Next   time.Time
}

type Controller struct {
	clock  clock.Clock
	source Source
	em     *emitter.Emitter
	log    logx.Logger
	bus    eventbus.Bus

	// buildMu serializes builds triggered by drain and by reconfiguration.
	buildMu sync.Mutex

	mu      sync.Mutex
	cfg     Config
	state   State
	session uint64
	ctx     context.Context
	day     time.Time
	plan    prayer.Plan
}

func New(cfg Config, c clock.Clock, src Source, em *emitter.Emitter, log logx.Logger, bus eventbus.Bus) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctl := &Controller{
		clock:  c,
		source: src,
		em:     em,
		log:    log,
		bus:    bus,
		cfg:    cfg.withDefaults(),
		ctx:    context.Background(),
	}
	em.OnDrain(ctl.onDrain)
	em.OnFail(ctl.onFail)
	return ctl
}

// Start begins a session: the current day is built and scheduled. Errors are
// also reported to the emitter's observers and leave the controller Idle.
func (c *Controller) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.session++
	session := c.session
	c.ctx = ctx
	c.mu.Unlock()

	return c.build(session)
}

// Cancel ends the session from any state. The controller stays Idle until the
// next Start.
func (c *Controller) Cancel() {
	c.mu.Lock()
	from := c.state
	c.session++
	c.state = Idle
	day := c.day
	c.mu.Unlock()

	c.em.Cancel()
	if from != Idle {
		c.publish(Transition{From: from, To: Idle, Day: day, At: c.clock.Now()})
		c.log.Info("session cancelled", logx.String("from", from.String()))
	}
}

// Reconfigure swaps the iqama offsets. A running session is rebuilt from now.
func (c *Controller) Reconfigure(iqama prayer.IqamaConfig) error {
	c.mu.Lock()
	if c.cfg.Iqama.Equal(iqama) {
		c.mu.Unlock()
		return nil
	}
	c.cfg.Iqama = iqama
	c.mu.Unlock()
	c.log.Info("iqama offsets changed", logx.String("iqama", iqama.String()))
	return c.Refresh()
}

// Refresh rebuilds a running session, e.g. after the timetable changed.
func (c *Controller) Refresh() error {
	c.mu.Lock()
	session := c.session
	active := c.state == Running
	c.mu.Unlock()
	if !active {
		return nil
	}
	return c.build(session)
}

// Iqama returns the offsets in use.
func (c *Controller) Iqama() prayer.IqamaConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Iqama
}

// SetLookaheadDays changes the empty-build bound for the next build.
func (c *Controller) SetLookaheadDays(n int) {
	c.mu.Lock()
	c.cfg.LookaheadDays = n
	c.cfg = c.cfg.withDefaults()
	c.mu.Unlock()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{State: c.state, Day: c.day, Events: c.plan.Len(), Iqama: c.cfg.Iqama.String()}
	c.mu.Unlock()
	st.Next = c.em.Status().Next
	return st
}

func (c *Controller) onDrain() {
	c.mu.Lock()
	session := c.session
	ok := c.state == Running
	c.mu.Unlock()
	if !ok {
		return
	}
	if !c.transition(session, Draining, time.Time{}) {
		return
	}
	_ = c.build(session)
}

// onFail ends the session after the emitter lost its timer chain. The
// controller stays Idle until the next Start; reloads do not revive it.
func (c *Controller) onFail(err error) {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return
	}
	from := c.state
	c.session++
	c.state = Idle
	day := c.day
	c.mu.Unlock()

	c.log.Error("schedule failed", logx.String("day", day.Format(time.DateOnly)), logx.Err(err))
	c.publish(Transition{From: from, To: Idle, Day: day, At: c.clock.Now(), Error: err.Error()})
}

func (c *Controller) build(session uint64) error {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	if !c.transition(session, Building, time.Time{}) {
		return nil
	}
	c.mu.Lock()
	cfg := c.cfg
	ctx := c.ctx
	c.mu.Unlock()

	now := c.clock.Now()
	day := dayOf(now, cfg.Location)
	for i := 0; i < cfg.LookaheadDays; i++ {
		snap, err := c.source.Snapshot(ctx, day)
		if err != nil {
			return c.abort(session, day, fmt.Errorf("snapshot for %s: %w", day.Format(time.DateOnly), err), true)
		}
		events := prayer.Build(snap, cfg.Iqama, now)
		if len(events) == 0 {
			c.log.Info("all events of the day elapsed; moving to next day", logx.String("day", day.Format(time.DateOnly)))
			day = day.AddDate(0, 0, 1)
			continue
		}
		plan, err := prayer.Compile(events, now, cfg.Quantum)
		if err != nil {
			return c.abort(session, day, err, true)
		}

		c.mu.Lock()
		if session != c.session {
			c.mu.Unlock()
			return nil
		}
		c.day = day
		c.plan = plan
		c.mu.Unlock()
		if !c.transition(session, Running, day) {
			return nil
		}
		if err := c.em.Schedule(plan); err != nil {
			// The emitter already reported the failure to its observers.
			return c.abort(session, day, err, false)
		}
		c.log.Info("day scheduled",
			logx.String("day", day.Format(time.DateOnly)),
			logx.Int("events", plan.Len()),
			logx.Time("first", events[0].At),
			logx.Time("last", events[len(events)-1].At),
		)
		return nil
	}
	err := fmt.Errorf("no upcoming events within %d days: %w", cfg.LookaheadDays, prayer.ErrEmptySchedule)
	return c.abort(session, day, err, true)
}

// abort moves the session to Idle. report forwards err to the observers.
func (c *Controller) abort(session uint64, day time.Time, err error, report bool) error {
	c.mu.Lock()
	if session != c.session {
		c.mu.Unlock()
		return err
	}
	from := c.state
	c.session++
	c.state = Idle
	c.mu.Unlock()

	c.log.Error("session failed", logx.String("day", day.Format(time.DateOnly)), logx.Err(err))
	c.publish(Transition{From: from, To: Idle, Day: day, At: c.clock.Now(), Error: err.Error()})
	if report {
		c.em.Fail(err)
	} else {
		c.em.Cancel()
	}
	return err
}

func (c *Controller) transition(session uint64, to State, day time.Time) bool {
	c.mu.Lock()
	if session != c.session {
		c.mu.Unlock()
		return false
	}
	from := c.state
	c.state = to
	if day.IsZero() {
		day = c.day
	}
	c.mu.Unlock()

	tr := Transition{From: from, To: to, Day: day, At: c.clock.Now()}
	c.log.Debug("state change", logx.String("from", from.String()), logx.String("to", to.String()))
	c.publish(tr)
	return true
}

func (c *Controller) publish(tr Transition) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: eventbus.TypeRolloverState, Time: tr.At, Data: tr})
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

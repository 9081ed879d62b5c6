package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"prayercall/internal/config"
	"prayercall/internal/digest"
	"prayercall/internal/emitter"
	"prayercall/internal/eventbus"
	"prayercall/internal/notifier"
	"prayercall/internal/rollover"
	"prayercall/internal/runtime/supervisor"
	"prayercall/internal/storage"
	"prayercall/internal/timetable"
	"prayercall/internal/transport"
	"prayercall/pkg/clock"
	logx "prayercall/pkg/logx"
	"prayercall/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	clock clock.Clock
	loc   *time.Location

	table *timetable.Holder
	em    *emitter.Emitter
	ctl   *rollover.Controller
	notif *notifier.Service
	dig   *digest.Service

	smu     sync.Mutex
	senders []transport.Sender
	extra   []transport.Sender
}

type options struct {
	clock  clock.Clock
	extra  []transport.Sender
	logger *logx.Logger
}

type Option func(*options)

// WithClock drives the emitter from c instead of wall-clock time.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithSender adds a delivery channel next to the configured ones.
func WithSender(s transport.Sender) Option {
	return func(o *options) { o.extra = append(o.extra, s) }
}

// WithLogger replaces the logging service (tests).
func WithLogger(l logx.Logger) Option { return func(o *options) { o.logger = &l } }

// New loads the config and timetable and wires every component. Nothing runs
// until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{clock: clock.NewReal()}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	var (
		logSvc *logx.Service
		log    logx.Logger
	)
	if o.logger != nil {
		log = *o.logger
	} else {
		logSvc, log = logx.NewService(mapLogConfig(cfg))
	}
	log = log.With(logx.String("comp", "app"))

	loc, err := cfg.TimeLocation()
	if err != nil {
		return nil, err
	}
	iqama, err := cfg.IqamaOffsets()
	if err != nil {
		return nil, err
	}
	tbl, err := timetable.Load(cfgm.Resolve(cfg.Timetable.Path), loc)
	if err != nil {
		return nil, err
	}
	holder := timetable.NewHolder(tbl)

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg, cfgm.Resolve); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	ncfg, err := mapNotifierConfig(cfg, loc)
	if err != nil {
		return nil, err
	}
	senders, err := buildSenders(cfg, log, o.extra)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	notif := notifier.New(ncfg, senders, log, bus, store)

	em := emitter.New(o.clock, log.With(logx.String("comp", "emitter")))
	em.Subscribe(notif)

	ctl := rollover.New(rollover.Config{
		Location:      loc,
		Iqama:         iqama,
		LookaheadDays: cfg.LookaheadDays(),
	}, o.clock, holder, em, log.With(logx.String("comp", "rollover")), bus)

	dig := digest.New(digest.Config{Spec: cfg.DigestSpec(), Location: loc}, holder, ctl.Iqama, notif, log)

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		clock:   o.clock,
		loc:     loc,
		table:   holder,
		em:      em,
		ctl:     ctl,
		notif:   notif,
		dig:     dig,
		senders: senders,
		extra:   o.extra,
	}, nil
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Controller() *rollover.Controller { return a.ctl }
func (a *App) Notifier() *notifier.Service      { return a.notif }
func (a *App) Store() storage.Store              { return a.store }

// Status is a point-in-time view of the running service.
type Status struct {
	Rollover   rollover.Status    `json:"rollover"`
	Notifier   notifier.Stats     `json:"notifier"`
	DigestNext time.Time          `json:"digest_next"`
	BusDropped uint64             `json:"bus_dropped"`
	Goroutines []supervisor.Stats `json:"goroutines,omitempty"`
}

func (a *App) Status() Status {
	st := Status{
		Rollover:   a.ctl.Status(),
		Notifier:   a.notif.Stats(),
		DigestNext: a.dig.Next(),
		BusDropped: a.bus.Dropped(),
	}
	if a.sup != nil {
		st.Goroutines = a.sup.Snapshot()
	}
	return st
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)
	a.cfgm.Follow(a.cfgm.Resolve(a.cfgm.Get().Timetable.Path))

	a.notif.Start(a.sup.Context())

	if err := a.ctl.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		a.notif.Stop(context.Background())
		return fmt.Errorf("start schedule: %w", err)
	}
	if err := a.dig.Start(); err != nil {
		a.log.Warn("digest not scheduled", logx.Err(err))
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				_, _ = systemd.Reloading()
				a.apply(c, lastApplied, newCfg)
				lastApplied = newCfg
				_, _ = systemd.Ready()
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.GoRestart("systemd.watchdog", func(c context.Context) error {
		return systemd.Watchdog(c, a.log.With(logx.String("comp", "systemd")), a.healthy)
	}, supervisor.WithMaxRestarts(3))

	st := a.ctl.Status()
	a.log.Info("app started",
		logx.String("day", st.Day.Format(time.DateOnly)),
		logx.Int("events", st.Events),
		logx.Time("next", st.Next),
		logx.String("iqama", st.Iqama),
	)
	_, _ = systemd.Ready()
	_, _ = systemd.Status(fmt.Sprintf("running: %d events on %s", st.Events, st.Day.Format(time.DateOnly)))
	return nil
}

// healthy reports whether the schedule is still armed.
func (a *App) healthy() bool {
	return a.ctl.State() != rollover.Idle
}

func (a *App) logEvent(e eventbus.Event) {
	switch data := e.Data.(type) {
	case rollover.Transition:
		fields := []logx.Field{logx.String("from", data.From.String()), logx.String("to", data.To.String())}
		if !data.Day.IsZero() {
			fields = append(fields, logx.String("day", data.Day.Format(time.DateOnly)))
		}
		if data.Error != "" {
			fields = append(fields, logx.String("err", data.Error))
			a.log.Warn("schedule state", fields...)
			return
		}
		a.log.Debug("schedule state", fields...)
		if data.To == rollover.Running {
			st := a.ctl.Status()
			_, _ = systemd.Status(fmt.Sprintf("running: %d events on %s", st.Events, st.Day.Format(time.DateOnly)))
		}
	case notifier.AnnouncementEvent:
		if data.Error != "" {
			a.log.Warn("announcement failed", logx.String("key", data.Key), logx.String("channel", data.Channel), logx.Int("attempts", data.Attempts), logx.String("err", data.Error))
			return
		}
		a.log.Debug("announcement sent", logx.String("key", data.Key), logx.String("channel", data.Channel))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

// validate rejects a reload whose timetable does not parse.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	loc, err := cfg.TimeLocation()
	if err != nil {
		return err
	}
	if _, err := timetable.Load(a.cfgm.Resolve(cfg.Timetable.Path), loc); err != nil {
		return fmt.Errorf("timetable: %w", err)
	}
	if _, err := mapNotifierConfig(cfg, loc); err != nil {
		return err
	}
	if _, _, err := mapMQTTConfig(cfg); err != nil {
		return err
	}
	return nil
}

// apply hot-reloads newCfg. An empty change set still reloads the timetable:
// the watcher republishes unchanged configs when the timetable file changes.
func (a *App) apply(ctx context.Context, prev, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, newCfg)
	changed := func(name string) bool {
		for _, s := range sections {
			if s == name {
				return true
			}
		}
		return false
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config change needs a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	if changed("logging") && a.logs != nil {
		a.logs.Apply(mapLogConfig(newCfg))
	}

	if len(sections) == 0 || changed("timetable") {
		a.follow(newCfg)
		if tbl, err := timetable.Load(a.cfgm.Resolve(newCfg.Timetable.Path), a.loc); err != nil {
			a.log.Warn("timetable reload failed; keeping previous", logx.Err(err))
		} else {
			a.table.Swap(tbl)
			if err := a.ctl.Refresh(); err != nil {
				a.log.Warn("schedule rebuild failed", logx.Err(err))
			}
		}
	}

	if changed("iqama") {
		if iq, err := newCfg.IqamaOffsets(); err != nil {
			a.log.Warn("invalid iqama config; keeping previous", logx.Err(err))
		} else if err := a.ctl.Reconfigure(iq); err != nil {
			a.log.Warn("schedule rebuild failed", logx.Err(err))
		}
	}

	if changed("scheduler") {
		a.ctl.SetLookaheadDays(newCfg.LookaheadDays())
		if err := a.dig.Apply(ctx, digest.Config{Spec: newCfg.DigestSpec(), Location: a.loc}); err != nil {
			a.log.Warn("invalid digest schedule; keeping previous", logx.Err(err))
		}
	}

	if changed("notifier") {
		prevEnabled := a.notif.Enabled()
		ncfg, err := mapNotifierConfig(newCfg, a.loc)
		if err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
			switch {
			case prevEnabled && !ncfg.Enabled:
				a.log.Info("notifier disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			case !prevEnabled && ncfg.Enabled:
				a.log.Info("notifier enabled via config")
				a.notif.Start(ctx)
			}
		}
	}

	if changed("telegram") || changed("mqtt") {
		a.reconnect(newCfg)
	}

	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	} else {
		a.log.Info("config reloaded (no changes)")
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: sections})
}

func (a *App) follow(cfg *config.Config) {
	a.cfgm.Follow(a.cfgm.Resolve(cfg.Timetable.Path))
}

// reconnect rebuilds the delivery channels and closes the previous ones.
func (a *App) reconnect(cfg *config.Config) {
	next, err := buildSenders(cfg, a.log, a.extra)
	if err != nil {
		a.log.Warn("channel reconnect failed; keeping previous", logx.Err(err))
		return
	}
	a.smu.Lock()
	old := a.senders
	a.senders = next
	a.smu.Unlock()

	a.notif.SetSenders(next)
	if err := closeSenders(old[1+len(a.extra):]); err != nil {
		a.log.Debug("closing previous channels", logx.Err(err))
	}
	names := make([]string, 0, len(next))
	for _, s := range next {
		names = append(names, s.Name())
	}
	a.log.Info("channels reconnected", logx.String("channels", strings.Join(names, ",")))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	a.sup.Cancel()

	var errs []error
	// step runs one shutdown step bounded by max (never beyond ctx).
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("digest", time.Second, func(c context.Context) error { a.dig.Stop(c); return nil })
	step("schedule", time.Second, func(context.Context) error { a.ctl.Cancel(); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("channels", 2*time.Second, func(context.Context) error {
		a.smu.Lock()
		senders := a.senders
		a.smu.Unlock()
		return closeSenders(senders)
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

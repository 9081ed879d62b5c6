package rollover

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"prayercall/internal/emitter"
	"prayercall/internal/eventbus"
	"prayercall/internal/prayer"
	"prayercall/pkg/clock"
	logx "prayercall/pkg/logx"
)

var base = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

func dailySource() Source {
	return SourceFunc(func(_ context.Context, day time.Time) (prayer.Snapshot, error) {
		return prayer.NewSnapshot(map[prayer.Label]time.Time{
			prayer.Fajr:    day.Add(1 * time.Hour),
			prayer.Sunrise: day.Add(2 * time.Hour),
			prayer.Dhuhr:   day.Add(6 * time.Hour),
			prayer.Asr:     day.Add(9 * time.Hour),
			prayer.Maghrib: day.Add(12 * time.Hour),
			prayer.Isha:    day.Add(13 * time.Hour),
		})
	})
}

func iqama(t *testing.T, m map[string]int) prayer.IqamaConfig {
	t.Helper()
	iq, err := prayer.ParseIqamaConfig(m)
	require.NoError(t, err)
	return iq
}

func defaultIqama(t *testing.T) prayer.IqamaConfig {
	return iqama(t, map[string]int{"fajr": 20, "dhuhr": 15, "asr": 15, "maghrib": 5, "isha": 15})
}

type sink struct {
	mu     sync.Mutex
	events []emitter.Event
	done   int
	errs   []error
}

func (s *sink) OnEvent(ev emitter.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *sink) OnComplete() {
	s.mu.Lock()
	s.done++
	s.mu.Unlock()
}

func (s *sink) OnError(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *sink) snapshot() []emitter.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]emitter.Event(nil), s.events...)
}

type fixture struct {
	vc  *clock.Virtual
	em  *emitter.Emitter
	ctl *Controller
	out *sink
	bus eventbus.Bus
}

func newFixture(t *testing.T, start time.Time, src Source, iq prayer.IqamaConfig) *fixture {
	t.Helper()
	vc := clock.NewVirtual(start)
	em := emitter.New(vc, logx.Nop())
	out := &sink{}
	em.Subscribe(out)
	bus := eventbus.New()
	ctl := New(Config{Location: time.UTC, Iqama: iq}, vc, src, em, logx.Nop(), bus)
	return &fixture{vc: vc, em: em, ctl: ctl, out: out, bus: bus}
}

func TestStartSchedulesToday(t *testing.T) {
	t.Parallel()

	f := newFixture(t, base, dailySource(), defaultIqama(t))
	require.NoError(t, f.ctl.Start(context.Background()))
	st := f.ctl.Status()
	require.Equal(t, Running, st.State)
	require.Equal(t, base, st.Day)
	require.Equal(t, 11, st.Events)
	require.Equal(t, base.Add(time.Hour), st.Next)

	require.ErrorIs(t, f.ctl.Start(context.Background()), ErrAlreadyStarted)
}

func TestRolloverToNextDay(t *testing.T) {
	t.Parallel()

	f := newFixture(t, base, dailySource(), defaultIqama(t))
	require.NoError(t, f.ctl.Start(context.Background()))

	require.Equal(t, 15, f.vc.RunAll(15))
	events := f.out.snapshot()
	require.Len(t, events, 15)
	require.Equal(t, 10, events[10].Index)
	require.Equal(t, 0, events[11].Index)
	require.Equal(t, base.AddDate(0, 0, 1).Add(time.Hour), events[11].At)

	st := f.ctl.Status()
	require.Equal(t, Running, st.State)
	require.Equal(t, base.AddDate(0, 0, 1), st.Day)
	require.Equal(t, 1, f.out.done)
}

func TestStartAfterLastEventUsesTomorrow(t *testing.T) {
	t.Parallel()

	f := newFixture(t, base.Add(20*time.Hour), dailySource(), defaultIqama(t))
	require.NoError(t, f.ctl.Start(context.Background()))
	st := f.ctl.Status()
	require.Equal(t, base.AddDate(0, 0, 1), st.Day)
	require.Equal(t, 11, st.Events)
}

func TestLookaheadBoundsEmptyDays(t *testing.T) {
	t.Parallel()

	calls := 0
	stale := SourceFunc(func(ctx context.Context, _ time.Time) (prayer.Snapshot, error) {
		calls++
		return dailySource().Snapshot(ctx, base)
	})
	f := newFixture(t, base.Add(20*time.Hour), stale, defaultIqama(t))

	err := f.ctl.Start(context.Background())
	require.ErrorIs(t, err, prayer.ErrEmptySchedule)
	require.Equal(t, 2, calls)
	require.Equal(t, Idle, f.ctl.State())
	require.Len(t, f.out.errs, 1)
}

func TestSourceErrorLeavesIdle(t *testing.T) {
	t.Parallel()

	boom := errors.New("timetable unavailable")
	src := SourceFunc(func(context.Context, time.Time) (prayer.Snapshot, error) {
		return prayer.Snapshot{}, boom
	})
	f := newFixture(t, base, src, defaultIqama(t))

	require.ErrorIs(t, f.ctl.Start(context.Background()), boom)
	require.Equal(t, Idle, f.ctl.State())
	require.Len(t, f.out.errs, 1)
	require.False(t, f.em.Status().Running)
}

func TestCancelThenRestart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, base, dailySource(), defaultIqama(t))
	require.NoError(t, f.ctl.Start(context.Background()))
	f.vc.Advance(90 * time.Minute)
	require.Len(t, f.out.snapshot(), 2)

	f.ctl.Cancel()
	require.Equal(t, Idle, f.ctl.State())
	f.vc.Advance(11 * time.Hour)
	require.Len(t, f.out.snapshot(), 2)

	require.NoError(t, f.ctl.Start(context.Background()))
	st := f.ctl.Status()
	require.Equal(t, Running, st.State)
	require.Equal(t, 2, st.Events)
}

func TestReconfigureRebuildsFromNow(t *testing.T) {
	t.Parallel()

	f := newFixture(t, base, dailySource(), defaultIqama(t))
	require.NoError(t, f.ctl.Start(context.Background()))
	f.vc.Advance(90 * time.Minute)

	require.NoError(t, f.ctl.Reconfigure(iqama(t, map[string]int{"dhuhr": 30})))
	require.Equal(t, Running, f.ctl.State())
	require.Equal(t, 6, f.ctl.Status().Events)

	f.vc.AdvanceTo(base.Add(7 * time.Hour))
	events := f.out.snapshot()
	require.Len(t, events, 5)
	require.Equal(t, 0, events[2].Index)
	require.Equal(t, prayer.Sunrise, events[2].Prayer)
	require.Equal(t, prayer.IqamaCall, events[4].Kind)
	require.Equal(t, base.Add(6*time.Hour+30*time.Minute), events[4].At)

	// Same offsets again are a no-op.
	require.NoError(t, f.ctl.Reconfigure(iqama(t, map[string]int{"dhuhr": 30})))
}

func TestTransitionsArePublished(t *testing.T) {
	t.Parallel()

	vc := clock.NewVirtual(base)
	em := emitter.New(vc, logx.Nop())
	em.Subscribe(&sink{})
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	ctl := New(Config{Location: time.UTC, Iqama: defaultIqama(t)}, vc, dailySource(), em, logx.Nop(), bus)

	require.NoError(t, ctl.Start(context.Background()))
	ctl.Cancel()

	var got []State
	for len(got) < 3 {
		select {
		case ev := <-ch:
			require.Equal(t, eventbus.TypeRolloverState, ev.Type)
			got = append(got, ev.Data.(Transition).To)
		case <-time.After(time.Second):
			t.Fatalf("missing transitions, got %v", got)
		}
	}
	require.Equal(t, []State{Building, Running, Idle}, got)
}

func TestSetLookaheadDaysAndIqama(t *testing.T) {
	t.Parallel()

	calls := 0
	stale := SourceFunc(func(ctx context.Context, _ time.Time) (prayer.Snapshot, error) {
		calls++
		return dailySource().Snapshot(ctx, base)
	})
	f := newFixture(t, base.Add(20*time.Hour), stale, defaultIqama(t))
	require.True(t, f.ctl.Iqama().Equal(defaultIqama(t)))

	f.ctl.SetLookaheadDays(4)
	require.ErrorIs(t, f.ctl.Start(context.Background()), prayer.ErrEmptySchedule)
	require.Equal(t, 4, calls)

	// Non-positive values fall back to the default.
	calls = 0
	f.ctl.SetLookaheadDays(0)
	require.ErrorIs(t, f.ctl.Start(context.Background()), prayer.ErrEmptySchedule)
	require.Equal(t, 2, calls)
}

func TestTimerFailureLeavesIdle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, base, dailySource(), defaultIqama(t))
	ch, unsub := f.bus.Subscribe(16)
	defer unsub()
	f.em.Subscribe(emitter.Funcs{Event: func(ev emitter.Event) error {
		if ev.Index == 0 {
			f.vc.Close()
		}
		return nil
	}})
	require.NoError(t, f.ctl.Start(context.Background()))

	f.vc.AdvanceTo(base.Add(90 * time.Minute))
	require.Len(t, f.out.snapshot(), 1)
	require.Len(t, f.out.errs, 1)
	require.ErrorIs(t, f.out.errs[0], clock.ErrStopped)
	require.Equal(t, Idle, f.ctl.State())
	require.False(t, f.em.Status().Running)

	// Reloads must not revive a failed session.
	require.NoError(t, f.ctl.Refresh())
	require.NoError(t, f.ctl.Reconfigure(iqama(t, map[string]int{"dhuhr": 30})))
	require.Equal(t, Idle, f.ctl.State())
	require.False(t, f.em.Status().Running)

	var last Transition
	for done := false; !done; {
		select {
		case ev := <-ch:
			last = ev.Data.(Transition)
		default:
			done = true
		}
	}
	require.Equal(t, Running, last.From)
	require.Equal(t, Idle, last.To)
	require.Contains(t, last.Error, "clock: stopped")
}

package notifier

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"prayercall/internal/emitter"
	"prayercall/internal/eventbus"
	"prayercall/internal/prayer"
	"prayercall/internal/storage"
	"prayercall/internal/transport"
	"prayercall/pkg/clock"
	logx "prayercall/pkg/logx"
)

type recordingSender struct {
	name    string
	failN   int
	mu      sync.Mutex
	calls   int
	texts   []string
	failErr error
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) Send(_ context.Context, a transport.Announcement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.failN {
		return r.failErr
	}
	r.texts = append(r.texts, a.Text)
	return nil
}

func (r *recordingSender) Close() error { return nil }

func (r *recordingSender) delivered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func testConfig() Config {
	return Config{
		Enabled:     true,
		Workers:     1,
		RatePerSec:  1000,
		RetryMax:    2,
		RetryBase:   time.Millisecond,
		DedupWindow: time.Hour,
		Location:    "central",
		TZ:          time.UTC,
	}
}

var fajr = time.Date(2026, 10, 19, 6, 41, 0, 0, time.UTC)

func fajrEvent() emitter.Event {
	return emitter.Event{Index: 0, Kind: prayer.PrayerCall, Prayer: prayer.Fajr, At: fajr, FiredAt: fajr}
}

func TestAnnounceRendersTemplates(t *testing.T) {
	t.Parallel()

	s := New(testConfig(), nil, logx.Nop(), nil, nil)
	a := s.Announce(fajrEvent())
	require.Equal(t, "central|prayer|fajr|2026-10-19T06:41:00Z", a.Key)
	require.Equal(t, "🕌 Fajr (06:41)", a.Text)

	cfg := testConfig()
	cfg.IqamaTemplate = "{location}: {prayer} {kind} at {time}"
	s.Apply(cfg)
	ev := fajrEvent()
	ev.Kind = prayer.IqamaCall
	ev.At = fajr.Add(20 * time.Minute)
	require.Equal(t, "central: Fajr iqama at 07:01", s.Announce(ev).Text)
}

func TestDeliveryRetriesAndJournals(t *testing.T) {
	t.Parallel()

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "journal")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	flaky := &recordingSender{name: "flaky", failN: 1, failErr: errors.New("502")}
	steady := &recordingSender{name: "steady"}
	s := New(testConfig(), []transport.Sender{flaky, steady}, logx.Nop(), bus, st)
	s.Start(context.Background())

	require.NoError(t, s.OnEvent(fajrEvent()))
	require.Eventually(t, func() bool { return s.Stats().Sent == 2 }, 5*time.Second, 5*time.Millisecond)
	s.Stop(context.Background())

	require.Equal(t, []string{"🕌 Fajr (06:41)"}, flaky.delivered())
	require.Equal(t, []string{"🕌 Fajr (06:41)"}, steady.delivered())
	require.Len(t, s.History(), 2)

	recs, err := st.ListAnnouncements(context.Background(), time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	byChannel := map[string]storage.AnnouncementRecord{}
	for _, r := range recs {
		byChannel[r.Channel] = r
	}
	require.Equal(t, 2, byChannel["flaky"].Attempts)
	require.Equal(t, 1, byChannel["steady"].Attempts)
	require.True(t, byChannel["flaky"].OK)
	require.Equal(t, "fajr", byChannel["steady"].Prayer)

	ev := <-ch
	require.Equal(t, eventbus.TypeAnnouncementSent, ev.Type)
}

func TestDeliveryGivesUp(t *testing.T) {
	t.Parallel()

	dead := &recordingSender{name: "dead", failN: 100, failErr: errors.New("chat not found")}
	s := New(testConfig(), []transport.Sender{dead}, logx.Nop(), nil, nil)
	s.Start(context.Background())
	require.NoError(t, s.OnEvent(fajrEvent()))
	require.Eventually(t, func() bool { return s.Stats().Failed == 1 }, 5*time.Second, 5*time.Millisecond)
	s.Stop(context.Background())

	dead.mu.Lock()
	require.Equal(t, 3, dead.calls)
	dead.mu.Unlock()
}

func TestDedupSuppressesRepeats(t *testing.T) {
	t.Parallel()

	snd := &recordingSender{name: "snd"}
	s := New(testConfig(), []transport.Sender{snd}, logx.Nop(), nil, nil)
	s.Start(context.Background())
	require.NoError(t, s.OnEvent(fajrEvent()))
	require.NoError(t, s.OnEvent(fajrEvent()))
	s.Stop(context.Background())

	require.Len(t, snd.delivered(), 1)
	require.Equal(t, uint64(1), s.Stats().Deduped)
}

func TestPersistedDedupSurvivesRestart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state")
	cfg := testConfig()
	cfg.PersistDedup = true

	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	first := &recordingSender{name: "snd"}
	s := New(cfg, []transport.Sender{first}, logx.Nop(), nil, st)
	s.Start(context.Background())
	require.NoError(t, s.OnEvent(fajrEvent()))
	s.Stop(context.Background())
	require.NoError(t, st.Close())
	require.Len(t, first.delivered(), 1)

	st, err = storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	second := &recordingSender{name: "snd"}
	s = New(cfg, []transport.Sender{second}, logx.Nop(), nil, st)
	s.Start(context.Background())
	require.NoError(t, s.OnEvent(fajrEvent()))
	s.Stop(context.Background())
	require.Empty(t, second.delivered())
}

func TestDisabledAndStopped(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Enabled = false
	s := New(cfg, nil, logx.Nop(), nil, nil)
	s.Start(context.Background())
	require.NoError(t, s.OnEvent(fajrEvent()))
	require.ErrorIs(t, s.Notify(context.Background(), transport.Announcement{}), ErrDisabled)

	s = New(testConfig(), nil, logx.Nop(), nil, nil)
	require.ErrorIs(t, s.Notify(context.Background(), transport.Announcement{}), ErrStopped)
}

func TestObservesEmitter(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	snap, err := prayer.NewSnapshot(map[prayer.Label]time.Time{
		prayer.Fajr:    base.Add(1 * time.Hour),
		prayer.Sunrise: base.Add(2 * time.Hour),
		prayer.Dhuhr:   base.Add(6 * time.Hour),
		prayer.Asr:     base.Add(9 * time.Hour),
		prayer.Maghrib: base.Add(12 * time.Hour),
		prayer.Isha:    base.Add(13 * time.Hour),
	})
	require.NoError(t, err)
	iq, err := prayer.ParseIqamaConfig(map[string]int{"fajr": 20})
	require.NoError(t, err)
	plan, err := prayer.Compile(prayer.Build(snap, iq, base), base, prayer.Quantum)
	require.NoError(t, err)

	snd := &recordingSender{name: "snd"}
	s := New(testConfig(), []transport.Sender{snd}, logx.Nop(), nil, nil)
	s.Start(context.Background())

	vc := clock.NewVirtual(base)
	em := emitter.New(vc, logx.Nop())
	em.Subscribe(s)
	require.NoError(t, em.Schedule(plan))
	vc.RunAll(0)
	s.Stop(context.Background())

	got := snd.delivered()
	require.Len(t, got, 7)
	require.Equal(t, "🕌 Fajr (01:00)", got[0])
	require.Equal(t, "🔔 Iqama for Fajr (01:20)", got[1])
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryDelay(cfg, attempt)
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, time.Second)
	}
	require.LessOrEqual(t, retryDelay(cfg, 1), 130*time.Millisecond)
}

func TestPruneDedup(t *testing.T) {
	t.Parallel()

	now := time.Now()
	m := map[string]time.Time{
		"expired": now.Add(-time.Second),
		"a":       now.Add(time.Minute),
		"b":       now.Add(2 * time.Minute),
		"c":       now.Add(3 * time.Minute),
	}
	pruneDedup(m, now, 2)
	require.Len(t, m, 2)
	require.Contains(t, m, "b")
	require.Contains(t, m, "c")
}

func TestDigest(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	snap, err := prayer.NewSnapshot(map[prayer.Label]time.Time{
		prayer.Fajr:    day.Add(6*time.Hour + 41*time.Minute),
		prayer.Sunrise: day.Add(8*time.Hour + 13*time.Minute),
		prayer.Dhuhr:   day.Add(13*time.Hour + 43*time.Minute),
		prayer.Asr:     day.Add(16*time.Hour + 40*time.Minute),
		prayer.Maghrib: day.Add(19*time.Hour + 12*time.Minute),
		prayer.Isha:    day.Add(20*time.Hour + 38*time.Minute),
	})
	require.NoError(t, err)
	iq, err := prayer.ParseIqamaConfig(map[string]int{"fajr": 20, "maghrib": 5})
	require.NoError(t, err)

	text := RenderDigest("central", snap, iq, time.UTC)
	require.Equal(t, "📅 central, Mon 19 Oct 2026\n"+
		"Fajr     06:41  iqama 07:01\n"+
		"Sunrise  08:13\n"+
		"Dhuhr    13:43\n"+
		"Asr      16:40\n"+
		"Maghrib  19:12  iqama 19:17\n"+
		"Isha     20:38", text)

	snd := &recordingSender{name: "snd"}
	s := New(testConfig(), []transport.Sender{snd}, logx.Nop(), nil, nil)
	s.Start(context.Background())
	require.NoError(t, s.Digest(context.Background(), snap, iq))
	require.NoError(t, s.Digest(context.Background(), snap, iq))
	s.Stop(context.Background())
	require.Equal(t, []string{text}, snd.delivered())
}

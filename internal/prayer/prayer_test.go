package prayer

import (
	"errors"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

func exampleSnapshot(t *testing.T) Snapshot {
	t.Helper()
	snap, err := NewSnapshot(map[Label]time.Time{
		Fajr:    base.Add(1 * time.Hour),
		Sunrise: base.Add(2 * time.Hour),
		Dhuhr:   base.Add(6 * time.Hour),
		Asr:     base.Add(9 * time.Hour),
		Maghrib: base.Add(12 * time.Hour),
		Isha:    base.Add(13 * time.Hour),
	})
	require.NoError(t, err)
	return snap
}

func exampleIqama(t *testing.T) IqamaConfig {
	t.Helper()
	iq, err := ParseIqamaConfig(map[string]int{"fajr": 20, "dhuhr": 15, "asr": 15, "maghrib": 5, "isha": 15})
	require.NoError(t, err)
	return iq
}

func TestExpectedTraceExampleDay(t *testing.T) {
	t.Parallel()

	tr, err := ExpectedTrace(exampleSnapshot(t), exampleIqama(t), base, base.Add(24*time.Hour), Quantum)
	require.NoError(t, err)
	require.Len(t, tr.Entries, 11)
	require.Equal(t, TraceEntry{DelayMs: 3600000, Index: 0}, tr.Entries[0])
	require.Equal(t, TraceEntry{DelayMs: 1199999, Index: 1}, tr.Entries[1])

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "example_day", []byte(tr.String()+"\n"))
}

func TestBuildOrderAndIndices(t *testing.T) {
	t.Parallel()

	events := Build(exampleSnapshot(t), exampleIqama(t), base)
	require.Len(t, events, 11)
	for i, ev := range events {
		require.Equal(t, i, ev.Index)
		if i > 0 {
			require.True(t, ev.At.After(events[i-1].At), "event %d not after %d", i, i-1)
		}
	}
	require.Equal(t, Sunrise, events[2].Prayer)
	require.Equal(t, PrayerCall, events[2].Kind)
}

func TestBuildSunriseHasNoIqama(t *testing.T) {
	t.Parallel()

	iq, err := NewIqamaConfig(map[Label]int{Sunrise: 10, Fajr: 20})
	require.NoError(t, err)
	_, ok := iq.Offset(Sunrise)
	require.False(t, ok)

	for _, ev := range Build(exampleSnapshot(t), iq, base) {
		if ev.Prayer == Sunrise {
			require.Equal(t, PrayerCall, ev.Kind)
		}
	}
}

func TestBuildSkipsElapsed(t *testing.T) {
	t.Parallel()

	snap := exampleSnapshot(t)
	iq := exampleIqama(t)

	tests := []struct {
		name  string
		ref   time.Time
		want  int
		first Label
		kind  Kind
	}{
		{"before fajr", base, 11, Fajr, PrayerCall},
		{"exactly at fajr", base.Add(time.Hour), 10, Fajr, IqamaCall},
		{"between dhuhr and iqama", base.Add(6*time.Hour + time.Minute), 7, Dhuhr, IqamaCall},
		{"after isha iqama", base.Add(13*time.Hour + 15*time.Minute), 0, 0, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			events := Build(snap, iq, tt.ref)
			require.Len(t, events, tt.want)
			if tt.want == 0 {
				return
			}
			require.Equal(t, 0, events[0].Index)
			require.Equal(t, tt.first, events[0].Prayer)
			require.Equal(t, tt.kind, events[0].Kind)
		})
	}
}

func TestBuildZeroMinuteIqama(t *testing.T) {
	t.Parallel()

	iq, err := NewIqamaConfig(map[Label]int{Maghrib: 0})
	require.NoError(t, err)
	snap := exampleSnapshot(t)

	events := Build(snap, iq, base)
	require.Len(t, events, 7)
	require.Equal(t, Maghrib, events[5].Prayer)
	require.Equal(t, IqamaCall, events[5].Kind)
	require.Equal(t, snap.At(Maghrib).Add(Quantum), events[5].At)

	plan, err := Compile(events, base, Quantum)
	require.NoError(t, err)
	require.Equal(t, time.Duration(0), plan.Delays[5].Delay)

	// At the prayer instant both the call and its zero-minute iqama are elapsed.
	events = Build(snap, iq, snap.At(Maghrib))
	require.Len(t, events, 1)
	require.Equal(t, Isha, events[0].Prayer)
	require.Equal(t, PrayerCall, events[0].Kind)
}

func TestBuildLongIqamaStaysChronological(t *testing.T) {
	t.Parallel()

	// Fajr iqama lands after sunrise.
	iq, err := NewIqamaConfig(map[Label]int{Fajr: 90})
	require.NoError(t, err)
	events := Build(exampleSnapshot(t), iq, base)
	require.Equal(t, Sunrise, events[1].Prayer)
	require.Equal(t, Fajr, events[2].Prayer)
	require.Equal(t, IqamaCall, events[2].Kind)

	_, err = Compile(events, base, Quantum)
	require.NoError(t, err)
}

func TestCompileRoundTrip(t *testing.T) {
	t.Parallel()

	events := Build(exampleSnapshot(t), exampleIqama(t), base)
	plan, err := Compile(events, base, Quantum)
	require.NoError(t, err)

	instants := plan.FiringInstants()
	require.Len(t, instants, len(events))
	for i := range events {
		require.True(t, events[i].At.Equal(instants[i]), "index %d", i)
	}
	require.Equal(t, time.Duration(0), plan.Delays[0].Delay%time.Hour)
}

func TestCompileNegativeDelay(t *testing.T) {
	t.Parallel()

	at := base.Add(time.Hour)
	events := []ScheduledEvent{
		{Index: 0, Kind: PrayerCall, Prayer: Fajr, At: at},
		{Index: 1, Kind: IqamaCall, Prayer: Fajr, At: at.Add(Quantum / 2)},
	}
	_, err := Compile(events, base, Quantum)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	require.NotNil(t, cfgErr.Event)
	require.Equal(t, 1, cfgErr.Event.Index)
}

func TestCompileRejectsOutOfSequence(t *testing.T) {
	t.Parallel()

	events := []ScheduledEvent{{Index: 1, Kind: PrayerCall, Prayer: Fajr, At: base.Add(time.Hour)}}
	_, err := Compile(events, base, Quantum)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestExpectedTraceStopsAtUntil(t *testing.T) {
	t.Parallel()

	tr, err := ExpectedTrace(exampleSnapshot(t), exampleIqama(t), base, base.Add(2*time.Hour), Quantum)
	require.NoError(t, err)
	require.Equal(t, "3600000ms 0 1199999ms 1 2399999ms 2 |", tr.String())
}

func TestExpectedTraceEmptyDay(t *testing.T) {
	t.Parallel()

	ref := base.Add(20 * time.Hour)
	tr, err := ExpectedTrace(exampleSnapshot(t), exampleIqama(t), ref, ref.Add(time.Hour), Quantum)
	require.NoError(t, err)
	require.Equal(t, CompletionMarker, tr.String())
}

func TestExpectedTraceInvalidRange(t *testing.T) {
	t.Parallel()

	for _, until := range []time.Time{base, base.Add(-time.Minute)} {
		_, err := ExpectedTrace(exampleSnapshot(t), exampleIqama(t), base, until, Quantum)
		var rangeErr *InvalidRangeError
		require.ErrorAs(t, err, &rangeErr)
	}
}

func TestSnapshotValidation(t *testing.T) {
	t.Parallel()

	times := map[Label]time.Time{
		Fajr:    base.Add(1 * time.Hour),
		Sunrise: base.Add(2 * time.Hour),
		Dhuhr:   base.Add(6 * time.Hour),
		Asr:     base.Add(9 * time.Hour),
		Maghrib: base.Add(12 * time.Hour),
	}
	_, err := NewSnapshot(times)
	require.Error(t, err, "missing isha")

	times[Isha] = base.Add(11 * time.Hour)
	_, err = NewSnapshot(times)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	times[Isha] = base.Add(13 * time.Hour)
	snap, err := NewSnapshot(times)
	require.NoError(t, err)
	require.Equal(t, base, snap.Day())
}

func TestIqamaConfig(t *testing.T) {
	t.Parallel()

	_, err := ParseIqamaConfig(map[string]int{"dhuhr": -1})
	require.Error(t, err)

	_, err = ParseIqamaConfig(map[string]int{"tahajjud": 5})
	require.Error(t, err)

	iq := exampleIqama(t)
	require.Equal(t, "fajr=20m,dhuhr=15m,asr=15m,maghrib=5m,isha=15m", iq.String())
	again, err := ParseIqamaConfig(iq.Minutes())
	require.NoError(t, err)
	require.True(t, iq.Equal(again))
}

func TestLabelParse(t *testing.T) {
	t.Parallel()

	for _, l := range Labels {
		got, err := ParseLabel(l.Title())
		require.NoError(t, err)
		require.Equal(t, l, got)
	}
	require.Equal(t, "Maghrib", Maghrib.Title())
	require.False(t, Sunrise.Congregational())
}

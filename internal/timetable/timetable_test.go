package timetable

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prayercall/internal/prayer"
)

const sample = `
annual:
  "10-19": {fajr: "05:00", sunrise: "06:20", dhuhr: "12:00", asr: "15:00", maghrib: "17:30", isha: "19:00"}
  "10-20": {fajr: "05:01", sunrise: "06:21", dhuhr: "12:00", asr: "14:59", maghrib: "17:28", isha: "18:58:30"}
dates:
  "2026-10-19": {fajr: "04:55", sunrise: "06:20", dhuhr: "12:05", asr: "15:00", maghrib: "17:30", isha: "19:00"}
`

func TestSnapshotPrefersDatedRow(t *testing.T) {
	tbl, err := Parse([]byte(sample), time.UTC)
	require.NoError(t, err)

	snap, err := tbl.Snapshot(context.Background(), time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 4, 55, 0, 0, time.UTC), snap.At(prayer.Fajr))
	assert.Equal(t, time.Date(2026, 10, 19, 12, 5, 0, 0, time.UTC), snap.At(prayer.Dhuhr))

	// Another year falls back to the annual row.
	snap, err = tbl.Snapshot(context.Background(), time.Date(2027, 10, 19, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2027, 10, 19, 5, 0, 0, 0, time.UTC), snap.At(prayer.Fajr))

	snap, err = tbl.Snapshot(context.Background(), time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 20, 18, 58, 30, 0, time.UTC), snap.At(prayer.Isha))
}

func TestSnapshotMissingRow(t *testing.T) {
	tbl, err := Parse([]byte(sample), time.UTC)
	require.NoError(t, err)
	_, err = tbl.Snapshot(context.Background(), time.Date(2026, 10, 21, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrNoRow)
}

func TestSnapshotUsesTableLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	tbl, err := Parse([]byte(sample), loc)
	require.NoError(t, err)

	// 22:30 UTC on the 18th is already the 19th in UTC+3.
	snap, err := tbl.Snapshot(context.Background(), time.Date(2026, 10, 18, 22, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 4, 55, 0, 0, loc), snap.At(prayer.Fajr))
	assert.Equal(t, loc, tbl.Location())
}

func TestSnapshotCanceled(t *testing.T) {
	tbl, err := Parse([]byte(sample), time.UTC)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tbl.Snapshot(ctx, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseRejects(t *testing.T) {
	row := func(fajr string) string {
		return `{fajr: "` + fajr + `", sunrise: "06:20", dhuhr: "12:00", asr: "15:00", maghrib: "17:30", isha: "19:00"}`
	}
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", "annual: {}\n", "empty"},
		{"bad annual key", "annual:\n  \"13-40\": " + row("05:00") + "\n", "MM-DD"},
		{"bad date key", "dates:\n  \"19/10/2026\": " + row("05:00") + "\n", "YYYY-MM-DD"},
		{"bad clock", "annual:\n  \"10-19\": " + row("5am") + "\n", "invalid time"},
		{"hour out of range", "annual:\n  \"10-19\": " + row("24:00") + "\n", "invalid time"},
		{"out of order", "annual:\n  \"10-19\": " + row("07:00") + "\n", "sunrise is not after fajr"},
		{"missing label", "annual:\n  \"10-19\": {fajr: \"05:00\"}\n", "missing sunrise"},
		{"unknown label", "annual:\n  \"10-19\": {tahajjud: \"03:00\"}\n", "unknown prayer label"},
		{"not yaml", "annual: [", "unmarshal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body), time.UTC)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLeapDayKeyAccepted(t *testing.T) {
	body := "annual:\n  \"02-29\": {fajr: \"05:00\", sunrise: \"06:20\", dhuhr: \"12:00\", asr: \"15:00\", maghrib: \"17:30\", isha: \"19:00\"}\n"
	tbl, err := Parse([]byte(body), time.UTC)
	require.NoError(t, err)
	_, err = tbl.Snapshot(context.Background(), time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC))
	assert.NoError(t, err)
}

func TestDays(t *testing.T) {
	tbl, err := Parse([]byte(sample), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-10-19", "10-19", "10-20"}, tbl.Days())
}

func TestLoadAndHolder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "timetable.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	tbl, err := Load(path, time.UTC)
	require.NoError(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"), time.UTC)
	assert.ErrorIs(t, err, os.ErrNotExist)

	h := NewHolder(nil)
	_, err = h.Snapshot(context.Background(), time.Now())
	assert.ErrorContains(t, err, "not loaded")

	h.Swap(tbl)
	assert.Same(t, tbl, h.Table())
	snap, err := h.Snapshot(context.Background(), time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 20, 5, 1, 0, 0, time.UTC), snap.At(prayer.Fajr))
}

// Package timetable supplies prayer snapshots from a mosque timetable file.
//
// The file is YAML (JSON is accepted too) with two optional sections:
//
//	annual:            # repeats every year, keyed MM-DD
//	  "10-19": {fajr: "06:41", sunrise: "08:13", dhuhr: "13:43", asr: "16:40", maghrib: "19:12", isha: "20:38"}
//	dates:             # one-off overrides, keyed YYYY-MM-DD
//	  "2026-10-19": {fajr: "06:40", ...}
//
// Times are wall-clock HH:MM (or HH:MM:SS) in the table's location.
package timetable

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"prayercall/internal/prayer"
)

// ErrNoRow is returned when neither a dated nor an annual row covers a day.
var ErrNoRow = errors.New("timetable: no row for day")

type fileRow map[string]string

type file struct {
	Annual map[string]fileRow `yaml:"annual"`
	Dates  map[string]fileRow `yaml:"dates"`
}

// row holds offsets from midnight, indexed by prayer.Label.
type row [len(prayer.Labels)]time.Duration

// Table is an immutable parsed timetable.
type Table struct {
	loc    *time.Location
	annual map[string]row // "MM-DD"
	dates  map[string]row // "YYYY-MM-DD"
}

// Load reads and parses a timetable file.
func Load(path string, loc *time.Location) (*Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := Parse(b, loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse validates every row: six labels, valid times, strictly increasing.
func Parse(data []byte, loc *time.Location) (*Table, error) {
	if loc == nil {
		loc = time.Local
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("timetable unmarshal: %w", err)
	}
	t := &Table{loc: loc, annual: map[string]row{}, dates: map[string]row{}}
	for k, fr := range f.Annual {
		key := strings.TrimSpace(k)
		if _, err := time.Parse("01-02", key); err != nil && key != "02-29" {
			return nil, fmt.Errorf("annual key %q: want MM-DD", k)
		}
		r, err := parseRow(fr)
		if err != nil {
			return nil, fmt.Errorf("annual %s: %w", key, err)
		}
		t.annual[key] = r
	}
	for k, fr := range f.Dates {
		key := strings.TrimSpace(k)
		if _, err := time.Parse(time.DateOnly, key); err != nil {
			return nil, fmt.Errorf("date key %q: want YYYY-MM-DD", k)
		}
		r, err := parseRow(fr)
		if err != nil {
			return nil, fmt.Errorf("date %s: %w", key, err)
		}
		t.dates[key] = r
	}
	if len(t.annual) == 0 && len(t.dates) == 0 {
		return nil, errors.New("timetable is empty")
	}
	return t, nil
}

func parseRow(fr fileRow) (row, error) {
	var r row
	seen := map[prayer.Label]bool{}
	for k, v := range fr {
		l, err := prayer.ParseLabel(k)
		if err != nil {
			return row{}, err
		}
		d, err := parseClock(v)
		if err != nil {
			return row{}, fmt.Errorf("%s: %w", l, err)
		}
		r[l] = d
		seen[l] = true
	}
	for _, l := range prayer.Labels {
		if !seen[l] {
			return row{}, fmt.Errorf("missing %s", l)
		}
	}
	for i := 1; i < len(prayer.Labels); i++ {
		if r[prayer.Labels[i]] <= r[prayer.Labels[i-1]] {
			return row{}, fmt.Errorf("%s is not after %s", prayer.Labels[i], prayer.Labels[i-1])
		}
	}
	return r, nil
}

var reClock = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})(?::(\d{2}))?\s*$`)

func parseClock(s string) (time.Duration, error) {
	m := reClock.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	ss := 0
	if m[3] != "" {
		ss, _ = strconv.Atoi(m[3])
	}
	if hh > 23 || mm > 59 || ss > 59 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute + time.Duration(ss)*time.Second, nil
}

// Snapshot resolves day (dated row first, then annual row) into absolute
// timestamps in the table's location.
func (t *Table) Snapshot(ctx context.Context, day time.Time) (prayer.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return prayer.Snapshot{}, err
	}
	day = day.In(t.loc)
	r, ok := t.dates[day.Format(time.DateOnly)]
	if !ok {
		r, ok = t.annual[day.Format("01-02")]
	}
	if !ok {
		return prayer.Snapshot{}, fmt.Errorf("%w %s", ErrNoRow, day.Format(time.DateOnly))
	}
	times := make(map[prayer.Label]time.Time, len(prayer.Labels))
	for _, l := range prayer.Labels {
		off := r[l]
		h := int(off / time.Hour)
		m := int(off % time.Hour / time.Minute)
		s := int(off % time.Minute / time.Second)
		times[l] = time.Date(day.Year(), day.Month(), day.Day(), h, m, s, 0, t.loc)
	}
	return prayer.NewSnapshot(times)
}

func (t *Table) Location() *time.Location { return t.loc }

// Days returns the row keys, dated rows first, each group sorted.
func (t *Table) Days() []string {
	dates := make([]string, 0, len(t.dates))
	for k := range t.dates {
		dates = append(dates, k)
	}
	annual := make([]string, 0, len(t.annual))
	for k := range t.annual {
		annual = append(annual, k)
	}
	sort.Strings(dates)
	sort.Strings(annual)
	return append(dates, annual...)
}

// Holder is a Source whose table can be swapped on config reload.
type Holder struct {
	cur atomic.Pointer[Table]
}

func NewHolder(t *Table) *Holder {
	h := &Holder{}
	h.cur.Store(t)
	return h
}

func (h *Holder) Swap(t *Table) { h.cur.Store(t) }

func (h *Holder) Table() *Table { return h.cur.Load() }

func (h *Holder) Snapshot(ctx context.Context, day time.Time) (prayer.Snapshot, error) {
	t := h.cur.Load()
	if t == nil {
		return prayer.Snapshot{}, errors.New("timetable: not loaded")
	}
	return t.Snapshot(ctx, day)
}

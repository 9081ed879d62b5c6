package prayer

import (
	"fmt"
	"strings"
	"time"
)

// Snapshot holds the six timestamps of one day. It is immutable once built.
type Snapshot struct {
	times [labelCount]time.Time
}

// NewSnapshot builds a snapshot from a complete label mapping.
// Timestamps must be strictly increasing in label order.
func NewSnapshot(times map[Label]time.Time) (Snapshot, error) {
	var s Snapshot
	for _, l := range Labels {
		t, ok := times[l]
		if !ok || t.IsZero() {
			return Snapshot{}, &ConfigurationError{Reason: fmt.Sprintf("snapshot is missing %s", l)}
		}
		s.times[l] = t
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// Validate checks the strict chronological ordering of the labels.
func (s Snapshot) Validate() error {
	for i := 1; i < labelCount; i++ {
		prev, cur := Labels[i-1], Labels[i]
		if !s.times[cur].After(s.times[prev]) {
			return &ConfigurationError{Reason: fmt.Sprintf("%s (%s) is not after %s (%s)",
				cur, s.times[cur].Format(time.RFC3339), prev, s.times[prev].Format(time.RFC3339))}
		}
	}
	return nil
}

// At returns the timestamp of a label. Invalid labels return the zero time.
func (s Snapshot) At(l Label) time.Time {
	if !l.Valid() {
		return time.Time{}
	}
	return s.times[l]
}

// Day returns the calendar date of fajr in its own location.
func (s Snapshot) Day() time.Time {
	f := s.times[Fajr]
	return time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, f.Location())
}

// IqamaConfig maps congregational prayers to a whole number of minutes after
// the prayer call. Labels without an entry have no iqama.
type IqamaConfig struct {
	minutes [labelCount]int
	set     [labelCount]bool
}

// NewIqamaConfig validates offsets. A sunrise entry is ignored.
func NewIqamaConfig(offsets map[Label]int) (IqamaConfig, error) {
	var c IqamaConfig
	for l, m := range offsets {
		if !l.Valid() {
			return IqamaConfig{}, &ConfigurationError{Reason: fmt.Sprintf("unknown iqama label %s", l)}
		}
		if !l.Congregational() {
			continue
		}
		if m < 0 {
			return IqamaConfig{}, &ConfigurationError{Reason: fmt.Sprintf("iqama offset for %s must be >= 0 minutes, got %d", l, m)}
		}
		c.minutes[l] = m
		c.set[l] = true
	}
	return c, nil
}

// ParseIqamaConfig builds a config from label names as found in config files.
func ParseIqamaConfig(offsets map[string]int) (IqamaConfig, error) {
	m := make(map[Label]int, len(offsets))
	for k, v := range offsets {
		l, err := ParseLabel(k)
		if err != nil {
			return IqamaConfig{}, &ConfigurationError{Reason: err.Error()}
		}
		m[l] = v
	}
	return NewIqamaConfig(m)
}

// Offset returns the configured delay after the prayer call.
func (c IqamaConfig) Offset(l Label) (time.Duration, bool) {
	if !l.Valid() || !c.set[l] {
		return 0, false
	}
	return time.Duration(c.minutes[l]) * time.Minute, true
}

// Minutes returns a copy of the configured offsets keyed by label name.
func (c IqamaConfig) Minutes() map[string]int {
	out := map[string]int{}
	for _, l := range Labels {
		if c.set[l] {
			out[l.String()] = c.minutes[l]
		}
	}
	return out
}

// Equal reports whether two configs hold the same offsets.
func (c IqamaConfig) Equal(o IqamaConfig) bool { return c == o }

func (c IqamaConfig) String() string {
	parts := make([]string, 0, labelCount)
	for _, l := range Labels {
		if c.set[l] {
			parts = append(parts, fmt.Sprintf("%s=%dm", l, c.minutes[l]))
		}
	}
	return strings.Join(parts, ",")
}

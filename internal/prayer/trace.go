package prayer

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CompletionMarker terminates every textual trace.
const CompletionMarker = "|"

// TraceEntry is one emission as seen by a trace: its delay and index.
type TraceEntry struct {
	DelayMs int64 `json:"delay_ms"`
	Index   int   `json:"index"`
}

// EventTrace is the ordered (delay, index) sequence of a run.
type EventTrace struct {
	Entries []TraceEntry `json:"entries"`
}

// String renders "<delay>ms <index> " tokens followed by the completion marker.
func (t EventTrace) String() string {
	var b strings.Builder
	for _, e := range t.Entries {
		b.WriteString(strconv.FormatInt(e.DelayMs, 10))
		b.WriteString("ms ")
		b.WriteString(strconv.Itoa(e.Index))
		b.WriteByte(' ')
	}
	b.WriteString(CompletionMarker)
	return b.String()
}

// Equal compares two traces entry by entry.
func (t EventTrace) Equal(o EventTrace) bool {
	if len(t.Entries) != len(o.Entries) {
		return false
	}
	for i := range t.Entries {
		if t.Entries[i] != o.Entries[i] {
			return false
		}
	}
	return true
}

// TraceFromPlan lists the plan's delays as trace entries.
func TraceFromPlan(p Plan) EventTrace {
	t := EventTrace{Entries: make([]TraceEntry, 0, len(p.Delays))}
	for _, d := range p.Delays {
		t.Entries = append(t.Entries, TraceEntry{DelayMs: d.DelayMs(), Index: d.Index})
	}
	return t
}

// ExpectedTrace computes the trace an emitter must produce when started at ref
// and observed until until. Events after until are left out.
func ExpectedTrace(snap Snapshot, iqama IqamaConfig, ref, until time.Time, quantum time.Duration) (EventTrace, error) {
	if !until.After(ref) {
		return EventTrace{}, &InvalidRangeError{From: ref, Until: until}
	}
	events := Build(snap, iqama, ref)
	n := 0
	for n < len(events) && !events[n].At.After(until) {
		n++
	}
	plan, err := Compile(events[:n], ref, quantum)
	if err != nil {
		return EventTrace{}, fmt.Errorf("expected trace: %w", err)
	}
	return TraceFromPlan(plan), nil
}

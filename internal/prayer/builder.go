package prayer

import (
	"sort"
	"time"
)

// Quantum is the time consumed by one emission in the timer chain.
const Quantum = time.Millisecond

// ScheduledEvent is one future prayer call or iqama call.
type ScheduledEvent struct {
	Index  int
	Kind   Kind
	Prayer Label
	At     time.Time
}

// Build returns the events of snap that fire strictly after ref, indexed from 0
// in chronological order. An empty result means the day is over.
//
// A zero-minute iqama is placed one quantum after its prayer call so both
// events stay distinct and ordered. It is still due at the prayer instant, so
// it is elapsed exactly when its prayer call is.
func Build(snap Snapshot, iqama IqamaConfig, ref time.Time) []ScheduledEvent {
	type candidate struct {
		ev  ScheduledEvent
		due time.Time
	}
	candidates := make([]candidate, 0, 2*labelCount)
	for _, l := range Labels {
		at := snap.At(l)
		candidates = append(candidates, candidate{ScheduledEvent{Kind: PrayerCall, Prayer: l, At: at}, at})
		if !l.Congregational() {
			continue
		}
		off, ok := iqama.Offset(l)
		if !ok {
			continue
		}
		due := at.Add(off)
		fire := due
		if off == 0 {
			fire = at.Add(Quantum)
		}
		candidates = append(candidates, candidate{ScheduledEvent{Kind: IqamaCall, Prayer: l, At: fire}, due})
	}

	// A long iqama offset may land after the next prayer call.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].ev.At.Before(candidates[j].ev.At)
	})

	out := make([]ScheduledEvent, 0, len(candidates))
	for _, c := range candidates {
		if !c.due.After(ref) {
			continue
		}
		c.ev.Index = len(out)
		out = append(out, c.ev)
	}
	return out
}

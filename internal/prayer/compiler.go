package prayer

import (
	"fmt"
	"time"
)

// CompiledDelay is the wait before one emission, measured from the end of the
// previous emission (or from the plan origin for the first).
type CompiledDelay struct {
	Index  int
	Kind   Kind
	Prayer Label
	Delay  time.Duration
}

// DelayMs returns the delay in whole milliseconds.
func (d CompiledDelay) DelayMs() int64 { return d.Delay.Milliseconds() }

// Plan is the compiled schedule of one session.
type Plan struct {
	Origin  time.Time
	Quantum time.Duration
	Delays  []CompiledDelay
}

func (p Plan) Len() int { return len(p.Delays) }

// FiringInstants rebuilds the absolute instants by summing the delays and
// adding back one quantum per non-first event.
func (p Plan) FiringInstants() []time.Time {
	out := make([]time.Time, 0, len(p.Delays))
	at := p.Origin
	for i, d := range p.Delays {
		if i > 0 {
			at = at.Add(p.Quantum)
		}
		at = at.Add(d.Delay)
		out = append(out, at)
	}
	return out
}

// Compile converts ordered events into quantum-corrected relative delays.
// quantum <= 0 selects Quantum.
func Compile(events []ScheduledEvent, ref time.Time, quantum time.Duration) (Plan, error) {
	if quantum <= 0 {
		quantum = Quantum
	}
	plan := Plan{Origin: ref, Quantum: quantum, Delays: make([]CompiledDelay, 0, len(events))}
	prev := ref
	for i := range events {
		ev := events[i]
		if ev.Index != i {
			return Plan{}, &ConfigurationError{Reason: fmt.Sprintf("event index %d out of sequence (want %d)", ev.Index, i), Event: &ev}
		}
		d := ev.At.Sub(prev)
		if i > 0 {
			d -= quantum
		}
		if d < 0 {
			return Plan{}, &ConfigurationError{
				Reason: fmt.Sprintf("negative delay %s: events closer than one quantum (%s)", d, quantum),
				Event:  &ev,
			}
		}
		plan.Delays = append(plan.Delays, CompiledDelay{Index: ev.Index, Kind: ev.Kind, Prayer: ev.Prayer, Delay: d})
		prev = ev.At
	}
	return plan, nil
}

package rollover

import (
	"context"
	"fmt"
	"time"

	"prayercall/internal/prayer"
)

// State is the controller lifecycle: Idle → Building → Running → Draining → Building ...
type State int

const (
	Idle State = iota
	Building
	Running
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Building:
		return "building"
	case Running:
		return "running"
	case Draining:
		return "draining"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Source returns the snapshot of one calendar day (midnight in the
// controller's location).
type Source interface {
	Snapshot(ctx context.Context, day time.Time) (prayer.Snapshot, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, day time.Time) (prayer.Snapshot, error)

func (f SourceFunc) Snapshot(ctx context.Context, day time.Time) (prayer.Snapshot, error) {
	return f(ctx, day)
}

// Transition is published on the event bus for every state change.
type Transition struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	Day   time.Time `json:"day,omitempty"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}

package emitter

import (
	"time"

	"prayercall/internal/prayer"
)

// Event is one emission.
type Event struct {
	Index  int
	Kind   prayer.Kind
	Prayer prayer.Label
	// At is the scheduled firing instant.
	At time.Time
	// FiredAt is the clock reading when the timer ran (At plus timer lateness).
	FiredAt time.Time
}

// Observer receives the events of the sessions it is subscribed to.
// OnComplete follows the last event of a session; OnError reports a session
// that failed and will not deliver further events.
type Observer interface {
	OnEvent(ev Event) error
	OnComplete()
	OnError(err error)
}

// Funcs adapts plain functions to Observer. Nil fields are skipped.
type Funcs struct {
	Event    func(Event) error
	Complete func()
	Error    func(error)
}

func (f Funcs) OnEvent(ev Event) error {
	if f.Event == nil {
		return nil
	}
	return f.Event(ev)
}

func (f Funcs) OnComplete() {
	if f.Complete != nil {
		f.Complete()
	}
}

func (f Funcs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// Handle identifies a subscription. The zero Handle is never issued.
type Handle uint64

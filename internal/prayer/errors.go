package prayer

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptySchedule reports that every event of a day has already elapsed.
// It is not a failure: the rollover controller reacts by moving to the next day.
var ErrEmptySchedule = errors.New("prayer: all events of the day have elapsed")

// InvalidRangeError is returned when a trace is requested for a range whose end
// is not strictly after its start.
type InvalidRangeError struct {
	From  time.Time
	Until time.Time
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("prayer: invalid range: until %s is not after %s",
		e.Until.Format(time.RFC3339Nano), e.From.Format(time.RFC3339Nano))
}

// ConfigurationError reports input that cannot produce a valid schedule: a
// malformed iqama offset, an unordered snapshot, or two events closer together
// than one quantum.
type ConfigurationError struct {
	Reason string
	// Event is set when the error was raised while compiling a specific event.
	Event *ScheduledEvent
}

func (e *ConfigurationError) Error() string {
	if e.Event == nil {
		return "prayer: configuration error: " + e.Reason
	}
	return fmt.Sprintf("prayer: configuration error at event %d (%s %s): %s",
		e.Event.Index, e.Event.Prayer, e.Event.Kind, e.Reason)
}

// Package emitter drives a compiled prayer.Plan against a clock.Clock and fans
// each emission out to registered observers.
//
// # Timer chain
//
// Exactly one timer is armed at any time. When it fires, the event is delivered
// to every current observer in subscription order, then the next timer is
// armed. The wait for the next timer is recomputed from the clock's current
// reading and the event's scheduled instant (resync), so late timers never
// accumulate drift over a day.
//
// # Sessions
//
// Schedule starts a session; Cancel and Fail end it. Every armed timer carries
// a token, and a callback whose token is stale is a no-op, so an in-flight timer
// can never deliver after cancellation.
//
// # Observers
//
// Observer failures (returned errors or panics) are logged and counted; they
// never stop delivery to the other observers. Removing the last observer pauses
// the chain; the next Subscribe resumes it with the events still in the future.
package emitter

// Package notifier turns emitted prayer and iqama calls into announcements and
// delivers them to every configured transport.
//
// The Service is an emitter observer. OnEvent only renders and enqueues, so a
// slow channel never delays the timer chain. Delivery runs on a worker pool
// with a shared rate limit, jittered retry and a dedup window keyed by
// location, kind, prayer and instant. With storage enabled, dedup state and
// every delivery outcome survive restarts.
package notifier

// Package prayer turns a day's prayer timestamps into the ordered list of timed
// events announced by prayercall.
//
// The package is pure: it owns no goroutines and never reads the wall clock.
// Callers pass the reference instant explicitly.
//
//   - Build walks the six labels in chronological order and produces the
//     future prayer calls and iqama calls for a day.
//   - Compile converts the absolute firing instants into relative delays for a
//     timer chain where every emission consumes one quantum of time.
//   - ExpectedTrace renders the compiled plan in the textual trace form used to
//     verify an emitter run ("3600000ms 0 1199999ms 1 |").
package prayer

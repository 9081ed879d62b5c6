// Package logx is the structured logger used across prayercall.
//
// Logger is a value type over zerolog. The zero Logger discards everything,
// so components hold one unconditionally. A Service owns the console and
// JSON file sinks and swaps level or sinks on config reload; every Logger
// derived from it follows the swap.
package logx

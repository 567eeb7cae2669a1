// Package module implements the data sources feeding dynamic content into
// the bar: clock, D-Bus property watches, audio volume, subprocess output,
// static text, and composite values derived from other modules.
//
// Modules run their own goroutines but never touch shared rendering state.
// They post Wakeup messages to the reactor, which owns the Registry and
// applies value changes on its single scheduling goroutine.
package module

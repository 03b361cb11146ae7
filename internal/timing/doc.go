// Package timing provides the clock abstraction and debouncing used by the
// bridge.
//
// Components that wait on quiet periods (terminal close detection, config
// reloads) take a Clock instead of calling the time package directly, so
// tests can drive them with a Fake clock and observe every state transition
// deterministically.
//
// # Clock
//
// Real returns a Clock backed by the time package. Fake is a manually
// advanced clock: timers scheduled with AfterFunc fire synchronously, in
// deadline order, from inside Advance.
//
// # Debouncer
//
// Debouncer groups rapid successive calls into a single callback after a
// quiet period:
//
//	d := timing.NewDebouncer(timing.Real(), 100*time.Millisecond, reload)
//	d.Call() // fires once, 100ms after the last Call
package timing

// Package progress aggregates progress reports for long-running engine
// operations and renders them on a user-facing surface.
//
// Each operation id moves through Unseen, Active and Done. The first event
// for an id creates an Entry; later events update its fraction and message;
// a done event renders the final message and removes the entry.
//
// # Presentation modes
//
// ModeStatusIndicator shares one persistent indicator between every active
// operation. It always shows the entry updated most recently and is hidden
// when no entries remain.
//
// ModeNotification opens one cancellable Notification per operation. A
// cancel from any notification invokes the aggregator's OnCancel callback;
// the aggregator itself does not know how to stop the operation.
//
// # Messages
//
// A message is the operation name, followed by the percentage with one
// decimal when the fraction lies in [0, 1], followed by the estimated
// remaining time when it is finite:
//
//	Indexing 25.0% (30s remaining)
package progress

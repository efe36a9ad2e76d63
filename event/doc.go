// Package event implements the observable event bus behind a timed-map
// store. It decouples store mutations from listener execution: Emit
// enqueues a listener batch onto a single dispatcher goroutine, so
// callers never block on (or see panics from) their observers, while
// EmitNow delivers synchronously for shutdown notification.
//
// Subscriptions are identified by ids of the form "TYPE#seq" and can be
// persistent (On) or single-use (Once). A Once registration is removed
// at the moment its event fires, before any listener runs, so re-entrant
// emissions cannot fire it twice.
package event

// Package timedmap provides an in-memory key/value store whose entries
// expire after a configurable time-to-live unless read before the
// deadline, in which case the TTL restarts. It targets application-level
// memoization where stale, infrequently-accessed results should age out
// without explicit cleanup calls.
//
// A Store combines lazy pruning (expired entries are dropped when the
// key, or any size/listing accessor, is touched) with a single scheduled
// background sweep, and reports every state transition through the event
// bus in the event subpackage:
//
//	st := timedmap.New[string, string](30 * time.Second)
//	defer st.Close()
//
//	st.On(event.Pruned, func(ev event.Event) {
//		d := ev.Data.(timedmap.PrunedData[string, string])
//		log.Printf("pruned %d entries", len(d.Removed))
//	}, nil)
//
//	st.Put("greeting", "hello")
//	v, ok := st.Get("greeting") // renews the TTL
//
// Entries are owned exclusively by the Store: values and entries handed
// to callers or listeners are independent deep copies, so mutating them
// cannot corrupt internal state.
//
// A Store must be closed by its owner; Close cancels the background
// sweep and emits a synchronous CLOSING event. Any other operation on a
// closed Store panics with ErrClosed.
package timedmap

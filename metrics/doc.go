// Package metrics exposes timed-map activity counters in the Prometheus
// text exposition format.
//
// A Collector accumulates counts from store lifecycle events; Attach
// wires it to a Store's event bus. Write encodes the current state to
// any io.Writer; there is deliberately no HTTP listener here, the
// caller decides where the bytes go.
package metrics

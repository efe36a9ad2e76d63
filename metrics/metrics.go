package metrics

import (
	"fmt"
	"io"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	timedmap "github.com/steveswork/timed-map"
	"github.com/steveswork/timed-map/event"
)

// Collector accumulates store activity counters. It is safe for
// concurrent use; updates arrive from the event bus dispatcher while
// Write may be called from anywhere.
type Collector struct {
	mu             sync.Mutex
	puts           uint64
	renewals       uint64
	removals       uint64
	prunedEntries  uint64
	pruneSweeps    uint64
	clearedEntries uint64

	sizeFn func() int
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Attach subscribes c to every counting event of st and wires the live
// entry gauge to st.Size. It returns the subscription ids so callers can
// detach selectively with OffByID.
//
// Because the gauge reads the live store, Write must not be called after
// st has been closed.
func Attach[K comparable, V any](st *timedmap.Store[K, V], c *Collector) ([]string, error) {
	handlers := []struct {
		t  event.Type
		fn event.Listener
	}{
		{event.Put, func(event.Event) { c.add(&c.puts, 1) }},
		{event.AutoRenewed, func(event.Event) { c.add(&c.renewals, 1) }},
		{event.Removed, func(event.Event) { c.add(&c.removals, 1) }},
		{event.Pruned, func(ev event.Event) {
			d, ok := ev.Data.(timedmap.PrunedData[K, V])
			if !ok {
				return
			}
			c.mu.Lock()
			c.pruneSweeps++
			c.prunedEntries += uint64(len(d.Removed))
			c.mu.Unlock()
		}},
		{event.Cleared, func(ev event.Event) {
			d, ok := ev.Data.(timedmap.ClearedData[K, V])
			if !ok {
				return
			}
			c.add(&c.clearedEntries, uint64(len(d.Removed)))
		}},
	}

	ids := make([]string, 0, len(handlers))
	for _, h := range handlers {
		id, err := st.On(h.t, h.fn, nil)
		if err != nil {
			return ids, fmt.Errorf("metrics: subscribe %s: %w", h.t, err)
		}
		ids = append(ids, id)
	}

	c.mu.Lock()
	c.sizeFn = st.Size
	c.mu.Unlock()

	return ids, nil
}

func (c *Collector) add(field *uint64, n uint64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// Write encodes the current counter state as Prometheus text exposition.
func (c *Collector) Write(w io.Writer) error {
	c.mu.Lock()
	families := []*dto.MetricFamily{
		counter("timedmap_puts_total",
			"Total entries created or overwritten.", c.puts),
		counter("timedmap_renewals_total",
			"Total renewing reads (Get/GetEntry hits).", c.renewals),
		counter("timedmap_removals_total",
			"Total Remove calls, including removals of expired entries.", c.removals),
		counter("timedmap_prune_sweeps_total",
			"Total pruning sweeps that evicted at least one entry.", c.pruneSweeps),
		counter("timedmap_pruned_entries_total",
			"Total entries evicted by pruning sweeps.", c.prunedEntries),
		counter("timedmap_cleared_entries_total",
			"Total entries dropped by Clear calls.", c.clearedEntries),
	}
	sizeFn := c.sizeFn
	c.mu.Unlock()

	if sizeFn != nil {
		families = append(families, gauge("timedmap_entries",
			"Entries currently live in the store.", float64(sizeFn())))
	}

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

func counter(name, help string, v uint64) *dto.MetricFamily {
	value := float64(v)
	return &dto.MetricFamily{
		Name:   &name,
		Help:   &help,
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: &value}}},
	}
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   &name,
		Help:   &help,
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: &v}}},
	}
}

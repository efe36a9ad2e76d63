package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	timedmap "github.com/steveswork/timed-map"
	"github.com/steveswork/timed-map/config"
	"github.com/steveswork/timed-map/event"
	"github.com/steveswork/timed-map/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file; empty uses built-in defaults")
	watch := flag.Bool("watch", false, "watch the config file and apply max_entry_age changes live")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	slog.Info("timedmap demo starting",
		"max_entry_age", cfg.Store.MaxEntryAge,
		"metrics_enabled", cfg.Metrics.Enabled,
	)

	st := timedmap.New[string, string](cfg.Store.MaxEntryAge)
	defer st.Close()

	// Log every lifecycle event the store reports.
	for _, t := range []event.Type{
		event.Put, event.AutoRenewed, event.Removed, event.Pruned, event.Cleared,
	} {
		if _, err := st.On(t, logEvent, nil); err != nil {
			slog.Error("subscribe failed", "type", t, "err", err)
			os.Exit(1)
		}
	}
	if _, err := st.Once(event.Closing, func(ev event.Event) {
		slog.Info("store closing", "timestamp", ev.Timestamp)
	}, nil); err != nil {
		slog.Error("subscribe failed", "type", event.Closing, "err", err)
		os.Exit(1)
	}

	collector := metrics.NewCollector()
	if _, err := metrics.Attach(st, collector); err != nil {
		slog.Error("metrics attach failed", "err", err)
		os.Exit(1)
	}

	// Live TTL tuning: edits to store.max_entry_age in the config file
	// reschedule the store's sweep without resetting entry ages.
	if *watch && *configPath != "" {
		go func() {
			if err := config.Watch(ctx, *configPath, func(next *config.Config) {
				st.SetMaxEntryAge(next.Store.MaxEntryAge)
			}); err != nil {
				slog.Error("config watch stopped", "err", err)
			}
		}()
	}

	if cfg.Metrics.Enabled {
		go func() {
			t := time.NewTicker(cfg.Metrics.Interval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					if err := collector.Write(os.Stderr); err != nil {
						slog.Error("metrics write failed", "err", err)
					}
				}
			}
		}()
	}

	runWalkthrough(ctx, st)

	if err := collector.Write(os.Stderr); err != nil {
		slog.Error("metrics write failed", "err", err)
	}
}

// runWalkthrough exercises the renewal and expiry paths with short TTLs
// so the demo finishes in a few seconds.
func runWalkthrough(ctx context.Context, st *timedmap.Store[string, string]) {
	st.Put("greeting", "hello")
	st.PutTTL("flash", "gone soon", 300*time.Millisecond)

	if v, ok := st.Peak("greeting"); ok {
		slog.Info("peak does not renew", "key", "greeting", "value", v)
	}

	// Keep "greeting" alive across the flash entry's deadline.
	if !sleep(ctx, 200*time.Millisecond) {
		return
	}
	if v, ok := st.Get("greeting"); ok {
		slog.Info("get renews the deadline", "key", "greeting", "value", v)
	}

	if !sleep(ctx, 200*time.Millisecond) {
		return
	}
	if st.Has("flash") {
		slog.Info("unexpected: flash survived its ttl")
	} else {
		slog.Info("flash expired after 300ms unread")
	}

	slog.Info("store state", "size", st.Size(), "keys", st.Keys())

	st.Clear()
	slog.Info("cleared", "is_empty", st.IsEmpty())

	// Leave a beat for deferred event deliveries to hit the logger
	// before Close drains the bus.
	sleep(ctx, 100*time.Millisecond)
}

func logEvent(ev event.Event) {
	slog.Info("store event",
		"type", ev.Type,
		"id", ev.ID,
		"timestamp", ev.Timestamp,
		"data", ev.Data,
	)
}

// sleep waits for d or ctx cancellation, reporting whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

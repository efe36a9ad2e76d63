package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "timedmap.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	p := writeConfig(t, `metrics:
  enabled: true
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxEntryAge, cfg.Store.MaxEntryAge)
	assert.Equal(t, DefaultMetricsInterval, cfg.Metrics.Interval)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_Full(t *testing.T) {
	p := writeConfig(t, `store:
  max_entry_age: 10m
metrics:
  enabled: true
  interval: 5s
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.Store.MaxEntryAge)
	assert.Equal(t, 5*time.Second, cfg.Metrics.Interval)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid yaml", "store: ["},
		{"non-positive ttl", "store:\n  max_entry_age: -5s\n"},
		{"non-positive interval", "metrics:\n  interval: 0s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeConfig(t, tt.content)
			_, err := Load(p)
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NoError(t, validate(cfg))
	assert.Equal(t, DefaultMaxEntryAge, cfg.Store.MaxEntryAge)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeConfig(t, "store:\n  max_entry_age: 1m\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, p, func(cfg *Config) { reloads <- cfg })
	}()

	// Give the watcher a beat to register before the write.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte("store:\n  max_entry_age: 2m\n"), 0o600))

	select {
	case cfg := <-reloads:
		assert.Equal(t, 2*time.Minute, cfg.Store.MaxEntryAge)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never reported the change")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not stop on cancellation")
	}
}

func TestWatch_KeepsPreviousConfigOnBadReload(t *testing.T) {
	p := writeConfig(t, "store:\n  max_entry_age: 1m\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan *Config, 4)
	go func() {
		_ = Watch(ctx, p, func(cfg *Config) { reloads <- cfg })
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte("store: ["), 0o600))

	select {
	case cfg := <-reloads:
		t.Fatalf("onChange called for invalid config: %+v", cfg)
	case <-time.After(500 * time.Millisecond):
		// invalid write stayed quiet, as it should
	}
}

package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseOverlaysDefault(t *testing.T) {
	cfg, err := Parse([]byte(`
port: 50000
max_age: 30m
dnssd: true
search:
  target: ssdp:all
`))
	require.NoError(t, err)

	want := Default()
	want.Port = 50000
	want.MaxAge = Duration(30 * time.Minute)
	want.DNSSD = true
	want.Search.Target = "ssdp:all"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestDurationSeconds(t *testing.T) {
	cfg, err := Parse([]byte("max_age: 1800\n"))
	require.NoError(t, err)
	assert.Equal(t, 1800*time.Second, cfg.MaxAge.Std())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "prot: 1\n"},
		{"bad port", "port: 70000\n"},
		{"bad duration", "max_age: soon\n"},
		{"bad level", "log_level: loud\n"},
		{"bad mx", "search:\n  mx: 0\n"},
		{"two documents", "port: 1\n---\nport: 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.StateDir = "/var/lib/upnp"
	data, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "max_age: 1m40s")

	got, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "upnp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o644))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestWatch(t *testing.T) {
	if testing.Short() {
		t.Skip("file watching in -short mode")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "upnp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 1000\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func(c Config) {
			select {
			case changes <- c:
			default:
			}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("port: 2000\n"), 0o644))

	select {
	case c := <-changes:
		assert.Equal(t, 2000, c.Port)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	require.NoError(t, <-done)
}

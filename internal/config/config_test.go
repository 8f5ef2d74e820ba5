package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Limits.WarnRows != 1000 || cfg.Limits.MaxRows != 5000 {
		t.Fatalf("limits = %+v, want 1000/5000", cfg.Limits)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %o, want 600", perm)
	}
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "timezone: America/Chicago\ndefault_color: \"#abc\"\nweek_start: Sunday\ncache:\n  ttl: 2m\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timezone != "America/Chicago" {
		t.Fatalf("Timezone = %q", cfg.Timezone)
	}
	if cfg.WeekStart != "sunday" {
		t.Fatalf("WeekStart = %q, want sunday", cfg.WeekStart)
	}
	if cfg.Cache.TTL != 2*time.Minute {
		t.Fatalf("Cache.TTL = %v, want 2m", cfg.Cache.TTL)
	}
	if cfg.Calendar.SlotDuration != "00:30:00" {
		t.Fatalf("SlotDuration = %q", cfg.Calendar.SlotDuration)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("PEFSCHED_LISTEN", "0.0.0.0:9000")
	t.Setenv("PEFSCHED_LIMITS_MAX_ROWS", "7000")
	t.Setenv("PEFSCHED_CACHE_BACKEND", "none")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Fatalf("Listen = %q", cfg.Listen)
	}
	if cfg.Limits.MaxRows != 7000 {
		t.Fatalf("MaxRows = %d, want 7000", cfg.Limits.MaxRows)
	}
	if cfg.Cache.Backend != "none" {
		t.Fatalf("Cache.Backend = %q", cfg.Cache.Backend)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"slot duration", func(c *Config) { c.Calendar.SlotDuration = "30m" }, "slot_duration"},
		{"snap duration", func(c *Config) { c.Calendar.SnapDuration = "0:15:00" }, "snap_duration"},
		{"label interval", func(c *Config) { c.Calendar.SlotLabelInterval = "01:00:00" }, "slot_label_interval"},
		{"popover width", func(c *Config) { c.Calendar.PopoverWidth = 50 }, "popover_width"},
		{"window padding", func(c *Config) { c.Calendar.WindowPadding = -1 }, "window_padding"},
		{"color", func(c *Config) { c.DefaultColor = "blue" }, "default_color"},
		{"timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
		{"limits", func(c *Config) { c.Limits.MaxRows = 10 }, "max_rows"},
		{"ics url", func(c *Config) { c.ICS = []ICSConfig{{ID: "x"}} }, "ics[0]"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.DefaultColor = "#112233"
	cfg.Calendar.PopoverWidth = 420
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "secret"}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.DefaultColor != "#112233" || got.Calendar.PopoverWidth != 420 {
		t.Fatalf("round trip lost values: %+v", got)
	}
	if got.BasicAuth == nil || got.BasicAuth.Username != "admin" {
		t.Fatalf("BasicAuth = %+v", got.BasicAuth)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.ICS = []ICSConfig{{ID: "a", URL: "https://example.com/a.ics"}}
	cfg.BasicAuth = &BasicAuthConfig{Username: "u", Password: "p"}

	c := cfg.Clone()
	c.ICS[0].ID = "b"
	c.BasicAuth.Username = "other"

	if cfg.ICS[0].ID != "a" || cfg.BasicAuth.Username != "u" {
		t.Fatal("clone shares state with original")
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) { got <- c })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)

	cfg := DefaultConfig()
	cfg.DefaultColor = "#ff0000"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-got:
		if c.DefaultColor != "#ff0000" {
			t.Fatalf("DefaultColor = %q, want #ff0000", c.DefaultColor)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch: %v", err)
	}
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{gateway: {port: 9000}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Snapshot().Gateway.Port != 9000 {
		t.Fatalf("initial port = %d", cfg.Snapshot().Gateway.Port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := Watch(ctx, path, cfg); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{gateway: {port: 9001}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for cfg.Snapshot().Gateway.Port != 9001 {
		select {
		case <-deadline:
			t.Fatalf("config not reloaded, port = %d", cfg.Snapshot().Gateway.Port)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestWatchKeepsConfigOnBrokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{gateway: {port: 9000}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := Watch(ctx, path, cfg); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{{{ not parseable`), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(500 * time.Millisecond)
	if got := cfg.Snapshot().Gateway.Port; got != 9000 {
		t.Errorf("port = %d after broken reload, want previous value 9000", got)
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := Watch(ctx, "/no/such/dir/config.json", Default()); err == nil {
		t.Error("expected error for unwatchable directory")
	}
}

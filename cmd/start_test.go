package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pocketagent/host/internal/config"
)

// syncBuffer is a bytes.Buffer safe to read while runHost writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestApplyStartFlags(t *testing.T) {
	cmd := newStartCmd()
	dataDir := t.TempDir()
	if err := cmd.Flags().Parse([]string{"--addr", "127.0.0.1:9999", "--data-dir", dataDir, "--qr"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg := &config.Config{Addr: "0.0.0.0:7070", MdnsEnabled: true}
	if err := applyStartFlags(cmd, cfg); err != nil {
		t.Fatalf("applyStartFlags: %v", err)
	}

	if cfg.Addr != "127.0.0.1:9999" {
		t.Errorf("addr flag not applied: %s", cfg.Addr)
	}
	if cfg.DBPath != filepath.Join(dataDir, config.DefaultDBName) {
		t.Errorf("db path not derived from data dir: %s", cfg.DBPath)
	}
	if !cfg.QR || !cfg.Pair {
		t.Error("--qr should imply --pair")
	}
	if !cfg.MdnsEnabled {
		t.Error("unset flags must not override file values")
	}
}

func TestRunHostServesUntilCancelled(t *testing.T) {
	dataDir := t.TempDir()
	cfg := &config.Config{
		Addr:     "127.0.0.1:0",
		DataDir:  dataDir,
		Pair:     true,
		TLS:      true,
		HostName: "test-host",
		LogFile:  filepath.Join(dataDir, "host.log"),
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var stdout syncBuffer
	done := make(chan error, 1)
	go func() { done <- runHost(ctx, cfg, &stdout) }()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(stdout.String(), "PAIRING CODE") {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("host did not start, output:\n%s", stdout.String())
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runHost returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runHost did not stop")
	}

	out := stdout.String()
	if !strings.Contains(out, "wss://127.0.0.1:0/ws") || !strings.Contains(out, "TLS:") {
		t.Errorf("banner missing TLS details:\n%s", out)
	}
	for _, path := range []string{cfg.DBPath, cfg.TLSCert, cfg.TLSKey} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected %s to exist: %v", path, err)
		}
	}
	logData, err := os.ReadFile(cfg.LogFile)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(logData), "server: listening") {
		t.Errorf("log file missing server start:\n%s", logData)
	}
}

func TestRunHostFailsOnBusyPort(t *testing.T) {
	host := startTestHost(t, nil)

	cfg := &config.Config{Addr: host.ts.Listener.Addr().String(), DataDir: t.TempDir(), HostName: "test-host"}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults: %v", err)
	}

	err := runHost(context.Background(), cfg, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "failed to listen") {
		t.Errorf("expected listen error, got %v", err)
	}
}

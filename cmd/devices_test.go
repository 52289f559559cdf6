package main

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pocketagent/host/internal/auth"
	"github.com/pocketagent/host/internal/storage"
)

// pairDevices registers devices in the database under dataDir.
func pairDevices(t *testing.T, dataDir string, names ...string) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(dataDir, "pocketagent.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	creds := auth.NewCredentialStore(store)
	for _, name := range names {
		token, err := creds.Register(auth.NewDeviceID(), name)
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		if name == "Pixel" {
			if err := creds.SetPushToken(token, "ExponentPushToken[pixel]"); err != nil {
				t.Fatalf("set push token: %v", err)
			}
		}
	}
}

func TestDevicesListEmpty(t *testing.T) {
	cfg := writeConfig(t, "127.0.0.1:7070", t.TempDir())

	stdout, _, err := execute(t, "devices", "list", "--config", cfg)
	if err != nil {
		t.Fatalf("devices list failed: %v", err)
	}
	if !strings.Contains(stdout, "No paired devices") {
		t.Errorf("unexpected output: %q", stdout)
	}
}

func TestDevicesListTable(t *testing.T) {
	dataDir := t.TempDir()
	pairDevices(t, dataDir, "Pixel", "iPad")
	cfg := writeConfig(t, "127.0.0.1:7070", dataDir)

	stdout, _, err := execute(t, "devices", "list", "--config", cfg)
	if err != nil {
		t.Fatalf("devices list failed: %v", err)
	}
	for _, want := range []string{"NAME", "Pixel", "iPad", "yes", "no"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
}

func TestDevicesListJSONHidesTokens(t *testing.T) {
	dataDir := t.TempDir()
	pairDevices(t, dataDir, "Pixel")
	cfg := writeConfig(t, "127.0.0.1:7070", dataDir)

	stdout, _, err := execute(t, "devices", "list", "--json", "--config", cfg)
	if err != nil {
		t.Fatalf("devices list failed: %v", err)
	}

	var views []deviceView
	if err := json.Unmarshal([]byte(stdout), &views); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout)
	}
	if len(views) != 1 || views[0].DeviceName != "Pixel" || !views[0].Push {
		t.Fatalf("unexpected devices: %+v", views)
	}
	if strings.Contains(stdout, "\"token\"") {
		t.Error("raw tokens must not be listed")
	}
}

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	hostErrors "github.com/pocketagent/host/internal/errors"
)

// execute runs the command tree with args and returns captured output.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// writeConfig writes a config file for a host listening on addr with its
// state under dataDir.
func writeConfig(t *testing.T, addr, dataDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	content := fmt.Sprintf("addr = %q\ndata_dir = %q\nhost_name = \"test-host\"\n", addr, dataDir)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	old := Version
	Version = "v9.9.9"
	defer func() { Version = old }()

	stdout, _, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if stdout != "pocketagent v9.9.9\n" {
		t.Errorf("unexpected output: %q", stdout)
	}
}

func TestHelpListsCommands(t *testing.T) {
	stdout, _, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("help failed: %v", err)
	}
	for _, name := range []string{"start", "pair", "devices", "notify", "status", "discover", "version"} {
		if !strings.Contains(stdout, name) {
			t.Errorf("help output missing %q", name)
		}
	}
}

func TestUnknownCommandFails(t *testing.T) {
	_, stderr, err := execute(t, "frobnicate")
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(stderr, "unknown command") {
		t.Errorf("expected unknown command message, got %q", stderr)
	}
}

func TestPrintNextAction(t *testing.T) {
	var buf bytes.Buffer
	printNextAction(&buf, fmt.Errorf("open store: %w", hostErrors.New(hostErrors.CodeStorageOpenFailed, "open database")))
	if want := "Next: " + hostErrors.GetNextAction(hostErrors.CodeStorageOpenFailed) + "\n"; buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}

	buf.Reset()
	printNextAction(&buf, fmt.Errorf("plain failure"))
	if buf.Len() != 0 {
		t.Errorf("uncoded errors have no hint, got %q", buf.String())
	}
}

func TestMissingConfigFileFails(t *testing.T) {
	_, _, err := execute(t, "status", "--config", filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("expected config not found error, got %v", err)
	}
}

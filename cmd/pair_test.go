package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pocketagent/host/internal/auth"
	hostErrors "github.com/pocketagent/host/internal/errors"
	"github.com/pocketagent/host/internal/server"
	"github.com/pocketagent/host/internal/status"
	"github.com/pocketagent/host/internal/storage"
)

// runningHost is a real server behind httptest, as `pocketagent start`
// would wire it.
type runningHost struct {
	ts          *httptest.Server
	pairing     *auth.PairingRegistry
	credentials *auth.CredentialStore
	status      *status.Broadcaster
	config      string
}

func startTestHost(t *testing.T, notifier server.Notifier) *runningHost {
	t.Helper()

	store, err := storage.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	h := &runningHost{
		pairing:     auth.NewPairingRegistry(auth.PairingConfig{}),
		credentials: auth.NewCredentialStore(store),
		status:      status.NewBroadcaster(),
	}
	srv := server.NewServer(server.Config{
		Addr:        "127.0.0.1:0",
		Pairing:     h.pairing,
		Credentials: h.credentials,
		Status:      h.status,
		Notifier:    notifier,
		Settings:    store,
		HostName:    "test-host",
		Version:     "v1.0.0",
	})
	h.ts = httptest.NewServer(srv.Handler())
	h.config = writeConfig(t, h.ts.Listener.Addr().String(), t.TempDir())

	t.Cleanup(func() {
		srv.Stop()
		h.ts.Close()
		h.pairing.Close()
		store.Close()
	})
	return h
}

func TestPairCommandPrintsActiveCode(t *testing.T) {
	host := startTestHost(t, nil)

	stdout, _, err := execute(t, "pair", "--config", host.config, "--addr", "192.168.1.5:7070")
	if err != nil {
		t.Fatalf("pair failed: %v", err)
	}
	if !strings.Contains(stdout, "PAIRING CODE") || !strings.Contains(stdout, "192.168.1.5:7070") {
		t.Errorf("unexpected output:\n%s", stdout)
	}

	code, _, err := host.pairing.CurrentCode()
	if err != nil {
		t.Fatalf("CurrentCode failed: %v", err)
	}
	if !strings.Contains(stdout, FormatCodeWithSpaces(code)) {
		t.Errorf("output does not show the active code %s:\n%s", code, stdout)
	}
}

func TestPairCommandQR(t *testing.T) {
	host := startTestHost(t, nil)

	stdout, _, err := execute(t, "pair", "--config", host.config, "--qr", "--addr", "10.0.0.2:7070")
	if err != nil {
		t.Fatalf("pair failed: %v", err)
	}
	if !strings.Contains(stdout, "SCAN TO PAIR") {
		t.Errorf("expected QR header, got:\n%s", stdout)
	}
}

func TestPairCommandWithoutHost(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := ts.Listener.Addr().String()
	ts.Close()

	_, _, err := execute(t, "pair", "--config", writeConfig(t, addr, t.TempDir()))
	if err == nil || !strings.Contains(err.Error(), "pocketagent start") {
		t.Errorf("expected hint to start the host, got %v", err)
	}
}

func TestPairCommandRefusedByHost(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.WriteError(w, http.StatusForbidden, hostErrors.CodeAuthGenerateForbidden, "This endpoint is only available from localhost")
	}))
	defer ts.Close()

	_, _, err := execute(t, "pair", "--config", writeConfig(t, ts.Listener.Addr().String(), t.TempDir()))
	if !hostErrors.IsCode(err, hostErrors.CodeAuthGenerateForbidden) {
		t.Fatalf("expected %s, got %v", hostErrors.CodeAuthGenerateForbidden, err)
	}
	if strings.Contains(err.Error(), "pocketagent start") {
		t.Errorf("a refusing host is running; no start hint expected: %v", err)
	}
}

func TestFormatCodeWithSpaces(t *testing.T) {
	tests := map[string]string{
		"123456": "1 2 3 4 5 6",
		"1":      "1",
		"":       "",
	}
	for in, want := range tests {
		if got := FormatCodeWithSpaces(in); got != want {
			t.Errorf("FormatCodeWithSpaces(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPairingURL(t *testing.T) {
	raw := pairingURL(pairingInfo{Code: "042042", Addr: "192.168.1.5:7070", Fingerprint: "AA:BB"})

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Scheme != "pocketagent" || u.Host != "pair" {
		t.Errorf("unexpected URL %s", raw)
	}
	q := u.Query()
	if q.Get("code") != "042042" || q.Get("host") != "192.168.1.5:7070" || q.Get("fp") != "AA:BB" {
		t.Errorf("unexpected query %v", q)
	}

	if strings.Contains(pairingURL(pairingInfo{Code: "1", Addr: "h:1"}), "fp=") {
		t.Error("fp should be omitted without TLS")
	}
}

func TestDisplayQRCodeIncludesFallback(t *testing.T) {
	var buf bytes.Buffer
	DisplayQRCode(&buf, pairingInfo{
		Code:        "123456",
		Expiry:      time.Now().Add(5 * time.Minute),
		Addr:        "192.168.1.5:7070",
		Fingerprint: "AA:BB",
	})

	out := buf.String()
	for _, want := range []string{"1 2 3 4 5 6", "192.168.1.5:7070", "Fingerprint: AA:BB"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestDisplayAddr(t *testing.T) {
	if got := displayAddr("192.168.1.9:8080"); got != "192.168.1.9:8080" {
		t.Errorf("explicit host should be kept, got %s", got)
	}
	if got := displayAddr("0.0.0.0:7070"); !strings.HasSuffix(got, ":7070") || strings.HasPrefix(got, "0.0.0.0") {
		t.Errorf("wildcard host should be replaced, got %s", got)
	}
}

func TestLoopbackAddr(t *testing.T) {
	tests := map[string]string{
		"0.0.0.0:7070":  "127.0.0.1:7070",
		"10.0.0.1:9000": "127.0.0.1:9000",
		"garbage":       "127.0.0.1:7070",
	}
	for in, want := range tests {
		if got := loopbackAddr(in); got != want {
			t.Errorf("loopbackAddr(%q) = %q, want %q", in, got, want)
		}
	}
}

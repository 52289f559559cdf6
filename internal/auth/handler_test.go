package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	hostErrors "github.com/pocketagent/host/internal/errors"
)

func loopbackRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:54321"
	return req
}

// TestCodeHandlerGenerate tests that POST issues a fresh code.
func TestCodeHandlerGenerate(t *testing.T) {
	registry := NewPairingRegistry(PairingConfig{})
	defer registry.Close()
	handler := LoopbackOnly(NewGenerateHandler(registry))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, loopbackRequest(http.MethodPost, "/pair/generate"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp CodeResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Code) != CodeLength {
		t.Errorf("expected %d digit code, got %q", CodeLength, resp.Code)
	}
	if resp.Expiry.IsZero() {
		t.Error("expected expiry to be set")
	}
	if expiry, _ := registry.Expiry(); !resp.Expiry.Equal(expiry) {
		t.Errorf("expected expiry %s, got %s", expiry, resp.Expiry)
	}
	if !registry.Consume(resp.Code) {
		t.Error("returned code should be the active one")
	}
}

// TestCodeHandlerCurrent tests that GET returns the active code unchanged.
func TestCodeHandlerCurrent(t *testing.T) {
	registry := NewPairingRegistry(PairingConfig{})
	defer registry.Close()
	handler := LoopbackOnly(NewCurrentCodeHandler(registry))

	code, expiry, _ := registry.GenerateCode()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, loopbackRequest(http.MethodGet, "/pair/code"))

	var resp CodeResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Code != code {
		t.Errorf("expected %q, got %q", code, resp.Code)
	}
	if !resp.Expiry.Equal(expiry) {
		t.Errorf("expected expiry %s, got %s", expiry, resp.Expiry)
	}
}

// TestCodeHandlerMethodNotAllowed tests that each path answers only to its
// own verb.
func TestCodeHandlerMethodNotAllowed(t *testing.T) {
	registry := NewPairingRegistry(PairingConfig{})
	defer registry.Close()

	tests := []struct {
		name    string
		handler http.Handler
		method  string
		path    string
		allow   string
	}{
		{"GET generate", NewGenerateHandler(registry), http.MethodGet, "/pair/generate", http.MethodPost},
		{"POST code", NewCurrentCodeHandler(registry), http.MethodPost, "/pair/code", http.MethodGet},
		{"DELETE code", NewCurrentCodeHandler(registry), http.MethodDelete, "/pair/code", http.MethodGet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.handler.ServeHTTP(w, loopbackRequest(tt.method, tt.path))

			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("expected status 405, got %d", w.Code)
			}
			if got := w.Header().Get("Allow"); got != tt.allow {
				t.Errorf("expected Allow %q, got %q", tt.allow, got)
			}
		})
	}

	if hasActiveCode(registry) {
		t.Error("refused requests must not generate a code")
	}
}

// TestLoopbackOnlyRejectsRemote tests that LAN clients cannot mint codes.
func TestLoopbackOnlyRejectsRemote(t *testing.T) {
	registry := NewPairingRegistry(PairingConfig{})
	defer registry.Close()
	handler := LoopbackOnly(NewGenerateHandler(registry))

	req := httptest.NewRequest(http.MethodPost, "/pair/generate", nil)
	req.RemoteAddr = "192.168.1.20:40000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", w.Code)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ErrorCode != hostErrors.CodeAuthGenerateForbidden {
		t.Errorf("expected %s, got %s", hostErrors.CodeAuthGenerateForbidden, resp.ErrorCode)
	}
	if resp.NextAction == "" {
		t.Error("expected a next action")
	}
	if hasActiveCode(registry) {
		t.Error("rejected request must not generate a code")
	}
}

func TestIsLoopbackRequest(t *testing.T) {
	tests := []struct {
		remote string
		want   bool
	}{
		{"127.0.0.1:1234", true},
		{"[::1]:1234", true},
		{"10.0.0.5:1234", false},
		{"[fe80::1]:1234", false},
		{"", true},
		{"/tmp/pocketagent.sock", true},
		{"not-an-address", false},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		if got := IsLoopbackRequest(req); got != tt.want {
			t.Errorf("IsLoopbackRequest(%q) = %v, want %v", tt.remote, got, tt.want)
		}
	}
}

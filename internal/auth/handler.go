package auth

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	hostErrors "github.com/pocketagent/host/internal/errors"
)

// ErrorResponse is the JSON body for HTTP error conditions.
type ErrorResponse struct {
	// ErrorCode is the stable dotted taxonomy code (e.g., "auth.generate_forbidden").
	ErrorCode string `json:"error_code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// NextAction is the single primary recovery action for the operator.
	NextAction string `json:"next_action,omitempty"`
}

// CodeResponse is the JSON response for the pairing code endpoints.
type CodeResponse struct {
	Code   string    `json:"code"`
	Expiry time.Time `json:"expiry"`
}

// CodeHandler serves pairing codes to the local CLI. Each endpoint gets its
// own handler so a path only answers to its own verb:
//
//	POST /pair/generate  NewGenerateHandler, issues a new code
//	GET  /pair/code      NewCurrentCodeHandler, current code or a fresh one
//
// Remote access to code generation would let an attacker race the user to
// pair, so the handler is always wrapped in LoopbackOnly by the server.
type CodeHandler struct {
	method  string
	produce func() (string, time.Time, error)
}

// NewGenerateHandler serves POST requests that replace the active code.
func NewGenerateHandler(registry *PairingRegistry) *CodeHandler {
	return &CodeHandler{method: http.MethodPost, produce: registry.GenerateCode}
}

// NewCurrentCodeHandler serves GET requests for the active code.
func NewCurrentCodeHandler(registry *PairingRegistry) *CodeHandler {
	return &CodeHandler{method: http.MethodGet, produce: registry.CurrentCode}
}

func (h *CodeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != h.method {
		w.Header().Set("Allow", h.method)
		WriteError(w, http.StatusMethodNotAllowed, hostErrors.CodeServerInvalidMessage, "Only "+h.method+" is allowed")
		return
	}

	code, expiry, err := h.produce()
	if err != nil {
		log.Printf("auth: failed to produce pairing code: %v", err)
		WriteError(w, http.StatusInternalServerError, hostErrors.CodeInternal, "Failed to generate pairing code")
		return
	}

	writeJSON(w, http.StatusOK, CodeResponse{
		Code:   code,
		Expiry: expiry,
	})
}

// LoopbackOnly rejects requests that don't originate from the host itself.
func LoopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsLoopbackRequest(r) {
			log.Printf("auth: rejected %s from non-loopback address: %s", r.URL.Path, r.RemoteAddr)
			WriteError(w, http.StatusForbidden, hostErrors.CodeAuthGenerateForbidden, "This endpoint is only available from localhost")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IsLoopbackRequest checks if the request originates from the local machine.
// Returns true for loopback or unix socket addresses.
func IsLoopbackRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if isUnixSocketRemoteAddr(r.RemoteAddr) {
			return true
		}
		log.Printf("auth: failed to parse RemoteAddr %q: %v", r.RemoteAddr, err)
		return false
	}

	ip := net.ParseIP(host)
	if ip == nil {
		log.Printf("auth: failed to parse IP from host %q", host)
		return false
	}

	return ip.IsLoopback()
}

func isUnixSocketRemoteAddr(remoteAddr string) bool {
	return remoteAddr == "" || strings.HasPrefix(remoteAddr, "/") || strings.HasPrefix(remoteAddr, "@")
}

// WriteError sends a JSON error response with taxonomy code and next action.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		ErrorCode:  code,
		Message:    message,
		NextAction: hostErrors.GetNextAction(code),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("auth: failed to write response: %v", err)
	}
}

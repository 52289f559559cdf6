package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/pocketagent/host/internal/auth"
	hostErrors "github.com/pocketagent/host/internal/errors"
	"github.com/pocketagent/host/internal/status"
)

// maxAPIBodySize bounds the loopback API request bodies.
const maxAPIBodySize = 64 * 1024

// createMux creates the HTTP mux with all endpoints.
func (s *Server) createMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Device connections.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// Health check endpoint for monitoring.
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	s.registerLocalAPI(mux)
	return mux
}

// registerLocalAPI mounts the endpoints used by the CLI and the agent
// integration. Each one rejects non-loopback callers.
func (s *Server) registerLocalAPI(mux *http.ServeMux) {
	mux.Handle("/pair/generate", auth.LoopbackOnly(auth.NewGenerateHandler(s.cfg.Pairing)))
	mux.Handle("/pair/code", auth.LoopbackOnly(auth.NewCurrentCodeHandler(s.cfg.Pairing)))
	mux.Handle("/api/notify", auth.LoopbackOnly(http.HandlerFunc(s.handleNotify)))
	mux.Handle("/api/status", auth.LoopbackOnly(http.HandlerFunc(s.handlePublishStatus)))
	mux.Handle("/status", auth.LoopbackOnly(NewStatusHandler(s)))
}

// Handler returns the server's HTTP handler, for embedding in tests or
// another listener.
func (s *Server) Handler() http.Handler {
	return s.createMux()
}

// LocalHandler serves only the local API, for the control socket.
func (s *Server) LocalHandler() http.Handler {
	mux := http.NewServeMux()
	s.registerLocalAPI(mux)
	return mux
}

// handleWebSocket upgrades a device connection. A recognised token goes
// straight to Authenticated; anything else may only pair.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := extractToken(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: %v", hostErrors.Wrap(hostErrors.CodeServerUpgradeFailed, "websocket upgrade failed", err))
		return
	}

	client := newClient(s, conn)
	if !s.addClient(client) {
		conn.Close()
		return
	}

	if cred, ok := s.cfg.Credentials.Lookup(token); ok {
		client.authenticate(cred)
		log.Printf("server: device %s connected (token %s)", cred.DeviceID, auth.TokenFingerprint(token))
	} else {
		if token != "" {
			log.Printf("server: unknown token %s, pairing required", auth.TokenFingerprint(token))
		}
		client.startPairingTimer(s.cfg.PairingTimeout)
		log.Printf("server: unpaired client connected from %s", r.RemoteAddr)
	}

	go client.writePump()
	go client.readPump()
}

// extractToken reads the device token from the "token" query parameter,
// falling back to an Authorization bearer header.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	const bearerPrefix = "bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(header[len(bearerPrefix):])
	}
	return ""
}

// NotifyRequest is the body of POST /api/notify.
type NotifyRequest struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// handleNotify accepts a push notification and delivers it in the
// background.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		auth.WriteError(w, http.StatusMethodNotAllowed, hostErrors.CodeServerInvalidMessage, "Only POST is allowed")
		return
	}

	var req NotifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAPIBodySize)).Decode(&req); err != nil {
		auth.WriteError(w, http.StatusBadRequest, hostErrors.CodeServerInvalidMessage, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Body) == "" {
		auth.WriteError(w, http.StatusBadRequest, hostErrors.CodeServerInvalidMessage, "title or body is required")
		return
	}

	go s.Notify(s.ctx, req.Title, req.Body, req.Data)
	w.WriteHeader(http.StatusAccepted)
}

// PublishStatusRequest is the body of POST /api/status.
type PublishStatusRequest struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Tool      string `json:"tool,omitempty"`
}

// handlePublishStatus lets the agent integration raise status events.
func (s *Server) handlePublishStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		auth.WriteError(w, http.StatusMethodNotAllowed, hostErrors.CodeServerInvalidMessage, "Only POST is allowed")
		return
	}

	var req PublishStatusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAPIBodySize)).Decode(&req); err != nil {
		auth.WriteError(w, http.StatusBadRequest, hostErrors.CodeServerInvalidMessage, "Invalid JSON body")
		return
	}
	if req.Status == "" {
		auth.WriteError(w, http.StatusBadRequest, hostErrors.CodeServerInvalidMessage, "status is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = DefaultSessionID
	}

	s.PublishStatus(status.Event{
		SessionID: req.SessionID,
		Status:    req.Status,
		Detail:    req.Detail,
		Tool:      req.Tool,
	})
	w.WriteHeader(http.StatusAccepted)
}

package server

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/pocketagent/host/internal/auth"
	"github.com/pocketagent/host/internal/status"
)

const (
	// DefaultSessionID is the logical session a fresh connection views.
	DefaultSessionID = "default"

	// PairingTimeout is how long an unpaired socket may stay open without
	// sending a pair command.
	PairingTimeout = 30 * time.Second

	// channelBufferSize is the per-client send buffer. Frames for a client
	// whose buffer is full are dropped.
	channelBufferSize = 256

	// Inbound frame limit per connection.
	defaultFrameRate  = 100
	defaultFrameBurst = 20
)

// Settings keys for the core-owned appearance preferences.
const (
	SkinSettingKey = "ui.skin"
	ModeSettingKey = "ui.mode"
)

// Notifier delivers push notifications. push.Notifier implements it.
type Notifier interface {
	Notify(ctx context.Context, title, body string, data map[string]any)
}

// Config wires the server to its collaborators.
type Config struct {
	// Addr is the address to listen on (e.g., "0.0.0.0:7070").
	Addr string

	// Pairing issues and redeems pairing codes. Required.
	Pairing *auth.PairingRegistry

	// Credentials holds paired devices. Required.
	Credentials *auth.CredentialStore

	// Status fans agent status out to connections. Required.
	Status *status.Broadcaster

	// Notifier sends push notifications. Optional.
	Notifier Notifier

	// Settings persists skin and mode. Optional; without it the values
	// only live until restart.
	Settings auth.SettingsStore

	// Handlers are the external command collaborators.
	Handlers Handlers

	// HostName and Version are reported by app:info and /status.
	HostName string
	Version  string

	// TLSEnabled and MdnsEnabled are reported by /status.
	TLSEnabled  bool
	MdnsEnabled bool

	// PairingTimeout overrides the default unpaired-socket timeout.
	PairingTimeout time.Duration

	// FrameRate and FrameBurst bound inbound frames per connection.
	FrameRate  rate.Limit
	FrameBurst int
}

// Server owns the listener, the connection table and the per-connection
// state. There is no package-level state: everything hangs off Server.
type Server struct {
	cfg Config

	upgrader websocket.Upgrader

	// mu protects clients, byToken, memSettings and stopped.
	mu sync.RWMutex

	// clients tracks every open socket, paired or not.
	clients map[*Client]struct{}

	// byToken is the connection table for authenticated sockets. A device
	// reconnecting with the same token replaces its stale entry.
	byToken map[string]*Client

	// memSettings backs skin and mode when no Settings store is configured.
	memSettings map[string]string

	stopped bool

	// ctx is handed to handlers and cancelled by Stop.
	ctx    context.Context
	cancel context.CancelFunc

	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates a server. Call StartAsync to begin accepting connections.
func NewServer(cfg Config) *Server {
	if cfg.PairingTimeout == 0 {
		cfg.PairingTimeout = PairingTimeout
	}
	if cfg.FrameRate == 0 {
		cfg.FrameRate = defaultFrameRate
	}
	if cfg.FrameBurst == 0 {
		cfg.FrameBurst = defaultFrameBurst
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			// Mobile clients are not browsers; authentication is by token.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:     make(map[*Client]struct{}),
		byToken:     make(map[string]*Client),
		memSettings: make(map[string]string),
		ctx:         ctx,
		cancel:      cancel,
		startTime:   time.Now(),
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.cfg.Addr
}

// ClientCount returns the number of open sockets.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// AuthenticatedCount returns the number of sockets in the connection table.
func (s *Server) AuthenticatedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byToken)
}

// PublishStatus raises an agent status event for its session.
func (s *Server) PublishStatus(ev status.Event) {
	s.cfg.Status.Publish(ev)
}

// Notify sends a push notification to every device with a push token.
// It is a no-op when no notifier is configured.
func (s *Server) Notify(ctx context.Context, title, body string, data map[string]any) {
	if s.cfg.Notifier == nil {
		log.Printf("server: push notification dropped, no notifier configured")
		return
	}
	s.cfg.Notifier.Notify(ctx, title, body, data)
}

// addClient registers a new socket. Returns false if the server stopped.
func (s *Server) addClient(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

// bindToken puts c in the connection table under token and returns the
// client it replaced, if any.
func (s *Server) bindToken(token string, c *Client) *Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.byToken[token]
	s.byToken[token] = c
	if previous == c {
		return nil
	}
	return previous
}

// removeClient drops c from both tables. The connection table entry is only
// removed if it still points at c, so a replaced client cannot evict its
// successor.
func (s *Server) removeClient(c *Client, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.clients, c)
	if token != "" && s.byToken[token] == c {
		delete(s.byToken, token)
	}
}

// getSetting reads a core-owned preference.
func (s *Server) getSetting(key string) string {
	if s.cfg.Settings != nil {
		value, _, err := s.cfg.Settings.GetSetting(key)
		if err != nil {
			log.Printf("server: failed to read setting %s: %v", key, err)
		}
		return value
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memSettings[key]
}

// setSetting persists a core-owned preference and tells the host about it.
func (s *Server) setSetting(key, value string) error {
	if s.cfg.Settings != nil {
		if err := s.cfg.Settings.SetSetting(key, value); err != nil {
			return err
		}
	} else {
		s.mu.Lock()
		s.memSettings[key] = value
		s.mu.Unlock()
	}

	if s.cfg.Handlers.SettingChanged != nil {
		s.cfg.Handlers.SettingChanged(key, value)
	}
	return nil
}

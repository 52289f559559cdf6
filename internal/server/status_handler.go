package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/pocketagent/host/internal/auth"
	hostErrors "github.com/pocketagent/host/internal/errors"
	"github.com/pocketagent/host/internal/storage"
)

// StatusResponse contains host status information returned by /status.
// This structure is used by `pocketagent status`.
type StatusResponse struct {
	ListeningAddress     string     `json:"listening_address"`
	HostName             string     `json:"host_name"`
	Version              string     `json:"version"`
	ConnectedClients     int        `json:"connected_clients"`
	AuthenticatedClients int        `json:"authenticated_clients"`
	PairedDevices        int        `json:"paired_devices"`
	PushDevices          int        `json:"push_devices"`
	PairingCodeActive    bool       `json:"pairing_code_active"`
	PairingCodeExpiry    *time.Time `json:"pairing_code_expiry,omitempty"`
	DevicesUpdatedAt     *time.Time `json:"devices_updated_at,omitempty"`
	UptimeSeconds        int64      `json:"uptime_seconds"`
	TLSEnabled           bool       `json:"tls_enabled"`
	MdnsEnabled          bool       `json:"mdns_enabled"`
}

// settingsLister is implemented by settings stores that record when each
// key was last written.
type settingsLister interface {
	ListSettings() ([]storage.Setting, error)
}

// StatusHandler serves GET /status. The server mounts it behind
// auth.LoopbackOnly.
type StatusHandler struct {
	server *Server
}

// NewStatusHandler creates a StatusHandler for s.
func NewStatusHandler(s *Server) *StatusHandler {
	return &StatusHandler{server: s}
}

// ServeHTTP handles HTTP GET requests to the /status endpoint.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		auth.WriteError(w, http.StatusMethodNotAllowed, hostErrors.CodeServerInvalidMessage, "Only GET is allowed")
		return
	}

	s := h.server
	resp := StatusResponse{
		ListeningAddress:     s.Addr(),
		HostName:             s.cfg.HostName,
		Version:              s.cfg.Version,
		ConnectedClients:     s.ClientCount(),
		AuthenticatedClients: s.AuthenticatedCount(),
		PairedDevices:        s.cfg.Credentials.Len(),
		PushDevices:          len(s.cfg.Credentials.PushTokens()),
		UptimeSeconds:        int64(time.Since(s.startTime).Seconds()),
		TLSEnabled:           s.cfg.TLSEnabled,
		MdnsEnabled:          s.cfg.MdnsEnabled,
	}
	if expiry, ok := s.cfg.Pairing.Expiry(); ok {
		resp.PairingCodeActive = true
		resp.PairingCodeExpiry = &expiry
	}
	resp.DevicesUpdatedAt = devicesUpdatedAt(s.cfg.Settings)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// devicesUpdatedAt returns when the paired-device list was last written, or
// nil when the store does not track write times or the list was never saved.
func devicesUpdatedAt(settings auth.SettingsStore) *time.Time {
	lister, ok := settings.(settingsLister)
	if !ok {
		return nil
	}
	rows, err := lister.ListSettings()
	if err != nil {
		log.Printf("server: status: %v", err)
		return nil
	}
	for _, row := range rows {
		if row.Key == auth.DevicesSettingKey && !row.UpdatedAt.IsZero() {
			updated := row.UpdatedAt
			return &updated
		}
	}
	return nil
}

// Package ipc serves the host's local control API over a Unix socket.
// The socket and its directory are owner-only, so on a shared machine only
// the user running the host can mint pairing codes or send notifications.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SocketName is the control socket's file name inside the data dir.
const SocketName = "host.sock"

// ErrInUse is returned by Start when another host answers on the socket.
var ErrInUse = errors.New("control socket already in use")

// SocketPath returns the control socket location for dataDir.
func SocketPath(dataDir string) string {
	return filepath.Join(dataDir, SocketName)
}

// ControlSocket serves an http.Handler on a Unix socket.
type ControlSocket struct {
	path    string
	handler http.Handler

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

func NewControlSocket(path string, handler http.Handler) *ControlSocket {
	return &ControlSocket{path: path, handler: handler}
}

func (s *ControlSocket) Path() string { return s.path }

// Start listens on the socket. A stale socket file left by a crashed host
// is removed; a live one makes Start fail with ErrInUse.
func (s *ControlSocket) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.New("control socket already started")
	}
	if s.handler == nil {
		return errors.New("control socket handler is nil")
	}
	if err := validateSocketPath(s.path); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create control socket directory: %w", err)
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return fmt.Errorf("failed to set control socket directory permissions: %w", err)
	}
	if err := removeStale(s.path); err != nil {
		return err
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to listen on control socket: %w", err)
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		ln.Close()
		os.Remove(s.path)
		return fmt.Errorf("failed to set control socket permissions: %w", err)
	}

	s.listener = ln
	s.server = &http.Server{Handler: s.handler}
	server := s.server
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ipc: control socket stopped: %v", err)
		}
	}()

	log.Printf("ipc: control socket at %s", s.path)
	return nil
}

// Stop closes the socket and removes the file. Safe to call when not
// started.
func (s *ControlSocket) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stopErr error
	if s.server != nil {
		if err := s.server.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			stopErr = fmt.Errorf("failed to stop control socket: %w", err)
		}
	}
	if s.listener != nil {
		s.listener.Close()
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) && stopErr == nil {
			stopErr = fmt.Errorf("failed to remove control socket: %w", err)
		}
	}
	s.server = nil
	s.listener = nil
	return stopErr
}

func removeStale(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat control socket: %w", err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("control socket path is not a socket: %s", path)
	}

	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err == nil {
		conn.Close()
		return fmt.Errorf("%w: %s", ErrInUse, path)
	}
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("permission denied accessing control socket: %w", err)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale control socket: %w", err)
	}
	return nil
}

// Available reports whether something is listening on path.
func Available(path string) bool {
	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// HTTPClient returns a client whose every request is sent over the socket
// at path, whatever the URL's host.
func HTTPClient(path string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", path)
			},
		},
	}
}

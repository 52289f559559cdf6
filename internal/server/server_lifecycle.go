package server

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/http"
)

// TLSConfig holds the TLS configuration for the server.
type TLSConfig struct {
	// CertPath is the path to the TLS certificate file.
	CertPath string
	// KeyPath is the path to the TLS private key file.
	KeyPath string
}

// StartAsync starts the server in a goroutine and returns any startup errors.
//
// The returned channel receives nil if startup succeeded, or an error if
// the listener could not be created (e.g., port already in use).
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		errCh <- fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
		close(errCh)
		return errCh
	}

	s.serve(ln, errCh, "")
	return errCh
}

// StartAsyncTLS is StartAsync with TLS. Only WSS connections are accepted.
func (s *Server) StartAsyncTLS(tlsCfg TLSConfig) <-chan error {
	errCh := make(chan error, 1)

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		errCh <- fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
		close(errCh)
		return errCh
	}

	cert, err := tls.LoadX509KeyPair(tlsCfg.CertPath, tlsCfg.KeyPath)
	if err != nil {
		ln.Close()
		errCh <- fmt.Errorf("failed to load TLS certificate: %w", err)
		close(errCh)
		return errCh
	}

	tlsLn := tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})

	s.serve(tlsLn, errCh, " (TLS enabled)")
	return errCh
}

func (s *Server) serve(ln net.Listener, errCh chan error, suffix string) {
	s.mu.Lock()
	s.httpServer = &http.Server{Handler: s.createMux()}
	httpServer := s.httpServer
	s.mu.Unlock()

	go func() {
		log.Printf("server: listening on %s%s", ln.Addr(), suffix)
		errCh <- nil
		close(errCh)

		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("server: serve error: %v", err)
		}
	}()
}

// Stop shuts the server down: it cancels the handler context, asks every
// client to close and stops accepting connections. In-flight async
// handlers are not waited for; their results are dropped.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true

	for client := range s.clients {
		client.closeSend()
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	s.cancel()

	if httpServer != nil {
		return httpServer.Close()
	}
	return nil
}

package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/pocketagent/host/internal/auth"
	"github.com/pocketagent/host/internal/config"
	hostErrors "github.com/pocketagent/host/internal/errors"
	"github.com/pocketagent/host/internal/ipc"
	hostTLS "github.com/pocketagent/host/internal/tls"
)

const apiTimeout = 5 * time.Second

// hostAPI talks to the loopback endpoints of a running host.
type hostAPI struct {
	baseURL     string
	client      *http.Client
	fingerprint string
}

// newHostAPI prefers the host's control socket in the data dir and falls
// back to 127.0.0.1 on the configured port. Over TCP with TLS enabled it
// trusts only the host's own certificate.
func newHostAPI(cfg *config.Config) (*hostAPI, error) {
	var fingerprint string
	var tlsConfig *tls.Config
	if cfg.TLS {
		var err error
		tlsConfig, fingerprint, err = loadHostCertificate(cfg.TLSCert)
		if err != nil {
			return nil, err
		}
	}

	if socket := ipc.SocketPath(cfg.DataDir); ipc.Available(socket) {
		return &hostAPI{
			baseURL:     "http://pocketagent",
			client:      ipc.HTTPClient(socket, apiTimeout),
			fingerprint: fingerprint,
		}, nil
	}

	api := &hostAPI{
		baseURL:     "http://" + loopbackAddr(cfg.Addr),
		client:      &http.Client{Timeout: apiTimeout},
		fingerprint: fingerprint,
	}
	if tlsConfig != nil {
		api.baseURL = "https://" + loopbackAddr(cfg.Addr)
		api.client.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}
	return api, nil
}

// loopbackAddr keeps the port of a listen address and replaces the host
// with 127.0.0.1.
func loopbackAddr(listenAddr string) string {
	port := config.DefaultPort
	if _, p, err := net.SplitHostPort(listenAddr); err == nil {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			port = n
		}
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

// do sends body as JSON and decodes a JSON reply into out when non-nil.
// Error replies are turned into coded errors carrying the host's message.
func (a *hostAPI) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("could not connect to host at %s: %w", a.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr auth.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("host returned %d: %w", resp.StatusCode, hostErrors.New(apiErr.ErrorCode, apiErr.Message))
		}
		return fmt.Errorf("host returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// loadHostCertificate builds a TLS config that trusts only the certificate
// at certPath, and returns that certificate's fingerprint.
func loadHostCertificate(certPath string) (*tls.Config, string, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read host certificate (is the host running with TLS?): %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(certPEM) {
		return nil, "", fmt.Errorf("failed to parse certificate from %s", certPath)
	}
	fingerprint, err := hostTLS.FingerprintFromPEM(certPEM)
	if err != nil {
		return nil, "", err
	}

	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, fingerprint, nil
}

// Package mdns advertises the host on the local network over DNS-SD so the
// companion app can find it without typing an address. Advertising is
// opt-in; a discovered host still requires a pairing code.
package mdns

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service the host registers.
const ServiceType = "_pocketagent._tcp"

// Domain is the mDNS domain services are registered in.
const Domain = "local."

// ProtocolVersion is advertised so apps can refuse hosts they cannot talk to.
const ProtocolVersion = "1"

// Config describes what the Advertiser announces.
type Config struct {
	Port int

	// Fingerprint is the SHA-256 fingerprint of the TLS certificate, if the
	// host serves TLS. The app pins it on first connect.
	Fingerprint string

	// Name defaults to the system hostname.
	Name string

	// HostVersion is the pocketagent release string.
	HostVersion string
}

// Advertiser owns one zeroconf registration.
type Advertiser struct {
	config Config

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser returns an Advertiser that is not yet running.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{config: cfg}
}

// InstanceName is the name the service is registered under.
func (a *Advertiser) InstanceName() string {
	if a.config.Name != "" {
		return a.config.Name
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "pocketagent"
	}
	return hostname
}

// TXTRecords returns the key=value strings published with the service.
func (a *Advertiser) TXTRecords() []string {
	records := []string{
		"version=" + ProtocolVersion,
		"name=" + a.InstanceName(),
	}
	if a.config.HostVersion != "" {
		records = append(records, "host="+a.config.HostVersion)
	}
	if a.config.Fingerprint != "" {
		records = append(records, "fp="+a.config.Fingerprint)
	}
	return records
}

// Start registers the service. Calling Start on a running advertiser is a
// no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}
	if a.config.Port <= 0 {
		return fmt.Errorf("mdns register: invalid port %d", a.config.Port)
	}

	server, err := zeroconf.Register(a.InstanceName(), ServiceType, Domain, a.config.Port, a.TXTRecords(), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	a.server = server
	return nil
}

// Stop withdraws the service. Safe to call when not running.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// DiscoveredHost is one pocketagent host seen on the network.
type DiscoveredHost struct {
	Name        string
	Host        string
	Port        int
	Fingerprint string
	Version     string
	HostVersion string
}

// hostFromEntry converts a resolved zeroconf entry.
func hostFromEntry(entry *zeroconf.ServiceEntry) DiscoveredHost {
	host := DiscoveredHost{
		Name: entry.Instance,
		Port: entry.Port,
	}
	if len(entry.AddrIPv4) > 0 {
		host.Host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		host.Host = entry.AddrIPv6[0].String()
	}

	for _, txt := range entry.Text {
		key, value, ok := strings.Cut(txt, "=")
		if !ok || value == "" {
			continue
		}
		switch key {
		case "fp":
			host.Fingerprint = value
		case "version":
			host.Version = value
		case "host":
			host.HostVersion = value
		case "name":
			host.Name = value
		}
	}
	return host
}

// Discover browses for hosts until ctx is done. Used by `pocketagent
// discover`; the app uses the platform's own resolver.
func Discover(ctx context.Context) ([]DiscoveredHost, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		hosts []DiscoveredHost
		wg    sync.WaitGroup
	)
	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			hosts = append(hosts, hostFromEntry(entry))
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	// zeroconf closes entries once ctx is done.
	<-ctx.Done()
	wg.Wait()
	return hosts, nil
}

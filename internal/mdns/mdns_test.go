package mdns

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/require"
)

func TestTXTRecords(t *testing.T) {
	a := NewAdvertiser(Config{
		Port:        7070,
		Fingerprint: "AA:BB",
		Name:        "desk",
		HostVersion: "0.3.0",
	})

	require.Equal(t, []string{"version=1", "name=desk", "host=0.3.0", "fp=AA:BB"}, a.TXTRecords())
}

func TestTXTRecordsWithoutTLS(t *testing.T) {
	a := NewAdvertiser(Config{Port: 7070, Name: "desk"})

	require.Equal(t, []string{"version=1", "name=desk"}, a.TXTRecords())
}

func TestInstanceNameDefaultsToHostname(t *testing.T) {
	a := NewAdvertiser(Config{Port: 7070})
	require.NotEmpty(t, a.InstanceName())
}

func TestStopBeforeStart(t *testing.T) {
	a := NewAdvertiser(Config{Port: 7070})

	a.Stop()
	a.Stop()
	require.False(t, a.IsRunning())
}

func TestStartRejectsInvalidPort(t *testing.T) {
	a := NewAdvertiser(Config{Name: "desk"})

	require.Error(t, a.Start())
	require.False(t, a.IsRunning())
}

func TestHostFromEntry(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "raw-instance"},
		Port:          7443,
		AddrIPv4:      []net.IP{net.ParseIP("192.168.1.20")},
		AddrIPv6:      []net.IP{net.ParseIP("fe80::1")},
		Text:          []string{"version=1", "name=desk", "fp=AA:BB", "host=0.3.0", "junk", "empty="},
	}

	host := hostFromEntry(entry)
	require.Equal(t, DiscoveredHost{
		Name:        "desk",
		Host:        "192.168.1.20",
		Port:        7443,
		Fingerprint: "AA:BB",
		Version:     "1",
		HostVersion: "0.3.0",
	}, host)
}

func TestHostFromEntryIPv6Only(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "desk"},
		AddrIPv6:      []net.IP{net.ParseIP("fe80::1")},
	}

	host := hostFromEntry(entry)
	require.Equal(t, "fe80::1", host.Host)
	require.Equal(t, "desk", host.Name)
}

// TestAdvertiseAndDiscover needs multicast on the test machine.
func TestAdvertiseAndDiscover(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	a := NewAdvertiser(Config{Port: 17070, Name: "pocketagent-test", Fingerprint: "AA:BB"})
	if err := a.Start(); err != nil {
		t.Skipf("mdns unavailable: %v", err)
	}
	defer a.Stop()
	require.True(t, a.IsRunning())
	require.NoError(t, a.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	hosts, err := Discover(ctx)
	require.NoError(t, err)

	for _, h := range hosts {
		if h.Name == "pocketagent-test" {
			require.Equal(t, 17070, h.Port)
			require.Equal(t, "AA:BB", h.Fingerprint)
			return
		}
	}
	t.Log("advertised host not seen; multicast may be filtered")
}

package tls

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fingerprintPattern = regexp.MustCompile(`^([0-9A-F]{2}:){31}[0-9A-F]{2}$`)

func testPaths(t *testing.T) CertConfig {
	dir := t.TempDir()
	return CertConfig{
		CertPath: filepath.Join(dir, "certs", "host.crt"),
		KeyPath:  filepath.Join(dir, "certs", "host.key"),
		Hosts:    []string{"localhost", "127.0.0.1", "192.168.1.10"},
	}
}

func TestEnsureCertificateGeneratesThenLoads(t *testing.T) {
	cfg := testPaths(t)

	first, err := EnsureCertificate(cfg)
	require.NoError(t, err)
	require.True(t, first.Generated)
	require.Regexp(t, fingerprintPattern, first.Fingerprint)

	second, err := EnsureCertificate(cfg)
	require.NoError(t, err)
	require.False(t, second.Generated)
	require.Equal(t, first.Fingerprint, second.Fingerprint)
}

func TestEnsureCertificateRequiresPaths(t *testing.T) {
	_, err := EnsureCertificate(CertConfig{})
	require.Error(t, err)
}

func TestEnsureCertificateRenewsNearExpiry(t *testing.T) {
	cfg := testPaths(t)
	cfg.ValidDuration = 24 * time.Hour

	first, err := EnsureCertificate(cfg)
	require.NoError(t, err)

	cfg.ValidDuration = 0
	second, err := EnsureCertificate(cfg)
	require.NoError(t, err)
	require.True(t, second.Generated)
	require.NotEqual(t, first.Fingerprint, second.Fingerprint)
}

func TestEnsureCertificateRegeneratesMissingKey(t *testing.T) {
	cfg := testPaths(t)
	_, err := EnsureCertificate(cfg)
	require.NoError(t, err)
	require.NoError(t, os.Remove(cfg.KeyPath))

	info, err := EnsureCertificate(cfg)
	require.NoError(t, err)
	require.True(t, info.Generated)
}

func TestGeneratedFilePermissions(t *testing.T) {
	cfg := testPaths(t)
	_, err := GenerateCertificate(cfg)
	require.NoError(t, err)

	keyInfo, err := os.Stat(cfg.KeyPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), keyInfo.Mode().Perm())
}

func TestGeneratedCertificateServesTLS(t *testing.T) {
	cfg := testPaths(t)
	_, err := GenerateCertificate(cfg)
	require.NoError(t, err)

	pair, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	require.NoError(t, err)
	require.NotNil(t, pair.Leaf)
	require.Contains(t, pair.Leaf.DNSNames, "localhost")
	require.Len(t, pair.Leaf.IPAddresses, 2)
}

func TestFingerprintFromPEM(t *testing.T) {
	cfg := testPaths(t)
	info, err := GenerateCertificate(cfg)
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.CertPath)
	require.NoError(t, err)
	fp, err := FingerprintFromPEM(data)
	require.NoError(t, err)
	require.Equal(t, info.Fingerprint, fp)

	_, err = FingerprintFromPEM([]byte("not pem"))
	require.Error(t, err)
}

func TestDefaultHostsIncludesLoopback(t *testing.T) {
	hosts := DefaultHosts()
	require.Contains(t, hosts, "localhost")
	require.Contains(t, hosts, "127.0.0.1")
}

package auth

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockSettingsStore is a simple in-memory settings store for testing.
type mockSettingsStore struct {
	mu       sync.Mutex
	values   map[string]string
	getErr   error
	setErr   error
	setCalls int
}

func newMockSettingsStore() *mockSettingsStore {
	return &mockSettingsStore{values: make(map[string]string)}
}

func (s *mockSettingsStore) GetSetting(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", false, s.getErr
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *mockSettingsStore) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCalls++
	if s.setErr != nil {
		return s.setErr
	}
	s.values[key] = value
	return nil
}

func TestRegisterAndLookup(t *testing.T) {
	store := NewCredentialStore(newMockSettingsStore())

	token, err := store.Register("device-1", "Pixel")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(token))
	}

	cred, ok := store.Lookup(token)
	if !ok {
		t.Fatal("registered token not found")
	}
	if cred.DeviceID != "device-1" || cred.DeviceName != "Pixel" {
		t.Errorf("unexpected credential: %+v", cred)
	}
	if cred.PairedAt.IsZero() {
		t.Error("PairedAt should be set")
	}

	if _, ok := store.Lookup("nope"); ok {
		t.Error("unknown token should not be found")
	}
	if _, ok := store.Lookup(""); ok {
		t.Error("empty token should not be found")
	}
}

func TestRegisterTokensAreUnique(t *testing.T) {
	store := NewCredentialStore(newMockSettingsStore())

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		token, err := store.Register(NewDeviceID(), "phone")
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token issued: %s", token)
		}
		seen[token] = true
	}
	if store.Len() != 20 {
		t.Errorf("expected 20 devices, got %d", store.Len())
	}
}

func TestRegisterDefaultsDeviceName(t *testing.T) {
	store := NewCredentialStore(newMockSettingsStore())

	token, _ := store.Register("device-1", "   ")
	cred, _ := store.Lookup(token)
	if cred.DeviceName != DefaultDeviceName {
		t.Errorf("expected %q, got %q", DefaultDeviceName, cred.DeviceName)
	}
}

func TestRegisterRequiresDeviceID(t *testing.T) {
	store := NewCredentialStore(newMockSettingsStore())

	if _, err := store.Register("", "phone"); err == nil {
		t.Error("expected error for empty device id")
	}
}

func TestRegisterRollsBackOnPersistFailure(t *testing.T) {
	settings := newMockSettingsStore()
	settings.setErr = errors.New("disk full")
	store := NewCredentialStore(settings)

	if _, err := store.Register("device-1", "phone"); err == nil {
		t.Fatal("expected persist error")
	}
	if store.Len() != 0 {
		t.Errorf("failed registration should not remain in memory, got %d devices", store.Len())
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	settings := newMockSettingsStore()
	first := NewCredentialStore(settings)

	token, _ := first.Register("device-1", "Pixel")
	if err := first.SetPushToken(token, "ExponentPushToken[abc]"); err != nil {
		t.Fatalf("SetPushToken failed: %v", err)
	}

	second := NewCredentialStore(settings)
	if n := second.Load(); n != 1 {
		t.Fatalf("expected 1 device loaded, got %d", n)
	}

	cred, ok := second.Lookup(token)
	if !ok {
		t.Fatal("token not found after reload")
	}
	if cred.DeviceID != "device-1" || cred.PushToken != "ExponentPushToken[abc]" {
		t.Errorf("unexpected credential after reload: %+v", cred)
	}
}

func TestPersistedFormat(t *testing.T) {
	settings := newMockSettingsStore()
	store := NewCredentialStore(settings)
	store.Register("device-1", "Pixel")

	raw := settings.values[DevicesSettingKey]
	var records []map[string]any
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		t.Fatalf("persisted value is not a JSON array: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	for _, key := range []string{"token", "deviceId", "deviceName", "pairedAt"} {
		if _, ok := records[0][key]; !ok {
			t.Errorf("persisted record missing %q", key)
		}
	}
	if _, ok := records[0]["pushToken"]; ok {
		t.Error("empty push token should be omitted")
	}
}

func TestLoadCorruptData(t *testing.T) {
	settings := newMockSettingsStore()
	settings.values[DevicesSettingKey] = "{not json"
	store := NewCredentialStore(settings)

	if n := store.Load(); n != 0 {
		t.Errorf("expected empty store on corrupt data, got %d", n)
	}
}

func TestLoadMissingAndFailingSettings(t *testing.T) {
	settings := newMockSettingsStore()
	store := NewCredentialStore(settings)
	if n := store.Load(); n != 0 {
		t.Errorf("expected empty store with no data, got %d", n)
	}

	settings.getErr = errors.New("locked")
	if n := store.Load(); n != 0 {
		t.Errorf("expected empty store on read error, got %d", n)
	}
}

func TestLoadSkipsIncompleteRecords(t *testing.T) {
	settings := newMockSettingsStore()
	settings.values[DevicesSettingKey] = `[{"token":"abc","deviceId":"d1","deviceName":"ok"},{"token":"","deviceId":"d2"}]`
	store := NewCredentialStore(settings)

	if n := store.Load(); n != 1 {
		t.Errorf("expected 1 valid record, got %d", n)
	}
}

func TestSetPushTokenUnknown(t *testing.T) {
	store := NewCredentialStore(newMockSettingsStore())

	if err := store.SetPushToken("missing", "x"); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("expected ErrUnknownToken, got %v", err)
	}
}

func TestSetPushTokenRollsBack(t *testing.T) {
	settings := newMockSettingsStore()
	store := NewCredentialStore(settings)
	token, _ := store.Register("device-1", "Pixel")

	settings.setErr = errors.New("disk full")
	if err := store.SetPushToken(token, "push-1"); err == nil {
		t.Fatal("expected persist error")
	}
	cred, _ := store.Lookup(token)
	if cred.PushToken != "" {
		t.Errorf("push token should be rolled back, got %q", cred.PushToken)
	}
}

func TestPushTokensDeduplicated(t *testing.T) {
	store := NewCredentialStore(newMockSettingsStore())

	a, _ := store.Register("device-a", "A")
	b, _ := store.Register("device-b", "B")
	store.Register("device-c", "C")

	store.SetPushToken(a, "push-z")
	store.SetPushToken(b, "push-z")

	tokens := store.PushTokens()
	if len(tokens) != 1 || tokens[0] != "push-z" {
		t.Errorf("expected [push-z], got %v", tokens)
	}
}

func TestListOrderedByPairing(t *testing.T) {
	store := NewCredentialStore(newMockSettingsStore())
	clock := newFakeClock()
	store.timeNow = clock.Now

	store.Register("second", "B")
	clock.Advance(-time.Minute)
	store.Register("first", "A")

	list := store.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 credentials, got %d", len(list))
	}
	if list[0].DeviceID != "first" || list[1].DeviceID != "second" {
		t.Errorf("unexpected order: %s, %s", list[0].DeviceID, list[1].DeviceID)
	}
}

func TestTokenFingerprint(t *testing.T) {
	if got := TokenFingerprint(""); got != "none" {
		t.Errorf("expected none, got %q", got)
	}

	token := generateSecureToken()
	fp := TokenFingerprint(token)
	if len(fp) != fingerprintBytes*2 {
		t.Errorf("expected %d chars, got %d", fingerprintBytes*2, len(fp))
	}
	if strings.Contains(token, fp) {
		t.Error("fingerprint should not be a substring of the token")
	}
	if fp != TokenFingerprint(token) {
		t.Error("fingerprint should be deterministic")
	}
}

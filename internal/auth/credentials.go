package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// DevicesSettingKey is the settings key the paired-device list lives under.
const DevicesSettingKey = "devices.paired"

// DefaultDeviceName is used when a device pairs without naming itself.
const DefaultDeviceName = "Unknown Device"

// ErrUnknownToken is returned when a token has no credential.
var ErrUnknownToken = errors.New("unknown device token")

// CredentialStore keeps paired devices in memory, keyed by token, and
// writes the whole set back to the settings store on every mutation.
type CredentialStore struct {
	mu       sync.RWMutex
	settings SettingsStore
	byToken  map[string]*Credential

	// timeNow is overridable for tests.
	timeNow func() time.Time
}

// NewCredentialStore creates an empty store backed by settings.
// Call Load to read previously paired devices.
func NewCredentialStore(settings SettingsStore) *CredentialStore {
	return &CredentialStore{
		settings: settings,
		byToken:  make(map[string]*Credential),
		timeNow:  time.Now,
	}
}

// Load replaces the in-memory set with the persisted device list.
// Missing or corrupt data leaves the store empty; startup never fails here.
// Returns the number of devices loaded.
func (s *CredentialStore) Load() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byToken = make(map[string]*Credential)

	raw, ok, err := s.settings.GetSetting(DevicesSettingKey)
	if err != nil {
		log.Printf("auth: failed to read paired devices, starting empty: %v", err)
		return 0
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return 0
	}

	var records []Credential
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		log.Printf("auth: paired device list is corrupt, starting empty: %v", err)
		return 0
	}

	for i := range records {
		rec := records[i]
		if rec.Token == "" || rec.DeviceID == "" {
			log.Printf("auth: skipping incomplete device record %q", rec.DeviceName)
			continue
		}
		s.byToken[rec.Token] = &rec
	}

	log.Printf("auth: loaded %d paired devices", len(s.byToken))
	return len(s.byToken)
}

// Register creates a credential for a newly paired device and persists it.
// The returned token has never been issued to any other device.
func (s *CredentialStore) Register(deviceID, deviceName string) (string, error) {
	if deviceID == "" {
		return "", errors.New("device id is required")
	}
	if strings.TrimSpace(deviceName) == "" {
		deviceName = DefaultDeviceName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token := generateSecureToken()
	for s.byToken[token] != nil {
		token = generateSecureToken()
	}

	s.byToken[token] = &Credential{
		Token:      token,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		PairedAt:   s.timeNow().UTC(),
	}

	if err := s.persistLocked(); err != nil {
		delete(s.byToken, token)
		return "", err
	}

	log.Printf("auth: registered device %s (%s) token=%s", deviceID, deviceName, TokenFingerprint(token))
	return token, nil
}

// SetPushToken records the push gateway address for the device holding token.
func (s *CredentialStore) SetPushToken(token, pushToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byToken[token]
	if !ok {
		return ErrUnknownToken
	}

	previous := cred.PushToken
	cred.PushToken = pushToken
	if err := s.persistLocked(); err != nil {
		cred.PushToken = previous
		return err
	}

	log.Printf("auth: push token registered for device %s", cred.DeviceID)
	return nil
}

// Lookup returns a copy of the credential for token.
func (s *CredentialStore) Lookup(token string) (Credential, bool) {
	if token == "" {
		return Credential{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.byToken[token]
	if !ok {
		return Credential{}, false
	}
	return *cred, true
}

// PushTokens returns every distinct registered push token, sorted.
func (s *CredentialStore) PushTokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{}, len(s.byToken))
	tokens := make([]string, 0, len(s.byToken))
	for _, cred := range s.byToken {
		if cred.PushToken == "" {
			continue
		}
		if _, dup := seen[cred.PushToken]; dup {
			continue
		}
		seen[cred.PushToken] = struct{}{}
		tokens = append(tokens, cred.PushToken)
	}
	sort.Strings(tokens)
	return tokens
}

// List returns copies of all credentials, oldest pairing first.
func (s *CredentialStore) List() []Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

// Len returns the number of paired devices.
func (s *CredentialStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byToken)
}

// persistLocked writes the full snapshot. Must be called with s.mu held.
func (s *CredentialStore) persistLocked() error {
	data, err := json.Marshal(s.sortedLocked())
	if err != nil {
		return fmt.Errorf("encode paired devices: %w", err)
	}
	if err := s.settings.SetSetting(DevicesSettingKey, string(data)); err != nil {
		return fmt.Errorf("persist paired devices: %w", err)
	}
	return nil
}

func (s *CredentialStore) sortedLocked() []Credential {
	list := make([]Credential, 0, len(s.byToken))
	for _, cred := range s.byToken {
		list = append(list, *cred)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].PairedAt.Equal(list[j].PairedAt) {
			return list[i].PairedAt.Before(list[j].PairedAt)
		}
		return list[i].DeviceID < list[j].DeviceID
	})
	return list
}

// Package auth provides pairing and device authentication for the host.
//
// The pairing flow works as follows:
//  1. The host shows a 6-digit code (`pocketagent pair`, or on startup with --pair).
//  2. The mobile app opens the WebSocket without a token and sends a `pair`
//     frame carrying the code and a device name.
//  3. The host consumes the code, mints a device token and persists the
//     credential through the settings store.
//  4. The app stores the token and presents it on every later connection.
//
// Security considerations:
//   - Only one code is active at a time; generating a new one replaces it.
//   - Codes expire after 5 minutes and can only be used once.
//   - Pairing attempts are rate limited across all connections.
//   - Each socket gets exactly one pairing attempt.
//   - Tokens carry 256 bits of entropy and are only logged as fingerprints.
package auth

import (
	"time"

	"github.com/google/uuid"
)

// SettingsStore is the key/value collaborator credentials are persisted to.
// storage.SQLiteStore implements it.
type SettingsStore interface {
	// GetSetting returns the value for key; ok is false if it was never set.
	GetSetting(key string) (value string, ok bool, err error)

	// SetSetting writes value under key, replacing any previous value.
	SetSetting(key, value string) error
}

// Credential is a paired device.
type Credential struct {
	// Token is the opaque bearer credential; it is also the map key.
	Token string `json:"token"`

	// DeviceID is a UUID assigned at pairing. It never changes.
	DeviceID string `json:"deviceId"`

	// DeviceName is the label the device supplied when pairing.
	DeviceName string `json:"deviceName"`

	// PushToken is the push gateway address for this device, if registered.
	PushToken string `json:"pushToken,omitempty"`

	// PairedAt is when the credential was created.
	PairedAt time.Time `json:"pairedAt"`
}

// NewDeviceID returns a fresh device identifier.
func NewDeviceID() string {
	return uuid.NewString()
}

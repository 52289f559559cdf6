package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Protocol constants for pairing.
const (
	// CodeLength is the number of digits in a pairing code.
	CodeLength = 6

	// CodeTTL is how long a pairing code stays valid if unused.
	CodeTTL = 5 * time.Minute

	// DefaultMaxAttemptsPerMinute bounds pairing attempts across all sockets.
	DefaultMaxAttemptsPerMinute = 5
)

// Common errors for the pairing flow.
var (
	// ErrCodeInvalid is returned when the code is wrong, consumed or expired.
	ErrCodeInvalid = errors.New("invalid or expired pairing code")

	// ErrRateLimited is returned when too many pairing attempts are made.
	ErrRateLimited = errors.New("too many pairing attempts, try again later")
)

// PairingConfig holds configuration for the pairing registry.
type PairingConfig struct {
	// CodeTTL is how long a pairing code remains valid.
	// Default: 5 minutes.
	CodeTTL time.Duration

	// MaxAttemptsPerMinute is the rate limit for Redeem.
	// Default: 5 attempts per minute.
	MaxAttemptsPerMinute int

	// TimeNow returns the current time. Useful for testing.
	// Default: time.Now.
	TimeNow func() time.Time
}

// PairingRegistry issues, expires and consumes pairing codes.
// At most one code is active at any time.
type PairingRegistry struct {
	mu sync.Mutex

	config PairingConfig

	// active is the current pending code, or nil.
	active *pairingCode

	// attempts limits Redeem calls across every connection.
	attempts *rate.Limiter
}

// pairingCode is an issued code waiting to be redeemed.
type pairingCode struct {
	code      string
	createdAt time.Time
	expiresAt time.Time

	// timer clears the slot when the TTL elapses.
	timer *time.Timer
}

// NewPairingRegistry creates a registry with the given config.
func NewPairingRegistry(config PairingConfig) *PairingRegistry {
	if config.CodeTTL == 0 {
		config.CodeTTL = CodeTTL
	}
	if config.MaxAttemptsPerMinute == 0 {
		config.MaxAttemptsPerMinute = DefaultMaxAttemptsPerMinute
	}
	if config.TimeNow == nil {
		config.TimeNow = time.Now
	}

	return &PairingRegistry{
		config: config,
		attempts: rate.NewLimiter(
			rate.Every(time.Minute/time.Duration(config.MaxAttemptsPerMinute)),
			config.MaxAttemptsPerMinute,
		),
	}
}

// GenerateCode issues a new code and makes it the only active one, returning
// the code with its expiry. Any previously active code stops working
// immediately.
func (r *PairingRegistry) GenerateCode() (string, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pc, err := r.generateLocked()
	if err != nil {
		return "", time.Time{}, err
	}
	return pc.code, pc.expiresAt, nil
}

// CurrentCode returns the active code and its expiry, generating a fresh one
// when there is none or the previous one has expired. Callers never see an
// expired code.
func (r *PairingRegistry) CurrentCode() (string, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pc := r.active
	if pc == nil || !r.config.TimeNow().Before(pc.expiresAt) {
		var err error
		if pc, err = r.generateLocked(); err != nil {
			return "", time.Time{}, err
		}
	}
	return pc.code, pc.expiresAt, nil
}

// Consume redeems code if it is the active, unexpired code.
// It succeeds at most once per code; a wrong guess leaves the active code
// untouched.
func (r *PairingRegistry) Consume(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		log.Printf("auth: pairing attempt with no active code")
		return false
	}

	if !r.config.TimeNow().Before(r.active.expiresAt) {
		log.Printf("auth: pairing attempt with expired code")
		r.clearLocked()
		return false
	}

	if len(code) != len(r.active.code) ||
		subtle.ConstantTimeCompare([]byte(code), []byte(r.active.code)) != 1 {
		log.Printf("auth: pairing attempt with incorrect code")
		return false
	}

	r.clearLocked()
	log.Printf("auth: pairing code consumed")
	return true
}

// Redeem is Consume behind the global attempt limiter.
func (r *PairingRegistry) Redeem(code string) error {
	if !r.attempts.AllowN(r.config.TimeNow(), 1) {
		log.Printf("auth: pairing rate limit exceeded")
		return ErrRateLimited
	}
	if !r.Consume(code) {
		return ErrCodeInvalid
	}
	return nil
}

// Expiry returns when the active code expires. ok is false when no
// unexpired code is waiting.
func (r *PairingRegistry) Expiry() (expiry time.Time, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil || !r.config.TimeNow().Before(r.active.expiresAt) {
		return time.Time{}, false
	}
	return r.active.expiresAt, true
}

// Close stops the pending expiry timer, if any.
func (r *PairingRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked()
}

// generateLocked replaces the active code. Must be called with r.mu held.
func (r *PairingRegistry) generateLocked() (*pairingCode, error) {
	code, err := generateRandomCode(CodeLength)
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}

	r.clearLocked()

	now := r.config.TimeNow()
	pc := &pairingCode{
		code:      code,
		createdAt: now,
		expiresAt: now.Add(r.config.CodeTTL),
	}
	pc.timer = time.AfterFunc(r.config.CodeTTL, func() { r.expire(pc) })
	r.active = pc

	log.Printf("auth: generated pairing code (expires at %s)", pc.expiresAt.Format(time.RFC3339))
	return pc, nil
}

// expire runs from the code's timer. A code that was already replaced or
// consumed is left alone.
func (r *PairingRegistry) expire(pc *pairingCode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != pc {
		return
	}
	r.active = nil
	log.Printf("auth: pairing code expired")
}

// clearLocked drops the active code and its timer. Must be called with r.mu held.
func (r *PairingRegistry) clearLocked() {
	if r.active == nil {
		return
	}
	if r.active.timer != nil {
		r.active.timer.Stop()
	}
	r.active = nil
}

// generateRandomCode generates a random numeric code of the given length.
// Each digit is drawn uniformly from crypto/rand.
func generateRandomCode(length int) (string, error) {
	const digits = "0123456789"
	code := make([]byte, length)

	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			return "", err
		}
		code[i] = digits[n.Int64()]
	}

	return string(code), nil
}

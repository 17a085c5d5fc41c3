package crypto

import (
	"fmt"
	"sync"
)

// IdentityKeyErrorName is the stable name recorded for identity-change
// faults persisted alongside a message.
const IdentityKeyErrorName = "identity_key_change"

// IdentityKeyError signals that a sender presented an identity key that
// differs from the recorded one. It is recoverable: the receiver keeps
// the message and asks the user for a trust decision.
type IdentityKeyError struct {
	Source         string
	NewFingerprint string
}

func (e *IdentityKeyError) Error() string {
	return fmt.Sprintf("identity key for %q changed (new fingerprint %s)", e.Source, FormatFingerprint(e.NewFingerprint))
}

// IdentityRegistry tracks the known identity key fingerprint per sender.
// Unknown senders are recorded on first contact; a differing key for a
// known sender raises *IdentityKeyError.
type IdentityRegistry struct {
	mu           sync.RWMutex
	fingerprints map[string]string
}

// NewIdentityRegistry creates an empty registry.
func NewIdentityRegistry() *IdentityRegistry {
	return &IdentityRegistry{
		fingerprints: make(map[string]string),
	}
}

// Check validates a presented fingerprint against the recorded one,
// recording it on first contact.
func (r *IdentityRegistry) Check(source, fingerprint string) error {
	if source == "" || fingerprint == "" {
		return fmt.Errorf("source and fingerprint are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	known, exists := r.fingerprints[source]
	if !exists {
		r.fingerprints[source] = fingerprint
		return nil
	}
	if known != fingerprint {
		return &IdentityKeyError{Source: source, NewFingerprint: fingerprint}
	}
	return nil
}

// Trust replaces the recorded fingerprint after an explicit user decision.
func (r *IdentityRegistry) Trust(source, fingerprint string) {
	if source == "" || fingerprint == "" {
		return
	}
	r.mu.Lock()
	r.fingerprints[source] = fingerprint
	r.mu.Unlock()
}

// Fingerprint returns the recorded fingerprint for a sender.
func (r *IdentityRegistry) Fingerprint(source string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fingerprint, ok := r.fingerprints[source]
	return fingerprint, ok
}

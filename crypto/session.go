package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands a master secret into a 32-byte AES key bound to an
// ordered context. Both ends must supply the same context values to
// arrive at the same key.
func DeriveKey(secret []byte, context ...string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("secret is required")
	}
	if len(context) == 0 {
		return nil, errors.New("derivation context is required")
	}
	for _, part := range context {
		if strings.Contains(part, "|") {
			return nil, fmt.Errorf("derivation context %q contains separator", part)
		}
	}

	info := []byte(strings.Join(context, "|"))
	reader := hkdf.New(sha256.New, secret, nil, info)

	key := make([]byte, aes256KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	return key, nil
}

// DeriveChannelKey derives the channel-layer key shared with the relay.
func DeriveChannelKey(secret []byte, deviceID string) ([]byte, error) {
	return DeriveKey(secret, "channel", deviceID)
}

// DeriveContentKey derives the content-layer key for one sender.
func DeriveContentKey(secret []byte, source string) ([]byte, error) {
	return DeriveKey(secret, "content", source)
}

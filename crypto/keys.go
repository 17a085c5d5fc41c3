package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

const (
	ed25519PrivatePEMType = "ED25519 PRIVATE KEY"
	ed25519PublicPEMType  = "ED25519 PUBLIC KEY"
	channelSecretPEMType  = "CHANNEL MASTER SECRET"

	channelSecretSize = 32
)

// EnsureIdentityKeyPair loads the local Ed25519 identity keypair from disk,
// generating it on first run.
func EnsureIdentityKeyPair(privatePath, publicPath string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	privateKey, err := LoadIdentityPrivateKey(privatePath)
	if err == nil {
		publicKey := privateKey.Public().(ed25519.PublicKey)

		storedPublic, pubErr := LoadIdentityPublicKey(publicPath)
		if pubErr != nil || !bytes.Equal(storedPublic, publicKey) {
			if err := saveIdentityPublicKey(publicPath, publicKey); err != nil {
				return nil, nil, err
			}
		}

		return privateKey, publicKey, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, err
	}

	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate identity keypair: %w", err)
	}

	if err := saveIdentityPrivateKey(privatePath, privateKey); err != nil {
		return nil, nil, err
	}
	if err := saveIdentityPublicKey(publicPath, publicKey); err != nil {
		return nil, nil, err
	}

	return privateKey, publicKey, nil
}

// LoadIdentityPrivateKey loads an Ed25519 private key from a PEM file.
func LoadIdentityPrivateKey(path string) (ed25519.PrivateKey, error) {
	block, err := readPEM(path, ed25519PrivatePEMType)
	if err != nil {
		return nil, err
	}
	if len(block.Bytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("decode identity private PEM: invalid key size %d", len(block.Bytes))
	}
	return ed25519.PrivateKey(block.Bytes), nil
}

// LoadIdentityPublicKey loads an Ed25519 public key from a PEM file.
func LoadIdentityPublicKey(path string) (ed25519.PublicKey, error) {
	block, err := readPEM(path, ed25519PublicPEMType)
	if err != nil {
		return nil, err
	}
	if len(block.Bytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("decode identity public PEM: invalid key size %d", len(block.Bytes))
	}
	return ed25519.PublicKey(block.Bytes), nil
}

// EnsureChannelSecret loads the channel master secret from disk,
// generating a random one on first run.
func EnsureChannelSecret(path string) ([]byte, error) {
	block, err := readPEM(path, channelSecretPEMType)
	if err == nil {
		if len(block.Bytes) != channelSecretSize {
			return nil, fmt.Errorf("decode channel secret PEM: invalid secret size %d", len(block.Bytes))
		}
		return block.Bytes, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	secret := make([]byte, channelSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate channel secret: %w", err)
	}
	if err := writePEM(path, channelSecretPEMType, secret, 0o600); err != nil {
		return nil, err
	}

	return secret, nil
}

// KeyFingerprint returns the truncated SHA-256 hex fingerprint of a public key.
func KeyFingerprint(publicKey ed25519.PublicKey) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:16])
}

// FormatFingerprint returns fingerprint text grouped in chunks of 4 uppercase chars.
func FormatFingerprint(fingerprint string) string {
	clean := strings.ToUpper(strings.ReplaceAll(fingerprint, " ", ""))
	if clean == "" {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(clean); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		end := i + 4
		if end > len(clean) {
			end = len(clean)
		}
		b.WriteString(clean[i:end])
	}
	return b.String()
}

func saveIdentityPrivateKey(path string, key ed25519.PrivateKey) error {
	if len(key) != ed25519.PrivateKeySize {
		return fmt.Errorf("save identity private key: invalid key size %d", len(key))
	}
	return writePEM(path, ed25519PrivatePEMType, key, 0o600)
}

func saveIdentityPublicKey(path string, key ed25519.PublicKey) error {
	if len(key) != ed25519.PublicKeySize {
		return fmt.Errorf("save identity public key: invalid key size %d", len(key))
	}
	return writePEM(path, ed25519PublicPEMType, key, 0o644)
}

func readPEM(path, pemType string) (*pem.Block, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", strings.ToLower(pemType), err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("decode %s PEM: no PEM block", strings.ToLower(pemType))
	}
	if block.Type != pemType {
		return nil, fmt.Errorf("decode %s PEM: unexpected type %q", strings.ToLower(pemType), block.Type)
	}

	return block, nil
}

func writePEM(path, pemType string, data []byte, mode os.FileMode) error {
	block := &pem.Block{
		Type:  pemType,
		Bytes: data,
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), mode); err != nil {
		return fmt.Errorf("write %s: %w", strings.ToLower(pemType), err)
	}
	return nil
}

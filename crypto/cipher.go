package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"

	"gowhisper/protocol"
)

var (
	channelAAD = []byte("gowhisper/channel/v1")
	contentAAD = []byte("gowhisper/content/v1")

	// ErrContentSignature indicates content signature verification failed.
	ErrContentSignature = errors.New("crypto: content signature verification failed")
)

// MessageCipher is the concrete decryption adapter: channel-layer
// decrypt for incoming deliveries and content-layer decrypt/verify for
// sealed message content.
type MessageCipher struct {
	channelKey    []byte
	contentSecret []byte
	registry      *IdentityRegistry
}

// NewMessageCipher validates keys and builds a cipher. A nil registry
// gets a fresh one (trust on first contact).
func NewMessageCipher(channelKey, contentSecret []byte, registry *IdentityRegistry) (*MessageCipher, error) {
	if len(channelKey) != aes256KeySize {
		return nil, fmt.Errorf("invalid channel key length: got %d want %d", len(channelKey), aes256KeySize)
	}
	if len(contentSecret) == 0 {
		return nil, errors.New("content secret is required")
	}
	if registry == nil {
		registry = NewIdentityRegistry()
	}

	return &MessageCipher{
		channelKey:    append([]byte(nil), channelKey...),
		contentSecret: append([]byte(nil), contentSecret...),
		registry:      registry,
	}, nil
}

// Registry returns the identity registry backing content verification.
func (c *MessageCipher) Registry() *IdentityRegistry {
	return c.registry
}

// DecryptChannelMessage opens a channel-layer body (IV || ciphertext)
// and returns the envelope plaintext.
func (c *MessageCipher) DecryptChannelMessage(body []byte) ([]byte, error) {
	iv, ciphertext, err := splitSealed(body)
	if err != nil {
		return nil, err
	}
	return Decrypt(c.channelKey, iv, ciphertext, channelAAD)
}

// SealChannelMessage is the relay-side counterpart of
// DecryptChannelMessage: it encrypts an envelope into an opaque body.
func (c *MessageCipher) SealChannelMessage(envelope *protocol.Envelope) ([]byte, error) {
	plaintext, err := protocol.EncodeJSON(envelope)
	if err != nil {
		return nil, err
	}
	ciphertext, iv, err := Encrypt(c.channelKey, plaintext, channelAAD)
	if err != nil {
		return nil, err
	}
	return append(iv, ciphertext...), nil
}

// DecryptContent performs the content-level decrypt and verify for a
// content envelope. An identity key differing from the recorded one for
// the source yields *IdentityKeyError; every other failure is a plain
// decode fault.
func (c *MessageCipher) DecryptContent(envelope *protocol.Envelope) (*protocol.Content, error) {
	if envelope == nil || envelope.Content == nil {
		return nil, protocol.ErrMissingContent
	}
	sealed := envelope.Content

	senderKeyRaw, err := base64.StdEncoding.DecodeString(sealed.SenderKey)
	if err != nil {
		return nil, fmt.Errorf("decode sender identity key: %w", err)
	}
	if len(senderKeyRaw) != ed25519.PublicKeySize {
		return nil, errors.New("crypto: invalid sender identity key size")
	}
	senderKey := ed25519.PublicKey(senderKeyRaw)

	if err := c.registry.Check(envelope.Source, KeyFingerprint(senderKey)); err != nil {
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode content ciphertext: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(sealed.IV)
	if err != nil {
		return nil, fmt.Errorf("decode content nonce: %w", err)
	}
	signature, err := base64.StdEncoding.DecodeString(sealed.Signature)
	if err != nil {
		return nil, fmt.Errorf("decode content signature: %w", err)
	}
	if !Verify(senderKey, ciphertext, signature) {
		return nil, ErrContentSignature
	}

	contentKey, err := DeriveContentKey(c.contentSecret, envelope.Source)
	if err != nil {
		return nil, err
	}
	plaintext, err := Decrypt(contentKey, iv, ciphertext, contentAAD)
	if err != nil {
		return nil, err
	}

	return protocol.DecodeContent(plaintext)
}

// SealContent is the sender-side counterpart of DecryptContent, used by
// tests and tooling to produce valid sealed content.
func (c *MessageCipher) SealContent(source string, senderPrivate ed25519.PrivateKey, content *protocol.Content) (*protocol.SealedContent, error) {
	plaintext, err := protocol.EncodeJSON(content)
	if err != nil {
		return nil, err
	}

	contentKey, err := DeriveContentKey(c.contentSecret, source)
	if err != nil {
		return nil, err
	}
	ciphertext, iv, err := Encrypt(contentKey, plaintext, contentAAD)
	if err != nil {
		return nil, err
	}
	signature, err := Sign(senderPrivate, ciphertext)
	if err != nil {
		return nil, err
	}

	senderPublic := senderPrivate.Public().(ed25519.PublicKey)
	return &protocol.SealedContent{
		SenderKey:  base64.StdEncoding.EncodeToString(senderPublic),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Signature:  base64.StdEncoding.EncodeToString(signature),
	}, nil
}

func splitSealed(body []byte) (iv, ciphertext []byte, err error) {
	// AES-GCM standard nonce size.
	const nonceSize = 12
	if len(body) <= nonceSize {
		return nil, nil, errors.New("crypto: channel body too short")
	}
	return body[:nonceSize], body[nonceSize:], nil
}

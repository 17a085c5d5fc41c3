package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// KindReceipt marks a delivery receipt for a previously sent message.
	KindReceipt = "receipt"
	// KindContent marks an envelope carrying encrypted message content.
	KindContent = "content"
)

var (
	// ErrInvalidEnvelopeKind indicates the envelope kind is missing or unknown.
	ErrInvalidEnvelopeKind = errors.New("protocol: invalid envelope kind")
	// ErrMissingContent indicates a content envelope without sealed content.
	ErrMissingContent = errors.New("protocol: content envelope has no sealed content")
)

// Envelope is the decrypted wire-level signal: either a receipt or a
// content message, plus routing metadata.
type Envelope struct {
	Kind         string         `json:"kind"`
	Source       string         `json:"source"`
	SourceDevice int            `json:"source_device"`
	Relay        string         `json:"relay,omitempty"`
	Timestamp    int64          `json:"timestamp"`
	Content      *SealedContent `json:"content,omitempty"`
}

// SealedContent is the content-level encrypted payload. It is decrypted
// and verified separately from the channel layer; the sender identity
// key travels with it so receivers can detect identity changes.
type SealedContent struct {
	SenderKey  string `json:"sender_key"` // base64 Ed25519 identity key
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Signature  string `json:"signature"`
}

// Content is the decoded application-level payload of a content envelope.
type Content struct {
	Body        string        `json:"body"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	Group       *GroupContext `json:"group,omitempty"`
}

// Attachment describes one attachment; blob retrieval happens elsewhere.
type Attachment struct {
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Digest      string `json:"digest"`
}

// GroupContext points a content message at a group conversation.
type GroupContext struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DecodeEnvelope parses and validates a decrypted envelope payload.
func DecodeEnvelope(plaintext []byte) (*Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(plaintext, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch envelope.Kind {
	case KindReceipt, KindContent:
	default:
		return nil, ErrInvalidEnvelopeKind
	}
	if envelope.Source == "" {
		return nil, errors.New("protocol: envelope source is required")
	}
	if envelope.Timestamp <= 0 {
		return nil, errors.New("protocol: envelope timestamp is required")
	}

	return &envelope, nil
}

// DecodeContent parses a decrypted content payload.
func DecodeContent(plaintext []byte) (*Content, error) {
	var content Content
	if err := json.Unmarshal(plaintext, &content); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return &content, nil
}

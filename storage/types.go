package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	// ConversationTypePrivate is a one-to-one conversation keyed by sender.
	ConversationTypePrivate = "private"
	// ConversationTypeGroup is a group conversation keyed by group id.
	ConversationTypeGroup = "group"
)

const (
	// MessageTypeIncoming marks a message received from a remote sender.
	MessageTypeIncoming = "incoming"
	// MessageTypeOutgoing marks a locally authored message.
	MessageTypeOutgoing = "outgoing"
)

const (
	// SecuritySeverityInfo indicates informational security event context.
	SecuritySeverityInfo = "info"
	// SecuritySeverityWarning indicates potentially suspicious behavior.
	SecuritySeverityWarning = "warning"
	// SecuritySeverityCritical indicates serious security failures.
	SecuritySeverityCritical = "critical"
)

// CounterUnread is the persisted unread-message counter name.
const CounterUnread = "unreadCount"

// Conversation is the SQLite representation of one conversation.
type Conversation struct {
	ConversationID string
	Type           string
	Name           string
	GroupID        string
	ActiveAt       *int64
}

// ConversationAttributes is a partial attribute set for conversation
// upserts. In merge mode, empty string fields and a nil ActiveAt keep
// the stored values; in replace mode all descriptive fields overwrite.
type ConversationAttributes struct {
	Type     string
	Name     string
	GroupID  string
	ActiveAt *int64
}

// Message is the SQLite representation of one message.
type Message struct {
	MessageID         string
	ConversationID    string
	Source            string
	SourceDevice      int
	Relay             string
	Type              string
	Body              string
	Attachments       []Attachment
	Errors            []MessageError
	TimestampSent     int64
	TimestampReceived *int64
	DecryptedAt       *int64
}

// Attachment describes one message attachment.
type Attachment struct {
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Digest      string `json:"digest"`
}

// MessageError is one recorded decode/identity failure for a message.
type MessageError struct {
	Name      string `json:"name"`
	Message   string `json:"message"`
	MessageID string `json:"message_id"`
}

// SecurityEvent stores structured security-relevant runtime events.
type SecurityEvent struct {
	ID        int64
	EventType string
	Source    *string
	Details   string
	Severity  string
	Timestamp int64
}

func validateConversationType(conversationType string) error {
	switch conversationType {
	case ConversationTypePrivate, ConversationTypeGroup:
		return nil
	default:
		return fmt.Errorf("invalid conversation type %q", conversationType)
	}
}

func validateMessageType(messageType string) error {
	switch messageType {
	case MessageTypeIncoming, MessageTypeOutgoing:
		return nil
	default:
		return fmt.Errorf("invalid message type %q", messageType)
	}
}

func validateSecuritySeverity(severity string) error {
	switch severity {
	case SecuritySeverityInfo, SecuritySeverityWarning, SecuritySeverityCritical:
		return nil
	default:
		return fmt.Errorf("invalid security event severity %q", severity)
	}
}

func marshalJSONColumn(value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal json column: %w", err)
	}
	return string(raw), nil
}

func unmarshalAttachments(raw string) ([]Attachment, error) {
	if raw == "" {
		return nil, nil
	}
	var attachments []Attachment
	if err := json.Unmarshal([]byte(raw), &attachments); err != nil {
		return nil, fmt.Errorf("unmarshal attachments column: %w", err)
	}
	return attachments, nil
}

func unmarshalMessageErrors(raw string) ([]MessageError, error) {
	if raw == "" {
		return nil, nil
	}
	var messageErrors []MessageError
	if err := json.Unmarshal([]byte(raw), &messageErrors); err != nil {
		return nil, fmt.Errorf("unmarshal errors column: %w", err)
	}
	return messageErrors, nil
}

func nullString(ptr *string) sql.NullString {
	if ptr == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *ptr, Valid: true}
}

func nullInt64(ptr *int64) sql.NullInt64 {
	if ptr == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ptr, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

type scanner interface {
	Scan(dest ...any) error
}

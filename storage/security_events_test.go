package storage

import (
	"testing"
)

func TestRecordSecurityEvent(t *testing.T) {
	store := newTestStore(t)

	source := "+15551234567"
	if err := store.RecordSecurityEvent(SecurityEvent{
		EventType: "identity_key_change",
		Source:    &source,
		Severity:  SecuritySeverityWarning,
		Details:   "identity key changed for +15551234567",
	}); err != nil {
		t.Fatalf("RecordSecurityEvent failed: %v", err)
	}

	if err := store.RecordSecurityEvent(SecurityEvent{
		EventType: "channel_decode_failure",
		Details:   "decrypt channel message: cipher: message authentication failed",
	}); err != nil {
		t.Fatalf("RecordSecurityEvent without source failed: %v", err)
	}

	events, err := store.ListSecurityEvents(10)
	if err != nil {
		t.Fatalf("ListSecurityEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	var identity, decode *SecurityEvent
	for i := range events {
		switch events[i].EventType {
		case "identity_key_change":
			identity = &events[i]
		case "channel_decode_failure":
			decode = &events[i]
		}
	}
	if identity == nil || decode == nil {
		t.Fatalf("missing expected events: %+v", events)
	}
	if identity.Source == nil || *identity.Source != source {
		t.Fatalf("expected source %q, got %v", source, identity.Source)
	}
	if decode.Source != nil {
		t.Fatalf("expected nil source, got %q", *decode.Source)
	}
	if decode.Severity != SecuritySeverityInfo {
		t.Fatalf("expected default severity info, got %q", decode.Severity)
	}
	if identity.Timestamp == 0 {
		t.Fatal("expected stamped timestamp")
	}
}

func TestRecordSecurityEventRejectsBadSeverity(t *testing.T) {
	store := newTestStore(t)

	err := store.RecordSecurityEvent(SecurityEvent{
		EventType: "test",
		Details:   "detail",
		Severity:  "fatal",
	})
	if err == nil {
		t.Fatal("expected error for invalid severity")
	}
}

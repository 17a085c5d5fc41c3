package storage

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustEnsureConversation(t *testing.T, store *Store, conversationID string) {
	t.Helper()

	if err := store.CreateOrMergeConversation(conversationID, ConversationAttributes{
		Type: ConversationTypePrivate,
	}); err != nil {
		t.Fatalf("ensure conversation %q: %v", conversationID, err)
	}
}

func mustInsertStub(t *testing.T, store *Store, conversationID, source string) string {
	t.Helper()

	received := nowUnixMilli()
	messageID, err := store.InsertMessage(Message{
		ConversationID:    conversationID,
		Source:            source,
		SourceDevice:      1,
		Type:              MessageTypeIncoming,
		TimestampSent:     nowUnixMilli(),
		TimestampReceived: &received,
	})
	if err != nil {
		t.Fatalf("insert stub for %q: %v", source, err)
	}

	return messageID
}

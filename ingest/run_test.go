package ingest

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"gowhisper/crypto"
	"gowhisper/event"
	"gowhisper/protocol"
	"gowhisper/storage"
	"gowhisper/transport"
)

// Drives the whole receive path: a relay-side channel seals and sends a
// content envelope over TCP, the dispatcher decrypts both layers and
// merges it into the store.
func TestRunEndToEnd(t *testing.T) {
	secret := []byte("shared-master-secret-0123456789ab")
	channelKey, err := crypto.DeriveChannelKey(secret, "device-1")
	if err != nil {
		t.Fatalf("derive channel key: %v", err)
	}
	cipher, err := crypto.NewMessageCipher(channelKey, secret, crypto.NewIdentityRegistry())
	if err != nil {
		t.Fatalf("build cipher: %v", err)
	}

	store, _, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	merged := make(chan *storage.Message, 1)
	events := event.NewEmitter()
	events.On(EventMessage, func(_ string, payload any) {
		if message, ok := payload.(*storage.Message); ok {
			merged <- message
		}
	})

	dispatcher, err := NewDispatcher(Options{
		Store:     store,
		Decryptor: cipher,
		Events:    events,
		Badge:     &fakeBadge{},
	})
	if err != nil {
		t.Fatalf("build dispatcher: %v", err)
	}

	listener, err := transport.Listen("127.0.0.1:0", transport.ChannelOptions{})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	client, err := transport.Dial(listener.Addr().String(), transport.ChannelOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	var relaySide *transport.Channel
	select {
	case relaySide = <-listener.Channels():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accepted channel")
	}
	defer relaySide.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = dispatcher.Run(ctx, client)
	}()

	_, senderKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate sender key: %v", err)
	}
	sealed, err := cipher.SealContent("U1", senderKey, &protocol.Content{Body: "over the wire"})
	if err != nil {
		t.Fatalf("seal content: %v", err)
	}
	body, err := cipher.SealChannelMessage(&protocol.Envelope{
		Kind:         protocol.KindContent,
		Source:       "U1",
		SourceDevice: 1,
		Timestamp:    time.Now().UnixMilli(),
		Content:      sealed,
	})
	if err != nil {
		t.Fatalf("seal channel message: %v", err)
	}
	if err := relaySide.SendDelivery(body); err != nil {
		t.Fatalf("send delivery: %v", err)
	}

	select {
	case message := <-merged:
		if message.Body != "over the wire" {
			t.Fatalf("expected merged body, got %q", message.Body)
		}
		if message.Source != "U1" {
			t.Fatalf("expected source U1, got %q", message.Source)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for merged message")
	}

	if unread, _ := store.GetCounter(storage.CounterUnread); unread != 1 {
		t.Fatalf("expected unread counter 1, got %d", unread)
	}
}

package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"gowhisper/protocol"
)

func newTestChannel(t *testing.T, options ChannelOptions) (*Channel, net.Conn) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	channel := NewChannel(clientConn, options)
	t.Cleanup(func() {
		channel.Close()
		serverConn.Close()
	})

	return channel, serverConn
}

func writeDelivery(t *testing.T, conn net.Conn, body []byte) {
	t.Helper()

	payload, err := protocol.EncodeJSON(protocol.Delivery{
		Type:      protocol.TypeDelivery,
		Body:      base64.StdEncoding.EncodeToString(body),
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		t.Fatalf("encode delivery: %v", err)
	}
	if err := protocol.WriteFrame(conn, payload); err != nil {
		t.Fatalf("write delivery frame: %v", err)
	}
}

func readAck(t *testing.T, conn net.Conn) protocol.DeliveryAck {
	t.Helper()

	payload, err := protocol.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read ack frame: %v", err)
	}
	var ack protocol.DeliveryAck
	if err := json.Unmarshal(payload, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return ack
}

func TestChannelDeliversRequests(t *testing.T) {
	channel, relayConn := newTestChannel(t, ChannelOptions{})

	body := []byte("sealed-envelope-bytes")
	go writeDelivery(t, relayConn, body)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	request, err := channel.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if !bytes.Equal(request.Body, body) {
		t.Fatalf("request body mismatch: %q", request.Body)
	}
	if request.ReceivedAt == 0 {
		t.Fatal("expected stamped receive time")
	}

	ackCh := make(chan protocol.DeliveryAck, 1)
	go func() {
		ackCh <- readAck(t, relayConn)
	}()

	if err := request.Respond(protocol.StatusOK, "OK"); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	select {
	case ack := <-ackCh:
		if ack.Type != protocol.TypeDeliveryAck || ack.Status != protocol.StatusOK {
			t.Fatalf("unexpected ack: %+v", ack)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ack")
	}
}

func TestRequestRespondExactlyOnce(t *testing.T) {
	channel, relayConn := newTestChannel(t, ChannelOptions{})

	go writeDelivery(t, relayConn, []byte("body"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	request, err := channel.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	go readAck(t, relayConn)
	if err := request.Respond(protocol.StatusChannelError, "decrypt failed"); err != nil {
		t.Fatalf("first Respond failed: %v", err)
	}

	if err := request.Respond(protocol.StatusOK, "OK"); !errors.Is(err, ErrAlreadyResponded) {
		t.Fatalf("expected ErrAlreadyResponded, got %v", err)
	}
}

func TestChannelAutoPong(t *testing.T) {
	_, relayConn := newTestChannel(t, ChannelOptions{AutoRespondPing: true})

	payload, err := protocol.EncodeJSON(protocol.PingMessage{
		Type:      protocol.TypePing,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		t.Fatalf("encode ping: %v", err)
	}
	go func() {
		_ = protocol.WriteFrame(relayConn, payload)
	}()

	response, err := protocol.ReadFrame(relayConn)
	if err != nil {
		t.Fatalf("read pong frame: %v", err)
	}
	msgType, err := protocol.DecodeMessageType(response)
	if err != nil {
		t.Fatalf("decode pong: %v", err)
	}
	if msgType != protocol.TypePong {
		t.Fatalf("expected pong, got %q", msgType)
	}
}

func TestChannelClosesOnPeerDisconnect(t *testing.T) {
	channel, relayConn := newTestChannel(t, ChannelOptions{})

	relayConn.Close()

	select {
	case <-channel.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after peer disconnect")
	}
	if err := channel.LastError(); err != nil {
		t.Fatalf("expected clean close, got %v", err)
	}
}

func TestDialRequiresAddress(t *testing.T) {
	if _, err := Dial("", ChannelOptions{}); err == nil {
		t.Fatal("expected error for empty relay address")
	}
}

func TestListenerAcceptsChannels(t *testing.T) {
	listener, err := Listen("127.0.0.1:0", ChannelOptions{})
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer listener.Close()

	client, err := Dial(listener.Addr().String(), ChannelOptions{})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	var relaySide *Channel
	select {
	case relaySide = <-listener.Channels():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accepted channel")
	}
	defer relaySide.Close()

	body := []byte("sealed-envelope")
	if err := relaySide.SendDelivery(body); err != nil {
		t.Fatalf("SendDelivery failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	request, err := client.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if !bytes.Equal(request.Body, body) {
		t.Fatalf("request body mismatch: %q", request.Body)
	}
}

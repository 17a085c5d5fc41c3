// Package ingest drives the incoming message pipeline: channel
// decryption, envelope decoding, stub persistence, acknowledgment,
// content merge, and observer notification. Failures are isolated per
// message so one poisoned envelope never stalls the channel.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gowhisper/crypto"
	"gowhisper/event"
	"gowhisper/protocol"
	"gowhisper/storage"
	"gowhisper/transport"
)

// Event names emitted by the dispatcher.
const (
	EventMessage = "message"
	EventError   = "error"
)

// Decryptor opens the two envelope layers: the shared channel layer
// and the per-source content layer.
type Decryptor interface {
	DecryptChannelMessage(sealed []byte) ([]byte, error)
	DecryptContent(envelope *protocol.Envelope) (*protocol.Content, error)
}

// Badge receives the unread count after every counted arrival.
type Badge interface {
	SetVisibleBadge(count int64)
}

type logBadge struct{}

func (logBadge) SetVisibleBadge(count int64) {
	log.Printf("ingest: unread count is now %d", count)
}

// Options configures a Dispatcher.
type Options struct {
	Store     *storage.Store
	Decryptor Decryptor
	Events    *event.Emitter
	Badge     Badge
}

// Dispatcher processes delivered envelope requests end to end.
type Dispatcher struct {
	store     *storage.Store
	decryptor Decryptor
	events    *event.Emitter
	badge     Badge
}

// NewDispatcher validates options and builds the pipeline.
func NewDispatcher(options Options) (*Dispatcher, error) {
	if options.Store == nil {
		return nil, errors.New("store is required")
	}
	if options.Decryptor == nil {
		return nil, errors.New("decryptor is required")
	}
	if options.Events == nil {
		return nil, errors.New("event emitter is required")
	}

	badge := options.Badge
	if badge == nil {
		badge = logBadge{}
	}

	return &Dispatcher{
		store:     options.Store,
		decryptor: options.Decryptor,
		events:    options.Events,
		badge:     badge,
	}, nil
}

// Run pumps requests off the channel until it closes or the context is
// canceled. Each request is processed on its own goroutine.
func (d *Dispatcher) Run(ctx context.Context, channel *transport.Channel) error {
	for {
		select {
		case request, ok := <-channel.Requests():
			if !ok {
				return channel.LastError()
			}
			go d.Handle(request)
		case <-channel.Done():
			return channel.LastError()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Handle processes one delivered request: decrypt the channel layer,
// decode the envelope, acknowledge, then merge. The acknowledgment
// status reflects only channel-layer health; content-layer failures are
// reported through storage and events instead.
func (d *Dispatcher) Handle(request transport.Request) {
	plaintext, err := d.decryptor.DecryptChannelMessage(request.Body)
	if err != nil {
		d.rejectRequest(request, fmt.Errorf("decrypt channel message: %w", err))
		return
	}

	envelope, err := protocol.DecodeEnvelope(plaintext)
	if err != nil {
		d.rejectRequest(request, fmt.Errorf("decode envelope: %w", err))
		return
	}

	if err := request.Respond(protocol.StatusOK, "OK"); err != nil {
		log.Printf("ingest: acknowledge delivery from %s: %v", envelope.Source, err)
	}

	switch envelope.Kind {
	case protocol.KindReceipt:
		d.handleReceipt(envelope)
	case protocol.KindContent:
		d.handleContent(envelope, request.ReceivedAt)
	}
}

func (d *Dispatcher) rejectRequest(request transport.Request, cause error) {
	log.Printf("ingest: rejecting delivery: %v", cause)

	if err := request.Respond(protocol.StatusChannelError, cause.Error()); err != nil {
		log.Printf("ingest: send channel error ack: %v", err)
	}

	if err := d.store.RecordSecurityEvent(storage.SecurityEvent{
		EventType: "channel_decode_failure",
		Severity:  storage.SecuritySeverityWarning,
		Details:   cause.Error(),
	}); err != nil {
		log.Printf("ingest: record security event: %v", err)
	}

	d.events.Emit(EventError, cause)
}

func (d *Dispatcher) handleReceipt(envelope *protocol.Envelope) {
	log.Printf("ingest: delivery receipt from %s for %d", envelope.Source, envelope.Timestamp)
}

func (d *Dispatcher) handleContent(envelope *protocol.Envelope, receivedAt int64) {
	if receivedAt == 0 {
		receivedAt = time.Now().UnixMilli()
	}

	if err := d.store.CreateOrMergeConversation(envelope.Source, storage.ConversationAttributes{
		Type: storage.ConversationTypePrivate,
	}); err != nil {
		d.reportContentError(fmt.Errorf("ensure conversation %s: %w", envelope.Source, err))
		return
	}

	messageID, err := d.store.InsertMessage(storage.Message{
		ConversationID:    envelope.Source,
		Source:            envelope.Source,
		SourceDevice:      envelope.SourceDevice,
		Relay:             envelope.Relay,
		Type:              storage.MessageTypeIncoming,
		TimestampSent:     envelope.Timestamp,
		TimestampReceived: &receivedAt,
	})
	if err != nil {
		d.reportContentError(fmt.Errorf("persist message stub from %s: %w", envelope.Source, err))
		return
	}

	unread, err := d.store.IncrementCounter(storage.CounterUnread)
	if err != nil {
		log.Printf("ingest: increment unread counter: %v", err)
	} else {
		d.badge.SetVisibleBadge(unread)
	}

	if err := d.mergeContent(messageID, envelope); err != nil {
		d.reportContentError(fmt.Errorf("merge message %s from %s: %w", messageID, envelope.Source, err))
	}
}

// HandleDecrypted re-enters the pipeline for a message whose content
// was recovered after the initial attempt failed, for example once the
// sender's new identity key has been trusted.
func (d *Dispatcher) HandleDecrypted(messageID string, content *protocol.Content) error {
	message, err := d.store.GetMessageByID(messageID)
	if err != nil {
		return fmt.Errorf("load message %s: %w", messageID, err)
	}
	if content == nil {
		return errors.New("decrypted content is required")
	}

	return d.applyContent(message, content)
}

func (d *Dispatcher) reportContentError(err error) {
	log.Printf("ingest: %v", err)
	d.events.Emit(EventError, err)
}

func (d *Dispatcher) recordIdentityChange(identityErr *crypto.IdentityKeyError) {
	source := identityErr.Source
	if err := d.store.RecordSecurityEvent(storage.SecurityEvent{
		EventType: crypto.IdentityKeyErrorName,
		Source:    &source,
		Severity:  storage.SecuritySeverityWarning,
		Details:   identityErr.Error(),
	}); err != nil {
		log.Printf("ingest: record identity change for %s: %v", identityErr.Source, err)
	}
}

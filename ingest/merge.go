package ingest

import (
	"errors"
	"fmt"
	"time"

	"gowhisper/crypto"
	"gowhisper/protocol"
	"gowhisper/storage"
)

// mergeContent opens the content layer of an already-persisted message
// stub and merges the plaintext into the data model. An identity key
// mismatch is absorbed: the error is recorded on the message row, a
// security event is logged, and observers are still notified so the
// conversation surfaces the undecryptable message.
func (d *Dispatcher) mergeContent(messageID string, envelope *protocol.Envelope) error {
	content, err := d.decryptor.DecryptContent(envelope)
	if err != nil {
		var identityErr *crypto.IdentityKeyError
		if errors.As(err, &identityErr) {
			return d.absorbIdentityError(messageID, identityErr)
		}
		return err
	}

	message, err := d.store.GetMessageByID(messageID)
	if err != nil {
		return fmt.Errorf("load message %s: %w", messageID, err)
	}

	return d.applyContent(message, content)
}

func (d *Dispatcher) absorbIdentityError(messageID string, identityErr *crypto.IdentityKeyError) error {
	if err := d.store.AppendMessageError(messageID, storage.MessageError{
		Name:      crypto.IdentityKeyErrorName,
		Message:   identityErr.Error(),
		MessageID: messageID,
	}); err != nil {
		return fmt.Errorf("record identity error on %s: %w", messageID, err)
	}

	d.recordIdentityChange(identityErr)

	message, err := d.store.GetMessageByID(messageID)
	if err != nil {
		return fmt.Errorf("load message %s: %w", messageID, err)
	}

	d.events.Emit(EventMessage, message)
	return nil
}

// applyContent writes the decoded plaintext into the data model. Group
// messages are repointed from the sender's private conversation to the
// group conversation, whose attributes are replaced from the message's
// group context.
func (d *Dispatcher) applyContent(message *storage.Message, content *protocol.Content) error {
	now := time.Now().UnixMilli()

	conversationID := message.Source
	attributes := storage.ConversationAttributes{
		Type:     storage.ConversationTypePrivate,
		Name:     message.Source,
		ActiveAt: &now,
	}
	if content.Group != nil && content.Group.ID != "" {
		conversationID = content.Group.ID
		attributes = storage.ConversationAttributes{
			Type:     storage.ConversationTypeGroup,
			Name:     content.Group.Name,
			GroupID:  content.Group.ID,
			ActiveAt: &now,
		}
	}

	if err := d.store.ReplaceConversationAttributes(conversationID, attributes); err != nil {
		return fmt.Errorf("update conversation %s: %w", conversationID, err)
	}

	attachments := make([]storage.Attachment, 0, len(content.Attachments))
	for _, attachment := range content.Attachments {
		attachments = append(attachments, storage.Attachment{
			ContentType: attachment.ContentType,
			Size:        attachment.Size,
			Digest:      attachment.Digest,
		})
	}

	if err := d.store.UpdateMessageContent(message.MessageID, content.Body, conversationID, attachments, now); err != nil {
		return fmt.Errorf("update message %s: %w", message.MessageID, err)
	}

	updated, err := d.store.GetMessageByID(message.MessageID)
	if err != nil {
		return fmt.Errorf("reload message %s: %w", message.MessageID, err)
	}

	d.events.Emit(EventMessage, updated)
	return nil
}

package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// InsertMessage inserts a new message row, assigning a message id when
// none is provided, and returns the id. Incoming messages are inserted
// as stubs before content decryption completes so the arrival is
// durably recorded even if decoding later fails.
func (s *Store) InsertMessage(message Message) (string, error) {
	if message.Source == "" {
		return "", errors.New("source is required")
	}
	if message.ConversationID == "" {
		return "", errors.New("conversation_id is required")
	}
	if message.Type == "" {
		message.Type = MessageTypeIncoming
	}
	if err := validateMessageType(message.Type); err != nil {
		return "", err
	}
	if message.TimestampSent == 0 {
		message.TimestampSent = nowUnixMilli()
	}
	if message.MessageID == "" {
		message.MessageID = uuid.NewString()
	}

	attachments, err := marshalJSONColumn(emptyIfNilAttachments(message.Attachments))
	if err != nil {
		return "", err
	}
	messageErrors, err := marshalJSONColumn(emptyIfNilErrors(message.Errors))
	if err != nil {
		return "", err
	}

	_, err = s.db.Exec(
		`INSERT INTO messages (
			message_id,
			conversation_id,
			source,
			source_device,
			relay,
			type,
			body,
			attachments,
			errors,
			timestamp_sent,
			timestamp_received,
			decrypted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.MessageID,
		message.ConversationID,
		message.Source,
		message.SourceDevice,
		message.Relay,
		message.Type,
		message.Body,
		attachments,
		messageErrors,
		message.TimestampSent,
		nullInt64(message.TimestampReceived),
		nullInt64(message.DecryptedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert message %q: %w", message.MessageID, err)
	}

	return message.MessageID, nil
}

// UpdateMessageContent commits decoded content onto a stored message:
// body, attachments, the resolved conversation id (which may differ
// from the stub's original sender-keyed id), and the decryption
// timestamp. The errors sequence is cleared.
func (s *Store) UpdateMessageContent(messageID, body, conversationID string, attachments []Attachment, decryptedAt int64) error {
	if messageID == "" {
		return errors.New("message_id is required")
	}
	if conversationID == "" {
		return errors.New("conversation_id is required")
	}

	attachmentsJSON, err := marshalJSONColumn(emptyIfNilAttachments(attachments))
	if err != nil {
		return err
	}

	res, err := s.db.Exec(
		`UPDATE messages
		SET body = ?, conversation_id = ?, attachments = ?, decrypted_at = ?, errors = '[]'
		WHERE message_id = ?`,
		body,
		conversationID,
		attachmentsJSON,
		decryptedAt,
		messageID,
	)
	if err != nil {
		return fmt.Errorf("update message content %q: %w", messageID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for update message %q: %w", messageID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// AppendMessageError appends one recorded failure to a message's errors
// sequence, preserving order.
func (s *Store) AppendMessageError(messageID string, messageError MessageError) error {
	if messageID == "" {
		return errors.New("message_id is required")
	}
	if messageError.Name == "" {
		return errors.New("error name is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin append error transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var raw string
	err = tx.QueryRow(`SELECT errors FROM messages WHERE message_id = ?`, messageID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("read errors for message %q: %w", messageID, err)
	}

	messageErrors, err := unmarshalMessageErrors(raw)
	if err != nil {
		return err
	}
	messageErrors = append(messageErrors, messageError)

	updated, err := marshalJSONColumn(messageErrors)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE messages SET errors = ? WHERE message_id = ?`, updated, messageID); err != nil {
		return fmt.Errorf("append error to message %q: %w", messageID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append error transaction: %w", err)
	}

	return nil
}

// GetMessageByID fetches one message by message id.
func (s *Store) GetMessageByID(messageID string) (*Message, error) {
	if messageID == "" {
		return nil, errors.New("message_id is required")
	}

	row := s.db.QueryRow(
		`SELECT
			message_id,
			conversation_id,
			source,
			source_device,
			relay,
			type,
			body,
			attachments,
			errors,
			timestamp_sent,
			timestamp_received,
			decrypted_at
		FROM messages
		WHERE message_id = ?`,
		messageID,
	)

	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %q: %w", messageID, err)
	}
	return message, nil
}

// GetConversationMessages returns messages for a conversation ordered
// by sent timestamp.
func (s *Store) GetConversationMessages(conversationID string, limit, offset int) ([]Message, error) {
	if conversationID == "" {
		return nil, errors.New("conversation_id is required")
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(
		`SELECT
			message_id,
			conversation_id,
			source,
			source_device,
			relay,
			type,
			body,
			attachments,
			errors,
			timestamp_sent,
			timestamp_received,
			decrypted_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp_sent ASC
		LIMIT ? OFFSET ?`,
		conversationID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("get messages for conversation %q: %w", conversationID, err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return messages, nil
}

func scanMessage(row scanner) (*Message, error) {
	var (
		message           Message
		attachmentsRaw    string
		errorsRaw         string
		timestampReceived sql.NullInt64
		decryptedAt       sql.NullInt64
	)

	if err := row.Scan(
		&message.MessageID,
		&message.ConversationID,
		&message.Source,
		&message.SourceDevice,
		&message.Relay,
		&message.Type,
		&message.Body,
		&attachmentsRaw,
		&errorsRaw,
		&message.TimestampSent,
		&timestampReceived,
		&decryptedAt,
	); err != nil {
		return nil, err
	}

	attachments, err := unmarshalAttachments(attachmentsRaw)
	if err != nil {
		return nil, err
	}
	messageErrors, err := unmarshalMessageErrors(errorsRaw)
	if err != nil {
		return nil, err
	}

	message.Attachments = attachments
	message.Errors = messageErrors
	message.TimestampReceived = int64Ptr(timestampReceived)
	message.DecryptedAt = int64Ptr(decryptedAt)

	return &message, nil
}

func emptyIfNilAttachments(attachments []Attachment) []Attachment {
	if attachments == nil {
		return []Attachment{}
	}
	return attachments
}

func emptyIfNilErrors(messageErrors []MessageError) []MessageError {
	if messageErrors == nil {
		return []MessageError{}
	}
	return messageErrors
}

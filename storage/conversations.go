package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// CreateOrMergeConversation upserts a conversation in merge mode: empty
// attribute fields keep whatever is already stored, so re-adding the
// same id with different attribute subsets yields the union. The merge
// is a single atomic statement, safe for concurrent arrival of
// envelopes addressed to the same conversation.
func (s *Store) CreateOrMergeConversation(conversationID string, attrs ConversationAttributes) error {
	if conversationID == "" {
		return errors.New("conversation_id is required")
	}
	if attrs.Type != "" {
		if err := validateConversationType(attrs.Type); err != nil {
			return err
		}
	}

	_, err := s.db.Exec(
		`INSERT INTO conversations (conversation_id, type, name, group_id, active_at)
		VALUES (?, COALESCE(NULLIF(?, ''), 'private'), ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			type      = COALESCE(NULLIF(?, ''), conversations.type),
			name      = COALESCE(NULLIF(?, ''), conversations.name),
			group_id  = COALESCE(NULLIF(?, ''), conversations.group_id),
			active_at = COALESCE(?, conversations.active_at)`,
		conversationID,
		attrs.Type,
		attrs.Name,
		attrs.GroupID,
		nullInt64(attrs.ActiveAt),
		attrs.Type,
		attrs.Name,
		attrs.GroupID,
		nullInt64(attrs.ActiveAt),
	)
	if err != nil {
		return fmt.Errorf("merge conversation %q: %w", conversationID, err)
	}

	return nil
}

// ReplaceConversationAttributes upserts a conversation in replace mode:
// the descriptive attributes (type, name, group_id) overwrite the
// stored values wholesale and active_at is stamped. Used when decoded
// content resolves the authoritative conversation shape.
func (s *Store) ReplaceConversationAttributes(conversationID string, attrs ConversationAttributes) error {
	if conversationID == "" {
		return errors.New("conversation_id is required")
	}
	if err := validateConversationType(attrs.Type); err != nil {
		return err
	}

	_, err := s.db.Exec(
		`INSERT INTO conversations (conversation_id, type, name, group_id, active_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			type      = excluded.type,
			name      = excluded.name,
			group_id  = excluded.group_id,
			active_at = excluded.active_at`,
		conversationID,
		attrs.Type,
		attrs.Name,
		attrs.GroupID,
		nullInt64(attrs.ActiveAt),
	)
	if err != nil {
		return fmt.Errorf("replace conversation %q: %w", conversationID, err)
	}

	return nil
}

// GetConversation fetches one conversation by id.
func (s *Store) GetConversation(conversationID string) (*Conversation, error) {
	if conversationID == "" {
		return nil, errors.New("conversation_id is required")
	}

	row := s.db.QueryRow(
		`SELECT conversation_id, type, name, group_id, active_at
		FROM conversations
		WHERE conversation_id = ?`,
		conversationID,
	)

	conversation, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation %q: %w", conversationID, err)
	}
	return conversation, nil
}

// ListConversations returns conversations ordered by recent activity.
func (s *Store) ListConversations(limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(
		`SELECT conversation_id, type, name, group_id, active_at
		FROM conversations
		ORDER BY active_at DESC, conversation_id ASC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]Conversation, 0)
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		conversations = append(conversations, *conversation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}

	return conversations, nil
}

func scanConversation(row scanner) (*Conversation, error) {
	var (
		conversation Conversation
		activeAt     sql.NullInt64
	)

	if err := row.Scan(
		&conversation.ConversationID,
		&conversation.Type,
		&conversation.Name,
		&conversation.GroupID,
		&activeAt,
	); err != nil {
		return nil, err
	}

	conversation.ActiveAt = int64Ptr(activeAt)
	return &conversation, nil
}

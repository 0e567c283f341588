// Package messages owns the message rows and the chats' message counters.
// The reconciliation engine invokes it; it never reaches back the other way.
package messages

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"openchat/api/internal/store"
)

type Service struct {
	db *sql.DB
}

func New(db *sql.DB) *Service {
	return &Service{db: db}
}

// CreateMessage appends a message to a chat and bumps the chat's message
// count in the same transaction. The count therefore always equals the number
// of messages ever created for the chat.
func (s *Service) CreateMessage(ctx context.Context, chatID string, msgType store.MessageType, authorID, systemLanguageCode, parentMessageID *string) (store.Message, error) {
	message := store.Message{
		ID:                 uuid.NewString(),
		ChatID:             chatID,
		Type:               msgType,
		AuthorID:           authorID,
		SystemLanguageCode: systemLanguageCode,
		ParentMessageID:    parentMessageID,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Message{}, fmt.Errorf("begin create message tx: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (id, chat_id, type, author_id, system_language_code, parent_message_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, message.ID, message.ChatID, string(message.Type), message.AuthorID, message.SystemLanguageCode, message.ParentMessageID).Scan(&message.CreatedAt)
	if err != nil {
		_ = tx.Rollback()
		return store.Message{}, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE chats SET count_messages = count_messages + 1 WHERE id = $1
	`, message.ChatID); err != nil {
		_ = tx.Rollback()
		return store.Message{}, fmt.Errorf("bump chat message count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return store.Message{}, fmt.Errorf("commit create message tx: %w", err)
	}
	return message, nil
}

// ListMessages returns a chat's messages, newest first. A parent message id
// narrows the listing to one reply thread.
func (s *Service) ListMessages(ctx context.Context, chatID string, limit, offset int, parentMessageID *string) ([]store.Message, error) {
	query := `
		SELECT id, chat_id, type, author_id, system_language_code, parent_message_id, created_at
		FROM messages
		WHERE chat_id::text = $1`
	args := []any{chatID}
	if parentMessageID != nil {
		args = append(args, *parentMessageID)
		query += fmt.Sprintf(" AND parent_message_id::text = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf("\n\t\tORDER BY created_at DESC\n\t\tLIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var result []store.Message
	for rows.Next() {
		var (
			message store.Message
			msgType string
		)
		if err := rows.Scan(&message.ID, &message.ChatID, &msgType, &message.AuthorID, &message.SystemLanguageCode, &message.ParentMessageID, &message.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		message.Type = store.MessageType(msgType)
		result = append(result, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return result, nil
}

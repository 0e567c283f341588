package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertChat persists a new chat. The identifier is assigned here when the
// caller leaves it empty; the message count always starts at zero.
func (s *PostgresStore) InsertChat(ctx context.Context, chat Chat) (Chat, error) {
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	if chat.Type == "" {
		chat.Type = ChatTypeOpen
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO chats (id, title, created_user_id, type)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, chat.ID, chat.Title, chat.CreatedUserID, string(chat.Type)).Scan(&chat.CreatedAt)
	if err != nil {
		return Chat{}, fmt.Errorf("insert chat: %w", err)
	}
	return chat, nil
}

// GetChat loads a single chat with its latest message populated. A miss
// surfaces as sql.ErrNoRows.
func (s *PostgresStore) GetChat(ctx context.Context, id string) (Chat, error) {
	row := s.db.QueryRowContext(ctx, chatSelect+`
		WHERE c.id::text = $1`, id)
	return scanChat(row)
}

// GetOpenChat is GetChat restricted to OPEN chats; the favorites path must
// never surface chats of other kinds.
func (s *PostgresStore) GetOpenChat(ctx context.Context, id string) (Chat, error) {
	row := s.db.QueryRowContext(ctx, chatSelect+`
		WHERE c.id::text = $1 AND c.type = $2`, id, string(ChatTypeOpen))
	return scanChat(row)
}

func (s *PostgresStore) SearchChats(ctx context.Context, search ChatSearch) ([]Chat, error) {
	query, args := buildSearchQuery(search)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search chats: %w", err)
	}
	return chats, nil
}

// FilterExistingChats reduces the given identifiers to those that still exist,
// preserving input order and dropping duplicates.
func (s *PostgresStore) FilterExistingChats(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args := buildExistingQuery(ids)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("filter existing chats: %w", err)
	}
	defer rows.Close()

	found := make(map[string]struct{}, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat id: %w", err)
		}
		found[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("filter existing chats: %w", err)
	}

	existing := make([]string, 0, len(found))
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			continue
		}
		delete(found, id)
		existing = append(existing, id)
	}
	return existing, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChat(row scanner) (Chat, error) {
	var (
		chat      Chat
		chatType  string
		msgID     sql.NullString
		msgChatID sql.NullString
		msgType   sql.NullString
		msgAuthor sql.NullString
		msgLang   sql.NullString
		msgParent sql.NullString
		msgAt     sql.NullTime
	)
	err := row.Scan(
		&chat.ID, &chat.Title, &chat.CountMessages, &chat.CreatedUserID, &chatType, &chat.CreatedAt,
		&msgID, &msgChatID, &msgType, &msgAuthor, &msgLang, &msgParent, &msgAt,
	)
	if err != nil {
		return Chat{}, err
	}
	chat.Type = ChatType(chatType)

	if msgID.Valid {
		message := Message{
			ID:        msgID.String,
			ChatID:    msgChatID.String,
			Type:      MessageType(msgType.String),
			CreatedAt: msgAt.Time,
		}
		if msgAuthor.Valid {
			message.AuthorID = &msgAuthor.String
		}
		if msgLang.Valid {
			message.SystemLanguageCode = &msgLang.String
		}
		if msgParent.Valid {
			message.ParentMessageID = &msgParent.String
		}
		chat.Message = &message
	}
	return chat, nil
}

package store

import "time"

type ChatType string

const (
	ChatTypeOpen ChatType = "IS_OPEN"
)

type MessageType string

const (
	MessageTypeSystem MessageType = "IS_SYSTEM"
	MessageTypeUser   MessageType = "IS_USER"
)

// System message language codes resolved to localized text by the delivery layer.
const (
	SystemMessageCreateChat = "create_chat"
)

type Chat struct {
	ID            string
	Title         string
	CountMessages int64
	CreatedUserID *string
	Type          ChatType
	CreatedAt     time.Time
	// Message is the denormalized latest message, nil for an empty chat.
	Message *Message
}

type Message struct {
	ID                 string
	ChatID             string
	Type               MessageType
	AuthorID           *string
	SystemLanguageCode *string
	ParentMessageID    *string
	CreatedAt          time.Time
}

// ChatSearch describes a filtered, paginated chat listing. Words are
// lowercased query tokens; an empty slice means no title filter.
type ChatSearch struct {
	Words      []string
	ExcludeIDs []string
	Offset     int
	Limit      int
}

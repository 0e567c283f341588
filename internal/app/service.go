package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"openchat/api/internal/config"
	"openchat/api/internal/queue"
	"openchat/api/internal/store"
)

// FavoriteProbe is one client-side favorite: a chat id plus the message count
// the client saw last.
type FavoriteProbe struct {
	ChatID      string `json:"chatId"`
	LastMessage int64  `json:"lastMessage"`
}

// FavoriteResult reports a favorite chat that gained messages since the
// client's probe, carrying the chat's latest message.
type FavoriteResult struct {
	ChatID  string
	Message store.Message
}

type dataStore interface {
	InsertChat(context.Context, store.Chat) (store.Chat, error)
	GetChat(context.Context, string) (store.Chat, error)
	GetOpenChat(context.Context, string) (store.Chat, error)
	SearchChats(context.Context, store.ChatSearch) ([]store.Chat, error)
	FilterExistingChats(context.Context, []string) ([]string, error)
	Ping(context.Context) error
}

type messageService interface {
	CreateMessage(ctx context.Context, chatID string, msgType store.MessageType, authorID, systemLanguageCode, parentMessageID *string) (store.Message, error)
	ListMessages(ctx context.Context, chatID string, limit, offset int, parentMessageID *string) ([]store.Message, error)
}

type eventQueue interface {
	Publish(target string, event queue.Event, data any)
	Ready() bool
}

type Service struct {
	cfg      config.Config
	store    dataStore
	messages messageService
	queue    eventQueue
}

func New(cfg config.Config, dataStore dataStore, messages messageService, events eventQueue) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		messages: messages,
		queue:    events,
	}
}

// CreateChat persists a new open chat, appends the system creation message,
// and re-reads the chat so the returned snapshot carries the bumped count and
// latest-message pointer together. The creator's session gets a CREATE_CHAT
// event with the snapshot, then a JOIN_CHAT event to auto-join the new chat.
func (s *Service) CreateChat(ctx context.Context, title, sessionID string) (store.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Chat{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}

	chat, err := s.store.InsertChat(ctx, store.Chat{Title: title, Type: store.ChatTypeOpen})
	if err != nil {
		return store.Chat{}, fmt.Errorf("create chat: %w", err)
	}

	// The chat must not escape without its creation message, otherwise the
	// count invariant breaks for every client that sees it.
	systemLanguageCode := store.SystemMessageCreateChat
	if _, err := s.messages.CreateMessage(ctx, chat.ID, store.MessageTypeSystem, nil, &systemLanguageCode, nil); err != nil {
		return store.Chat{}, fmt.Errorf("create chat system message: %w", err)
	}

	created, err := s.store.GetChat(ctx, chat.ID)
	if err != nil {
		return store.Chat{}, fmt.Errorf("reload created chat: %w", err)
	}

	s.queue.Publish(sessionID, queue.EventCreateChat, chatPayload(created))
	s.queue.Publish(sessionID, queue.EventJoinChat, []string{created.ID})

	return created, nil
}

// SearchChats lists open chats the client does not already track. A title
// query is tokenized into lowercase words; every word must match the title as
// a whole-word or prefix. An empty query lists everything, newest activity
// first.
func (s *Service) SearchChats(ctx context.Context, title string, offset int, limit *int, excludeIDs []string) ([]store.Chat, error) {
	pageSize := s.cfg.DefaultPageSize
	if limit != nil {
		pageSize = *limit
	}

	chats, err := s.store.SearchChats(ctx, store.ChatSearch{
		Words:      strings.Fields(strings.ToLower(title)),
		ExcludeIDs: excludeIDs,
		Offset:     offset,
		Limit:      pageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("search chats: %w", err)
	}
	return chats, nil
}

// GetChat loads one chat with its latest message. A missing chat is a normal
// outcome and maps to a 404 domain error, not a server failure.
func (s *Service) GetChat(ctx context.Context, id string) (store.Chat, error) {
	chat, err := s.store.GetChat(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Chat{}, domainError(http.StatusNotFound, "CHAT_NOT_FOUND", "Chat with this id was not found", nil)
	}
	if err != nil {
		return store.Chat{}, fmt.Errorf("find chat: %w", err)
	}
	return chat, nil
}

// FavoriteDiff checks each probe against the store and reports the chats that
// gained messages since the client last looked. Lookups fan out concurrently;
// a failed lookup counts as "chat gone" for that probe only. Every chat that
// still exists lands in the JOIN_CHAT payload so the delivery layer
// re-subscribes the session, whether or not there is new content.
func (s *Service) FavoriteDiff(ctx context.Context, probes []FavoriteProbe, sessionID string) ([]FavoriteResult, error) {
	found := make([]*store.Chat, len(probes))

	var wg sync.WaitGroup
	for i, probe := range probes {
		wg.Add(1)
		go func(i int, probe FavoriteProbe) {
			defer wg.Done()
			chat, err := s.store.GetOpenChat(ctx, probe.ChatID)
			if err != nil {
				return
			}
			found[i] = &chat
		}(i, probe)
	}
	wg.Wait()

	// Join in probe order so the response is deterministic regardless of
	// which lookup finished first.
	var results []FavoriteResult
	joined := make([]string, 0, len(probes))
	seen := make(map[string]struct{}, len(probes))
	for i, probe := range probes {
		chat := found[i]
		if chat == nil {
			continue
		}
		joined = append(joined, probe.ChatID)

		if chat.CountMessages <= probe.LastMessage {
			continue
		}
		if chat.Message == nil {
			continue
		}
		if _, ok := seen[probe.ChatID]; ok {
			continue
		}
		seen[probe.ChatID] = struct{}{}
		results = append(results, FavoriteResult{ChatID: probe.ChatID, Message: *chat.Message})
	}

	s.queue.Publish(sessionID, queue.EventJoinChat, joined)

	return results, nil
}

// LeaveChats drops the identifiers that no longer resolve to a chat and tells
// the delivery layer to unsubscribe the session from the survivors. Stale ids
// are silently discarded.
func (s *Service) LeaveChats(ctx context.Context, chatIDs []string, sessionID string) ([]string, error) {
	existing, err := s.store.FilterExistingChats(ctx, chatIDs)
	if err != nil {
		return nil, fmt.Errorf("leave chats: %w", err)
	}
	if existing == nil {
		existing = []string{}
	}

	s.queue.Publish(sessionID, queue.EventLeaveChat, existing)

	return existing, nil
}

// ListMessages pages through a chat's messages, newest first.
func (s *Service) ListMessages(ctx context.Context, chatID string, limit *int, offset int, parentMessageID *string) ([]store.Message, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "chatId is required", nil)
	}
	pageSize := s.cfg.DefaultPageSize
	if limit != nil {
		pageSize = *limit
	}
	result, err := s.messages.ListMessages(ctx, chatID, pageSize, offset, parentMessageID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return result, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) QueueReady() bool {
	return s.queue.Ready()
}

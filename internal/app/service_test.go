package app

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"
	"time"

	"openchat/api/internal/config"
	"openchat/api/internal/queue"
	"openchat/api/internal/store"
)

type fakeStore struct {
	insertChatFn          func(context.Context, store.Chat) (store.Chat, error)
	getChatFn             func(context.Context, string) (store.Chat, error)
	getOpenChatFn         func(context.Context, string) (store.Chat, error)
	searchChatsFn         func(context.Context, store.ChatSearch) ([]store.Chat, error)
	filterExistingChatsFn func(context.Context, []string) ([]string, error)
}

func (f *fakeStore) InsertChat(ctx context.Context, chat store.Chat) (store.Chat, error) {
	if f.insertChatFn != nil {
		return f.insertChatFn(ctx, chat)
	}
	return chat, nil
}

func (f *fakeStore) GetChat(ctx context.Context, id string) (store.Chat, error) {
	if f.getChatFn != nil {
		return f.getChatFn(ctx, id)
	}
	return store.Chat{}, sql.ErrNoRows
}

func (f *fakeStore) GetOpenChat(ctx context.Context, id string) (store.Chat, error) {
	if f.getOpenChatFn != nil {
		return f.getOpenChatFn(ctx, id)
	}
	return store.Chat{}, sql.ErrNoRows
}

func (f *fakeStore) SearchChats(ctx context.Context, search store.ChatSearch) ([]store.Chat, error) {
	if f.searchChatsFn != nil {
		return f.searchChatsFn(ctx, search)
	}
	return nil, nil
}

func (f *fakeStore) FilterExistingChats(ctx context.Context, ids []string) ([]string, error) {
	if f.filterExistingChatsFn != nil {
		return f.filterExistingChatsFn(ctx, ids)
	}
	return nil, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeMessages struct {
	createMessageFn func(context.Context, string, store.MessageType, *string, *string, *string) (store.Message, error)
	listMessagesFn  func(context.Context, string, int, int, *string) ([]store.Message, error)
}

func (f *fakeMessages) CreateMessage(ctx context.Context, chatID string, msgType store.MessageType, authorID, systemLanguageCode, parentMessageID *string) (store.Message, error) {
	if f.createMessageFn != nil {
		return f.createMessageFn(ctx, chatID, msgType, authorID, systemLanguageCode, parentMessageID)
	}
	return store.Message{ID: "msg-1", ChatID: chatID, Type: msgType}, nil
}

func (f *fakeMessages) ListMessages(ctx context.Context, chatID string, limit, offset int, parentMessageID *string) ([]store.Message, error) {
	if f.listMessagesFn != nil {
		return f.listMessagesFn(ctx, chatID, limit, offset, parentMessageID)
	}
	return nil, nil
}

type publishedEvent struct {
	Target string
	Event  queue.Event
	Data   any
}

type fakeQueue struct {
	events []publishedEvent
	ready  bool
}

func (f *fakeQueue) Publish(target string, event queue.Event, data any) {
	f.events = append(f.events, publishedEvent{Target: target, Event: event, Data: data})
}

func (f *fakeQueue) Ready() bool { return f.ready }

func newTestService(fs *fakeStore, fm *fakeMessages, fq *fakeQueue) *Service {
	cfg := config.Config{DefaultPageSize: 50}
	return New(cfg, fs, fm, fq)
}

func systemCreateMessage(chatID string) *store.Message {
	lang := store.SystemMessageCreateChat
	return &store.Message{
		ID:                 "msg-1",
		ChatID:             chatID,
		Type:               store.MessageTypeSystem,
		SystemLanguageCode: &lang,
		CreatedAt:          time.Now(),
	}
}

func TestCreateChatReturnsConsistentSnapshot(t *testing.T) {
	var createdMessageChat string
	fs := &fakeStore{
		insertChatFn: func(_ context.Context, chat store.Chat) (store.Chat, error) {
			if chat.Title != "General" {
				t.Fatalf("expected title General, got %q", chat.Title)
			}
			if chat.Type != store.ChatTypeOpen {
				t.Fatalf("expected open chat type, got %q", chat.Type)
			}
			chat.ID = "chat-1"
			return chat, nil
		},
		getChatFn: func(_ context.Context, id string) (store.Chat, error) {
			return store.Chat{
				ID:            id,
				Title:         "General",
				CountMessages: 1,
				Type:          store.ChatTypeOpen,
				Message:       systemCreateMessage(id),
			}, nil
		},
	}
	fm := &fakeMessages{
		createMessageFn: func(_ context.Context, chatID string, msgType store.MessageType, authorID, systemLanguageCode, _ *string) (store.Message, error) {
			createdMessageChat = chatID
			if msgType != store.MessageTypeSystem {
				t.Fatalf("expected system message, got %q", msgType)
			}
			if authorID != nil {
				t.Fatalf("expected no author for system message, got %v", *authorID)
			}
			if systemLanguageCode == nil || *systemLanguageCode != store.SystemMessageCreateChat {
				t.Fatalf("expected create_chat language code, got %v", systemLanguageCode)
			}
			return *systemCreateMessage(chatID), nil
		},
	}
	fq := &fakeQueue{}

	svc := newTestService(fs, fm, fq)
	chat, err := svc.CreateChat(context.Background(), "  General  ", "sock-1")
	if err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	if createdMessageChat != "chat-1" {
		t.Fatalf("expected system message for chat-1, got %q", createdMessageChat)
	}
	if chat.CountMessages != 1 {
		t.Fatalf("expected message count 1 after creation, got %d", chat.CountMessages)
	}
	if chat.Message == nil || chat.Message.Type != store.MessageTypeSystem {
		t.Fatalf("expected latest message to be the system creation message, got %+v", chat.Message)
	}

	if len(fq.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(fq.events))
	}
	if fq.events[0].Event != queue.EventCreateChat || fq.events[0].Target != "sock-1" {
		t.Fatalf("expected CREATE_CHAT to sock-1 first, got %+v", fq.events[0])
	}
	if fq.events[1].Event != queue.EventJoinChat {
		t.Fatalf("expected JOIN_CHAT second, got %+v", fq.events[1])
	}
	joinIDs, ok := fq.events[1].Data.([]string)
	if !ok || !reflect.DeepEqual(joinIDs, []string{"chat-1"}) {
		t.Fatalf("expected auto-join payload [chat-1], got %+v", fq.events[1].Data)
	}
}

func TestCreateChatRequiresTitle(t *testing.T) {
	fs := &fakeStore{
		insertChatFn: func(context.Context, store.Chat) (store.Chat, error) {
			t.Fatal("insert must not run for an empty title")
			return store.Chat{}, nil
		},
	}
	svc := newTestService(fs, &fakeMessages{}, &fakeQueue{})

	_, err := svc.CreateChat(context.Background(), "   ", "sock-1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 domain error, got %v", err)
	}
}

func TestCreateChatMessageFailureIsFatal(t *testing.T) {
	fs := &fakeStore{
		insertChatFn: func(_ context.Context, chat store.Chat) (store.Chat, error) {
			chat.ID = "chat-1"
			return chat, nil
		},
	}
	fm := &fakeMessages{
		createMessageFn: func(context.Context, string, store.MessageType, *string, *string, *string) (store.Message, error) {
			return store.Message{}, errors.New("messages down")
		},
	}
	fq := &fakeQueue{}

	svc := newTestService(fs, fm, fq)
	if _, err := svc.CreateChat(context.Background(), "General", "sock-1"); err == nil {
		t.Fatal("expected error when the creation message cannot be written")
	}
	if len(fq.events) != 0 {
		t.Fatalf("expected no events for a failed creation, got %d", len(fq.events))
	}
}

func TestSearchChatsTokenizesTitle(t *testing.T) {
	var captured store.ChatSearch
	fs := &fakeStore{
		searchChatsFn: func(_ context.Context, search store.ChatSearch) ([]store.Chat, error) {
			captured = search
			return nil, nil
		},
	}
	svc := newTestService(fs, &fakeMessages{}, &fakeQueue{})

	if _, err := svc.SearchChats(context.Background(), "  Hello   WORLD ", 5, nil, []string{"fav-1"}); err != nil {
		t.Fatalf("SearchChats failed: %v", err)
	}

	if !reflect.DeepEqual(captured.Words, []string{"hello", "world"}) {
		t.Fatalf("expected lowercase tokens [hello world], got %v", captured.Words)
	}
	if captured.Offset != 5 {
		t.Fatalf("expected offset 5, got %d", captured.Offset)
	}
	if captured.Limit != 50 {
		t.Fatalf("expected default page size 50, got %d", captured.Limit)
	}
	if !reflect.DeepEqual(captured.ExcludeIDs, []string{"fav-1"}) {
		t.Fatalf("expected exclusion [fav-1], got %v", captured.ExcludeIDs)
	}
}

func TestSearchChatsBlankQueryMeansNoTitleFilter(t *testing.T) {
	for _, title := range []string{"", "   ", "\t \n"} {
		var captured store.ChatSearch
		fs := &fakeStore{
			searchChatsFn: func(_ context.Context, search store.ChatSearch) ([]store.Chat, error) {
				captured = search
				return nil, nil
			},
		}
		svc := newTestService(fs, &fakeMessages{}, &fakeQueue{})
		if _, err := svc.SearchChats(context.Background(), title, 0, nil, nil); err != nil {
			t.Fatalf("SearchChats(%q) failed: %v", title, err)
		}
		if len(captured.Words) != 0 {
			t.Fatalf("expected no words for %q, got %v", title, captured.Words)
		}
	}
}

func TestSearchChatsHonorsExplicitLimit(t *testing.T) {
	var captured store.ChatSearch
	fs := &fakeStore{
		searchChatsFn: func(_ context.Context, search store.ChatSearch) ([]store.Chat, error) {
			captured = search
			return nil, nil
		},
	}
	svc := newTestService(fs, &fakeMessages{}, &fakeQueue{})

	limit := 7
	if _, err := svc.SearchChats(context.Background(), "", 0, &limit, nil); err != nil {
		t.Fatalf("SearchChats failed: %v", err)
	}
	if captured.Limit != 7 {
		t.Fatalf("expected limit 7, got %d", captured.Limit)
	}
}

func TestGetChatMissIsNotFound(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeMessages{}, &fakeQueue{})

	_, err := svc.GetChat(context.Background(), "gone")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected domain error, got %v", err)
	}
	if domainErr.Status != 404 || domainErr.Code != "CHAT_NOT_FOUND" {
		t.Fatalf("expected 404 CHAT_NOT_FOUND, got %d %s", domainErr.Status, domainErr.Code)
	}
}

func openChatWithCount(id string, count int64) store.Chat {
	return store.Chat{
		ID:            id,
		Title:         "Chat " + id,
		CountMessages: count,
		Type:          store.ChatTypeOpen,
		Message:       systemCreateMessage(id),
	}
}

func TestFavoriteDiffEqualCountStillJoins(t *testing.T) {
	fs := &fakeStore{
		getOpenChatFn: func(_ context.Context, id string) (store.Chat, error) {
			return openChatWithCount(id, 5), nil
		},
	}
	fq := &fakeQueue{}
	svc := newTestService(fs, &fakeMessages{}, fq)

	results, err := svc.FavoriteDiff(context.Background(), []FavoriteProbe{{ChatID: "a", LastMessage: 5}}, "sock-1")
	if err != nil {
		t.Fatalf("FavoriteDiff failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results when count equals last known, got %+v", results)
	}

	if len(fq.events) != 1 || fq.events[0].Event != queue.EventJoinChat {
		t.Fatalf("expected a single JOIN_CHAT event, got %+v", fq.events)
	}
	joined, ok := fq.events[0].Data.([]string)
	if !ok || !reflect.DeepEqual(joined, []string{"a"}) {
		t.Fatalf("expected join payload [a], got %+v", fq.events[0].Data)
	}
}

func TestFavoriteDiffDeduplicatesByChatID(t *testing.T) {
	fs := &fakeStore{
		getOpenChatFn: func(_ context.Context, id string) (store.Chat, error) {
			return openChatWithCount(id, 9), nil
		},
	}
	fq := &fakeQueue{}
	svc := newTestService(fs, &fakeMessages{}, fq)

	probes := []FavoriteProbe{
		{ChatID: "a", LastMessage: 3},
		{ChatID: "a", LastMessage: 1},
		{ChatID: "b", LastMessage: 8},
	}
	results, err := svc.FavoriteDiff(context.Background(), probes, "sock-1")
	if err != nil {
		t.Fatalf("FavoriteDiff failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected one result per distinct chat, got %+v", results)
	}
	if results[0].ChatID != "a" || results[1].ChatID != "b" {
		t.Fatalf("expected results in probe order [a b], got %+v", results)
	}

	joined := fq.events[0].Data.([]string)
	if !reflect.DeepEqual(joined, []string{"a", "a", "b"}) {
		t.Fatalf("expected every found probe in the join payload, got %v", joined)
	}
}

func TestFavoriteDiffSwallowsProbeFailures(t *testing.T) {
	fs := &fakeStore{
		getOpenChatFn: func(_ context.Context, id string) (store.Chat, error) {
			if id == "broken" {
				return store.Chat{}, errors.New("transient lookup failure")
			}
			return openChatWithCount(id, 2), nil
		},
	}
	fq := &fakeQueue{}
	svc := newTestService(fs, &fakeMessages{}, fq)

	probes := []FavoriteProbe{
		{ChatID: "broken", LastMessage: 0},
		{ChatID: "a", LastMessage: 1},
	}
	results, err := svc.FavoriteDiff(context.Background(), probes, "sock-1")
	if err != nil {
		t.Fatalf("FavoriteDiff failed: %v", err)
	}
	if len(results) != 1 || results[0].ChatID != "a" {
		t.Fatalf("expected the healthy probe to survive, got %+v", results)
	}

	joined := fq.events[0].Data.([]string)
	if !reflect.DeepEqual(joined, []string{"a"}) {
		t.Fatalf("expected failed probe excluded from join payload, got %v", joined)
	}
}

func TestFavoriteDiffSkipsChatWithoutLatestMessage(t *testing.T) {
	fs := &fakeStore{
		getOpenChatFn: func(_ context.Context, id string) (store.Chat, error) {
			return store.Chat{ID: id, CountMessages: 4, Type: store.ChatTypeOpen}, nil
		},
	}
	fq := &fakeQueue{}
	svc := newTestService(fs, &fakeMessages{}, fq)

	results, err := svc.FavoriteDiff(context.Background(), []FavoriteProbe{{ChatID: "a", LastMessage: 1}}, "sock-1")
	if err != nil {
		t.Fatalf("FavoriteDiff failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no result without a latest message, got %+v", results)
	}
	joined := fq.events[0].Data.([]string)
	if !reflect.DeepEqual(joined, []string{"a"}) {
		t.Fatalf("expected the chat to still join, got %v", joined)
	}
}

func TestLeaveChatsDropsStaleIDs(t *testing.T) {
	fs := &fakeStore{
		filterExistingChatsFn: func(_ context.Context, ids []string) ([]string, error) {
			if !reflect.DeepEqual(ids, []string{"valid", "stale"}) {
				t.Fatalf("unexpected filter input %v", ids)
			}
			return []string{"valid"}, nil
		},
	}
	fq := &fakeQueue{}
	svc := newTestService(fs, &fakeMessages{}, fq)

	existing, err := svc.LeaveChats(context.Background(), []string{"valid", "stale"}, "sock-1")
	if err != nil {
		t.Fatalf("LeaveChats failed: %v", err)
	}
	if !reflect.DeepEqual(existing, []string{"valid"}) {
		t.Fatalf("expected exactly [valid], got %v", existing)
	}

	if len(fq.events) != 1 || fq.events[0].Event != queue.EventLeaveChat {
		t.Fatalf("expected a LEAVE_CHAT event, got %+v", fq.events)
	}
	if !reflect.DeepEqual(fq.events[0].Data.([]string), []string{"valid"}) {
		t.Fatalf("expected leave payload [valid], got %+v", fq.events[0].Data)
	}
}

func TestListMessagesRequiresChatID(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeMessages{}, &fakeQueue{})

	_, err := svc.ListMessages(context.Background(), "  ", nil, 0, nil)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 domain error, got %v", err)
	}
}

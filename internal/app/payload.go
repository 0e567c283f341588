package app

import "openchat/api/internal/store"

// Payload helpers keep the HTTP responses and the broker envelopes on the
// same camelCase shape.

func chatPayload(chat store.Chat) map[string]any {
	payload := map[string]any{
		"id":            chat.ID,
		"title":         chat.Title,
		"countMessages": chat.CountMessages,
		"createdUserId": chat.CreatedUserID,
		"type":          string(chat.Type),
		"createdAt":     chat.CreatedAt,
		"message":       nil,
	}
	if chat.Message != nil {
		payload["message"] = messagePayload(*chat.Message)
	}
	return payload
}

func chatPayloads(chats []store.Chat) []map[string]any {
	items := make([]map[string]any, 0, len(chats))
	for _, chat := range chats {
		items = append(items, chatPayload(chat))
	}
	return items
}

func messagePayload(message store.Message) map[string]any {
	return map[string]any{
		"id":                 message.ID,
		"chatId":             message.ChatID,
		"type":               string(message.Type),
		"authorId":           message.AuthorID,
		"systemLanguageCode": message.SystemLanguageCode,
		"parentMessageId":    message.ParentMessageID,
		"createdAt":          message.CreatedAt,
	}
}

func messagePayloads(items []store.Message) []map[string]any {
	result := make([]map[string]any, 0, len(items))
	for _, message := range items {
		result = append(result, messagePayload(message))
	}
	return result
}

func favoritePayloads(results []FavoriteResult) []map[string]any {
	items := make([]map[string]any, 0, len(results))
	for _, result := range results {
		items = append(items, map[string]any{
			"chatId":  result.ChatID,
			"message": messagePayload(result.Message),
		})
	}
	return items
}

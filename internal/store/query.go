package store

import (
	"fmt"
	"strings"
)

// chatSelect pulls a chat together with its latest message in one round trip.
// The lateral join is what keeps the denormalized message pointer consistent
// with whatever the messages table currently holds.
const chatSelect = `
SELECT c.id, c.title, c.count_messages, c.created_user_id, c.type, c.created_at,
       m.id, m.chat_id, m.type, m.author_id, m.system_language_code, m.parent_message_id, m.created_at
FROM chats c
LEFT JOIN LATERAL (
    SELECT id, chat_id, type, author_id, system_language_code, parent_message_id, created_at
    FROM messages
    WHERE chat_id = c.id
    ORDER BY created_at DESC
    LIMIT 1
) m ON TRUE`

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// buildSearchQuery renders the chat listing query. Every query word must
// match the title either as a prefix of the whole title or as a prefix of a
// word inside it; words are AND-combined. Identifiers are compared as text so
// malformed client-supplied ids filter to nothing instead of erroring.
func buildSearchQuery(search ChatSearch) (string, []any) {
	var (
		where []string
		args  []any
	)

	for _, word := range search.Words {
		args = append(args, word)
		p := placeholder(len(args))
		where = append(where, fmt.Sprintf("(c.title ILIKE %s || '%%' OR c.title ILIKE '%% ' || %s || '%%')", p, p))
	}

	if len(search.ExcludeIDs) > 0 {
		marks := make([]string, 0, len(search.ExcludeIDs))
		for _, id := range search.ExcludeIDs {
			args = append(args, id)
			marks = append(marks, placeholder(len(args)))
		}
		where = append(where, fmt.Sprintf("c.id::text NOT IN (%s)", strings.Join(marks, ", ")))
	}

	query := chatSelect
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	if len(search.Words) > 0 {
		query += "\nORDER BY c.title ASC, m.created_at DESC NULLS LAST"
	} else {
		query += "\nORDER BY m.created_at DESC NULLS LAST"
	}

	args = append(args, search.Limit)
	query += "\nLIMIT " + placeholder(len(args))
	args = append(args, search.Offset)
	query += " OFFSET " + placeholder(len(args))

	return query, args
}

func buildExistingQuery(ids []string) (string, []any) {
	marks := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
		marks = append(marks, placeholder(len(args)))
	}
	query := fmt.Sprintf(`SELECT id::text FROM chats WHERE id::text IN (%s)`, strings.Join(marks, ", "))
	return query, args
}

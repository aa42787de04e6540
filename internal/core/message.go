// Package core holds the client-side chat state: per-chat message
// timelines reconciling optimistic sends with server echoes, and the
// roster of chat summaries kept fresh from push events.
package core

import "time"

// Message is the domain model for one chat line.
//
// IDs are signed: negative ids mark optimistic entries created locally
// on send and not yet confirmed by the server. Non-negative ids come
// from the server.
type Message struct {
	ID        int64
	ChatID    int64
	AuthorID  *int64 // nil for bot and system messages
	Content   string
	IsBot     bool
	Username  string
	CreatedAt time.Time
}

// Pending reports whether the message is an unconfirmed optimistic entry.
func (m Message) Pending() bool {
	return m.ID < 0
}

// Summary is one roster entry for a chat the user participates in.
type Summary struct {
	ID              int64
	Name            *string
	OwnerID         int64
	IsGroup         bool
	CreatedAt       time.Time
	UnreadCount     int
	LastMessage     *string
	LastMessageTime *time.Time
}

// Recency is the instant the roster sorts by: the last message time
// when present, the chat creation time otherwise.
func (s Summary) Recency() time.Time {
	if s.LastMessageTime != nil {
		return *s.LastMessageTime
	}
	return s.CreatedAt
}

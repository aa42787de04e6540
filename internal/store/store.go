// Package store defines the dev server's persistence model and
// interface. The sqlite subpackage implements it.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// User is a registered account.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Chat is a conversation between participants.
type Chat struct {
	ID        int64
	Name      *string
	OwnerID   int64
	IsGroup   bool
	CreatedAt time.Time
}

// ChatSummary is a chat plus the per-user roster fields the client
// renders: unread count and last message preview.
type ChatSummary struct {
	Chat
	UnreadCount     int
	LastMessage     *string
	LastMessageTime *time.Time
}

// Message is a persisted chat message. UserID is nil for bot messages.
type Message struct {
	ID        int64
	ChatID    int64
	UserID    *int64
	Content   string
	IsBot     bool
	Username  string
	CreatedAt time.Time
}

// ReadReceipt records that a user has read up to a message.
type ReadReceipt struct {
	UserID   int64
	Username string
	ReadAt   time.Time
}

// Store is the full persistence interface of the dev server.
type Store interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]*User, error)

	CreateChat(ctx context.Context, name *string, ownerID int64, isGroup bool) (*Chat, error)
	GetChat(ctx context.Context, id int64) (*Chat, error)
	ListChatSummaries(ctx context.Context, userID int64) ([]*ChatSummary, error)
	GetChatSummary(ctx context.Context, chatID, userID int64) (*ChatSummary, error)
	AddParticipant(ctx context.Context, chatID, userID int64) error
	IsParticipant(ctx context.Context, chatID, userID int64) (bool, error)
	ListParticipants(ctx context.Context, chatID int64) ([]*User, error)

	// SaveMessage persists msg and fills in its ID and CreatedAt.
	SaveMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, chatID int64, limit int) ([]*Message, error)
	// UpdateMessageContent rewrites a message body, used when a bot
	// stream finishes.
	UpdateMessageContent(ctx context.Context, id int64, content string) error

	// MarkRead moves the user's read watermark to the chat's newest
	// message.
	MarkRead(ctx context.Context, chatID, userID int64) error
	ReadReceipts(ctx context.Context, chatID int64) (map[int64][]ReadReceipt, error)

	Close() error
}

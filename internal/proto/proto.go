// Package proto defines the JSON wire protocol spoken over the chat
// websocket plus the REST resource shapes shared with it. One event
// object per text frame, discriminated by the top-level "type" field.
package proto

import (
	"encoding/json"
	"fmt"
	"time"
)

// Recognized frame types.
const (
	TypeJoin                = "join"
	TypeLeave               = "leave"
	TypeMessage             = "message"
	TypeTyping              = "typing"
	TypeBotStream           = "bot_stream"
	TypeUserJoined          = "user_joined"
	TypeUserLeft            = "user_left"
	TypeChatCreated         = "chat_created"
	TypeChatInvite          = "chat_invite"
	TypeReadReceiptsUpdated = "read_receipts_updated"
)

// User is a user resource as the backend serializes it.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Chat is a chat summary as the backend serializes it.
type Chat struct {
	ID              int64      `json:"id"`
	Name            *string    `json:"name"`
	OwnerID         int64      `json:"owner_id"`
	IsGroup         bool       `json:"is_group"`
	CreatedAt       time.Time  `json:"created_at"`
	UnreadCount     int        `json:"unread_count"`
	LastMessage     *string    `json:"last_message"`
	LastMessageTime *time.Time `json:"last_message_time"`
}

// Message is a chat message as the backend serializes it. UserID is nil
// for bot and system messages.
type Message struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	UserID    *int64    `json:"user_id"`
	Content   string    `json:"content"`
	IsBot     bool      `json:"is_bot"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// ReadReceipt records that one user has read a message.
type ReadReceipt struct {
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
	ReadAt   time.Time `json:"read_at"`
}

// Event is a server-to-client frame. Fields beyond Type are populated
// per the frame type; absent ones stay zero.
type Event struct {
	Type         string                  `json:"type"`
	ChatID       int64                   `json:"chat_id,omitempty"`
	Username     string                  `json:"username,omitempty"`
	Notification string                  `json:"notification,omitempty"`
	Chat         *Chat                   `json:"chat,omitempty"`
	Message      *Message                `json:"message,omitempty"`
	ReadReceipts map[int64][]ReadReceipt `json:"read_receipts,omitempty"`
}

// DecodeEvent parses a raw inbound frame. Frames with an empty type are
// rejected; unknown types decode fine and are left to the consumer.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("decode event: missing type")
	}
	return ev, nil
}

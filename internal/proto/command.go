package proto

import "errors"

var (
	ErrBadChatID    = errors.New("chat id must be positive")
	ErrEmptyContent = errors.New("content must not be empty")
)

// Command is a client-to-server frame.
type Command struct {
	Type    string `json:"type"`
	ChatID  int64  `json:"chat_id"`
	Content string `json:"content,omitempty"`
}

// Join builds a frame subscribing the connection to a chat.
func Join(chatID int64) (Command, error) {
	if chatID <= 0 {
		return Command{}, ErrBadChatID
	}
	return Command{Type: TypeJoin, ChatID: chatID}, nil
}

// Leave builds a frame unsubscribing the connection from a chat.
func Leave(chatID int64) (Command, error) {
	if chatID <= 0 {
		return Command{}, ErrBadChatID
	}
	return Command{Type: TypeLeave, ChatID: chatID}, nil
}

// SendText builds a frame carrying a chat message.
func SendText(chatID int64, content string) (Command, error) {
	if chatID <= 0 {
		return Command{}, ErrBadChatID
	}
	if content == "" {
		return Command{}, ErrEmptyContent
	}
	return Command{Type: TypeMessage, ChatID: chatID, Content: content}, nil
}

// Typing builds a frame announcing that the user is typing in a chat.
func Typing(chatID int64) (Command, error) {
	if chatID <= 0 {
		return Command{}, ErrBadChatID
	}
	return Command{Type: TypeTyping, ChatID: chatID}, nil
}

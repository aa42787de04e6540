package session

import (
	"context"

	"github.com/coopchat/coopchat-client/internal/core"
	"github.com/coopchat/coopchat-client/internal/proto"
	"github.com/coopchat/coopchat-client/internal/rest"
)

func fromWireMessage(m proto.Message) core.Message {
	return core.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		AuthorID:  m.UserID,
		Content:   m.Content,
		IsBot:     m.IsBot,
		Username:  m.Username,
		CreatedAt: m.CreatedAt,
	}
}

func fromWireChat(c proto.Chat) core.Summary {
	return core.Summary{
		ID:              c.ID,
		Name:            c.Name,
		OwnerID:         c.OwnerID,
		IsGroup:         c.IsGroup,
		CreatedAt:       c.CreatedAt,
		UnreadCount:     c.UnreadCount,
		LastMessage:     c.LastMessage,
		LastMessageTime: c.LastMessageTime,
	}
}

// rosterFetcher adapts the rest client to the roster's fetch interface.
type rosterFetcher struct {
	api *rest.Client
}

func (f rosterFetcher) ListChats(ctx context.Context) ([]core.Summary, error) {
	chats, err := f.api.ListChats(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.Summary, 0, len(chats))
	for _, c := range chats {
		out = append(out, fromWireChat(c))
	}
	return out, nil
}

func (f rosterFetcher) GetChat(ctx context.Context, chatID int64) (core.Summary, error) {
	chat, err := f.api.GetChat(ctx, chatID)
	if err != nil {
		return core.Summary{}, err
	}
	return fromWireChat(chat), nil
}

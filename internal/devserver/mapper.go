package devserver

import (
	"github.com/coopchat/coopchat-client/internal/proto"
	"github.com/coopchat/coopchat-client/internal/store"
)

func wireMessage(m *store.Message) *proto.Message {
	return &proto.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		UserID:    m.UserID,
		Content:   m.Content,
		IsBot:     m.IsBot,
		Username:  m.Username,
		CreatedAt: m.CreatedAt,
	}
}

func wireChat(c *store.ChatSummary) *proto.Chat {
	return &proto.Chat{
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

func wireUser(u *store.User) proto.User {
	return proto.User{
		ID:        u.ID,
		Username:  u.Username,
		CreatedAt: u.CreatedAt,
	}
}

func wireReceipts(receipts map[int64][]store.ReadReceipt) map[int64][]proto.ReadReceipt {
	out := make(map[int64][]proto.ReadReceipt, len(receipts))
	for id, list := range receipts {
		converted := make([]proto.ReadReceipt, 0, len(list))
		for _, r := range list {
			converted = append(converted, proto.ReadReceipt{
				UserID:   r.UserID,
				Username: r.Username,
				ReadAt:   r.ReadAt,
			})
		}
		out[id] = converted
	}
	return out
}

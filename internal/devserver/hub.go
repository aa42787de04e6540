package devserver

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/coopchat/coopchat-client/internal/proto"
)

// client is one websocket connection as the hub sees it.
type client struct {
	userID   int64
	username string
	send     chan proto.Event
	chats    map[int64]struct{}
}

// hub tracks which connections are subscribed to which chats and fans
// events out to them.
type hub struct {
	mu     sync.Mutex
	byChat map[int64]map[*client]struct{}
	byUser map[int64]map[*client]struct{}
	log    *zerolog.Logger
}

func newHub(logger *zerolog.Logger) *hub {
	return &hub{
		byChat: make(map[int64]map[*client]struct{}),
		byUser: make(map[int64]map[*client]struct{}),
		log:    logger,
	}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byUser[c.userID] == nil {
		h.byUser[c.userID] = make(map[*client]struct{})
	}
	h.byUser[c.userID][c] = struct{}{}
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for chatID := range c.chats {
		delete(h.byChat[chatID], c)
		if len(h.byChat[chatID]) == 0 {
			delete(h.byChat, chatID)
		}
	}
	if conns, ok := h.byUser[c.userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.byUser, c.userID)
		}
	}
	close(c.send)
}

func (h *hub) join(c *client, chatID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byChat[chatID] == nil {
		h.byChat[chatID] = make(map[*client]struct{})
	}
	h.byChat[chatID][c] = struct{}{}
	c.chats[chatID] = struct{}{}
}

func (h *hub) leave(c *client, chatID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byChat[chatID], c)
	delete(c.chats, chatID)
}

// broadcast sends the event to every connection subscribed to the chat.
func (h *hub) broadcast(chatID int64, ev proto.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.byChat[chatID] {
		h.deliver(c, ev)
	}
}

// notifyUser sends the event to every connection of one user,
// subscribed or not. Used for chat_created and chat_invite pushes.
func (h *hub) notifyUser(userID int64, ev proto.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.byUser[userID] {
		h.deliver(c, ev)
	}
}

func (h *hub) deliver(c *client, ev proto.Event) {
	select {
	case c.send <- ev:
	default:
		h.log.Warn().Int64("user_id", c.userID).Str("type", ev.Type).Msg("dropping event for slow consumer")
	}
}

package core

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Fetcher provides the REST lookups the roster needs. Implemented by
// the rest client through the session's adapter.
type Fetcher interface {
	// ListChats returns the full set of chat summaries for the user.
	ListChats(ctx context.Context) ([]Summary, error)
	// GetChat returns one chat's summary with server-computed unread count.
	GetChat(ctx context.Context, chatID int64) (Summary, error)
}

// Roster keeps the list of chat summaries eventually consistent with
// server push events without refetching the whole list on every event.
// It is safe for concurrent use: targeted refetches run in their own
// goroutines and patch results in under the lock.
type Roster struct {
	mu      sync.RWMutex
	chats   []Summary
	active  int64
	seq     map[int64]uint64
	fetcher Fetcher
	log     *zerolog.Logger
}

// NewRoster builds an empty roster backed by the given fetcher.
func NewRoster(fetcher Fetcher, logger *zerolog.Logger) *Roster {
	return &Roster{
		seq:     make(map[int64]uint64),
		fetcher: fetcher,
		log:     logger,
	}
}

// SetActiveChat records which chat the user is currently viewing.
// Zero means no active chat.
func (r *Roster) SetActiveChat(chatID int64) {
	r.mu.Lock()
	r.active = chatID
	r.mu.Unlock()
}

// ActiveChat returns the chat id currently in view, zero if none.
func (r *Roster) ActiveChat() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Chats returns a sorted snapshot of the roster.
func (r *Roster) Chats() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Summary, len(r.chats))
	copy(out, r.chats)
	return out
}

// Refresh replaces the roster with a full refetch. Used on initial load
// and when a brand-new chat appears (chat_created / chat_invite), since
// its complete shape and sorted position are unknown locally.
func (r *Roster) Refresh(ctx context.Context) error {
	chats, err := r.fetcher.ListChats(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.chats = chats
	r.resortLocked()
	r.mu.Unlock()
	return nil
}

// HandleMessage reacts to a message push for a chat. If the chat is the
// active view the preview and recency are patched locally: viewing
// implies reading, so the unread count is left alone and no request is
// made. Otherwise the unread count is server-owned, so a targeted
// refetch of that one chat is issued.
func (r *Roster) HandleMessage(ctx context.Context, msg Message) {
	r.mu.Lock()
	if msg.ChatID == r.active {
		for i := range r.chats {
			if r.chats[i].ID == msg.ChatID {
				content := msg.Content
				at := msg.CreatedAt
				r.chats[i].LastMessage = &content
				r.chats[i].LastMessageTime = &at
				r.resortLocked()
				r.mu.Unlock()
				return
			}
		}
		// Active chat not in the roster yet; fall through to the
		// refetch so the entry appears.
	}
	r.mu.Unlock()

	r.refetchChat(ctx, msg.ChatID)
}

// HandleReadReceipts reacts to a read_receipts_updated push by
// refetching that chat's summary regardless of the active view.
func (r *Roster) HandleReadReceipts(ctx context.Context, chatID int64) {
	r.refetchChat(ctx, chatID)
}

// refetchChat fetches one chat's summary in the background and patches
// it in. Refetches for the same chat are not coalesced; each carries a
// sequence number so a stale response resolving after a newer one is
// discarded instead of overwriting fresher data.
func (r *Roster) refetchChat(ctx context.Context, chatID int64) {
	r.mu.Lock()
	r.seq[chatID]++
	seq := r.seq[chatID]
	r.mu.Unlock()

	go func() {
		summary, err := r.fetcher.GetChat(ctx, chatID)
		if err != nil {
			// Roster stays stale until the next event.
			r.log.Warn().Err(err).Int64("chat_id", chatID).Msg("chat summary refetch failed")
			return
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.seq[chatID] != seq {
			r.log.Debug().Int64("chat_id", chatID).Msg("discarding stale chat summary")
			return
		}
		r.patchLocked(summary)
	}()
}

func (r *Roster) patchLocked(summary Summary) {
	for i := range r.chats {
		if r.chats[i].ID == summary.ID {
			r.chats[i] = summary
			r.resortLocked()
			return
		}
	}
	r.chats = append(r.chats, summary)
	r.resortLocked()
}

// resortLocked orders the roster by recency, newest first. The sort is
// stable so ties keep their existing order.
func (r *Roster) resortLocked() {
	sort.SliceStable(r.chats, func(i, j int) bool {
		return r.chats[i].Recency().After(r.chats[j].Recency())
	})
}

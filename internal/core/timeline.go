package core

import "time"

// Timeline is the ordered message sequence of one open chat. It merges
// locally-originated optimistic entries with server-confirmed messages
// so the UI sees exactly one entry per logical message, in arrival
// order.
//
// Timeline is not safe for concurrent use; the owning session mutates
// it from a single event loop.
type Timeline struct {
	chatID     int64
	msgs       []Message
	minLocalID int64
}

// NewTimeline builds an empty timeline for a chat.
func NewTimeline(chatID int64) *Timeline {
	return &Timeline{chatID: chatID}
}

// ChatID returns the chat this timeline belongs to.
func (t *Timeline) ChatID() int64 {
	return t.chatID
}

// Seed replaces the sequence with history loaded from the backend.
func (t *Timeline) Seed(msgs []Message) {
	t.msgs = append(t.msgs[:0:0], msgs...)
}

// AppendOptimistic creates a pending entry for a message the user just
// sent and appends it to the sequence. The entry carries a negative id
// derived from the wall clock, adjusted to stay unique within this
// timeline. It is retired by ApplyConfirmed when the server echo with
// matching author and content arrives; if no echo ever arrives the
// entry stays pending, there is no timeout-based rollback.
func (t *Timeline) AppendOptimistic(authorID int64, username, content string, now time.Time) Message {
	id := -now.UnixMilli()
	if id >= t.minLocalID {
		id = t.minLocalID - 1
	}
	t.minLocalID = id

	author := authorID
	msg := Message{
		ID:        id,
		ChatID:    t.chatID,
		AuthorID:  &author,
		Content:   content,
		Username:  username,
		CreatedAt: now,
	}
	t.msgs = append(t.msgs, msg)
	return msg
}

// ApplyConfirmed merges a server-confirmed message into the sequence:
// the first optimistic entry with the same author and content is
// retired, then the message is appended unless its id is already
// present (duplicate delivery, e.g. a redundant broadcast to the
// sender).
func (t *Timeline) ApplyConfirmed(msg Message) {
	for i, existing := range t.msgs {
		if !existing.Pending() {
			continue
		}
		if sameAuthor(existing.AuthorID, msg.AuthorID) && existing.Content == msg.Content {
			t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
			break
		}
	}

	for _, existing := range t.msgs {
		if existing.ID == msg.ID {
			return
		}
	}

	t.msgs = append(t.msgs, msg)
}

// ApplyStream handles a streaming bot update carrying the cumulative
// content for a message id. If the last entry shares the id, its
// content is replaced in place; otherwise the update starts a new
// entry. The server guarantees strict append order per streaming id.
func (t *Timeline) ApplyStream(msg Message) {
	if n := len(t.msgs); n > 0 && t.msgs[n-1].ID == msg.ID {
		t.msgs[n-1].Content = msg.Content
		return
	}
	t.msgs = append(t.msgs, msg)
}

// Messages returns a copy of the current sequence.
func (t *Timeline) Messages() []Message {
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

func sameAuthor(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

package session

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/coopchat/coopchat-client/internal/config"
	"github.com/coopchat/coopchat-client/internal/devserver"
	"github.com/coopchat/coopchat-client/internal/proto"
	"github.com/coopchat/coopchat-client/internal/rest"
	"github.com/coopchat/coopchat-client/internal/transport/ws"
)

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zerolog.Nop()
	s, err := devserver.New(config.DevServer{
		DatabasePath: filepath.Join(t.TempDir(), "dev.db"),
		JWTSecret:    "test-secret",
	}, &logger)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func startSession(t *testing.T, ctx context.Context, srv *httptest.Server, username string) (*Session, *rest.Client) {
	t.Helper()
	api := rest.NewClient(srv.URL, 5*time.Second)
	token, err := api.Register(ctx, username, "s3cret")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}

	logger := zerolog.Nop()
	sess, err := New(srv.URL, api, &logger)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(sess.Close)

	if err := sess.Start(ctx, token); err != nil {
		t.Fatalf("start session: %v", err)
	}
	waitFor(t, func() bool { return sess.ConnState() == ws.StateOpen })
	return sess, api
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestSendTextOptimisticThenConfirmed(t *testing.T) {
	srv := newBackend(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, api := startSession(t, ctx, srv, "alice")

	chat, err := api.CreateChat(ctx, rest.CreateChatRequest{IsGroup: false})
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if err := sess.OpenChat(ctx, chat.ID); err != nil {
		t.Fatalf("open chat: %v", err)
	}

	msg, err := sess.SendText(ctx, chat.ID, "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !msg.Pending() {
		t.Fatalf("send must return a pending entry, got id %d", msg.ID)
	}

	// The echo retires the optimistic entry, leaving exactly one
	// confirmed message.
	waitFor(t, func() bool {
		msgs := sess.Messages(chat.ID)
		return len(msgs) == 1 && !msgs[0].Pending() && msgs[0].Content == "hello"
	})
}

func TestSendTextRequiresOpenChat(t *testing.T) {
	srv := newBackend(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, api := startSession(t, ctx, srv, "alice")
	chat, err := api.CreateChat(ctx, rest.CreateChatRequest{IsGroup: false})
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	if _, err := sess.SendText(ctx, chat.ID, "hello"); !errors.Is(err, ErrChatNotOpen) {
		t.Fatalf("expected ErrChatNotOpen, got %v", err)
	}
}

func TestBotStreamKeepsSingleEntry(t *testing.T) {
	srv := newBackend(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, api := startSession(t, ctx, srv, "alice")
	chat, err := api.CreateChat(ctx, rest.CreateChatRequest{IsGroup: false})
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if err := sess.OpenChat(ctx, chat.ID); err != nil {
		t.Fatalf("open chat: %v", err)
	}

	if _, err := sess.SendText(ctx, chat.ID, "/bot hi"); err != nil {
		t.Fatalf("send: %v", err)
	}

	// One confirmed user message plus one bot entry grown in place and
	// closed by the final echo.
	waitFor(t, func() bool {
		msgs := sess.Messages(chat.ID)
		return len(msgs) == 2 && msgs[1].IsBot && msgs[1].Content == "You said: hi"
	})

	// The closing message event must not duplicate the streamed entry.
	time.Sleep(100 * time.Millisecond)
	if msgs := sess.Messages(chat.ID); len(msgs) != 2 {
		t.Fatalf("bot reply duplicated: %d entries", len(msgs))
	}
}

func TestTwoSessionsExchangeMessages(t *testing.T) {
	srv := newBackend(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice, aliceAPI := startSession(t, ctx, srv, "alice")
	bob, _ := startSession(t, ctx, srv, "bob")

	chat, err := aliceAPI.CreateChat(ctx, rest.CreateChatRequest{IsGroup: true, Participants: []string{"bob"}})
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	// Bob learns about the chat through the chat_created push.
	waitFor(t, func() bool { return len(bob.Chats()) == 1 })

	if err := alice.OpenChat(ctx, chat.ID); err != nil {
		t.Fatalf("alice open: %v", err)
	}
	if err := bob.OpenChat(ctx, chat.ID); err != nil {
		t.Fatalf("bob open: %v", err)
	}

	if _, err := alice.SendText(ctx, chat.ID, "hi bob"); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, func() bool {
		msgs := bob.Messages(chat.ID)
		return len(msgs) == 1 && msgs[0].Content == "hi bob" && msgs[0].Username == "alice"
	})

	// Bob is viewing the chat, so the roster preview updates without an
	// unread bump.
	waitFor(t, func() bool {
		chats := bob.Chats()
		return len(chats) == 1 && chats[0].LastMessage != nil && *chats[0].LastMessage == "hi bob"
	})
	if chats := bob.Chats(); chats[0].UnreadCount != 0 {
		t.Fatalf("active chat accrued unread: %d", chats[0].UnreadCount)
	}
}

func TestInactiveChatUnreadCount(t *testing.T) {
	srv := newBackend(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice, aliceAPI := startSession(t, ctx, srv, "alice")
	bob, _ := startSession(t, ctx, srv, "bob")

	chat, err := aliceAPI.CreateChat(ctx, rest.CreateChatRequest{IsGroup: true, Participants: []string{"bob"}})
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	waitFor(t, func() bool { return len(bob.Chats()) == 1 })

	if err := alice.OpenChat(ctx, chat.ID); err != nil {
		t.Fatalf("alice open: %v", err)
	}

	// Bob never opens the chat; the message push triggers a targeted
	// refetch carrying the server-side unread count.
	if _, err := alice.SendText(ctx, chat.ID, "are you there?"); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, func() bool {
		chats := bob.Chats()
		return len(chats) == 1 && chats[0].UnreadCount == 1
	})
}

func TestPresenceEventsReachSubscribers(t *testing.T) {
	srv := newBackend(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice, aliceAPI := startSession(t, ctx, srv, "alice")
	bob, _ := startSession(t, ctx, srv, "bob")

	chat, err := aliceAPI.CreateChat(ctx, rest.CreateChatRequest{IsGroup: true, Participants: []string{"bob"}})
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	waitFor(t, func() bool { return len(bob.Chats()) == 1 })

	if err := alice.OpenChat(ctx, chat.ID); err != nil {
		t.Fatalf("alice open: %v", err)
	}

	typed := make(chan proto.Event, 8)
	unsub := alice.Subscribe(func(ev proto.Event) {
		if ev.Type == proto.TypeTyping {
			typed <- ev
		}
	})
	defer unsub()

	if err := bob.OpenChat(ctx, chat.ID); err != nil {
		t.Fatalf("bob open: %v", err)
	}
	bob.Typing(ctx, chat.ID)

	select {
	case ev := <-typed:
		if ev.Username != "bob" || ev.ChatID != chat.ID {
			t.Fatalf("typing event: %+v", ev)
		}
	case <-ctx.Done():
		t.Fatalf("typing event never arrived")
	}

	// Typing events must not touch the timeline.
	if msgs := alice.Messages(chat.ID); len(msgs) != 0 {
		t.Fatalf("timeline polluted by presence: %d entries", len(msgs))
	}
}

func TestOpenChatSeedsHistory(t *testing.T) {
	srv := newBackend(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, api := startSession(t, ctx, srv, "alice")
	chat, err := api.CreateChat(ctx, rest.CreateChatRequest{IsGroup: false})
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if err := sess.OpenChat(ctx, chat.ID); err != nil {
		t.Fatalf("open chat: %v", err)
	}
	if _, err := sess.SendText(ctx, chat.ID, "persisted"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, func() bool {
		msgs := sess.Messages(chat.ID)
		return len(msgs) == 1 && !msgs[0].Pending()
	})
	sess.CloseChat(ctx, chat.ID)
	if sess.Messages(chat.ID) != nil {
		t.Fatalf("closed chat must drop its timeline")
	}

	// Reopening loads the history from the backend.
	if err := sess.OpenChat(ctx, chat.ID); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	msgs := sess.Messages(chat.ID)
	if len(msgs) != 1 || msgs[0].Content != "persisted" {
		t.Fatalf("seeded history: %+v", msgs)
	}
}

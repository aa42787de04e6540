// Package session owns one authenticated chat session: the websocket
// connection, the roster, and one timeline per open chat. Sessions are
// constructed on login and torn down on logout, so independent sessions
// (tests, multiple accounts) never share state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coopchat/coopchat-client/internal/core"
	"github.com/coopchat/coopchat-client/internal/proto"
	"github.com/coopchat/coopchat-client/internal/rest"
	"github.com/coopchat/coopchat-client/internal/transport/ws"
)

// ErrChatNotOpen is returned when sending into a chat that has no open
// timeline.
var ErrChatNotOpen = errors.New("chat not open")

const historyLimit = 50

// Session coordinates the connection, roster, and timelines for one
// logged-in user. Inbound events are applied strictly in arrival order
// by a single goroutine.
type Session struct {
	log        *zerolog.Logger
	api        *rest.Client
	conn       *ws.Manager
	dispatcher *ws.Dispatcher
	roster     *core.Roster

	mu        sync.Mutex
	timelines map[int64]*core.Timeline
	user      proto.User

	events    chan proto.Event
	done      chan struct{}
	closeOnce sync.Once
	unsub     func()
}

// New wires a session for the given backend. Start must be called with
// a valid token before the session is usable.
func New(apiBaseURL string, api *rest.Client, logger *zerolog.Logger) (*Session, error) {
	child := logger.With().Str("client_id", uuid.NewString()).Logger()

	dispatcher := ws.NewDispatcher(&child)
	conn, err := ws.NewManager(apiBaseURL, dispatcher, &child)
	if err != nil {
		return nil, fmt.Errorf("build connection manager: %w", err)
	}

	s := &Session{
		log:        &child,
		api:        api,
		conn:       conn,
		dispatcher: dispatcher,
		roster:     core.NewRoster(rosterFetcher{api: api}, &child),
		timelines:  make(map[int64]*core.Timeline),
		events:     make(chan proto.Event, 256),
		done:       make(chan struct{}),
	}
	s.unsub = dispatcher.AddListener(s.enqueue)
	return s, nil
}

// Start authenticates the REST client, loads the initial roster, opens
// the websocket, and launches the event loop. A failed initial dial is
// not fatal: the connection manager keeps retrying with backoff.
func (s *Session) Start(ctx context.Context, token string) error {
	s.api.SetToken(token)

	user, err := s.api.Me(ctx)
	if err != nil {
		return fmt.Errorf("load current user: %w", err)
	}
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()

	if err := s.roster.Refresh(ctx); err != nil {
		return fmt.Errorf("load roster: %w", err)
	}

	if err := s.conn.Connect(ctx, token); err != nil {
		s.log.Warn().Err(err).Msg("initial connect failed, retrying in background")
	}

	go s.run(ctx)
	return nil
}

// Close tears the session down: the listener registration is removed,
// the socket closed, and the event loop stopped.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.unsub()
		s.conn.Close()
	})
}

func (s *Session) enqueue(ev proto.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-s.done:
			return
		case ev := <-s.events:
			s.handleEvent(ctx, ev)
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, ev proto.Event) {
	switch ev.Type {
	case proto.TypeMessage:
		if ev.Message == nil {
			s.log.Debug().Msg("message event without payload")
			return
		}
		msg := fromWireMessage(*ev.Message)
		s.mu.Lock()
		if tl, ok := s.timelines[msg.ChatID]; ok {
			tl.ApplyConfirmed(msg)
		}
		s.mu.Unlock()
		s.roster.HandleMessage(ctx, msg)

	case proto.TypeBotStream:
		if ev.Message == nil {
			return
		}
		msg := fromWireMessage(*ev.Message)
		msg.IsBot = true
		s.mu.Lock()
		if tl, ok := s.timelines[msg.ChatID]; ok {
			tl.ApplyStream(msg)
		}
		s.mu.Unlock()

	case proto.TypeChatCreated, proto.TypeChatInvite:
		if ev.Notification != "" {
			s.log.Info().Str("notification", ev.Notification).Msg("chat notification")
		}
		if err := s.roster.Refresh(ctx); err != nil {
			s.log.Warn().Err(err).Msg("roster refresh failed")
		}

	case proto.TypeReadReceiptsUpdated:
		s.roster.HandleReadReceipts(ctx, ev.ChatID)

	case proto.TypeTyping, proto.TypeUserJoined, proto.TypeUserLeft:
		// Presence is a presentation concern; consumers observe these
		// through Subscribe.

	default:
		s.log.Debug().Str("type", ev.Type).Msg("ignoring unknown event")
	}
}

// OpenChat loads a chat's history, joins it over the websocket, and
// makes it the active view. Opening marks the chat read.
func (s *Session) OpenChat(ctx context.Context, chatID int64) error {
	cmd, err := proto.Join(chatID)
	if err != nil {
		return err
	}

	history, err := s.api.ListMessages(ctx, chatID, historyLimit)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	msgs := make([]core.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, fromWireMessage(m))
	}

	tl := core.NewTimeline(chatID)
	tl.Seed(msgs)

	s.mu.Lock()
	s.timelines[chatID] = tl
	s.mu.Unlock()
	s.roster.SetActiveChat(chatID)

	if err := s.conn.Send(ctx, cmd); err != nil {
		s.log.Warn().Err(err).Int64("chat_id", chatID).Msg("join not sent")
	}
	if err := s.api.MarkRead(ctx, chatID); err != nil {
		s.log.Warn().Err(err).Int64("chat_id", chatID).Msg("mark-read failed")
	}
	return nil
}

// CloseChat leaves the chat and drops its timeline.
func (s *Session) CloseChat(ctx context.Context, chatID int64) {
	if cmd, err := proto.Leave(chatID); err == nil {
		if err := s.conn.Send(ctx, cmd); err != nil {
			s.log.Debug().Err(err).Int64("chat_id", chatID).Msg("leave not sent")
		}
	}

	s.mu.Lock()
	delete(s.timelines, chatID)
	s.mu.Unlock()
	if s.roster.ActiveChat() == chatID {
		s.roster.SetActiveChat(0)
	}
}

// SendText appends an optimistic entry to the chat's timeline and sends
// the message. On a send failure the optimistic entry stays in place
// and the content is preserved in the returned message for the caller
// to retry; nothing is resent automatically.
func (s *Session) SendText(ctx context.Context, chatID int64, content string) (core.Message, error) {
	cmd, err := proto.SendText(chatID, content)
	if err != nil {
		return core.Message{}, err
	}

	s.mu.Lock()
	tl, ok := s.timelines[chatID]
	if !ok {
		s.mu.Unlock()
		return core.Message{}, ErrChatNotOpen
	}
	msg := tl.AppendOptimistic(s.user.ID, s.user.Username, content, time.Now())
	s.mu.Unlock()

	if err := s.conn.Send(ctx, cmd); err != nil {
		return msg, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// Typing announces that the user is typing in a chat, best effort.
func (s *Session) Typing(ctx context.Context, chatID int64) {
	if cmd, err := proto.Typing(chatID); err == nil {
		_ = s.conn.Send(ctx, cmd)
	}
}

// Messages returns a snapshot of an open chat's timeline, nil if the
// chat is not open.
func (s *Session) Messages(chatID int64) []core.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	tl, ok := s.timelines[chatID]
	if !ok {
		return nil
	}
	return tl.Messages()
}

// Chats returns the current roster snapshot.
func (s *Session) Chats() []core.Summary {
	return s.roster.Chats()
}

// User returns the authenticated user.
func (s *Session) User() proto.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Subscribe registers a raw event listener, e.g. for presence and
// typing indicators. Returns an unsubscribe function.
func (s *Session) Subscribe(fn ws.Listener) func() {
	return s.dispatcher.AddListener(fn)
}

// ConnState returns the connection state.
func (s *Session) ConnState() ws.State {
	return s.conn.State()
}

// OnConnStateChange registers fn for connection state transitions.
func (s *Session) OnConnStateChange(fn func(ws.State)) func() {
	return s.conn.OnStateChange(fn)
}

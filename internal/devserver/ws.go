package devserver

import (
	"context"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/coopchat/coopchat-client/internal/proto"
	"github.com/coopchat/coopchat-client/internal/store"
)

const botPrefix = "/bot "

// handleWS upgrades the connection and bridges it to the hub. The auth
// token rides the query string, matching the production backend.
func (s *Server) handleWS(c *gin.Context) {
	claims, err := s.auth.ValidateToken(c.Query("token"))
	if err != nil {
		c.String(401, "invalid token")
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	cl := &client{
		userID:   claims.UserID,
		username: claims.Username,
		send:     make(chan proto.Event, 32),
		chats:    make(map[int64]struct{}),
	}
	s.hub.register(cl)
	defer s.hub.unregister(cl)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.wsReadLoop(ctx, conn, cl)
	}()
	go func() {
		errCh <- s.wsWriteLoop(ctx, conn, cl)
	}()

	<-errCh
	cancel()
	<-errCh

	conn.Close(websocket.StatusNormalClosure, "closing")
}

func (s *Server) wsReadLoop(ctx context.Context, conn *websocket.Conn, cl *client) error {
	for {
		var cmd proto.Command
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			return err
		}

		if cmd.ChatID <= 0 {
			continue
		}
		member, err := s.store.IsParticipant(ctx, cmd.ChatID, cl.userID)
		if err != nil || !member {
			s.log.Debug().Int64("chat_id", cmd.ChatID).Int64("user_id", cl.userID).Msg("ignoring frame for foreign chat")
			continue
		}

		switch cmd.Type {
		case proto.TypeJoin:
			s.hub.join(cl, cmd.ChatID)
			s.hub.broadcast(cmd.ChatID, proto.Event{
				Type:     proto.TypeUserJoined,
				ChatID:   cmd.ChatID,
				Username: cl.username,
			})
		case proto.TypeLeave:
			s.hub.broadcast(cmd.ChatID, proto.Event{
				Type:     proto.TypeUserLeft,
				ChatID:   cmd.ChatID,
				Username: cl.username,
			})
			s.hub.leave(cl, cmd.ChatID)
		case proto.TypeMessage:
			if cmd.Content == "" {
				continue
			}
			s.handleChatMessage(ctx, cl, cmd.ChatID, cmd.Content)
		case proto.TypeTyping:
			s.hub.broadcast(cmd.ChatID, proto.Event{
				Type:     proto.TypeTyping,
				ChatID:   cmd.ChatID,
				Username: cl.username,
			})
		default:
			s.log.Debug().Str("type", cmd.Type).Msg("unknown inbound frame type")
		}
	}
}

func (s *Server) wsWriteLoop(ctx context.Context, conn *websocket.Conn, cl *client) error {
	for {
		select {
		case ev, ok := <-cl.send:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Server) handleChatMessage(ctx context.Context, cl *client, chatID int64, content string) {
	userID := cl.userID
	msg := &store.Message{
		ChatID:   chatID,
		UserID:   &userID,
		Content:  content,
		Username: cl.username,
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		s.log.Error().Err(err).Msg("save message failed")
		return
	}

	s.hub.broadcast(chatID, proto.Event{
		Type:    proto.TypeMessage,
		ChatID:  chatID,
		Message: wireMessage(msg),
	})

	if strings.HasPrefix(content, botPrefix) {
		go s.streamBotReply(chatID, strings.TrimPrefix(content, botPrefix))
	}
}

// streamBotReply fakes the AI integration: it persists a bot message,
// streams its text as cumulative bot_stream updates, then broadcasts
// the finished message.
func (s *Server) streamBotReply(chatID int64, prompt string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reply := "You said: " + prompt
	msg := &store.Message{ChatID: chatID, IsBot: true, Content: ""}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		s.log.Error().Err(err).Msg("save bot message failed")
		return
	}

	words := strings.Fields(reply)
	partial := ""
	for _, word := range words {
		if partial != "" {
			partial += " "
		}
		partial += word

		streamed := *msg
		streamed.Content = partial
		s.hub.broadcast(chatID, proto.Event{
			Type:    proto.TypeBotStream,
			ChatID:  chatID,
			Message: wireMessage(&streamed),
		})
		time.Sleep(30 * time.Millisecond)
	}

	if err := s.store.UpdateMessageContent(ctx, msg.ID, reply); err != nil {
		s.log.Error().Err(err).Msg("finalize bot message failed")
	}
	msg.Content = reply
	s.hub.broadcast(chatID, proto.Event{
		Type:    proto.TypeMessage,
		ChatID:  chatID,
		Message: wireMessage(msg),
	})
}

package devserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/coopchat/coopchat-client/internal/auth"
	"github.com/coopchat/coopchat-client/internal/proto"
	"github.com/coopchat/coopchat-client/internal/store"
)

const (
	contextKeyUserID   = "user_id"
	contextKeyUsername = "username"
)

// ErrorResponse is the error body shape of every endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
}

type credentialsRequest struct {
	Username string `json:"username" binding:"required,min=3,max=32"`
	Password string `json:"password" binding:"required,min=6"`
}

type authResponse struct {
	Token string `json:"token"`
}

type createChatRequest struct {
	Name         *string  `json:"name"`
	IsGroup      bool     `json:"is_group"`
	Participants []string `json:"participant_usernames"`
}

type inviteRequest struct {
	Username string `json:"username" binding:"required"`
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing bearer token"})
			c.Abort()
			return
		}

		claims, err := s.auth.ValidateToken(parts[1])
		if err != nil {
			s.log.Debug().Err(err).Msg("invalid token")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			c.Abort()
			return
		}

		c.Set(contextKeyUserID, claims.UserID)
		c.Set(contextKeyUsername, claims.Username)
		c.Next()
	}
}

func (s *Server) handleRegister(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, err := s.auth.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "user already exists"})
			return
		}
		s.log.Error().Err(err).Str("username", req.Username).Msg("register failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusCreated, authResponse{Token: token})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, err := s.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
			return
		}
		s.log.Error().Err(err).Str("username", req.Username).Msg("login failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, authResponse{Token: token})
}

func (s *Server) handleMe(c *gin.Context) {
	user, err := s.store.GetUserByID(c.Request.Context(), c.GetInt64(contextKeyUserID))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	}
	c.JSON(http.StatusOK, wireUser(user))
}

func (s *Server) handleSearchUsers(c *gin.Context) {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 50 {
			limit = parsed
		}
	}

	users, err := s.store.SearchUsers(c.Request.Context(), c.Query("query"), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("search users failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]proto.User, 0, len(users))
	for _, u := range users {
		out = append(out, wireUser(u))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleListChats(c *gin.Context) {
	summaries, err := s.store.ListChatSummaries(c.Request.Context(), c.GetInt64(contextKeyUserID))
	if err != nil {
		s.log.Error().Err(err).Msg("list chats failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]*proto.Chat, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, wireChat(summary))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleCreateChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	ownerID := c.GetInt64(contextKeyUserID)
	ownerName := c.GetString(contextKeyUsername)

	chat, err := s.store.CreateChat(ctx, req.Name, ownerID, req.IsGroup)
	if err != nil {
		s.log.Error().Err(err).Msg("create chat failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	for _, username := range req.Participants {
		invited, err := s.store.GetUserByUsername(ctx, username)
		if err != nil {
			s.log.Warn().Str("username", username).Msg("skipping unknown participant")
			continue
		}
		if err := s.store.AddParticipant(ctx, chat.ID, invited.ID); err != nil {
			s.log.Error().Err(err).Msg("add participant failed")
			continue
		}

		summary, err := s.store.GetChatSummary(ctx, chat.ID, invited.ID)
		if err == nil {
			s.hub.notifyUser(invited.ID, proto.Event{
				Type:         proto.TypeChatCreated,
				Chat:         wireChat(summary),
				Notification: "You've been added to a new chat by " + ownerName,
			})
		}
	}

	summary, err := s.store.GetChatSummary(ctx, chat.ID, ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusCreated, wireChat(summary))
}

func (s *Server) handleGetChat(c *gin.Context) {
	chatID, userID, ok := s.chatAccess(c)
	if !ok {
		return
	}

	summary, err := s.store.GetChatSummary(c.Request.Context(), chatID, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "chat not found"})
		return
	}
	c.JSON(http.StatusOK, wireChat(summary))
}

func (s *Server) handleInvite(c *gin.Context) {
	chatID, _, ok := s.chatAccess(c)
	if !ok {
		return
	}

	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	invited, err := s.store.GetUserByUsername(ctx, req.Username)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	}
	if err := s.store.AddParticipant(ctx, chatID, invited.ID); err != nil {
		s.log.Error().Err(err).Msg("add participant failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if summary, err := s.store.GetChatSummary(ctx, chatID, invited.ID); err == nil {
		s.hub.notifyUser(invited.ID, proto.Event{
			Type:         proto.TypeChatInvite,
			Chat:         wireChat(summary),
			Notification: c.GetString(contextKeyUsername) + " added you to a chat",
		})
	}
	c.JSON(http.StatusOK, gin.H{"message": "user invited"})
}

func (s *Server) handleListMessages(c *gin.Context) {
	chatID, _, ok := s.chatAccess(c)
	if !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	msgs, err := s.store.ListMessages(c.Request.Context(), chatID, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list messages failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]*proto.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, wireMessage(m))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleListParticipants(c *gin.Context) {
	chatID, _, ok := s.chatAccess(c)
	if !ok {
		return
	}

	users, err := s.store.ListParticipants(c.Request.Context(), chatID)
	if err != nil {
		s.log.Error().Err(err).Msg("list participants failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]proto.User, 0, len(users))
	for _, u := range users {
		out = append(out, wireUser(u))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleMarkRead(c *gin.Context) {
	chatID, userID, ok := s.chatAccess(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := s.store.MarkRead(ctx, chatID, userID); err != nil {
		s.log.Error().Err(err).Msg("mark read failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if receipts, err := s.store.ReadReceipts(ctx, chatID); err == nil {
		s.hub.broadcast(chatID, proto.Event{
			Type:         proto.TypeReadReceiptsUpdated,
			ChatID:       chatID,
			ReadReceipts: wireReceipts(receipts),
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleReadReceipts(c *gin.Context) {
	chatID, _, ok := s.chatAccess(c)
	if !ok {
		return
	}

	receipts, err := s.store.ReadReceipts(c.Request.Context(), chatID)
	if err != nil {
		s.log.Error().Err(err).Msg("read receipts failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, wireReceipts(receipts))
}

// chatAccess parses the chat id parameter and enforces membership.
func (s *Server) chatAccess(c *gin.Context) (chatID, userID int64, ok bool) {
	chatID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || chatID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid chat id"})
		return 0, 0, false
	}
	userID = c.GetInt64(contextKeyUserID)

	member, err := s.store.IsParticipant(c.Request.Context(), chatID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "chat not found"})
			return 0, 0, false
		}
		s.log.Error().Err(err).Msg("participant check failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return 0, 0, false
	}
	if !member {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a participant"})
		return 0, 0, false
	}
	return chatID, userID, true
}

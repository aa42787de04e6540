// Package rest is a thin JSON client for the chat backend's HTTP API.
// It attaches the session's bearer token to every call once one is set.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coopchat/coopchat-client/internal/proto"
)

// Client talks to a single backend instance.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// APIError is a non-2xx response decoded from the backend.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Detail)
}

// NewClient builds a client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// SetToken installs the bearer token used for subsequent calls.
// An empty token reverts to unauthenticated requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token, empty when logged out.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// AuthResponse carries the token issued on login or registration.
type AuthResponse struct {
	Token string `json:"token"`
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register creates an account and returns its token.
func (c *Client) Register(ctx context.Context, username, password string) (string, error) {
	var resp AuthResponse
	err := c.do(ctx, http.MethodPost, "/api/register", credentials{Username: username, Password: password}, &resp)
	return resp.Token, err
}

// Login authenticates and returns a token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp AuthResponse
	err := c.do(ctx, http.MethodPost, "/api/login", credentials{Username: username, Password: password}, &resp)
	return resp.Token, err
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (proto.User, error) {
	var user proto.User
	err := c.do(ctx, http.MethodGet, "/api/me", nil, &user)
	return user, err
}

// SearchUsers finds users by username fragment.
func (c *Client) SearchUsers(ctx context.Context, query string, limit int) ([]proto.User, error) {
	var users []proto.User
	path := "/api/users/search?query=" + url.QueryEscape(query) + "&limit=" + strconv.Itoa(limit)
	err := c.do(ctx, http.MethodGet, path, nil, &users)
	return users, err
}

// ListChats returns every chat the user participates in, with
// server-computed unread counts and last message previews.
func (c *Client) ListChats(ctx context.Context) ([]proto.Chat, error) {
	var chats []proto.Chat
	err := c.do(ctx, http.MethodGet, "/api/chats", nil, &chats)
	return chats, err
}

// GetChat returns one chat's summary.
func (c *Client) GetChat(ctx context.Context, chatID int64) (proto.Chat, error) {
	var chat proto.Chat
	err := c.do(ctx, http.MethodGet, chatPath(chatID, ""), nil, &chat)
	return chat, err
}

// CreateChatRequest describes a new chat.
type CreateChatRequest struct {
	Name         *string  `json:"name,omitempty"`
	IsGroup      bool     `json:"is_group"`
	Participants []string `json:"participant_usernames,omitempty"`
}

// CreateChat creates a chat and returns its summary.
func (c *Client) CreateChat(ctx context.Context, req CreateChatRequest) (proto.Chat, error) {
	var chat proto.Chat
	err := c.do(ctx, http.MethodPost, "/api/chats", req, &chat)
	return chat, err
}

// InviteUser adds a user to a chat by username.
func (c *Client) InviteUser(ctx context.Context, chatID int64, username string) error {
	body := struct {
		Username string `json:"username"`
	}{Username: username}
	return c.do(ctx, http.MethodPost, chatPath(chatID, "invite"), body, nil)
}

// ListMessages returns up to limit recent messages of a chat, oldest
// first.
func (c *Client) ListMessages(ctx context.Context, chatID int64, limit int) ([]proto.Message, error) {
	var msgs []proto.Message
	path := chatPath(chatID, "messages") + "?limit=" + strconv.Itoa(limit)
	err := c.do(ctx, http.MethodGet, path, nil, &msgs)
	return msgs, err
}

// ListParticipants returns the members of a chat.
func (c *Client) ListParticipants(ctx context.Context, chatID int64) ([]proto.User, error) {
	var users []proto.User
	err := c.do(ctx, http.MethodGet, chatPath(chatID, "participants"), nil, &users)
	return users, err
}

// MarkRead moves the user's read watermark to the newest message.
func (c *Client) MarkRead(ctx context.Context, chatID int64) error {
	return c.do(ctx, http.MethodPost, chatPath(chatID, "mark-read"), nil, nil)
}

// ReadReceipts returns who has read which message in a chat.
func (c *Client) ReadReceipts(ctx context.Context, chatID int64) (map[int64][]proto.ReadReceipt, error) {
	receipts := make(map[int64][]proto.ReadReceipt)
	err := c.do(ctx, http.MethodGet, chatPath(chatID, "read-receipts"), nil, &receipts)
	return receipts, err
}

func chatPath(chatID int64, suffix string) string {
	p := "/api/chats/" + strconv.FormatInt(chatID, 10)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Detail: resp.Status}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		apiErr.Detail = body.Error
	}
	return apiErr
}

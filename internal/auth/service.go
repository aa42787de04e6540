// Package auth provides password hashing and JWT issuance for the
// bundled development server.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coopchat/coopchat-client/internal/store"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// UserStore is the subset of the store the auth service needs.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error)
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
}

// Service registers and authenticates users.
type Service struct {
	users UserStore
	jwt   *JWTConfig
}

// NewService builds an auth service.
func NewService(users UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{users: users, jwt: jwtConfig}
}

// Register creates a user and returns a token for it.
func (s *Service) Register(ctx context.Context, username, password string) (string, error) {
	if existing, err := s.users.GetUserByUsername(ctx, username); err == nil && existing != nil {
		return "", ErrUserExists
	}

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, username, hash)
	if err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}

	return GenerateToken(s.jwt, user.ID, user.Username)
}

// Login verifies credentials and returns a token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("lookup user: %w", err)
	}
	if !CheckPassword(user.PasswordHash, password) {
		return "", ErrInvalidCredentials
	}

	return GenerateToken(s.jwt, user.ID, user.Username)
}

// ValidateToken validates a bearer token and returns its claims.
func (s *Service) ValidateToken(token string) (*Claims, error) {
	return ValidateToken(s.jwt, token)
}

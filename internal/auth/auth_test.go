package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coopchat/coopchat-client/internal/store"
)

type memUsers struct {
	byName map[string]*store.User
	nextID int64
}

func newMemUsers() *memUsers {
	return &memUsers{byName: make(map[string]*store.User), nextID: 1}
}

func (m *memUsers) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	u := &store.User{ID: m.nextID, Username: username, PasswordHash: passwordHash, CreatedAt: time.Now()}
	m.nextID++
	m.byName[username] = u
	return u, nil
}

func (m *memUsers) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	u, ok := m.byName[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func testConfig() *JWTConfig {
	return &JWTConfig{Secret: []byte("test-secret"), Issuer: "test", TTL: time.Hour}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "s3cret" {
		t.Fatalf("password stored in plaintext")
	}
	if !CheckPassword(hash, "s3cret") {
		t.Fatalf("correct password rejected")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatalf("wrong password accepted")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	cfg := testConfig()
	token, err := GenerateToken(cfg, 7, "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ValidateToken(cfg, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != 7 || claims.Username != "alice" {
		t.Fatalf("claims: %+v", claims)
	}
}

func TestTokenRejectedWithWrongSecret(t *testing.T) {
	token, err := GenerateToken(testConfig(), 7, "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	other := &JWTConfig{Secret: []byte("other-secret"), Issuer: "test", TTL: time.Hour}
	if _, err := ValidateToken(other, token); err == nil {
		t.Fatalf("token signed with a different secret must fail")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	cfg := &JWTConfig{Secret: []byte("test-secret"), Issuer: "test", TTL: -time.Minute}
	token, err := GenerateToken(cfg, 7, "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ValidateToken(cfg, token); err == nil {
		t.Fatalf("expired token must fail validation")
	}
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemUsers(), testConfig())

	token, err := svc.Register(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	claims, err := svc.ValidateToken(token)
	if err != nil || claims.Username != "alice" {
		t.Fatalf("claims: %+v, %v", claims, err)
	}

	if _, err := svc.Register(ctx, "alice", "other"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate register: %v", err)
	}

	if _, err := svc.Login(ctx, "alice", "s3cret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", err)
	}
	if _, err := svc.Login(ctx, "nobody", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: %v", err)
	}
}

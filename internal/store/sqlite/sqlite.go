// Package sqlite implements store.Store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/coopchat/coopchat-client/internal/store"
)

const botUsername = "AI Assistant"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chats (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT,
	owner_id   INTEGER NOT NULL REFERENCES users(id),
	is_group   BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chat_participants (
	chat_id   INTEGER NOT NULL REFERENCES chats(id),
	user_id   INTEGER NOT NULL REFERENCES users(id),
	joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (chat_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id    INTEGER NOT NULL REFERENCES chats(id),
	user_id    INTEGER REFERENCES users(id),
	content    TEXT NOT NULL,
	is_bot     BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id);

CREATE TABLE IF NOT EXISTS chat_reads (
	chat_id              INTEGER NOT NULL REFERENCES chats(id),
	user_id              INTEGER NOT NULL REFERENCES users(id),
	last_read_message_id INTEGER NOT NULL DEFAULT 0,
	read_at              DATETIME NOT NULL,
	PRIMARY KEY (chat_id, user_id)
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== users ====

func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash) VALUES (?, ?)`,
		username, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}
	return s.GetUserByID(ctx, id)
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE id = ?`, id))
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) SearchUsers(ctx context.Context, query string, limit int) ([]*store.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, password_hash, created_at
		 FROM users
		 WHERE username LIKE ?
		 ORDER BY username
		 LIMIT ?`,
		"%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	users := []*store.User{}
	for rows.Next() {
		var u store.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

// ==== chats ====

func (s *SQLiteStore) CreateChat(ctx context.Context, name *string, ownerID int64, isGroup bool) (*store.Chat, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (name, owner_id, is_group) VALUES (?, ?, ?)`,
		name, ownerID, isGroup)
	if err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}
	if err := s.AddParticipant(ctx, id, ownerID); err != nil {
		return nil, err
	}
	return s.GetChat(ctx, id)
}

func (s *SQLiteStore) GetChat(ctx context.Context, id int64) (*store.Chat, error) {
	var c store.Chat
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, is_group, created_at FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.OwnerID, &c.IsGroup, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat: %w", err)
	}
	return &c, nil
}

const summaryQuery = `
SELECT c.id, c.name, c.owner_id, c.is_group, c.created_at,
	(SELECT m.content FROM messages m WHERE m.chat_id = c.id ORDER BY m.id DESC LIMIT 1),
	(SELECT m.created_at FROM messages m WHERE m.chat_id = c.id ORDER BY m.id DESC LIMIT 1),
	(SELECT COUNT(*) FROM messages m
	 WHERE m.chat_id = c.id
	   AND m.id > COALESCE((SELECT r.last_read_message_id FROM chat_reads r
	                        WHERE r.chat_id = c.id AND r.user_id = ?1), 0)
	   AND (m.user_id IS NULL OR m.user_id != ?1))
FROM chats c
JOIN chat_participants p ON p.chat_id = c.id
WHERE p.user_id = ?1`

func (s *SQLiteStore) ListChatSummaries(ctx context.Context, userID int64) ([]*store.ChatSummary, error) {
	rows, err := s.db.QueryContext(ctx, summaryQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("list chat summaries: %w", err)
	}
	defer rows.Close()

	summaries := []*store.ChatSummary{}
	for rows.Next() {
		summary, err := scanSummary(rows.Scan)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

func (s *SQLiteStore) GetChatSummary(ctx context.Context, chatID, userID int64) (*store.ChatSummary, error) {
	row := s.db.QueryRowContext(ctx, summaryQuery+` AND c.id = ?2`, userID, chatID)
	summary, err := scanSummary(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return summary, nil
}

func scanSummary(scan func(...any) error) (*store.ChatSummary, error) {
	var (
		summary  store.ChatSummary
		lastMsg  sql.NullString
		lastTime sql.NullTime
	)
	err := scan(&summary.ID, &summary.Name, &summary.OwnerID, &summary.IsGroup,
		&summary.CreatedAt, &lastMsg, &lastTime, &summary.UnreadCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan chat summary: %w", err)
	}
	if lastMsg.Valid {
		summary.LastMessage = &lastMsg.String
	}
	if lastTime.Valid {
		summary.LastMessageTime = &lastTime.Time
	}
	return &summary, nil
}

func (s *SQLiteStore) AddParticipant(ctx context.Context, chatID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chat_participants (chat_id, user_id) VALUES (?, ?)`,
		chatID, userID)
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IsParticipant(ctx context.Context, chatID, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM chat_participants WHERE chat_id = ? AND user_id = ?`,
		chatID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) ListParticipants(ctx context.Context, chatID int64) ([]*store.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.username, u.password_hash, u.created_at
		 FROM users u
		 JOIN chat_participants p ON p.user_id = u.id
		 WHERE p.chat_id = ?
		 ORDER BY u.username`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	users := []*store.User{}
	for rows.Next() {
		var u store.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

// ==== messages ====

func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	msg.CreatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (chat_id, user_id, content, is_bot, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.ChatID, msg.UserID, msg.Content, msg.IsBot, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	msg.ID = id
	if msg.IsBot {
		msg.Username = botUsername
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, chatID int64, limit int) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.chat_id, m.user_id, m.content, m.is_bot, m.created_at,
		        COALESCE(u.username, ?)
		 FROM messages m
		 LEFT JOIN users u ON u.id = m.user_id
		 WHERE m.chat_id = ?
		 ORDER BY m.id DESC
		 LIMIT ?`,
		botUsername, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	msgs := []*store.Message{}
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &m.Content, &m.IsBot,
			&m.CreatedAt, &m.Username); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest N selected; present oldest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, id int64, content string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ? WHERE id = ?`, content, id)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}

// ==== read receipts ====

func (s *SQLiteStore) MarkRead(ctx context.Context, chatID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_reads (chat_id, user_id, last_read_message_id, read_at)
		 VALUES (?1, ?2, COALESCE((SELECT MAX(id) FROM messages WHERE chat_id = ?1), 0), ?3)
		 ON CONFLICT (chat_id, user_id) DO UPDATE SET
		   last_read_message_id = excluded.last_read_message_id,
		   read_at = excluded.read_at`,
		chatID, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReadReceipts(ctx context.Context, chatID int64) (map[int64][]store.ReadReceipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, r.user_id, u.username, r.read_at
		 FROM chat_reads r
		 JOIN users u ON u.id = r.user_id
		 JOIN messages m ON m.chat_id = r.chat_id AND m.id <= r.last_read_message_id
		 WHERE r.chat_id = ?
		 ORDER BY m.id, r.user_id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("read receipts: %w", err)
	}
	defer rows.Close()

	receipts := make(map[int64][]store.ReadReceipt)
	for rows.Next() {
		var (
			messageID int64
			receipt   store.ReadReceipt
		)
		if err := rows.Scan(&messageID, &receipt.UserID, &receipt.Username, &receipt.ReadAt); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		receipts[messageID] = append(receipts[messageID], receipt)
	}
	return receipts, rows.Err()
}

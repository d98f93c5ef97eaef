package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/relaychat/internal/errs"
	"github.com/vovakirdan/relaychat/internal/store"
)

// migrations are applied in order; PRAGMA user_version tracks how many ran.
var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS messages (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  sender      TEXT NOT NULL CHECK(sender <> ''),
  receiver    TEXT NOT NULL CHECK(receiver <> ''),
  content     TEXT NOT NULL CHECK(content <> ''),
  created_at  INTEGER NOT NULL,
  is_read     INTEGER NOT NULL DEFAULT 0,
  read_at     INTEGER,
  CHECK ((is_read = 0 AND read_at IS NULL) OR (is_read = 1 AND read_at IS NOT NULL))
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_pair
ON messages (sender, receiver, id DESC);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_unread
ON messages (receiver, is_read, id);
`,
}

// SQLiteStore implements store.MessageStore for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.MessageStore = (*SQLiteStore)(nil)

// New opens (or creates) the SQLite database at dbPath and applies migrations.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection; it also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.applyMigrations(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}
	return nil
}

const messageColumns = `id, sender, receiver, content, created_at, is_read, read_at`

// CreateMessage persists a new unread message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, sender, receiver, content string) (*store.Message, error) {
	if err := store.ValidateNew(sender, receiver, content); err != nil {
		return nil, err
	}

	createdAt := s.now().UTC().Truncate(time.Millisecond)
	query := `
		INSERT INTO messages (sender, receiver, content, created_at, is_read)
		VALUES (?, ?, ?, ?, 0)
	`
	result, err := s.db.ExecContext(ctx, query, sender, receiver, content, createdAt.UnixMilli())
	if err != nil {
		return nil, errs.Store("insert message", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, errs.Store("get last insert id", err)
	}

	return &store.Message{
		ID:        id,
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		CreatedAt: createdAt,
	}, nil
}

// MarkRead flags a message as read, keeping the first read timestamp.
func (s *SQLiteStore) MarkRead(ctx context.Context, id int64) (*store.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Store("begin mark read", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	readAt := s.now().UTC().UnixMilli()
	result, err := tx.ExecContext(ctx, `
		UPDATE messages
		SET is_read = 1, read_at = COALESCE(read_at, ?)
		WHERE id = ?
	`, readAt, id)
	if err != nil {
		return nil, errs.Store("update message", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, errs.Store("rows affected", err)
	}
	if affected == 0 {
		return nil, &errs.NotFoundError{MessageID: id}
	}

	msg, err := scanMessage(tx.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err != nil {
		return nil, errs.Store("query message", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.Store("commit mark read", err)
	}
	return msg, nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*store.Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &errs.NotFoundError{MessageID: id}
		}
		return nil, errs.Store("query message", err)
	}
	return msg, nil
}

// ListConversation retrieves messages between two users, newest first.
func (s *SQLiteStore) ListConversation(ctx context.Context, userA, userB string, limit int, beforeID *int64) ([]*store.Message, error) {
	limit = store.NormalizeLimit(limit)

	var query string
	var args []any

	if beforeID != nil {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE ((sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)) AND id < ?
			ORDER BY id DESC
			LIMIT ?
		`
		args = []any{userA, userB, userB, userA, *beforeID, limit}
	} else {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)
			ORDER BY id DESC
			LIMIT ?
		`
		args = []any{userA, userB, userB, userA, limit}
	}

	return s.queryMessages(ctx, query, args...)
}

// ListUnread retrieves unread messages addressed to receiver, oldest first.
func (s *SQLiteStore) ListUnread(ctx context.Context, receiver string, limit int) ([]*store.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE receiver = ? AND is_read = 0
		ORDER BY id ASC
		LIMIT ?
	`
	return s.queryMessages(ctx, query, receiver, store.NormalizeLimit(limit))
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Store("query messages", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, errs.Store("scan message", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Store("iterate messages", err)
	}
	return messages, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*store.Message, error) {
	var (
		msg       store.Message
		createdAt int64
		isRead    int
		readAt    sql.NullInt64
	)
	if err := row.Scan(
		&msg.ID,
		&msg.Sender,
		&msg.Receiver,
		&msg.Content,
		&createdAt,
		&isRead,
		&readAt,
	); err != nil {
		return nil, err
	}

	msg.CreatedAt = time.UnixMilli(createdAt).UTC()
	msg.IsRead = isRead == 1
	if readAt.Valid {
		t := time.UnixMilli(readAt.Int64).UTC()
		msg.ReadAt = &t
	}
	return &msg, nil
}

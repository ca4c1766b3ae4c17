package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"github.com/parley-ai/parley/internal/domain"
)

const createConversationsTable = `CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);`

// SQLiteStore persists conversations in a SQLite database. Each conversation
// is stored as its JSON snapshot alongside denormalized status and timestamp
// columns used for filtering and ordering.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_busy_timeout=10000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if _, err := db.Exec(createConversationsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*domain.Conversation, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM conversations WHERE id = ?;`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{ConversationID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite select: %w", err)
	}
	return decodeConversation([]byte(doc))
}

func (s *SQLiteStore) Save(ctx context.Context, c *domain.Conversation) error {
	snap := c.Snapshot()
	doc, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO conversations (id, status, data, created_at, updated_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status, data=excluded.data, updated_at=excluded.updated_at;`,
		snap.ID, snap.Status, string(doc), snap.CreatedAt, snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite upsert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &domain.NotFoundError{ConversationID: id}
	}
	return nil
}

func (s *SQLiteStore) FindAll(ctx context.Context, filter Filter) ([]*domain.Conversation, error) {
	query := `SELECT data FROM conversations`
	args := []any{}
	if filter.Status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*filter.Status))
	}
	query += ` ORDER BY updated_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += ` LIMIT -1`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query+";", args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite select: %w", err)
	}
	defer rows.Close()

	var conversations []*domain.Conversation
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		c, err := decodeConversation([]byte(doc))
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

func (s *SQLiteStore) FindActive(ctx context.Context) ([]*domain.Conversation, error) {
	active := domain.StatusActive
	return s.FindAll(ctx, Filter{Status: &active})
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite count: %w", err)
	}
	return n, nil
}

// Package sqlite provides a ContextStore and a TimerStore on SQLite.
//
// The stores expect an *sql.DB using a SQLite driver; Open uses the pure-Go
// "modernc.org/sqlite" driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/listiago/atendechat/pkg/domain"
)

// Open opens a SQLite database at path (":memory:" is allowed).
// Writers are serialized on a single connection, which also keeps an in-memory
// database alive for the lifetime of db.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ContextStore is a ports.ContextStore backed by SQLite.
// The context is stored as JSON; status and tenant are kept in columns for queries.
type ContextStore struct {
	db *sql.DB
}

// NewContextStore initializes the schema in db and returns a store.
func NewContextStore(db *sql.DB) (*ContextStore, error) {
	s := &ContextStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ContextStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS execution_contexts (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			status TEXT NOT NULL,
			archived INTEGER NOT NULL DEFAULT 0,
			data BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	)
	return err
}

func (s *ContextStore) Save(ctx context.Context, ec *domain.ExecutionContext) error {
	data, err := json.Marshal(ec)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_contexts (id, tenant_id, status, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			status = excluded.status,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		ec.ID,
		ec.TenantID,
		string(ec.Status),
		data,
		ec.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *ContextStore) Load(ctx context.Context, contextID string) (*domain.ExecutionContext, error) {
	var data []byte
	row := s.db.QueryRowContext(ctx, `SELECT data FROM execution_contexts WHERE id = ?`, contextID)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrContextNotFound
		}
		return nil, err
	}

	var ec domain.ExecutionContext
	if err := json.Unmarshal(data, &ec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context %s: %w", contextID, err)
	}
	if ec.Variables == nil {
		ec.Variables = make(map[string]any)
	}
	return &ec, nil
}

func (s *ContextStore) Delete(ctx context.Context, contextID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM execution_contexts WHERE id = ?`, contextID)
	return err
}

func (s *ContextStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM execution_contexts WHERE archived = 0 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *ContextStore) Archive(ctx context.Context, contextID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE execution_contexts SET archived = 1 WHERE id = ?`, contextID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrContextNotFound
	}
	return nil
}

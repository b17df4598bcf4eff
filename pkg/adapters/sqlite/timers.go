package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/listiago/atendechat/pkg/domain"
)

// TimerStore is a ports.TimerStore backed by SQLite.
// Deadlines are stored as Unix nanoseconds; a claim is a DELETE that affected one row.
type TimerStore struct {
	db *sql.DB
}

// NewTimerStore initializes the timers table in db and returns a store.
func NewTimerStore(db *sql.DB) (*TimerStore, error) {
	s := &TimerStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TimerStore) initSchema() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS timers (
			id TEXT PRIMARY KEY,
			context_id TEXT NOT NULL,
			deadline INTEGER NOT NULL,
			tag TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
	); err != nil {
		return err
	}
	_, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS timers_deadline ON timers (deadline, id);`)
	return err
}

func (s *TimerStore) Put(ctx context.Context, timer domain.Timer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO timers (id, context_id, deadline, tag, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			context_id = excluded.context_id,
			deadline = excluded.deadline,
			tag = excluded.tag`,
		timer.ID,
		timer.ContextID,
		timer.Deadline.UnixNano(),
		string(timer.Tag),
		timer.CreatedAt.UnixNano(),
	)
	return err
}

func (s *TimerStore) Delete(ctx context.Context, timerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM timers WHERE id = ?`, timerID)
	return err
}

func (s *TimerStore) Claim(ctx context.Context, timerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM timers WHERE id = ?`, timerID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *TimerStore) Due(ctx context.Context, now time.Time, limit int) ([]domain.Timer, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, context_id, deadline, tag, created_at
		FROM timers
		WHERE deadline <= ?
		ORDER BY deadline, id
		LIMIT ?`, now.UnixNano(), limit)
	if err != nil {
		return nil, err
	}
	return scanTimers(rows)
}

func (s *TimerStore) All(ctx context.Context) ([]domain.Timer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, context_id, deadline, tag, created_at
		FROM timers
		ORDER BY deadline, id`)
	if err != nil {
		return nil, err
	}
	return scanTimers(rows)
}

func scanTimers(rows *sql.Rows) ([]domain.Timer, error) {
	defer rows.Close()

	var timers []domain.Timer
	for rows.Next() {
		var (
			t         domain.Timer
			tag       string
			deadline  int64
			createdAt int64
		)
		if err := rows.Scan(&t.ID, &t.ContextID, &deadline, &tag, &createdAt); err != nil {
			return nil, err
		}
		t.Tag = domain.WaitKind(tag)
		t.Deadline = time.Unix(0, deadline).UTC()
		t.CreatedAt = time.Unix(0, createdAt).UTC()
		timers = append(timers, t)
	}
	return timers, rows.Err()
}

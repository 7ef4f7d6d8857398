// Package sqlite stores the saga log in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vasiliy-maslov/bookstore-microservices/internal/sagalog"
)

const schema = `
CREATE TABLE IF NOT EXISTS saga_logs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    saga_id     TEXT NOT NULL,
    order_id    TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    step        TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_saga_logs_saga_id ON saga_logs(saga_id, id);
CREATE INDEX IF NOT EXISTS idx_saga_logs_order_id ON saga_logs(order_id);
`

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

type Repository struct {
	db *sql.DB
}

// Open opens or creates the database at path. WAL lets the status endpoint
// read while a checkout writes.
func Open(path string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Save(ctx context.Context, entry *sagalog.Entry) error {
	const q = `
		INSERT INTO saga_logs (saga_id, order_id, status, step, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, q,
		entry.SagaID,
		entry.OrderID,
		string(entry.Status),
		entry.Step,
		entry.Error,
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save saga log for %q: %w", entry.SagaID, err)
	}
	return nil
}

func (r *Repository) ListByOrderID(ctx context.Context, orderID string) ([]sagalog.Entry, error) {
	const q = `
		SELECT saga_id, order_id, status, step, error, created_at
		FROM   saga_logs
		WHERE  saga_id IN (SELECT saga_id FROM saga_logs WHERE order_id = ?)
		ORDER  BY id`

	rows, err := r.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list saga logs for order %q: %w", orderID, err)
	}
	defer rows.Close()

	var entries []sagalog.Entry
	for rows.Next() {
		var (
			entry     sagalog.Entry
			status    string
			createdAt string
		)
		if err := rows.Scan(&entry.SagaID, &entry.OrderID, &status, &entry.Step, &entry.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan saga log: %w", err)
		}
		entry.Status = sagalog.Status(status)
		entry.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse time %q: %w", createdAt, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate saga logs: %w", err)
	}

	return entries, nil
}

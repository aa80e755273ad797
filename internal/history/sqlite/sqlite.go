// Package sqlite persists supervisor lifecycle events to a local SQLite
// file. It is the default sink for single-machine deployments where the
// history should survive daemon restarts without any external service.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"rembgd/internal/history"
)

const schema = `CREATE TABLE IF NOT EXISTS supervisor_history(
	timestamp TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
	phase TEXT NOT NULL,
	port INTEGER NOT NULL,
	pid INTEGER NOT NULL,
	detail TEXT
);`

const insertStmt = `INSERT INTO supervisor_history(timestamp, phase, port, pid, detail)
	VALUES(?, ?, ?, ?, ?);`

// Sink appends lifecycle events to the supervisor_history table.
type Sink struct {
	db *sql.DB
}

// New opens (creating if needed) the database named by dsn and ensures the
// history table exists. Accepted forms are a bare file path, ":memory:", or
// either of those behind a "sqlite://" prefix.
func New(dsn string) (*Sink, error) {
	target, err := normalize(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", target)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Sink{db: db}, nil
}

func normalize(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}
	if dsn == "" {
		return "", errors.New("empty SQLite DSN")
	}
	return dsn, nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	rec := e.Record
	_, err := s.db.ExecContext(ctx, insertStmt,
		e.OccurredAt.UTC(), rec.Phase, rec.Port, rec.PID, rec.Detail)
	return err
}

func (s *Sink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

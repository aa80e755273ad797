package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"rembgd/internal/history"
)

func TestSendPersistsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	defer func() { _ = s.Close() }()

	events := []history.Event{
		{OccurredAt: time.Now().UTC(), Record: history.Record{Phase: "launching", Port: 0, PID: 0}},
		{OccurredAt: time.Now().UTC(), Record: history.Record{Phase: "ready", Port: 55001, PID: 4242}},
		{OccurredAt: time.Now().UTC(), Record: history.Record{Phase: "crashed", Port: 0, PID: 0, Detail: "helper unhealthy"}},
	}
	for _, e := range events {
		if err := s.Send(context.Background(), e); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM supervisor_history`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != len(events) {
		t.Fatalf("rows: got %d want %d", count, len(events))
	}

	var phase, detail string
	var port, pid int
	err = s.db.QueryRow(`SELECT phase, port, pid, COALESCE(detail, '') FROM supervisor_history WHERE phase = 'ready'`).
		Scan(&phase, &port, &pid, &detail)
	if err != nil {
		t.Fatalf("query ready row: %v", err)
	}
	if port != 55001 || pid != 4242 {
		t.Fatalf("ready row mismatch: port=%d pid=%d", port, pid)
	}
}

func TestSqliteURIPrefix(t *testing.T) {
	s, err := New("sqlite://:memory:")
	if err != nil {
		t.Fatalf("open in-memory sink: %v", err)
	}
	defer func() { _ = s.Close() }()

	if err := s.Send(context.Background(), history.Event{
		OccurredAt: time.Now().UTC(),
		Record:     history.Record{Phase: "stopped"},
	}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestEmptyDSNRejected(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}

func TestCloseTwice(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// database/sql tolerates double close
	if err := s.Close(); err != nil && err != sql.ErrConnDone {
		t.Logf("second close: %v", err)
	}
}

package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/lokivisor/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	now := time.Now().UTC()
	events := []history.Event{
		{Type: history.EventStart, OccurredAt: now, Record: history.Record{Name: "lokinet", PID: 100, Status: "starting"}},
		{Type: history.EventManagedStop, OccurredAt: now.Add(time.Second), Record: history.Record{Name: "lokinet", PID: 100, Status: "stopping"}},
		{Type: history.EventEscalate, OccurredAt: now.Add(2 * time.Second), Record: history.Record{Name: "lokinet", PID: 100, Status: "stopping", Error: "still alive after grace window"}},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s event: %v", e.Type, err)
		}
	}

	var count int
	if err := sink.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lifecycle_history WHERE name = ?`, "lokinet").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != len(events) {
		t.Fatalf("expected %d rows, got %d", len(events), count)
	}

	var errText sql.NullString
	if err := sink.db.QueryRowContext(ctx, `SELECT error FROM lifecycle_history WHERE event = ?`, string(history.EventEscalate)).Scan(&errText); err != nil {
		t.Fatalf("select escalate: %v", err)
	}
	if !errText.Valid || errText.String == "" {
		t.Fatalf("expected error text on escalate row")
	}
	if err := sink.db.QueryRowContext(ctx, `SELECT error FROM lifecycle_history WHERE event = ?`, string(history.EventStart)).Scan(&errText); err != nil {
		t.Fatalf("select start: %v", err)
	}
	if errText.Valid {
		t.Fatalf("expected NULL error on start row, got %q", errText.String)
	}
}

func TestSQLiteSink_Memory(t *testing.T) {
	sink, err := New("sqlite://:memory:")
	if err != nil {
		t.Fatalf("memory sink: %v", err)
	}
	defer func() { _ = sink.Close() }()
	if err := sink.Send(context.Background(), history.Event{Type: history.EventStop, OccurredAt: time.Now(), Record: history.Record{Name: "x", Status: "stopping"}}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}

package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/keybind/dbopen"
	"github.com/hazyhaar/keybind/kit"
)

func setup(t *testing.T) (*sql.DB, *SQLiteLogger) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	l := NewSQLiteLogger(db)
	if err := l.Init(); err != nil {
		t.Fatal(err)
	}
	return db, l
}

func TestLogFillsDefaults(t *testing.T) {
	db, l := setup(t)
	defer l.Close()

	e := &Entry{Action: "save", Parameters: `{"host":"example.com"}`}
	if err := l.Log(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	if e.EntryID == "" || e.Timestamp == 0 {
		t.Errorf("defaults not filled: %+v", e)
	}
	if e.Status != "success" || e.Transport != "http" {
		t.Errorf("got status %q transport %q", e.Status, e.Transport)
	}

	var action string
	db.QueryRow(`SELECT action FROM audit_log WHERE entry_id = ?`, e.EntryID).Scan(&action)
	if action != "save" {
		t.Errorf("db action: got %q", action)
	}

	failed := &Entry{Action: "delete", Error: "no binding"}
	l.Log(context.Background(), failed)
	if failed.Status != "error" {
		t.Errorf("status for error entry: got %q", failed.Status)
	}
}

func TestLogAsyncFlushedOnClose(t *testing.T) {
	db, l := setup(t)
	for i := 0; i < 50; i++ {
		l.LogAsync(&Entry{Action: "reset"})
	}
	l.Close()

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM audit_log WHERE action = 'reset'`).Scan(&n)
	if n != 50 {
		t.Errorf("got %d entries, want 50", n)
	}
}

func TestMiddleware(t *testing.T) {
	_, l := setup(t)

	errFail := errors.New("store down")
	ok := Middleware(l, "save")(func(context.Context, any) (any, error) { return "done", nil })
	bad := Middleware(l, "delete")(func(context.Context, any) (any, error) { return nil, errFail })

	ctx := kit.WithTransport(context.Background(), "mcp_quic")
	ctx = kit.WithSessionID(ctx, "quic_abc")
	if resp, err := ok(ctx, map[string]string{"host": "example.com"}); err != nil || resp != "done" {
		t.Fatalf("ok endpoint: %v %v", resp, err)
	}
	if _, err := bad(context.Background(), map[string]string{"host": "other.org", "key": "g"}); !errors.Is(err, errFail) {
		t.Fatalf("error not passed through: %v", err)
	}
	l.Close()

	entries, err := l.Recent(context.Background(), Filter{Host: "example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries for example.com, want 1", len(entries))
	}
	e := entries[0]
	if e.Action != "save" || e.Transport != "mcp_quic" || e.SessionID != "quic_abc" || e.Status != "success" {
		t.Errorf("entry: %+v", e)
	}

	entries, _ = l.Recent(context.Background(), Filter{Action: "delete"})
	if len(entries) != 1 || entries[0].Error != "store down" || entries[0].Status != "error" {
		t.Errorf("delete entries: %+v", entries)
	}
}

func TestRecentLimit(t *testing.T) {
	_, l := setup(t)
	defer l.Close()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		l.Log(ctx, &Entry{Action: "capture", Timestamp: int64(i + 1)})
	}
	entries, err := l.Recent(ctx, Filter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Timestamp != 5 {
		t.Errorf("got %+v", entries)
	}
}

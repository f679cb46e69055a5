// Package trace registers "sqlite-trace", a modernc.org/sqlite driver that
// logs every statement through slog. It is how `--log-level debug` shows the
// store traffic of both contexts:
//
//	import _ "github.com/hazyhaar/keybind/trace"
//	kv, err := store.OpenSQLite(path, dbopen.WithDriver(trace.DriverName))
//
// Statements are logged at Debug, slow ones (SlowThreshold) at Warn and
// failures at Error, with the request and session IDs found in the context.
package trace

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	sqlite "modernc.org/sqlite"

	"github.com/hazyhaar/keybind/kit"
)

// DriverName is the registered database/sql driver name.
const DriverName = "sqlite-trace"

// SlowThreshold raises a statement to Warn.
const SlowThreshold = 100 * time.Millisecond

var logger atomic.Pointer[slog.Logger]

// SetLogger sets where statements are logged. nil restores slog.Default().
func SetLogger(l *slog.Logger) {
	logger.Store(l)
}

func getLogger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

func init() {
	sql.Register(DriverName, &Driver{Driver: &sqlite.Driver{}})
}

// Driver wraps another driver and logs every statement.
type Driver struct {
	driver.Driver
}

// Open implements driver.Driver.
func (d *Driver) Open(name string) (driver.Conn, error) {
	conn, err := d.Driver.Open(name)
	if err != nil {
		return nil, err
	}
	return &conn_{Conn: conn}, nil
}

type conn_ struct {
	driver.Conn
}

func (c *conn_) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// PrepareContext logs statements that fail to compile; the rest are logged
// when they run.
func (c *conn_) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var stmt driver.Stmt
	var err error
	if pc, ok := c.Conn.(driver.ConnPrepareContext); ok {
		stmt, err = pc.PrepareContext(ctx, query)
	} else {
		stmt, err = c.Conn.Prepare(query)
	}
	if err != nil {
		(&stmt_{query: query}).record(ctx, "prepare", 0, err)
		return nil, err
	}
	return &stmt_{Stmt: stmt, query: query}, nil
}

func (c *conn_) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if bt, ok := c.Conn.(driver.ConnBeginTx); ok {
		return bt.BeginTx(ctx, opts)
	}
	return c.Conn.Begin() //nolint:staticcheck // fallback for drivers without BeginTx
}

type stmt_ struct {
	driver.Stmt
	query string
}

func (s *stmt_) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	var res driver.Result
	var err error
	if ec, ok := s.Stmt.(driver.StmtExecContext); ok {
		res, err = ec.ExecContext(ctx, args)
	} else {
		res, err = s.Stmt.Exec(values(args)) //nolint:staticcheck
	}
	s.record(ctx, "exec", time.Since(start), err)
	return res, err
}

func (s *stmt_) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	start := time.Now()
	var rows driver.Rows
	var err error
	if qc, ok := s.Stmt.(driver.StmtQueryContext); ok {
		rows, err = qc.QueryContext(ctx, args)
	} else {
		rows, err = s.Stmt.Query(values(args)) //nolint:staticcheck
	}
	s.record(ctx, "query", time.Since(start), err)
	return rows, err
}

// quiet reports statements polled on a timer: pragmas and the change
// detector's MAX(updated_at).
func quiet(query string) bool {
	q := strings.TrimSpace(query)
	return strings.HasPrefix(q, "PRAGMA ") || strings.Contains(q, "MAX(")
}

func (s *stmt_) record(ctx context.Context, op string, d time.Duration, err error) {
	if err == nil && d < 10*time.Millisecond && quiet(s.query) {
		return
	}
	level := slog.LevelDebug
	switch {
	case err != nil:
		level = slog.LevelError
	case d > SlowThreshold:
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("op", op),
		slog.String("query", compact(s.query)),
		slog.Duration("duration", d),
	}
	if id := kit.GetRequestID(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	if id := kit.GetSessionID(ctx); id != "" {
		attrs = append(attrs, slog.String("session", id))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	getLogger().LogAttrs(ctx, level, "trace: sql", attrs...)
}

// compact folds whitespace so multi-line statements stay on one log line.
func compact(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

func values(named []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(named))
	for i, nv := range named {
		out[i] = nv.Value
	}
	return out
}

package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/BrandonDHaskell/Argus/server/internal/db"
)

// openTestDB returns an in-memory SQLite connection with the same PRAGMAs
// and schema as production. The connection is closed automatically when the
// test finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Each test gets its own shared-cache in-memory database, which stays
	// alive for the lifetime of the pool.
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		name,
	)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("openTestDB: sql.Open: %v", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: ping: %v", err)
	}

	if err := db.Migrate(context.Background(), conn); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestWriter returns a db.Worker backed by conn, closed when the test
// finishes.
func newTestWriter(t *testing.T, conn *sql.DB) *db.Worker {
	t.Helper()

	w := db.NewWorker(conn)
	t.Cleanup(func() { w.Close() })
	return w
}

// seedSession inserts an assessment (if missing) and an in-progress session.
func seedSession(t *testing.T, conn *sql.DB, sessionID, studentID, assessmentID string) {
	t.Helper()
	nowMs := time.Now().UTC().UnixMilli()
	ctx := context.Background()

	if _, err := conn.ExecContext(ctx, `
INSERT OR IGNORE INTO assessments(assessment_id, title, created_at_ms)
VALUES (?, 'Test', ?);`, assessmentID, nowMs); err != nil {
		t.Fatalf("seed assessment %s: %v", assessmentID, err)
	}
	if _, err := conn.ExecContext(ctx, `
INSERT INTO exam_sessions(session_id, student_id, assessment_id, status, started_at_ms)
VALUES (?, ?, ?, 'IN_PROGRESS', ?);`, sessionID, studentID, assessmentID, nowMs); err != nil {
		t.Fatalf("seed session %s: %v", sessionID, err)
	}
}

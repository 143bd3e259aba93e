package db_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/BrandonDHaskell/Argus/server/internal/db"
)

func openFileDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(context.Background(), db.Config{Path: filepath.Join(t.TempDir(), "argus.db"), Env: "dev"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestOpen_MigratesIdempotently(t *testing.T) {
	conn := openFileDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, conn); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	var versions int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&versions); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if versions != 1 {
		t.Errorf("expected 1 applied migration, got %d", versions)
	}

	for _, table := range []string{"exam_sessions", "proctoring_settings", "face_references", "proctoring_snapshots", "proctoring_violations"} {
		var name string
		err := conn.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestSeedDev_IsRerunnable(t *testing.T) {
	conn := openFileDB(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := db.SeedDev(ctx, conn, db.SeedDevOptions{}); err != nil {
			t.Fatalf("SeedDev run %d: %v", i, err)
		}
	}

	var status string
	if err := conn.QueryRowContext(ctx, `SELECT status FROM exam_sessions WHERE session_id = 'session-dev'`).Scan(&status); err != nil {
		t.Fatalf("read session: %v", err)
	}
	if status != "IN_PROGRESS" {
		t.Errorf("expected IN_PROGRESS, got %s", status)
	}

	var maxV int
	if err := conn.QueryRowContext(ctx, `SELECT max_violations_before_terminate FROM proctoring_settings WHERE assessment_id = 'assess-dev'`).Scan(&maxV); err != nil {
		t.Fatalf("read settings: %v", err)
	}
	if maxV != 10 {
		t.Errorf("expected default max 10, got %d", maxV)
	}
}

func TestWorker_RollsBackOnError(t *testing.T) {
	conn := openFileDB(t)
	w := db.NewWorker(conn)
	defer w.Close()
	ctx := context.Background()

	boom := errors.New("boom")
	err := w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO assessments(assessment_id, created_at_ms) VALUES ('a1', 0)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	err = w.Do(ctx, func(context.Context, *sql.Tx) error { panic("bad job") })
	if err == nil {
		t.Fatal("expected panic to surface as an error")
	}

	var n int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM assessments`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("expected rollback, found %d rows", n)
	}
}

func TestWorker_SerializesJobs(t *testing.T) {
	conn := openFileDB(t)
	w := db.NewWorker(conn)
	defer w.Close()
	ctx := context.Background()

	if err := w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `CREATE TABLE counter (n INTEGER NOT NULL); INSERT INTO counter VALUES (0);`)
		return err
	}); err != nil {
		t.Fatalf("setup: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
				var n int
				if err := tx.QueryRowContext(ctx, `SELECT n FROM counter`).Scan(&n); err != nil {
					return err
				}
				_, err := tx.ExecContext(ctx, `UPDATE counter SET n = ?`, n+1)
				return err
			})
		}()
	}
	wg.Wait()

	var n int
	if err := conn.QueryRowContext(ctx, `SELECT n FROM counter`).Scan(&n); err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 50 {
		t.Errorf("expected 50, got %d", n)
	}
	if w.Pending() != 0 {
		t.Errorf("expected empty queue, got %d", w.Pending())
	}
}

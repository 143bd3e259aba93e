package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type SeedDevOptions struct {
	AssessmentID string   // default "assess-dev"
	SessionID    string   // default "session-dev"
	StudentID    string   // default "student-dev"
	Supervisors  []string // default ["teacher-dev"]
}

// SeedDev creates one assessment with default settings, its supervisors and
// an in-progress session, so a local server can take uploads straight away.
// Re-running it reopens the dev session.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	if opt.AssessmentID == "" {
		opt.AssessmentID = "assess-dev"
	}
	if opt.SessionID == "" {
		opt.SessionID = "session-dev"
	}
	if opt.StudentID == "" {
		opt.StudentID = "student-dev"
	}
	if len(opt.Supervisors) == 0 {
		opt.Supervisors = []string{"teacher-dev"}
	}
	now := time.Now().UTC().UnixMilli()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO assessments(assessment_id, title, created_at_ms)
VALUES (?, 'Dev Assessment', ?);`, opt.AssessmentID, now); err != nil {
		return fmt.Errorf("seed assessment: %w", err)
	}

	// Column defaults are the stock proctoring settings.
	if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO proctoring_settings(assessment_id, updated_at_ms)
VALUES (?, ?);`, opt.AssessmentID, now); err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}

	for _, u := range opt.Supervisors {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO assessment_supervisors(assessment_id, user_id, role)
VALUES (?, ?, 'TEACHER');`, opt.AssessmentID, u); err != nil {
			return fmt.Errorf("seed supervisor %s: %w", u, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO exam_sessions(session_id, student_id, assessment_id, status, violation_count, started_at_ms)
VALUES (?, ?, ?, 'IN_PROGRESS', 0, ?)
ON CONFLICT(session_id) DO UPDATE SET
  status = 'IN_PROGRESS',
  violation_count = 0,
  started_at_ms = excluded.started_at_ms,
  ended_at_ms = NULL;
`, opt.SessionID, opt.StudentID, opt.AssessmentID, now); err != nil {
		return fmt.Errorf("seed session %s: %w", opt.SessionID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM proctoring_violations WHERE session_id = ?;`, opt.SessionID,
	); err != nil {
		return fmt.Errorf("seed reset violations: %w", err)
	}

	return tx.Commit()
}

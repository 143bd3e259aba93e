package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/policy"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

const violationSelect = `
SELECT violation_id, session_id, snapshot_id, violation_type, severity, occurred_at_ms,
       details_json, confidence_score, confidence_breakdown_json,
       acknowledged, is_false_positive, reviewed_by, review_notes, reviewed_at_ms
FROM proctoring_violations`

func scanViolation(row rowScanner) (types.Violation, error) {
	var (
		v             types.Violation
		snapshotID    sql.NullString
		vtype         string
		occurred      int64
		details, brk  string
		ack, falsePos int
		reviewedAt    sql.NullInt64
	)
	if err := row.Scan(&v.ID, &v.SessionID, &snapshotID, &vtype, &v.Severity, &occurred,
		&details, &v.ConfidenceScore, &brk,
		&ack, &falsePos, &v.ReviewedBy, &v.ReviewNotes, &reviewedAt); err != nil {
		return types.Violation{}, err
	}
	if snapshotID.Valid {
		id := snapshotID.String
		v.SnapshotID = &id
	}
	v.Type = types.ViolationType(vtype)
	v.OccurredAt = fromMs(occurred)
	v.Acknowledged = ack == 1
	v.IsFalsePositive = falsePos == 1
	v.ReviewedAt = fromNullMs(reviewedAt)
	if err := json.Unmarshal([]byte(details), &v.Details); err != nil {
		return types.Violation{}, fmt.Errorf("details: %w", err)
	}
	if err := json.Unmarshal([]byte(brk), &v.ConfidenceBreakdown); err != nil {
		return types.Violation{}, fmt.Errorf("confidence breakdown: %w", err)
	}
	return v, nil
}

func (s *Store) ListViolations(ctx context.Context, sessionID string, includeFalsePositives bool) ([]types.Violation, error) {
	q := violationSelect + ` WHERE session_id = ?`
	if !includeFalsePositives {
		q += ` AND is_false_positive = 0`
	}
	q += ` ORDER BY occurred_at_ms DESC;`

	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ListViolations: %w", err)
	}
	defer rows.Close()

	var out []types.Violation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, fmt.Errorf("ListViolations scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) GetViolation(ctx context.Context, id string) (types.Violation, error) {
	v, err := scanViolation(s.db.QueryRowContext(ctx, violationSelect+` WHERE violation_id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Violation{}, store.ErrViolationNotFound
	}
	if err != nil {
		return types.Violation{}, fmt.Errorf("GetViolation: %w", err)
	}
	return v, nil
}

func (s *Store) Review(ctx context.Context, id string, r store.Review) (types.Violation, error) {
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE proctoring_violations
SET is_false_positive = ?, reviewed_by = ?, review_notes = ?, reviewed_at_ms = ?
WHERE violation_id = ?;
`, boolInt(r.IsFalsePositive), r.ReviewerID, r.Notes, r.At.UTC().UnixMilli(), id)
		if err != nil {
			return fmt.Errorf("Review: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrViolationNotFound
		}
		return nil
	})
	if err != nil {
		return types.Violation{}, err
	}
	return s.GetViolation(ctx, id)
}

func (s *Store) Acknowledge(ctx context.Context, id string) (types.Violation, error) {
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE proctoring_violations SET acknowledged = 1 WHERE violation_id = ?;`, id)
		if err != nil {
			return fmt.Errorf("Acknowledge: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrViolationNotFound
		}
		return nil
	})
	if err != nil {
		return types.Violation{}, err
	}
	return s.GetViolation(ctx, id)
}

func (s *Store) RecordViolation(ctx context.Context, v types.Violation) (int, error) {
	var total int
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := requireActive(ctx, tx, v.SessionID); err != nil {
			return err
		}
		if err := insertViolation(ctx, tx, v); err != nil {
			return err
		}
		var err error
		total, err = recount(ctx, tx, v.SessionID)
		return err
	})
	return total, err
}

func (s *Store) CommitFrame(ctx context.Context, c store.FrameCommit) (store.CommitResult, error) {
	var res store.CommitResult
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res = store.CommitResult{}
		if err := requireActive(ctx, tx, c.SessionID); err != nil {
			return err
		}

		var err error
		if res.PrevTotal, err = countActive(ctx, tx, c.SessionID); err != nil {
			return err
		}

		if c.Snapshot != nil {
			if err := insertSnapshot(ctx, tx, *c.Snapshot); err != nil {
				return err
			}
		}

		for _, v := range c.Violations {
			last, err := lastOfType(ctx, tx, c.SessionID, v.Type)
			if err != nil {
				return err
			}
			if policy.InCooldown(last, c.Now, c.DedupWindow) {
				res.Duplicates++
				continue
			}
			if err := insertViolation(ctx, tx, v); err != nil {
				return err
			}
			res.Inserted = append(res.Inserted, v)
		}

		if res.Total, err = recount(ctx, tx, c.SessionID); err != nil {
			return err
		}

		res.Exceeded = c.MaxViolations > 0 && res.Total >= c.MaxViolations
		if res.Exceeded {
			out, err := tx.ExecContext(ctx, `
UPDATE exam_sessions
SET status = 'TERMINATED', ended_at_ms = ?
WHERE session_id = ? AND status = 'IN_PROGRESS';
`, c.Now.UTC().UnixMilli(), c.SessionID)
			if err != nil {
				return fmt.Errorf("terminate session: %w", err)
			}
			n, _ := out.RowsAffected()
			res.Terminated = n == 1
		}
		return nil
	})
	if err != nil {
		return store.CommitResult{}, err
	}
	return res, nil
}

func requireActive(ctx context.Context, tx *sql.Tx, sessionID string) error {
	var status string
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM exam_sessions WHERE session_id = ?;`, sessionID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("session status: %w", err)
	}
	if types.SessionStatus(status) != types.SessionInProgress {
		return store.ErrSessionNotActive
	}
	return nil
}

func lastOfType(ctx context.Context, tx *sql.Tx, sessionID string, t types.ViolationType) (*time.Time, error) {
	var last sql.NullInt64
	err := tx.QueryRowContext(ctx, `
SELECT MAX(occurred_at_ms) FROM proctoring_violations
WHERE session_id = ? AND violation_type = ? AND is_false_positive = 0;
`, sessionID, string(t)).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("last violation of type: %w", err)
	}
	return fromNullMs(last), nil
}

func countActive(ctx context.Context, tx *sql.Tx, sessionID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM proctoring_violations
WHERE session_id = ? AND is_false_positive = 0;
`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count violations: %w", err)
	}
	return n, nil
}

// recount refreshes exam_sessions.violation_count from the rows themselves.
func recount(ctx context.Context, tx *sql.Tx, sessionID string) (int, error) {
	n, err := countActive(ctx, tx, sessionID)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE exam_sessions SET violation_count = ? WHERE session_id = ?;`, n, sessionID,
	); err != nil {
		return 0, fmt.Errorf("update violation_count: %w", err)
	}
	return n, nil
}

func insertViolation(ctx context.Context, tx *sql.Tx, v types.Violation) error {
	details := v.Details
	if details == nil {
		details = map[string]any{}
	}
	d, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("insert violation details: %w", err)
	}
	brk := v.ConfidenceBreakdown
	if brk == nil {
		brk = map[string]float64{}
	}
	b, err := json.Marshal(brk)
	if err != nil {
		return fmt.Errorf("insert violation breakdown: %w", err)
	}

	var snapshotID any
	if v.SnapshotID != nil {
		snapshotID = *v.SnapshotID
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO proctoring_violations(
  violation_id, session_id, snapshot_id, violation_type, severity, occurred_at_ms,
  details_json, confidence_score, confidence_breakdown_json
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`, v.ID, v.SessionID, snapshotID, string(v.Type), v.Severity, v.OccurredAt.UTC().UnixMilli(),
		string(d), v.ConfidenceScore, string(b)); err != nil {
		return fmt.Errorf("insert violation: %w", err)
	}
	return nil
}

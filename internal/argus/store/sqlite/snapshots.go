package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

func (s *Store) LastEvidenceAt(ctx context.Context, sessionID string) (*time.Time, error) {
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
SELECT MAX(captured_at_ms) FROM proctoring_snapshots
WHERE session_id = ? AND is_violation = 1;
`, sessionID).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("LastEvidenceAt: %w", err)
	}
	return fromNullMs(last), nil
}

func (s *Store) CountSnapshots(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM proctoring_snapshots WHERE session_id = ?;`, sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountSnapshots: %w", err)
	}
	return n, nil
}

func (s *Store) ListSnapshots(ctx context.Context, sessionID string, violationsOnly bool) ([]types.Snapshot, error) {
	q := `
SELECT snapshot_id, session_id, captured_at_ms, image_url, image_path, faces_detected,
       gaze_direction, gaze_yaw, gaze_pitch, face_verified, face_verification_confidence,
       motion_score, is_violation, analysis_json
FROM proctoring_snapshots
WHERE session_id = ?`
	if violationsOnly {
		q += ` AND is_violation = 1`
	}
	q += ` ORDER BY captured_at_ms DESC;`

	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ListSnapshots: %w", err)
	}
	defer rows.Close()

	var out []types.Snapshot
	for rows.Next() {
		var (
			sn                 types.Snapshot
			captured           int64
			verified, violates int
			analysis           string
		)
		if err := rows.Scan(&sn.ID, &sn.SessionID, &captured, &sn.ImageURL, &sn.ImagePath, &sn.SubjectCount,
			&sn.GazeDirection, &sn.GazeYaw, &sn.GazePitch, &verified, &sn.FaceVerificationConfidence,
			&sn.MotionScore, &violates, &analysis); err != nil {
			return nil, fmt.Errorf("ListSnapshots scan: %w", err)
		}
		sn.CapturedAt = fromMs(captured)
		sn.FaceVerified = verified == 1
		sn.IsViolation = violates == 1
		if err := json.Unmarshal([]byte(analysis), &sn.Analysis); err != nil {
			return nil, fmt.Errorf("ListSnapshots analysis: %w", err)
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

func insertSnapshot(ctx context.Context, tx *sql.Tx, sn types.Snapshot) error {
	analysis, err := json.Marshal(sn.Analysis)
	if err != nil {
		return fmt.Errorf("insert snapshot analysis: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO proctoring_snapshots(
  snapshot_id, session_id, captured_at_ms, image_url, image_path, faces_detected,
  gaze_direction, gaze_yaw, gaze_pitch, face_verified, face_verification_confidence,
  motion_score, is_violation, analysis_json
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, sn.ID, sn.SessionID, sn.CapturedAt.UTC().UnixMilli(), sn.ImageURL, sn.ImagePath, sn.SubjectCount,
		sn.GazeDirection, sn.GazeYaw, sn.GazePitch, boolInt(sn.FaceVerified), sn.FaceVerificationConfidence,
		sn.MotionScore, boolInt(sn.IsViolation), string(analysis)); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

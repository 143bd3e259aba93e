package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
	dbpkg "github.com/BrandonDHaskell/Argus/server/internal/db"
)

// Store reads through db and funnels every write through the single
// writer worker.
type Store struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

var _ store.Store = (*Store)(nil)

func New(db *sql.DB, writer *dbpkg.Worker) *Store {
	return &Store{db: db, writer: writer}
}

func (s *Store) GetSession(ctx context.Context, id string) (types.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return types.Session{}, store.ErrSessionNotFound
	}
	sess, err := scanSession(s.db.QueryRowContext(ctx, sessionSelect+` WHERE session_id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Session{}, store.ErrSessionNotFound
	}
	if err != nil {
		return types.Session{}, fmt.Errorf("GetSession: %w", err)
	}
	return sess, nil
}

const sessionSelect = `
SELECT session_id, student_id, assessment_id, status, violation_count, started_at_ms, ended_at_ms
FROM exam_sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (types.Session, error) {
	var (
		sess    types.Session
		status  string
		started int64
		ended   sql.NullInt64
	)
	if err := row.Scan(&sess.ID, &sess.StudentID, &sess.AssessmentID, &status, &sess.ViolationCount, &started, &ended); err != nil {
		return types.Session{}, err
	}
	sess.Status = types.SessionStatus(status)
	sess.StartedAt = fromMs(started)
	sess.EndedAt = fromNullMs(ended)
	return sess, nil
}

func (s *Store) GetSettings(ctx context.Context, assessmentID string) (types.Settings, error) {
	var (
		st                                                 types.Settings
		enabled, motion, noFace, multi, away, objs, verify int
		scoring, temporal                                  int
	)
	err := s.db.QueryRowContext(ctx, `
SELECT enabled, snapshot_interval_seconds, use_motion_detection, motion_threshold,
       max_violations_before_terminate, detect_no_face, detect_multiple_faces,
       detect_looking_away, detect_objects, require_face_verification,
       face_verification_interval, use_confidence_scoring, min_confidence_threshold,
       enable_temporal_analysis, temporal_window_size
FROM proctoring_settings
WHERE assessment_id = ?;
`, assessmentID).Scan(
		&enabled, &st.SnapshotIntervalSeconds, &motion, &st.MotionThreshold,
		&st.MaxViolationsBeforeTerminate, &noFace, &multi,
		&away, &objs, &verify,
		&st.FaceVerificationIntervalSeconds, &scoring, &st.MinConfidenceThreshold,
		&temporal, &st.TemporalWindowSize,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Settings{}, store.ErrNoSettings
	}
	if err != nil {
		return types.Settings{}, fmt.Errorf("GetSettings: %w", err)
	}
	st.Enabled = enabled == 1
	st.UseMotionDetection = motion == 1
	st.DetectNoFace = noFace == 1
	st.DetectMultipleFaces = multi == 1
	st.DetectLookingAway = away == 1
	st.DetectObjects = objs == 1
	st.RequireFaceVerification = verify == 1
	st.UseConfidenceScoring = scoring == 1
	st.EnableTemporalAnalysis = temporal == 1
	return st, nil
}

// PutSettings upserts an assessment's settings row. Used by seeding and
// tests; the exam platform normally owns this table.
func (s *Store) PutSettings(ctx context.Context, assessmentID string, st types.Settings) error {
	now := time.Now().UTC().UnixMilli()
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO proctoring_settings(
  assessment_id, enabled, snapshot_interval_seconds, use_motion_detection, motion_threshold,
  max_violations_before_terminate, detect_no_face, detect_multiple_faces,
  detect_looking_away, detect_objects, require_face_verification,
  face_verification_interval, use_confidence_scoring, min_confidence_threshold,
  enable_temporal_analysis, temporal_window_size, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(assessment_id) DO UPDATE SET
  enabled = excluded.enabled,
  snapshot_interval_seconds = excluded.snapshot_interval_seconds,
  use_motion_detection = excluded.use_motion_detection,
  motion_threshold = excluded.motion_threshold,
  max_violations_before_terminate = excluded.max_violations_before_terminate,
  detect_no_face = excluded.detect_no_face,
  detect_multiple_faces = excluded.detect_multiple_faces,
  detect_looking_away = excluded.detect_looking_away,
  detect_objects = excluded.detect_objects,
  require_face_verification = excluded.require_face_verification,
  face_verification_interval = excluded.face_verification_interval,
  use_confidence_scoring = excluded.use_confidence_scoring,
  min_confidence_threshold = excluded.min_confidence_threshold,
  enable_temporal_analysis = excluded.enable_temporal_analysis,
  temporal_window_size = excluded.temporal_window_size,
  updated_at_ms = excluded.updated_at_ms;
`, assessmentID, boolInt(st.Enabled), st.SnapshotIntervalSeconds, boolInt(st.UseMotionDetection), st.MotionThreshold,
			st.MaxViolationsBeforeTerminate, boolInt(st.DetectNoFace), boolInt(st.DetectMultipleFaces),
			boolInt(st.DetectLookingAway), boolInt(st.DetectObjects), boolInt(st.RequireFaceVerification),
			st.FaceVerificationIntervalSeconds, boolInt(st.UseConfidenceScoring), st.MinConfidenceThreshold,
			boolInt(st.EnableTemporalAnalysis), st.TemporalWindowSize, now); err != nil {
			return fmt.Errorf("PutSettings: %w", err)
		}
		return nil
	})
}

func (s *Store) Supervisors(ctx context.Context, assessmentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id FROM assessment_supervisors
WHERE assessment_id = ?
ORDER BY user_id;
`, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("Supervisors: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("Supervisors scan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fromMs(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func fromNullMs(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMs(v.Int64)
	return &t
}

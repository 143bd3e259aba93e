package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

func (s *Store) InsertClip(ctx context.Context, c types.VideoClip) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := requireSession(ctx, tx, c.SessionID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO proctoring_video_clips(
  clip_id, session_id, trigger_reason, trigger_description, duration_seconds,
  file_size_bytes, severity, video_url, video_path, created_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, c.ID, c.SessionID, string(c.TriggerReason), c.TriggerDescription, c.DurationSeconds,
			c.SizeBytes, c.Severity, c.VideoURL, c.VideoPath, c.CreatedAt.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("InsertClip: %w", err)
		}
		return nil
	})
}

func (s *Store) ListClips(ctx context.Context, sessionID string) ([]types.VideoClip, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT clip_id, session_id, trigger_reason, trigger_description, duration_seconds,
       file_size_bytes, severity, video_url, video_path, created_at_ms
FROM proctoring_video_clips
WHERE session_id = ?
ORDER BY created_at_ms DESC;
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ListClips: %w", err)
	}
	defer rows.Close()

	var out []types.VideoClip
	for rows.Next() {
		var (
			c       types.VideoClip
			reason  string
			created int64
		)
		if err := rows.Scan(&c.ID, &c.SessionID, &reason, &c.TriggerDescription, &c.DurationSeconds,
			&c.SizeBytes, &c.Severity, &c.VideoURL, &c.VideoPath, &created); err != nil {
			return nil, fmt.Errorf("ListClips scan: %w", err)
		}
		c.TriggerReason = types.ClipTrigger(reason)
		c.CreatedAt = fromMs(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) PutRecording(ctx context.Context, r types.Recording) (types.Recording, error) {
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := requireSession(ctx, tx, r.SessionID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO session_recordings(
  recording_id, session_id, duration_seconds, file_size_bytes, upload_status,
  video_url, video_path, error_message, created_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
  duration_seconds = excluded.duration_seconds,
  file_size_bytes = excluded.file_size_bytes,
  upload_status = excluded.upload_status,
  video_url = excluded.video_url,
  video_path = excluded.video_path,
  error_message = excluded.error_message;
`, r.ID, r.SessionID, r.DurationSeconds, r.SizeBytes, string(r.Status),
			r.VideoURL, r.VideoPath, r.ErrorMessage, r.CreatedAt.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("PutRecording: %w", err)
		}
		return nil
	})
	if err != nil {
		return types.Recording{}, err
	}
	return s.Recording(ctx, r.SessionID)
}

func (s *Store) Recording(ctx context.Context, sessionID string) (types.Recording, error) {
	var (
		r       types.Recording
		status  string
		created int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT recording_id, session_id, duration_seconds, file_size_bytes, upload_status,
       video_url, video_path, error_message, created_at_ms
FROM session_recordings
WHERE session_id = ?;
`, sessionID).Scan(&r.ID, &r.SessionID, &r.DurationSeconds, &r.SizeBytes, &status,
		&r.VideoURL, &r.VideoPath, &r.ErrorMessage, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Recording{}, store.ErrNoRecording
	}
	if err != nil {
		return types.Recording{}, fmt.Errorf("Recording: %w", err)
	}
	r.Status = types.RecordingStatus(status)
	r.CreatedAt = fromMs(created)
	return r, nil
}

func requireSession(ctx context.Context, tx *sql.Tx, sessionID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM exam_sessions WHERE session_id = ?;`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	return nil
}

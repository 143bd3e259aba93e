package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

func (s *Store) ActiveReference(ctx context.Context, studentID string) (types.FaceReference, error) {
	var (
		ref      types.FaceReference
		captured int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT reference_id, student_id, image, quality_score, captured_at_ms
FROM face_references
WHERE student_id = ? AND is_active = 1;
`, studentID).Scan(&ref.ID, &ref.StudentID, &ref.Image, &ref.QualityScore, &captured)
	if errors.Is(err, sql.ErrNoRows) {
		return types.FaceReference{}, store.ErrNoFaceReference
	}
	if err != nil {
		return types.FaceReference{}, fmt.Errorf("ActiveReference: %w", err)
	}
	ref.IsActive = true
	ref.CapturedAt = fromMs(captured)
	return ref, nil
}

func (s *Store) ReplaceReference(ctx context.Context, ref types.FaceReference) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
UPDATE face_references SET is_active = 0
WHERE student_id = ? AND is_active = 1;
`, ref.StudentID); err != nil {
			return fmt.Errorf("ReplaceReference deactivate: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO face_references(reference_id, student_id, image, is_active, quality_score, captured_at_ms)
VALUES (?, ?, ?, 1, ?, ?);
`, ref.ID, ref.StudentID, ref.Image, ref.QualityScore, ref.CapturedAt.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("ReplaceReference insert: %w", err)
		}
		return nil
	})
}

package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/detect"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/storage"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

// ReferenceQuality is the score recorded for an accepted single-face image.
const ReferenceQuality = 0.9

type FaceService struct {
	refs     store.FaceReferenceStore
	detector Detector
	analyzer Analyzer
	objects  storage.Store
	logger   *slog.Logger
	now      func() time.Time
}

func NewFaceService(deps Dependencies) *FaceService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &FaceService{
		refs:     deps.Store,
		detector: deps.Detector,
		analyzer: deps.Analyzer,
		objects:  deps.Objects,
		logger:   deps.Logger,
		now:      deps.Now,
	}
}

// Register validates that img shows exactly one face and makes it the
// student's active reference, retiring the previous one.
func (f *FaceService) Register(ctx context.Context, studentID string, img []byte) (types.FaceRegistrationResponse, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return types.FaceRegistrationResponse{}, ErrInvalidUserID
	}
	decoded, _, err := detect.DecodeFrame(img)
	if err != nil {
		return types.FaceRegistrationResponse{}, err
	}

	faces, err := f.countFaces(ctx, img, decoded)
	if err != nil {
		return types.FaceRegistrationResponse{}, err
	}
	if faces != 1 {
		return types.FaceRegistrationResponse{}, fmt.Errorf("%w: found %d", ErrFaceCount, faces)
	}

	now := f.now().UTC()
	ref := types.FaceReference{
		ID:           newID(),
		StudentID:    studentID,
		Image:        img,
		IsActive:     true,
		CapturedAt:   now,
		QualityScore: ReferenceQuality,
	}
	if err := f.refs.ReplaceReference(ctx, ref); err != nil {
		return types.FaceRegistrationResponse{}, fmt.Errorf("store reference: %w", err)
	}

	// The reference lives in the database; the object copy is for reviewers.
	if f.objects != nil {
		if _, err := f.objects.Put(ctx, storage.FaceKey(studentID), img); err != nil {
			f.logger.Warn("reference upload failed", "student_id", studentID, "err", err)
		}
	}

	f.logger.Info("face reference registered", "student_id", studentID, "reference_id", ref.ID)
	return types.FaceRegistrationResponse{
		Message:         "Face registered successfully",
		FaceReferenceID: ref.ID,
		QualityScore:    ReferenceQuality,
	}, nil
}

// countFaces asks the remote analyzer first and falls back to the local
// person count when it is unavailable.
func (f *FaceService) countFaces(ctx context.Context, raw []byte, decoded image.Image) (int, error) {
	if f.analyzer != nil && f.analyzer.Enabled() {
		n, err := f.analyzer.CheckReference(ctx, raw)
		if err == nil {
			return n, nil
		}
		f.logger.Warn("remote face count failed, using local detector", "err", err)
	}

	local := f.detector.Detect(ctx, decoded)
	if local.Error != "" {
		return 0, fmt.Errorf("%w: %s", ErrFaceCheckFailed, local.Error)
	}
	return local.PersonCount, nil
}

func (f *FaceService) Status(ctx context.Context, studentID string) (types.FaceStatusResponse, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return types.FaceStatusResponse{}, ErrInvalidUserID
	}
	ref, err := f.refs.ActiveReference(ctx, studentID)
	if errors.Is(err, store.ErrNoFaceReference) {
		return types.FaceStatusResponse{}, nil
	}
	if err != nil {
		return types.FaceStatusResponse{}, fmt.Errorf("load reference: %w", err)
	}

	at := ref.CapturedAt.UTC().Format(time.RFC3339)
	q := ref.QualityScore
	return types.FaceStatusResponse{FaceRegistered: true, RegisteredAt: &at, QualityScore: &q}, nil
}

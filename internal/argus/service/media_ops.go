package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/storage"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

const (
	defaultClipSeconds  = 30
	defaultClipSeverity = 1
)

// UploadClip stores a short evidence clip recorded by the exam client and
// alerts the assessment's supervisors. A storage failure keeps the row
// without a video location.
func (s *ProctorService) UploadClip(ctx context.Context, up types.ClipUpload) (types.VideoClip, error) {
	sess, err := s.sessionFor(ctx, up.SessionID, up.CallerID, allowOwner)
	if err != nil {
		return types.VideoClip{}, err
	}
	if len(up.Video) == 0 {
		return types.VideoClip{}, ErrEmptyVideo
	}

	c := types.VideoClip{
		ID:                 newID(),
		SessionID:          sess.ID,
		TriggerReason:      types.NormalizeClipTrigger(up.TriggerReason),
		TriggerDescription: up.TriggerDescription,
		DurationSeconds:    defaultClipSeconds,
		SizeBytes:          int64(len(up.Video)),
		Severity:           defaultClipSeverity,
		CreatedAt:          s.now().UTC(),
	}
	if up.DurationSeconds != 0 {
		c.DurationSeconds = max(1, up.DurationSeconds)
	}
	if up.Severity != 0 {
		c.Severity = min(max(up.Severity, 1), 5)
	}

	loc := s.putMedia(ctx, storage.ClipKey(sess.AssessmentID, c.ID), up.Video, "session_id", sess.ID)
	c.VideoURL, c.VideoPath = loc.URL, loc.Path

	if err := s.store.InsertClip(ctx, c); err != nil {
		return types.VideoClip{}, fmt.Errorf("insert clip: %w", err)
	}
	s.metrics.ClipsStored.Add(1)
	s.notifyClip(ctx, sess, c)
	return c, nil
}

// ListClips returns a session's clips, newest first, to its supervisors.
func (s *ProctorService) ListClips(ctx context.Context, sessionID, callerID string) ([]types.VideoClip, error) {
	sess, err := s.sessionFor(ctx, sessionID, callerID, allowSupervisor)
	if err != nil {
		return nil, err
	}
	return s.store.ListClips(ctx, sess.ID)
}

// UploadRecording stores the full-session video. The recording row is
// written even when no backend accepts the bytes; it is then FAILED.
func (s *ProctorService) UploadRecording(ctx context.Context, up types.RecordingUpload) (types.Recording, error) {
	sess, err := s.sessionFor(ctx, up.SessionID, up.CallerID, allowOwner)
	if err != nil {
		return types.Recording{}, err
	}
	if len(up.Video) == 0 {
		return types.Recording{}, ErrEmptyVideo
	}

	r := types.Recording{
		ID:              newID(),
		SessionID:       sess.ID,
		DurationSeconds: max(0, up.DurationSeconds),
		SizeBytes:       int64(len(up.Video)),
		Status:          types.RecordingComplete,
		CreatedAt:       s.now().UTC(),
	}
	loc := s.putMedia(ctx, storage.RecordingKey(sess.AssessmentID), up.Video, "session_id", sess.ID)
	if loc.Empty() && s.objects != nil {
		r.Status = types.RecordingFailed
		r.ErrorMessage = storage.ErrNoBackend.Error()
	}
	r.VideoURL, r.VideoPath = loc.URL, loc.Path

	r, err = s.store.PutRecording(ctx, r)
	if err != nil {
		return types.Recording{}, fmt.Errorf("put recording: %w", err)
	}
	s.metrics.RecordingsStored.Add(1)
	s.logger.Info("recording uploaded", "session_id", sess.ID, "bytes", r.SizeBytes, "status", r.Status)
	return r, nil
}

// SessionRecording returns the session's recording to its supervisors.
// ErrNoRecording means none was uploaded.
func (s *ProctorService) SessionRecording(ctx context.Context, sessionID, callerID string) (types.Recording, error) {
	sess, err := s.sessionFor(ctx, sessionID, callerID, allowSupervisor)
	if err != nil {
		return types.Recording{}, err
	}
	r, err := s.store.Recording(ctx, sess.ID)
	if err != nil && !errors.Is(err, store.ErrNoRecording) {
		return types.Recording{}, fmt.Errorf("load recording: %w", err)
	}
	return r, err
}

func (s *ProctorService) putMedia(ctx context.Context, key string, data []byte, logArgs ...any) storage.Location {
	if s.objects == nil {
		return storage.Location{}
	}
	loc, err := s.objects.Put(ctx, key, data)
	if err != nil {
		s.metrics.MediaStoreFailures.Add(1)
		s.logger.Warn("media upload failed", append(logArgs, "key", key, "err", err)...)
		return storage.Location{}
	}
	return loc
}

func (s *ProctorService) notifyClip(ctx context.Context, sess types.Session, c types.VideoClip) {
	ids, err := s.store.Supervisors(ctx, sess.AssessmentID)
	if err != nil {
		s.logger.Warn("load supervisors", "assessment_id", sess.AssessmentID, "err", err)
		return
	}
	s.notifier.Fire(types.Notification{
		UserIDs: ids,
		Subject: "Proctoring Evidence Clip",
		Body:    fmt.Sprintf("Evidence clip uploaded for student %s in assessment %s.", sess.StudentID, sess.AssessmentID),
		Metadata: map[string]string{
			"session_id":     sess.ID,
			"assessment_id":  sess.AssessmentID,
			"clip_id":        c.ID,
			"trigger_reason": string(c.TriggerReason),
			"severity":       strconv.Itoa(c.Severity),
			"action":         "proctoring_clip",
		},
	})
}

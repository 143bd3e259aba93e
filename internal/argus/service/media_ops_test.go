package service_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/storage"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

var clipBytes = []byte("\x1aE\xdf\xa3webm-ish")

// ── Clips ────────────────────────────────────────────────────────────────────

func TestUploadClip_StoresAndAlerts(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, baseSettings(), nil, withObjects(&downStore{}, storage.LocalStore{Root: dir}))
	ctx := context.Background()

	c, err := h.svc.UploadClip(ctx, types.ClipUpload{
		SessionID:          testSession,
		CallerID:           testStudent,
		Video:              clipBytes,
		TriggerReason:      "PHONE_DETECTED",
		TriggerDescription: "phone raised to ear",
		Severity:           9,
	})
	if err != nil {
		t.Fatalf("UploadClip: %v", err)
	}
	if c.TriggerReason != types.ClipPhoneDetected || c.Severity != 5 || c.DurationSeconds != 30 {
		t.Errorf("unexpected clip %+v", c)
	}
	if c.SizeBytes != int64(len(clipBytes)) {
		t.Errorf("expected size %d, got %d", len(clipBytes), c.SizeBytes)
	}
	if !strings.HasPrefix(c.VideoPath, dir) {
		t.Fatalf("expected clip under %s, got %q", dir, c.VideoPath)
	}
	if b, err := os.ReadFile(c.VideoPath); err != nil || string(b) != string(clipBytes) {
		t.Errorf("clip not written intact: %v", err)
	}

	h.notifier.Wait()
	sent := h.sent.Sent()
	if n := countSubject(sent, "Proctoring Evidence Clip"); n != 1 {
		t.Fatalf("expected one clip alert, got %d", n)
	}
	if sent[0].Metadata["clip_id"] != c.ID || sent[0].Metadata["severity"] != "5" {
		t.Errorf("unexpected metadata %v", sent[0].Metadata)
	}
	if h.metrics.ClipsStored.Load() != 1 {
		t.Errorf("expected clip to be counted")
	}
}

func TestUploadClip_NormalizesInput(t *testing.T) {
	h := newHarness(t, baseSettings(), nil)
	ctx := context.Background()

	c, err := h.svc.UploadClip(ctx, types.ClipUpload{
		SessionID:       testSession,
		CallerID:        testStudent,
		Video:           clipBytes,
		TriggerReason:   "SNEEZING",
		DurationSeconds: -4,
	})
	if err != nil {
		t.Fatalf("UploadClip: %v", err)
	}
	if c.TriggerReason != types.ClipOther || c.DurationSeconds != 1 || c.Severity != 1 {
		t.Errorf("unexpected clip %+v", c)
	}
	if c.VideoURL != "" || c.VideoPath != "" {
		t.Errorf("expected no location without object storage, got %+v", c)
	}
}

func TestUploadClip_StorageFailureKeepsRow(t *testing.T) {
	h := newHarness(t, baseSettings(), nil, withObjects(&downStore{}, &downStore{}))
	ctx := context.Background()

	c, err := h.svc.UploadClip(ctx, types.ClipUpload{SessionID: testSession, CallerID: testStudent, Video: clipBytes})
	if err != nil {
		t.Fatalf("UploadClip: %v", err)
	}
	if c.VideoURL != "" || c.VideoPath != "" {
		t.Errorf("expected empty location, got %+v", c)
	}
	clips, err := h.svc.ListClips(ctx, testSession, testTeacher)
	if err != nil {
		t.Fatalf("ListClips: %v", err)
	}
	if len(clips) != 1 || clips[0].ID != c.ID {
		t.Errorf("expected the clip row to persist, got %+v", clips)
	}
	if h.metrics.MediaStoreFailures.Load() != 1 {
		t.Errorf("expected the storage failure to be counted")
	}
}

func TestUploadClip_Rejections(t *testing.T) {
	h := newHarness(t, baseSettings(), nil)
	ctx := context.Background()

	cases := []struct {
		name string
		up   types.ClipUpload
		want error
	}{
		{"empty video", types.ClipUpload{SessionID: testSession, CallerID: testStudent}, service.ErrEmptyVideo},
		{"not owner", types.ClipUpload{SessionID: testSession, CallerID: testTeacher, Video: clipBytes}, service.ErrNotSessionOwner},
		{"unknown session", types.ClipUpload{SessionID: "nope", CallerID: testStudent, Video: clipBytes}, service.ErrSessionNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.svc.UploadClip(ctx, tc.up); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestListClips_SupervisorOnlyNewestFirst(t *testing.T) {
	h := newHarness(t, baseSettings(), nil)
	ctx := context.Background()

	for _, reason := range []string{"NO_FACE", "TAB_SWITCH"} {
		if _, err := h.svc.UploadClip(ctx, types.ClipUpload{
			SessionID: testSession, CallerID: testStudent, Video: clipBytes, TriggerReason: reason,
		}); err != nil {
			t.Fatalf("UploadClip: %v", err)
		}
		h.clock.Advance(time.Minute)
	}

	if _, err := h.svc.ListClips(ctx, testSession, testStudent); !errors.Is(err, service.ErrForbidden) {
		t.Errorf("student listing clips: expected ErrForbidden, got %v", err)
	}
	clips, err := h.svc.ListClips(ctx, testSession, testTeacher)
	if err != nil {
		t.Fatalf("ListClips: %v", err)
	}
	if len(clips) != 2 || clips[0].TriggerReason != types.ClipTabSwitch {
		t.Errorf("expected newest clip first, got %+v", clips)
	}
}

// ── Recordings ───────────────────────────────────────────────────────────────

func TestUploadRecording_ReplacesEarlierUpload(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, baseSettings(), nil, withObjects(storage.LocalStore{Root: dir}))
	ctx := context.Background()

	first, err := h.svc.UploadRecording(ctx, types.RecordingUpload{
		SessionID: testSession, CallerID: testStudent, Video: clipBytes, DurationSeconds: 600,
	})
	if err != nil {
		t.Fatalf("UploadRecording: %v", err)
	}
	if first.Status != types.RecordingComplete || !strings.HasPrefix(first.VideoPath, dir) {
		t.Fatalf("unexpected recording %+v", first)
	}

	second, err := h.svc.UploadRecording(ctx, types.RecordingUpload{
		SessionID: testSession, CallerID: testStudent, Video: append(append([]byte(nil), clipBytes...), 'x'), DurationSeconds: 900,
	})
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected the recording id to be kept, got %s then %s", first.ID, second.ID)
	}

	got, err := h.svc.SessionRecording(ctx, testSession, testTeacher)
	if err != nil {
		t.Fatalf("SessionRecording: %v", err)
	}
	if got.DurationSeconds != 900 || got.SizeBytes != int64(len(clipBytes)+1) {
		t.Errorf("expected the latest upload, got %+v", got)
	}
}

func TestUploadRecording_StorageFailureMarksFailed(t *testing.T) {
	h := newHarness(t, baseSettings(), nil, withObjects(&downStore{}))
	ctx := context.Background()

	r, err := h.svc.UploadRecording(ctx, types.RecordingUpload{SessionID: testSession, CallerID: testStudent, Video: clipBytes})
	if err != nil {
		t.Fatalf("UploadRecording: %v", err)
	}
	if r.Status != types.RecordingFailed || r.ErrorMessage == "" {
		t.Errorf("expected FAILED with a message, got %+v", r)
	}
}

func TestSessionRecording_Access(t *testing.T) {
	h := newHarness(t, baseSettings(), nil)
	ctx := context.Background()

	if _, err := h.svc.SessionRecording(ctx, testSession, testTeacher); !errors.Is(err, service.ErrNoRecording) {
		t.Errorf("expected ErrNoRecording, got %v", err)
	}
	if _, err := h.svc.SessionRecording(ctx, testSession, testStudent); !errors.Is(err, service.ErrForbidden) {
		t.Errorf("student reading recording: expected ErrForbidden, got %v", err)
	}
	if _, err := h.svc.UploadRecording(ctx, types.RecordingUpload{SessionID: testSession, CallerID: "student-2", Video: clipBytes}); !errors.Is(err, service.ErrNotSessionOwner) {
		t.Errorf("expected ErrNotSessionOwner, got %v", err)
	}
}

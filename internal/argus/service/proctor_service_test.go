package service_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/detect"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/storage"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/store/memory"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

// ═══════════════════════════════════════════════════════════════════════════
// Validation
// ═══════════════════════════════════════════════════════════════════════════

func TestProcessFrame_ValidationErrors(t *testing.T) {
	h := newHarness(t, baseSettings(), nil)
	ctx := context.Background()

	disabled := baseSettings()
	disabled.Enabled = false
	h.store.PutSession(types.Session{ID: "off", StudentID: testStudent, AssessmentID: "assess-off", Status: types.SessionInProgress})
	h.store.PutSettings("assess-off", disabled)

	cases := []struct {
		name string
		up   types.FrameUpload
		want error
	}{
		{"blank session", types.FrameUpload{SessionID: "  ", CallerID: testStudent, Frame: h.frame}, service.ErrInvalidSessionID},
		{"unknown session", types.FrameUpload{SessionID: "nope", CallerID: testStudent, Frame: h.frame}, service.ErrSessionNotFound},
		{"other student", types.FrameUpload{SessionID: testSession, CallerID: "student-2", Frame: h.frame}, service.ErrNotSessionOwner},
		{"disabled", types.FrameUpload{SessionID: "off", CallerID: testStudent, Frame: h.frame}, service.ErrProctoringDisabled},
		{"garbage frame", types.FrameUpload{SessionID: testSession, CallerID: testStudent, Frame: []byte("not an image")}, service.ErrUndecodableFrame},
		{"empty frame", types.FrameUpload{SessionID: testSession, CallerID: testStudent}, service.ErrUndecodableFrame},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.ProcessFrame(ctx, tc.up)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if got := h.metrics.FramesRejected.Load(); got != uint64(len(cases)) {
		t.Errorf("expected %d rejected frames, got %d", len(cases), got)
	}
	if n := len(h.violations(t)); n != 0 {
		t.Errorf("expected no violations, got %d", n)
	}
}

func TestProcessFrame_RejectsInactiveSession(t *testing.T) {
	for _, status := range []types.SessionStatus{types.SessionTerminated, types.SessionSubmitted} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t, baseSettings(), nil)
			h.detector.Set(types.LocalResult{PersonCount: 0})
			h.store.PutSession(types.Session{ID: testSession, StudentID: testStudent, AssessmentID: testAssessment, Status: status})

			_, err := h.upload(t)
			if !errors.Is(err, service.ErrSessionNotActive) {
				t.Fatalf("expected ErrSessionNotActive, got %v", err)
			}
			if n := len(h.violations(t)); n != 0 {
				t.Errorf("expected no violations, got %d", n)
			}
			if n := len(h.snapshots(t)); n != 0 {
				t.Errorf("expected no snapshots, got %d", n)
			}
		})
	}
}

func TestProcessFrame_MissingSettingsUseDefaults(t *testing.T) {
	h := newHarness(t, baseSettings(), nil)
	h.store.PutSession(types.Session{ID: "s2", StudentID: testStudent, AssessmentID: "no-settings", Status: types.SessionInProgress})
	h.detector.Set(types.LocalResult{PersonCount: 0})

	res, err := h.svc.ProcessFrame(context.Background(), types.FrameUpload{SessionID: "s2", CallerID: testStudent, Frame: h.frame})
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if len(res.Violations) != 1 || res.Violations[0].Type != types.ViolationNoFace {
		t.Fatalf("expected one NO_FACE under default settings, got %+v", res.Violations)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Degradation
// ═══════════════════════════════════════════════════════════════════════════

func TestProcessFrame_DetectorErrorIsConservative(t *testing.T) {
	h := newHarness(t, baseSettings(), nil)
	h.detector.Set(detect.Fallback("model unavailable"))

	res := h.mustUpload(t)

	if res.FacesDetected != 1 {
		t.Errorf("expected faces_detected=1, got %d", res.FacesDetected)
	}
	if len(res.Violations) != 0 {
		t.Errorf("expected no violations, got %+v", res.Violations)
	}
	if res.AnalysisError == "" {
		t.Error("expected analysis_error to be reported")
	}
	if h.metrics.DetectorErrors.Load() != 1 {
		t.Errorf("expected detector error to be counted")
	}
}

func TestProcessFrame_RemoteTimeoutFallsBackToLocal(t *testing.T) {
	an := &fakeAnalyzer{
		enabled: true,
		delay:   2 * time.Second,
		result:  types.RemoteResult{FacesDetected: 1, Gaze: &types.Gaze{Direction: types.GazeLeft, YawDegrees: 60}},
	}
	h := newHarness(t, baseSettings(), an)
	h.detector.Set(types.LocalResult{PersonCount: 0})

	start := time.Now()
	res := h.mustUpload(t)
	if d := time.Since(start); d > time.Second {
		t.Fatalf("frame waited on the slow remote call: %v", d)
	}

	if res.Gaze != nil {
		t.Errorf("expected no gaze after timeout, got %+v", res.Gaze)
	}
	if len(res.Violations) != 1 || res.Violations[0].Type != types.ViolationNoFace {
		t.Fatalf("expected local NO_FACE only, got %+v", res.Violations)
	}
	snaps := h.snapshots(t)
	if len(snaps) != 1 {
		t.Fatalf("expected evidence snapshot, got %d", len(snaps))
	}
	if snaps[0].Analysis.RemoteError != "timeout" {
		t.Errorf("expected remote_error=timeout, got %q", snaps[0].Analysis.RemoteError)
	}
	if h.metrics.RemoteErrors.Load() != 1 {
		t.Errorf("expected remote error to be counted")
	}
}

func TestProcessFrame_LocalCountIsCanonical(t *testing.T) {
	an := &fakeAnalyzer{enabled: true, result: types.RemoteResult{FacesDetected: 3}}
	h := newHarness(t, baseSettings(), an)

	res := h.mustUpload(t)
	if res.FacesDetected != 1 {
		t.Errorf("expected local person count 1, got %d", res.FacesDetected)
	}
	if len(res.Violations) != 0 {
		t.Errorf("remote face count must not raise violations, got %+v", res.Violations)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Dedup, evidence, scoring
// ═══════════════════════════════════════════════════════════════════════════

func TestProcessFrame_DedupWindowPerType(t *testing.T) {
	cases := []struct {
		name    string
		spacing time.Duration
		want    int
	}{
		{"spaced 21s", 21 * time.Second, 4},
		{"spaced exactly 20s", 20 * time.Second, 4},
		{"spaced 5s", 5 * time.Second, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := baseSettings()
			st.MaxViolationsBeforeTerminate = 100
			h := newHarness(t, st, nil)
			h.detector.Set(types.LocalResult{PersonCount: 0})

			for i := 0; i < 4; i++ {
				h.mustUpload(t)
				h.clock.Advance(tc.spacing)
			}
			if n := len(h.violations(t)); n != tc.want {
				t.Errorf("expected %d violations, got %d", tc.want, n)
			}
		})
	}
}

func TestProcessFrame_EvidenceCooldown(t *testing.T) {
	h := newHarness(t, baseSettings(), nil)
	h.detector.Set(types.LocalResult{PersonCount: 0})

	first := h.mustUpload(t)
	if !first.EvidenceSaved || first.SnapshotID == nil {
		t.Fatal("expected first severe frame to save evidence")
	}

	h.clock.Advance(25 * time.Second)
	second := h.mustUpload(t)
	if second.EvidenceSaved {
		t.Error("expected evidence cooldown to skip the second snapshot")
	}
	if len(second.Violations) != 1 {
		t.Fatalf("expected the violation itself to be recorded, got %d", len(second.Violations))
	}
	if second.Violations[0].SnapshotID != nil {
		t.Error("violation without retained evidence must not reference a snapshot")
	}

	h.clock.Advance(6 * time.Second)
	third := h.mustUpload(t)
	if !third.EvidenceSaved {
		t.Error("expected evidence once the cooldown elapsed")
	}

	if n := len(h.snapshots(t)); n != 2 {
		t.Errorf("expected 2 snapshots, got %d", n)
	}
}

func TestProcessFrame_LowSeverityKeepsNoEvidence(t *testing.T) {
	an := &fakeAnalyzer{enabled: true, result: types.RemoteResult{
		FacesDetected: 1,
		Gaze:          &types.Gaze{Direction: types.GazeLeft, YawDegrees: 50, IsLookingAway: true},
	}}
	h := newHarness(t, baseSettings(), an)

	res := h.mustUpload(t)
	if len(res.Violations) != 1 || res.Violations[0].Type != types.ViolationLookingAway {
		t.Fatalf("expected LOOKING_AWAY, got %+v", res.Violations)
	}
	if res.EvidenceSaved {
		t.Error("severity 2 must not retain evidence")
	}
}

func TestProcessFrame_UnreliableCandidatesNotPersisted(t *testing.T) {
	st := baseSettings()
	st.MinConfidenceThreshold = 0.99
	h := newHarness(t, st, nil)
	h.detector.Set(types.LocalResult{PersonCount: 0})

	res := h.mustUpload(t)
	if len(res.Violations) != 0 {
		t.Fatalf("expected unreliable candidate to be dropped, got %+v", res.Violations)
	}
	if res.EvidenceSaved {
		t.Error("dropped candidates must not trigger evidence")
	}
	if n := len(h.violations(t)); n != 0 {
		t.Errorf("expected nothing stored, got %d", n)
	}
	if h.metrics.CandidatesDropped.Load() != 1 {
		t.Errorf("expected one dropped candidate, got %d", h.metrics.CandidatesDropped.Load())
	}
}

func TestProcessFrame_TemporalPattern(t *testing.T) {
	st := baseSettings()
	st.EnableTemporalAnalysis = true
	st.DetectNoFace = false
	st.MaxViolationsBeforeTerminate = 100
	h := newHarness(t, st, nil)

	// 3 of 10 samples without a subject is the intermittent threshold.
	for i := 0; i < 10; i++ {
		if i < 3 {
			h.detector.Set(types.LocalResult{PersonCount: 0})
		} else {
			h.detector.Set(types.LocalResult{PersonCount: 1})
		}
		h.mustUpload(t)
		h.clock.Advance(time.Second)
	}

	found := false
	for _, v := range h.violations(t) {
		if v.Type == types.ViolationIntermittent {
			found = true
		}
	}
	if !found {
		t.Error("expected INTERMITTENT_FACE once the window held 3 empty frames")
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Identity verification
// ═══════════════════════════════════════════════════════════════════════════

func registerReference(t *testing.T, h *harness) {
	t.Helper()
	err := h.store.ReplaceReference(context.Background(), types.FaceReference{
		ID: "ref-1", StudentID: testStudent, Image: h.frame, CapturedAt: h.clock.Now(), QualityScore: 0.9,
	})
	if err != nil {
		t.Fatalf("ReplaceReference: %v", err)
	}
}

func TestProcessFrame_VerificationThrottle(t *testing.T) {
	st := baseSettings()
	st.RequireFaceVerification = true
	st.FaceVerificationIntervalSeconds = 30
	an := &fakeAnalyzer{
		enabled: true,
		result:  types.RemoteResult{FacesDetected: 1},
		match:   &types.FaceVerification{IsMatch: true, Confidence: 0.95, Message: "Match"},
	}
	h := newHarness(t, st, an)
	registerReference(t, h)

	for _, step := range []time.Duration{0, 10 * time.Second, 21 * time.Second} {
		h.clock.Advance(step)
		h.mustUpload(t)
	}
	// Frames at 0s, 10s and 31s: the second is inside the interval.
	if got := an.refCalls.Load(); got != 2 {
		t.Errorf("expected 2 verifications, got %d", got)
	}
}

func TestProcessFrame_FaceMismatch(t *testing.T) {
	st := baseSettings()
	st.RequireFaceVerification = true
	st.DetectLookingAway = false
	an := &fakeAnalyzer{
		enabled: true,
		result:  types.RemoteResult{FacesDetected: 1},
		match:   &types.FaceVerification{IsMatch: false, Confidence: 0.9, Message: "Identity Mismatch"},
	}
	h := newHarness(t, st, an)
	registerReference(t, h)

	res := h.mustUpload(t)
	if res.FaceVerified {
		t.Error("expected face_verified=false")
	}
	if len(res.Violations) != 1 || res.Violations[0].Type != types.ViolationFaceNotMatched {
		t.Fatalf("expected FACE_NOT_MATCHED, got %+v", res.Violations)
	}
	if !res.EvidenceSaved {
		t.Error("severity 5 mismatch should retain evidence")
	}
}

func TestProcessFrame_NoRemoteCallWhenNothingNeedsIt(t *testing.T) {
	st := baseSettings()
	st.DetectLookingAway = false
	an := &fakeAnalyzer{enabled: true}
	h := newHarness(t, st, an)

	h.mustUpload(t)
	if an.calls.Load() != 0 {
		t.Errorf("expected no remote call, got %d", an.calls.Load())
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Termination and notifications
// ═══════════════════════════════════════════════════════════════════════════

func TestProcessFrame_TerminatesAtThreshold(t *testing.T) {
	st := baseSettings()
	st.MaxViolationsBeforeTerminate = 3
	h := newHarness(t, st, nil)
	h.detector.Set(types.LocalResult{PersonCount: 0})

	var res types.FrameResult
	for i := 0; i < 3; i++ {
		res = h.mustUpload(t)
		if i < 2 && res.IsTerminated {
			t.Fatalf("terminated early at frame %d", i)
		}
		h.clock.Advance(21 * time.Second)
	}

	if !res.IsTerminated || !res.ViolationsExceeded {
		t.Fatalf("expected termination, got %+v", res)
	}
	if res.TotalViolations != 3 {
		t.Errorf("expected total 3, got %d", res.TotalViolations)
	}

	sess, err := h.store.GetSession(context.Background(), testSession)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != types.SessionTerminated || sess.EndedAt == nil {
		t.Errorf("expected TERMINATED with ended_at, got %s", sess.Status)
	}

	if _, err := h.upload(t); !errors.Is(err, service.ErrSessionNotActive) {
		t.Errorf("expected frames after termination to be rejected, got %v", err)
	}
	if h.svc.Windows().Sessions() != 0 {
		t.Error("expected temporal state to be discarded on termination")
	}

	h.notifier.Wait()
	sent := h.sent.Sent()
	if n := countSubject(sent, "Proctoring Violation Detected"); n != 2 {
		t.Errorf("expected supervisor alerts at 1 and at the threshold, got %d", n)
	}
	if n := countSubject(sent, "Exam Auto-Terminated"); n != 1 {
		t.Errorf("expected one termination notice, got %d", n)
	}
	for _, n := range sent {
		if n.Subject == "Exam Auto-Terminated" && (len(n.UserIDs) != 1 || n.UserIDs[0] != testStudent) {
			t.Errorf("termination notice should go to the student, got %v", n.UserIDs)
		}
		if n.Subject == "Proctoring Violation Detected" && n.Metadata["action"] != "proctoring_violation" {
			t.Errorf("unexpected metadata %v", n.Metadata)
		}
	}
}

func TestProcessFrame_ConcurrentFramesTerminateOnce(t *testing.T) {
	st := baseSettings()
	st.MaxViolationsBeforeTerminate = 2
	h := newHarness(t, st, nil)
	h.detector.Set(types.LocalResult{PersonCount: 0, PhoneCount: 1})

	const workers = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		terminated int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.upload(t)
			if err != nil {
				if !errors.Is(err, service.ErrSessionNotActive) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if res.IsTerminated {
				mu.Lock()
				terminated++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	h.notifier.Wait()

	if terminated != 1 {
		t.Errorf("expected exactly one terminating frame, got %d", terminated)
	}
	if n := countSubject(h.sent.Sent(), "Exam Auto-Terminated"); n != 1 {
		t.Errorf("expected exactly one termination notice, got %d", n)
	}
	if h.metrics.SessionsTerminated.Load() != 1 {
		t.Errorf("expected one termination counted, got %d", h.metrics.SessionsTerminated.Load())
	}
}

func TestProcessFrame_TerminationAfterClientReportsAlertsSupervisors(t *testing.T) {
	st := baseSettings()
	st.MaxViolationsBeforeTerminate = 2
	h := newHarness(t, st, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, _, err := h.svc.ReportClientViolation(ctx, testSession, testStudent,
			types.ClientViolationRequest{ViolationType: types.ViolationCameraOff}); err != nil {
			t.Fatalf("ReportClientViolation: %v", err)
		}
		h.clock.Advance(time.Second)
	}

	res := h.mustUpload(t)
	if !res.IsTerminated || res.TotalViolations != 2 {
		t.Fatalf("expected the clean frame to terminate at total 2, got %+v", res)
	}

	h.notifier.Wait()
	sent := h.sent.Sent()
	// First violation, threshold reached, and the termination itself.
	if n := countSubject(sent, "Proctoring Violation Detected"); n != 3 {
		t.Errorf("expected 3 supervisor alerts, got %d", n)
	}
	if n := countSubject(sent, "Exam Auto-Terminated"); n != 1 {
		t.Errorf("expected one termination notice, got %d", n)
	}
}

// terminatingDetector ends the session while the frame is being analyzed.
type terminatingDetector struct {
	store *memory.Store
}

func (d *terminatingDetector) Detect(context.Context, image.Image) types.LocalResult {
	sess, _ := d.store.GetSession(context.Background(), testSession)
	sess.Status = types.SessionTerminated
	d.store.PutSession(sess)
	return types.LocalResult{PersonCount: 0}
}

func TestProcessFrame_RejectedCommitDropsWindow(t *testing.T) {
	st := baseSettings()
	st.EnableTemporalAnalysis = true
	h := newHarness(t, st, nil, func(d *service.Dependencies) {
		d.Detector = &terminatingDetector{store: d.Store.(*memory.Store)}
	})

	_, err := h.upload(t)
	if !errors.Is(err, service.ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
	if n := h.svc.Windows().Sessions(); n != 0 {
		t.Errorf("expected no temporal window after a rejected commit, got %d", n)
	}
	if n := len(h.violations(t)); n != 0 {
		t.Errorf("expected no violations, got %d", n)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Evidence storage
// ═══════════════════════════════════════════════════════════════════════════

func TestProcessFrame_EvidenceKeptWhenAllStorageFails(t *testing.T) {
	remote, local := &downStore{}, &downStore{}
	h := newHarness(t, baseSettings(), nil, withObjects(remote, local))
	h.detector.Set(types.LocalResult{PersonCount: 2})

	res := h.mustUpload(t)
	if !res.EvidenceSaved || res.SnapshotID == nil {
		t.Fatalf("expected evidence row despite storage failure, got %+v", res)
	}
	if remote.calls.Load() != 1 || local.calls.Load() != 1 {
		t.Errorf("expected one attempt per backend, got remote=%d local=%d", remote.calls.Load(), local.calls.Load())
	}

	snaps := h.snapshots(t)
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}
	if snaps[0].ImageURL != "" || snaps[0].ImagePath != "" {
		t.Errorf("expected no image location, got url=%q path=%q", snaps[0].ImageURL, snaps[0].ImagePath)
	}

	vs := h.violations(t)
	if len(vs) != 1 || vs[0].Type != types.ViolationMultipleFaces {
		t.Fatalf("expected MULTIPLE_FACES row, got %+v", vs)
	}
	if vs[0].SnapshotID == nil || *vs[0].SnapshotID != snaps[0].ID {
		t.Error("violation should reference the retained snapshot")
	}
}

func TestProcessFrame_EvidenceFallsBackToLocalDirectory(t *testing.T) {
	remote := &downStore{}
	dir := t.TempDir()
	h := newHarness(t, baseSettings(), nil, withObjects(remote, storage.LocalStore{Root: dir}))
	h.detector.Set(types.LocalResult{PersonCount: 0})

	res := h.mustUpload(t)
	if !res.EvidenceSaved {
		t.Fatal("expected evidence to be saved")
	}

	snaps := h.snapshots(t)
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}
	if snaps[0].ImageURL != "" {
		t.Errorf("expected no remote url, got %q", snaps[0].ImageURL)
	}
	if !strings.HasPrefix(snaps[0].ImagePath, dir) {
		t.Fatalf("expected image under %s, got %q", dir, snaps[0].ImagePath)
	}
	b, err := os.ReadFile(snaps[0].ImagePath)
	if err != nil {
		t.Fatalf("read evidence: %v", err)
	}
	if !bytes.Equal(b, h.frame) {
		t.Error("stored evidence differs from the uploaded frame")
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Throttled identity checks
// ═══════════════════════════════════════════════════════════════════════════

func TestProcessFrame_ThrottledMismatchWithoutConfidenceIsKept(t *testing.T) {
	st := types.DefaultSettings()
	st.DetectLookingAway = false
	st.MaxViolationsBeforeTerminate = 100
	an := &fakeAnalyzer{
		enabled: true,
		result:  types.RemoteResult{FacesDetected: 1},
		match:   &types.FaceVerification{IsMatch: false, Message: "Identity Mismatch"},
	}
	h := newHarness(t, st, an)
	registerReference(t, h)

	for i := 0; i < 9; i++ {
		h.mustUpload(t)
		h.clock.Advance(10 * time.Second)
	}

	// Verified at 0s, 30s and 60s.
	if got := an.refCalls.Load(); got != 3 {
		t.Fatalf("expected 3 verifications, got %d", got)
	}
	n := 0
	for _, v := range h.violations(t) {
		if v.Type == types.ViolationFaceNotMatched {
			n++
		}
	}
	if n != 3 {
		t.Errorf("expected one FACE_NOT_MATCHED per verification, got %d", n)
	}
	if d := h.metrics.CandidatesDropped.Load(); d != 0 {
		t.Errorf("expected no dropped candidates, got %d", d)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/detect"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/notify"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/policy"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/rules"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/scoring"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/storage"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/temporal"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/vision"
	"github.com/BrandonDHaskell/Argus/server/internal/metrics"
)

const (
	DefaultFrameTimeout  = 8 * time.Second
	DefaultRemoteTimeout = 6 * time.Second

	remoteTimeoutReason = "timeout"
)

// Detector is the local detector. It never fails; problems come back in
// LocalResult.Error.
type Detector interface {
	Detect(ctx context.Context, img image.Image) types.LocalResult
}

// Analyzer is the remote vision model. Analyze never fails either; a
// degraded answer carries RemoteResult.Error.
type Analyzer interface {
	Enabled() bool
	Analyze(ctx context.Context, frame, reference []byte) types.RemoteResult
	CheckReference(ctx context.Context, img []byte) (int, error)
}

type Config struct {
	FrameTimeout  time.Duration
	RemoteTimeout time.Duration

	// DefaultSettings supplies settings for assessments without their own
	// row. Nil means types.DefaultSettings.
	DefaultSettings func() types.Settings
}

type Dependencies struct {
	Store    store.Store
	Detector Detector
	Analyzer Analyzer      // optional
	Objects  storage.Store // optional; evidence rows are kept without an image location
	Notifier *notify.Dispatcher
	Windows  *temporal.Store
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// ProctorService runs the per-frame pipeline: analysis, rules, temporal
// patterns, scoring, evidence retention and the atomic violation commit.
type ProctorService struct {
	cfg      Config
	store    store.Store
	detector Detector
	analyzer Analyzer
	objects  storage.Store
	notifier *notify.Dispatcher
	windows  *temporal.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	locks *keyedMutex

	verifyMu     sync.Mutex
	lastVerified map[string]time.Time
}

func NewProctorService(cfg Config, deps Dependencies) *ProctorService {
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = DefaultFrameTimeout
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = DefaultRemoteTimeout
	}
	if cfg.DefaultSettings == nil {
		cfg.DefaultSettings = types.DefaultSettings
	}
	if deps.Windows == nil {
		deps.Windows = temporal.NewStore()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &ProctorService{
		cfg:          cfg,
		store:        deps.Store,
		detector:     deps.Detector,
		analyzer:     deps.Analyzer,
		objects:      deps.Objects,
		notifier:     deps.Notifier,
		windows:      deps.Windows,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		now:          deps.Now,
		locks:        newKeyedMutex(),
		lastVerified: make(map[string]time.Time),
	}
}

// Windows exposes the temporal store so the sweeper and metrics can share it.
func (s *ProctorService) Windows() *temporal.Store { return s.windows }

// ProcessFrame analyzes one uploaded frame and persists whatever it
// finds. Validation errors leave every piece of state untouched.
func (s *ProctorService) ProcessFrame(ctx context.Context, up types.FrameUpload) (types.FrameResult, error) {
	start := time.Now()
	s.metrics.FramesReceived.Add(1)

	sess, settings, img, err := s.admit(ctx, up)
	if err != nil {
		s.metrics.FramesRejected.Add(1)
		return types.FrameResult{}, err
	}
	now := s.now().UTC()

	actx, cancel := context.WithTimeout(ctx, s.cfg.FrameTimeout)
	analysis := s.analyze(actx, sess, settings, up.Frame, img, now)
	cancel()

	candidates := rules.DetectViolations(analysis, settings)
	var window []types.AnalysisResult
	if settings.EnableTemporalAnalysis {
		obs := s.windows.Add(sess.ID, settings.TemporalWindowSize, analysis)
		candidates = append(candidates, obs.Patterns...)
		window = obs.Samples
	}

	kept, dropped := scoring.Filter(scoring.NewDefaultScorer(settings), candidates, analysis, window)
	s.metrics.CandidatesDropped.Add(uint64(dropped))

	res, err := s.commit(ctx, sess, settings, analysis, kept, up, now)
	if err != nil {
		return types.FrameResult{}, err
	}

	s.metrics.FramesProcessed.Add(1)
	s.metrics.ObserveFrame(time.Since(start))
	return res, nil
}

func (s *ProctorService) admit(ctx context.Context, up types.FrameUpload) (types.Session, types.Settings, image.Image, error) {
	sid := strings.TrimSpace(up.SessionID)
	if sid == "" {
		return types.Session{}, types.Settings{}, nil, ErrInvalidSessionID
	}

	sess, err := s.store.GetSession(ctx, sid)
	if err != nil {
		return types.Session{}, types.Settings{}, nil, fmt.Errorf("load session %s: %w", sid, err)
	}
	if sess.StudentID != strings.TrimSpace(up.CallerID) {
		return types.Session{}, types.Settings{}, nil, ErrNotSessionOwner
	}
	if !sess.Active() {
		return types.Session{}, types.Settings{}, nil, ErrSessionNotActive
	}

	settings, err := s.settings(ctx, sess.AssessmentID)
	if err != nil {
		return types.Session{}, types.Settings{}, nil, err
	}
	if !settings.Enabled {
		return types.Session{}, types.Settings{}, nil, ErrProctoringDisabled
	}

	img, _, err := detect.DecodeFrame(up.Frame)
	if err != nil {
		return types.Session{}, types.Settings{}, nil, err
	}
	return sess, settings, img, nil
}

func (s *ProctorService) settings(ctx context.Context, assessmentID string) (types.Settings, error) {
	st, err := s.store.GetSettings(ctx, assessmentID)
	if errors.Is(err, store.ErrNoSettings) {
		return s.cfg.DefaultSettings().Normalize(), nil
	}
	if err != nil {
		return types.Settings{}, fmt.Errorf("load settings %s: %w", assessmentID, err)
	}
	return st.Normalize(), nil
}

// analyze runs the local detector inline and the remote analyzer in its
// own goroutine, then merges the two. A slow remote call is abandoned
// after RemoteTimeout and the frame continues on local signals.
func (s *ProctorService) analyze(ctx context.Context, sess types.Session, st types.Settings, frame []byte, img image.Image, now time.Time) types.AnalysisResult {
	reference := s.referenceIfDue(ctx, sess, st, now)
	runRemote := s.analyzer != nil && s.analyzer.Enabled() && (st.DetectLookingAway || reference != nil)

	var (
		remoteCh = make(chan types.RemoteResult, 1)
		rctx     context.Context
		cancel   context.CancelFunc
	)
	if runRemote {
		s.metrics.RemoteCalls.Add(1)
		rctx, cancel = context.WithTimeout(ctx, s.cfg.RemoteTimeout)
		defer cancel()
		go func() {
			defer func() {
				if r := recover(); r != nil {
					remoteCh <- vision.Neutral(fmt.Sprintf("remote analyzer panic: %v", r))
				}
			}()
			remoteCh <- s.analyzer.Analyze(rctx, frame, reference)
		}()
	}

	local := s.detector.Detect(ctx, img)
	if local.Error != "" {
		s.metrics.DetectorErrors.Add(1)
	}
	if !runRemote {
		return merge(local, nil)
	}

	var remote types.RemoteResult
	select {
	case remote = <-remoteCh:
	case <-rctx.Done():
		remote = vision.Neutral(remoteTimeoutReason)
	}
	if remote.Error != "" && errors.Is(rctx.Err(), context.DeadlineExceeded) {
		remote.Error = remoteTimeoutReason
	}
	if remote.Error != "" {
		s.metrics.RemoteErrors.Add(1)
		s.logger.Warn("remote analysis degraded", "session_id", sess.ID, "reason", remote.Error)
	}
	if remote.FaceVerification != nil {
		s.markVerified(sess.ID, now)
	}
	return merge(local, &remote)
}

// referenceIfDue returns the student's reference image when an identity
// check is required and the throttle allows one, nil otherwise.
func (s *ProctorService) referenceIfDue(ctx context.Context, sess types.Session, st types.Settings, now time.Time) []byte {
	if !st.RequireFaceVerification || s.analyzer == nil || !s.analyzer.Enabled() {
		return nil
	}
	interval := time.Duration(st.FaceVerificationIntervalSeconds) * time.Second
	if !policy.NeedsVerification(s.verifiedAt(sess.ID), now, interval) {
		return nil
	}

	ref, err := s.store.ActiveReference(ctx, sess.StudentID)
	if err != nil {
		if !errors.Is(err, store.ErrNoFaceReference) {
			s.logger.Warn("load face reference", "student_id", sess.StudentID, "err", err)
		}
		return nil
	}
	if len(ref.Image) == 0 {
		return nil
	}
	return ref.Image
}

func (s *ProctorService) verifiedAt(sessionID string) *time.Time {
	s.verifyMu.Lock()
	defer s.verifyMu.Unlock()
	t, ok := s.lastVerified[sessionID]
	if !ok {
		return nil
	}
	return &t
}

func (s *ProctorService) markVerified(sessionID string, at time.Time) {
	s.verifyMu.Lock()
	s.lastVerified[sessionID] = at
	s.verifyMu.Unlock()
}

// merge builds the per-frame view. The local person count is always the
// subject count; the remote side contributes gaze, identity and any
// prohibited objects the local model missed.
func merge(local types.LocalResult, remote *types.RemoteResult) types.AnalysisResult {
	a := types.AnalysisResult{
		SubjectCount:      local.PersonCount,
		Objects:           local.Raw,
		ProhibitedObjects: local.ProhibitedLabels(),
		Error:             local.Error,
	}
	if a.Objects == nil {
		a.Objects = []types.Detection{}
	}
	if a.ProhibitedObjects == nil {
		a.ProhibitedObjects = []string{}
	}
	if remote == nil {
		return a
	}

	a.RemoteError = remote.Error
	if remote.Error != "" {
		return a
	}
	faces := remote.FacesDetected
	a.RemoteFaces = &faces
	a.Gaze = remote.Gaze
	a.FaceVerification = remote.FaceVerification
	for _, p := range remote.Prohibited {
		if !slices.Contains(a.ProhibitedObjects, p) {
			a.ProhibitedObjects = append(a.ProhibitedObjects, p)
		}
	}
	return a
}

// commit is the per-session critical section: evidence decision, upload,
// and the single store transaction that dedups, recounts and terminates.
func (s *ProctorService) commit(
	ctx context.Context,
	sess types.Session,
	st types.Settings,
	analysis types.AnalysisResult,
	kept []types.Candidate,
	up types.FrameUpload,
	now time.Time,
) (types.FrameResult, error) {
	unlock := s.locks.Lock(sess.ID)
	defer unlock()

	var snap *types.Snapshot
	if policy.RequiresEvidence(kept) {
		last, err := s.store.LastEvidenceAt(ctx, sess.ID)
		if err != nil {
			return types.FrameResult{}, fmt.Errorf("last evidence: %w", err)
		}
		if policy.ShouldRetainEvidence(last, now, kept) {
			snap = s.evidence(ctx, sess.ID, analysis, up, now)
		}
	}

	vs := make([]types.Violation, 0, len(kept))
	for _, c := range kept {
		v := types.Violation{
			ID:                  newID(),
			SessionID:           sess.ID,
			Type:                c.Type,
			Severity:            c.Severity,
			OccurredAt:          now,
			Details:             c.Details,
			ConfidenceScore:     c.ConfidenceScore,
			ConfidenceBreakdown: c.ConfidenceBreakdown,
		}
		if snap != nil {
			id := snap.ID
			v.SnapshotID = &id
		}
		vs = append(vs, v)
	}

	cr, err := s.store.CommitFrame(ctx, store.FrameCommit{
		SessionID:     sess.ID,
		Now:           now,
		Snapshot:      snap,
		Violations:    vs,
		DedupWindow:   policy.ViolationTypeCooldown,
		MaxViolations: st.MaxViolationsBeforeTerminate,
	})
	if err != nil {
		if errors.Is(err, store.ErrSessionNotActive) {
			// A frame in flight during termination must not revive the window.
			s.Forget(sess.ID)
		}
		return types.FrameResult{}, fmt.Errorf("commit frame %s: %w", sess.ID, err)
	}

	s.metrics.DuplicatesSuppressed.Add(uint64(cr.Duplicates))
	for _, v := range cr.Inserted {
		s.metrics.ViolationRecorded(string(v.Type))
	}
	if snap != nil {
		s.metrics.EvidenceSaved.Add(1)
	}

	// Client-reported rows can carry the count to the threshold between
	// frames, so termination always alerts supervisors.
	if cr.Terminated || policy.ShouldNotifySupervisors(cr.PrevTotal, cr.Total, st.MaxViolationsBeforeTerminate) {
		s.notifySupervisors(ctx, sess)
	}
	if cr.Terminated {
		s.metrics.SessionsTerminated.Add(1)
		s.notifyTermination(sess, st.MaxViolationsBeforeTerminate)
		s.Forget(sess.ID)
		s.logger.Info("session auto-terminated", "session_id", sess.ID, "total", cr.Total, "max", st.MaxViolationsBeforeTerminate)
	}

	return frameResult(analysis, snap, cr), nil
}

// evidence builds the snapshot row for a retained frame. Storage failure
// only costs the image location; the row is still written.
func (s *ProctorService) evidence(ctx context.Context, sessionID string, analysis types.AnalysisResult, up types.FrameUpload, now time.Time) *types.Snapshot {
	snap := &types.Snapshot{
		ID:          newID(),
		SessionID:   sessionID,
		CapturedAt:  now,
		MotionScore: up.MotionScore,
		IsViolation: true,
	}
	types.NewSnapshotSummary(snap, analysis)

	if s.objects == nil {
		return snap
	}
	loc, err := s.objects.Put(ctx, storage.SnapshotKey(sessionID, now), up.Frame)
	if err != nil {
		s.logger.Warn("evidence upload failed", "session_id", sessionID, "err", err)
		return snap
	}
	snap.ImageURL = loc.URL
	snap.ImagePath = loc.Path
	return snap
}

func frameResult(a types.AnalysisResult, snap *types.Snapshot, cr store.CommitResult) types.FrameResult {
	res := types.FrameResult{
		EvidenceSaved:      snap != nil,
		FacesDetected:      a.SubjectCount,
		Gaze:               a.Gaze,
		FaceVerified:       true,
		Violations:         cr.Inserted,
		TotalViolations:    cr.Total,
		IsTerminated:       cr.Terminated,
		ViolationsExceeded: cr.Exceeded,
		AnalysisError:      a.Error,
	}
	if snap != nil {
		id := snap.ID
		res.SnapshotID = &id
	}
	if a.FaceVerification != nil {
		res.FaceVerified = a.FaceVerification.IsMatch
		res.FaceVerificationConfidence = a.FaceVerification.Confidence
	}
	if res.Violations == nil {
		res.Violations = []types.Violation{}
	}
	return res
}

func (s *ProctorService) notifySupervisors(ctx context.Context, sess types.Session) {
	ids, err := s.store.Supervisors(ctx, sess.AssessmentID)
	if err != nil {
		s.logger.Warn("load supervisors", "assessment_id", sess.AssessmentID, "err", err)
		return
	}
	s.notifier.Fire(types.Notification{
		UserIDs: ids,
		Subject: "Proctoring Violation Detected",
		Body:    fmt.Sprintf("Violation detected for student %s in assessment %s.", sess.StudentID, sess.AssessmentID),
		Metadata: map[string]string{
			"session_id":    sess.ID,
			"assessment_id": sess.AssessmentID,
			"action":        "proctoring_violation",
		},
	})
}

func (s *ProctorService) notifyTermination(sess types.Session, max int) {
	s.notifier.Fire(types.Notification{
		UserIDs: []string{sess.StudentID},
		Subject: "Exam Auto-Terminated",
		Body:    fmt.Sprintf("Your exam was automatically terminated due to exceeding the allowed violations limit (%d).", max),
		Metadata: map[string]string{
			"session_id":    sess.ID,
			"assessment_id": sess.AssessmentID,
			"action":        "exam_terminated",
		},
	})
}

// Forget drops all in-memory state held for a session.
func (s *ProctorService) Forget(sessionID string) {
	s.windows.Close(sessionID)
	s.verifyMu.Lock()
	delete(s.lastVerified, sessionID)
	s.verifyMu.Unlock()
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

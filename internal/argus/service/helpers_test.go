package service_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/notify"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/storage"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/store/memory"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
	"github.com/BrandonDHaskell/Argus/server/internal/metrics"
)

const (
	testAssessment = "assess-1"
	testSession    = "session-1"
	testStudent    = "student-1"
	testTeacher    = "teacher-1"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func jpegFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// clock is a settable time source shared by the service under test.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeDetector struct {
	mu  sync.Mutex
	res types.LocalResult
}

func (f *fakeDetector) Detect(context.Context, image.Image) types.LocalResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.res
}

func (f *fakeDetector) Set(r types.LocalResult) {
	f.mu.Lock()
	f.res = r
	f.mu.Unlock()
}

type fakeAnalyzer struct {
	enabled bool
	delay   time.Duration
	result  types.RemoteResult
	match   *types.FaceVerification // returned when a reference is sent
	faces   int
	faceErr error

	calls     atomic.Int32
	refCalls  atomic.Int32
	checkRefs atomic.Int32
}

func (f *fakeAnalyzer) Enabled() bool { return f.enabled }

func (f *fakeAnalyzer) Analyze(ctx context.Context, _, reference []byte) types.RemoteResult {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return types.RemoteResult{FacesDetected: 1, Error: ctx.Err().Error()}
		}
	}
	r := f.result
	if len(reference) > 0 {
		f.refCalls.Add(1)
		r.FaceVerification = f.match
	}
	return r
}

func (f *fakeAnalyzer) CheckReference(context.Context, []byte) (int, error) {
	f.checkRefs.Add(1)
	return f.faces, f.faceErr
}

type harness struct {
	svc      *service.ProctorService
	store    *memory.Store
	detector *fakeDetector
	analyzer *fakeAnalyzer
	sent     *notify.Recorder
	notifier *notify.Dispatcher
	metrics  *metrics.Metrics
	clock    *clock
	frame    []byte
}

// baseSettings isolates single-frame rules: no temporal patterns, no
// identity checks.
func baseSettings() types.Settings {
	st := types.DefaultSettings()
	st.EnableTemporalAnalysis = false
	st.RequireFaceVerification = false
	return st
}

func newHarness(t *testing.T, st types.Settings, an *fakeAnalyzer, opts ...func(*service.Dependencies)) *harness {
	t.Helper()
	h := &harness{
		store:    memory.New(),
		detector: &fakeDetector{res: types.LocalResult{PersonCount: 1}},
		analyzer: an,
		sent:     &notify.Recorder{},
		metrics:  metrics.New(),
		clock:    newClock(),
		frame:    jpegFrame(t),
	}
	h.notifier = notify.NewDispatcher(h.sent, silentLogger())

	h.store.PutSession(types.Session{
		ID:           testSession,
		StudentID:    testStudent,
		AssessmentID: testAssessment,
		Status:       types.SessionInProgress,
		StartedAt:    h.clock.Now(),
	})
	h.store.PutSettings(testAssessment, st)
	h.store.PutSupervisors(testAssessment, testTeacher)

	deps := service.Dependencies{
		Store:    h.store,
		Detector: h.detector,
		Notifier: h.notifier,
		Metrics:  h.metrics,
		Logger:   silentLogger(),
		Now:      h.clock.Now,
	}
	if an != nil {
		deps.Analyzer = an
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.svc = service.NewProctorService(service.Config{RemoteTimeout: 50 * time.Millisecond}, deps)
	return h
}

func (h *harness) upload(t *testing.T) (types.FrameResult, error) {
	t.Helper()
	return h.svc.ProcessFrame(context.Background(), types.FrameUpload{
		SessionID: testSession,
		CallerID:  testStudent,
		Frame:     h.frame,
	})
}

func (h *harness) mustUpload(t *testing.T) types.FrameResult {
	t.Helper()
	res, err := h.upload(t)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	return res
}

func (h *harness) violations(t *testing.T) []types.Violation {
	t.Helper()
	vs, err := h.store.ListViolations(context.Background(), testSession, true)
	if err != nil {
		t.Fatalf("ListViolations: %v", err)
	}
	return vs
}

func (h *harness) snapshots(t *testing.T) []types.Snapshot {
	t.Helper()
	ss, err := h.store.ListSnapshots(context.Background(), testSession, false)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	return ss
}

// withObjects routes evidence and media uploads through stores.
func withObjects(stores ...storage.Store) func(*service.Dependencies) {
	return func(d *service.Dependencies) {
		d.Objects = storage.NewFallback(silentLogger(), stores...)
	}
}

type downStore struct{ calls atomic.Int32 }

func (d *downStore) Put(context.Context, string, []byte) (storage.Location, error) {
	d.calls.Add(1)
	return storage.Location{}, errors.New("object store unavailable")
}

func countSubject(ns []types.Notification, subject string) int {
	n := 0
	for _, x := range ns {
		if x.Subject == subject {
			n++
		}
	}
	return n
}

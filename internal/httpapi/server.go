package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
	"github.com/BrandonDHaskell/Argus/server/internal/metrics"
)

type Dependencies struct {
	Logger  *slog.Logger
	Addr    string
	Proctor *service.ProctorService
	Faces   *service.FaceService
	Metrics *metrics.Metrics
	// Ready backs /healthz. Nil reports ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	mux        *http.ServeMux
	proctor    *service.ProctorService
	faces      *service.FaceService
	metrics    *metrics.Metrics
	ready      func(ctx context.Context) error
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:  d.Logger,
		mux:     mux,
		proctor: d.Proctor,
		faces:   d.Faces,
		metrics: d.Metrics,
		ready:   d.Ready,
	}

	mux.HandleFunc("POST /v1/proctoring/snapshot", requireUser(s.handleSnapshot))
	mux.HandleFunc("GET /v1/proctoring/session/{id}/status", requireUser(s.handleSessionStatus))
	mux.HandleFunc("POST /v1/proctoring/session/{id}/end", requireUser(s.handleEndSession))
	mux.HandleFunc("GET /v1/proctoring/session/{id}/violations", requireUser(s.handleListViolations))
	mux.HandleFunc("POST /v1/proctoring/session/{id}/violations", requireUser(s.handleClientViolation))
	mux.HandleFunc("GET /v1/proctoring/session/{id}/snapshots", requireUser(s.handleListSnapshots))
	mux.HandleFunc("POST /v1/proctoring/violation/{id}/review", requireUser(s.handleReview))
	mux.HandleFunc("POST /v1/proctoring/violation/{id}/acknowledge", requireUser(s.handleAcknowledge))
	mux.HandleFunc("POST /v1/proctoring/video-clip", requireUser(s.handleUploadClip))
	mux.HandleFunc("GET /v1/proctoring/session/{id}/video-clips", requireUser(s.handleListClips))
	mux.HandleFunc("POST /v1/proctoring/recording/upload", requireUser(s.handleUploadRecording))
	mux.HandleFunc("GET /v1/proctoring/session/{id}/recording", requireUser(s.handleSessionRecording))
	mux.HandleFunc("POST /v1/proctoring/register-face", requireUser(s.handleRegisterFace))
	mux.HandleFunc("GET /v1/proctoring/face-status", requireUser(s.handleFaceStatus))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics.Handler())
	}

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Frames ───────────────────────────────────────────────────────────────────

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	up, err := decodeFrameUpload(r)
	if err != nil {
		if s.metrics != nil {
			s.metrics.FramesRejected.Add(1)
		}
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	res, err := s.proctor.ProcessFrame(r.Context(), up)
	if err != nil {
		s.writeServiceError(w, "snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ── Sessions ─────────────────────────────────────────────────────────────────

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.proctor.SessionStatus(r.Context(), r.PathValue("id"), userFrom(r))
	if err != nil {
		s.writeServiceError(w, "session_status", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.proctor.EndSession(r.Context(), id, userFrom(r)); err != nil {
		s.writeServiceError(w, "end_session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "ended"})
}

func (s *Server) handleListViolations(w http.ResponseWriter, r *http.Request) {
	vs, err := s.proctor.ListViolations(r.Context(), r.PathValue("id"), userFrom(r), queryBool(r, "include_false_positives"))
	if err != nil {
		s.writeServiceError(w, "list_violations", err)
		return
	}
	if vs == nil {
		vs = []types.Violation{}
	}
	writeJSON(w, http.StatusOK, vs)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.proctor.ListSnapshots(r.Context(), r.PathValue("id"), userFrom(r), queryBool(r, "violations_only"))
	if err != nil {
		s.writeServiceError(w, "list_snapshots", err)
		return
	}
	if snaps == nil {
		snaps = []types.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleClientViolation(w http.ResponseWriter, r *http.Request) {
	var req types.ClientViolationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	v, total, err := s.proctor.ReportClientViolation(r.Context(), r.PathValue("id"), userFrom(r), req)
	if err != nil {
		s.writeServiceError(w, "client_violation", err)
		return
	}
	writeJSON(w, http.StatusCreated, clientViolationResponse{
		ViolationID:     v.ID,
		ViolationType:   v.Type,
		Severity:        v.Severity,
		OccurredAt:      v.OccurredAt.UTC().Format(time.RFC3339),
		TotalViolations: total,
	})
}

// ── Violations ───────────────────────────────────────────────────────────────

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req types.ReviewRequest
	if !decodeBody(w, r, &req) {
		return
	}

	v, err := s.proctor.ReviewViolation(r.Context(), r.PathValue("id"), userFrom(r), req.IsFalsePositive, req.ReviewNotes)
	if err != nil {
		s.writeServiceError(w, "review", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	v, err := s.proctor.AcknowledgeViolation(r.Context(), r.PathValue("id"), userFrom(r))
	if err != nil {
		s.writeServiceError(w, "acknowledge", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ── Client media ─────────────────────────────────────────────────────────────

func (s *Server) handleUploadClip(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxVideoBody)

	up, err := decodeClipUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	c, err := s.proctor.UploadClip(r.Context(), up)
	if err != nil {
		s.writeServiceError(w, "upload_clip", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListClips(w http.ResponseWriter, r *http.Request) {
	clips, err := s.proctor.ListClips(r.Context(), r.PathValue("id"), userFrom(r))
	if err != nil {
		s.writeServiceError(w, "list_clips", err)
		return
	}
	if clips == nil {
		clips = []types.VideoClip{}
	}
	writeJSON(w, http.StatusOK, types.ClipListResponse{Results: clips, Count: len(clips)})
}

func (s *Server) handleUploadRecording(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxVideoBody)

	up, err := decodeRecordingUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	rec, err := s.proctor.UploadRecording(r.Context(), up)
	if err != nil {
		s.writeServiceError(w, "upload_recording", err)
		return
	}
	writeJSON(w, http.StatusOK, newRecordingResponse(rec))
}

func (s *Server) handleSessionRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := s.proctor.SessionRecording(r.Context(), r.PathValue("id"), userFrom(r))
	if errors.Is(err, service.ErrNoRecording) {
		writeJSON(w, http.StatusOK, recordingResponse{Message: "No recording available"})
		return
	}
	if err != nil {
		s.writeServiceError(w, "session_recording", err)
		return
	}
	writeJSON(w, http.StatusOK, newRecordingResponse(rec))
}

// ── Face references ──────────────────────────────────────────────────────────

func (s *Server) handleRegisterFace(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	img, err := decodeImageUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	res, err := s.faces.Register(r.Context(), userFrom(r), img)
	if err != nil {
		s.writeServiceError(w, "register_face", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleFaceStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.faces.Status(r.Context(), userFrom(r))
	if err != nil {
		s.writeServiceError(w, "face_status", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("health check failed", "err", err)
			writeError(w, http.StatusServiceUnavailable, "unavailable", "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody decodes a JSON request body into v. An empty body leaves v at
// its zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, service.ErrViolationNotFound):
		writeError(w, http.StatusNotFound, "violation_not_found", err.Error())
	case errors.Is(err, service.ErrNotSessionOwner):
		writeError(w, http.StatusForbidden, "not_session_owner", err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, service.ErrSessionNotActive):
		terminated := true
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:        "session_not_active",
			Message:      err.Error(),
			IsTerminated: &terminated,
		})
	case errors.Is(err, service.ErrInvalidSessionID):
		writeError(w, http.StatusBadRequest, "invalid_session_id", err.Error())
	case errors.Is(err, service.ErrProctoringDisabled):
		writeError(w, http.StatusBadRequest, "proctoring_disabled", err.Error())
	case errors.Is(err, service.ErrUndecodableFrame):
		writeError(w, http.StatusBadRequest, "invalid_image", err.Error())
	case errors.Is(err, service.ErrInvalidViolation):
		writeError(w, http.StatusBadRequest, "invalid_violation_type", err.Error())
	case errors.Is(err, service.ErrInvalidSnapshot):
		writeError(w, http.StatusBadRequest, "invalid_snapshot", err.Error())
	case errors.Is(err, service.ErrEmptyVideo):
		writeError(w, http.StatusBadRequest, "missing_video", err.Error())
	case errors.Is(err, service.ErrFaceCount):
		writeError(w, http.StatusBadRequest, "face_count", err.Error())
	case errors.Is(err, service.ErrInvalidUserID):
		writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
	case errors.Is(err, service.ErrFaceCheckFailed):
		writeError(w, http.StatusServiceUnavailable, "face_check_failed", err.Error())
	default:
		s.logger.Error(op+" error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}

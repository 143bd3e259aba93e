package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/policy"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

const (
	defaultClientSeverity   = 2
	defaultClientConfidence = 1.0
)

// SessionStatus summarizes a session for its student or a supervisor.
func (s *ProctorService) SessionStatus(ctx context.Context, sessionID, callerID string) (types.SessionStatusResponse, error) {
	sess, err := s.sessionFor(ctx, sessionID, callerID, allowOwner|allowSupervisor)
	if err != nil {
		return types.SessionStatusResponse{}, err
	}

	snapshots, err := s.store.CountSnapshots(ctx, sess.ID)
	if err != nil {
		return types.SessionStatusResponse{}, fmt.Errorf("count snapshots: %w", err)
	}
	vs, err := s.store.ListViolations(ctx, sess.ID, false)
	if err != nil {
		return types.SessionStatusResponse{}, fmt.Errorf("list violations: %w", err)
	}

	resp := types.SessionStatusResponse{
		SessionID:       sess.ID,
		TotalSnapshots:  snapshots,
		TotalViolations: len(vs),
		ViolationCounts: make(map[types.ViolationType]int),
		IsTerminated:    sess.Status == types.SessionTerminated,
	}
	for i := range vs {
		resp.ViolationCounts[vs[i].Type]++
		if resp.LatestViolation == nil || vs[i].OccurredAt.After(resp.LatestViolation.OccurredAt) {
			resp.LatestViolation = &vs[i]
		}
	}

	_, err = s.store.ActiveReference(ctx, sess.StudentID)
	switch {
	case err == nil:
		resp.FaceRegistered = true
	case !errors.Is(err, store.ErrNoFaceReference):
		return types.SessionStatusResponse{}, fmt.Errorf("face reference: %w", err)
	}
	return resp, nil
}

// EndSession drops the in-memory analysis state of a session. The session
// row itself belongs to the exam system.
func (s *ProctorService) EndSession(ctx context.Context, sessionID, callerID string) error {
	sess, err := s.sessionFor(ctx, sessionID, callerID, allowOwner|allowSupervisor)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(sess.ID)
	defer unlock()
	s.Forget(sess.ID)
	return nil
}

func (s *ProctorService) ListViolations(ctx context.Context, sessionID, callerID string, includeFalsePositives bool) ([]types.Violation, error) {
	sess, err := s.sessionFor(ctx, sessionID, callerID, allowSupervisor)
	if err != nil {
		return nil, err
	}
	return s.store.ListViolations(ctx, sess.ID, includeFalsePositives)
}

func (s *ProctorService) ListSnapshots(ctx context.Context, sessionID, callerID string, violationsOnly bool) ([]types.Snapshot, error) {
	sess, err := s.sessionFor(ctx, sessionID, callerID, allowSupervisor)
	if err != nil {
		return nil, err
	}
	return s.store.ListSnapshots(ctx, sess.ID, violationsOnly)
}

// ReviewViolation records a supervisor's verdict. Marking a false positive
// does not rewrite the session count here; the next frame commit recounts.
func (s *ProctorService) ReviewViolation(ctx context.Context, violationID, reviewerID string, isFalsePositive bool, notes string) (types.Violation, error) {
	v, err := s.store.GetViolation(ctx, strings.TrimSpace(violationID))
	if err != nil {
		return types.Violation{}, err
	}
	if _, err := s.sessionFor(ctx, v.SessionID, reviewerID, allowSupervisor); err != nil {
		return types.Violation{}, err
	}
	return s.store.Review(ctx, v.ID, store.Review{
		ReviewerID:      strings.TrimSpace(reviewerID),
		IsFalsePositive: isFalsePositive,
		Notes:           notes,
		At:              s.now().UTC(),
	})
}

func (s *ProctorService) AcknowledgeViolation(ctx context.Context, violationID, studentID string) (types.Violation, error) {
	v, err := s.store.GetViolation(ctx, strings.TrimSpace(violationID))
	if err != nil {
		return types.Violation{}, err
	}
	if _, err := s.sessionFor(ctx, v.SessionID, studentID, allowOwner); err != nil {
		return types.Violation{}, err
	}
	return s.store.Acknowledge(ctx, v.ID)
}

// ReportClientViolation records a signal raised by the exam client itself
// (tab switch, camera off, talking). These rows skip deduplication and
// never terminate the session on their own; the next frame commit sees
// them in its recount. Supervisors are alerted on the same marks as for
// frame violations.
func (s *ProctorService) ReportClientViolation(ctx context.Context, sessionID, callerID string, req types.ClientViolationRequest) (types.Violation, int, error) {
	sess, err := s.sessionFor(ctx, sessionID, callerID, allowOwner)
	if err != nil {
		return types.Violation{}, 0, err
	}
	if !sess.Active() {
		return types.Violation{}, 0, ErrSessionNotActive
	}
	if !req.ViolationType.Valid() {
		return types.Violation{}, 0, fmt.Errorf("%w: %q", ErrInvalidViolation, req.ViolationType)
	}

	v := types.Violation{
		ID:              newID(),
		SessionID:       sess.ID,
		Type:            req.ViolationType,
		Severity:        clientSeverity(req.Severity),
		OccurredAt:      s.now().UTC(),
		Details:         req.Details,
		ConfidenceScore: clientConfidence(req.Details),
	}
	if v.Details == nil {
		v.Details = map[string]any{}
	}

	settings, err := s.settings(ctx, sess.AssessmentID)
	if err != nil {
		return types.Violation{}, 0, err
	}

	unlock := s.locks.Lock(sess.ID)
	defer unlock()

	if id := strings.TrimSpace(req.SnapshotID); id != "" {
		snaps, err := s.store.ListSnapshots(ctx, sess.ID, false)
		if err != nil {
			return types.Violation{}, 0, fmt.Errorf("list snapshots: %w", err)
		}
		if !slices.ContainsFunc(snaps, func(sn types.Snapshot) bool { return sn.ID == id }) {
			return types.Violation{}, 0, ErrInvalidSnapshot
		}
		v.SnapshotID = &id
	}

	total, err := s.store.RecordViolation(ctx, v)
	if err != nil {
		return types.Violation{}, 0, fmt.Errorf("record violation: %w", err)
	}
	s.metrics.ViolationRecorded(string(v.Type))

	// Exactly one row went in under the session lock.
	if policy.ShouldNotifySupervisors(total-1, total, settings.MaxViolationsBeforeTerminate) {
		s.notifySupervisors(ctx, sess)
	}
	return v, total, nil
}

func clientSeverity(n int) int {
	switch {
	case n == 0:
		return defaultClientSeverity
	case n < 1:
		return 1
	case n > 5:
		return 5
	}
	return n
}

func clientConfidence(details map[string]any) float64 {
	switch c := details["confidence"].(type) {
	case float64:
		return min(max(c, 0), 1)
	case int:
		return min(max(float64(c), 0), 1)
	}
	return defaultClientConfidence
}

type access uint8

const (
	allowOwner access = 1 << iota
	allowSupervisor
)

// sessionFor loads a session and checks that callerID may act on it.
func (s *ProctorService) sessionFor(ctx context.Context, sessionID, callerID string, allow access) (types.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	callerID = strings.TrimSpace(callerID)
	if sessionID == "" {
		return types.Session{}, ErrInvalidSessionID
	}
	if callerID == "" {
		return types.Session{}, ErrInvalidUserID
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return types.Session{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	if allow&allowOwner != 0 && sess.StudentID == callerID {
		return sess, nil
	}
	if allow&allowSupervisor != 0 {
		ids, err := s.store.Supervisors(ctx, sess.AssessmentID)
		if err != nil {
			return types.Session{}, fmt.Errorf("load supervisors: %w", err)
		}
		if slices.Contains(ids, callerID) {
			return sess, nil
		}
	}

	if allow == allowOwner {
		return types.Session{}, ErrNotSessionOwner
	}
	return types.Session{}, ErrForbidden
}

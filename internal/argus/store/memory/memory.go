package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/policy"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

// Store keeps everything in process. A single lock makes CommitFrame as
// atomic as the SQLite transaction it stands in for.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]types.Session
	settings    map[string]types.Settings
	supervisors map[string][]string
	faces       map[string][]types.FaceReference // by student, newest last
	snapshots   map[string][]types.Snapshot      // by session, in insert order
	violations  map[string][]types.Violation     // by session, in insert order
	clips       map[string][]types.VideoClip     // by session, in insert order
	recordings  map[string]types.Recording       // by session
}

func New() *Store {
	return &Store{
		sessions:    make(map[string]types.Session),
		settings:    make(map[string]types.Settings),
		supervisors: make(map[string][]string),
		faces:       make(map[string][]types.FaceReference),
		snapshots:   make(map[string][]types.Snapshot),
		violations:  make(map[string][]types.Violation),
		clips:       make(map[string][]types.VideoClip),
		recordings:  make(map[string]types.Recording),
	}
}

// PutSession, PutSettings and PutSupervisors stand in for the external
// systems that own those records.

func (s *Store) PutSession(sess types.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

func (s *Store) PutSettings(assessmentID string, st types.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[assessmentID] = st
}

func (s *Store) PutSupervisors(assessmentID string, userIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supervisors[assessmentID] = append([]string(nil), userIDs...)
}

func (s *Store) GetSession(_ context.Context, id string) (types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return types.Session{}, store.ErrSessionNotFound
	}
	return sess, nil
}

func (s *Store) GetSettings(_ context.Context, assessmentID string) (types.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.settings[assessmentID]
	if !ok {
		return types.Settings{}, store.ErrNoSettings
	}
	return st, nil
}

func (s *Store) Supervisors(_ context.Context, assessmentID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.supervisors[assessmentID]...), nil
}

func (s *Store) ActiveReference(_ context.Context, studentID string) (types.FaceReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.faces[studentID] {
		if r.IsActive {
			return r, nil
		}
	}
	return types.FaceReference{}, store.ErrNoFaceReference
}

func (s *Store) ReplaceReference(_ context.Context, ref types.FaceReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := s.faces[ref.StudentID]
	for i := range refs {
		refs[i].IsActive = false
	}
	ref.IsActive = true
	s.faces[ref.StudentID] = append(refs, ref)
	return nil
}

func (s *Store) LastEvidenceAt(_ context.Context, sessionID string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last *time.Time
	for _, sn := range s.snapshots[sessionID] {
		if !sn.IsViolation {
			continue
		}
		if last == nil || sn.CapturedAt.After(*last) {
			t := sn.CapturedAt
			last = &t
		}
	}
	return last, nil
}

func (s *Store) ListSnapshots(_ context.Context, sessionID string, violationsOnly bool) ([]types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Snapshot
	for _, sn := range s.snapshots[sessionID] {
		if violationsOnly && !sn.IsViolation {
			continue
		}
		out = append(out, sn)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CapturedAt.After(out[j].CapturedAt) })
	return out, nil
}

func (s *Store) CountSnapshots(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots[sessionID]), nil
}

func (s *Store) ListViolations(_ context.Context, sessionID string, includeFalsePositives bool) ([]types.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Violation
	for _, v := range s.violations[sessionID] {
		if v.IsFalsePositive && !includeFalsePositives {
			continue
		}
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return out, nil
}

func (s *Store) GetViolation(_ context.Context, id string) (types.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, _, _, ok := s.findLocked(id); ok {
		return v, nil
	}
	return types.Violation{}, store.ErrViolationNotFound
}

func (s *Store) findLocked(id string) (types.Violation, string, int, bool) {
	for sid, vs := range s.violations {
		for i, v := range vs {
			if v.ID == id {
				return v, sid, i, true
			}
		}
	}
	return types.Violation{}, "", 0, false
}

func (s *Store) Review(_ context.Context, id string, r store.Review) (types.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, sid, i, ok := s.findLocked(id)
	if !ok {
		return types.Violation{}, store.ErrViolationNotFound
	}
	at := r.At
	v.IsFalsePositive = r.IsFalsePositive
	v.ReviewedBy = r.ReviewerID
	v.ReviewNotes = r.Notes
	v.ReviewedAt = &at
	s.violations[sid][i] = v
	return v, nil
}

func (s *Store) Acknowledge(_ context.Context, id string) (types.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, sid, i, ok := s.findLocked(id)
	if !ok {
		return types.Violation{}, store.ErrViolationNotFound
	}
	v.Acknowledged = true
	s.violations[sid][i] = v
	return v, nil
}

func (s *Store) RecordViolation(_ context.Context, v types.Violation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[v.SessionID]
	if !ok {
		return 0, store.ErrSessionNotFound
	}
	if !sess.Active() {
		return 0, store.ErrSessionNotActive
	}
	s.violations[v.SessionID] = append(s.violations[v.SessionID], v)
	sess.ViolationCount = s.countLocked(v.SessionID)
	s.sessions[v.SessionID] = sess
	return sess.ViolationCount, nil
}

func (s *Store) CommitFrame(_ context.Context, c store.FrameCommit) (store.CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[c.SessionID]
	if !ok {
		return store.CommitResult{}, store.ErrSessionNotFound
	}
	if !sess.Active() {
		return store.CommitResult{}, store.ErrSessionNotActive
	}

	res := store.CommitResult{PrevTotal: s.countLocked(c.SessionID)}

	if c.Snapshot != nil {
		s.snapshots[c.SessionID] = append(s.snapshots[c.SessionID], *c.Snapshot)
	}

	for _, v := range c.Violations {
		if policy.InCooldown(s.lastOfTypeLocked(c.SessionID, v.Type), c.Now, c.DedupWindow) {
			res.Duplicates++
			continue
		}
		s.violations[c.SessionID] = append(s.violations[c.SessionID], v)
		res.Inserted = append(res.Inserted, v)
	}

	res.Total = s.countLocked(c.SessionID)
	sess.ViolationCount = res.Total
	res.Exceeded = c.MaxViolations > 0 && res.Total >= c.MaxViolations
	if res.Exceeded {
		now := c.Now
		sess.Status = types.SessionTerminated
		sess.EndedAt = &now
		res.Terminated = true
	}
	s.sessions[c.SessionID] = sess
	return res, nil
}

func (s *Store) lastOfTypeLocked(sessionID string, t types.ViolationType) *time.Time {
	var last *time.Time
	for _, v := range s.violations[sessionID] {
		if v.Type != t || v.IsFalsePositive {
			continue
		}
		if last == nil || v.OccurredAt.After(*last) {
			at := v.OccurredAt
			last = &at
		}
	}
	return last
}

func (s *Store) countLocked(sessionID string) int {
	n := 0
	for _, v := range s.violations[sessionID] {
		if !v.IsFalsePositive {
			n++
		}
	}
	return n
}

func (s *Store) InsertClip(_ context.Context, c types.VideoClip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[c.SessionID]; !ok {
		return store.ErrSessionNotFound
	}
	s.clips[c.SessionID] = append(s.clips[c.SessionID], c)
	return nil
}

func (s *Store) ListClips(_ context.Context, sessionID string) ([]types.VideoClip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]types.VideoClip(nil), s.clips[sessionID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) PutRecording(_ context.Context, r types.Recording) (types.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[r.SessionID]; !ok {
		return types.Recording{}, store.ErrSessionNotFound
	}
	if prev, ok := s.recordings[r.SessionID]; ok {
		r.ID = prev.ID
	}
	s.recordings[r.SessionID] = r
	return r, nil
}

func (s *Store) Recording(_ context.Context, sessionID string) (types.Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recordings[sessionID]
	if !ok {
		return types.Recording{}, store.ErrNoRecording
	}
	return r, nil
}

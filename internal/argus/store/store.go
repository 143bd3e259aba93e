package store

import (
	"context"
	"errors"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionNotActive  = errors.New("session is not in progress")
	ErrNoSettings        = errors.New("no proctoring settings for assessment")
	ErrNoFaceReference   = errors.New("no active face reference")
	ErrViolationNotFound = errors.New("violation not found")
	ErrNoRecording       = errors.New("no recording for session")
)

type SessionStore interface {
	GetSession(ctx context.Context, id string) (types.Session, error)
}

// SettingsStore returns ErrNoSettings when the assessment has no row; the
// caller falls back to defaults.
type SettingsStore interface {
	GetSettings(ctx context.Context, assessmentID string) (types.Settings, error)
}

type AssessmentStore interface {
	// Supervisors returns the user ids alerted about an assessment's sessions.
	Supervisors(ctx context.Context, assessmentID string) ([]string, error)
}

type FaceReferenceStore interface {
	ActiveReference(ctx context.Context, studentID string) (types.FaceReference, error)
	// ReplaceReference deactivates the student's current reference and
	// stores ref as the active one.
	ReplaceReference(ctx context.Context, ref types.FaceReference) error
}

type SnapshotStore interface {
	// LastEvidenceAt is the capture time of the session's latest violation
	// snapshot, nil when there is none.
	LastEvidenceAt(ctx context.Context, sessionID string) (*time.Time, error)
	ListSnapshots(ctx context.Context, sessionID string, violationsOnly bool) ([]types.Snapshot, error)
	CountSnapshots(ctx context.Context, sessionID string) (int, error)
}

type ViolationStore interface {
	ListViolations(ctx context.Context, sessionID string, includeFalsePositives bool) ([]types.Violation, error)
	GetViolation(ctx context.Context, id string) (types.Violation, error)

	// Review and Acknowledge only touch the review sub-record.
	Review(ctx context.Context, id string, r Review) (types.Violation, error)
	Acknowledge(ctx context.Context, id string) (types.Violation, error)

	// RecordViolation appends v without deduplication and refreshes the
	// session's count. It never terminates the session.
	RecordViolation(ctx context.Context, v types.Violation) (total int, err error)
}

// MediaStore holds client-captured video. Clips and recordings are
// accepted for any session the student owns, active or not.
type MediaStore interface {
	InsertClip(ctx context.Context, c types.VideoClip) error
	// ListClips returns a session's clips, newest first.
	ListClips(ctx context.Context, sessionID string) ([]types.VideoClip, error)
	// PutRecording stores r as the session's recording, replacing any
	// earlier one but keeping its id.
	PutRecording(ctx context.Context, r types.Recording) (types.Recording, error)
	Recording(ctx context.Context, sessionID string) (types.Recording, error)
}

type Review struct {
	ReviewerID      string
	IsFalsePositive bool
	Notes           string
	At              time.Time
}

// FrameCommit is everything one processed frame writes.
type FrameCommit struct {
	SessionID     string
	Now           time.Time
	Snapshot      *types.Snapshot   // nil when no evidence is retained
	Violations    []types.Violation // ids and timestamps already assigned
	DedupWindow   time.Duration
	MaxViolations int
}

type CommitResult struct {
	Inserted   []types.Violation
	Duplicates int
	PrevTotal  int
	Total      int
	// Terminated is true only for the commit that moved the session to
	// TERMINATED.
	Terminated bool
	Exceeded   bool
}

// FrameCommitter writes a frame atomically: snapshot insert, per-type
// dedup and insert, exact recount of non-false-positive violations, and
// termination when the count reaches MaxViolations. It returns
// ErrSessionNotActive, writing nothing, if the session already left
// IN_PROGRESS.
type FrameCommitter interface {
	CommitFrame(ctx context.Context, c FrameCommit) (CommitResult, error)
}

// Store is the full persistence surface used by the service layer.
type Store interface {
	SessionStore
	SettingsStore
	AssessmentStore
	FaceReferenceStore
	SnapshotStore
	ViolationStore
	MediaStore
	FrameCommitter
}

package types

import "time"

type SessionStatus string

const (
	SessionInProgress SessionStatus = "IN_PROGRESS"
	SessionSubmitted  SessionStatus = "SUBMITTED"
	SessionTerminated SessionStatus = "TERMINATED"
)

type Session struct {
	ID             string
	StudentID      string
	AssessmentID   string
	Status         SessionStatus
	ViolationCount int
	StartedAt      time.Time
	EndedAt        *time.Time
}

func (s Session) Active() bool { return s.Status == SessionInProgress }

// FaceReference is a student's registered reference image.
type FaceReference struct {
	ID           string
	StudentID    string
	Image        []byte
	IsActive     bool
	CapturedAt   time.Time
	QualityScore float64
}

// Notification is handed to the notification sink; delivery is external.
type Notification struct {
	UserIDs  []string
	Subject  string
	Body     string
	Metadata map[string]string
}

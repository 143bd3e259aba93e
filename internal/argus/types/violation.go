package types

import "time"

type ViolationType string

const (
	ViolationNoFace          ViolationType = "NO_FACE"
	ViolationMultipleFaces   ViolationType = "MULTIPLE_FACES"
	ViolationLookingAway     ViolationType = "LOOKING_AWAY"
	ViolationFaceNotMatched  ViolationType = "FACE_NOT_MATCHED"
	ViolationAudioTalking    ViolationType = "AUDIO_TALKING"
	ViolationCameraOff       ViolationType = "CAMERA_OFF"
	ViolationObjectDetected  ViolationType = "OBJECT_DETECTED"
	ViolationPhoneDetected   ViolationType = "PHONE_DETECTED"
	ViolationBookDetected    ViolationType = "BOOK_DETECTED"
	ViolationLaptopDetected  ViolationType = "LAPTOP_DETECTED"
	ViolationPersonLeft      ViolationType = "PERSON_LEFT"
	ViolationIntermittent    ViolationType = "INTERMITTENT_FACE"
	ViolationPersistentGaze  ViolationType = "PERSISTENT_GAZE_AWAY"
	ViolationMultiplePersons ViolationType = "MULTIPLE_PERSONS_PATTERN"
	ViolationIdentityPattern ViolationType = "IDENTITY_MISMATCH_PATTERN"
)

var knownViolationTypes = map[ViolationType]string{
	ViolationNoFace:          "No face detected",
	ViolationMultipleFaces:   "Multiple faces detected",
	ViolationLookingAway:     "Looking away from screen",
	ViolationFaceNotMatched:  "Face does not match registered student",
	ViolationAudioTalking:    "Background talking detected",
	ViolationCameraOff:       "Camera turned off or unavailable",
	ViolationObjectDetected:  "Suspicious object detected",
	ViolationPhoneDetected:   "Phone detected in frame",
	ViolationBookDetected:    "Book or notes detected in frame",
	ViolationLaptopDetected:  "Secondary device detected",
	ViolationPersonLeft:      "Person left the frame",
	ViolationIntermittent:    "Face frequently disappearing",
	ViolationPersistentGaze:  "Consistently looking away",
	ViolationMultiplePersons: "Multiple people detected over time",
	ViolationIdentityPattern: "Repeated face verification failures",
}

func (t ViolationType) Valid() bool {
	_, ok := knownViolationTypes[t]
	return ok
}

// Label is the human-readable description shown to reviewers.
func (t ViolationType) Label() string {
	if l, ok := knownViolationTypes[t]; ok {
		return l
	}
	return string(t)
}

// IsPattern reports whether t is produced by cross-frame analysis rather
// than a single frame.
func (t ViolationType) IsPattern() bool {
	switch t {
	case ViolationIntermittent, ViolationPersistentGaze, ViolationMultiplePersons, ViolationIdentityPattern:
		return true
	}
	return false
}

// Candidate is a violation that has not been persisted yet.
type Candidate struct {
	Type                ViolationType      `json:"type"`
	Severity            int                `json:"severity"`
	Details             map[string]any     `json:"details"`
	ConfidenceScore     float64            `json:"confidence_score"`
	ConfidenceBreakdown map[string]float64 `json:"confidence_breakdown,omitempty"`
}

// Score is the confidence assessment attached to a candidate.
type Score struct {
	Overall    float64            `json:"overall_confidence"`
	Breakdown  map[string]float64 `json:"breakdown"`
	IsReliable bool               `json:"is_reliable"`
}

// Violation is a persisted, append-only violation record. Only the review
// fields change after creation, and only through the review path.
type Violation struct {
	ID                  string             `json:"id"`
	SessionID           string             `json:"session_id"`
	SnapshotID          *string            `json:"snapshot_id"`
	Type                ViolationType      `json:"violation_type"`
	Severity            int                `json:"severity"`
	OccurredAt          time.Time          `json:"occurred_at"`
	Details             map[string]any     `json:"details"`
	ConfidenceScore     float64            `json:"confidence_score"`
	ConfidenceBreakdown map[string]float64 `json:"confidence_breakdown"`

	Acknowledged    bool       `json:"acknowledged"`
	IsFalsePositive bool       `json:"is_false_positive"`
	ReviewedBy      string     `json:"reviewed_by,omitempty"`
	ReviewNotes     string     `json:"review_notes,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
}

// Snapshot is a retained evidence frame with a denormalized analysis summary.
type Snapshot struct {
	ID                         string         `json:"id"`
	SessionID                  string         `json:"session_id"`
	CapturedAt                 time.Time      `json:"captured_at"`
	ImageURL                   string         `json:"image_url"`
	ImagePath                  string         `json:"image_path,omitempty"`
	SubjectCount               int            `json:"faces_detected"`
	GazeDirection              string         `json:"gaze_direction"`
	GazeYaw                    float64        `json:"gaze_yaw"`
	GazePitch                  float64        `json:"gaze_pitch"`
	FaceVerified               bool           `json:"face_verified"`
	FaceVerificationConfidence float64        `json:"face_verification_confidence"`
	MotionScore                float64        `json:"motion_score"`
	IsViolation                bool           `json:"is_violation"`
	Analysis                   AnalysisResult `json:"analysis_result"`
}

// NewSnapshotSummary fills the denormalized columns of a snapshot from a
// merged analysis.
func NewSnapshotSummary(s *Snapshot, a AnalysisResult) {
	s.Analysis = a
	s.SubjectCount = a.SubjectCount
	s.GazeDirection = "unknown"
	if a.Gaze != nil {
		s.GazeDirection = string(a.Gaze.Direction)
		s.GazeYaw = a.Gaze.YawDegrees
		s.GazePitch = a.Gaze.PitchDegrees
	}
	s.FaceVerified = true
	if a.FaceVerification != nil {
		s.FaceVerified = a.FaceVerification.IsMatch
		s.FaceVerificationConfidence = a.FaceVerification.Confidence
	}
}

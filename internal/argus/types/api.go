package types

// FrameUpload is one uploaded webcam frame.
type FrameUpload struct {
	SessionID   string
	CallerID    string
	Frame       []byte
	MotionScore float64
}

type FrameResult struct {
	SnapshotID                 *string     `json:"snapshot_id"`
	EvidenceSaved              bool        `json:"evidence_saved"`
	FacesDetected              int         `json:"faces_detected"`
	Gaze                       *Gaze       `json:"gaze_result"`
	FaceVerified               bool        `json:"face_verified"`
	FaceVerificationConfidence float64     `json:"face_verification_confidence"`
	Violations                 []Violation `json:"violations"`
	TotalViolations            int         `json:"total_violations"`
	IsTerminated               bool        `json:"is_terminated"`
	ViolationsExceeded         bool        `json:"violations_exceeded"`
	AnalysisError              string      `json:"analysis_error,omitempty"`
}

type SessionStatusResponse struct {
	SessionID       string                `json:"session_id"`
	TotalSnapshots  int                   `json:"total_snapshots"`
	TotalViolations int                   `json:"total_violations"`
	ViolationCounts map[ViolationType]int `json:"violation_counts"`
	IsTerminated    bool                  `json:"is_terminated"`
	FaceRegistered  bool                  `json:"reference_face_registered"`
	LatestViolation *Violation            `json:"latest_violation"`
}

type ClientViolationRequest struct {
	ViolationType ViolationType  `json:"violation_type"`
	Severity      int            `json:"severity,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	SnapshotID    string         `json:"snapshot_id,omitempty"`
}

type ReviewRequest struct {
	IsFalsePositive bool   `json:"is_false_positive"`
	ReviewNotes     string `json:"review_notes,omitempty"`
}

type FaceStatusResponse struct {
	FaceRegistered bool     `json:"face_registered"`
	RegisteredAt   *string  `json:"registered_at"`
	QualityScore   *float64 `json:"quality_score"`
}

type FaceRegistrationResponse struct {
	Message         string  `json:"message"`
	FaceReferenceID string  `json:"face_reference_id"`
	QualityScore    float64 `json:"quality_score"`
}

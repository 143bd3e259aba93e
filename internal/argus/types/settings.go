package types

// Settings is the per-assessment proctoring configuration. It is read once
// per frame and treated as an immutable value for the rest of that frame.
type Settings struct {
	Enabled bool `json:"enabled" toml:"enabled" yaml:"enabled"`

	SnapshotIntervalSeconds int  `json:"snapshot_interval_seconds" toml:"snapshot_interval_seconds" yaml:"snapshot_interval_seconds"`
	UseMotionDetection      bool `json:"use_motion_detection" toml:"use_motion_detection" yaml:"use_motion_detection"`
	MotionThreshold         int  `json:"motion_threshold" toml:"motion_threshold" yaml:"motion_threshold"`

	MaxViolationsBeforeTerminate int `json:"max_violations_before_terminate" toml:"max_violations_before_terminate" yaml:"max_violations_before_terminate"`

	DetectNoFace        bool `json:"detect_no_face" toml:"detect_no_face" yaml:"detect_no_face"`
	DetectMultipleFaces bool `json:"detect_multiple_faces" toml:"detect_multiple_faces" yaml:"detect_multiple_faces"`
	DetectLookingAway   bool `json:"detect_looking_away" toml:"detect_looking_away" yaml:"detect_looking_away"`
	DetectObjects       bool `json:"detect_objects" toml:"detect_objects" yaml:"detect_objects"`

	RequireFaceVerification         bool `json:"require_face_verification" toml:"require_face_verification" yaml:"require_face_verification"`
	FaceVerificationIntervalSeconds int  `json:"face_verification_interval" toml:"face_verification_interval" yaml:"face_verification_interval"` // 0 = every frame

	UseConfidenceScoring   bool    `json:"use_confidence_scoring" toml:"use_confidence_scoring" yaml:"use_confidence_scoring"`
	MinConfidenceThreshold float64 `json:"min_confidence_threshold" toml:"min_confidence_threshold" yaml:"min_confidence_threshold"`

	EnableTemporalAnalysis bool `json:"enable_temporal_analysis" toml:"enable_temporal_analysis" yaml:"enable_temporal_analysis"`
	TemporalWindowSize     int  `json:"temporal_window_size" toml:"temporal_window_size" yaml:"temporal_window_size"`
}

const DefaultTemporalWindowSize = 10

func DefaultSettings() Settings {
	return Settings{
		Enabled:                         true,
		SnapshotIntervalSeconds:         10,
		UseMotionDetection:              true,
		MotionThreshold:                 30,
		MaxViolationsBeforeTerminate:    10,
		DetectNoFace:                    true,
		DetectMultipleFaces:             true,
		DetectLookingAway:               true,
		DetectObjects:                   true,
		RequireFaceVerification:         true,
		FaceVerificationIntervalSeconds: 30,
		UseConfidenceScoring:            true,
		MinConfidenceThreshold:          0.6,
		EnableTemporalAnalysis:          true,
		TemporalWindowSize:              DefaultTemporalWindowSize,
	}
}

// Normalize clamps out-of-range knobs back to usable values.
func (s Settings) Normalize() Settings {
	if s.TemporalWindowSize <= 0 {
		s.TemporalWindowSize = DefaultTemporalWindowSize
	}
	if s.MaxViolationsBeforeTerminate <= 0 {
		s.MaxViolationsBeforeTerminate = 10
	}
	if s.FaceVerificationIntervalSeconds < 0 {
		s.FaceVerificationIntervalSeconds = 0
	}
	if s.MinConfidenceThreshold < 0 {
		s.MinConfidenceThreshold = 0
	}
	if s.MinConfidenceThreshold > 1 {
		s.MinConfidenceThreshold = 1
	}
	return s
}

package types

// Detection is a single labelled box from the local detector.
type Detection struct {
	Label      string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	BBox       [4]int  `json:"bbox"` // x1, y1, x2, y2
}

type GazeDirection string

const (
	GazeCenter GazeDirection = "center"
	GazeLeft   GazeDirection = "left"
	GazeRight  GazeDirection = "right"
	GazeUp     GazeDirection = "up"
	GazeDown   GazeDirection = "down"
	GazeClosed GazeDirection = "closed"
)

type Gaze struct {
	Direction     GazeDirection `json:"direction"`
	YawDegrees    float64       `json:"yaw"`
	PitchDegrees  float64       `json:"pitch"`
	IsLookingAway bool          `json:"is_looking_away"`
}

type FaceVerification struct {
	IsMatch    bool    `json:"is_match"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message,omitempty"`
}

// LocalResult is what the local detector reports for one frame.
type LocalResult struct {
	PersonCount int         `json:"person_count"`
	PhoneCount  int         `json:"phone_count"`
	LaptopCount int         `json:"laptop_count"`
	BookCount   int         `json:"book_count"`
	Raw         []Detection `json:"raw_detections,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// ProhibitedLabels returns the canonical prohibited labels implied by the counts.
func (r LocalResult) ProhibitedLabels() []string {
	var out []string
	if r.PhoneCount > 0 {
		out = append(out, "phone")
	}
	if r.LaptopCount > 0 {
		out = append(out, "laptop")
	}
	if r.BookCount > 0 {
		out = append(out, "book")
	}
	return out
}

// RemoteResult is what the remote vision analyzer reports for one frame.
type RemoteResult struct {
	FacesDetected    int               `json:"faces_detected"`
	Objects          []string          `json:"objects_detected,omitempty"`
	Prohibited       []string          `json:"prohibited_objects,omitempty"`
	Gaze             *Gaze             `json:"gaze,omitempty"`
	FaceVerification *FaceVerification `json:"face_verification,omitempty"`
	Error            string            `json:"error,omitempty"`
}

// AnalysisResult is the merged per-frame view consumed by the rules, the
// temporal analyzer and the scorer.
//
// SubjectCount is always the local detector's person count. The remote
// analyzer's face count is kept in RemoteFaces for observability only, so
// NO_FACE and MULTIPLE_FACES mean the same thing whichever path ran.
type AnalysisResult struct {
	SubjectCount      int               `json:"faces_detected"`
	RemoteFaces       *int              `json:"remote_faces_detected,omitempty"`
	Objects           []Detection       `json:"objects_detected"`
	ProhibitedObjects []string          `json:"prohibited_objects"`
	Gaze              *Gaze             `json:"gaze_result"`
	FaceVerification  *FaceVerification `json:"face_verification"`
	Error             string            `json:"error,omitempty"`
	RemoteError       string            `json:"remote_error,omitempty"`
}

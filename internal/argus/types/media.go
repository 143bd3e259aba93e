package types

import "time"

// ClipTrigger names what made the exam client capture a clip.
type ClipTrigger string

const (
	ClipMultipleFaces  ClipTrigger = "MULTIPLE_FACES"
	ClipNoFace         ClipTrigger = "NO_FACE"
	ClipLookingAway    ClipTrigger = "LOOKING_AWAY"
	ClipPhoneDetected  ClipTrigger = "PHONE_DETECTED"
	ClipBookDetected   ClipTrigger = "BOOK_DETECTED"
	ClipAudioTalking   ClipTrigger = "AUDIO_TALKING"
	ClipTabSwitch      ClipTrigger = "TAB_SWITCH"
	ClipFullscreenExit ClipTrigger = "FULLSCREEN_EXIT"
	ClipOther          ClipTrigger = "OTHER"
)

// NormalizeClipTrigger maps unknown or blank reasons to OTHER.
func NormalizeClipTrigger(s string) ClipTrigger {
	switch t := ClipTrigger(s); t {
	case ClipMultipleFaces, ClipNoFace, ClipLookingAway, ClipPhoneDetected, ClipBookDetected,
		ClipAudioTalking, ClipTabSwitch, ClipFullscreenExit, ClipOther:
		return t
	}
	return ClipOther
}

// VideoClip is a short evidence clip the client records around a
// suspicious moment. It is never a full exam recording.
type VideoClip struct {
	ID                 string      `json:"id"`
	SessionID          string      `json:"session_id"`
	TriggerReason      ClipTrigger `json:"trigger_reason"`
	TriggerDescription string      `json:"trigger_description"`
	DurationSeconds    int         `json:"duration_seconds"`
	SizeBytes          int64       `json:"file_size_bytes"`
	Severity           int         `json:"severity"`
	VideoURL           string      `json:"video_url"`
	VideoPath          string      `json:"video_path,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
}

type RecordingStatus string

const (
	RecordingComplete RecordingStatus = "COMPLETE"
	RecordingFailed   RecordingStatus = "FAILED"
)

// Recording is the one full-session video a student may upload. A later
// upload replaces the earlier one.
type Recording struct {
	ID              string          `json:"recording_id"`
	SessionID       string          `json:"session_id"`
	DurationSeconds int             `json:"duration_seconds"`
	SizeBytes       int64           `json:"file_size_bytes"`
	Status          RecordingStatus `json:"upload_status"`
	VideoURL        string          `json:"video_url"`
	VideoPath       string          `json:"video_path,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ClipUpload is a decoded clip upload request.
type ClipUpload struct {
	SessionID          string
	CallerID           string
	Video              []byte
	TriggerReason      string
	TriggerDescription string
	DurationSeconds    int
	Severity           int
}

// RecordingUpload is a decoded recording upload request.
type RecordingUpload struct {
	SessionID       string
	CallerID        string
	Video           []byte
	DurationSeconds int
}

type ClipListResponse struct {
	Results []VideoClip `json:"results"`
	Count   int         `json:"count"`
}

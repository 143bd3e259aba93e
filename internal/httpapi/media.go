package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

const maxVideoBody = 256 << 20

var errMissingVideo = errors.New("session_id and video file are required")

// decodeClipUpload reads a multipart clip upload. Unparseable duration or
// severity fall back to the service defaults.
func decodeClipUpload(r *http.Request) (types.ClipUpload, error) {
	up := types.ClipUpload{CallerID: userFrom(r)}
	video, err := parseVideoForm(r)
	if err != nil {
		return up, err
	}
	up.SessionID = r.FormValue("session_id")
	up.Video = video
	up.TriggerReason = r.FormValue("trigger_reason")
	up.TriggerDescription = r.FormValue("trigger_description")
	up.DurationSeconds = formInt(r, "duration")
	up.Severity = formInt(r, "severity")
	return up, nil
}

func decodeRecordingUpload(r *http.Request) (types.RecordingUpload, error) {
	up := types.RecordingUpload{CallerID: userFrom(r)}
	video, err := parseVideoForm(r)
	if err != nil {
		return up, err
	}
	up.SessionID = r.FormValue("session_id")
	up.Video = video
	up.DurationSeconds = formInt(r, "duration")
	return up, nil
}

func parseVideoForm(r *http.Request) ([]byte, error) {
	if !isMultipart(r) {
		return nil, errors.New("expected multipart/form-data")
	}
	if err := r.ParseMultipartForm(maxRequestBody); err != nil {
		return nil, fmt.Errorf("parse multipart: %w", err)
	}
	if r.FormValue("session_id") == "" {
		return nil, errMissingVideo
	}
	video, err := formFile(r, "video")
	if errors.Is(err, errMissingImage) || (err == nil && len(video) == 0) {
		return nil, errMissingVideo
	}
	return video, err
}

func formInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.FormValue(key))
	if err != nil {
		return 0
	}
	return n
}

type recordingResponse struct {
	RecordingID     *string               `json:"recording_id"`
	VideoURL        *string               `json:"video_url"`
	DurationSeconds int                   `json:"duration_seconds,omitempty"`
	SizeBytes       int64                 `json:"file_size_bytes,omitempty"`
	Status          types.RecordingStatus `json:"upload_status,omitempty"`
	CreatedAt       string                `json:"created_at,omitempty"`
	Message         string                `json:"message,omitempty"`
}

func newRecordingResponse(rec types.Recording) recordingResponse {
	id := rec.ID
	resp := recordingResponse{
		RecordingID:     &id,
		DurationSeconds: rec.DurationSeconds,
		SizeBytes:       rec.SizeBytes,
		Status:          rec.Status,
		CreatedAt:       rec.CreatedAt.UTC().Format(time.RFC3339),
	}
	switch {
	case rec.VideoURL != "":
		u := rec.VideoURL
		resp.VideoURL = &u
	case rec.VideoPath != "":
		p := rec.VideoPath
		resp.VideoURL = &p
	}
	return resp
}

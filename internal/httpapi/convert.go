package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

var errMissingImage = errors.New("image is required")

type frameJSON struct {
	SessionID   string  `json:"session_id"`
	ImageBase64 string  `json:"image_base64"`
	MotionScore float64 `json:"motion_score"`
}

type imageJSON struct {
	ImageBase64 string `json:"image_base64"`
}

// decodeFrameUpload reads a frame upload in any of the accepted encodings:
// multipart form, JSON with a base64 image, or a protobuf FrameUpload.
func decodeFrameUpload(r *http.Request) (types.FrameUpload, error) {
	up := types.FrameUpload{CallerID: userFrom(r)}

	switch {
	case isProtobuf(r):
		pf, err := readProtoFrame(r)
		if err != nil {
			return up, err
		}
		up.SessionID, up.Frame, up.MotionScore = pf.SessionID, pf.Frame, pf.MotionScore

	case isMultipart(r):
		if err := r.ParseMultipartForm(maxRequestBody); err != nil {
			return up, fmt.Errorf("parse multipart: %w", err)
		}
		up.SessionID = r.FormValue("session_id")
		if v := r.FormValue("motion_score"); v != "" {
			score, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return up, fmt.Errorf("motion_score: %w", err)
			}
			up.MotionScore = score
		}
		img, err := formFile(r, "image")
		if err != nil {
			return up, err
		}
		up.Frame = img

	default:
		var req frameJSON
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return up, fmt.Errorf("decode json: %w", err)
		}
		img, err := decodeBase64Image(req.ImageBase64)
		if err != nil {
			return up, err
		}
		up.SessionID, up.Frame, up.MotionScore = req.SessionID, img, req.MotionScore
	}

	if len(up.Frame) == 0 {
		return up, errMissingImage
	}
	return up, nil
}

// decodeImageUpload reads a single image from a multipart "image" field or
// a JSON image_base64 body.
func decodeImageUpload(r *http.Request) ([]byte, error) {
	if isMultipart(r) {
		if err := r.ParseMultipartForm(maxRequestBody); err != nil {
			return nil, fmt.Errorf("parse multipart: %w", err)
		}
		return formFile(r, "image")
	}
	var req imageJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return decodeBase64Image(req.ImageBase64)
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

func formFile(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, errMissingImage
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// decodeBase64Image accepts raw base64 or a data URL.
func decodeBase64Image(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errMissingImage
	}
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("image_base64: %w", err)
	}
	return b, nil
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

type clientViolationResponse struct {
	ViolationID     string              `json:"violation_id"`
	ViolationType   types.ViolationType `json:"violation_type"`
	Severity        int                 `json:"severity"`
	OccurredAt      string              `json:"occurred_at"`
	TotalViolations int                 `json:"total_violations"`
}

package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strconv"
	"time"
)

var ErrModelUnavailable = errors.New("detection model unavailable")

// RawDetection is one box as returned by the model, before per-class
// thresholds are applied.
type RawDetection struct {
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	BBox       [4]int  `json:"bbox"`
}

// Model runs object detection on a single image. Implementations are not
// required to be safe for concurrent use; Detector serializes calls.
type Model interface {
	Load(ctx context.Context) error
	Infer(ctx context.Context, img image.Image) ([]RawDetection, error)
}

// BaseConfidence is the model-side floor sent with every inference request.
const BaseConfidence = 0.5

// HTTPModel talks to an object-detection sidecar that accepts a JPEG body
// on POST {URL}/detect and answers {"detections":[...]}.
type HTTPModel struct {
	URL    string
	Client *http.Client
}

func NewHTTPModel(url string, timeout time.Duration) *HTTPModel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPModel{URL: url, Client: &http.Client{Timeout: timeout}}
}

// Load checks the sidecar is reachable.
func (m *HTTPModel) Load(ctx context.Context) error {
	if m.URL == "" {
		return ErrModelUnavailable
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := m.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrModelUnavailable, resp.StatusCode)
	}
	return nil
}

type inferResponse struct {
	Detections []RawDetection `json:"detections"`
}

func (m *HTTPModel) Infer(ctx context.Context, img image.Image) ([]RawDetection, error) {
	if m.URL == "" {
		return nil, ErrModelUnavailable
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	url := m.URL + "/detect?conf=" + strconv.FormatFloat(BaseConfidence, 'f', 2, 64)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := m.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("infer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("infer: status %d", resp.StatusCode)
	}

	var out inferResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("infer: decode: %w", err)
	}
	return out.Detections, nil
}

// Package vision is the client for the remote vision model that supplies
// gaze estimates and identity verification. Failures never reach the
// caller as errors from Analyze; they degrade to a neutral result.
package vision

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/rules"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "argus://vision/analysis.schema.json"

var (
	ErrNotConfigured = errors.New("vision analyzer not configured")
	ErrEmptyResponse = errors.New("empty response from vision model")
	ErrSchema        = errors.New("vision response failed schema validation")
)

// Default yaw and pitch assumed when the model names a direction but gives
// no angle.
const (
	fallbackYawDegrees   = 30.0
	fallbackPitchDegrees = 20.0
)

type Config struct {
	BaseURL    string // e.g. https://generativelanguage.googleapis.com
	APIKey     string
	Model      string
	MaxRetries int
	Backoff    time.Duration
	Timeout    time.Duration
}

type Analyzer struct {
	cfg    Config
	client *http.Client
	schema *jsonschema.Schema
	logger *slog.Logger
}

func NewAnalyzer(cfg Config, logger *slog.Logger) (*Analyzer, error) {
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 250 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &Analyzer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		schema: schema,
		logger: logger,
	}, nil
}

// Enabled reports whether a remote endpoint is configured at all.
func (a *Analyzer) Enabled() bool {
	return a != nil && a.cfg.BaseURL != "" && a.cfg.APIKey != ""
}

// Neutral is the result used when the remote analysis cannot be trusted:
// one face, no gaze, no verification.
func Neutral(reason string) types.RemoteResult {
	return types.RemoteResult{FacesDetected: 1, Error: reason}
}

// Analyze sends the frame, and the reference image when given, to the
// remote model. With a reference the result carries a face verification.
func (a *Analyzer) Analyze(ctx context.Context, frame, reference []byte) types.RemoteResult {
	if !a.Enabled() {
		return Neutral(ErrNotConfigured.Error())
	}

	prompt := "Analyze this exam snapshot."
	images := [][]byte{frame}
	if len(reference) > 0 {
		images = append(images, reference)
		prompt += " Verify if the person in the first image matches the reference person in the second image."
	}

	start := time.Now()
	out, err := a.generate(ctx, prompt, images)
	if err != nil {
		a.logger.Warn("remote analysis failed", "err", err, "dur", time.Since(start))
		return Neutral(err.Error())
	}
	a.logger.Debug("remote analysis done", "dur", time.Since(start))
	return toResult(out)
}

// CheckReference counts the faces in a candidate reference image.
func (a *Analyzer) CheckReference(ctx context.Context, img []byte) (int, error) {
	if !a.Enabled() {
		return 0, ErrNotConfigured
	}
	out, err := a.generate(ctx, "Count the faces in this reference photo.", [][]byte{img})
	if err != nil {
		return 0, err
	}
	return out.FacesDetected, nil
}

func (a *Analyzer) generate(ctx context.Context, prompt string, images [][]byte) (modelOutput, error) {
	parts := make([]part, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, part{InlineData: &inlineData{
			MimeType: mimeType(img),
			Data:     base64.StdEncoding.EncodeToString(img),
		}})
	}
	parts = append(parts, part{Text: prompt})

	body, err := json.Marshal(generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: systemInstruction}}},
		Contents:          []content{{Role: "user", Parts: parts}},
		GenerationConfig: generationConfig{
			Temperature:      0.1,
			TopP:             0.95,
			TopK:             40,
			MaxOutputTokens:  1024,
			ResponseMimeType: "application/json",
		},
	})
	if err != nil {
		return modelOutput{}, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(a.cfg.Backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return modelOutput{}, ctx.Err()
			}
		}

		text, retry, err := a.post(ctx, body)
		if err == nil {
			return a.parse(text)
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
	}
	return modelOutput{}, lastErr
}

// post performs one call. The retry result tells whether the failure is
// transient (transport error, 429 or 5xx).
func (a *Analyzer) post(ctx context.Context, body []byte) (string, bool, error) {
	url := strings.TrimRight(a.cfg.BaseURL, "/") + "/v1beta/models/" + a.cfg.Model + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("call vision model: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", true, fmt.Errorf("read vision response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", transient, fmt.Errorf("vision model status %d", resp.StatusCode)
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return "", false, fmt.Errorf("decode vision response: %w", err)
	}
	text := gr.text()
	if text == "" {
		return "", false, ErrEmptyResponse
	}
	return text, false, nil
}

func (a *Analyzer) parse(text string) (modelOutput, error) {
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return modelOutput{}, fmt.Errorf("decode model output: %w", err)
	}
	if err := a.schema.Validate(doc); err != nil {
		return modelOutput{}, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	var out modelOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return modelOutput{}, fmt.Errorf("decode model output: %w", err)
	}
	return out, nil
}

func toResult(out modelOutput) types.RemoteResult {
	res := types.RemoteResult{FacesDetected: out.FacesDetected}

	for _, o := range out.ObjectsDetected {
		o = strings.ToLower(o)
		res.Objects = append(res.Objects, o)
		if kw := rules.ProhibitedKeyword(o); kw != "" {
			res.Prohibited = append(res.Prohibited, kw)
		}
	}

	g := types.Gaze{Direction: types.GazeCenter}
	if out.Gaze != nil {
		if out.Gaze.Direction != "" {
			g.Direction = types.GazeDirection(out.Gaze.Direction)
		}
		g.IsLookingAway = out.Gaze.IsLookingAway
		g.YawDegrees = angleOr(out.Gaze.Yaw, g.Direction == types.GazeLeft || g.Direction == types.GazeRight, fallbackYawDegrees)
		g.PitchDegrees = angleOr(out.Gaze.Pitch, g.Direction == types.GazeUp || g.Direction == types.GazeDown, fallbackPitchDegrees)
	}
	res.Gaze = &g

	if fv := out.FaceVerification; fv != nil {
		v := types.FaceVerification{IsMatch: true}
		if fv.IsMatch != nil {
			v.IsMatch = *fv.IsMatch
		}
		if fv.Confidence != nil {
			v.Confidence = *fv.Confidence
		}
		v.Message = "Identity Mismatch"
		if v.IsMatch {
			v.Message = "Match"
		}
		res.FaceVerification = &v
	}
	return res
}

func angleOr(v *float64, directional bool, fallback float64) float64 {
	if v != nil {
		return *v
	}
	if directional {
		return fallback
	}
	return 0
}

func mimeType(b []byte) string {
	ct := http.DetectContentType(b)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/jpeg"
}

// Package storage persists evidence images. The remote object store is
// tried first and a local directory is the mandatory fallback.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNoBackend = errors.New("no storage backend accepted the object")

// Location says where an object ended up. At most one field is set.
type Location struct {
	URL  string
	Path string
}

func (l Location) Empty() bool { return l.URL == "" && l.Path == "" }

type Store interface {
	Put(ctx context.Context, key string, data []byte) (Location, error)
}

// SnapshotKey builds the object key for an evidence frame.
func SnapshotKey(sessionID string, at time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return path.Join("proctoring", "snapshots", sessionID,
		fmt.Sprintf("%s_%s.jpg", at.UTC().Format("20060102_150405"), id))
}

// ClipKey builds the object key for an evidence clip.
func ClipKey(assessmentID, clipID string) string {
	return path.Join("proctoring", "clips", assessmentID, clipID+".webm")
}

// RecordingKey builds the object key for a full-session recording.
func RecordingKey(assessmentID string) string {
	return path.Join("proctoring", "recordings", assessmentID, uuid.NewString()+".webm")
}

// FaceKey builds the object key for a student's reference image.
func FaceKey(studentID string) string {
	return path.Join("proctoring", "faces", studentID, uuid.NewString()+".jpg")
}

// HTTPStore uploads objects as multipart/form-data to an object service
// that answers {"url": "..."}.
type HTTPStore struct {
	Endpoint string
	Token    string
	Client   *http.Client
}

func NewHTTPStore(endpoint, token string, timeout time.Duration) *HTTPStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPStore{Endpoint: endpoint, Token: token, Client: &http.Client{Timeout: timeout}}
}

func (s *HTTPStore) Put(ctx context.Context, key string, data []byte) (Location, error) {
	if s.Endpoint == "" {
		return Location{}, errors.New("remote storage not configured")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("key", key); err != nil {
		return Location{}, err
	}
	fw, err := mw.CreateFormFile("file", path.Base(key))
	if err != nil {
		return Location{}, err
	}
	if _, err := fw.Write(data); err != nil {
		return Location{}, err
	}
	if err := mw.Close(); err != nil {
		return Location{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, &body)
	if err != nil {
		return Location{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("upload %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Location{}, fmt.Errorf("upload %s: status %d", key, resp.StatusCode)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return Location{}, fmt.Errorf("upload %s: decode: %w", key, err)
	}
	if out.URL == "" {
		return Location{}, fmt.Errorf("upload %s: empty url", key)
	}
	return Location{URL: out.URL}, nil
}

// LocalStore writes objects under Root.
type LocalStore struct {
	Root string
}

func (s LocalStore) Put(_ context.Context, key string, data []byte) (Location, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return Location{}, fmt.Errorf("invalid object key %q", key)
	}
	full := filepath.Join(s.Root, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Location{}, fmt.Errorf("mkdir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return Location{}, fmt.Errorf("write %s: %w", full, err)
	}
	return Location{Path: full}, nil
}

// Fallback tries each store in order and returns the first success.
type Fallback struct {
	Stores []Store
	Logger *slog.Logger
}

func NewFallback(logger *slog.Logger, stores ...Store) *Fallback {
	return &Fallback{Stores: stores, Logger: logger}
}

func (f *Fallback) Put(ctx context.Context, key string, data []byte) (Location, error) {
	for i, s := range f.Stores {
		loc, err := s.Put(ctx, key, data)
		if err == nil {
			return loc, nil
		}
		f.Logger.Warn("storage backend failed", "backend", i, "key", key, "err", err)
	}
	return Location{}, ErrNoBackend
}

// Package detect is the local object and person detector. It always runs,
// and whatever goes wrong it answers with a conservative result instead of
// an error so the frame pipeline keeps going.
package detect

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

// COCO class ids of the labels the detector cares about.
const (
	ClassPerson = 0
	ClassLaptop = 63
	ClassPhone  = 67
	ClassBook   = 73
)

// Per-class acceptance thresholds. Phones and books are small and often
// partially occluded, so they clear at a lower score.
var classThresholds = map[int]float64{
	ClassPerson: 0.6,
	ClassPhone:  0.4,
	ClassLaptop: 0.4,
	ClassBook:   0.35,
}

const (
	DefaultTimeout = 5 * time.Second

	// A failed load is not retried before the backoff elapses; it doubles
	// on every consecutive failure up to the cap.
	DefaultLoadBackoff = 2 * time.Second
	maxLoadBackoff     = time.Minute
)

type Detector struct {
	model   Model
	logger  *slog.Logger
	timeout time.Duration
	backoff time.Duration
	now     func() time.Time

	mu      sync.Mutex // serializes Infer; models are not assumed reentrant
	loaded  bool
	loadErr error
	retryAt time.Time
	wait    time.Duration
}

func NewDetector(model Model, logger *slog.Logger) *Detector {
	return &Detector{
		model:   model,
		logger:  logger,
		timeout: DefaultTimeout,
		backoff: DefaultLoadBackoff,
		now:     time.Now,
	}
}

// WithTimeout sets the per-call inference bound.
func (d *Detector) WithTimeout(t time.Duration) *Detector {
	if t > 0 {
		d.timeout = t
	}
	return d
}

// WithLoadBackoff sets the initial wait after a failed model load.
func (d *Detector) WithLoadBackoff(b time.Duration) *Detector {
	if b > 0 {
		d.backoff = b
	}
	return d
}

// WarmUp loads the model once, ignoring any pending backoff. Detect also
// loads lazily, so a failed warm up only means the first frames get the
// conservative default.
func (d *Detector) WarmUp(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.retryAt = time.Time{}
	return d.loadLocked(ctx)
}

// loadLocked answers with the cached failure until retryAt, so frames do
// not queue behind a load attempt while the model is down.
func (d *Detector) loadLocked(ctx context.Context) error {
	if d.loaded {
		return nil
	}
	now := d.now()
	if d.loadErr != nil && now.Before(d.retryAt) {
		return d.loadErr
	}

	err := ErrModelUnavailable
	if d.model != nil {
		err = d.model.Load(ctx)
	}
	if err != nil {
		d.wait = min(max(d.wait*2, d.backoff), maxLoadBackoff)
		d.loadErr, d.retryAt = err, now.Add(d.wait)
		d.logger.Warn("detection model load failed", "err", err, "retry_in", d.wait)
		return err
	}
	d.loaded, d.loadErr, d.wait = true, nil, 0
	d.logger.Info("detection model loaded")
	return nil
}

// Fallback is the result used whenever detection cannot run: one person,
// nothing prohibited.
func Fallback(reason string) types.LocalResult {
	return types.LocalResult{PersonCount: 1, Error: reason}
}

func (d *Detector) Detect(ctx context.Context, img image.Image) (res types.LocalResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("detector panic", "panic", r)
			res = Fallback(fmt.Sprintf("detector panic: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.loadLocked(ctx); err != nil {
		return Fallback("model not loaded: " + err.Error())
	}

	raw, err := d.model.Infer(ctx, img)
	if err != nil {
		d.logger.Warn("detection failed", "err", err)
		return Fallback("detection failed: " + err.Error())
	}
	return Summarize(raw)
}

// Summarize applies the per-class thresholds and counts what is left.
func Summarize(raw []RawDetection) types.LocalResult {
	var res types.LocalResult
	for _, r := range raw {
		min, ok := classThresholds[r.ClassID]
		if !ok || r.Confidence < min {
			continue
		}
		switch r.ClassID {
		case ClassPerson:
			res.PersonCount++
		case ClassPhone:
			res.PhoneCount++
		case ClassLaptop:
			res.LaptopCount++
		case ClassBook:
			res.BookCount++
		}
		res.Raw = append(res.Raw, types.Detection{
			Label:      r.ClassName,
			Confidence: r.Confidence,
			BBox:       r.BBox,
		})
	}
	return res
}

// Package temporal keeps a bounded history of recent frame analyses per
// exam session and detects patterns that only show up across frames.
package temporal

import (
	"github.com/BrandonDHaskell/Argus/server/internal/argus/rules"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

const (
	// MinSamples is the smallest window that is evaluated for patterns.
	MinSamples = 3

	IntermittentFaceRatio = 0.3
	GazeAwayRatio         = 0.5

	SeverityPattern = 4
)

// Window is a fixed-capacity FIFO of analysis results. The oldest entry is
// evicted when a new one arrives at capacity. Not safe for concurrent use;
// Store serializes access per session.
type Window struct {
	buf   []types.AnalysisResult
	start int
	n     int
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = types.DefaultTemporalWindowSize
	}
	return &Window{buf: make([]types.AnalysisResult, capacity)}
}

func (w *Window) Cap() int { return len(w.buf) }
func (w *Window) Len() int { return w.n }

func (w *Window) Add(r types.AnalysisResult) {
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = r
		w.n++
		return
	}
	w.buf[w.start] = r
	w.start = (w.start + 1) % len(w.buf)
}

// Samples returns the window contents oldest first.
func (w *Window) Samples() []types.AnalysisResult {
	out := make([]types.AnalysisResult, w.n)
	for i := 0; i < w.n; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

// DetectPatterns evaluates the cross-frame rules over samples. Both
// patterns are independent and their thresholds are fixed.
func DetectPatterns(samples []types.AnalysisResult) []types.Candidate {
	if len(samples) < MinSamples {
		return nil
	}

	var out []types.Candidate

	noFace := 0
	for _, s := range samples {
		if s.SubjectCount == 0 {
			noFace++
		}
	}
	noFaceRatio := float64(noFace) / float64(len(samples))
	if noFaceRatio >= IntermittentFaceRatio {
		out = append(out, types.Candidate{
			Type:     types.ViolationIntermittent,
			Severity: SeverityPattern,
			Details: map[string]any{
				"message":       "Face frequently disappears",
				"no_face_ratio": noFaceRatio,
				"window":        len(samples),
			},
		})
	}

	withGaze, away := 0, 0
	for _, s := range samples {
		if s.Gaze == nil {
			continue
		}
		withGaze++
		if rules.IsLookingAway(s.Gaze) {
			away++
		}
	}
	if withGaze > 0 {
		awayRatio := float64(away) / float64(withGaze)
		if awayRatio >= GazeAwayRatio {
			out = append(out, types.Candidate{
				Type:     types.ViolationPersistentGaze,
				Severity: SeverityPattern,
				Details: map[string]any{
					"message":    "Consistently looking away",
					"away_ratio": awayRatio,
					"window":     withGaze,
				},
			})
		}
	}

	return out
}

// Package scoring assigns a reliability score to violation candidates and
// filters out the ones that should never be persisted.
package scoring

import (
	"math"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/rules"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

const (
	aiWeight       = 0.7
	temporalWeight = 0.3

	// Confidence assumed for signals that carry no per-detection score
	// (counts, model flags, remote labels).
	defaultSignalConfidence = 0.9
	missingVerification     = 0.5
)

type Scorer interface {
	Score(c types.Candidate, a types.AnalysisResult, window []types.AnalysisResult) types.Score
}

// DefaultScorer blends the detector's own confidence with how consistently
// the condition appears in the session's recent window. Without a window
// the current frame stands alone.
type DefaultScorer struct {
	UseScoring    bool
	MinConfidence float64
}

func NewDefaultScorer(s types.Settings) DefaultScorer {
	return DefaultScorer{UseScoring: s.UseConfidenceScoring, MinConfidence: s.MinConfidenceThreshold}
}

func (d DefaultScorer) Score(c types.Candidate, a types.AnalysisResult, window []types.AnalysisResult) types.Score {
	ai := aiConfidence(c, a)
	if len(window) == 0 {
		window = []types.AnalysisResult{a}
	}
	temporal := 0.5 + 0.5*Support(c.Type, window)

	overall := round4(aiWeight*ai + temporalWeight*temporal)
	return types.Score{
		Overall: overall,
		Breakdown: map[string]float64{
			"ai_confidence": round4(ai),
			"temporal":      round4(temporal),
		},
		IsReliable: !d.UseScoring || overall >= d.MinConfidence,
	}
}

// Support is the fraction of window samples that exhibit the candidate's
// condition, counted only over samples that observed it. Pattern
// violations are fully supported by construction; a window with no
// observing sample gives no support.
func Support(t types.ViolationType, window []types.AnalysisResult) float64 {
	if t.IsPattern() {
		return 1
	}
	seen, hits := 0, 0
	for _, s := range window {
		if !rules.Observes(t, s) {
			continue
		}
		seen++
		if rules.HasCondition(t, s) {
			hits++
		}
	}
	if seen == 0 {
		return 0
	}
	return float64(hits) / float64(seen)
}

func aiConfidence(c types.Candidate, a types.AnalysisResult) float64 {
	switch c.Type {
	case types.ViolationPhoneDetected, types.ViolationBookDetected,
		types.ViolationLaptopDetected, types.ViolationObjectDetected:
		// Local detections already cleared their per-class threshold, so
		// the raw score only moves the value within the upper band.
		best := 0.0
		for _, d := range a.Objects {
			kw := rules.ProhibitedKeyword(d.Label)
			if kw != "" && rules.ObjectViolationType(kw) == c.Type && d.Confidence > best {
				best = d.Confidence
			}
		}
		if best == 0 {
			return defaultSignalConfidence
		}
		return 0.75 + 0.25*best

	case types.ViolationLookingAway:
		g := a.Gaze
		if g == nil {
			return 0
		}
		if g.IsLookingAway {
			return defaultSignalConfidence
		}
		excess := math.Max(
			math.Abs(g.YawDegrees)-rules.AwayYawDegrees,
			math.Abs(g.PitchDegrees)-rules.AwayPitchDegrees,
		)
		return math.Min(1, 0.75+math.Max(0, excess)/40)

	case types.ViolationFaceNotMatched:
		if a.FaceVerification == nil || a.FaceVerification.Confidence <= 0 {
			return missingVerification
		}
		return a.FaceVerification.Confidence
	}
	return defaultSignalConfidence
}

// Filter scores every candidate and keeps only the reliable ones, with
// their score attached.
func Filter(sc Scorer, cs []types.Candidate, a types.AnalysisResult, window []types.AnalysisResult) (kept []types.Candidate, dropped int) {
	for _, c := range cs {
		s := sc.Score(c, a, window)
		if !s.IsReliable {
			dropped++
			continue
		}
		c.ConfidenceScore = s.Overall
		c.ConfidenceBreakdown = s.Breakdown
		kept = append(kept, c)
	}
	return kept, dropped
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

package scoring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/scoring"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

type rejectAll struct{}

func (rejectAll) Score(types.Candidate, types.AnalysisResult, []types.AnalysisResult) types.Score {
	return types.Score{Overall: 0.1, IsReliable: false}
}

func TestDefaultScorer_NoFaceFreshWindowIsReliable(t *testing.T) {
	sc := scoring.NewDefaultScorer(types.DefaultSettings())
	a := types.AnalysisResult{SubjectCount: 0}
	s := sc.Score(types.Candidate{Type: types.ViolationNoFace, Severity: 4}, a, []types.AnalysisResult{a})

	assert.True(t, s.IsReliable)
	assert.InDelta(t, 0.93, s.Overall, 1e-9)
	assert.InDelta(t, 0.9, s.Breakdown["ai_confidence"], 1e-9)
	assert.InDelta(t, 1.0, s.Breakdown["temporal"], 1e-9)
}

func TestDefaultScorer_LowConfidenceMismatchIsUnreliable(t *testing.T) {
	sc := scoring.NewDefaultScorer(types.DefaultSettings())
	a := types.AnalysisResult{
		SubjectCount:     1,
		FaceVerification: &types.FaceVerification{IsMatch: false, Confidence: 0.2},
	}
	window := []types.AnalysisResult{{SubjectCount: 1}, {SubjectCount: 1}, {SubjectCount: 1}, a}
	s := sc.Score(types.Candidate{Type: types.ViolationFaceNotMatched, Severity: 5}, a, window)

	assert.False(t, s.IsReliable)
}

func TestDefaultScorer_ScoringDisabledKeepsEverything(t *testing.T) {
	settings := types.DefaultSettings()
	settings.UseConfidenceScoring = false
	sc := scoring.NewDefaultScorer(settings)
	a := types.AnalysisResult{
		SubjectCount:     1,
		FaceVerification: &types.FaceVerification{IsMatch: false, Confidence: 0.01},
	}
	s := sc.Score(types.Candidate{Type: types.ViolationFaceNotMatched}, a, nil)
	assert.True(t, s.IsReliable)
}

func TestDefaultScorer_LowThresholdPhoneStillReliable(t *testing.T) {
	sc := scoring.NewDefaultScorer(types.DefaultSettings())
	a := types.AnalysisResult{
		SubjectCount:      1,
		Objects:           []types.Detection{{Label: "cell phone", Confidence: 0.41}},
		ProhibitedObjects: []string{"phone"},
	}
	window := make([]types.AnalysisResult, 9, 10)
	for i := range window {
		window[i] = types.AnalysisResult{SubjectCount: 1}
	}
	window = append(window, a)

	s := sc.Score(types.Candidate{Type: types.ViolationPhoneDetected}, a, window)
	assert.True(t, s.IsReliable, "overall=%v", s.Overall)
}

func TestSupport(t *testing.T) {
	window := []types.AnalysisResult{{SubjectCount: 0}, {SubjectCount: 1}, {SubjectCount: 0}, {SubjectCount: 1}}
	assert.InDelta(t, 0.5, scoring.Support(types.ViolationNoFace, window), 1e-9)
	assert.InDelta(t, 1.0, scoring.Support(types.ViolationIntermittent, nil), 1e-9)
	assert.InDelta(t, 0.0, scoring.Support(types.ViolationNoFace, nil), 1e-9)
}

func TestSupport_OnlyCountsObservingSamples(t *testing.T) {
	mismatch := types.AnalysisResult{SubjectCount: 1, FaceVerification: &types.FaceVerification{IsMatch: false}}
	match := types.AnalysisResult{SubjectCount: 1, FaceVerification: &types.FaceVerification{IsMatch: true, Confidence: 0.9}}
	skipped := types.AnalysisResult{SubjectCount: 1}

	window := []types.AnalysisResult{skipped, skipped, mismatch, skipped, match, skipped}
	assert.InDelta(t, 0.5, scoring.Support(types.ViolationFaceNotMatched, window), 1e-9)
	assert.InDelta(t, 0.0, scoring.Support(types.ViolationFaceNotMatched, []types.AnalysisResult{skipped}), 1e-9)

	away := types.AnalysisResult{SubjectCount: 1, Gaze: &types.Gaze{IsLookingAway: true}}
	assert.InDelta(t, 1.0, scoring.Support(types.ViolationLookingAway, []types.AnalysisResult{skipped, away, skipped}), 1e-9)
}

func TestDefaultScorer_MismatchWithoutConfidenceBetweenChecks(t *testing.T) {
	sc := scoring.NewDefaultScorer(types.DefaultSettings())
	a := types.AnalysisResult{SubjectCount: 1, FaceVerification: &types.FaceVerification{IsMatch: false}}
	window := []types.AnalysisResult{{SubjectCount: 1}, {SubjectCount: 1}, a}

	s := sc.Score(types.Candidate{Type: types.ViolationFaceNotMatched, Severity: 5}, a, window)
	assert.True(t, s.IsReliable, "overall=%v", s.Overall)
	assert.InDelta(t, 0.65, s.Overall, 1e-9)
}

func TestDefaultScorer_EmptyWindowUsesCurrentFrame(t *testing.T) {
	sc := scoring.NewDefaultScorer(types.DefaultSettings())
	a := types.AnalysisResult{SubjectCount: 0}
	s := sc.Score(types.Candidate{Type: types.ViolationNoFace, Severity: 4}, a, nil)
	assert.InDelta(t, 1.0, s.Breakdown["temporal"], 1e-9)
}

func TestFilter_DropsUnreliable(t *testing.T) {
	cs := []types.Candidate{{Type: types.ViolationNoFace}, {Type: types.ViolationPhoneDetected}}
	kept, dropped := scoring.Filter(rejectAll{}, cs, types.AnalysisResult{}, nil)
	assert.Empty(t, kept)
	assert.Equal(t, 2, dropped)
}

func TestFilter_AnnotatesKept(t *testing.T) {
	sc := scoring.NewDefaultScorer(types.DefaultSettings())
	a := types.AnalysisResult{SubjectCount: 0}
	kept, dropped := scoring.Filter(sc, []types.Candidate{{Type: types.ViolationNoFace, Severity: 4}}, a, []types.AnalysisResult{a})
	require.Len(t, kept, 1)
	assert.Zero(t, dropped)
	assert.Greater(t, kept[0].ConfidenceScore, 0.0)
	assert.Contains(t, kept[0].ConfidenceBreakdown, "ai_confidence")
}

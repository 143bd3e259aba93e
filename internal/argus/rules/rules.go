// Package rules turns a single merged frame analysis into violation
// candidates. Everything here is pure; persistence and throttling live in
// the policy and service packages.
package rules

import (
	"math"
	"strings"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

const (
	// Away thresholds shared by the single-frame rule and the temporal
	// pattern. Boundaries are inclusive: 35.0 is away, 34.9 is not.
	AwayYawDegrees   = 35.0
	AwayPitchDegrees = 25.0

	SeverityNoFace        = 4
	SeverityMultipleFaces = 5
	SeverityObject        = 5
	SeverityLookingAway   = 2
	SeverityFaceMismatch  = 5
)

type objectKeyword struct {
	keyword string
	vtype   types.ViolationType
}

// Order matters: the first keyword contained in a label wins, so "textbook"
// resolves through "book".
var prohibitedKeywords = []objectKeyword{
	{"phone", types.ViolationPhoneDetected},
	{"mobile", types.ViolationPhoneDetected},
	{"book", types.ViolationBookDetected},
	{"textbook", types.ViolationBookDetected},
	{"laptop", types.ViolationLaptopDetected},
	{"computer", types.ViolationLaptopDetected},
	{"tablet", types.ViolationLaptopDetected},
	{"notes", types.ViolationBookDetected},
	{"headphones", types.ViolationObjectDetected},
	{"earbuds", types.ViolationObjectDetected},
}

// ProhibitedKeyword returns the keyword a free-form object label maps to,
// or "" when the label is not a prohibited object.
func ProhibitedKeyword(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	if l == "" {
		return ""
	}
	for _, k := range prohibitedKeywords {
		if strings.Contains(l, k.keyword) {
			return k.keyword
		}
	}
	return ""
}

// ObjectViolationType maps a prohibited keyword to its violation type.
// Unmapped labels become the generic OBJECT_DETECTED.
func ObjectViolationType(keyword string) types.ViolationType {
	k := strings.ToLower(strings.TrimSpace(keyword))
	for _, pk := range prohibitedKeywords {
		if pk.keyword == k {
			return pk.vtype
		}
	}
	return types.ViolationObjectDetected
}

// IsLookingAway applies the away-rule to a gaze estimate. A nil gaze is
// never away.
func IsLookingAway(g *types.Gaze) bool {
	if g == nil {
		return false
	}
	return g.IsLookingAway ||
		math.Abs(g.YawDegrees) >= AwayYawDegrees ||
		math.Abs(g.PitchDegrees) >= AwayPitchDegrees
}

// DetectViolations evaluates every rule independently; one frame can yield
// several candidates. Temporal patterns are appended by the caller.
func DetectViolations(a types.AnalysisResult, s types.Settings) []types.Candidate {
	var out []types.Candidate

	if s.DetectNoFace && a.SubjectCount == 0 {
		out = append(out, types.Candidate{
			Type:     types.ViolationNoFace,
			Severity: SeverityNoFace,
			Details:  map[string]any{"message": "No face detected"},
		})
	}
	if s.DetectMultipleFaces && a.SubjectCount > 1 {
		out = append(out, types.Candidate{
			Type:     types.ViolationMultipleFaces,
			Severity: SeverityMultipleFaces,
			Details:  map[string]any{"message": "Multiple faces detected", "count": a.SubjectCount},
		})
	}

	if s.DetectObjects {
		for _, obj := range a.ProhibitedObjects {
			out = append(out, types.Candidate{
				Type:     ObjectViolationType(obj),
				Severity: SeverityObject,
				Details:  map[string]any{"object": obj},
			})
		}
	}

	if s.DetectLookingAway && IsLookingAway(a.Gaze) {
		out = append(out, types.Candidate{
			Type:     types.ViolationLookingAway,
			Severity: SeverityLookingAway,
			Details: map[string]any{
				"direction": string(a.Gaze.Direction),
				"yaw":       a.Gaze.YawDegrees,
				"pitch":     a.Gaze.PitchDegrees,
			},
		})
	}

	if s.RequireFaceVerification && a.FaceVerification != nil && !a.FaceVerification.IsMatch {
		out = append(out, types.Candidate{
			Type:     types.ViolationFaceNotMatched,
			Severity: SeverityFaceMismatch,
			Details:  map[string]any{"confidence": a.FaceVerification.Confidence},
		})
	}

	return out
}

// Observes reports whether a sample could have shown the condition at all.
// Gaze and identity come from the remote model, which does not run (or
// verify) on every frame; samples without that data say nothing either way.
func Observes(t types.ViolationType, a types.AnalysisResult) bool {
	switch t {
	case types.ViolationLookingAway:
		return a.Gaze != nil
	case types.ViolationFaceNotMatched:
		return a.FaceVerification != nil
	}
	return true
}

// HasCondition reports whether a past analysis sample exhibits the same
// single-frame condition as a candidate type. The scorer uses it to measure
// how consistently a condition shows up across the temporal window.
func HasCondition(t types.ViolationType, a types.AnalysisResult) bool {
	switch t {
	case types.ViolationNoFace:
		return a.SubjectCount == 0
	case types.ViolationMultipleFaces:
		return a.SubjectCount > 1
	case types.ViolationLookingAway:
		return IsLookingAway(a.Gaze)
	case types.ViolationFaceNotMatched:
		return a.FaceVerification != nil && !a.FaceVerification.IsMatch
	case types.ViolationPhoneDetected, types.ViolationBookDetected,
		types.ViolationLaptopDetected, types.ViolationObjectDetected:
		for _, obj := range a.ProhibitedObjects {
			if ObjectViolationType(obj) == t {
				return true
			}
		}
	}
	return false
}

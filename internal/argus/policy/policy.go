// Package policy holds the evidence-retention, deduplication and
// notification throttling decisions. Each window is anchored on the
// timestamp of the record it compares against, not on a shared tick.
package policy

import (
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

const (
	EvidenceMinSeverity   = 4
	EvidenceCooldown      = 30 * time.Second
	ViolationTypeCooldown = 20 * time.Second
)

// RequiresEvidence reports whether any candidate is severe enough to keep
// the frame as evidence.
func RequiresEvidence(cs []types.Candidate) bool {
	for _, c := range cs {
		if c.Severity >= EvidenceMinSeverity {
			return true
		}
	}
	return false
}

// InCooldown reports whether last happened less than window before now.
func InCooldown(last *time.Time, now time.Time, window time.Duration) bool {
	if last == nil {
		return false
	}
	return now.Sub(*last) < window
}

// ShouldRetainEvidence decides whether the frame is persisted as a
// snapshot: no violation snapshot for the session in the last 30 s and at
// least one candidate of severity 4 or more.
func ShouldRetainEvidence(lastEvidenceAt *time.Time, now time.Time, cs []types.Candidate) bool {
	return !InCooldown(lastEvidenceAt, now, EvidenceCooldown) && RequiresEvidence(cs)
}

// IsDuplicate reports whether a non-false-positive violation of the same
// type was recorded within the last 20 s.
func IsDuplicate(lastSameTypeAt *time.Time, now time.Time) bool {
	return InCooldown(lastSameTypeAt, now, ViolationTypeCooldown)
}

// NeedsVerification throttles remote identity checks. An interval of zero
// verifies every frame.
func NeedsVerification(lastVerifiedAt *time.Time, now time.Time, interval time.Duration) bool {
	if interval <= 0 || lastVerifiedAt == nil {
		return true
	}
	return now.Sub(*lastVerifiedAt) >= interval
}

// ShouldNotifySupervisors keeps supervisor alerts low-noise: only the first
// violation of a session and the one that reaches the termination threshold.
func ShouldNotifySupervisors(prevTotal, newTotal, threshold int) bool {
	if newTotal <= prevTotal {
		return false
	}
	crossed := func(mark int) bool { return prevTotal < mark && newTotal >= mark }
	return crossed(1) || crossed(threshold)
}

// Package derive computes the non-persisted view of a gig: its effective
// status, the nearest actionable deadline, and payout staleness. Everything
// here is pure; callers re-run it on every observation instead of caching.
package derive

import (
	"time"

	"hustleup/internal/domain"
)

// Status maps a gig and its fully materialized report list to one effective
// status. First matching rule wins:
//
//  1. awaiting_payout / completed pass through untouched.
//  2. No report slots means plain in_progress.
//  3. Any rejection wins over everything else: resubmission is the most
//     urgent worker action.
//  4. Any submission awaiting review means pending_review.
//  5. Otherwise in_progress (slots unsubmitted, or all approved).
func Status(g domain.Gig) string {
	if g.Status == domain.StatusAwaitingPayout || g.Status == domain.StatusCompleted {
		return g.Status
	}
	if g.NumberOfReports == 0 || len(g.Reports) == 0 {
		return domain.StatusInProgress
	}
	for _, r := range g.Reports {
		if r.Rejected() {
			return domain.EffectiveActionRequired
		}
	}
	for _, r := range g.Reports {
		if r.AwaitingReview() {
			return domain.EffectivePendingReview
		}
	}
	return domain.StatusInProgress
}

// NextDeadline resolves the single nearest actionable deadline: the earlier
// of the gig's own deadline and the earliest report deadline that is still
// in the future and not already ruled on. Terminal gigs have no deadline.
func NextDeadline(g domain.Gig, now time.Time) (time.Time, bool) {
	if g.Status == domain.StatusAwaitingPayout || g.Status == domain.StatusCompleted {
		return time.Time{}, false
	}
	candidate, ok := parseTime(g.Deadline)
	for _, r := range g.Reports {
		if r.Approved() || r.Rejected() {
			continue
		}
		d, valid := parseTime(r.Deadline)
		if !valid || !d.After(now) {
			continue
		}
		if !ok || d.Before(candidate) {
			candidate = d
			ok = true
		}
	}
	return candidate, ok
}

// StalledPayout reports whether a payout request has sat unprocessed beyond
// the threshold, measured from the gig's last write.
func StalledPayout(g domain.Gig, now time.Time, threshold time.Duration) bool {
	if g.Status != domain.StatusAwaitingPayout {
		return false
	}
	updated, ok := parseTime(&g.UpdatedAt)
	if !ok {
		return false
	}
	return now.Sub(updated) > threshold
}

func parseTime(s *string) (time.Time, bool) {
	if s == nil || *s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

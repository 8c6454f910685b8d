package derive_test

import (
	"testing"
	"time"

	"hustleup/internal/derive"
	"hustleup/internal/domain"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func ts(t time.Time) *string {
	s := t.Format(time.RFC3339)
	return &s
}

func strptr(s string) *string { return &s }

func gigWithReports(status string, reports ...domain.ProgressReport) domain.Gig {
	for i := range reports {
		reports[i].GigID = "gig-1"
		reports[i].ReportNumber = i + 1
	}
	return domain.Gig{
		ID:              "gig-1",
		Status:          status,
		NumberOfReports: len(reports),
		Reports:         reports,
		UpdatedAt:       testNow.Format(time.RFC3339),
	}
}

func submitted(review string) domain.ProgressReport {
	rep := domain.ProgressReport{
		Submission: &domain.Submission{Text: "work", SubmittedAt: testNow.Format(time.RFC3339)},
	}
	if review != "" {
		rep.ReviewStatus = &review
	}
	return rep
}

func TestStatusTerminalDominates(t *testing.T) {
	for _, status := range []string{domain.StatusAwaitingPayout, domain.StatusCompleted} {
		g := gigWithReports(status, submitted(domain.ReviewRejected))
		if got := derive.Status(g); got != status {
			t.Fatalf("status %s: got %s", status, got)
		}
	}
}

func TestStatusNoReports(t *testing.T) {
	g := gigWithReports(domain.StatusInProgress)
	if got := derive.Status(g); got != domain.StatusInProgress {
		t.Fatalf("got %s", got)
	}
}

func TestStatusRejectionOutranksPending(t *testing.T) {
	g := gigWithReports(domain.StatusInProgress,
		submitted(domain.ReviewPending),
		submitted(domain.ReviewRejected),
	)
	if got := derive.Status(g); got != domain.EffectiveActionRequired {
		t.Fatalf("got %s, want action_required", got)
	}
}

func TestStatusPendingReview(t *testing.T) {
	g := gigWithReports(domain.StatusInProgress,
		submitted(domain.ReviewApproved),
		submitted(domain.ReviewPending),
	)
	if got := derive.Status(g); got != domain.EffectivePendingReview {
		t.Fatalf("got %s, want pending_review", got)
	}
}

func TestStatusSubmissionWithoutReviewStatusIsPending(t *testing.T) {
	g := gigWithReports(domain.StatusInProgress, submitted(""))
	if got := derive.Status(g); got != domain.EffectivePendingReview {
		t.Fatalf("got %s, want pending_review", got)
	}
}

func TestStatusAllApprovedOrUnsubmitted(t *testing.T) {
	g := gigWithReports(domain.StatusInProgress,
		submitted(domain.ReviewApproved),
		domain.ProgressReport{},
	)
	if got := derive.Status(g); got != domain.StatusInProgress {
		t.Fatalf("got %s, want in_progress", got)
	}
	g = gigWithReports(domain.StatusInProgress,
		submitted(domain.ReviewApproved),
		submitted(domain.ReviewApproved),
	)
	if got := derive.Status(g); got != domain.StatusInProgress {
		t.Fatalf("all approved: got %s, want in_progress", got)
	}
}

func TestStatusAlwaysOneOfFive(t *testing.T) {
	reviews := []string{"", domain.ReviewPending, domain.ReviewApproved, domain.ReviewRejected}
	statuses := []string{domain.StatusInProgress, domain.StatusAwaitingPayout, domain.StatusCompleted}
	valid := map[string]bool{
		domain.StatusInProgress:        true,
		domain.StatusAwaitingPayout:    true,
		domain.StatusCompleted:         true,
		domain.EffectiveActionRequired: true,
		domain.EffectivePendingReview:  true,
	}
	for _, status := range statuses {
		for _, r1 := range reviews {
			for _, r2 := range reviews {
				g := gigWithReports(status, submitted(r1), submitted(r2))
				got := derive.Status(g)
				if !valid[got] {
					t.Fatalf("status %s reviews %q/%q: derived %q not in the defined set", status, r1, r2, got)
				}
				terminal := status == domain.StatusAwaitingPayout || status == domain.StatusCompleted
				if terminal != (got == status && terminal) {
					t.Fatalf("status %s: terminal passthrough violated, got %s", status, got)
				}
			}
		}
	}
}

func TestNextDeadlineTerminalHasNone(t *testing.T) {
	g := gigWithReports(domain.StatusAwaitingPayout, submitted(domain.ReviewPending))
	g.Deadline = ts(testNow.Add(24 * time.Hour))
	if _, ok := derive.NextDeadline(g, testNow); ok {
		t.Fatal("expected no deadline for awaiting_payout gig")
	}
}

func TestNextDeadlinePicksEarliestActionableReport(t *testing.T) {
	rep1 := submitted(domain.ReviewApproved)
	rep1.Deadline = ts(testNow.Add(1 * time.Hour)) // approved: ignored
	rep2 := domain.ProgressReport{Deadline: ts(testNow.Add(6 * time.Hour))}
	rep3 := domain.ProgressReport{Deadline: ts(testNow.Add(48 * time.Hour))}
	g := gigWithReports(domain.StatusInProgress, rep1, rep2, rep3)
	g.Deadline = ts(testNow.Add(72 * time.Hour))

	got, ok := derive.NextDeadline(g, testNow)
	if !ok {
		t.Fatal("expected a deadline")
	}
	if want := testNow.Add(6 * time.Hour); !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestNextDeadlineSkipsPastReportDeadlines(t *testing.T) {
	rep := domain.ProgressReport{Deadline: ts(testNow.Add(-2 * time.Hour))}
	g := gigWithReports(domain.StatusInProgress, rep)
	g.Deadline = ts(testNow.Add(24 * time.Hour))
	got, ok := derive.NextDeadline(g, testNow)
	if !ok || !got.Equal(testNow.Add(24*time.Hour)) {
		t.Fatalf("expected gig deadline, got %v ok=%v", got, ok)
	}
}

func TestNextDeadlineGigDeadlineOnly(t *testing.T) {
	g := gigWithReports(domain.StatusInProgress, domain.ProgressReport{})
	if _, ok := derive.NextDeadline(g, testNow); ok {
		t.Fatal("expected no deadline when nothing is set")
	}
	g.Deadline = ts(testNow.Add(time.Hour))
	got, ok := derive.NextDeadline(g, testNow)
	if !ok || !got.Equal(testNow.Add(time.Hour)) {
		t.Fatalf("got %v ok=%v", got, ok)
	}
}

func TestStalledPayout(t *testing.T) {
	threshold := 72 * time.Hour
	g := gigWithReports(domain.StatusAwaitingPayout)
	g.UpdatedAt = testNow.Add(-73 * time.Hour).Format(time.RFC3339)
	if !derive.StalledPayout(g, testNow, threshold) {
		t.Fatal("expected stalled")
	}
	g.UpdatedAt = testNow.Add(-71 * time.Hour).Format(time.RFC3339)
	if derive.StalledPayout(g, testNow, threshold) {
		t.Fatal("expected not stalled inside threshold")
	}
	g.Status = domain.StatusInProgress
	g.UpdatedAt = testNow.Add(-100 * time.Hour).Format(time.RFC3339)
	if derive.StalledPayout(g, testNow, threshold) {
		t.Fatal("stalled only applies to awaiting_payout")
	}
	g.Status = domain.StatusCompleted
	if derive.StalledPayout(g, testNow, threshold) {
		t.Fatal("completed gigs are never stalled")
	}
}

func TestRejectionScenario(t *testing.T) {
	// N=2: report 1 approved, report 2 pending -> pending_review.
	g := gigWithReports(domain.StatusInProgress,
		submitted(domain.ReviewApproved),
		submitted(domain.ReviewPending),
	)
	if got := derive.Status(g); got != domain.EffectivePendingReview {
		t.Fatalf("step 1: got %s", got)
	}
	// Client rejects report 2 -> action_required.
	g.Reports[1].ReviewStatus = strptr(domain.ReviewRejected)
	g.Reports[1].ReviewFeedback = strptr("needs work")
	if got := derive.Status(g); got != domain.EffectiveActionRequired {
		t.Fatalf("step 2: got %s", got)
	}
	// Worker resubmits -> pending_review with feedback cleared.
	g.Reports[1] = submitted(domain.ReviewPending)
	g.Reports[1].ReportNumber = 2
	if got := derive.Status(g); got != domain.EffectivePendingReview {
		t.Fatalf("step 3: got %s", got)
	}
	if g.Reports[1].ReviewFeedback != nil {
		t.Fatal("feedback should be cleared on resubmit")
	}
}

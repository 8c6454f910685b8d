package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"hustleup/internal/config"
	"hustleup/internal/db"
	"hustleup/internal/domain"
	"hustleup/internal/engine"
	"hustleup/internal/migrate"
	"hustleup/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return now }
	return testEnv{Engine: eng, Ctx: context.Background(), Clock: &now}
}

func (env testEnv) advance(d time.Duration) {
	*env.Clock = env.Clock.Add(d)
}

func (env testEnv) createGig(t *testing.T, numReports int) engine.GigView {
	t.Helper()
	g, err := env.Engine.CreateGig(env.Ctx, engine.GigCreateOptions{
		ClientID:        "client-1",
		WorkerID:        "worker-1",
		Title:           "Landing page",
		Budget:          500,
		NumberOfReports: numReports,
		ActorID:         "client-1",
	})
	if err != nil {
		t.Fatalf("create gig: %v", err)
	}
	return g
}

func (env testEnv) approveAll(t *testing.T, gigID string, numReports int) {
	t.Helper()
	for n := 1; n <= numReports; n++ {
		if _, err := env.Engine.SubmitReport(env.Ctx, engine.SubmitOptions{
			GigID: gigID, ReportNumber: n, Text: "done", ActorID: "worker-1",
		}); err != nil {
			t.Fatalf("submit report %d: %v", n, err)
		}
		if _, err := env.Engine.ReviewReport(env.Ctx, gigID, n, true, "", "client-1"); err != nil {
			t.Fatalf("approve report %d: %v", n, err)
		}
	}
}

func isPrecondition(err error, rule string) bool {
	var pre *engine.PreconditionError
	return errors.As(err, &pre) && pre.Rule == rule
}

func TestCreateGigMaterializesSlots(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGig(t, 3)
	if len(g.Reports) != 3 {
		t.Fatalf("got %d report slots, want 3", len(g.Reports))
	}
	for i, rep := range g.Reports {
		if rep.ReportNumber != i+1 || rep.Submission != nil {
			t.Fatalf("slot %d: %+v", i+1, rep)
		}
	}
	if g.EffectiveStatus != domain.StatusInProgress {
		t.Fatalf("effective status %s", g.EffectiveStatus)
	}
}

func TestSequentialSubmissionGate(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGig(t, 3)

	_, err := env.Engine.SubmitReport(env.Ctx, engine.SubmitOptions{
		GigID: g.ID, ReportNumber: 2, Text: "skipping ahead", ActorID: "worker-1",
	})
	if !isPrecondition(err, engine.RulePriorNotApproved) {
		t.Fatalf("report 2 before 1: got %v", err)
	}

	if _, err := env.Engine.SubmitReport(env.Ctx, engine.SubmitOptions{
		GigID: g.ID, ReportNumber: 1, Text: "first", ActorID: "worker-1",
	}); err != nil {
		t.Fatalf("submit report 1: %v", err)
	}

	// Report 1 pending, not approved: report 2 stays locked.
	_, err = env.Engine.SubmitReport(env.Ctx, engine.SubmitOptions{
		GigID: g.ID, ReportNumber: 2, Text: "still locked", ActorID: "worker-1",
	})
	if !isPrecondition(err, engine.RulePriorNotApproved) {
		t.Fatalf("report 2 while 1 pending: got %v", err)
	}

	if _, err := env.Engine.ReviewReport(env.Ctx, g.ID, 1, true, "", "client-1"); err != nil {
		t.Fatalf("approve report 1: %v", err)
	}
	if _, err := env.Engine.SubmitReport(env.Ctx, engine.SubmitOptions{
		GigID: g.ID, ReportNumber: 2, Text: "unlocked", ActorID: "worker-1",
	}); err != nil {
		t.Fatalf("submit report 2 after approval: %v", err)
	}
}

func TestSubmitOutOfRange(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGig(t, 2)
	for _, n := range []int{0, 3} {
		_, err := env.Engine.SubmitReport(env.Ctx, engine.SubmitOptions{
			GigID: g.ID, ReportNumber: n, Text: "x", ActorID: "worker-1",
		})
		if !isPrecondition(err, engine.RuleReportOutOfRange) {
			t.Fatalf("report %d: got %v", n, err)
		}
	}
}

func TestResubmitPreservesAttachments(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGig(t, 1)
	if _, err := env.Engine.SubmitReport(env.Ctx, engine.SubmitOptions{
		GigID: g.ID, ReportNumber: 1, Text: "v1", Attachments: []string{"ref-a", "ref-b"}, ActorID: "worker-1",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ReviewReport(env.Ctx, g.ID, 1, false, "fix the copy", "client-1"); err != nil {
		t.Fatal(err)
	}
	view, err := env.Engine.SubmitReport(env.Ctx, engine.SubmitOptions{
		GigID: g.ID, ReportNumber: 1, Text: "v2, text only", ActorID: "worker-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	slot := view.Reports[0]
	if slot.Submission == nil || len(slot.Submission.Attachments) != 2 {
		t.Fatalf("attachments lost on text-only resubmit: %+v", slot.Submission)
	}
	if slot.ReviewStatus == nil || *slot.ReviewStatus != domain.ReviewPending {
		t.Fatalf("resubmit should reset review to pending, got %+v", slot.ReviewStatus)
	}
	if slot.ReviewFeedback != nil {
		t.Fatal("resubmit should clear feedback")
	}

	// An explicit new attachment list replaces the old one.
	view, err = env.Engine.SubmitReport(env.Ctx, engine.SubmitOptions{
		GigID: g.ID, ReportNumber: 1, Text: "v3", Attachments: []string{"ref-c"}, ActorID: "worker-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	got := view.Reports[0].Submission.Attachments
	if len(got) != 1 || got[0] != "ref-c" {
		t.Fatalf("got %v, want [ref-c]", got)
	}
}

func TestUnsubmitRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGig(t, 1)
	if _, err := env.Engine.SubmitReport(env.Ctx, engine.SubmitOptions{
		GigID: g.ID, ReportNumber: 1, Text: "draft", ActorID: "worker-1",
	}); err != nil {
		t.Fatal(err)
	}
	view, err := env.Engine.UnsubmitReport(env.Ctx, g.ID, 1, "worker-1")
	if err != nil {
		t.Fatal(err)
	}
	slot := view.Reports[0]
	if slot.Submission != nil || slot.ReviewStatus != nil {
		t.Fatalf("slot not reset: %+v", slot)
	}
	if view.EffectiveStatus != domain.StatusInProgress {
		t.Fatalf("effective status %s", view.EffectiveStatus)
	}

	// Nothing left to withdraw.
	_, err = env.Engine.UnsubmitReport(env.Ctx, g.ID, 1, "worker-1")
	if !isPrecondition(err, engine.RuleNotSubmitted) {
		t.Fatalf("got %v", err)
	}
}

func TestUnsubmitApprovedRefused(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGig(t, 1)
	env.approveAll(t, g.ID, 1)
	_, err := env.Engine.UnsubmitReport(env.Ctx, g.ID, 1, "worker-1")
	if !isPrecondition(err, engine.RuleAlreadyApproved) {
		t.Fatalf("got %v", err)
	}
}

func TestReviewRequiresSubmission(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGig(t, 1)
	_, err := env.Engine.ReviewReport(env.Ctx, g.ID, 1, true, "", "client-1")
	if !isPrecondition(err, engine.RuleNotAwaitingReview) {
		t.Fatalf("got %v", err)
	}
}

func TestRejectionSetsActionRequired(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGig(t, 2)
	if _, err := env.Engine.SubmitReport(env.Ctx, engine.SubmitOptions{
		GigID: g.ID, ReportNumber: 1, Text: "v1", ActorID: "worker-1",
	}); err != nil {
		t.Fatal(err)
	}
	view, err := env.Engine.ReviewReport(env.Ctx, g.ID, 1, false, "redo", "client-1")
	if err != nil {
		t.Fatal(err)
	}
	if view.EffectiveStatus != domain.EffectiveActionRequired {
		t.Fatalf("effective status %s, want action_required", view.EffectiveStatus)
	}
	if fb := view.Reports[0].ReviewFeedback; fb == nil || *fb != "redo" {
		t.Fatalf("feedback %v", fb)
	}
}

func TestPaymentEligibilityReasons(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGig(t, 1)

	elig, err := env.Engine.CanRequestPayment(env.Ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if elig.OK || elig.Reason != engine.ReasonReportsNotApproved {
		t.Fatalf("unapproved reports: %+v", elig)
	}
	_, err = env.Engine.RequestPayment(env.Ctx, g.ID, "worker-1")
	if !isPrecondition(err, engine.RulePaymentIneligible) {
		t.Fatalf("request while ineligible: got %v", err)
	}

	env.approveAll(t, g.ID, 1)
	elig, _ = env.Engine.CanRequestPayment(env.Ctx, g.ID)
	if !elig.OK {
		t.Fatalf("after approval: %+v", elig)
	}

	// Requesting leaves the gig in_progress; only acceptance moves it on.
	view, err := env.Engine.RequestPayment(env.Ctx, g.ID, "worker-1")
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != domain.StatusInProgress || !view.PaymentRequestPending || view.PaymentRequestsCount != 1 {
		t.Fatalf("after request: %+v", view.Gig)
	}

	// Inside the cooldown window the cooldown is the reported reason even
	// though the request is also still pending.
	elig, _ = env.Engine.CanRequestPayment(env.Ctx, g.ID)
	if elig.OK || elig.Reason != engine.ReasonCooldownActive {
		t.Fatalf("within cooldown: %+v", elig)
	}
	env.advance(3 * time.Hour)
	elig, _ = env.Engine.CanRequestPayment(env.Ctx, g.ID)
	if elig.OK || elig.Reason != engine.ReasonRequestPending {
		t.Fatalf("pending request: %+v", elig)
	}

	// Accepted but not paid out: the payout is processing.
	view, err = env.Engine.AcceptPaymentRequest(env.Ctx, g.ID, "client-1")
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != domain.StatusAwaitingPayout || view.PaymentRequestPending {
		t.Fatalf("after accept: %+v", view.Gig)
	}
	elig, _ = env.Engine.CanRequestPayment(env.Ctx, g.ID)
	if elig.OK || elig.Reason != engine.ReasonProcessing {
		t.Fatalf("processing: %+v", elig)
	}

	if _, err := env.Engine.CompletePayout(env.Ctx, g.ID, "client-1"); err != nil {
		t.Fatal(err)
	}
	elig, _ = env.Engine.CanRequestPayment(env.Ctx, g.ID)
	if elig.OK || elig.Reason != engine.ReasonProcessing {
		t.Fatalf("completed: %+v", elig)
	}
}

func TestZeroReportGigCanRequestImmediately(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGig(t, 0)
	elig, err := env.Engine.CanRequestPayment(env.Ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !elig.OK {
		t.Fatalf("zero-report gig should be eligible: %+v", elig)
	}
	if _, err := env.Engine.RequestPayment(env.Ctx, g.ID, "worker-1"); err != nil {
		t.Fatal(err)
	}
}

func TestPayoutCompletionFlow(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGig(t, 0)
	if _, err := env.Engine.RequestPayment(env.Ctx, g.ID, "worker-1"); err != nil {
		t.Fatal(err)
	}
	// Completing before the client accepts is refused.
	_, err := env.Engine.CompletePayout(env.Ctx, g.ID, "client-1")
	if !isPrecondition(err, engine.RuleRequestNotAccepted) {
		t.Fatalf("complete before accept: got %v", err)
	}
	if _, err := env.Engine.AcceptPaymentRequest(env.Ctx, g.ID, "client-1"); err != nil {
		t.Fatal(err)
	}
	// Accepting twice is refused.
	_, err = env.Engine.AcceptPaymentRequest(env.Ctx, g.ID, "client-1")
	if !isPrecondition(err, engine.RuleNoPendingRequest) {
		t.Fatalf("double accept: got %v", err)
	}
	view, err := env.Engine.CompletePayout(env.Ctx, g.ID, "client-1")
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != domain.StatusCompleted {
		t.Fatalf("status %s", view.Status)
	}
}

func TestRequestCapAndCooldownRules(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-30 * time.Minute).Format(time.RFC3339)
	g := domain.Gig{Status: domain.StatusInProgress, PaymentRequestsCount: 5, LastPaymentRequestedAt: &last}

	elig := engine.Evaluate(g, now, 5, 2*time.Hour)
	if elig.OK || elig.Reason != engine.ReasonCapReached {
		t.Fatalf("cap: %+v", elig)
	}

	g.PaymentRequestsCount = 2
	elig = engine.Evaluate(g, now, 5, 2*time.Hour)
	if elig.OK || elig.Reason != engine.ReasonCooldownActive {
		t.Fatalf("cooldown: %+v", elig)
	}
	if elig.NextEligibleAt == nil || !elig.NextEligibleAt.Equal(now.Add(90*time.Minute)) {
		t.Fatalf("next eligible %v", elig.NextEligibleAt)
	}

	elig = engine.Evaluate(g, now.Add(2*time.Hour), 5, 2*time.Hour)
	if !elig.OK {
		t.Fatalf("after cooldown: %+v", elig)
	}
}

func TestDeclinedRequestCooldown(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGig(t, 0)
	if _, err := env.Engine.RequestPayment(env.Ctx, g.ID, "worker-1"); err != nil {
		t.Fatal(err)
	}
	view, err := env.Engine.DeclinePaymentRequest(env.Ctx, g.ID, "invoice first", "client-1")
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != domain.StatusInProgress || view.PaymentRequestPending {
		t.Fatalf("after decline: %+v", view.Gig)
	}

	// Declining does not refund the cooldown.
	requestedAt := *env.Clock
	env.advance(30 * time.Minute)
	elig, err := env.Engine.CanRequestPayment(env.Ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if elig.OK || elig.Reason != engine.ReasonCooldownActive {
		t.Fatalf("within cooldown: %+v", elig)
	}
	if elig.NextEligibleAt == nil || !elig.NextEligibleAt.Equal(requestedAt.Add(2*time.Hour)) {
		t.Fatalf("next eligible %v", elig.NextEligibleAt)
	}
	_, err = env.Engine.RequestPayment(env.Ctx, g.ID, "worker-1")
	if !isPrecondition(err, engine.RulePaymentIneligible) {
		t.Fatalf("request within cooldown: got %v", err)
	}

	env.advance(2 * time.Hour)
	view, err = env.Engine.RequestPayment(env.Ctx, g.ID, "worker-1")
	if err != nil {
		t.Fatalf("request after cooldown: %v", err)
	}
	if view.PaymentRequestsCount != 2 {
		t.Fatalf("count %d, want 2", view.PaymentRequestsCount)
	}
}

func TestRequestCapThroughDeclines(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGig(t, 0)
	for i := 1; i <= 5; i++ {
		view, err := env.Engine.RequestPayment(env.Ctx, g.ID, "worker-1")
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if view.PaymentRequestsCount != i {
			t.Fatalf("request %d: count %d", i, view.PaymentRequestsCount)
		}
		if _, err := env.Engine.DeclinePaymentRequest(env.Ctx, g.ID, "", "client-1"); err != nil {
			t.Fatalf("decline %d: %v", i, err)
		}
		env.advance(3 * time.Hour)
	}

	elig, err := env.Engine.CanRequestPayment(env.Ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if elig.OK || elig.Reason != engine.ReasonCapReached {
		t.Fatalf("after 5 requests: %+v", elig)
	}
	_, err = env.Engine.RequestPayment(env.Ctx, g.ID, "worker-1")
	if !isPrecondition(err, engine.RulePaymentIneligible) {
		t.Fatalf("sixth request: got %v", err)
	}
}

func TestSubmitFrozenAfterPayoutAccepted(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGig(t, 1)
	env.approveAll(t, g.ID, 1)
	if _, err := env.Engine.RequestPayment(env.Ctx, g.ID, "worker-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AcceptPaymentRequest(env.Ctx, g.ID, "client-1"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.SubmitReport(env.Ctx, engine.SubmitOptions{
		GigID: g.ID, ReportNumber: 1, Text: "too late", ActorID: "worker-1",
	})
	if !isPrecondition(err, engine.RuleGigProcessing) {
		t.Fatalf("got %v", err)
	}
}

func TestSubmitEmptyRefused(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGig(t, 1)
	_, err := env.Engine.SubmitReport(env.Ctx, engine.SubmitOptions{
		GigID: g.ID, ReportNumber: 1, ActorID: "worker-1",
	})
	if !isPrecondition(err, engine.RuleEmptySubmission) {
		t.Fatalf("got %v", err)
	}
}

func TestStalledGigs(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGig(t, 0)
	if _, err := env.Engine.RequestPayment(env.Ctx, g.ID, "worker-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AcceptPaymentRequest(env.Ctx, g.ID, "client-1"); err != nil {
		t.Fatal(err)
	}
	stalled, err := env.Engine.StalledGigs(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stalled) != 0 {
		t.Fatalf("fresh request should not be stalled: %d", len(stalled))
	}
	env.advance(73 * time.Hour)
	stalled, err = env.Engine.StalledGigs(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stalled) != 1 || stalled[0].ID != g.ID {
		t.Fatalf("got %d stalled gigs", len(stalled))
	}
	if !stalled[0].PayoutStalled {
		t.Fatal("view should be flagged stalled")
	}
}

func TestConflictOnStaleVersion(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGig(t, 0)
	stale, err := env.Engine.Repo.GetGig(env.Ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	// Another writer bumps the version.
	if _, err := env.Engine.RequestPayment(env.Ctx, g.ID, "worker-1"); err != nil {
		t.Fatal(err)
	}
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	err = env.Engine.Repo.UpdateGigCAS(env.Ctx, tx, stale)
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGig(t, 1)
	env.approveAll(t, g.ID, 1)
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, g.ID, "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	types := map[string]bool{}
	wantTS := env.Clock.Format(time.RFC3339)
	for _, evt := range evts {
		types[evt.Type] = true
		if evt.TS != wantTS {
			t.Fatalf("event %s stamped %s, want %s", evt.Type, evt.TS, wantTS)
		}
	}
	for _, want := range []string{"gig.created", "report.submitted", "report.approved"} {
		if !types[want] {
			t.Fatalf("missing event %s in %v", want, types)
		}
	}
}

// Package engine implements the gig workflow: report submission and review,
// payout throttling, and gig lifecycle transitions. Every mutation runs in a
// transaction that re-reads the gig, checks preconditions against that fresh
// copy, and commits the write together with its event. Notifications go out
// only after commit.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"hustleup/internal/attach"
	"hustleup/internal/config"
	"hustleup/internal/derive"
	"hustleup/internal/domain"
	"hustleup/internal/events"
	"hustleup/internal/notify"
	"hustleup/internal/repo"
)

type Engine struct {
	DB          *sql.DB
	Repo        repo.Repo
	Events      events.Writer
	Config      *config.Config
	Attachments attach.Store
	Notifier    notify.Dispatcher
	Logger      *slog.Logger
	Now         func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// eventWriter returns the writer stamped with the engine's clock so event
// rows and gig timestamps agree.
func (e Engine) eventWriter() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) cooldown() time.Duration {
	if e.Config == nil {
		return 0
	}
	return time.Duration(e.Config.Payments.CooldownHours) * time.Hour
}

func (e Engine) maxRequests() int {
	if e.Config == nil {
		return 0
	}
	return e.Config.Payments.MaxRequests
}

func (e Engine) stallThreshold() time.Duration {
	if e.Config == nil {
		return 0
	}
	return time.Duration(e.Config.Payments.StallThresholdHours) * time.Hour
}

// notifyAfterCommit delivers a notification outside any transaction. Failures
// are logged and swallowed; the state change already committed.
func (e Engine) notifyAfterCommit(ctx context.Context, recipientID, kind string, payload map[string]any) {
	if e.Notifier == nil || recipientID == "" {
		return
	}
	if err := e.Notifier.Notify(ctx, recipientID, kind, payload); err != nil {
		e.log().Warn("notification delivery failed",
			slog.String("recipient", recipientID),
			slog.String("kind", kind),
			slog.Any("error", err))
	}
}

func wrapConflict(err error, gigID string) error {
	if errors.Is(err, repo.ErrConflict) {
		return &ConflictError{GigID: gigID}
	}
	return err
}

// GigView is a gig annotated with everything derived on read.
type GigView struct {
	domain.Gig
	EffectiveStatus string             `json:"effective_status"`
	NextDeadline    *string            `json:"next_deadline,omitempty" format:"date-time"`
	PayoutStalled   bool               `json:"payout_stalled"`
	Payment         PaymentEligibility `json:"payment"`
}

// AnnotateGig computes the derived view for an already loaded gig.
func (e Engine) AnnotateGig(g domain.Gig) GigView {
	return e.annotate(g)
}

func (e Engine) annotate(g domain.Gig) GigView {
	now := e.now().UTC()
	view := GigView{
		Gig:             g,
		EffectiveStatus: derive.Status(g),
		PayoutStalled:   derive.StalledPayout(g, now, e.stallThreshold()),
		Payment:         Evaluate(g, now, e.maxRequests(), e.cooldown()),
	}
	if d, ok := derive.NextDeadline(g, now); ok {
		s := d.Format(time.RFC3339)
		view.NextDeadline = &s
	}
	return view
}

// GigCreateOptions are parameters for creating a gig.
type GigCreateOptions struct {
	ID              string
	ClientID        string
	WorkerID        string
	Title           string
	Description     string
	Deadline        *string
	Budget          float64
	Currency        string
	NumberOfReports int
	ReportDeadlines []string
	ActorID         string
}

func (e Engine) CreateGig(ctx context.Context, opts GigCreateOptions) (GigView, error) {
	if opts.Title == "" {
		return GigView{}, errors.New("title is required")
	}
	if opts.ClientID == "" || opts.WorkerID == "" {
		return GigView{}, errors.New("client and worker are required")
	}
	if opts.Budget < 0 {
		return GigView{}, errors.New("budget must not be negative")
	}
	if opts.NumberOfReports < 0 {
		return GigView{}, errors.New("number of reports must not be negative")
	}
	if len(opts.ReportDeadlines) > 0 && len(opts.ReportDeadlines) != opts.NumberOfReports {
		return GigView{}, fmt.Errorf("got %d report deadlines for %d reports", len(opts.ReportDeadlines), opts.NumberOfReports)
	}
	if opts.Deadline != nil {
		if _, err := time.Parse(time.RFC3339, *opts.Deadline); err != nil {
			return GigView{}, fmt.Errorf("deadline: %w", err)
		}
	}
	for i, d := range opts.ReportDeadlines {
		if d == "" {
			continue
		}
		if _, err := time.Parse(time.RFC3339, d); err != nil {
			return GigView{}, fmt.Errorf("report %d deadline: %w", i+1, err)
		}
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	g := domain.Gig{
		ID:              id,
		ClientID:        opts.ClientID,
		WorkerID:        opts.WorkerID,
		Title:           opts.Title,
		Description:     opts.Description,
		Status:          domain.StatusInProgress,
		Deadline:        opts.Deadline,
		Budget:          opts.Budget,
		Currency:        opts.Currency,
		NumberOfReports: opts.NumberOfReports,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return GigView{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertGig(ctx, tx, g); err != nil {
		return GigView{}, fmt.Errorf("insert gig: %w", err)
	}
	for i, d := range opts.ReportDeadlines {
		if d == "" {
			continue
		}
		deadline := d
		rep := domain.ProgressReport{GigID: g.ID, ReportNumber: i + 1, Deadline: &deadline}
		if err := e.Repo.UpsertReport(ctx, tx, rep); err != nil {
			return GigView{}, fmt.Errorf("insert report %d: %w", i+1, err)
		}
	}
	if err := e.eventWriter().Append(ctx, tx, events.GigCreated, g.ID, "gig", g.ID, opts.ActorID, events.EventPayload{
		"title":             g.Title,
		"worker_id":         g.WorkerID,
		"number_of_reports": g.NumberOfReports,
	}); err != nil {
		return GigView{}, err
	}
	if err := tx.Commit(); err != nil {
		return GigView{}, err
	}
	e.notifyAfterCommit(ctx, g.WorkerID, events.GigCreated, map[string]any{"gig_id": g.ID, "title": g.Title})
	full, err := e.Repo.GetGig(ctx, g.ID)
	if err != nil {
		return GigView{}, err
	}
	return e.annotate(full), nil
}

// GetGig loads one gig with its derived annotations.
func (e Engine) GetGig(ctx context.Context, id string) (GigView, error) {
	g, err := e.Repo.GetGig(ctx, id)
	if err != nil {
		return GigView{}, err
	}
	return e.annotate(g), nil
}

// ListGigs returns gig headers without report lists. Derived statuses that
// need report rows are not computed here; use GetGig for the full view.
func (e Engine) ListGigs(ctx context.Context, f repo.GigFilters) ([]domain.Gig, error) {
	return e.Repo.ListGigs(ctx, f)
}

// SubmitOptions are parameters for submitting or resubmitting a report slot.
type SubmitOptions struct {
	GigID        string
	ReportNumber int
	Text         string
	Attachments  []string
	ActorID      string
}

// SubmitReport fills a report slot. Slots unlock strictly in order: every
// earlier slot must already be approved. Resubmitting over a rejected or
// pending slot replaces the text and resets the review; when the new
// submission carries no attachments the previous ones are kept, so a worker
// fixing only the text does not silently lose files.
func (e Engine) SubmitReport(ctx context.Context, opts SubmitOptions) (GigView, error) {
	if opts.Text == "" && len(opts.Attachments) == 0 {
		return GigView{}, precondition(RuleEmptySubmission, "submission needs text or attachments")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return GigView{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGigTx(ctx, tx, opts.GigID)
	if err != nil {
		return GigView{}, err
	}
	if g.Status != domain.StatusInProgress {
		return GigView{}, precondition(RuleGigProcessing, "gig is %s; reports are frozen", g.Status)
	}
	if opts.ReportNumber < 1 || opts.ReportNumber > g.NumberOfReports {
		return GigView{}, precondition(RuleReportOutOfRange, "report %d out of range 1..%d", opts.ReportNumber, g.NumberOfReports)
	}
	for _, prior := range g.Reports[:opts.ReportNumber-1] {
		if !prior.Approved() {
			return GigView{}, precondition(RulePriorNotApproved, "report %d must be approved before report %d can be submitted", prior.ReportNumber, opts.ReportNumber)
		}
	}
	slot := g.Reports[opts.ReportNumber-1]
	if slot.Approved() {
		return GigView{}, precondition(RuleAlreadyApproved, "report %d is approved and locked", opts.ReportNumber)
	}
	attachments := opts.Attachments
	if len(attachments) == 0 && slot.Submission != nil {
		attachments = slot.Submission.Attachments
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	pending := domain.ReviewPending
	slot.Submission = &domain.Submission{
		Text:        opts.Text,
		Attachments: attachments,
		SubmittedAt: nowStr,
	}
	slot.ReviewStatus = &pending
	slot.ReviewFeedback = nil
	slot.ReviewedAt = nil
	if err := e.Repo.UpsertReport(ctx, tx, slot); err != nil {
		return GigView{}, err
	}
	g.UpdatedAt = nowStr
	if err := e.Repo.TouchGigCAS(ctx, tx, g); err != nil {
		return GigView{}, wrapConflict(err, g.ID)
	}
	if err := e.eventWriter().Append(ctx, tx, events.ReportSubmitted, g.ID, "report", reportEntityID(g.ID, opts.ReportNumber), opts.ActorID, events.EventPayload{
		"report_number": opts.ReportNumber,
		"attachments":   len(attachments),
	}); err != nil {
		return GigView{}, err
	}
	if err := tx.Commit(); err != nil {
		return GigView{}, err
	}
	e.notifyAfterCommit(ctx, g.ClientID, events.ReportSubmitted, map[string]any{
		"gig_id":        g.ID,
		"report_number": opts.ReportNumber,
	})
	return e.GetGig(ctx, g.ID)
}

// UnsubmitReport withdraws a submission that has not been approved. The slot
// reverts to empty and its stored attachments are deleted best-effort after
// commit; a failed delete is a warning, never an error.
func (e Engine) UnsubmitReport(ctx context.Context, gigID string, reportNumber int, actorID string) (GigView, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return GigView{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGigTx(ctx, tx, gigID)
	if err != nil {
		return GigView{}, err
	}
	if g.Status != domain.StatusInProgress {
		return GigView{}, precondition(RuleGigProcessing, "gig is %s; reports are frozen", g.Status)
	}
	if reportNumber < 1 || reportNumber > g.NumberOfReports {
		return GigView{}, precondition(RuleReportOutOfRange, "report %d out of range 1..%d", reportNumber, g.NumberOfReports)
	}
	slot := g.Reports[reportNumber-1]
	if slot.Submission == nil {
		return GigView{}, precondition(RuleNotSubmitted, "report %d has no submission to withdraw", reportNumber)
	}
	if slot.Approved() {
		return GigView{}, precondition(RuleAlreadyApproved, "report %d is approved and locked", reportNumber)
	}
	orphaned := slot.Submission.Attachments
	slot.Submission = nil
	slot.ReviewStatus = nil
	slot.ReviewFeedback = nil
	slot.ReviewedAt = nil
	if err := e.Repo.UpsertReport(ctx, tx, slot); err != nil {
		return GigView{}, err
	}
	g.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.TouchGigCAS(ctx, tx, g); err != nil {
		return GigView{}, wrapConflict(err, g.ID)
	}
	if err := e.eventWriter().Append(ctx, tx, events.ReportUnsubmitted, g.ID, "report", reportEntityID(g.ID, reportNumber), actorID, events.EventPayload{
		"report_number": reportNumber,
	}); err != nil {
		return GigView{}, err
	}
	if err := tx.Commit(); err != nil {
		return GigView{}, err
	}
	e.deleteAttachments(ctx, g.ID, orphaned)
	e.notifyAfterCommit(ctx, g.ClientID, events.ReportUnsubmitted, map[string]any{
		"gig_id":        g.ID,
		"report_number": reportNumber,
	})
	return e.GetGig(ctx, g.ID)
}

func (e Engine) deleteAttachments(ctx context.Context, gigID string, refs []string) {
	if e.Attachments == nil {
		return
	}
	for _, ref := range refs {
		if err := e.Attachments.Delete(ctx, ref); err != nil && !errors.Is(err, attach.ErrNotExist) {
			e.log().Warn("attachment cleanup failed",
				slog.String("gig_id", gigID),
				slog.String("ref", ref),
				slog.Any("error", err))
		}
	}
}

// ReviewReport records the client's verdict on a submitted report.
func (e Engine) ReviewReport(ctx context.Context, gigID string, reportNumber int, approve bool, feedback, actorID string) (GigView, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return GigView{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGigTx(ctx, tx, gigID)
	if err != nil {
		return GigView{}, err
	}
	if g.Status != domain.StatusInProgress {
		return GigView{}, precondition(RuleGigProcessing, "gig is %s; reports are frozen", g.Status)
	}
	if reportNumber < 1 || reportNumber > g.NumberOfReports {
		return GigView{}, precondition(RuleReportOutOfRange, "report %d out of range 1..%d", reportNumber, g.NumberOfReports)
	}
	slot := g.Reports[reportNumber-1]
	if !slot.AwaitingReview() {
		return GigView{}, precondition(RuleNotAwaitingReview, "report %d is not awaiting review", reportNumber)
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	verdict := domain.ReviewRejected
	evtType := events.ReportRejected
	if approve {
		verdict = domain.ReviewApproved
		evtType = events.ReportApproved
	}
	slot.ReviewStatus = &verdict
	slot.ReviewedAt = &nowStr
	slot.ReviewFeedback = nil
	if feedback != "" {
		slot.ReviewFeedback = &feedback
	}
	if err := e.Repo.UpsertReport(ctx, tx, slot); err != nil {
		return GigView{}, err
	}
	g.UpdatedAt = nowStr
	if err := e.Repo.TouchGigCAS(ctx, tx, g); err != nil {
		return GigView{}, wrapConflict(err, g.ID)
	}
	if err := e.eventWriter().Append(ctx, tx, evtType, g.ID, "report", reportEntityID(g.ID, reportNumber), actorID, events.EventPayload{
		"report_number": reportNumber,
		"feedback":      feedback,
	}); err != nil {
		return GigView{}, err
	}
	if err := tx.Commit(); err != nil {
		return GigView{}, err
	}
	e.notifyAfterCommit(ctx, g.WorkerID, evtType, map[string]any{
		"gig_id":        g.ID,
		"report_number": reportNumber,
		"feedback":      feedback,
	})
	return e.GetGig(ctx, g.ID)
}

// CanRequestPayment evaluates the payout throttle without mutating anything.
func (e Engine) CanRequestPayment(ctx context.Context, gigID string) (PaymentEligibility, error) {
	g, err := e.Repo.GetGig(ctx, gigID)
	if err != nil {
		return PaymentEligibility{}, err
	}
	return Evaluate(g, e.now().UTC(), e.maxRequests(), e.cooldown()), nil
}

// RequestPayment opens a payout request: the request count and cooldown stamp
// advance and the request becomes pending. The gig itself stays in_progress
// until the client accepts, so a declined request leaves the worker free to
// ask again once the cooldown passes. Eligibility is re-evaluated inside the
// transaction against the freshly read gig, so a stale CanRequestPayment
// answer can never sneak a request through.
func (e Engine) RequestPayment(ctx context.Context, gigID, actorID string) (GigView, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return GigView{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGigTx(ctx, tx, gigID)
	if err != nil {
		return GigView{}, err
	}
	now := e.now().UTC()
	elig := Evaluate(g, now, e.maxRequests(), e.cooldown())
	if !elig.OK {
		return GigView{}, precondition(RulePaymentIneligible, "payout request refused: %s", elig.Reason)
	}
	nowStr := now.Format(time.RFC3339)
	g.PaymentRequestsCount++
	g.LastPaymentRequestedAt = &nowStr
	g.PaymentRequestPending = true
	g.UpdatedAt = nowStr
	if err := e.Repo.UpdateGigCAS(ctx, tx, g); err != nil {
		return GigView{}, wrapConflict(err, g.ID)
	}
	if err := e.eventWriter().Append(ctx, tx, events.PaymentRequested, g.ID, "gig", g.ID, actorID, events.EventPayload{
		"request_number": g.PaymentRequestsCount,
	}); err != nil {
		return GigView{}, err
	}
	if err := tx.Commit(); err != nil {
		return GigView{}, err
	}
	e.notifyAfterCommit(ctx, g.ClientID, events.PaymentRequested, map[string]any{
		"gig_id":         g.ID,
		"request_number": g.PaymentRequestsCount,
	})
	return e.GetGig(ctx, g.ID)
}

// AcceptPaymentRequest is the client acknowledging the open payout request.
// Acceptance is the transition to awaiting_payout; the gig stays there until
// the payout actually lands.
func (e Engine) AcceptPaymentRequest(ctx context.Context, gigID, actorID string) (GigView, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return GigView{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGigTx(ctx, tx, gigID)
	if err != nil {
		return GigView{}, err
	}
	if g.Status != domain.StatusInProgress || !g.PaymentRequestPending {
		return GigView{}, precondition(RuleNoPendingRequest, "no pending payout request on gig %s", gigID)
	}
	g.Status = domain.StatusAwaitingPayout
	g.PaymentRequestPending = false
	g.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateGigCAS(ctx, tx, g); err != nil {
		return GigView{}, wrapConflict(err, g.ID)
	}
	if err := e.eventWriter().Append(ctx, tx, events.PaymentAccepted, g.ID, "gig", g.ID, actorID, events.EventPayload{
		"request_number": g.PaymentRequestsCount,
	}); err != nil {
		return GigView{}, err
	}
	if err := tx.Commit(); err != nil {
		return GigView{}, err
	}
	e.notifyAfterCommit(ctx, g.WorkerID, events.PaymentAccepted, map[string]any{"gig_id": g.ID})
	return e.GetGig(ctx, g.ID)
}

// DeclinePaymentRequest is the client refusing the open payout request. The
// request stops being pending and the gig stays in_progress; the spent
// request still counts against the cap and the cooldown keeps running.
func (e Engine) DeclinePaymentRequest(ctx context.Context, gigID, feedback, actorID string) (GigView, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return GigView{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGigTx(ctx, tx, gigID)
	if err != nil {
		return GigView{}, err
	}
	if g.Status != domain.StatusInProgress || !g.PaymentRequestPending {
		return GigView{}, precondition(RuleNoPendingRequest, "no pending payout request on gig %s", gigID)
	}
	g.PaymentRequestPending = false
	g.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateGigCAS(ctx, tx, g); err != nil {
		return GigView{}, wrapConflict(err, g.ID)
	}
	if err := e.eventWriter().Append(ctx, tx, events.PaymentDeclined, g.ID, "gig", g.ID, actorID, events.EventPayload{
		"request_number": g.PaymentRequestsCount,
		"feedback":       feedback,
	}); err != nil {
		return GigView{}, err
	}
	if err := tx.Commit(); err != nil {
		return GigView{}, err
	}
	e.notifyAfterCommit(ctx, g.WorkerID, events.PaymentDeclined, map[string]any{
		"gig_id":   g.ID,
		"feedback": feedback,
	})
	return e.GetGig(ctx, g.ID)
}

// CompletePayout marks the accepted payout as executed and the gig as done.
func (e Engine) CompletePayout(ctx context.Context, gigID, actorID string) (GigView, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return GigView{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGigTx(ctx, tx, gigID)
	if err != nil {
		return GigView{}, err
	}
	if g.Status != domain.StatusAwaitingPayout {
		if g.PaymentRequestPending {
			return GigView{}, precondition(RuleRequestNotAccepted, "payout request on gig %s has not been accepted", gigID)
		}
		return GigView{}, precondition(RuleGigProcessing, "gig is %s, not awaiting payout", g.Status)
	}
	g.Status = domain.StatusCompleted
	g.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateGigCAS(ctx, tx, g); err != nil {
		return GigView{}, wrapConflict(err, g.ID)
	}
	if err := e.eventWriter().Append(ctx, tx, events.GigCompleted, g.ID, "gig", g.ID, actorID, events.EventPayload{}); err != nil {
		return GigView{}, err
	}
	if err := tx.Commit(); err != nil {
		return GigView{}, err
	}
	e.notifyAfterCommit(ctx, g.WorkerID, events.GigCompleted, map[string]any{"gig_id": g.ID})
	return e.GetGig(ctx, g.ID)
}

// StalledGigs returns annotated gigs whose payout has sat unprocessed past
// the configured threshold.
func (e Engine) StalledGigs(ctx context.Context) ([]GigView, error) {
	gigs, err := e.Repo.ListGigs(ctx, repo.GigFilters{Status: domain.StatusAwaitingPayout})
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	threshold := e.stallThreshold()
	var res []GigView
	for _, g := range gigs {
		if !derive.StalledPayout(g, now, threshold) {
			continue
		}
		full, err := e.Repo.GetGig(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		res = append(res, e.annotate(full))
	}
	return res, nil
}

func reportEntityID(gigID string, n int) string {
	return fmt.Sprintf("%s/%d", gigID, n)
}

package engine

import (
	"fmt"

	"hustleup/internal/repo"
)

// PreconditionError refuses an operation because the gig is not in a state
// that allows it. The rule code is stable and machine-readable; the message
// is for humans.
type PreconditionError struct {
	Rule    string
	Message string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Rule, e.Message)
}

func precondition(rule, format string, args ...any) *PreconditionError {
	return &PreconditionError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports a lost write race. Callers should re-read and retry.
type ConflictError struct {
	GigID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("gig %s was modified concurrently", e.GigID)
}

func (e *ConflictError) Unwrap() error { return repo.ErrConflict }

// Precondition rule codes.
const (
	RuleGigProcessing      = "gig_processing"
	RuleEmptySubmission    = "empty_submission"
	RuleReportOutOfRange   = "report_out_of_range"
	RulePriorNotApproved   = "prior_reports_not_approved"
	RuleAlreadyApproved    = "report_already_approved"
	RuleNotSubmitted       = "report_not_submitted"
	RuleNotAwaitingReview  = "report_not_awaiting_review"
	RulePaymentIneligible  = "payment_ineligible"
	RuleNoPendingRequest   = "no_pending_payment_request"
	RuleRequestNotAccepted = "payment_request_not_accepted"
)

package domain

// Persisted gig statuses. The coarse status is written by payment
// confirmation flows; everything finer-grained is derived on read.
const (
	StatusInProgress     = "in_progress"
	StatusAwaitingPayout = "awaiting_payout"
	StatusCompleted      = "completed"
)

// Derived (effective) statuses. Never stored.
const (
	EffectiveActionRequired = "action_required"
	EffectivePendingReview  = "pending_review"
)

// Report review statuses.
const (
	ReviewPending  = "pending_review"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

type Gig struct {
	ID                     string           `json:"id"`
	ClientID               string           `json:"client_id"`
	WorkerID               string           `json:"worker_id"`
	Title                  string           `json:"title"`
	Description            string           `json:"description,omitempty"`
	Status                 string           `json:"status" enum:"in_progress,awaiting_payout,completed"`
	Deadline               *string          `json:"deadline,omitempty" format:"date-time"`
	Budget                 float64          `json:"budget"`
	Currency               string           `json:"currency"`
	NumberOfReports        int              `json:"number_of_reports"`
	Reports                []ProgressReport `json:"reports,omitempty"`
	PaymentRequestsCount   int              `json:"payment_requests_count"`
	LastPaymentRequestedAt *string          `json:"last_payment_requested_at,omitempty" format:"date-time"`
	PaymentRequestPending  bool             `json:"payment_request_pending"`
	Version                int64            `json:"version"`
	CreatedAt              string           `json:"created_at" format:"date-time"`
	UpdatedAt              string           `json:"updated_at" format:"date-time"`
}

// ProgressReport is one milestone slot on a gig, numbered 1..N.
// A slot with a nil Submission has not been submitted yet; ReviewStatus is
// only ever approved/rejected after a submission existed.
type ProgressReport struct {
	GigID          string      `json:"gig_id"`
	ReportNumber   int         `json:"report_number"`
	Deadline       *string     `json:"deadline,omitempty" format:"date-time"`
	Submission     *Submission `json:"submission,omitempty"`
	ReviewStatus   *string     `json:"review_status,omitempty" enum:"pending_review,approved,rejected"`
	ReviewFeedback *string     `json:"review_feedback,omitempty"`
	ReviewedAt     *string     `json:"reviewed_at,omitempty" format:"date-time"`
}

type Submission struct {
	Text        string   `json:"text,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
	SubmittedAt string   `json:"submitted_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	GigID      string `json:"gig_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role" enum:"client,worker"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Submitted reports true when the slot carries a worker submission.
func (r ProgressReport) Submitted() bool {
	return r.Submission != nil
}

// Approved reports true when the client has approved the slot.
func (r ProgressReport) Approved() bool {
	return r.ReviewStatus != nil && *r.ReviewStatus == ReviewApproved
}

// Rejected reports true when the client has rejected the slot.
func (r ProgressReport) Rejected() bool {
	return r.ReviewStatus != nil && *r.ReviewStatus == ReviewRejected
}

// AwaitingReview reports true when a submission exists and the client has not
// ruled on it: either an explicit pending_review marker or no review status
// at all (a submission the client never looked at).
func (r ProgressReport) AwaitingReview() bool {
	if r.Submission == nil {
		return false
	}
	return r.ReviewStatus == nil || *r.ReviewStatus == ReviewPending
}

// AllReportsApproved reports true when every slot is approved. A gig with
// zero report slots trivially satisfies it.
func (g Gig) AllReportsApproved() bool {
	for _, r := range g.Reports {
		if !r.Approved() {
			return false
		}
	}
	return true
}

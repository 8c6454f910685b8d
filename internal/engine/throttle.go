package engine

import (
	"time"

	"hustleup/internal/domain"
)

// Reason codes for a refused payout request. First matching rule wins, so a
// gig that trips several rules reports the most fundamental one.
const (
	ReasonProcessing         = "processing"
	ReasonReportsNotApproved = "reports_not_approved"
	ReasonCapReached         = "request_cap_reached"
	ReasonCooldownActive     = "cooldown_active"
	ReasonRequestPending     = "request_pending"
)

// PaymentEligibility is the full verdict on whether the worker may request a
// payout right now. NextEligibleAt is only set for cooldown refusals.
type PaymentEligibility struct {
	OK             bool       `json:"ok"`
	Reason         string     `json:"reason,omitempty"`
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty"`
}

func refused(reason string) PaymentEligibility {
	return PaymentEligibility{Reason: reason}
}

// Evaluate applies the throttle rules in order:
//
//  1. processing: the gig is completed or an accepted payout is underway
//     (awaiting_payout).
//  2. reports_not_approved: some report slot is not yet approved. A gig with
//     zero slots passes trivially.
//  3. request_cap_reached: the lifetime request cap is spent.
//  4. cooldown_active: the previous request is too recent. Reported ahead of
//     the pending flag so the worker always learns when the throttle opens.
//  5. request_pending: an earlier request has not been ruled on.
func Evaluate(g domain.Gig, now time.Time, maxRequests int, cooldown time.Duration) PaymentEligibility {
	if g.Status == domain.StatusCompleted || g.Status == domain.StatusAwaitingPayout {
		return refused(ReasonProcessing)
	}
	if !g.AllReportsApproved() {
		return refused(ReasonReportsNotApproved)
	}
	if maxRequests > 0 && g.PaymentRequestsCount >= maxRequests {
		return refused(ReasonCapReached)
	}
	if cooldown > 0 && g.LastPaymentRequestedAt != nil {
		last, err := time.Parse(time.RFC3339, *g.LastPaymentRequestedAt)
		if err == nil {
			next := last.Add(cooldown)
			if now.Before(next) {
				return PaymentEligibility{Reason: ReasonCooldownActive, NextEligibleAt: &next}
			}
		}
	}
	if g.PaymentRequestPending {
		return refused(ReasonRequestPending)
	}
	return PaymentEligibility{OK: true}
}

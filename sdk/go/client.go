// Package hustleupsdk is a minimal client for the Hustleup HTTP API.
package hustleupsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a Hustleup server. Authentication uses either a bearer
// token or an API key; the bearer token wins when both are set.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Gig is the API gig model, including the derived fields the server computes
// on every read.
type Gig struct {
	ID                     string           `json:"id"`
	ClientID               string           `json:"client_id"`
	WorkerID               string           `json:"worker_id"`
	Title                  string           `json:"title"`
	Description            string           `json:"description,omitempty"`
	Status                 string           `json:"status"`
	Deadline               *string          `json:"deadline,omitempty"`
	Budget                 float64          `json:"budget"`
	Currency               string           `json:"currency"`
	NumberOfReports        int              `json:"number_of_reports"`
	PaymentRequestsCount   int              `json:"payment_requests_count"`
	LastPaymentRequestedAt *string          `json:"last_payment_requested_at,omitempty"`
	PaymentRequestPending  bool             `json:"payment_request_pending"`
	Version                int64            `json:"version"`
	Reports                []ProgressReport `json:"reports"`
	CreatedAt              string           `json:"created_at"`
	UpdatedAt              string           `json:"updated_at"`
	EffectiveStatus        string           `json:"effective_status"`
	NextDeadline           *string          `json:"next_deadline,omitempty"`
	PayoutStalled          bool             `json:"payout_stalled"`
	Payment                Eligibility      `json:"payment"`
}

// ProgressReport is one milestone slot on a gig.
type ProgressReport struct {
	GigID          string      `json:"gig_id"`
	ReportNumber   int         `json:"report_number"`
	Deadline       *string     `json:"deadline,omitempty"`
	Submission     *Submission `json:"submission,omitempty"`
	ReviewStatus   *string     `json:"review_status,omitempty"`
	ReviewFeedback *string     `json:"review_feedback,omitempty"`
	ReviewedAt     *string     `json:"reviewed_at,omitempty"`
}

// Submission is the submitted content of a report.
type Submission struct {
	Text        string   `json:"text,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
	SubmittedAt string   `json:"submitted_at"`
}

// Eligibility is the payout request verdict.
type Eligibility struct {
	OK             bool       `json:"ok"`
	Reason         string     `json:"reason,omitempty"`
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty"`
}

// Event is a log entry.
type Event struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	GigID      string          `json:"gig_id"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses. Code and Rule come from the server's
// error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Rule       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsPrecondition reports whether the server refused the operation because a
// workflow rule was not met.
func (e *APIError) IsPrecondition() bool {
	return e.StatusCode == http.StatusUnprocessableEntity && e.Code == "precondition_failed"
}

// IsConflict reports whether the write lost a concurrency race and should be
// retried after a fresh read.
func (e *APIError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

// CreateGigParams are the inputs to CreateGig.
type CreateGigParams struct {
	ClientID        string   `json:"client_id,omitempty"`
	WorkerID        string   `json:"worker_id"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Deadline        string   `json:"deadline,omitempty"`
	Budget          float64  `json:"budget,omitempty"`
	Currency        string   `json:"currency,omitempty"`
	NumberOfReports int      `json:"number_of_reports,omitempty"`
	ReportDeadlines []string `json:"report_deadlines,omitempty"`
}

// CreateGig creates a gig. The caller must be the client.
func (c *Client) CreateGig(ctx context.Context, params CreateGigParams) (Gig, error) {
	var resp Gig
	err := c.do(ctx, http.MethodPost, "v1/gigs", params, &resp)
	return resp, err
}

// GetGig fetches one gig with derived status and eligibility.
func (c *Client) GetGig(ctx context.Context, gigID string) (Gig, error) {
	var resp Gig
	err := c.do(ctx, http.MethodGet, c.gigPath(gigID, ""), nil, &resp)
	return resp, err
}

// ListGigs lists the caller's gigs, newest first.
func (c *Client) ListGigs(ctx context.Context, status string, limit int) ([]Gig, error) {
	endpoint := "v1/gigs"
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Gig
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SubmitReport submits or resubmits a progress report. Attachment refs come
// from UploadAttachment; an empty list on resubmission keeps the previous
// attachments.
func (c *Client) SubmitReport(ctx context.Context, gigID string, reportNumber int, text string, attachments []string) (Gig, error) {
	body := map[string]any{"text": text}
	if len(attachments) > 0 {
		body["attachments"] = attachments
	}
	var resp Gig
	err := c.do(ctx, http.MethodPost, c.reportPath(gigID, reportNumber, "submit"), body, &resp)
	return resp, err
}

// UnsubmitReport withdraws a submitted report.
func (c *Client) UnsubmitReport(ctx context.Context, gigID string, reportNumber int) (Gig, error) {
	var resp Gig
	err := c.do(ctx, http.MethodPost, c.reportPath(gigID, reportNumber, "unsubmit"), nil, &resp)
	return resp, err
}

// ReviewReport records the client's verdict, "approved" or "rejected".
func (c *Client) ReviewReport(ctx context.Context, gigID string, reportNumber int, verdict, feedback string) (Gig, error) {
	body := map[string]any{"verdict": verdict}
	if feedback != "" {
		body["feedback"] = feedback
	}
	var resp Gig
	err := c.do(ctx, http.MethodPost, c.reportPath(gigID, reportNumber, "review"), body, &resp)
	return resp, err
}

// PaymentEligibility checks whether a payout request would be accepted.
func (c *Client) PaymentEligibility(ctx context.Context, gigID string) (Eligibility, error) {
	var resp Eligibility
	err := c.do(ctx, http.MethodGet, c.gigPath(gigID, "payment/eligibility"), nil, &resp)
	return resp, err
}

// RequestPayment requests a payout as the worker.
func (c *Client) RequestPayment(ctx context.Context, gigID string) (Gig, error) {
	var resp Gig
	err := c.do(ctx, http.MethodPost, c.gigPath(gigID, "payment/request"), nil, &resp)
	return resp, err
}

// AcceptPaymentRequest accepts the pending payout request as the client.
func (c *Client) AcceptPaymentRequest(ctx context.Context, gigID string) (Gig, error) {
	var resp Gig
	err := c.do(ctx, http.MethodPost, c.gigPath(gigID, "payment/accept"), nil, &resp)
	return resp, err
}

// DeclinePaymentRequest refuses the pending payout request as the client.
// The spent request still counts against the cap and cooldown.
func (c *Client) DeclinePaymentRequest(ctx context.Context, gigID, feedback string) (Gig, error) {
	body := map[string]any{}
	if feedback != "" {
		body["feedback"] = feedback
	}
	var resp Gig
	err := c.do(ctx, http.MethodPost, c.gigPath(gigID, "payment/decline"), body, &resp)
	return resp, err
}

// CompletePayout marks the accepted payout as executed as the client.
func (c *Client) CompletePayout(ctx context.Context, gigID string) (Gig, error) {
	var resp Gig
	err := c.do(ctx, http.MethodPost, c.gigPath(gigID, "payment/complete"), nil, &resp)
	return resp, err
}

// Events returns a gig's recent events, newest first.
func (c *Client) Events(ctx context.Context, gigID string, limit int) ([]Event, error) {
	endpoint := c.gigPath(gigID, "events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UploadAttachment streams a file to the server and returns its ref for use
// in SubmitReport.
func (c *Client) UploadAttachment(ctx context.Context, gigID, name string, r io.Reader) (string, error) {
	endpoint := c.gigPath(gigID, "attachments")
	if name != "" {
		endpoint += "?name=" + url.QueryEscape(name)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/"+endpoint, r)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	c.authorize(req)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", readAPIError(resp)
	}
	var out struct {
		Ref string `json:"ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Ref, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+"/"+strings.TrimLeft(endpoint, "/"), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		if rule, ok := envelope.Error.Details["rule"].(string); ok {
			apiErr.Rule = rule
		}
	}
	return apiErr
}

func (c *Client) authorize(req *http.Request) {
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c.HTTPClient
}

func (c *Client) gigPath(gigID, suffix string) string {
	p := fmt.Sprintf("v1/gigs/%s", url.PathEscape(gigID))
	if suffix != "" {
		p += "/" + strings.TrimLeft(suffix, "/")
	}
	return p
}

func (c *Client) reportPath(gigID string, reportNumber int, action string) string {
	return fmt.Sprintf("v1/gigs/%s/reports/%d/%s", url.PathEscape(gigID), reportNumber, action)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

package server

import (
	"encoding/json"

	"hustleup/internal/domain"
	"hustleup/internal/engine"
)

type CreateGigRequest struct {
	ID              *string  `json:"id,omitempty"`
	ClientID        string   `json:"client_id" required:"false"`
	WorkerID        string   `json:"worker_id"`
	Title           string   `json:"title"`
	Description     *string  `json:"description,omitempty"`
	Deadline        *string  `json:"deadline,omitempty" format:"date-time"`
	Budget          float64  `json:"budget" required:"false"`
	Currency        *string  `json:"currency,omitempty"`
	NumberOfReports int      `json:"number_of_reports" required:"false"`
	ReportDeadlines []string `json:"report_deadlines,omitempty"`
}

type SubmitReportRequest struct {
	Text        string   `json:"text,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

type ReviewReportRequest struct {
	Verdict  string `json:"verdict" enum:"approved,rejected"`
	Feedback string `json:"feedback,omitempty"`
}

type DeclinePaymentRequest struct {
	Feedback string `json:"feedback,omitempty"`
}

type CreateKeyRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"client,worker"`
	Name    string `json:"name,omitempty"`
}

// KeyResponse carries the plaintext key exactly once, at creation.
type KeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at"`
}

type AttachmentResponse struct {
	Ref string `json:"ref"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	GigID      string          `json:"gig_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

func eventResponse(e domain.Event) EventResponse {
	payload := json.RawMessage([]byte("{}"))
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage([]byte(e.Payload))
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		GigID:      e.GigID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func mapEvents(events []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(events))
	for _, e := range events {
		res = append(res, eventResponse(e))
	}
	return res
}

// GigResponse is the annotated gig view as returned by the engine.
type GigResponse = engine.GigView

func keyResponse(k domain.APIKey, plaintext string) KeyResponse {
	return KeyResponse{
		ID:        k.ID,
		ActorID:   k.ActorID,
		Role:      k.Role,
		Name:      k.Name,
		Key:       plaintext,
		CreatedAt: k.CreatedAt,
	}
}

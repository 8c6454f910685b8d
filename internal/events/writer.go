package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	GigCreated        = "gig.created"
	GigCompleted      = "gig.completed"
	ReportSubmitted   = "report.submitted"
	ReportUnsubmitted = "report.unsubmitted"
	ReportApproved    = "report.approved"
	ReportRejected    = "report.rejected"
	PaymentRequested  = "payment.requested"
	PaymentAccepted   = "payment.accepted"
	PaymentDeclined   = "payment.declined"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an event row inside the caller's transaction so the event
// log and the state change commit or roll back together.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, gigID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,gig_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(gigID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

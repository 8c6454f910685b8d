package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"hustleup/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a lost compare-and-swap race: the gig document
	// changed between read and write.
	ErrConflict = errors.New("concurrent modification")
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGig(row rowScanner) (domain.Gig, error) {
	var g domain.Gig
	var description, deadline, lastRequestedAt sql.NullString
	var pending int
	err := row.Scan(&g.ID, &g.ClientID, &g.WorkerID, &g.Title, &description, &g.Status, &deadline,
		&g.Budget, &g.Currency, &g.NumberOfReports, &g.PaymentRequestsCount, &lastRequestedAt,
		&pending, &g.Version, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	if description.Valid {
		g.Description = description.String
	}
	if deadline.Valid {
		g.Deadline = &deadline.String
	}
	if lastRequestedAt.Valid {
		g.LastPaymentRequestedAt = &lastRequestedAt.String
	}
	g.PaymentRequestPending = pending != 0
	return g, nil
}

const gigColumns = `id,client_id,worker_id,title,description,status,deadline,budget,currency,number_of_reports,payment_requests_count,last_payment_requested_at,payment_request_pending,version,created_at,updated_at`

func (r Repo) InsertGig(ctx context.Context, tx *sql.Tx, g domain.Gig) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO gigs(`+gigColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.ClientID, g.WorkerID, g.Title, nullable(g.Description), g.Status, nullableStringPtr(g.Deadline),
		g.Budget, g.Currency, g.NumberOfReports, g.PaymentRequestsCount, nullableStringPtr(g.LastPaymentRequestedAt),
		boolInt(g.PaymentRequestPending), g.Version, g.CreatedAt, g.UpdatedAt)
	return err
}

// GetGig loads a gig with its full report list, synthesizing empty slots so
// the list length always equals number_of_reports.
func (r Repo) GetGig(ctx context.Context, id string) (domain.Gig, error) {
	g, err := scanGig(r.DB.QueryRowContext(ctx, `SELECT `+gigColumns+` FROM gigs WHERE id=?`, id))
	if err != nil {
		return g, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE gig_id=? ORDER BY report_number`, id)
	if err != nil {
		return g, err
	}
	defer rows.Close()
	reports, err := collectReports(rows)
	if err != nil {
		return g, err
	}
	g.Reports = materializeReports(g, reports)
	return g, nil
}

// GetGigTx is GetGig inside a transaction; write paths use it to re-read the
// authoritative record immediately before precondition checks.
func (r Repo) GetGigTx(ctx context.Context, tx *sql.Tx, id string) (domain.Gig, error) {
	g, err := scanGig(tx.QueryRowContext(ctx, `SELECT `+gigColumns+` FROM gigs WHERE id=?`, id))
	if err != nil {
		return g, err
	}
	rows, err := tx.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE gig_id=? ORDER BY report_number`, id)
	if err != nil {
		return g, err
	}
	defer rows.Close()
	reports, err := collectReports(rows)
	if err != nil {
		return g, err
	}
	g.Reports = materializeReports(g, reports)
	return g, nil
}

// materializeReports pads the stored rows out to the fixed slot count.
func materializeReports(g domain.Gig, stored []domain.ProgressReport) []domain.ProgressReport {
	byNumber := make(map[int]domain.ProgressReport, len(stored))
	for _, rep := range stored {
		byNumber[rep.ReportNumber] = rep
	}
	reports := make([]domain.ProgressReport, 0, g.NumberOfReports)
	for n := 1; n <= g.NumberOfReports; n++ {
		if rep, ok := byNumber[n]; ok {
			reports = append(reports, rep)
			continue
		}
		reports = append(reports, domain.ProgressReport{GigID: g.ID, ReportNumber: n})
	}
	return reports
}

// UpdateGigCAS writes the gig header guarded by the version read earlier.
// The stored version advances by one; a mismatch means someone else won the
// race and the caller must re-read.
func (r Repo) UpdateGigCAS(ctx context.Context, tx *sql.Tx, g domain.Gig) error {
	res, err := tx.ExecContext(ctx, `UPDATE gigs SET status=?, deadline=?, payment_requests_count=?, last_payment_requested_at=?, payment_request_pending=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		g.Status, nullableStringPtr(g.Deadline), g.PaymentRequestsCount, nullableStringPtr(g.LastPaymentRequestedAt),
		boolInt(g.PaymentRequestPending), g.UpdatedAt, g.ID, g.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if scanErr := tx.QueryRowContext(ctx, `SELECT 1 FROM gigs WHERE id=?`, g.ID).Scan(&exists); scanErr == sql.ErrNoRows {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// TouchGigCAS bumps the version and updated_at without changing header
// fields; report-row writes ride on it so concurrent report mutations also
// collide on the version column.
func (r Repo) TouchGigCAS(ctx context.Context, tx *sql.Tx, g domain.Gig) error {
	return r.UpdateGigCAS(ctx, tx, g)
}

type GigFilters struct {
	ClientID        string
	WorkerID        string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListGigs(ctx context.Context, f GigFilters) ([]domain.Gig, error) {
	var clauses []string
	var args []any
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.WorkerID != "" {
		clauses = append(clauses, "worker_id=?")
		args = append(args, f.WorkerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + gigColumns + ` FROM gigs ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Gig
	for rows.Next() {
		g, err := scanGig(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

const reportColumns = `gig_id,report_number,deadline,submission_text,attachments_json,submitted_at,review_status,review_feedback,reviewed_at`

func collectReports(rows *sql.Rows) ([]domain.ProgressReport, error) {
	var res []domain.ProgressReport
	for rows.Next() {
		var rep domain.ProgressReport
		var deadline, text, attachments, submittedAt, reviewStatus, reviewFeedback, reviewedAt sql.NullString
		if err := rows.Scan(&rep.GigID, &rep.ReportNumber, &deadline, &text, &attachments, &submittedAt,
			&reviewStatus, &reviewFeedback, &reviewedAt); err != nil {
			return nil, err
		}
		if deadline.Valid {
			rep.Deadline = &deadline.String
		}
		if submittedAt.Valid {
			sub := domain.Submission{SubmittedAt: submittedAt.String}
			if text.Valid {
				sub.Text = text.String
			}
			if attachments.Valid && attachments.String != "" {
				if err := json.Unmarshal([]byte(attachments.String), &sub.Attachments); err != nil {
					return nil, fmt.Errorf("report %d attachments: %w", rep.ReportNumber, err)
				}
			}
			rep.Submission = &sub
		}
		if reviewStatus.Valid {
			rep.ReviewStatus = &reviewStatus.String
		}
		if reviewFeedback.Valid {
			rep.ReviewFeedback = &reviewFeedback.String
		}
		if reviewedAt.Valid {
			rep.ReviewedAt = &reviewedAt.String
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

// UpsertReport writes one milestone slot. Attachments are stored as a JSON
// array alongside the text; absent submission clears all submission fields.
func (r Repo) UpsertReport(ctx context.Context, tx *sql.Tx, rep domain.ProgressReport) error {
	var text, attachments, submittedAt any
	if rep.Submission != nil {
		text = nullable(rep.Submission.Text)
		submittedAt = rep.Submission.SubmittedAt
		if len(rep.Submission.Attachments) > 0 {
			data, err := json.Marshal(rep.Submission.Attachments)
			if err != nil {
				return fmt.Errorf("marshal attachments: %w", err)
			}
			attachments = string(data)
		}
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO reports(gig_id,report_number,deadline,submission_text,attachments_json,submitted_at,review_status,review_feedback,reviewed_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(gig_id,report_number) DO UPDATE SET
deadline=excluded.deadline, submission_text=excluded.submission_text, attachments_json=excluded.attachments_json,
submitted_at=excluded.submitted_at, review_status=excluded.review_status, review_feedback=excluded.review_feedback, reviewed_at=excluded.reviewed_at`,
		rep.GigID, rep.ReportNumber, nullableStringPtr(rep.Deadline), text, attachments, submittedAt,
		nullableStringPtr(rep.ReviewStatus), nullableStringPtr(rep.ReviewFeedback), nullableStringPtr(rep.ReviewedAt))
	return err
}

func (r Repo) CountGigsByStatus(ctx context.Context, workerID string) (map[string]int, error) {
	query := `SELECT status, count(*) FROM gigs`
	var args []any
	if workerID != "" {
		query += ` WHERE worker_id=?`
		args = append(args, workerID)
	}
	query += ` GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, gigID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if gigID != "" {
		clauses = append(clauses, "gig_id=?")
		args = append(args, gigID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,gig_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending
// order; the webhook dispatcher pages through them.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, gigID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if gigID != "" {
		clauses = append(clauses, "gig_id=?")
		args = append(args, gigID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,gig_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// LatestEventID returns the most recent event ID, optionally scoped to a gig.
func (r Repo) LatestEventID(ctx context.Context, gigID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if gigID != "" {
		query += ` WHERE gig_id=?`
		args = append(args, gigID)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var gigID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &gigID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if gigID.Valid {
			e.GigID = gigID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

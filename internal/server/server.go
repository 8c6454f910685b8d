// Package server exposes the gig workflow over HTTP. Handlers validate and
// authorize, then delegate to the engine; every error leaves in the same
// JSON envelope.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"hustleup/internal/domain"
	"hustleup/internal/engine"
	"hustleup/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"precondition_failed"`
	Message string         `json:"message" example:"report 1 must be approved before report 2 can be submitted"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Hustleup API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema validation failures are the caller's fault, not a
			// precondition refusal.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Hustleup API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerGigs(group, cfg.Engine)
	registerReports(group, cfg.Engine)
	registerPayments(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerKeys(group, cfg.Engine)
	registerAttachments(router, basePath, cfg.Engine)
	registerWatch(router, basePath, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"need": fe.Need})
	}
	var pre *engine.PreconditionError
	if errors.As(err, &pre) {
		return newAPIError(http.StatusUnprocessableEntity, "precondition_failed", pre.Message, map[string]any{"rule": pre.Rule})
	}
	if errors.Is(err, repo.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "precondition_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

// loadGigFor fetches the gig and checks the caller is one of its parties.
func loadGigFor(ctx context.Context, e engine.Engine, gigID string) (engine.GigView, Principal, huma.StatusError) {
	principal, authErr := requirePrincipal(ctx)
	if authErr != nil {
		return engine.GigView{}, Principal{}, authErr
	}
	g, err := e.GetGig(ctx, gigID)
	if err != nil {
		return engine.GigView{}, Principal{}, handleError(err)
	}
	if principal.ActorID != g.ClientID && principal.ActorID != g.WorkerID {
		return engine.GigView{}, Principal{}, handleError(ForbiddenError{Need: "client or worker"})
	}
	return g, principal, nil
}

func registerGigs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-gig",
		Method:        http.MethodPost,
		Path:          "/gigs",
		Summary:       "Create gig",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateGigRequest `json:"body"`
	}) (*struct {
		Body GigResponse `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		clientID := input.Body.ClientID
		if clientID == "" {
			clientID = principal.ActorID
		}
		if clientID != principal.ActorID {
			return nil, handleError(ForbiddenError{Need: "client"})
		}
		opts := engine.GigCreateOptions{
			ClientID:        clientID,
			WorkerID:        input.Body.WorkerID,
			Title:           input.Body.Title,
			Deadline:        input.Body.Deadline,
			Budget:          input.Body.Budget,
			NumberOfReports: input.Body.NumberOfReports,
			ReportDeadlines: input.Body.ReportDeadlines,
			ActorID:         principal.ActorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		if input.Body.Currency != nil {
			opts.Currency = *input.Body.Currency
		}
		g, err := e.CreateGig(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GigResponse `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-gigs",
		Method:      http.MethodGet,
		Path:        "/gigs",
		Summary:     "List gigs",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ClientID string `query:"client_id"`
		WorkerID string `query:"worker_id"`
		Status   string `query:"status"`
		Limit    int    `query:"limit"`
	}) (*struct {
		Body []domain.Gig `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		filters := repo.GigFilters{
			ClientID: input.ClientID,
			WorkerID: input.WorkerID,
			Status:   input.Status,
			Limit:    input.Limit,
		}
		// Callers only ever see their own gigs.
		if filters.ClientID == "" && filters.WorkerID == "" {
			if principal.Role == "worker" {
				filters.WorkerID = principal.ActorID
			} else {
				filters.ClientID = principal.ActorID
			}
		} else if filters.ClientID != principal.ActorID && filters.WorkerID != principal.ActorID {
			return nil, handleError(ForbiddenError{Need: "client or worker"})
		}
		items, err := e.ListGigs(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Gig `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-gig",
		Method:      http.MethodGet,
		Path:        "/gigs/{gig_id}",
		Summary:     "Get gig with derived status",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		GigID string `path:"gig_id"`
	}) (*struct {
		Body GigResponse `json:"body"`
	}, error) {
		g, _, apiErr := loadGigFor(ctx, e, input.GigID)
		if apiErr != nil {
			return nil, apiErr
		}
		return &struct {
			Body GigResponse `json:"body"`
		}{Body: g}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	type ReportPath struct {
		GigID        string `path:"gig_id"`
		ReportNumber int    `path:"report_number"`
	}
	reportErrors := []int{
		http.StatusBadRequest,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusUnprocessableEntity,
	}

	huma.Register(api, huma.Operation{
		OperationID: "submit-report",
		Method:      http.MethodPost,
		Path:        "/gigs/{gig_id}/reports/{report_number}/submit",
		Summary:     "Submit or resubmit a progress report",
		Errors:      reportErrors,
	}, func(ctx context.Context, input *struct {
		ReportPath
		Body SubmitReportRequest `json:"body"`
	}) (*struct {
		Body GigResponse `json:"body"`
	}, error) {
		g, principal, apiErr := loadGigFor(ctx, e, input.GigID)
		if apiErr != nil {
			return nil, apiErr
		}
		if err := requireGigWorker(principal, g.Gig); err != nil {
			return nil, handleError(err)
		}
		view, err := e.SubmitReport(ctx, engine.SubmitOptions{
			GigID:        input.GigID,
			ReportNumber: input.ReportNumber,
			Text:         input.Body.Text,
			Attachments:  input.Body.Attachments,
			ActorID:      principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GigResponse `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unsubmit-report",
		Method:      http.MethodPost,
		Path:        "/gigs/{gig_id}/reports/{report_number}/unsubmit",
		Summary:     "Withdraw a submitted report",
		Errors:      reportErrors,
	}, func(ctx context.Context, input *ReportPath) (*struct {
		Body GigResponse `json:"body"`
	}, error) {
		g, principal, apiErr := loadGigFor(ctx, e, input.GigID)
		if apiErr != nil {
			return nil, apiErr
		}
		if err := requireGigWorker(principal, g.Gig); err != nil {
			return nil, handleError(err)
		}
		view, err := e.UnsubmitReport(ctx, input.GigID, input.ReportNumber, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GigResponse `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-report",
		Method:      http.MethodPost,
		Path:        "/gigs/{gig_id}/reports/{report_number}/review",
		Summary:     "Approve or reject a submitted report",
		Errors:      reportErrors,
	}, func(ctx context.Context, input *struct {
		ReportPath
		Body ReviewReportRequest `json:"body"`
	}) (*struct {
		Body GigResponse `json:"body"`
	}, error) {
		if input.Body.Verdict != domain.ReviewApproved && input.Body.Verdict != domain.ReviewRejected {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "verdict must be approved or rejected", nil)
		}
		g, principal, apiErr := loadGigFor(ctx, e, input.GigID)
		if apiErr != nil {
			return nil, apiErr
		}
		if err := requireGigClient(principal, g.Gig); err != nil {
			return nil, handleError(err)
		}
		view, err := e.ReviewReport(ctx, input.GigID, input.ReportNumber,
			input.Body.Verdict == domain.ReviewApproved, input.Body.Feedback, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GigResponse `json:"body"`
		}{Body: view}, nil
	})
}

func registerPayments(api huma.API, e engine.Engine) {
	type GigPath struct {
		GigID string `path:"gig_id"`
	}
	paymentErrors := []int{
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusUnprocessableEntity,
	}

	huma.Register(api, huma.Operation{
		OperationID: "payment-eligibility",
		Method:      http.MethodGet,
		Path:        "/gigs/{gig_id}/payment/eligibility",
		Summary:     "Check payout request eligibility",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *GigPath) (*struct {
		Body engine.PaymentEligibility `json:"body"`
	}, error) {
		g, _, apiErr := loadGigFor(ctx, e, input.GigID)
		if apiErr != nil {
			return nil, apiErr
		}
		return &struct {
			Body engine.PaymentEligibility `json:"body"`
		}{Body: g.Payment}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-payment",
		Method:      http.MethodPost,
		Path:        "/gigs/{gig_id}/payment/request",
		Summary:     "Request a payout",
		Errors:      paymentErrors,
	}, func(ctx context.Context, input *GigPath) (*struct {
		Body GigResponse `json:"body"`
	}, error) {
		g, principal, apiErr := loadGigFor(ctx, e, input.GigID)
		if apiErr != nil {
			return nil, apiErr
		}
		if err := requireGigWorker(principal, g.Gig); err != nil {
			return nil, handleError(err)
		}
		view, err := e.RequestPayment(ctx, input.GigID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GigResponse `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-payment",
		Method:      http.MethodPost,
		Path:        "/gigs/{gig_id}/payment/accept",
		Summary:     "Accept a pending payout request",
		Errors:      paymentErrors,
	}, func(ctx context.Context, input *GigPath) (*struct {
		Body GigResponse `json:"body"`
	}, error) {
		g, principal, apiErr := loadGigFor(ctx, e, input.GigID)
		if apiErr != nil {
			return nil, apiErr
		}
		if err := requireGigClient(principal, g.Gig); err != nil {
			return nil, handleError(err)
		}
		view, err := e.AcceptPaymentRequest(ctx, input.GigID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GigResponse `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decline-payment",
		Method:      http.MethodPost,
		Path:        "/gigs/{gig_id}/payment/decline",
		Summary:     "Decline a pending payout request",
		Errors:      paymentErrors,
	}, func(ctx context.Context, input *struct {
		GigPath
		Body DeclinePaymentRequest `json:"body"`
	}) (*struct {
		Body GigResponse `json:"body"`
	}, error) {
		g, principal, apiErr := loadGigFor(ctx, e, input.GigID)
		if apiErr != nil {
			return nil, apiErr
		}
		if err := requireGigClient(principal, g.Gig); err != nil {
			return nil, handleError(err)
		}
		view, err := e.DeclinePaymentRequest(ctx, input.GigID, input.Body.Feedback, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GigResponse `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-payout",
		Method:      http.MethodPost,
		Path:        "/gigs/{gig_id}/payment/complete",
		Summary:     "Mark the accepted payout as executed",
		Errors:      paymentErrors,
	}, func(ctx context.Context, input *GigPath) (*struct {
		Body GigResponse `json:"body"`
	}, error) {
		g, principal, apiErr := loadGigFor(ctx, e, input.GigID)
		if apiErr != nil {
			return nil, apiErr
		}
		if err := requireGigClient(principal, g.Gig); err != nil {
			return nil, handleError(err)
		}
		view, err := e.CompletePayout(ctx, input.GigID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GigResponse `json:"body"`
		}{Body: view}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "gig-events",
		Method:      http.MethodGet,
		Path:        "/gigs/{gig_id}/events",
		Summary:     "Recent events for a gig",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		GigID string `path:"gig_id"`
		Limit int    `query:"limit"`
		Type  string `query:"type"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, _, apiErr := loadGigFor(ctx, e, input.GigID); apiErr != nil {
			return nil, apiErr
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.GigID, input.Type, "", "")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func registerKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-key",
		Method:        http.MethodPost,
		Path:          "/keys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateKeyRequest `json:"body"`
	}) (*struct {
		Body KeyResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		plaintext := uuid.New().String()
		key := domain.APIKey{
			ID:      uuid.New().String(),
			ActorID: input.Body.ActorID,
			Role:    input.Body.Role,
			Name:    input.Body.Name,
			KeyHash: repo.HashAPIKey(plaintext),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		stored, err := e.Repo.GetAPIKeyByHash(ctx, key.KeyHash)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body KeyResponse `json:"body"`
		}{Body: keyResponse(stored, plaintext)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-keys",
		Method:      http.MethodGet,
		Path:        "/keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []KeyResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]KeyResponse, 0, len(keys))
		for _, k := range keys {
			res = append(res, keyResponse(k, ""))
		}
		return &struct {
			Body []KeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-key",
		Method:      http.MethodDelete,
		Path:        "/keys/{key_id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

// registerAttachments wires raw upload/download outside huma so bodies can
// stream.
func registerAttachments(r chi.Router, basePath string, e engine.Engine) {
	r.Post(path.Join(basePath, "gigs/{gig_id}/attachments"), func(w http.ResponseWriter, req *http.Request) {
		if e.Attachments == nil {
			respondStatusError(w, newAPIError(http.StatusNotImplemented, "not_implemented", "attachment storage not configured", nil))
			return
		}
		principal, ok := principalFromContext(req.Context())
		if !ok {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
			return
		}
		gigID := chi.URLParam(req, "gig_id")
		g, err := e.Repo.GetGig(req.Context(), gigID)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		if principal.ActorID != g.WorkerID {
			respondStatusError(w, handleError(ForbiddenError{Need: "worker"}))
			return
		}
		name := req.URL.Query().Get("name")
		if name == "" {
			name = "attachment"
		}
		ref, err := e.Attachments.Put(req.Context(), name, req.Body)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(AttachmentResponse{Ref: ref})
	})

	r.Get(path.Join(basePath, "attachments/{ref}"), func(w http.ResponseWriter, req *http.Request) {
		if e.Attachments == nil {
			respondStatusError(w, newAPIError(http.StatusNotImplemented, "not_implemented", "attachment storage not configured", nil))
			return
		}
		if _, ok := principalFromContext(req.Context()); !ok {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
			return
		}
		ref := chi.URLParam(req, "ref")
		rc, err := e.Attachments.Open(req.Context(), ref)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ref))
		_, _ = io.Copy(w, rc)
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Hustleup API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

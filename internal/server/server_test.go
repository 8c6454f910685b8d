package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"hustleup/internal/config"
	"hustleup/internal/db"
	"hustleup/internal/engine"
	"hustleup/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testJWTSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func tokenFor(t *testing.T, actorID, role string) string {
	t.Helper()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, client *http.Client, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, data)
	}
	return envelope.Error.Code
}

func TestGigLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	httpc := srv.Client()
	clientTok := tokenFor(t, "client-1", "client")
	workerTok := tokenFor(t, "worker-1", "worker")

	res, data := doJSON(t, httpc, http.MethodPost, srv.URL+"/v1/gigs", clientTok, map[string]any{
		"worker_id":         "worker-1",
		"title":             "Logo design",
		"budget":            300,
		"number_of_reports": 2,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create gig: %d %s", res.StatusCode, data)
	}
	var created engine.GigView
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal gig: %v", err)
	}
	gigURL := srv.URL + "/v1/gigs/" + created.ID

	// Worker submits report 1; client approves; report 2 follows.
	res, data = doJSON(t, httpc, http.MethodPost, gigURL+"/reports/1/submit", workerTok, map[string]any{"text": "sketches"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit report 1: %d %s", res.StatusCode, data)
	}
	var view engine.GigView
	_ = json.Unmarshal(data, &view)
	if view.EffectiveStatus != "pending_review" {
		t.Fatalf("effective status %s", view.EffectiveStatus)
	}

	res, data = doJSON(t, httpc, http.MethodPost, gigURL+"/reports/1/review", clientTok, map[string]any{"verdict": "approved"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve report 1: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, httpc, http.MethodPost, gigURL+"/reports/2/submit", workerTok, map[string]any{"text": "final"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit report 2: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, httpc, http.MethodPost, gigURL+"/reports/2/review", clientTok, map[string]any{"verdict": "approved"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve report 2: %d %s", res.StatusCode, data)
	}

	// Payout round trip.
	res, data = doJSON(t, httpc, http.MethodGet, gigURL+"/payment/eligibility", workerTok, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("eligibility: %d %s", res.StatusCode, data)
	}
	var elig engine.PaymentEligibility
	_ = json.Unmarshal(data, &elig)
	if !elig.OK {
		t.Fatalf("expected eligible: %+v", elig)
	}
	res, data = doJSON(t, httpc, http.MethodPost, gigURL+"/payment/request", workerTok, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("request payment: %d %s", res.StatusCode, data)
	}
	_ = json.Unmarshal(data, &view)
	if view.Status != "in_progress" || !view.PaymentRequestPending {
		t.Fatalf("after request: status %s pending %v", view.Status, view.PaymentRequestPending)
	}
	res, data = doJSON(t, httpc, http.MethodPost, gigURL+"/payment/accept", clientTok, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept payment: %d %s", res.StatusCode, data)
	}
	_ = json.Unmarshal(data, &view)
	if view.Status != "awaiting_payout" || view.PaymentRequestPending {
		t.Fatalf("after accept: status %s pending %v", view.Status, view.PaymentRequestPending)
	}
	res, data = doJSON(t, httpc, http.MethodPost, gigURL+"/payment/complete", clientTok, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete payout: %d %s", res.StatusCode, data)
	}
	_ = json.Unmarshal(data, &view)
	if view.Status != "completed" {
		t.Fatalf("status %s", view.Status)
	}

	// Event log is visible to both parties.
	res, data = doJSON(t, httpc, http.MethodGet, gigURL+"/events", clientTok, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, data)
	}
	var events []EventResponse
	if err := json.Unmarshal(data, &events); err != nil || len(events) == 0 {
		t.Fatalf("events: %v (%s)", err, data)
	}
}

func TestPreconditionEnvelope(t *testing.T) {
	srv := newTestServer(t)
	httpc := srv.Client()
	clientTok := tokenFor(t, "client-1", "client")
	workerTok := tokenFor(t, "worker-1", "worker")

	_, data := doJSON(t, httpc, http.MethodPost, srv.URL+"/v1/gigs", clientTok, map[string]any{
		"worker_id":         "worker-1",
		"title":             "Two milestones",
		"number_of_reports": 2,
	})
	var created engine.GigView
	_ = json.Unmarshal(data, &created)
	gigURL := srv.URL + "/v1/gigs/" + created.ID

	res, data := doJSON(t, httpc, http.MethodPost, gigURL+"/reports/2/submit", workerTok, map[string]any{"text": "skip"})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "precondition_failed" {
		t.Fatalf("code %s", code)
	}

	res, data = doJSON(t, httpc, http.MethodPost, gigURL+"/payment/request", workerTok, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, data)
	}

	// A submission with neither text nor attachments is a refusal, not a
	// server fault.
	res, data = doJSON(t, httpc, http.MethodPost, gigURL+"/reports/1/submit", workerTok, map[string]any{})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("empty submission: expected 422, got %d %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "precondition_failed" {
		t.Fatalf("empty submission code %s", code)
	}
}

func TestDeclinePaymentOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	httpc := srv.Client()
	clientTok := tokenFor(t, "client-1", "client")
	workerTok := tokenFor(t, "worker-1", "worker")

	_, data := doJSON(t, httpc, http.MethodPost, srv.URL+"/v1/gigs", clientTok, map[string]any{
		"worker_id": "worker-1",
		"title":     "Quick job",
	})
	var created engine.GigView
	_ = json.Unmarshal(data, &created)
	gigURL := srv.URL + "/v1/gigs/" + created.ID

	res, data := doJSON(t, httpc, http.MethodPost, gigURL+"/payment/request", workerTok, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("request payment: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, httpc, http.MethodPost, gigURL+"/payment/decline", clientTok, map[string]any{"feedback": "send the invoice first"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("decline payment: %d %s", res.StatusCode, data)
	}
	var view engine.GigView
	_ = json.Unmarshal(data, &view)
	if view.Status != "in_progress" || view.PaymentRequestPending {
		t.Fatalf("after decline: status %s pending %v", view.Status, view.PaymentRequestPending)
	}

	// Nothing left to decline.
	res, data = doJSON(t, httpc, http.MethodPost, gigURL+"/payment/decline", clientTok, map[string]any{})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("second decline: %d %s", res.StatusCode, data)
	}
}

func TestRoleScoping(t *testing.T) {
	srv := newTestServer(t)
	httpc := srv.Client()
	clientTok := tokenFor(t, "client-1", "client")
	workerTok := tokenFor(t, "worker-1", "worker")
	strangerTok := tokenFor(t, "stranger", "worker")

	_, data := doJSON(t, httpc, http.MethodPost, srv.URL+"/v1/gigs", clientTok, map[string]any{
		"worker_id":         "worker-1",
		"title":             "Private gig",
		"number_of_reports": 1,
	})
	var created engine.GigView
	_ = json.Unmarshal(data, &created)
	gigURL := srv.URL + "/v1/gigs/" + created.ID

	// A third party cannot even read the gig.
	res, data := doJSON(t, httpc, http.MethodGet, gigURL, strangerTok, nil)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger read: %d %s", res.StatusCode, data)
	}

	// The client cannot submit reports; the worker cannot review them.
	res, data = doJSON(t, httpc, http.MethodPost, gigURL+"/reports/1/submit", clientTok, map[string]any{"text": "nope"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("client submit: %d %s", res.StatusCode, data)
	}
	doJSON(t, httpc, http.MethodPost, gigURL+"/reports/1/submit", workerTok, map[string]any{"text": "ok"})
	res, data = doJSON(t, httpc, http.MethodPost, gigURL+"/reports/1/review", workerTok, map[string]any{"verdict": "approved"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("worker review: %d %s", res.StatusCode, data)
	}

	// No credentials at all.
	res, data = doJSON(t, httpc, http.MethodGet, gigURL, "", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous read: %d %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("code %s", code)
	}
}

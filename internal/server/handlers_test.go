package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"github.com/vanshika/amlwatch/internal/domain"
	"github.com/vanshika/amlwatch/internal/idempotency"
	"github.com/vanshika/amlwatch/internal/repository"
	"github.com/vanshika/amlwatch/internal/service"
	"github.com/vanshika/amlwatch/internal/session"
	"github.com/vanshika/amlwatch/internal/upstream"
)

type apiStubAuth struct {
	loginRes upstream.LoginResult
	loginErr error
}

func (a *apiStubAuth) Login(ctx context.Context, email, password string) (upstream.LoginResult, error) {
	return a.loginRes, a.loginErr
}
func (a *apiStubAuth) Register(ctx context.Context, email, password, passport string) (string, error) {
	return "User registered", nil
}
func (a *apiStubAuth) Balance(ctx context.Context, s domain.Session) (decimal.Decimal, error) {
	return decimal.NewFromInt(250), nil
}
func (a *apiStubAuth) Deposit(ctx context.Context, s domain.Session, walletID string, amount decimal.Decimal) (string, error) {
	return "Deposit successful", nil
}

type apiStubLedger struct {
	mu        sync.Mutex
	submitted int
	chain     []domain.Block
}

func (l *apiStubLedger) Chain(ctx context.Context, s domain.Session) ([]domain.Block, error) {
	return l.chain, nil
}
func (l *apiStubLedger) SubmitTransaction(ctx context.Context, s domain.Session, t upstream.Transfer) (upstream.SubmitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitted++
	return upstream.SubmitResult{Status: "flagged", BlockIndex: 7, TriggeredRules: []string{"large_amount"}}, nil
}
func (l *apiStubLedger) Mine(ctx context.Context, s domain.Session) (domain.Block, error) {
	return domain.Block{Index: 8}, nil
}

type apiStubAuditor struct {
	logs upstream.FlaggedLog
}

func (a *apiStubAuditor) FlaggedLogs(ctx context.Context, s domain.Session) (upstream.FlaggedLog, error) {
	return a.logs, nil
}
func (a *apiStubAuditor) Observe(ctx context.Context, s domain.Session) (upstream.Observation, error) {
	return upstream.Observation{AuditedBlocks: 1}, nil
}

type apiStubRepository struct {
	mu       sync.Mutex
	failID   string
	upserted []string
}

func (r *apiStubRepository) UpsertFlagged(ctx context.Context, f domain.FlaggedTransaction, g domain.Graph) error {
	if f.ID == r.failID {
		return errors.New("graph store write failed")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserted = append(r.upserted, f.ID)
	return nil
}
func (r *apiStubRepository) ListFlagged(ctx context.Context, opts repository.ListFlaggedOptions) (domain.FlaggedListResult, error) {
	return domain.FlaggedListResult{}, nil
}
func (r *apiStubRepository) FetchFlaggedGraph(ctx context.Context, id string) (domain.Graph, error) {
	return domain.Graph{}, repository.ErrNotFound
}
func (r *apiStubRepository) FlaggedForAccount(ctx context.Context, accountID string) ([]domain.AccountFlag, error) {
	return nil, nil
}

type failingProbe struct{}

func (failingProbe) Probe(ctx context.Context) error { return errors.New("graph down") }

type testAPI struct {
	handler  http.Handler
	auth     *apiStubAuth
	ledger   *apiStubLedger
	auditor  *apiStubAuditor
	sessions *session.MemoryStore
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	return newTestAPIWithStore(t, nil)
}

func newTestAPIWithStore(t *testing.T, repo service.FlaggedRepository) *testAPI {
	t.Helper()
	api := &testAPI{
		auth:     &apiStubAuth{},
		ledger:   &apiStubLedger{},
		auditor:  &apiStubAuditor{},
		sessions: session.NewMemoryStore(time.Hour),
	}
	svc := service.NewMonitorService(api.auth, api.ledger, api.auditor, api.sessions, repo, service.Options{ChainTTL: time.Second})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	api.handler = NewRouter(logger, RouterDependencies{
		API:            NewAPIHandlers(logger, svc),
		Idempotency:    idempotency.NewMemoryStore(time.Hour),
		AllowedOrigins: []string{"http://localhost:3000"},
	})

	for token, role := range map[string]domain.Role{
		"user-token":    domain.RoleUser,
		"admin-token":   domain.RoleAdmin,
		"auditor-token": domain.RoleAuditor,
	} {
		sess := domain.Session{Token: token, Email: string(role) + "@example.com", Role: role, WalletID: "W-" + string(role)}
		if err := api.sessions.Save(context.Background(), sess); err != nil {
			t.Fatalf("save session: %v", err)
		}
	}
	return api
}

func (a *testAPI) do(method, path, token string, body string, headers ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func TestBuildGraphRequiresSession(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/api/graph", "", `{"sender":"W1","receiver":"W9"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}

	rec = api.do(http.MethodPost, "/api/graph", "unknown", `{"sender":"W1","receiver":"W9"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for unknown token, got %d", rec.Code)
	}
}

func TestBuildGraph(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/api/graph", "user-token", `{"sender":"W1","receiver":"W9","amount":500}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected a request id header")
	}

	var payload graphResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	want := graphResponse{
		Nodes: []nodeResponse{{ID: "W1", Color: "green"}, {ID: "W9", Color: "red"}},
		Edges: []edgeResponse{{Source: "W1", Target: "W9"}},
	}
	if len(payload.Nodes) != 2 || payload.Nodes[0] != want.Nodes[0] || payload.Nodes[1] != want.Nodes[1] {
		t.Fatalf("unexpected nodes: %+v", payload.Nodes)
	}
	if len(payload.Edges) != 1 || payload.Edges[0] != want.Edges[0] {
		t.Fatalf("unexpected edges: %+v", payload.Edges)
	}
}

func TestBuildGraphMalformedRecord(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/api/graph", "user-token", `[1,2,3]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := bytes.TrimSpace(rec.Body.Bytes()); string(got) != `{"nodes":[],"edges":[]}` {
		t.Fatalf("expected empty graph, got %s", got)
	}
}

func TestLogin(t *testing.T) {
	api := newTestAPI(t)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": "ops@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("unused"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	api.auth.loginRes = upstream.LoginResult{Token: signed, Role: domain.RoleAuditor}

	rec := api.do(http.MethodPost, "/api/auth/login", "", `{"email":"ops@example.com","password":"secret"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Landing != "/audit" {
		t.Fatalf("expected auditor landing /audit, got %q", payload.Landing)
	}

	rec = api.do(http.MethodGet, "/api/session", signed, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected new session to authenticate, got %d", rec.Code)
	}
}

func TestLoginRejected(t *testing.T) {
	api := newTestAPI(t)
	api.auth.loginErr = &upstream.StatusError{Service: "auth", Operation: "login", StatusCode: http.StatusUnauthorized, Message: "Invalid password"}

	rec := api.do(http.MethodPost, "/api/auth/login", "", `{"email":"ops@example.com","password":"nope"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("Invalid password")) {
		t.Fatalf("expected upstream message in body, got %s", rec.Body.String())
	}
}

func TestLoginValidation(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/api/auth/login", "", `{"email":"not-an-email","password":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	rec = api.do(http.MethodPost, "/api/auth/login", "", `{"email":"a@b.co","password":"x","extra":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for unknown field, got %d", rec.Code)
	}
}

func TestDepositValidationUsesJSONFieldNames(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/api/admin/deposit", "admin-token", `{"amount":"10"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !strings.Contains(body["error"], "wallet_id failed required") {
		t.Fatalf("expected error to name wallet_id, got %q", body["error"])
	}
}

func TestRoleEnforcement(t *testing.T) {
	api := newTestAPI(t)

	cases := []struct {
		method, path, token string
		want                int
	}{
		{http.MethodGet, "/api/overview", "user-token", http.StatusForbidden},
		{http.MethodGet, "/api/overview", "auditor-token", http.StatusOK},
		{http.MethodGet, "/api/audit/blocks", "admin-token", http.StatusOK},
		{http.MethodPost, "/api/admin/mine", "auditor-token", http.StatusForbidden},
		{http.MethodPost, "/api/admin/mine", "admin-token", http.StatusOK},
		{http.MethodPost, "/api/transactions", "auditor-token", http.StatusForbidden},
	}
	for _, tc := range cases {
		rec := api.do(tc.method, tc.path, tc.token, "")
		if rec.Code != tc.want {
			t.Fatalf("%s %s as %s: expected %d, got %d", tc.method, tc.path, tc.token, tc.want, rec.Code)
		}
	}
}

func TestSubmitTransactionIdempotent(t *testing.T) {
	api := newTestAPI(t)
	body := `{"receiver":"W-2","amount":"120.50"}`

	first := api.do(http.MethodPost, "/api/transactions", "user-token", body, idempotency.Header, "key-1")
	if first.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", first.Code, first.Body.String())
	}
	second := api.do(http.MethodPost, "/api/transactions", "user-token", body, idempotency.Header, "key-1")
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed status 201, got %d", second.Code)
	}
	if second.Header().Get("X-Idempotency-Hit") != "true" {
		t.Fatalf("expected replay header on second response")
	}
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Fatalf("expected identical bodies, got %s and %s", first.Body.String(), second.Body.String())
	}
	if api.ledger.submitted != 1 {
		t.Fatalf("expected ledger to see 1 submission, got %d", api.ledger.submitted)
	}

	var payload transferResponse
	if err := json.Unmarshal(first.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !payload.Flagged || payload.BlockIndex != 7 {
		t.Fatalf("unexpected transfer response: %+v", payload)
	}
}

func TestSubmitTransactionRejectsNonPositiveAmount(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/api/transactions", "user-token", `{"receiver":"W-2","amount":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if api.ledger.submitted != 0 {
		t.Fatalf("expected no ledger submission")
	}
}

func TestFlaggedGraphNotFound(t *testing.T) {
	api := newTestAPI(t)
	api.auditor.logs = upstream.FlaggedLog{Items: []domain.FlaggedTransaction{{
		ID: "F-1",
		Tx: domain.Transaction{Path: []string{"A", "B", "C"}},
	}}}

	rec := api.do(http.MethodGet, "/api/flagged/F-1/graph", "auditor-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var payload graphResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(payload.Nodes) != 3 || payload.Nodes[1].Color != "blue" {
		t.Fatalf("unexpected graph: %+v", payload)
	}

	rec = api.do(http.MethodGet, "/api/flagged/F-404/graph", "auditor-token", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestStoredFlaggedWithoutStore(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodGet, "/api/flagged/stored", "admin-token", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
}

func TestSyncFlaggedPartialFailure(t *testing.T) {
	repo := &apiStubRepository{failID: "F-2"}
	api := newTestAPIWithStore(t, repo)
	tx := func(path ...string) domain.Transaction {
		return domain.Transaction{Sender: path[0], Receiver: path[len(path)-1], Path: path}
	}
	api.auditor.logs = upstream.FlaggedLog{Items: []domain.FlaggedTransaction{
		{ID: "F-1", Tx: tx("A", "B")},
		{ID: "F-2", Tx: tx("A", "C", "D")},
		{ID: "F-3", Tx: tx("E", "F")},
	}}

	rec := api.do(http.MethodPost, "/api/admin/sync", "admin-token", "")
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("expected status 207, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp syncResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Fetched != 3 || resp.Synced != 2 {
		t.Fatalf("unexpected report: %+v", resp)
	}
	if len(resp.Failures) != 1 || !strings.Contains(resp.Failures[0], "graph store write failed") {
		t.Fatalf("expected one failure naming the store error, got %v", resp.Failures)
	}
}

func TestSyncFlaggedWithoutStore(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/api/admin/sync", "admin-token", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rec := httptest.NewRecorder()
	NewRouter(logger, RouterDependencies{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	deps := RouterDependencies{Health: HealthChecks{GraphHealthService{}, failingProbe{}}}
	NewRouter(logger, deps).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodOptions, "/api/transactions", "", "", "Origin", "http://localhost:3000")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow-origin %q", got)
	}

	rec = api.do(http.MethodOptions, "/api/transactions", "", "", "Origin", "http://evil.example")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rec.Code)
	}
}

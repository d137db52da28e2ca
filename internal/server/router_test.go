package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"telemetry-ingest/backend/internal/audit"
	auditrepo "telemetry-ingest/backend/internal/audit/repository"
	authservice "telemetry-ingest/backend/internal/auth/service"
	eventrepo "telemetry-ingest/backend/internal/event/repository"
	ingestservice "telemetry-ingest/backend/internal/ingest/service"
	orgdomain "telemetry-ingest/backend/internal/organization/domain"
	orgrepo "telemetry-ingest/backend/internal/organization/repository"
	"telemetry-ingest/backend/internal/origin"
	"telemetry-ingest/backend/internal/security"
	sessionrepo "telemetry-ingest/backend/internal/session/repository"
	txndomain "telemetry-ingest/backend/internal/transaction/domain"
	txnrepo "telemetry-ingest/backend/internal/transaction/repository"
	txnservice "telemetry-ingest/backend/internal/transaction/service"
)

const allowedOrigin = "https://app.acme.io"

type testEnv struct {
	handler http.Handler
	crypto  *security.CryptoService
	txns    *txnrepo.MemoryRepository
	events  *eventrepo.MemoryRepository
	audits  *auditrepo.MemoryRepository
	apiKey  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	policy, err := origin.NewPolicy(ctx)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	hasher := security.NewHasher(4)
	apiKey, keyHash, err := hasher.NewAPIKey("org-1")
	if err != nil {
		t.Fatalf("NewAPIKey: %v", err)
	}
	orgs := orgrepo.NewMemoryRepository()
	for _, o := range []*orgdomain.Org{
		{ID: "org-1", Name: "Acme", APIKeyHash: keyHash, AllowedDomains: []string{"app.acme.io"}},
		{ID: "org-2", Name: "Other", AllowedDomains: []string{"*.other.io"}},
	} {
		if err := orgs.CreateOrganization(ctx, o); err != nil {
			t.Fatalf("create org: %v", err)
		}
	}
	e := &testEnv{
		crypto: security.NewCryptoService(),
		txns:   txnrepo.NewMemoryRepository(),
		events: eventrepo.NewMemoryRepository(),
		audits: auditrepo.NewMemoryRepository(),
		apiKey: apiKey,
	}
	auditLogger := audit.NewLogger(e.audits, nil, nil)
	auth := authservice.NewAuthService(orgs, sessionrepo.NewMemoryRepository(), e.txns, e.crypto, hasher, policy,
		authservice.Options{Audit: auditLogger})
	txns := txnservice.NewService(e.txns, e.events, security.NewConfigTokenProvider("test-secret", "test", time.Minute), auditLogger, nil)
	ingest := ingestservice.NewService(e.events, txns, auth, e.crypto, ingestservice.Options{})
	e.handler = NewRouter(Deps{Auth: auth, Transactions: txns, Ingest: ingest, MaxBodyBytes: 1 << 16})

	err = e.txns.Create(ctx, &txndomain.Transaction{
		ID: "txn-1", SessionID: "sess-1", OrgID: "org-1", Status: txndomain.StatusPending,
		Metadata: map[string]any{txndomain.MetadataDeviceID: "dev-1"}, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("create txn: %v", err)
	}
	return e
}

func (e *testEnv) do(method, path string, headers map[string]string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// guarded returns the headers of an origin-gated, token-authenticated request.
func guarded(token string) map[string]string {
	return map[string]string{"Origin": allowedOrigin, "X-Organization-ID": "org-1", "X-Session-Token": token}
}

func (e *testEnv) handshake(t *testing.T, txn, sess string) string {
	t.Helper()
	hash := e.crypto.DeriveHandshakeHash("org-1", txn, sess, "dev-1")
	rec := e.do(http.MethodPost, "/v1/handshake/"+hash, map[string]string{
		"Origin": allowedOrigin, "X-Organization-ID": "org-1", "X-Session-ID": sess, "X-Transaction-ID": txn,
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("handshake status = %d, body = %s", rec.Code, rec.Body)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("handshake body = %q, want empty", rec.Body)
	}
	token := rec.Header().Get("X-Session-Token")
	if !security.IsWellFormedToken(token) {
		t.Fatalf("handshake token = %q", token)
	}
	if _, err := time.Parse(time.RFC3339, rec.Header().Get("X-Token-Expires-At")); err != nil {
		t.Errorf("X-Token-Expires-At: %v", err)
	}
	return token
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body %q: %v", rec.Body, err)
	}
	return body.Error.Code
}

func TestEndToEnd_HandshakeIngestRotates(t *testing.T) {
	e := newTestEnv(t)
	t1 := e.handshake(t, "txn-1", "sess-1")

	rec := e.do(http.MethodPost, "/v1/events", guarded(t1),
		`{"deviceId":"dev-1","batchId":"b1","batchTimestamp":"2026-04-01T12:00:00Z","modules":{"clicks":[{"x":1}]}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest status = %d, body = %s", rec.Code, rec.Body)
	}
	var res struct {
		EventsProcessed int    `json:"eventsProcessed"`
		BatchID         string `json:"batchId"`
		TransactionID   string `json:"transactionId"`
		ProcessedAt     string `json:"processedAt"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.EventsProcessed != 1 || res.BatchID != "b1" || res.TransactionID != "txn-1" || res.ProcessedAt == "" {
		t.Errorf("response = %+v", res)
	}
	t2 := rec.Header().Get("X-Session-Token")
	if !security.IsWellFormedToken(t2) || t2 == t1 {
		t.Fatalf("rotated token = %q", t2)
	}

	if rec := e.do(http.MethodGet, "/v1/token/validate", guarded(t1), ""); rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "INVALID_TOKEN" {
		t.Errorf("old token: status = %d body = %s", rec.Code, rec.Body)
	}
	rec = e.do(http.MethodGet, "/v1/token/validate", guarded(t2), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("new token: status = %d body = %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Session-Token") != "" {
		t.Error("validate must not rotate")
	}
	if !strings.Contains(rec.Body.String(), `"sessionId":"sess-1"`) {
		t.Errorf("validate body = %s", rec.Body)
	}

	txn, _ := e.txns.GetByID(context.Background(), "txn-1")
	if txn.Status != txndomain.StatusActive {
		t.Errorf("transaction status = %q, want active", txn.Status)
	}
}

func TestHandshake_Rejections(t *testing.T) {
	e := newTestEnv(t)
	good := e.crypto.DeriveHandshakeHash("org-1", "txn-1", "sess-1", "dev-1")
	base := func() map[string]string {
		return map[string]string{"Origin": allowedOrigin, "X-Organization-ID": "org-1", "X-Session-ID": "sess-1", "X-Transaction-ID": "txn-1"}
	}
	testCases := []struct {
		name   string
		hash   string
		mutate func(map[string]string)
		status int
		code   string
	}{
		{"missing org", good, func(h map[string]string) { delete(h, "X-Organization-ID") }, http.StatusBadRequest, "MISSING_HEADER"},
		{"missing session", good, func(h map[string]string) { delete(h, "X-Session-ID") }, http.StatusBadRequest, "MISSING_HEADER"},
		{"missing transaction", good, func(h map[string]string) { delete(h, "X-Transaction-ID") }, http.StatusBadRequest, "MISSING_HEADER"},
		{"unknown org", good, func(h map[string]string) { h["X-Organization-ID"] = "org-x" }, http.StatusUnauthorized, "INVALID_ORGANIZATION"},
		{"foreign origin", good, func(h map[string]string) { h["Origin"] = "https://evil.example" }, http.StatusForbidden, "INVALID_ORIGIN"},
		{"no origin", good, func(h map[string]string) { delete(h, "Origin") }, http.StatusForbidden, "INVALID_ORIGIN"},
		{"wrong hash", strings.Repeat("0", 64), func(map[string]string) {}, http.StatusUnauthorized, "INVALID_HANDSHAKE"},
		{"unknown transaction", e.crypto.DeriveHandshakeHash("org-1", "txn-x", "sess-1", "dev-1"),
			func(h map[string]string) { h["X-Transaction-ID"] = "txn-x"; h["X-Device-ID"] = "dev-1" }, http.StatusUnauthorized, "INVALID_TRANSACTION_CONTEXT"},
		{"unknown transaction without device", good, func(h map[string]string) { h["X-Transaction-ID"] = "txn-nope" }, http.StatusUnauthorized, "INVALID_TRANSACTION_CONTEXT"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := base()
			tc.mutate(h)
			rec := e.do(http.MethodPost, "/v1/handshake/"+tc.hash, h, "")
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.status, rec.Body)
			}
			if got := errorCode(t, rec); got != tc.code {
				t.Errorf("code = %q, want %q", got, tc.code)
			}
			if rec.Header().Get("X-Session-Token") != "" {
				t.Error("rejected handshake returned a token")
			}
		})
	}
}

func TestBootstrap_ThenHandshake(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(http.MethodPost, "/v1/transactions", map[string]string{"Authorization": "Bearer " + e.apiKey},
		`{"deviceId":"dev-1","metadata":{"app":"checkout"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("bootstrap status = %d, body = %s", rec.Code, rec.Body)
	}
	var boot struct {
		TransactionID  string `json:"transactionId"`
		SessionID      string `json:"sessionId"`
		OrganizationID string `json:"organizationId"`
		Status         string `json:"status"`
		ConfigToken    string `json:"configToken"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &boot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if boot.OrganizationID != "org-1" || boot.Status != "pending" || boot.ConfigToken == "" {
		t.Fatalf("bootstrap = %+v", boot)
	}

	token := e.handshake(t, boot.TransactionID, boot.SessionID)
	h := guarded(token)
	h["X-Config-Token"] = boot.ConfigToken
	rec = e.do(http.MethodGet, "/v1/config", h, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("config status = %d, body = %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"transactionId":"`+boot.TransactionID+`"`) {
		t.Errorf("config body = %s", rec.Body)
	}
}

func TestBootstrap_APIKeyRequired(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(http.MethodPost, "/v1/transactions", nil, "")
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "MISSING_HEADER" {
		t.Errorf("no key: status = %d body = %s", rec.Code, rec.Body)
	}
	rec = e.do(http.MethodPost, "/v1/transactions", map[string]string{"Authorization": "Bearer org-1.wrong"}, "")
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "INVALID_API_KEY" {
		t.Errorf("bad key: status = %d body = %s", rec.Code, rec.Body)
	}
}

func TestCompleteTransaction(t *testing.T) {
	e := newTestEnv(t)
	token := e.handshake(t, "txn-1", "sess-1")
	rec := e.do(http.MethodPost, "/v1/events", guarded(token),
		`{"deviceId":"dev-1","batchId":"b1","batchTimestamp":"t","modules":{"clicks":[{},{}],"moves":[{}]}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest status = %d", rec.Code)
	}
	token = rec.Header().Get("X-Session-Token")

	rec = e.do(http.MethodPost, "/v1/transactions/complete", guarded(token), `{"transactionId":"txn-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete status = %d, body = %s", rec.Code, rec.Body)
	}
	var res struct {
		Status       string         `json:"status"`
		CompletedAt  *time.Time     `json:"completedAt"`
		TotalEvents  int            `json:"totalEvents"`
		EventsByType map[string]int `json:"eventsByType"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Status != "completed" || res.CompletedAt == nil || res.TotalEvents != 3 || res.EventsByType["clicks"] != 2 {
		t.Errorf("complete = %+v", res)
	}

	rec = e.do(http.MethodPost, "/v1/transactions/complete", guarded(token), `{"transactionId":"txn-x"}`)
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "UNKNOWN_TRANSACTION" {
		t.Errorf("unknown: status = %d body = %s", rec.Code, rec.Body)
	}

	rec = e.do(http.MethodPost, "/v1/events", guarded(token),
		`{"deviceId":"dev-1","batchId":"b2","batchTimestamp":"t","modules":{"clicks":[{}]}}`)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "NO_ACTIVE_TRANSACTION" {
		t.Errorf("ingest after completion: status = %d body = %s", rec.Code, rec.Body)
	}
}

func TestIngest_Rejections(t *testing.T) {
	e := newTestEnv(t)
	token := e.handshake(t, "txn-1", "sess-1")

	rec := e.do(http.MethodPost, "/v1/events", guarded(token), `"not-an-object"`)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "MALFORMED_BATCH" {
		t.Errorf("malformed: status = %d body = %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Session-Token") != "" {
		t.Error("rejected batch rotated the token")
	}

	rec = e.do(http.MethodPost, "/v1/events", guarded(token), `{"deviceId":"d","batchId":"b","batchTimestamp":"t","modules":{"a":["`+strings.Repeat("x", 1<<16)+`"]}}`)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "MALFORMED_BATCH" {
		t.Errorf("oversized: status = %d body = %s", rec.Code, rec.Body)
	}

	h := guarded(token)
	delete(h, "X-Session-Token")
	rec = e.do(http.MethodPost, "/v1/events", h, `{}`)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "MISSING_HEADER" {
		t.Errorf("no token: status = %d body = %s", rec.Code, rec.Body)
	}

	h = guarded(token)
	h["X-Organization-ID"] = "org-2"
	h["Origin"] = "https://app.other.io"
	rec = e.do(http.MethodPost, "/v1/events", h, `{}`)
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "ORGANIZATION_MISMATCH" {
		t.Errorf("cross-org: status = %d body = %s", rec.Code, rec.Body)
	}
	if e.events.Count() != 0 {
		t.Errorf("stored %d events", e.events.Count())
	}
}

func TestIngest_DuplicateReturnsRotatedToken(t *testing.T) {
	e := newTestEnv(t)
	t1 := e.handshake(t, "txn-1", "sess-1")
	batch := `{"deviceId":"dev-1","batchId":"b1","batchTimestamp":"t","modules":{"clicks":[{}]}}`

	rec := e.do(http.MethodPost, "/v1/events", guarded(t1), batch)
	if rec.Code != http.StatusOK {
		t.Fatalf("first: status = %d body = %s", rec.Code, rec.Body)
	}
	t2 := rec.Header().Get("X-Session-Token")

	rec = e.do(http.MethodPost, "/v1/events", guarded(t2), batch)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "DUPLICATE_BATCH" {
		t.Fatalf("duplicate: status = %d body = %s", rec.Code, rec.Body)
	}
	t3 := rec.Header().Get("X-Session-Token")
	if !security.IsWellFormedToken(t3) || t3 == t2 {
		t.Fatalf("duplicate response token = %q", t3)
	}
	if rec := e.do(http.MethodGet, "/v1/token/validate", guarded(t3), ""); rec.Code != http.StatusOK {
		t.Errorf("token from duplicate response: status = %d body = %s", rec.Code, rec.Body)
	}
	if e.events.Count() != 1 {
		t.Errorf("stored %d events, want 1", e.events.Count())
	}
}

func TestRefreshAndRevoke(t *testing.T) {
	e := newTestEnv(t)
	t1 := e.handshake(t, "txn-1", "sess-1")

	rec := e.do(http.MethodPost, "/v1/token/refresh", guarded(t1), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body = %s", rec.Code, rec.Body)
	}
	t2 := rec.Header().Get("X-Session-Token")
	if t2 == "" || t2 == t1 {
		t.Fatalf("refresh token = %q", t2)
	}
	if rec := e.do(http.MethodGet, "/v1/token/validate", guarded(t1), ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("pre-refresh token still valid: %d", rec.Code)
	}

	rec = e.do(http.MethodPost, "/v1/token/revoke", guarded(t2), "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"revoked":true`) {
		t.Fatalf("revoke: status = %d body = %s", rec.Code, rec.Body)
	}
	if rec := e.do(http.MethodGet, "/v1/token/validate", guarded(t2), ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("revoked token still valid: %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body)
	}
}

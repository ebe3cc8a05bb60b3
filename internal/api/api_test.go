package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/acalanto-app/sentinela/internal/audit"
	"github.com/acalanto-app/sentinela/internal/policy"
	"github.com/acalanto-app/sentinela/internal/quota"
	"github.com/acalanto-app/sentinela/internal/risk"
	"github.com/acalanto-app/sentinela/internal/security"
	"github.com/acalanto-app/sentinela/internal/store"
	"github.com/acalanto-app/sentinela/internal/vault"
)

// fakeDirectory is an in-memory ClientDirectory for auth tests.
type fakeDirectory struct {
	clients map[string]*store.Client // by prefix
}

func (f *fakeDirectory) LookupByPrefix(_ context.Context, prefix string) (*store.Client, error) {
	return f.clients[prefix], nil
}

func (f *fakeDirectory) CreateClient(_ context.Context, name string) (*store.Client, string, error) {
	key, hash, prefix, err := store.GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}
	c := &store.Client{ID: fmt.Sprintf("client-%d", len(f.clients)+1), Name: name,
		APIKeyHash: hash, APIKeyPrefix: prefix, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.clients[prefix] = c
	return c, key, nil
}

func testRouter(t *testing.T, dir ClientDirectory) (http.Handler, *security.Middleware) {
	t.Helper()
	auditLogger := audit.New(audit.NewMemoryStore(), audit.DefaultRetention, zap.NewNop())
	t.Cleanup(auditLogger.Close)

	mw := security.New(security.Config{
		Policy:       policy.NewEngine(),
		Risk:         risk.NewDetector(risk.DefaultConfig()),
		Quota:        quota.NewGuard(quota.NewMemoryStore(), quota.DefaultLimits(), zap.NewNop()),
		Vault:        vault.New(vault.NewMemoryStore(), testMaster(t), zap.NewNop()),
		Audit:        auditLogger,
		AICredential: "test-credential",
		Logger:       zap.NewNop(),
	})
	deps := &Dependencies{
		Security: mw,
		Clients:  dir,
		Logger:   zap.NewNop(),
		CacheTTL: time.Minute,
	}
	return NewRouter(deps), mw
}

func testMaster(t *testing.T) []byte {
	t.Helper()
	master, err := vault.MasterKeyFromHex(strings.Repeat("cd", 32))
	if err != nil {
		t.Fatal(err)
	}
	return master
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestScreenEndpoint(t *testing.T) {
	h, _ := testRouter(t, nil)

	rec := doJSON(t, h, http.MethodPost, "/v1/screen", "", ScreenRequest{
		UserID:  "user-1",
		Message: "Meu telefone é (11) 98765-4321, me chama",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp ScreenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Allowed {
		t.Error("message should be allowed")
	}
	if !resp.PIIDetected {
		t.Error("phone number not detected")
	}
	if strings.Contains(resp.SanitizedText, "98765-4321") {
		t.Errorf("sanitized text leaks the number: %q", resp.SanitizedText)
	}
}

func TestScreenEndpointEmergency(t *testing.T) {
	h, _ := testRouter(t, nil)

	rec := doJSON(t, h, http.MethodPost, "/v1/screen", "", ScreenRequest{
		UserID:  "user-1",
		Message: "não aguento mais, quero desaparecer",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp ScreenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Allowed {
		t.Error("emergency must block")
	}
	if resp.SafetyResponse == nil || len(resp.SafetyResponse.Resources) == 0 {
		t.Fatalf("safety response missing or empty: %+v", resp.SafetyResponse)
	}
	if resp.Risk.Urgency != "emergency" {
		t.Errorf("urgency = %q, want emergency", resp.Risk.Urgency)
	}
}

func TestScreenEndpointValidation(t *testing.T) {
	h, _ := testRouter(t, nil)

	tests := []struct {
		name string
		body ScreenRequest
	}{
		{"missing user", ScreenRequest{Message: "oi"}},
		{"missing message", ScreenRequest{UserID: "user-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/v1/screen", "", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestQuotaCheckEndpointDenies(t *testing.T) {
	h, _ := testRouter(t, nil)
	limit := quota.DefaultLimits()["chat_message"]

	var rec *httptest.ResponseRecorder
	for i := 0; i < limit.MaxRequests+1; i++ {
		rec = doJSON(t, h, http.MethodPost, "/v1/quota/check", "", QuotaCheckRequest{
			UserID: "user-1", Endpoint: "chat_message",
		})
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	var resp QuotaCheckResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Allowed {
		t.Error("over-limit check must deny")
	}
	if resp.RetryAfterSeconds <= 0 {
		t.Error("denial must carry retry_after_seconds")
	}
}

func TestProtectRevealEndpoints(t *testing.T) {
	h, _ := testRouter(t, nil)

	rec := doJSON(t, h, http.MethodPost, "/v1/protect", "", ProtectRequest{
		UserID: "user-1", Plaintext: "nota confidencial",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("protect status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var protected ProtectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &protected); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/reveal", "", RevealRequest{
		UserID: "user-1", Payload: protected.Payload,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reveal status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var revealed RevealResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &revealed); err != nil {
		t.Fatal(err)
	}
	if revealed.Plaintext != "nota confidencial" {
		t.Errorf("round trip = %q", revealed.Plaintext)
	}
}

func TestRevokeKeysIsTerminal(t *testing.T) {
	h, _ := testRouter(t, nil)

	rec := doJSON(t, h, http.MethodPost, "/v1/protect", "", ProtectRequest{
		UserID: "user-1", Plaintext: "antes da exclusão",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("protect status = %d", rec.Code)
	}
	var protected ProtectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &protected); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/keys/revoke?user_id=user-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/reveal", "", RevealRequest{
		UserID: "user-1", Payload: protected.Payload,
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("reveal after revoke: status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/protect", "", ProtectRequest{
		UserID: "user-1", Plaintext: "depois da exclusão",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("protect after revoke: status = %d, want 403", rec.Code)
	}
}

func TestAuditEndpoints(t *testing.T) {
	h, mw := testRouter(t, nil)

	rec := doJSON(t, h, http.MethodPost, "/v1/audit", "", AuditRequest{
		UserID: "user-1", ActionType: "onboarding_complete", Success: true,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("record status = %d", rec.Code)
	}

	// Reads bypass the async buffer, so wait for the flush.
	deadline := time.Now().Add(5 * time.Second)
	for {
		entries, err := mw.Audit().GetLogs(context.Background(), "user-1", audit.Filter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/audit/logs?user_id=user-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logs status = %d", rec.Code)
	}
	var entries []audit.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ActionType != "onboarding_complete" {
		t.Errorf("entries = %+v", entries)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/audit/stats?user_id=user-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/audit/export?user_id=user-1&format=csv", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("export content type = %q", ct)
	}
}

func TestAuthMiddleware(t *testing.T) {
	dir := &fakeDirectory{clients: map[string]*store.Client{}}
	h, _ := testRouter(t, dir)

	_, key, err := dir.CreateClient(context.Background(), "acalanto-backend")
	if err != nil {
		t.Fatal(err)
	}

	body := ScreenRequest{UserID: "user-1", Message: "tudo bem por aqui"}

	rec := doJSON(t, h, http.MethodPost, "/v1/screen", "", body)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/screen", "ssk_bogus00deadbeef", body)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/screen", key, body)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rec.Code)
	}

	// Second call should hit the auth cache.
	rec = doJSON(t, h, http.MethodPost, "/v1/screen", key, body)
	if rec.Code != http.StatusOK {
		t.Errorf("cached token: status = %d, want 200", rec.Code)
	}
}

func TestAuthRejectsDisabledClient(t *testing.T) {
	dir := &fakeDirectory{clients: map[string]*store.Client{}}
	h, _ := testRouter(t, dir)

	c, key, err := dir.CreateClient(context.Background(), "old-integration")
	if err != nil {
		t.Fatal(err)
	}
	c.Disabled = true

	rec := doJSON(t, h, http.MethodPost, "/v1/screen", key,
		ScreenRequest{UserID: "user-1", Message: "oi"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("disabled client: status = %d, want 401", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := testRouter(t, nil)

	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var health security.Health
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != security.StatusWarn {
		t.Errorf("status = %q, want warn for in-memory setup", health.Status)
	}
	if len(health.Components) == 0 {
		t.Error("no components reported")
	}
}

func TestGenerateAPIKeyShape(t *testing.T) {
	key, hash, prefix, err := store.GenerateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(key, "ssk_") {
		t.Errorf("key = %q, want ssk_ prefix", key)
	}
	if prefix != key[:8] {
		t.Errorf("prefix = %q", prefix)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}
}

func TestIPLimiterEvictAndStop(t *testing.T) {
	l := newIPLimiter(1, 1)
	defer l.stop()

	if !l.allow("203.0.113.7") {
		t.Fatal("first request from a fresh IP should pass")
	}
	if l.allow("203.0.113.7") {
		t.Error("second immediate request should exceed the burst")
	}

	l.mu.Lock()
	l.visitors["203.0.113.7"].lastSeen = time.Now().Add(-10 * time.Minute)
	l.mu.Unlock()
	l.evict(time.Now().Add(-3 * time.Minute))

	l.mu.Lock()
	_, ok := l.visitors["203.0.113.7"]
	l.mu.Unlock()
	if ok {
		t.Error("stale visitor survived eviction")
	}

	// A fresh bucket after eviction admits again.
	if !l.allow("203.0.113.7") {
		t.Error("evicted IP should start with a full bucket")
	}

	l.stop()
	l.stop() // idempotent
}

func TestRouterCloseStopsLimiter(t *testing.T) {
	auditLogger := audit.New(audit.NewMemoryStore(), audit.DefaultRetention, zap.NewNop())
	t.Cleanup(auditLogger.Close)
	mw := security.New(security.Config{
		Policy: policy.NewEngine(),
		Risk:   risk.NewDetector(risk.DefaultConfig()),
		Quota:  quota.NewGuard(quota.NewMemoryStore(), quota.DefaultLimits(), zap.NewNop()),
		Vault:  vault.New(vault.NewMemoryStore(), testMaster(t), zap.NewNop()),
		Audit:  auditLogger,
		Logger: zap.NewNop(),
	})
	deps := &Dependencies{
		Security:    mw,
		Logger:      zap.NewNop(),
		IPRateRPS:   100,
		IPRateBurst: 100,
	}
	NewRouter(deps)
	if deps.limiter == nil {
		t.Fatal("router with a positive rate must install the IP limiter")
	}
	deps.Close()
	select {
	case <-deps.limiter.done:
	default:
		t.Error("Close did not stop the limiter")
	}
	deps.Close() // idempotent
}

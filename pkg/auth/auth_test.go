package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetdesk/pkg/config"
)

func setupRuntime(t *testing.T) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Security.APIKeys.Backend = []string{"backend-key"}
	cfg.Security.Identity.TokenSecret = "token-secret"
	cfg.Security.Identity.Issuer = "https://id.example"
	config.SetRuntime(config.NewRuntime(cfg))
	t.Cleanup(func() { config.SetRuntime(nil) })
}

func testSec() SecConfig {
	return SecConfig{
		BackendKeys:  map[string]struct{}{"backend-key": {}},
		FrontendKeys: map[string]struct{}{"frontend-key": {}},
		AdminKeys:    map[string]struct{}{"admin-key": {}},
		RPS:          1000,
		Burst:        1000,
	}
}

// chain mirrors the router: gateway, then identity.
func chain(h http.Handler) http.Handler {
	return AuthenticateRequestMiddleware(testSec())(IdentifyCaller(h))
}

func captureIdentity(got *Identity, ok *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got, *ok = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestGateway_Roles(t *testing.T) {
	h := AuthenticateRequestMiddleware(testSec())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		key, method, path string
		want              int
	}{
		{"", "GET", "/v1/threads", http.StatusUnauthorized},
		{"bogus", "GET", "/v1/threads", http.StatusUnauthorized},
		{"frontend-key", "GET", "/v1/threads", http.StatusOK},
		{"frontend-key", "POST", "/v1/chat/send", http.StatusOK},
		{"frontend-key", "PUT", "/v1/admin/config/openrouter_models", http.StatusForbidden},
		{"backend-key", "POST", "/v1/admin/machines", http.StatusOK},
		{"admin-key", "GET", "/v1/admin/config", http.StatusOK},
		{"", "GET", "/healthz", http.StatusOK},
	}
	for _, c := range cases {
		req := httptest.NewRequest(c.method, c.path, nil)
		if c.key != "" {
			req.Header.Set("Authorization", "Bearer "+c.key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, c.want, rec.Code, "%s %s with %q", c.method, c.path, c.key)
	}
}

func TestGateway_RateLimit(t *testing.T) {
	sec := testSec()
	sec.RPS, sec.Burst = 0.001, 1
	h := AuthenticateRequestMiddleware(sec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	codes := []int{}
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/v1/threads", nil)
		req.Header.Set("X-API-Key", "frontend-key")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestIdentifyCaller_Signature(t *testing.T) {
	setupRuntime(t)
	var got Identity
	var ok bool
	h := chain(captureIdentity(&got, &ok))

	req := httptest.NewRequest("GET", "/v1/threads", nil)
	req.Header.Set("X-API-Key", "frontend-key")
	req.Header.Set("X-User-ID", "ext-42")
	req.Header.Set("X-User-Signature", SignUserID("backend-key", "ext-42"))
	req.Header.Set("X-User-Email", "ada@example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, ok)
	assert.Equal(t, "ext-42", got.Subject)
	assert.Equal(t, "hmac|ext-42", got.TokenIdentifier)
	assert.Equal(t, "ada@example.com", got.Email)

	req.Header.Set("X-User-Signature", SignUserID("wrong", "ext-42"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIdentifyCaller_Token(t *testing.T) {
	setupRuntime(t)
	tok, err := IssueToken("token-secret", "https://id.example", Identity{Subject: "u1", Name: "Ada", Email: "ada@example.com"}, time.Minute)
	require.NoError(t, err)

	var got Identity
	var ok bool
	h := chain(captureIdentity(&got, &ok))
	req := httptest.NewRequest("GET", "/v1/threads", nil)
	req.Header.Set("X-API-Key", "frontend-key")
	req.Header.Set("X-User-Token", tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, ok)
	assert.Equal(t, "https://id.example|u1", got.TokenIdentifier)
	assert.Equal(t, "Ada", got.Name)

	bad, err := IssueToken("other-secret", "https://id.example", Identity{Subject: "u1"}, time.Minute)
	require.NoError(t, err)
	req.Header.Set("X-User-Token", bad)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIdentifyCaller_UnsignedFromBackendOnly(t *testing.T) {
	setupRuntime(t)
	var got Identity
	var ok bool
	h := chain(captureIdentity(&got, &ok))

	req := httptest.NewRequest("GET", "/v1/threads", nil)
	req.Header.Set("X-API-Key", "backend-key")
	req.Header.Set("X-User-ID", "svc-user")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, ok)
	assert.Equal(t, "svc-user", got.Subject)

	req = httptest.NewRequest("GET", "/v1/threads", nil)
	req.Header.Set("X-API-Key", "frontend-key")
	req.Header.Set("X-User-ID", "spoofed")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.False(t, ok)
}

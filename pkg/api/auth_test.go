package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlensai/agentlens/pkg/config"
	"github.com/agentlensai/agentlens/pkg/hashchain"
	"github.com/agentlensai/agentlens/pkg/models"
)

func newAuthServer(t *testing.T, rateLimit int) *Server {
	t.Helper()
	srv := newTestServer(t, func(cfg *config.Config, deps *Deps) {
		cfg.AuthDisabled = false
	})
	err := srv.deps.Provider.APIKeys().CreateAPIKey(context.Background(), &models.APIKey{
		ID:        "key-1",
		TenantID:  "t1",
		KeyHash:   hashchain.HashContent("raw-key-1"),
		RateLimit: rateLimit,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return srv
}

func authedRequest(srv *Server, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestAuthMissingKey(t *testing.T) {
	srv := newAuthServer(t, 0)
	rec := authedRequest(srv, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing API key")
}

func TestAuthInvalidKey(t *testing.T) {
	srv := newAuthServer(t, 0)
	rec := authedRequest(srv, "not-a-key")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthValidKeyBindsTenant(t *testing.T) {
	srv := newAuthServer(t, 0)

	rec := authedRequest(srv, "raw-key-1")
	require.Equal(t, http.StatusOK, rec.Code)

	key, err := srv.deps.Provider.APIKeys().GetAPIKeyByHash(context.Background(), hashchain.HashContent("raw-key-1"))
	require.NoError(t, err)
	assert.False(t, key.LastUsed.IsZero())
}

func TestAuthTokenQueryParam(t *testing.T) {
	srv := newAuthServer(t, 0)
	req := httptest.NewRequest(http.MethodGet, "/api/agents?token=raw-key-1", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRateLimit(t *testing.T) {
	srv := newAuthServer(t, 2)

	for i := 0; i < 2; i++ {
		rec := authedRequest(srv, "raw-key-1")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := authedRequest(srv, "raw-key-1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestAuthDisabledUsesTenantHeader(t *testing.T) {
	srv := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	req.Header.Set("X-Tenant-ID", "some-tenant")
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

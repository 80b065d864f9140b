package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"keywarden/internal/config"
)

func adminRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/admin/license/create", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAdminAuthMissingHeader(t *testing.T) {
	auth := NewAdminAuth(config.AdminConfig{Token: "s3cret"}, discardLogger())
	handler := auth.Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, adminRequest(""))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer realm=")

	var problem Problem
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "/errors/unauthorized", problem.Type)
}

func TestAdminAuthBadScheme(t *testing.T) {
	auth := NewAdminAuth(config.AdminConfig{Token: "s3cret"}, discardLogger())
	handler := auth.Handler(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/admin/license", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminAuthWrongToken(t *testing.T) {
	auth := NewAdminAuth(config.AdminConfig{Token: "s3cret"}, discardLogger())
	handler := auth.Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, adminRequest("guess"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminAuthCorrectToken(t *testing.T) {
	auth := NewAdminAuth(config.AdminConfig{Token: "s3cret"}, discardLogger())
	handler := auth.Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, adminRequest("s3cret"))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAuthBcryptMode(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	auth := NewAdminAuth(config.AdminConfig{TokenBcrypt: string(hash)}, discardLogger())
	handler := auth.Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, adminRequest("s3cret"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, adminRequest("wrong"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminAuthDisabled(t *testing.T) {
	auth := NewAdminAuth(config.AdminConfig{AuthDisabled: true}, discardLogger())
	handler := auth.Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, adminRequest(""))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAuthEmptyConfiguredToken(t *testing.T) {
	// Misconfiguration must fail closed, not open
	auth := NewAdminAuth(config.AdminConfig{}, discardLogger())
	handler := auth.Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, adminRequest(""))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuditLogPassesThrough(t *testing.T) {
	handler := AuditLog(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, adminRequest("any"))

	assert.Equal(t, http.StatusCreated, rec.Code)
}

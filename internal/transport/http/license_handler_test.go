package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apierrors "keywarden/internal/errors"
	"keywarden/internal/store"
	"keywarden/pkg/contracts/domain"
)

// MockLicenseService is a testify mock of services.LicenseService.
type MockLicenseService struct {
	mock.Mock
}

func (m *MockLicenseService) Create(ctx context.Context, tier, ownerEmail string, days int) (*domain.License, error) {
	args := m.Called(ctx, tier, ownerEmail, days)
	if lic := args.Get(0); lic != nil {
		return lic.(*domain.License), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLicenseService) Activate(ctx context.Context, key string, days int, ownerEmail string) (*domain.License, bool, error) {
	args := m.Called(ctx, key, days, ownerEmail)
	if lic := args.Get(0); lic != nil {
		return lic.(*domain.License), args.Bool(1), args.Error(2)
	}
	return nil, args.Bool(1), args.Error(2)
}

func (m *MockLicenseService) Renew(ctx context.Context, key string, days int) (*domain.License, error) {
	args := m.Called(ctx, key, days)
	if lic := args.Get(0); lic != nil {
		return lic.(*domain.License), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLicenseService) Deactivate(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockLicenseService) Unbind(ctx context.Context, key string) (*domain.License, error) {
	args := m.Called(ctx, key)
	if lic := args.Get(0); lic != nil {
		return lic.(*domain.License), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLicenseService) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockLicenseService) Validate(ctx context.Context, key, requesterIP string) (*domain.ValidationResult, error) {
	args := m.Called(ctx, key, requesterIP)
	if res := args.Get(0); res != nil {
		return res.(*domain.ValidationResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLicenseService) Info(ctx context.Context, key string) (*domain.LicenseView, error) {
	args := m.Called(ctx, key)
	if view := args.Get(0); view != nil {
		return view.(*domain.LicenseView), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLicenseService) Get(ctx context.Context, key string) (*domain.License, error) {
	args := m.Called(ctx, key)
	if lic := args.Get(0); lic != nil {
		return lic.(*domain.License), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLicenseService) List(ctx context.Context) ([]*domain.License, error) {
	args := m.Called(ctx)
	if list := args.Get(0); list != nil {
		return list.([]*domain.License), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLicenseService) Export(ctx context.Context, w io.Writer, format string) error {
	return m.Called(ctx, w, format).Error(0)
}

func newLicenseTestServer(t *testing.T) (chi.Router, *MockLicenseService) {
	t.Helper()
	svc := &MockLicenseService{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewLicenseHandler(svc, logger, apierrors.NewErrorHandler(logger, false))

	r := chi.NewRouter()
	r.Mount("/api/v1/license", handler.Routes())
	r.Mount("/api/v1/admin/licenses", handler.AdminRoutes())
	return r, svc
}

func doJSON(t *testing.T, router chi.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.9:44812"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func sampleLicense(key string) *domain.License {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	expires := now.AddDate(0, 0, 30)
	return &domain.License{
		ID:        "9f4e2aee-0000-4000-8000-000000000001",
		Key:       key,
		Tier:      domain.TierGuardian,
		CreatedAt: now,
		ExpiresAt: expires,
		Active:    true,
	}
}

func TestValidateReturnsDecision(t *testing.T) {
	router, svc := newLicenseTestServer(t)

	svc.On("Validate", mock.Anything, "G-0123456789ABCDEF01234567", "203.0.113.9").
		Return(&domain.ValidationResult{
			Valid:       false,
			Reason:      domain.ReasonExpired,
			Tier:        "G",
			RequesterIP: "203.0.113.9",
		}, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/license/validate",
		`{"license_key": "G-0123456789ABCDEF01234567"}`)

	require.Equal(t, http.StatusOK, rec.Code, "decisions are 200s, not errors")
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "expired", body["reason"])
}

func TestValidateUsesForwardedFor(t *testing.T) {
	router, svc := newLicenseTestServer(t)

	svc.On("Validate", mock.Anything, "G-0123456789ABCDEF01234567", "198.51.100.7").
		Return(&domain.ValidationResult{Valid: true}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/license/validate",
		strings.NewReader(`{"license_key": "G-0123456789ABCDEF01234567"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	req.RemoteAddr = "10.0.0.1:9999"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestValidateMissingKeyRejected(t *testing.T) {
	router, svc := newLicenseTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/license/validate", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Validate")
}

func TestValidateMalformedBodyRejected(t *testing.T) {
	router, svc := newLicenseTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/license/validate", `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Validate")
}

func TestInfoReturnsRedactedView(t *testing.T) {
	router, svc := newLicenseTestServer(t)

	lic := sampleLicense("G-0123456789ABCDEF01234567")
	view := lic.View()
	svc.On("Info", mock.Anything, "G-0123456789ABCDEF01234567").Return(&view, nil)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/license/G-0123456789ABCDEF01234567/info", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tier":"G"`)
	assert.NotContains(t, rec.Body.String(), "owner_email")
}

func TestInfoUnknownKeyIs404(t *testing.T) {
	router, svc := newLicenseTestServer(t)

	svc.On("Info", mock.Anything, "G-DEADBEEFDEADBEEFDEADBEEF").Return(nil, store.ErrNotFound)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/license/G-DEADBEEFDEADBEEFDEADBEEF/info", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(http.StatusNotFound), body["status"])
	assert.Equal(t, apierrors.TypeLicenseNotFound, body["type"])
}

func TestCreateIssuesLicense(t *testing.T) {
	router, svc := newLicenseTestServer(t)

	lic := sampleLicense("G-0123456789ABCDEF01234567")
	svc.On("Create", mock.Anything, "G", "ops@example.com", 90).Return(lic, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/admin/licenses",
		`{"tier": "G", "owner_email": "ops@example.com", "days": 90}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "G-0123456789ABCDEF01234567", body["license_key"])
}

func TestCreateRejectsUnknownTier(t *testing.T) {
	router, svc := newLicenseTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/admin/licenses", `{"tier": "X"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Create")
}

func TestActivateExistingKey(t *testing.T) {
	router, svc := newLicenseTestServer(t)

	lic := sampleLicense("G-0123456789ABCDEF01234567")
	svc.On("Activate", mock.Anything, "G-0123456789ABCDEF01234567", 0, "").Return(lic, false, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/admin/licenses/activate",
		`{"license_key": "G-0123456789ABCDEF01234567"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["created"])
}

func TestActivateProvisionsUnknownKey(t *testing.T) {
	router, svc := newLicenseTestServer(t)

	lic := sampleLicense("LEGACY-KEY-001")
	lic.Tier = domain.TierSentinel
	svc.On("Activate", mock.Anything, "LEGACY-KEY-001", 14, "").Return(lic, true, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/admin/licenses/activate",
		`{"license_key": "LEGACY-KEY-001", "days": 14}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["created"])
}

func TestRenewUnknownKeyIs404(t *testing.T) {
	router, svc := newLicenseTestServer(t)

	svc.On("Renew", mock.Anything, "G-DEADBEEFDEADBEEFDEADBEEF", 30).Return(nil, store.ErrNotFound)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/admin/licenses/renew",
		`{"license_key": "G-DEADBEEFDEADBEEFDEADBEEF", "days": 30}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeactivateAlways200(t *testing.T) {
	router, svc := newLicenseTestServer(t)

	svc.On("Deactivate", mock.Anything, "G-DEADBEEFDEADBEEFDEADBEEF").Return(nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/admin/licenses/deactivate",
		`{"license_key": "G-DEADBEEFDEADBEEFDEADBEEF"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "deactivated", body["status"])
}

func TestUnbindClearsBinding(t *testing.T) {
	router, svc := newLicenseTestServer(t)

	lic := sampleLicense("G-0123456789ABCDEF01234567")
	svc.On("Unbind", mock.Anything, "G-0123456789ABCDEF01234567").Return(lic, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/admin/licenses/unbind",
		`{"license_key": "G-0123456789ABCDEF01234567"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Empty(t, body["bound_ip"])
}

func TestUnbindUnknownKeyIs404(t *testing.T) {
	router, svc := newLicenseTestServer(t)

	svc.On("Unbind", mock.Anything, "G-DEADBEEFDEADBEEFDEADBEEF").Return(nil, store.ErrNotFound)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/admin/licenses/unbind",
		`{"license_key": "G-DEADBEEFDEADBEEFDEADBEEF"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListLicenses(t *testing.T) {
	router, svc := newLicenseTestServer(t)

	licenses := []*domain.License{
		sampleLicense("G-0123456789ABCDEF01234567"),
		sampleLicense("S-AAAAAAAAAAAAAAAAAAAAAAAA"),
	}
	svc.On("List", mock.Anything).Return(licenses, nil)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/admin/licenses", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(2), body["count"])
}

func TestGetLicense(t *testing.T) {
	router, svc := newLicenseTestServer(t)

	lic := sampleLicense("G-0123456789ABCDEF01234567")
	lic.OwnerEmail = "ops@example.com"
	svc.On("Get", mock.Anything, "G-0123456789ABCDEF01234567").Return(lic, nil)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/admin/licenses/G-0123456789ABCDEF01234567", "")

	require.Equal(t, http.StatusOK, rec.Code)
	// Admin view keeps the owner contact details.
	assert.Contains(t, rec.Body.String(), "ops@example.com")
}

func TestDeleteLicense(t *testing.T) {
	router, svc := newLicenseTestServer(t)

	svc.On("Delete", mock.Anything, "G-0123456789ABCDEF01234567").Return(nil)

	rec := doJSON(t, router, http.MethodDelete, "/api/v1/admin/licenses/G-0123456789ABCDEF01234567", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestDeleteUnknownKeyIs404(t *testing.T) {
	router, svc := newLicenseTestServer(t)

	svc.On("Delete", mock.Anything, "G-DEADBEEFDEADBEEFDEADBEEF").Return(store.ErrNotFound)

	rec := doJSON(t, router, http.MethodDelete, "/api/v1/admin/licenses/G-DEADBEEFDEADBEEFDEADBEEF", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportStreamsReport(t *testing.T) {
	router, svc := newLicenseTestServer(t)

	svc.On("Export", mock.Anything, mock.Anything, "csv").
		Run(func(args mock.Arguments) {
			w := args.Get(1).(io.Writer)
			_, err := w.Write([]byte("License Key,Tier\n"))
			require.NoError(t, err)
		}).
		Return(nil)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/admin/licenses/export?format=csv", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".csv")
	assert.Contains(t, rec.Body.String(), "License Key")
}

func TestExportDefaultsToCSV(t *testing.T) {
	router, svc := newLicenseTestServer(t)

	svc.On("Export", mock.Anything, mock.Anything, "csv").Return(nil)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/admin/licenses/export", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestExportUnknownFormatRejected(t *testing.T) {
	router, svc := newLicenseTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/admin/licenses/export?format=pdf", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Export")
}

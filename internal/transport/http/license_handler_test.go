package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xtcli/internal/license"
	"xtcli/internal/shared/testutil"
)

type handlerFixture struct {
	handler *LicenseHandler
	router  http.Handler
	issuer  *testutil.Issuer

	mu               sync.Mutex
	validateResponse license.ValidateResponse
}

// respondWith sets the verdict the fake license server returns
func (f *handlerFixture) respondWith(response license.ValidateResponse) {
	f.mu.Lock()
	f.validateResponse = response
	f.mu.Unlock()
}

func newHandlerFixture(t *testing.T, limiter *license.AttemptLimiter) *handlerFixture {
	t.Helper()

	issuer := testutil.NewIssuer(t)
	verifier, err := license.NewVerifier(issuer.PublicKeyPEM(t))
	require.NoError(t, err)

	fixture := &handlerFixture{
		issuer:           issuer,
		validateResponse: license.ValidateResponse{Valid: true},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/api/licenses/validate", func(w http.ResponseWriter, r *http.Request) {
		fixture.mu.Lock()
		response := fixture.validateResponse
		fixture.mu.Unlock()
		json.NewEncoder(w).Encode(response)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	validator := license.NewValidator(license.Options{
		Client:        license.NewClient(server.URL, time.Second, time.Second),
		Store:         license.NewFileStore(filepath.Join(t.TempDir(), "license.dat")),
		Verifier:      verifier,
		Env:           testutil.DefaultEnvironment(),
		RequireOnline: true,
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fixture.handler = NewLicenseHandler(validator, limiter, nil, logger)
	fixture.router = fixture.handler.Routes()
	return fixture
}

func (f *handlerFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "127.0.0.1:55000"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	f.router.ServeHTTP(recorder, req)
	return recorder
}

func activationBody(t *testing.T, key string) string {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"licenseKey": key})
	require.NoError(t, err)
	return string(raw)
}

func TestGetStatusStartsPending(t *testing.T) {
	fixture := newHandlerFixture(t, nil)

	recorder := fixture.do(t, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusOK, recorder.Code)

	var status license.ValidationStatus
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &status))
	assert.Equal(t, license.StatusPending, status.Status)
	assert.False(t, status.IsValid)
}

func TestTestConnection(t *testing.T) {
	fixture := newHandlerFixture(t, nil)

	recorder := fixture.do(t, http.MethodGet, "/connection", "")
	assert.Equal(t, http.StatusOK, recorder.Code)

	var status license.ConnectionStatus
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &status))
	assert.True(t, status.Connected)
}

func TestActivateHappyPath(t *testing.T) {
	fixture := newHandlerFixture(t, nil)
	key := fixture.issuer.StandardKey(t, "A1B2C3D4")

	recorder := fixture.do(t, http.MethodPost, "/activate", activationBody(t, key))
	assert.Equal(t, http.StatusOK, recorder.Code)

	var resp ActivationResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "License activated successfully", resp.Message)
	assert.Equal(t, license.StatusValid, resp.Status.Status)
}

func TestActivateRejectsMissingKey(t *testing.T) {
	fixture := newHandlerFixture(t, nil)

	recorder := fixture.do(t, http.MethodPost, "/activate", `{}`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestActivateRejectsMalformedKey(t *testing.T) {
	fixture := newHandlerFixture(t, nil)

	recorder := fixture.do(t, http.MethodPost, "/activate",
		activationBody(t, "XT-1M-A1B2C3D4")) // 3 segments
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &problem))
	assert.Equal(t, "/errors/invalid-license-format", problem["type"])
}

func TestActivateRateLimited(t *testing.T) {
	limiter := license.NewAttemptLimiter(0.0, 1)
	defer limiter.Stop()
	fixture := newHandlerFixture(t, limiter)
	key := fixture.issuer.StandardKey(t, "A1B2C3D4")

	first := fixture.do(t, http.MethodPost, "/activate", activationBody(t, key))
	assert.Equal(t, http.StatusOK, first.Code)

	second := fixture.do(t, http.MethodPost, "/activate", activationBody(t, key))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &problem))
	assert.Equal(t, "/errors/rate-limited", problem["type"])
}

func TestValidateEndpoint(t *testing.T) {
	fixture := newHandlerFixture(t, nil)
	key := fixture.issuer.StandardKey(t, "A1B2C3D4")

	recorder := fixture.do(t, http.MethodPost, "/validate", activationBody(t, key))
	assert.Equal(t, http.StatusOK, recorder.Code)

	var resp ActivationResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "License is valid", resp.Message)
}

func TestActivateRejectionReasonMapsToUserMessage(t *testing.T) {
	fixture := newHandlerFixture(t, nil)
	key := fixture.issuer.StandardKey(t, "A1B2C3D4")

	tests := []struct {
		name   string
		reason string
		want   string
	}{
		{
			"expired license gets the renewal message",
			"License expired",
			"This license has expired. Please contact support for renewal.",
		},
		{
			"device limit gets the one-device message",
			"Device limit exceeded",
			"This license is already activated on another device. Each license can only be used on one device.",
		},
		{
			"unknown reason passes through",
			"License suspended pending review",
			"License validation failed: License suspended pending review",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fixture.respondWith(license.ValidateResponse{Valid: false, Reason: tt.reason})

			recorder := fixture.do(t, http.MethodPost, "/activate", activationBody(t, key))
			assert.Equal(t, http.StatusForbidden, recorder.Code)

			var resp ActivationResponse
			require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tt.want, resp.Message)
		})
	}
}

func TestClearLicense(t *testing.T) {
	fixture := newHandlerFixture(t, nil)
	key := fixture.issuer.StandardKey(t, "A1B2C3D4")

	recorder := fixture.do(t, http.MethodPost, "/activate", activationBody(t, key))
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = fixture.do(t, http.MethodDelete, "/", "")
	assert.Equal(t, http.StatusOK, recorder.Code)

	var status license.ValidationStatus
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &status))
	assert.Equal(t, license.StatusNone, status.Status)
	assert.False(t, status.HasLicense)
}

func TestTraceMiddlewareSetsHeader(t *testing.T) {
	handler := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, recorder.Header().Get("X-Trace-Id"))
}

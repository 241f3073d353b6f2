package license

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	licenseErrors "xtcli/internal/errors"
)

func TestClientHealth(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		connected bool
	}{
		{"healthy server", http.StatusOK, true},
		{"server error", http.StatusInternalServerError, false},
		{"not found", http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/health", r.URL.Path)
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
			}))
			defer server.Close()

			client := NewClient(server.URL, time.Second, time.Second)
			status := client.Health(context.Background())
			assert.Equal(t, tt.connected, status.Connected)
			if !tt.connected {
				assert.NotEmpty(t, status.Error)
			}
		})
	}
}

func TestClientHealthUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(server.URL, time.Second, time.Second)
	status := client.Health(context.Background())
	assert.False(t, status.Connected)
	assert.NotEmpty(t, status.Error)
}

func TestClientHealthTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(server.URL, 50*time.Millisecond, time.Second)
	start := time.Now()
	status := client.Health(context.Background())
	assert.False(t, status.Connected)
	assert.Less(t, time.Since(start), 400*time.Millisecond, "probe must abort at the timeout")
}

func TestClientValidate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/licenses/validate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ValidateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "XT-1M-A1B2C3D4-data-sig", req.LicenseKey)
		assert.Equal(t, "device-1", req.DeviceID)
		assert.NotEmpty(t, req.DeviceInfo.Timestamp)

		json.NewEncoder(w).Encode(ValidateResponse{
			Valid:           true,
			IsNewActivation: true,
			LicenseInfo:     json.RawMessage(`{"expires":"2099-01-01T00:00:00Z"}`),
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, time.Second)
	resp, err := client.Validate(context.Background(), ValidateRequest{
		LicenseKey: "XT-1M-A1B2C3D4-data-sig",
		DeviceID:   "device-1",
		DeviceInfo: DeviceInfo{Timestamp: time.Now().UTC().Format(time.RFC3339)},
	})
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.True(t, resp.IsNewActivation)
	assert.NotEmpty(t, resp.LicenseInfo)
}

func TestClientValidateRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ValidateResponse{Valid: false, Reason: "License expired"})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, time.Second)
	resp, err := client.Validate(context.Background(), ValidateRequest{})
	require.NoError(t, err, "a clean valid:false verdict is not a transport error")
	assert.False(t, resp.Valid)
	assert.Equal(t, "License expired", resp.Reason)
}

func TestClientValidateHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, time.Second)
	_, err := client.Validate(context.Background(), ValidateRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestClientValidateUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(server.URL, time.Second, time.Second)
	_, err := client.Validate(context.Background(), ValidateRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, licenseErrors.ErrNoConnection))
}

func TestClientValidateTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, 50*time.Millisecond)
	_, err := client.Validate(context.Background(), ValidateRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, licenseErrors.ErrNoConnection))
}

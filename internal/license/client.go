package license

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	licenseErrors "xtcli/internal/errors"
	"xtcli/internal/infrastructure"
)

// DeviceInfo accompanies validation requests so the server can record
// which installation a license binds to.
type DeviceInfo struct {
	UserAgent        string `json:"userAgent"`
	Platform         string `json:"platform"`
	ScreenResolution string `json:"screenResolution"`
	Timestamp        string `json:"timestamp"`
}

// ValidateRequest is the license server validation request body
type ValidateRequest struct {
	LicenseKey string     `json:"licenseKey"`
	DeviceID   string     `json:"deviceId"`
	DeviceInfo DeviceInfo `json:"deviceInfo"`
}

// ValidateResponse is the license server validation response body.
// The server verdict is authoritative.
type ValidateResponse struct {
	Valid           bool            `json:"valid"`
	Reason          string          `json:"reason,omitempty"`
	IsNewActivation bool            `json:"isNewActivation,omitempty"`
	LicenseInfo     json.RawMessage `json:"licenseInfo,omitempty"`
}

// ConnectionStatus is the result of a health probe
type ConnectionStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// Client talks to the remote license server
type Client struct {
	baseURL         string
	httpClient      *http.Client
	healthTimeout   time.Duration
	validateTimeout time.Duration
}

// NewClient creates a license server client. Timeouts are enforced via
// per-call context deadlines so a timed-out call aborts the in-flight
// request instead of leaking it.
func NewClient(baseURL string, healthTimeout, validateTimeout time.Duration) *Client {
	return &Client{
		baseURL:         baseURL,
		httpClient:      &http.Client{},
		healthTimeout:   healthTimeout,
		validateTimeout: validateTimeout,
	}
}

// Health probes GET /health. Any non-200 or transport failure means
// not connected; this is a precondition signal, never a validation
// verdict.
func (c *Client) Health(ctx context.Context) ConnectionStatus {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return ConnectionStatus{Connected: false, Error: err.Error()}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		infrastructure.LoggerWithContext(ctx).DebugContext(ctx, "health probe failed",
			slog.String("error", err.Error()))
		return ConnectionStatus{Connected: false, Error: "no internet connection or server unreachable"}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return ConnectionStatus{Connected: false, Error: fmt.Sprintf("server error: %d", resp.StatusCode)}
	}
	return ConnectionStatus{Connected: true}
}

// Validate posts the license key and device identity to the server.
// Transport failures and timeouts surface as ConnectivityError; a
// reachable server answering non-2xx surfaces as an error carrying the
// HTTP status. A clean valid:false response is NOT an error here.
func (c *Client) Validate(ctx context.Context, request ValidateRequest) (*ValidateResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.validateTimeout)
	defer cancel()

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal validate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/licenses/validate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build validate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, licenseErrors.NewConnectivityError(fmt.Errorf("connection timeout"))
		}
		return nil, licenseErrors.NewConnectivityError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("server validation failed: HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var result ValidateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parse validate response: %w", err)
	}
	return &result, nil
}

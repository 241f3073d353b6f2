// Package errors defines the license error taxonomy shared by the
// validator core and the HTTP transport.
//
// Four kinds of failure are distinguished because they demand different
// handling: FormatError and CryptoError are local and recoverable (the
// user retypes the key), ConnectivityError means validity could not be
// determined at all, and ServerRejection is an authoritative negative
// verdict from the license server.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// Sentinel errors for license operations
var (
	ErrInvalidLicenseFormat = errors.New("invalid license key format")
	ErrCryptoFailure        = errors.New("license crypto failure")
	ErrNoConnection         = errors.New("license server unreachable")
	ErrLicenseRejected      = errors.New("license rejected by server")
	ErrLicenseExpired       = errors.New("license expired")
	ErrLicenseNotActivated  = errors.New("license not activated")
	ErrRateLimited          = errors.New("rate limited")
)

// FormatError reports a malformed license string: wrong segment count,
// bad marker, corrupt base64/JSON payload, or an ID mismatch. Always
// local, never requires network.
type FormatError struct {
	Detail string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid license format: %s", e.Detail)
}

func (e *FormatError) Unwrap() error { return ErrInvalidLicenseFormat }

// NewFormatError creates a FormatError with the given detail
func NewFormatError(detail string) *FormatError {
	return &FormatError{Detail: detail}
}

// CryptoError reports a public key import failure or a signature-decode
// failure. This is a local configuration/tamper problem, distinct from
// "this particular license is invalid".
type CryptoError struct {
	Op     string
	Detail string
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("crypto error during %s: %s", e.Op, e.Detail)
}

func (e *CryptoError) Unwrap() error { return ErrCryptoFailure }

// NewCryptoError creates a CryptoError for the given operation
func NewCryptoError(op, detail string) *CryptoError {
	return &CryptoError{Op: op, Detail: detail}
}

// ConnectivityError reports that the health probe or the validation
// call could not reach the license server. It represents inability to
// determine validity, not a negative determination, and is the dominant
// expected failure mode given the no-offline-fallback policy.
type ConnectivityError struct {
	Cause error
}

func (e *ConnectivityError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("internet connection required for license validation, please check your connection and try again: %v", e.Cause)
	}
	return "internet connection required for license validation, please check your connection and try again"
}

func (e *ConnectivityError) Unwrap() error { return ErrNoConnection }

// NewConnectivityError wraps a transport-level failure
func NewConnectivityError(cause error) *ConnectivityError {
	return &ConnectivityError{Cause: cause}
}

// ServerRejection reports that the server was reachable and responded
// with valid=false. Terminal for the submitted key.
type ServerRejection struct {
	Reason string
}

func (e *ServerRejection) Error() string {
	return fmt.Sprintf("license rejected by server: %s", e.Reason)
}

func (e *ServerRejection) Unwrap() error { return ErrLicenseRejected }

// NewServerRejection creates a ServerRejection carrying the server reason
func NewServerRejection(reason string) *ServerRejection {
	return &ServerRejection{Reason: reason}
}

// Known server rejection reasons mapped to user-facing messages.
// Unknown reasons fall back to a generic message.
var rejectionMessages = map[string]string{
	"License expired":                        "This license has expired. Please contact support for renewal.",
	"License not found":                      "Invalid license key. Please check your license and try again.",
	"License already used on maximum devices": "This license is already activated on another device. Each license can only be used on one device.",
	"Device limit exceeded":                  "This license is already activated on another device. Each license can only be used on one device.",
	"License revoked":                        "This license has been revoked. Please contact support.",
}

// UserMessage maps an error to a specific, actionable user-facing
// message. Never returns a raw stack trace or transport detail.
func UserMessage(err error) string {
	var rejection *ServerRejection
	if errors.As(err, &rejection) {
		if msg, ok := rejectionMessages[rejection.Reason]; ok {
			return msg
		}
		return fmt.Sprintf("License validation failed: %s", rejection.Reason)
	}
	var format *FormatError
	if errors.As(err, &format) {
		return "Invalid license format. Please check the key and try again."
	}
	var crypto *CryptoError
	if errors.As(err, &crypto) {
		return "License verification is misconfigured on this installation. Please reinstall or contact support."
	}
	var conn *ConnectivityError
	if errors.As(err, &conn) {
		return "Internet connection required for license validation. Please check your connection and try again."
	}
	return "License validation failed. Please try again."
}

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON includes extension members alongside the standard fields
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{})
	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	for k, v := range pd.Extensions {
		data[k] = v
	}
	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension member to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// ProblemFromError maps a license error to an RFC 7807 response with
// the appropriate HTTP status and user-facing detail.
func ProblemFromError(err error, traceID string) *ProblemDetails {
	instance := ""
	if traceID != "" {
		instance = fmt.Sprintf("/api/license#%s", traceID)
	}

	switch {
	case errors.Is(err, ErrInvalidLicenseFormat):
		return NewProblemDetails(http.StatusBadRequest,
			"/errors/invalid-license-format", "Invalid License Format",
			UserMessage(err), instance)
	case errors.Is(err, ErrCryptoFailure):
		return NewProblemDetails(http.StatusInternalServerError,
			"/errors/crypto-failure", "License Verification Failure",
			UserMessage(err), instance)
	case errors.Is(err, ErrNoConnection):
		return NewProblemDetails(http.StatusServiceUnavailable,
			"/errors/license-server-unreachable", "License Server Unreachable",
			UserMessage(err), instance)
	case errors.Is(err, ErrLicenseRejected):
		pd := NewProblemDetails(http.StatusForbidden,
			"/errors/license-rejected", "License Rejected",
			UserMessage(err), instance)
		var rejection *ServerRejection
		if errors.As(err, &rejection) {
			pd.WithExtension("reason", rejection.Reason)
		}
		return pd
	case errors.Is(err, ErrLicenseNotActivated):
		return NewProblemDetails(http.StatusPreconditionRequired,
			"/errors/license-not-activated", "License Not Activated",
			"No license has been activated. Please activate a license to continue.", instance)
	case errors.Is(err, ErrRateLimited):
		return NewProblemDetails(http.StatusTooManyRequests,
			"/errors/rate-limited", "Too Many Requests",
			"Too many activation attempts. Please try again later.", instance)
	default:
		return NewProblemDetails(http.StatusInternalServerError,
			"/errors/internal", "Internal Error",
			"An unexpected error occurred. Please try again later.", instance)
	}
}

package license

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	licenseErrors "xtcli/internal/errors"
	"xtcli/internal/infrastructure"
)

// Status is the validator's lifecycle state
type Status string

const (
	StatusPending Status = "pending"
	StatusValid   Status = "valid"
	StatusInvalid Status = "invalid"
	StatusNone    Status = "none"
	StatusError   Status = "error"
)

// ValidationStatus is an immutable snapshot of the validator state,
// queryable at any time and pushed to collaborators on transitions.
type ValidationStatus struct {
	Status        Status          `json:"status"`
	IsValid       bool            `json:"isValid"`
	HasLicense    bool            `json:"hasLicense"`
	LicenseInfo   json.RawMessage `json:"licenseInfo,omitempty"`
	RemainingTime string          `json:"remainingTime,omitempty"`
	IsTrial       bool            `json:"isTrial"`
}

// Notifier receives status snapshots on every state transition.
// The WebSocket hub implements this for overlay UI collaborators.
type Notifier interface {
	NotifyStatus(status ValidationStatus)
}

// Options configures a Validator
type Options struct {
	Client   *Client
	Store    Store
	Verifier *Verifier
	// Env supplies fingerprint components; defaults to HostEnvironment
	// with a persisted installation id.
	Env Environment
	// RequireOnline is the no-offline-trust policy. True in production:
	// a license can never be newly validated without the server.
	RequireOnline bool
	Metrics       *Metrics
	Notifier      Notifier
	// Now is the clock, injectable for tests
	Now func() time.Time
}

// Validator orchestrates codec, signature, expiry and fingerprint
// checks around the authoritative server round-trip, and owns the
// persisted license record.
type Validator struct {
	client        *Client
	store         Store
	verifier      *Verifier
	env           Environment
	fingerprinter *Fingerprinter
	requireOnline bool
	metrics       *Metrics
	notifier      Notifier
	now           func() time.Time

	group singleflight.Group

	// mu guards the state fields and every storage read-modify-write
	mu          sync.Mutex
	status      Status
	currentKey  string
	record      *KeyRecord
	payload     *Payload
	licenseInfo json.RawMessage
	rejection   string
	deviceID    string
	initialized bool
}

// NewValidator constructs a validator in the pending state
func NewValidator(opts Options) *Validator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Validator{
		client:        opts.Client,
		store:         opts.Store,
		verifier:      opts.Verifier,
		env:           opts.Env,
		requireOnline: opts.RequireOnline,
		metrics:       opts.Metrics,
		notifier:      opts.Notifier,
		now:           now,
		status:        StatusPending,
	}
}

// Initialize computes the device fingerprint and revalidates any
// stored license. Failures never propagate: connectivity problems
// degrade to the error state (the stored key is kept), a clean server
// rejection clears the stored key and sets invalid. Runs once; repeat
// calls return the current snapshot without another server round-trip.
func (v *Validator) Initialize(ctx context.Context) ValidationStatus {
	v.mu.Lock()
	if v.initialized {
		v.mu.Unlock()
		return v.Status()
	}
	v.mu.Unlock()

	logger := infrastructure.LoggerWithContext(ctx)

	if _, err := v.ensureDeviceID(ctx); err != nil {
		logger.ErrorContext(ctx, "device fingerprint failed", slog.String("error", err.Error()))
		v.setStatus(StatusError)
		return v.Status()
	}

	stored, err := v.store.Get(ctx, StoreKeyLicense)
	if err != nil {
		logger.ErrorContext(ctx, "license store read failed", slog.String("error", err.Error()))
		v.setStatus(StatusError)
		return v.Status()
	}

	key, ok := stored[StoreKeyLicense]
	if !ok || key == "" {
		logger.InfoContext(ctx, "no stored license found")
		v.setStatus(StatusNone)
		v.markInitialized()
		return v.Status()
	}

	logger.InfoContext(ctx, "validating stored license with server")
	valid, err := v.validate(ctx, key, false)
	switch {
	case err != nil:
		// Unable to determine validity; keep the stored key so a later
		// revalidation can succeed.
		logger.WarnContext(ctx, "stored license validation errored",
			slog.String("error", err.Error()))
		v.setStatus(StatusError)
	case !valid:
		logger.InfoContext(ctx, "stored license is invalid, removing")
		if err := v.clearStoredLicense(ctx); err != nil {
			logger.ErrorContext(ctx, "failed to clear stored license",
				slog.String("error", err.Error()))
		}
		v.setStatus(StatusInvalid)
	}
	v.markInitialized()
	return v.Status()
}

// TestConnection performs a bounded-timeout health probe. Absence of
// connectivity is a precondition failure for validation, not a verdict.
func (v *Validator) TestConnection(ctx context.Context) ConnectionStatus {
	status := v.client.Health(ctx)
	v.metrics.RecordConnectivity(ctx, status.Connected)
	return status
}

// ValidateLicense validates a key against the server. The server
// verdict is authoritative: valid:false returns (false, nil) and is
// terminal for that key; transport failures return a ConnectivityError
// without mutating storage. Local parsing and signature verification
// run first as a format guard only.
func (v *Validator) ValidateLicense(ctx context.Context, key string) (bool, error) {
	return v.validate(ctx, key, false)
}

// ActivateLicense validates the key and, on success, persists it as
// the active license. This is the only path that may replace a
// previously stored key. Idempotent for an already-active valid key.
func (v *Validator) ActivateLicense(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, licenseErrors.NewFormatError("license key is required for activation")
	}
	valid, err := v.validate(ctx, key, true)
	v.metrics.RecordActivation(ctx, valid && err == nil)
	return valid, err
}

// ClearLicense removes the persisted key and cached license info and
// resets the state to none. Idempotent.
func (v *Validator) ClearLicense(ctx context.Context) error {
	if err := v.clearStoredLicense(ctx); err != nil {
		return err
	}
	v.setRejection("")
	v.setStatus(StatusNone)
	infrastructure.LoggerWithContext(ctx).InfoContext(ctx, "license cleared")
	return nil
}

// Status returns an immutable snapshot of the current validator state
func (v *Validator) Status() ValidationStatus {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

// DeviceID returns the computed device fingerprint, or "" before
// Initialize has run.
func (v *Validator) DeviceID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.deviceID
}

func (v *Validator) validate(ctx context.Context, key string, activation bool) (bool, error) {
	ctx = infrastructure.EnsureTraceID(ctx)
	logger := infrastructure.LoggerWithContext(ctx)
	start := v.now()

	deviceID, err := v.ensureDeviceID(ctx)
	if err != nil {
		v.setStatus(StatusError)
		return false, fmt.Errorf("device fingerprint failed: %w", err)
	}

	v.setStatus(StatusPending)
	v.setRejection("")

	record, payload, err := v.preflight(ctx, key)
	if err != nil {
		v.setStatus(StatusInvalid)
		v.metrics.RecordValidation(ctx, start, "format_error")
		return false, err
	}

	// Connectivity strictly precedes the validation request; there is
	// no speculative parallel dispatch.
	connection := v.TestConnection(ctx)
	if !connection.Connected {
		if v.requireOnline {
			v.setStatus(StatusError)
			v.metrics.RecordValidation(ctx, start, "connectivity_error")
			return false, licenseErrors.NewConnectivityError(fmt.Errorf("%s", connection.Error))
		}
		// Offline verdicts are a non-default deployment policy: the
		// pre-flight already checked format and signature, so expiry
		// decides. Nothing is persisted from an offline verdict.
		verdict := payload != nil && !IsExpired(payload, v.now())
		logger.WarnContext(ctx, "offline validation fallback used",
			slog.Bool("verdict", verdict))
		if verdict {
			v.adopt(key, record, payload, nil)
			v.setStatus(StatusValid)
		} else {
			v.setStatus(StatusInvalid)
		}
		v.metrics.RecordValidation(ctx, start, "offline")
		return verdict, nil
	}

	// Identical concurrent validations of the same key collapse into a
	// single server round-trip.
	result, err, _ := v.group.Do(key, func() (interface{}, error) {
		return v.client.Validate(ctx, ValidateRequest{
			LicenseKey: key,
			DeviceID:   deviceID,
			DeviceInfo: v.deviceInfo(ctx),
		})
	})
	if err != nil {
		v.setStatus(StatusError)
		v.metrics.RecordValidation(ctx, start, "server_error")
		return false, err
	}
	response := result.(*ValidateResponse)

	if !response.Valid {
		logger.InfoContext(ctx, "server rejected license",
			slog.String("reason", response.Reason),
			slog.String("license_id", record.LicenseID))
		// Terminal for this key: never leave a false-valid local state.
		if err := v.clearStoredLicense(ctx); err != nil {
			logger.ErrorContext(ctx, "failed to clear rejected license",
				slog.String("error", err.Error()))
		}
		v.setRejection(response.Reason)
		v.setStatus(StatusInvalid)
		v.metrics.RecordValidation(ctx, start, "rejected")
		return false, nil
	}

	if err := v.persistValid(ctx, key, activation); err != nil {
		logger.ErrorContext(ctx, "failed to persist validated license",
			slog.String("error", err.Error()))
		v.setStatus(StatusError)
		return false, err
	}

	v.adopt(key, record, payload, response.LicenseInfo)
	v.setStatus(StatusValid)
	v.metrics.RecordValidation(ctx, start, "valid")
	logger.InfoContext(ctx, "license validated by server",
		slog.String("license_id", record.LicenseID),
		slog.Bool("new_activation", response.IsNewActivation),
		slog.Bool("activation", activation))
	return true, nil
}

// preflight parses the key, decodes the payload, cross-checks the
// embedded id against the wire id and verifies the signature. Purely a
// local format guard; it can reject a key but never approve one.
func (v *Validator) preflight(ctx context.Context, key string) (*KeyRecord, *Payload, error) {
	logger := infrastructure.LoggerWithContext(ctx)

	record, err := ParseKey(key)
	if err != nil {
		return nil, nil, err
	}

	if record.IsLegacy {
		valid, err := v.verifier.VerifyLegacy(record.Duration, record.LicenseID, record.Signature)
		if err != nil {
			return nil, nil, err
		}
		if !valid {
			return nil, nil, licenseErrors.NewFormatError("signature verification failed")
		}
		// No embedded payload: expiry is unknown until the server says.
		return record, nil, nil
	}

	payload, canonical, err := DecodePayload(record.EncodedData)
	if err != nil {
		return nil, nil, err
	}

	// The signature is still computed on an id mismatch so tampering
	// attempts show up in the audit log, but a mismatch is never
	// passable regardless of signature validity.
	if payload.ID != record.LicenseID {
		if sigValid, sigErr := v.verifier.Verify(canonical, record.Signature); sigErr == nil {
			logger.WarnContext(ctx, "license id mismatch",
				slog.String("wire_id", record.LicenseID),
				slog.String("payload_id", payload.ID),
				slog.Bool("signature_valid", sigValid))
		}
		return nil, nil, licenseErrors.NewFormatError("license id mismatch")
	}

	valid, err := v.verifier.Verify(canonical, record.Signature)
	if err != nil {
		return nil, nil, err
	}
	if !valid {
		return nil, nil, licenseErrors.NewFormatError("signature verification failed")
	}

	return record, payload, nil
}

// ensureDeviceID mints the installation id on first use and computes
// the device fingerprint.
func (v *Validator) ensureDeviceID(ctx context.Context) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.deviceID != "" {
		return v.deviceID, nil
	}

	env := v.env
	if env == nil {
		installID, err := v.installIDLocked(ctx)
		if err != nil {
			return "", err
		}
		env = &HostEnvironment{InstallID: installID}
		v.env = env
	}
	if v.fingerprinter == nil {
		v.fingerprinter = NewFingerprinter(env)
	}

	start := v.now()
	fingerprint, err := v.fingerprinter.Compute(ctx)
	if err != nil {
		return "", err
	}
	if v.metrics != nil {
		v.metrics.FingerprintDuration.Record(ctx, time.Since(start).Seconds())
	}

	v.deviceID = fingerprint
	return fingerprint, nil
}

// installIDLocked reads or mints the persisted installation id.
// Caller holds v.mu.
func (v *Validator) installIDLocked(ctx context.Context) (string, error) {
	stored, err := v.store.Get(ctx, StoreKeyInstallID)
	if err != nil {
		return "", fmt.Errorf("read install id: %w", err)
	}
	if id, ok := stored[StoreKeyInstallID]; ok && id != "" {
		return id, nil
	}

	id := uuid.New().String()
	if err := v.store.Set(ctx, map[string]string{StoreKeyInstallID: id}); err != nil {
		return "", fmt.Errorf("persist install id: %w", err)
	}
	return id, nil
}

// persistValid writes the validated key and the validation timestamp.
// Plain validation never swaps an existing stored key for a different
// one; only activation may.
func (v *Validator) persistValid(ctx context.Context, key string, activation bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	stored, err := v.store.Get(ctx, StoreKeyLicense)
	if err != nil {
		return err
	}
	existing := stored[StoreKeyLicense]

	values := map[string]string{
		StoreKeyLastValidation: v.now().UTC().Format(time.RFC3339),
	}
	if activation || existing == "" || existing == key {
		values[StoreKeyLicense] = key
	}
	return v.store.Set(ctx, values)
}

func (v *Validator) clearStoredLicense(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.store.Delete(ctx, StoreKeyLicense, StoreKeyLastValidation); err != nil {
		return fmt.Errorf("clear stored license: %w", err)
	}
	v.currentKey = ""
	v.record = nil
	v.payload = nil
	v.licenseInfo = nil
	return nil
}

// RejectionReason returns the server's reason for the most recent
// rejection verdict, or "" when the last verdict was not a rejection.
// The transport maps it to a user-facing message.
func (v *Validator) RejectionReason() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rejection
}

func (v *Validator) setRejection(reason string) {
	v.mu.Lock()
	v.rejection = reason
	v.mu.Unlock()
}

func (v *Validator) adopt(key string, record *KeyRecord, payload *Payload, info json.RawMessage) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.currentKey = key
	v.record = record
	v.payload = payload
	v.licenseInfo = info
}

func (v *Validator) deviceInfo(ctx context.Context) DeviceInfo {
	components := map[string]any{}
	if v.env != nil {
		if c, err := v.env.Components(ctx); err == nil {
			components = c
		}
	}
	str := func(key string) string {
		if value, ok := components[key].(string); ok {
			return value
		}
		return "unknown"
	}
	return DeviceInfo{
		UserAgent:        str("userAgent"),
		Platform:         str("platform"),
		ScreenResolution: str("screenResolution"),
		Timestamp:        v.now().UTC().Format(time.RFC3339),
	}
}

func (v *Validator) setStatus(status Status) {
	v.mu.Lock()
	v.status = status
	snapshot := v.snapshotLocked()
	notifier := v.notifier
	v.mu.Unlock()

	if notifier != nil {
		notifier.NotifyStatus(snapshot)
	}
}

func (v *Validator) markInitialized() {
	v.mu.Lock()
	v.initialized = true
	v.mu.Unlock()
}

// snapshotLocked builds a status snapshot. Caller holds v.mu.
func (v *Validator) snapshotLocked() ValidationStatus {
	snapshot := ValidationStatus{
		Status:      v.status,
		IsValid:     v.status == StatusValid,
		HasLicense:  v.currentKey != "",
		LicenseInfo: v.licenseInfo,
	}
	if v.payload != nil {
		snapshot.RemainingTime = FormatRemaining(Remaining(v.payload, v.now()))
	}
	snapshot.IsTrial = Classify(v.record, v.payload) == KindTrial
	return snapshot
}

// IsFormatError reports whether err is a local format problem, letting
// callers offer a "retype the key" recovery path.
func IsFormatError(err error) bool {
	return errors.Is(err, licenseErrors.ErrInvalidLicenseFormat)
}

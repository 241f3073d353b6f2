package license

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"
)

// Environment supplies the attributes a device fingerprint is derived
// from. Injectable so tests can pin a fixed environment and so UI
// collaborators running next to a real browser can feed in richer
// attributes (screen resolution, real user agent).
type Environment interface {
	Components(ctx context.Context) (map[string]any, error)
}

// HostEnvironment derives fingerprint components from the local host.
// InstallID is the installation identifier minted on first run and
// persisted by the validator; it binds the fingerprint to one
// installation the way an extension id does in a browser.
type HostEnvironment struct {
	InstallID string
}

// Components gathers the environment attributes. Values are stable for
// a given host session; the fingerprint recomputes per validation and
// callers must not assume stability across host upgrades.
func (h *HostEnvironment) Components(ctx context.Context) (map[string]any, error) {
	resolution := os.Getenv("XT_SCREEN_RESOLUTION")
	if resolution == "" {
		resolution = "0x0"
	}

	zoneName, zoneOffset := time.Now().Zone()
	if tz := os.Getenv("TZ"); tz != "" {
		zoneName = tz
	}

	language := os.Getenv("LANG")
	if language == "" {
		language = "unknown"
	}

	return map[string]any{
		"colorDepth":       24,
		"extensionId":      h.InstallID,
		"language":         language,
		"platform":         runtime.GOOS,
		"screenResolution": resolution,
		"timezone":         zoneName,
		"timezoneOffset":   -zoneOffset / 60,
		"userAgent":        fmt.Sprintf("xtcli/1.0.0 (%s; %s)", runtime.GOOS, runtime.GOARCH),
	}, nil
}

// Fingerprinter computes the device fingerprint: SHA-256 hex over a
// canonical JSON serialization of the environment components with
// lexicographically sorted keys.
type Fingerprinter struct {
	env    Environment
	mu     sync.RWMutex
	cached string
}

// NewFingerprinter creates a fingerprinter over the given environment
func NewFingerprinter(env Environment) *Fingerprinter {
	return &Fingerprinter{env: env}
}

// Compute returns the lowercase hex SHA-256 fingerprint. Identical
// environment inputs always yield the same fingerprint. The value is
// cached for the process lifetime only, never persisted as
// authoritative.
func (f *Fingerprinter) Compute(ctx context.Context) (string, error) {
	f.mu.RLock()
	if f.cached != "" {
		cached := f.cached
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	components, err := f.env.Components(ctx)
	if err != nil {
		return "", fmt.Errorf("gather fingerprint components: %w", err)
	}

	// json.Marshal sorts map keys lexicographically, which is exactly
	// the canonical ordering the fingerprint contract requires.
	canonical, err := json.Marshal(components)
	if err != nil {
		return "", fmt.Errorf("canonicalize fingerprint components: %w", err)
	}

	digest := sha256.Sum256(canonical)
	fingerprint := hex.EncodeToString(digest[:])

	f.mu.Lock()
	f.cached = fingerprint
	f.mu.Unlock()

	return fingerprint, nil
}

// Reset drops the process-lifetime cache so the next Compute rereads
// the environment.
func (f *Fingerprinter) Reset() {
	f.mu.Lock()
	f.cached = ""
	f.mu.Unlock()
}

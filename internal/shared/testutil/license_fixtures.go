// Package testutil provides license fixtures for tests: a throwaway
// RSA issuer that mints signed license keys in the production wire
// format.
package testutil

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"
	"testing"
	"time"
)

// Issuer signs test license keys with a generated RSA key pair
type Issuer struct {
	Private *rsa.PrivateKey
}

// NewIssuer generates a 2048-bit RSA issuer
func NewIssuer(t *testing.T) *Issuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	return &Issuer{Private: key}
}

// PublicKeyPEM returns the issuer public key as SPKI PEM
func (i *Issuer) PublicKeyPEM(t *testing.T) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&i.Private.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// Sign produces a base64 RSASSA-PKCS1-v1_5/SHA-256 signature over data
func (i *Issuer) Sign(t *testing.T, data []byte) string {
	t.Helper()
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, i.Private, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}

// KeySpec describes a license key to mint
type KeySpec struct {
	LicenseID string
	Duration  string  // plan code for standard keys, hours token for trials
	Trial     bool
	Expires   time.Time
	Days      float64 // payload duration in days; 0 omits the field
	// PayloadID overrides the embedded id, for tampered-key fixtures
	PayloadID string
}

// IssueKey mints a signed 5- or 6-segment license key
func (i *Issuer) IssueKey(t *testing.T, spec KeySpec) string {
	t.Helper()

	payloadID := spec.LicenseID
	if spec.PayloadID != "" {
		payloadID = spec.PayloadID
	}

	payload := map[string]any{
		"id":      payloadID,
		"expires": spec.Expires.UTC().Format(time.RFC3339),
	}
	if spec.Days > 0 {
		payload["duration"] = spec.Days
	}
	canonical, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	encoded := base64.StdEncoding.EncodeToString(canonical)
	signature := i.Sign(t, canonical)

	if spec.Trial {
		return strings.Join([]string{"XT", "TRIAL", spec.Duration, spec.LicenseID, encoded, signature}, "-")
	}
	return strings.Join([]string{"XT", spec.Duration, spec.LicenseID, encoded, signature}, "-")
}

// IssueLegacyKey mints a signed 4-segment legacy key. The legacy
// signing input is the duration code concatenated with the license id.
func (i *Issuer) IssueLegacyKey(t *testing.T, duration, licenseID string) string {
	t.Helper()
	signature := i.Sign(t, []byte(duration+licenseID))
	return strings.Join([]string{"XT", duration, licenseID, signature}, "-")
}

// StandardKey mints a far-future standard key with the given id
func (i *Issuer) StandardKey(t *testing.T, licenseID string) string {
	t.Helper()
	return i.IssueKey(t, KeySpec{
		LicenseID: licenseID,
		Duration:  "1M",
		Expires:   time.Now().Add(30 * 24 * time.Hour),
		Days:      30,
	})
}

// ExpiredTrialKey mints a trial key whose embedded expiry is past
func (i *Issuer) ExpiredTrialKey(t *testing.T, licenseID string) string {
	t.Helper()
	return i.IssueKey(t, KeySpec{
		LicenseID: licenseID,
		Duration:  "1H",
		Trial:     true,
		Expires:   time.Now().Add(-2 * time.Hour),
		Days:      0.02,
	})
}

// CorruptSignature flips one byte of a key's signature segment while
// keeping it valid base64.
func CorruptSignature(t *testing.T, key string) string {
	t.Helper()
	segments := strings.Split(key, "-")
	sigB64 := segments[len(segments)-1]
	raw, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	raw[0] ^= 0x01
	segments[len(segments)-1] = base64.StdEncoding.EncodeToString(raw)
	return strings.Join(segments, "-")
}

// FixedEnvironment is a deterministic fingerprint environment
type FixedEnvironment struct {
	Values map[string]any
}

// Components returns the fixed component map
func (f *FixedEnvironment) Components(_ context.Context) (map[string]any, error) {
	return f.Values, nil
}

// DefaultEnvironment returns a plausible fixed environment
func DefaultEnvironment() *FixedEnvironment {
	return &FixedEnvironment{Values: map[string]any{
		"colorDepth":       24,
		"extensionId":      "test-install-0001",
		"language":         "en-US",
		"platform":         "linux",
		"screenResolution": "1920x1080",
		"timezone":         "UTC",
		"timezoneOffset":   0,
		"userAgent":        fmt.Sprintf("xtcli-test/%d", 1),
	}}
}

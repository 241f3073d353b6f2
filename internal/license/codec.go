package license

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	licenseErrors "xtcli/internal/errors"
)

// KeyPrefix identifies the license key scheme
const KeyPrefix = "XT"

// TrialMarker is the literal second segment of trial keys
const TrialMarker = "TRIAL"

// Segment counts accepted by the wire format
const (
	segmentsLegacy   = 4 // XT-<duration>-<id>-<sig>, no embedded payload
	segmentsStandard = 5 // XT-<duration>-<id>-<data>-<sig>
	segmentsTrial    = 6 // XT-TRIAL-<duration>-<id>-<data>-<sig>
)

// KeyRecord is the parsed structure of a license key string
type KeyRecord struct {
	Prefix      string
	IsTrial     bool
	IsLegacy    bool
	Duration    string
	LicenseID   string
	EncodedData string // empty for legacy keys
	Signature   string
}

// Payload is the decoded JSON record embedded in a license key.
// Field order matters: it mirrors the order the issuing tool uses when
// it serializes and signs the payload, so Canonical stays bit-exact.
type Payload struct {
	ID       string  `json:"id"`
	Duration float64 `json:"duration,omitempty"` // plan length in days; sub-day values are hour-scale trials
	Plan     string  `json:"plan,omitempty"`
	Expires  string  `json:"expires"`
	Issued   string  `json:"issued,omitempty"`
}

// ExpiresAt parses the payload expiry timestamp
func (p *Payload) ExpiresAt() (time.Time, error) {
	if p.Expires == "" {
		return time.Time{}, fmt.Errorf("payload has no expiry")
	}
	t, err := time.Parse(time.RFC3339, p.Expires)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad expiry timestamp %q: %w", p.Expires, err)
	}
	return t, nil
}

// ParseKey parses a raw license key string into a KeyRecord.
// All whitespace is stripped first so copy-paste artifacts (newlines,
// padding spaces) never invalidate a key.
func ParseKey(raw string) (*KeyRecord, error) {
	cleaned := stripWhitespace(raw)
	if cleaned == "" {
		return nil, licenseErrors.NewFormatError("empty license key")
	}

	segments := strings.Split(cleaned, "-")
	record := &KeyRecord{Prefix: segments[0]}

	switch len(segments) {
	case segmentsLegacy:
		record.IsLegacy = true
		record.Duration = segments[1]
		record.LicenseID = segments[2]
		record.Signature = segments[3]
	case segmentsStandard:
		record.Duration = segments[1]
		record.LicenseID = segments[2]
		record.EncodedData = segments[3]
		record.Signature = segments[4]
	case segmentsTrial:
		if segments[1] != TrialMarker {
			return nil, licenseErrors.NewFormatError("expected TRIAL marker")
		}
		record.IsTrial = true
		record.Duration = segments[2]
		record.LicenseID = segments[3]
		record.EncodedData = segments[4]
		record.Signature = segments[5]
	default:
		return nil, licenseErrors.NewFormatError(
			fmt.Sprintf("unexpected segment count %d", len(segments)))
	}

	if record.Prefix != KeyPrefix {
		return nil, licenseErrors.NewFormatError(
			fmt.Sprintf("unknown prefix %q", record.Prefix))
	}
	if len(record.LicenseID) < 8 || !isAlphanumeric(record.LicenseID) {
		return nil, licenseErrors.NewFormatError("license id must be 8+ alphanumeric characters")
	}
	if record.Signature == "" {
		return nil, licenseErrors.NewFormatError("missing signature segment")
	}

	return record, nil
}

// DecodePayload base64-decodes and JSON-parses the embedded payload.
// The raw decoded bytes are returned alongside the struct: they are
// the exact bytes the issuer signed and must be fed to signature
// verification unmodified.
func DecodePayload(encoded string) (*Payload, []byte, error) {
	if encoded == "" {
		return nil, nil, licenseErrors.NewFormatError("no embedded payload")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, nil, licenseErrors.NewFormatError("corrupt embedded payload")
	}
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, licenseErrors.NewFormatError("corrupt embedded payload")
	}
	return &payload, raw, nil
}

// EncodeKey serializes a KeyRecord back to the wire format.
// Inverse of ParseKey for well-formed records.
func EncodeKey(record *KeyRecord) string {
	if record.IsLegacy {
		return strings.Join([]string{KeyPrefix, record.Duration, record.LicenseID, record.Signature}, "-")
	}
	if record.IsTrial {
		return strings.Join([]string{KeyPrefix, TrialMarker, record.Duration, record.LicenseID, record.EncodedData, record.Signature}, "-")
	}
	return strings.Join([]string{KeyPrefix, record.Duration, record.LicenseID, record.EncodedData, record.Signature}, "-")
}

// Canonical returns the canonical signing bytes for a payload: compact
// JSON in issuer field order. Part of the wire contract; any key
// reordering invalidates all previously issued signatures.
func Canonical(payload *Payload) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return data, nil
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

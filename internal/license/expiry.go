package license

import (
	"fmt"
	"time"
)

// Kind classifies a license as trial or standard
type Kind string

const (
	KindTrial    Kind = "trial"
	KindStandard Kind = "standard"
)

// trialDurationThresholdDays: payload durations below one day are
// hour-scale trials. Numeric inference is a deprecated fallback kept
// for keys issued before the explicit TRIAL marker existed; the wire
// marker always wins when present.
const trialDurationThresholdDays = 1.0

// RemainingTime is the floor-decomposed delta until expiry
type RemainingTime struct {
	Days    int `json:"days"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

// IsExpired reports whether the payload is expired at the given
// instant. The boundary counts as expired: now == expires is expired.
// A payload without a parseable expiry is treated as expired.
func IsExpired(payload *Payload, now time.Time) bool {
	if payload == nil {
		return true
	}
	expires, err := payload.ExpiresAt()
	if err != nil {
		return true
	}
	return !now.Before(expires)
}

// Remaining returns the time left until expiry, or nil if the payload
// is expired or carries no expiry.
func Remaining(payload *Payload, now time.Time) *RemainingTime {
	if payload == nil || payload.Expires == "" {
		return nil
	}
	expires, err := payload.ExpiresAt()
	if err != nil {
		return nil
	}
	delta := expires.Sub(now)
	if delta <= 0 {
		return nil
	}

	days := int(delta.Hours()) / 24
	hours := int(delta.Hours()) % 24
	minutes := int(delta.Minutes()) % 60
	return &RemainingTime{Days: days, Hours: hours, Minutes: minutes}
}

// Classify determines trial vs standard. The explicit wire-format
// TRIAL marker is authoritative; the numeric sub-day duration check is
// the deprecated fallback for pre-marker keys.
func Classify(record *KeyRecord, payload *Payload) Kind {
	if record != nil && record.IsTrial {
		return KindTrial
	}
	if payload != nil && payload.Duration > 0 && payload.Duration < trialDurationThresholdDays {
		return KindTrial
	}
	return KindStandard
}

// FormatRemaining renders a compact display string such as "3D 7H" or
// "5H", or "" when nothing remains.
func FormatRemaining(r *RemainingTime) string {
	if r == nil {
		return ""
	}
	if r.Days > 0 {
		return fmt.Sprintf("%dD %dH", r.Days, r.Hours)
	}
	return fmt.Sprintf("%dH", r.Hours)
}

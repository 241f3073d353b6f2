// Package license implements the Xtension license validation and
// signature-verification subsystem.
//
// A license key is a dash-delimited signed credential:
//
//	XT-1M-A1B2C3D4-<base64 JSON payload>-<base64 RSA signature>
//	XT-TRIAL-1H-A1B2C3D4-<base64 JSON payload>-<base64 RSA signature>
//	XT-1M-A1B2C3D4-<base64 RSA signature>            (legacy, no payload)
//
// The embedded payload carries the license id, expiry and plan
// metadata, and is signed with RSASSA-PKCS1-v1_5 / SHA-256 against an
// embedded public key. Local parsing and signature checking are a
// pre-flight format guard and offline expiry display only: once the
// license server is reachable its verdict is authoritative, and a
// license can never be newly validated without reaching it.
//
// The Validator owns the validation state machine
// (pending -> valid | invalid | none | error) and is the sole writer
// of the locally persisted license record.
package license

package license

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"strings"
	"unicode"

	licenseErrors "xtcli/internal/errors"
)

// EmbeddedPublicKey is the deployed Xtension license public key.
// Exactly one key and one scheme (RSASSA-PKCS1-v1_5 / SHA-256) are
// supported; the verifier and the issuing tool must agree on both.
const EmbeddedPublicKey = `-----BEGIN PUBLIC KEY-----
MIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8AMIIBCgKCAQEAtX4kO/ifItvCwVLIZ6mL
ciZYeM/UTwU4o+n5BK1UpraIh+IsrWXtVocVv/HKvHwXHxBzYjXGQG9nR3xrI8Jp
5I1J8E/a05LRrZuQJ+sWt1x1ShYpdYcJKnHfJoShuFLhzNTvK3e4YXYI6Q86C/jg
leEZLnBcesW9FjaR6T9TGHBE2V2V+ThKqb24qnfb4z6qbPTmZP3uBEkkwPfAPGWd
xLLilsZLpVpdmYmSsUf0vNXp7QmGadVpE30o/k1SMGlZW6jed9sKYSPEQNBXDzVB
02/sGkwIScHXWuYxFWjJCp33VaR0QCObcTRFbuwWnGI3Bxuj4Pt2cvnizwDqRkb2
MwIDAQAB
-----END PUBLIC KEY-----`

// Verifier checks license payload signatures against an RSA public key
type Verifier struct {
	key *rsa.PublicKey
}

// NewVerifier imports an SPKI-encoded RSA public key from PEM text.
// PEM armor and whitespace are stripped before base64 decoding so the
// key constant can be embedded or loaded from a file unchanged.
func NewVerifier(pemText string) (*Verifier, error) {
	der, err := decodePEMBody(pemText)
	if err != nil {
		return nil, err
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, licenseErrors.NewCryptoError("key import", "key import failed: malformed DER")
	}
	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, licenseErrors.NewCryptoError("key import", "key import failed: not an RSA key")
	}

	return &Verifier{key: rsaKey}, nil
}

// Verify checks sigB64 over the canonical payload bytes (the raw
// decoded embedded JSON, exactly as the issuer signed it).
// Returns false for a merely-invalid signature; errors only on
// malformed input such as bad base64.
func (v *Verifier) Verify(canonical []byte, sigB64 string) (bool, error) {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, licenseErrors.NewCryptoError("signature decode", "signature is not valid base64")
	}

	digest := sha256.Sum256(canonical)
	if err := rsa.VerifyPKCS1v15(v.key, crypto.SHA256, digest[:], sig); err != nil {
		return false, nil
	}
	return true, nil
}

// VerifyLegacy verifies a 4-segment legacy key. Legacy keys carry no
// embedded payload; the signing input is the concatenation of the
// duration code and the license id.
func (v *Verifier) VerifyLegacy(duration, licenseID, sigB64 string) (bool, error) {
	return v.Verify([]byte(duration+licenseID), sigB64)
}

// decodePEMBody strips PEM header/footer markers and all whitespace,
// then base64-decodes the remaining content to DER bytes.
func decodePEMBody(pemText string) ([]byte, error) {
	body := pemText
	body = strings.ReplaceAll(body, "-----BEGIN PUBLIC KEY-----", "")
	body = strings.ReplaceAll(body, "-----END PUBLIC KEY-----", "")
	body = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, body)

	if body == "" {
		return nil, licenseErrors.NewCryptoError("key import", "key import failed: empty PEM body")
	}
	der, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, licenseErrors.NewCryptoError("key import", "key import failed: invalid base64")
	}
	return der, nil
}

package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/armada-fleet/armada/internal/clock"
)

// policyClaims wraps the canonical document in a JWS claim set. The
// registered exp/iat claims mirror the document's own timestamps so
// standard token validation enforces the policy window.
type policyClaims struct {
	Policy Document `json:"policy"`
	jwt.RegisteredClaims
}

// Signer produces signed envelopes with the keyring's current ACTIVE key.
type Signer struct {
	keyring *KeyRing
}

// NewSigner constructs a Signer.
func NewSigner(keyring *KeyRing) *Signer {
	return &Signer{keyring: keyring}
}

// Sign wraps the document in a JWS compact envelope (EdDSA detached
// signature over the canonical payload bytes) with the signing key id in
// the header so verifiers know which key to try first.
func (s *Signer) Sign(doc Document) (string, error) {
	key, err := s.keyring.SigningKey()
	if err != nil {
		return "", err
	}
	claims := policyClaims{
		Policy: doc,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   doc.DeviceID,
			IssuedAt:  jwt.NewNumericDate(time.Unix(doc.IssuedAt, 0).UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Unix(doc.ExpiresAt, 0).UTC()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = key.ID
	signed, err := token.SignedString(key.Private)
	if err != nil {
		return "", fmt.Errorf("policy: sign: %w", err)
	}
	return signed, nil
}

// Verifier validates signed envelopes against every trusted key.
type Verifier struct {
	keyring *KeyRing
	clock   clock.Clock
	skew    time.Duration
}

// NewVerifier constructs a Verifier. skew is the accepted clock drift when
// checking the envelope's issuance and expiry times.
func NewVerifier(keyring *KeyRing, clk clock.Clock, skew time.Duration) *Verifier {
	return &Verifier{keyring: keyring, clock: clk, skew: skew}
}

// Verify checks the envelope against all ACTIVE and ROTATING_OUT keys,
// most recently added first, starting with the key named in the header.
// Outcomes are structured, never errors: MALFORMED for input that does not
// have the three-segment compact shape, EXPIRED for a good signature
// outside its validity window (with skew leeway), INVALID_SIGNATURE when no
// trusted key matches. A shape-correct envelope whose segments fail to
// decode counts as tampered, not malformed: altering any payload byte must
// report the same kind as altering the signature itself.
func (v *Verifier) Verify(envelope string) VerifyResult {
	if !compactShape(envelope) {
		return VerifyResult{Valid: false, Kind: KindMalformed}
	}

	candidates := v.orderedKeys(envelope)
	if len(candidates) == 0 {
		return VerifyResult{Valid: false, Kind: KindInvalidSignature}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.skew),
		jwt.WithTimeFunc(v.clock.Now),
	}

	for _, key := range candidates {
		claims := &policyClaims{}
		_, err := jwt.ParseWithClaims(envelope, claims, func(*jwt.Token) (any, error) {
			return key.Public, nil
		}, opts...)
		switch {
		case err == nil:
			doc := claims.Policy
			return VerifyResult{Valid: true, KeyID: key.ID, Document: &doc}
		case errors.Is(err, jwt.ErrTokenMalformed):
			// The shape checked out above, so a decode failure means the
			// bytes were altered after signing. Key-independent: no point
			// trying the rest of the ring.
			return VerifyResult{Valid: false, Kind: KindInvalidSignature}
		case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenUsedBeforeIssued), errors.Is(err, jwt.ErrTokenNotValidYet):
			// Signature checked out against this key; the document is
			// simply outside its window. Distinct remediation: re-fetch.
			return VerifyResult{Valid: false, Kind: KindExpired, KeyID: key.ID}
		}
		// Signature mismatch: try the next trusted key.
	}
	return VerifyResult{Valid: false, Kind: KindInvalidSignature}
}

// compactShape reports whether the envelope has the three-segment JWS
// compact form with no empty segment.
func compactShape(envelope string) bool {
	parts := strings.Split(envelope, ".")
	if len(parts) != 3 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
	}
	return true
}

// orderedKeys returns the verification keys with the envelope's kid first.
func (v *Verifier) orderedKeys(envelope string) []KeyRecord {
	keys := v.keyring.VerificationKeys()
	kid := headerKeyID(envelope)
	if kid == "" {
		return keys
	}
	ordered := make([]KeyRecord, 0, len(keys))
	for _, key := range keys {
		if key.ID == kid {
			ordered = append(ordered, key)
		}
	}
	for _, key := range keys {
		if key.ID != kid {
			ordered = append(ordered, key)
		}
	}
	return ordered
}

// headerKeyID extracts the kid without verifying the signature.
func headerKeyID(envelope string) string {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(envelope, jwt.MapClaims{})
	if err != nil {
		return ""
	}
	kid, _ := token.Header["kid"].(string)
	return kid
}

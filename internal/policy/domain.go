// Package policy builds, signs and verifies the operational policy
// documents distributed to managed devices. The signed envelope is a JWS
// compact token (three dot-separated base64url segments); interoperability
// with deployed device clients depends on that exact shape.
package policy

import (
	"errors"
	"time"
)

// Verification failure kinds. Each implies a different client remediation:
// EXPIRED means re-fetch, INVALID_SIGNATURE means re-provision keys.
const (
	KindMalformed        = "MALFORMED"
	KindInvalidSignature = "INVALID_SIGNATURE"
	KindExpired          = "EXPIRED"
)

var (
	// ErrIncompleteInput reports missing required policy fields. Critical
	// policy fields are never silently defaulted.
	ErrIncompleteInput = errors.New("policy: incomplete input")
	// ErrNoSigningKey reports a keyring with no ACTIVE signing key. Fatal
	// at service startup, not a per-request condition.
	ErrNoSigningKey = errors.New("policy: no signing key configured")
)

// TimeAnchor pins the device's clock expectations to server time.
type TimeAnchor struct {
	ServerTime  int64 `json:"server_time"`
	SkewSeconds int64 `json:"skew_seconds"`
}

// SessionWindow bounds interactive sessions on the device.
type SessionWindow struct {
	MaxMinutes  int `json:"max_minutes" validate:"required,gt=0"`
	IdleMinutes int `json:"idle_minutes" validate:"required,gt=0"`
}

// PINPolicy configures local credential rules on the device.
type PINPolicy struct {
	MinLength   int `json:"min_length" validate:"required,gte=4"`
	MaxAttempts int `json:"max_attempts" validate:"required,gt=0"`
}

// Document is the canonical policy payload. Immutable once built; field
// order is the canonical serialization order.
type Document struct {
	DeviceID         string        `json:"device_id"`
	TeamID           string        `json:"team_id"`
	OrgID            string        `json:"org_id"`
	ProtocolVersion  int           `json:"protocol_version"`
	TimeAnchor       TimeAnchor    `json:"time_anchor"`
	SessionWindow    SessionWindow `json:"session_window"`
	PINPolicy        PINPolicy     `json:"pin_policy"`
	TelemetrySeconds int           `json:"telemetry_seconds"`
	IssuedAt         int64         `json:"issued_at"`
	ExpiresAt        int64         `json:"expires_at"`
}

// VerifyResult is the structured verification outcome.
type VerifyResult struct {
	Valid    bool      `json:"valid"`
	Kind     string    `json:"error_kind,omitempty"`
	KeyID    string    `json:"key_id,omitempty"`
	Document *Document `json:"payload,omitempty"`
}

// Expiry returns the document's expiry instant.
func (d *Document) Expiry() time.Time {
	return time.Unix(d.ExpiresAt, 0).UTC()
}

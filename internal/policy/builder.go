package policy

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// BuildInput carries the device/team fields supplied by the external
// policy input provider. The builder only validates presence and shape.
type BuildInput struct {
	DeviceID         string        `validate:"required"`
	TeamID           string        `validate:"required"`
	OrgID            string        `validate:"required"`
	ProtocolVersion  int           `validate:"required,gt=0"`
	SessionWindow    SessionWindow `validate:"required"`
	PINPolicy        PINPolicy     `validate:"required"`
	TelemetrySeconds int           `validate:"required,gt=0"`
	TTL              time.Duration `validate:"required,gt=0"`
}

// Builder assembles canonical policy documents.
type Builder struct {
	validate *validator.Validate
	skew     time.Duration
}

// NewBuilder constructs a Builder. skew is the clock drift the issued
// time anchor allows devices.
func NewBuilder(skew time.Duration) *Builder {
	return &Builder{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		skew:     skew,
	}
}

// Build produces a Document from the inputs. Pure and deterministic: for
// identical inputs and the same now (truncated to seconds) the canonical
// serialization is byte-identical, so independently computed signatures
// verify against regenerated payloads.
func (b *Builder) Build(in BuildInput, now time.Time) (Document, error) {
	if err := b.validate.Struct(in); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrIncompleteInput, err)
	}

	now = now.UTC().Truncate(time.Second)
	return Document{
		DeviceID:        in.DeviceID,
		TeamID:          in.TeamID,
		OrgID:           in.OrgID,
		ProtocolVersion: in.ProtocolVersion,
		TimeAnchor: TimeAnchor{
			ServerTime:  now.Unix(),
			SkewSeconds: int64(b.skew / time.Second),
		},
		SessionWindow:    in.SessionWindow,
		PINPolicy:        in.PINPolicy,
		TelemetrySeconds: in.TelemetrySeconds,
		IssuedAt:         now.Unix(),
		ExpiresAt:        now.Add(in.TTL).Unix(),
	}, nil
}

package token

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/geo"
)

// Service owns the token lifecycle: minting, revocation, liveness and the
// scan counter. It is the only writer of token state.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a service backed by a repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// MintParams describes a mint request. A nil Anchor disables geofencing for
// the token. A zero RadiusMeters takes the default; any other out-of-range
// value is rejected.
type MintParams struct {
	ActivityID   string
	IssuedBy     string
	Label        string
	ExpiresAt    *time.Time
	Anchor       *geo.Point
	RadiusMeters int
}

// Mint constructs the payload and image, persists a new active token with a
// zero scan counter, and returns it.
func (s *Service) Mint(ctx context.Context, p MintParams) (Token, error) {
	radius := p.RadiusMeters
	if radius == 0 {
		radius = DefaultRadiusMeters
	}
	if radius < MinRadiusMeters || radius > MaxRadiusMeters {
		return Token{}, fmt.Errorf("%w: %d not in [%d, %d]",
			ErrInvalidRadius, p.RadiusMeters, MinRadiusMeters, MaxRadiusMeters)
	}

	id := uuid.NewString()
	issuedAt := s.now().UTC().Truncate(time.Second)

	payload, err := Encode(Payload{
		ActivityID: p.ActivityID,
		TokenID:    id,
		IssuedAt:   issuedAt,
		ExpiresAt:  p.ExpiresAt,
	})
	if err != nil {
		return Token{}, err
	}

	image, err := RenderImage(payload)
	if err != nil {
		return Token{}, err
	}

	tok := Token{
		ID:           id,
		ActivityID:   p.ActivityID,
		Label:        p.Label,
		Payload:      payload,
		Image:        image,
		IssuedBy:     p.IssuedBy,
		IssuedAt:     issuedAt,
		ExpiresAt:    p.ExpiresAt,
		Active:       true,
		ScanCount:    0,
		Anchor:       p.Anchor,
		RadiusMeters: radius,
	}
	if err := s.repo.Insert(ctx, tok); err != nil {
		return Token{}, err
	}
	return tok, nil
}

// Get returns a token by id.
func (s *Service) Get(ctx context.Context, id string) (Token, error) {
	return s.repo.Get(ctx, id)
}

// ListByActivity returns an activity's tokens.
func (s *Service) ListByActivity(ctx context.Context, activityID string) ([]Token, error) {
	return s.repo.ListByActivity(ctx, activityID)
}

// Revoke deactivates a token early, independent of expiry. Idempotent.
func (s *Service) Revoke(ctx context.Context, id string) error {
	return s.repo.Revoke(ctx, id)
}

// IsLive reports whether the token may accept scans at the given time.
func (s *Service) IsLive(ctx context.Context, id string, now time.Time) (bool, error) {
	tok, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return tok.Live(now), nil
}

// RecordScan increments the accepted-scan counter and returns the new count.
func (s *Service) RecordScan(ctx context.Context, id string) (int64, error) {
	return s.repo.RecordScan(ctx, id)
}

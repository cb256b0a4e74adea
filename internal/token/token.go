package token

import (
	"errors"
	"time"

	"qrattend/internal/geo"
)

var (
	// ErrNotFound means the token id does not resolve to a minted token.
	ErrNotFound = errors.New("token not found")

	// ErrInvalidRadius means a mint request carried a geofence radius outside
	// [MinRadiusMeters, MaxRadiusMeters]. Out-of-range radii are rejected, not
	// clamped: a silently clamped radius would weaken or over-restrict
	// attendance without the caller noticing.
	ErrInvalidRadius = errors.New("geofence radius out of range")
)

// Geofence radius bounds in meters.
const (
	MinRadiusMeters     = 10
	MaxRadiusMeters     = 500
	DefaultRadiusMeters = 80
)

// Token is a minted attendance credential for an activity, or for one session
// within it. Revocation (Active=false) and time expiry (ExpiresAt) are two
// independent kill switches; an auditor can tell a revoked token from an
// expired one.
type Token struct {
	ID           string     `json:"id"`
	ActivityID   string     `json:"activity_id"`
	Label        string     `json:"label,omitempty"`
	Payload      string     `json:"payload"`
	Image        string     `json:"image,omitempty"`
	IssuedBy     string     `json:"issued_by"`
	IssuedAt     time.Time  `json:"issued_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Active       bool       `json:"active"`
	ScanCount    int64      `json:"scans_count"`
	Anchor       *geo.Point `json:"anchor,omitempty"`
	RadiusMeters int        `json:"radius_m"`
}

// Live reports whether the token may still accept scans at the given time:
// not revoked, and either without expiry or not yet past it. The expiry
// instant itself is still live.
func (t Token) Live(now time.Time) bool {
	if !t.Active {
		return false
	}
	if t.ExpiresAt != nil && now.After(*t.ExpiresAt) {
		return false
	}
	return true
}

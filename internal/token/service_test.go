package token

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/geo"
)

func newTestService() *Service {
	return NewService(NewMemoryRepository())
}

func TestMint(t *testing.T) {
	svc := newTestService()
	anchor := &geo.Point{Latitude: 16.071, Longitude: 108.150, AccuracyMeters: 5}

	tok, err := svc.Mint(context.Background(), MintParams{
		ActivityID: "act-42",
		IssuedBy:   "staff-1",
		Label:      "Morning check-in",
		Anchor:     anchor,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, tok.ID)
	assert.True(t, tok.Active)
	assert.Zero(t, tok.ScanCount)
	assert.Equal(t, DefaultRadiusMeters, tok.RadiusMeters)
	assert.Equal(t, anchor, tok.Anchor)
	assert.True(t, strings.HasPrefix(tok.Image, "data:image/png;base64,"))

	// Payload embeds the token's own identity.
	p, err := Decode(tok.Payload)
	require.NoError(t, err)
	assert.Equal(t, "act-42", p.ActivityID)
	assert.Equal(t, tok.ID, p.TokenID)
	assert.Equal(t, tok.IssuedAt, p.IssuedAt)
}

func TestMint_RadiusValidation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	for _, radius := range []int{-1, 1, 9, 501, 10000} {
		_, err := svc.Mint(ctx, MintParams{
			ActivityID:   "act-42",
			IssuedBy:     "staff-1",
			RadiusMeters: radius,
		})
		assert.ErrorIs(t, err, ErrInvalidRadius, "radius %d", radius)
	}

	for _, radius := range []int{10, 80, 500} {
		tok, err := svc.Mint(ctx, MintParams{
			ActivityID:   "act-42",
			IssuedBy:     "staff-1",
			RadiusMeters: radius,
		})
		require.NoError(t, err, "radius %d", radius)
		assert.Equal(t, radius, tok.RadiusMeters)
	}
}

func TestRevoke_Idempotent(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	tok, err := svc.Mint(ctx, MintParams{ActivityID: "act-42", IssuedBy: "staff-1"})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, tok.ID))
	// Second revoke is a no-op, not an error.
	require.NoError(t, svc.Revoke(ctx, tok.ID))

	got, err := svc.Get(ctx, tok.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	assert.ErrorIs(t, svc.Revoke(ctx, "no-such-token"), ErrNotFound)
}

func TestIsLive(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	now := time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)

	t.Run("no expiry stays live", func(t *testing.T) {
		tok, err := svc.Mint(ctx, MintParams{ActivityID: "act-42", IssuedBy: "staff-1"})
		require.NoError(t, err)

		live, err := svc.IsLive(ctx, tok.ID, now.Add(1000*time.Hour))
		require.NoError(t, err)
		assert.True(t, live)
	})

	t.Run("expiry boundary", func(t *testing.T) {
		exp := now.Add(time.Hour)
		tok, err := svc.Mint(ctx, MintParams{
			ActivityID: "act-42", IssuedBy: "staff-1", ExpiresAt: &exp,
		})
		require.NoError(t, err)

		live, err := svc.IsLive(ctx, tok.ID, exp)
		require.NoError(t, err)
		assert.True(t, live, "the expiry instant itself is still live")

		live, err = svc.IsLive(ctx, tok.ID, exp.Add(time.Second))
		require.NoError(t, err)
		assert.False(t, live)
	})

	t.Run("revoked before expiry", func(t *testing.T) {
		exp := now.Add(time.Hour)
		tok, err := svc.Mint(ctx, MintParams{
			ActivityID: "act-42", IssuedBy: "staff-1", ExpiresAt: &exp,
		})
		require.NoError(t, err)
		require.NoError(t, svc.Revoke(ctx, tok.ID))

		live, err := svc.IsLive(ctx, tok.ID, now)
		require.NoError(t, err)
		assert.False(t, live)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := svc.IsLive(ctx, "no-such-token", now)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRecordScan_ConcurrentNoLostUpdates(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	tok, err := svc.Mint(ctx, MintParams{ActivityID: "act-42", IssuedBy: "staff-1"})
	require.NoError(t, err)

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := svc.RecordScan(ctx, tok.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := svc.Get(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), got.ScanCount)
}

package scan

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"qrattend/internal/activity"
	"qrattend/internal/attendance"
	"qrattend/internal/geo"
	"qrattend/internal/timing"
	"qrattend/internal/token"
)

var (
	activityStart = time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC)
	activityEnd   = time.Date(2025, 3, 15, 17, 0, 0, 0, time.UTC)
	anchor        = geo.Point{Latitude: 16.071, Longitude: 108.150}
)

type fixture struct {
	tokens     *token.Service
	activities *activity.MemoryDirectory
	records    *attendance.MemoryStore
	validator  *Validator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens := token.NewService(token.NewMemoryRepository())
	activities := activity.NewMemoryDirectory()
	activities.Put("act-42", timing.Window{Start: activityStart, End: activityEnd})
	records := attendance.NewMemoryStore()
	v := NewValidator(tokens, activities, attendance.NewStoreRecorder(records),
		30*time.Minute, zap.NewNop())
	return &fixture{tokens: tokens, activities: activities, records: records, validator: v}
}

func (f *fixture) mint(t *testing.T, p token.MintParams) token.Token {
	t.Helper()
	if p.ActivityID == "" {
		p.ActivityID = "act-42"
	}
	if p.IssuedBy == "" {
		p.IssuedBy = "staff-1"
	}
	tok, err := f.tokens.Mint(context.Background(), p)
	require.NoError(t, err)
	return tok
}

// metersNorth returns a point the given distance due north of anchor.
func metersNorth(meters float64) *geo.Point {
	dLat := (meters / 6371000.0) * 180 / math.Pi
	return &geo.Point{Latitude: anchor.Latitude + dLat, Longitude: anchor.Longitude}
}

func at(hour, minute int) time.Time {
	return time.Date(2025, 3, 15, hour, minute, 0, 0, time.UTC)
}

func rejectionReason(t *testing.T, err error) Reason {
	t.Helper()
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	return rej.Reason
}

func TestValidate_EndToEnd(t *testing.T) {
	f := newFixture(t)
	tok := f.mint(t, token.MintParams{Anchor: &anchor, RadiusMeters: 80})
	ctx := context.Background()

	// 07:31, one minute into the grace window, ~15m from the anchor.
	nearby := &geo.Point{Latitude: 16.0711, Longitude: 108.1501}
	acc, err := f.validator.Validate(ctx, Attempt{
		RawPayload:       tok.Payload,
		ReportedLocation: nearby,
		ScannedAt:        at(7, 31),
		ScannedBy:        "student-9",
	})
	require.NoError(t, err)
	assert.Equal(t, tok.ID, acc.TokenID)
	assert.Equal(t, "act-42", acc.ActivityID)
	assert.Equal(t, int64(1), acc.ScanCount)

	recs, err := f.records.ListByActivity(ctx, "act-42")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "student-9", recs[0].StudentID)
	assert.Equal(t, at(7, 31), recs[0].ScannedAt)

	// 07:29 is before the window opens.
	_, err = f.validator.Validate(ctx, Attempt{
		RawPayload:       tok.Payload,
		ReportedLocation: nearby,
		ScannedAt:        at(7, 29),
		ScannedBy:        "student-10",
	})
	assert.Equal(t, ReasonOutsideTimingWindow, rejectionReason(t, err))
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Contains(t, rej.Message, "too early")

	// 07:35 from 500m away fails the geofence.
	_, err = f.validator.Validate(ctx, Attempt{
		RawPayload:       tok.Payload,
		ReportedLocation: metersNorth(500),
		ScannedAt:        at(7, 35),
		ScannedBy:        "student-11",
	})
	assert.Equal(t, ReasonOutsideGeofence, rejectionReason(t, err))

	// Rejections never touched the counter.
	got, err := f.tokens.Get(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ScanCount)
}

func TestValidate_MalformedPayload(t *testing.T) {
	f := newFixture(t)
	f.mint(t, token.MintParams{})

	_, err := f.validator.Validate(context.Background(), Attempt{
		RawPayload: "definitely not a token",
		ScannedAt:  at(9, 0),
		ScannedBy:  "student-9",
	})
	assert.Equal(t, ReasonMalformedPayload, rejectionReason(t, err))
}

func TestValidate_TokenNotFound(t *testing.T) {
	f := newFixture(t)

	// Well-formed payload pointing at a token that was never minted.
	raw, err := token.Encode(token.Payload{
		ActivityID: "act-42",
		TokenID:    "ghost",
		IssuedAt:   at(7, 0),
	})
	require.NoError(t, err)

	_, verr := f.validator.Validate(context.Background(), Attempt{
		RawPayload: raw,
		ScannedAt:  at(9, 0),
		ScannedBy:  "student-9",
	})
	assert.Equal(t, ReasonTokenNotFound, rejectionReason(t, verr))
}

func TestValidate_RevokedBeatsTiming(t *testing.T) {
	f := newFixture(t)
	tok := f.mint(t, token.MintParams{})
	ctx := context.Background()
	require.NoError(t, f.tokens.Revoke(ctx, tok.ID))

	// Mid-activity, no geofence: everything but liveness would pass. The
	// student must hear "token dead", not "too early".
	_, err := f.validator.Validate(ctx, Attempt{
		RawPayload: tok.Payload,
		ScannedAt:  at(9, 0),
		ScannedBy:  "student-9",
	})
	assert.Equal(t, ReasonTokenExpiredOrRevoked, rejectionReason(t, err))
}

func TestValidate_ExpiredToken(t *testing.T) {
	f := newFixture(t)
	exp := at(8, 30)
	tok := f.mint(t, token.MintParams{ExpiresAt: &exp})

	_, err := f.validator.Validate(context.Background(), Attempt{
		RawPayload: tok.Payload,
		ScannedAt:  at(9, 0),
		ScannedBy:  "student-9",
	})
	assert.Equal(t, ReasonTokenExpiredOrRevoked, rejectionReason(t, err))
}

func TestValidate_NoAnchorIgnoresLocation(t *testing.T) {
	f := newFixture(t)
	tok := f.mint(t, token.MintParams{}) // no anchor: geofencing opted out
	ctx := context.Background()

	// No location at all.
	_, err := f.validator.Validate(ctx, Attempt{
		RawPayload: tok.Payload,
		ScannedAt:  at(9, 0),
		ScannedBy:  "student-1",
	})
	require.NoError(t, err)

	// A location on another continent.
	_, err = f.validator.Validate(ctx, Attempt{
		RawPayload:       tok.Payload,
		ReportedLocation: &geo.Point{Latitude: 48.8566, Longitude: 2.3522},
		ScannedAt:        at(9, 0),
		ScannedBy:        "student-2",
	})
	require.NoError(t, err)
}

func TestValidate_LocationRequired(t *testing.T) {
	f := newFixture(t)
	tok := f.mint(t, token.MintParams{Anchor: &anchor})

	_, err := f.validator.Validate(context.Background(), Attempt{
		RawPayload: tok.Payload,
		ScannedAt:  at(9, 0),
		ScannedBy:  "student-9",
	})
	assert.Equal(t, ReasonLocationRequired, rejectionReason(t, err))
}

func TestValidate_DuplicateScansAcceptedOnceRecorded(t *testing.T) {
	f := newFixture(t)
	tok := f.mint(t, token.MintParams{})
	ctx := context.Background()

	// The core does not deduplicate; both scans are accepted and counted.
	for i := 1; i <= 2; i++ {
		acc, err := f.validator.Validate(ctx, Attempt{
			RawPayload: tok.Payload,
			ScannedAt:  at(9, i),
			ScannedBy:  "student-9",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i), acc.ScanCount)
	}

	// The attendance collaborator keeps only the first.
	recs, err := f.records.ListByActivity(ctx, "act-42")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, at(9, 1), recs[0].ScannedAt)
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, attendance.AcceptedScan) error {
	return errors.New("queue down")
}

func TestValidate_StorageErrorIsNotARejection(t *testing.T) {
	tokens := token.NewService(token.NewMemoryRepository())
	activities := activity.NewMemoryDirectory()
	activities.Put("act-42", timing.Window{Start: activityStart, End: activityEnd})
	v := NewValidator(tokens, activities, failingRecorder{}, 30*time.Minute, zap.NewNop())

	tok, err := tokens.Mint(context.Background(), token.MintParams{
		ActivityID: "act-42", IssuedBy: "staff-1",
	})
	require.NoError(t, err)

	_, verr := v.Validate(context.Background(), Attempt{
		RawPayload: tok.Payload,
		ScannedAt:  at(9, 0),
		ScannedBy:  "student-9",
	})

	var serr *StorageError
	require.ErrorAs(t, verr, &serr)
	var rej *Rejection
	assert.False(t, errors.As(verr, &rej), "storage outage must not read as a rejection")
}

func TestValidate_UnknownActivityIsStorageError(t *testing.T) {
	f := newFixture(t)
	tok := f.mint(t, token.MintParams{ActivityID: "act-missing"})

	_, err := f.validator.Validate(context.Background(), Attempt{
		RawPayload: tok.Payload,
		ScannedAt:  at(9, 0),
		ScannedBy:  "student-9",
	})
	var serr *StorageError
	assert.ErrorAs(t, err, &serr)
}

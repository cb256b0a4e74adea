package scan

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"qrattend/internal/activity"
	"qrattend/internal/attendance"
	"qrattend/internal/geo"
	"qrattend/internal/metrics"
	"qrattend/internal/timing"
	"qrattend/internal/token"
)

// Attempt is one student's scan submission. ScannedAt is server-assigned;
// client clocks are not trusted.
type Attempt struct {
	RawPayload       string
	ReportedLocation *geo.Point
	ScannedAt        time.Time
	ScannedBy        string
}

// Accepted is the terminal success state of a validated scan.
type Accepted struct {
	TokenID    string    `json:"token_id"`
	ActivityID string    `json:"activity_id"`
	ScanCount  int64     `json:"scans_count"`
	ScannedAt  time.Time `json:"scanned_at"`
}

// Validator runs a scan attempt through the acceptance pipeline:
// decode, token lookup, liveness, timing, geofence, record. The order is
// fixed: liveness before timing so a dead token reports "expired" rather
// than "too early", and the trigonometry runs last, only for scans that
// already passed every cheaper check.
type Validator struct {
	tokens     *token.Service
	activities activity.Directory
	recorder   attendance.Recorder
	grace      time.Duration
	log        *zap.Logger
	now        func() time.Time
}

// NewValidator wires the pipeline. A non-positive grace takes the 30 minute
// default.
func NewValidator(tokens *token.Service, activities activity.Directory,
	recorder attendance.Recorder, grace time.Duration, log *zap.Logger) *Validator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{
		tokens:     tokens,
		activities: activities,
		recorder:   recorder,
		grace:      grace,
		log:        log,
		now:        time.Now,
	}
}

// Validate accepts or rejects a scan attempt. On acceptance the token's scan
// counter has been incremented and the attendance collaborator signalled.
// The error is either a *Rejection (terminal, user-recoverable) or a
// *StorageError (infrastructure, retryable); the two are never conflated.
func (v *Validator) Validate(ctx context.Context, att Attempt) (Accepted, error) {
	scannedAt := att.ScannedAt
	if scannedAt.IsZero() {
		scannedAt = v.now()
	}

	payload, err := token.Decode(att.RawPayload)
	if err != nil {
		return Accepted{}, v.rejected(reject(ReasonMalformedPayload, "QR code is not a valid attendance code"), att)
	}

	tok, err := v.tokens.Get(ctx, payload.TokenID)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return Accepted{}, v.rejected(reject(ReasonTokenNotFound, "attendance code is not recognized"), att)
		}
		return Accepted{}, &StorageError{Err: err}
	}

	if !tok.Live(scannedAt) {
		return Accepted{}, v.rejected(reject(ReasonTokenExpiredOrRevoked, "attendance code is no longer active"), att)
	}

	// Timing runs against the activity's window, not the token's own
	// issuedAt/expiresAt; those are independent kill switches.
	window, err := v.activities.Window(ctx, tok.ActivityID)
	if err != nil {
		return Accepted{}, &StorageError{Err: err}
	}
	if verdict := timing.Evaluate(window, scannedAt, v.grace); !verdict.Allowed {
		return Accepted{}, v.rejected(reject(ReasonOutsideTimingWindow, verdict.Reason), att)
	}

	if tok.Anchor == nil {
		v.log.Info("geofence disabled for token, accepting any location",
			zap.String("token_id", tok.ID))
	}
	if err := geo.Check(tok.Anchor, att.ReportedLocation, tok.RadiusMeters); err != nil {
		switch {
		case errors.Is(err, geo.ErrLocationRequired):
			return Accepted{}, v.rejected(reject(ReasonLocationRequired, "this activity requires your location to check in"), att)
		default:
			return Accepted{}, v.rejected(reject(ReasonOutsideGeofence, "you are too far from the activity location"), att)
		}
	}

	count, err := v.tokens.RecordScan(ctx, tok.ID)
	if err != nil {
		return Accepted{}, &StorageError{Err: err}
	}

	// The attendance write attempt always follows the counter increment. If
	// the publish fails the client retries; the collaborator's first-scan-wins
	// upsert makes the retry harmless.
	err = v.recorder.Record(ctx, attendance.AcceptedScan{
		TokenID:    tok.ID,
		ActivityID: tok.ActivityID,
		StudentID:  att.ScannedBy,
		ScannedAt:  scannedAt,
	})
	if err != nil {
		return Accepted{}, &StorageError{Err: err}
	}

	metrics.ScansAccepted.Inc()
	v.log.Info("scan accepted",
		zap.String("token_id", tok.ID),
		zap.String("activity_id", tok.ActivityID),
		zap.String("student_id", att.ScannedBy),
		zap.Int64("scans_count", count))

	return Accepted{
		TokenID:    tok.ID,
		ActivityID: tok.ActivityID,
		ScanCount:  count,
		ScannedAt:  scannedAt,
	}, nil
}

func (v *Validator) rejected(r *Rejection, att Attempt) *Rejection {
	metrics.ScansRejected.WithLabelValues(string(r.Reason)).Inc()
	v.log.Info("scan rejected",
		zap.String("reason", string(r.Reason)),
		zap.String("student_id", att.ScannedBy),
		zap.String("detail", r.Message))
	return r
}

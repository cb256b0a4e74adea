package scan

import "fmt"

// Reason identifies why a scan was rejected. Every reason is recoverable by
// the student (re-scan later, move closer, ask staff); none is an internal
// fault.
type Reason string

const (
	ReasonMalformedPayload      Reason = "malformed_payload"
	ReasonTokenNotFound         Reason = "token_not_found"
	ReasonTokenExpiredOrRevoked Reason = "token_expired_or_revoked"
	ReasonOutsideTimingWindow   Reason = "outside_timing_window"
	ReasonOutsideGeofence       Reason = "outside_geofence"
	ReasonLocationRequired      Reason = "location_required"
)

// Rejection is a terminal, user-facing scan verdict. Message carries the
// operator guidance ("too early" vs "too late" vs "wrong place").
type Rejection struct {
	Reason  Reason
	Message string
}

func (r *Rejection) Error() string {
	if r.Message == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

func reject(reason Reason, message string) *Rejection {
	return &Rejection{Reason: reason, Message: message}
}

// StorageError marks infrastructure failures (store or queue unavailable).
// It is deliberately a different type from Rejection: a storage outage must
// never read as "you scanned outside the window". Callers retry with backoff.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string { return "storage unavailable: " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

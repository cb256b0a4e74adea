package timing

import (
	"fmt"
	"time"
)

// DefaultGrace is how long before an activity's official start early scans
// are still accepted.
const DefaultGrace = 30 * time.Minute

// Window is the start/end of an activity, as owned by the external activity
// record.
type Window struct {
	Start time.Time
	End   time.Time
}

// Verdict is the outcome of a window check with a human-readable reason.
// TooEarly and TooLate need different guidance for the student, so they are
// kept distinct instead of a single "outside window" answer.
type Verdict struct {
	Allowed bool
	Reason  string
}

// Evaluate reports whether now falls inside [w.Start - grace, w.End],
// inclusive on both ends. A non-positive grace falls back to DefaultGrace.
func Evaluate(w Window, now time.Time, grace time.Duration) Verdict {
	if grace <= 0 {
		grace = DefaultGrace
	}
	opens := w.Start.Add(-grace)

	switch {
	case now.Before(opens):
		return Verdict{
			Allowed: false,
			Reason:  fmt.Sprintf("too early: scanning opens at %s", opens.Format(time.RFC3339)),
		}
	case now.After(w.End):
		return Verdict{
			Allowed: false,
			Reason:  fmt.Sprintf("too late: activity ended at %s", w.End.Format(time.RFC3339)),
		}
	default:
		return Verdict{Allowed: true, Reason: "within scan window"}
	}
}

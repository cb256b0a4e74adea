package timing

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	start := time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 15, 17, 0, 0, 0, time.UTC)
	w := Window{Start: start, End: end}
	grace := 30 * time.Minute

	tests := []struct {
		name       string
		now        time.Time
		allowed    bool
		reasonPart string
	}{
		{"window opens exactly", start.Add(-grace), true, "within"},
		{"one second before window opens", start.Add(-grace).Add(-time.Second), false, "too early"},
		{"at activity start", start, true, "within"},
		{"mid activity", start.Add(4 * time.Hour), true, "within"},
		{"at activity end", end, true, "within"},
		{"one second after end", end.Add(time.Second), false, "too late"},
		{"well before", start.Add(-2 * time.Hour), false, "too early"},
		{"next day", end.Add(24 * time.Hour), false, "too late"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(w, tt.now, grace)
			assert.Equal(t, tt.allowed, v.Allowed)
			assert.True(t, strings.Contains(v.Reason, tt.reasonPart),
				"reason %q should contain %q", v.Reason, tt.reasonPart)
		})
	}
}

func TestEvaluate_DefaultGrace(t *testing.T) {
	start := time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC)
	w := Window{Start: start, End: start.Add(9 * time.Hour)}

	// Zero grace falls back to the 30 minute default.
	v := Evaluate(w, start.Add(-29*time.Minute), 0)
	assert.True(t, v.Allowed)

	v = Evaluate(w, start.Add(-31*time.Minute), 0)
	assert.False(t, v.Allowed)
}

package sessions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pfa-elearn/backend/internal/models"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in   string
		want models.SessionStatus
		ok   bool
	}{
		{"scheduled", models.StatusScheduled, true},
		{"live", models.StatusLive, true},
		{"active", models.StatusLive, true},
		{"ended", models.StatusEnded, true},
		{"completed", models.StatusEnded, true},
		{"cancelled", models.StatusCancelled, true},
		{"paused", "", false},
		{"", "", false},
		{"LIVE", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeStatus(tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.SessionStatus
		want     bool
	}{
		{models.StatusScheduled, models.StatusLive, true},
		{models.StatusScheduled, models.StatusCancelled, true},
		{models.StatusScheduled, models.StatusEnded, false},
		{models.StatusScheduled, models.StatusScheduled, false},
		{models.StatusLive, models.StatusEnded, true},
		{models.StatusLive, models.StatusCancelled, true},
		{models.StatusLive, models.StatusScheduled, false},
		{models.StatusLive, models.StatusLive, true},   // idempotent start retry
		{models.StatusEnded, models.StatusEnded, true}, // idempotent end retry
		{models.StatusEnded, models.StatusLive, false},
		{models.StatusEnded, models.StatusScheduled, false},
		{models.StatusEnded, models.StatusCancelled, false},
		{models.StatusCancelled, models.StatusCancelled, false},
		{models.StatusCancelled, models.StatusLive, false},
		{models.StatusCancelled, models.StatusScheduled, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

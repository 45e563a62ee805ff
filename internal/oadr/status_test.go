package oadr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventStatusAt(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	period := ActivePeriod{
		DtStart:  start,
		Duration: Duration(time.Hour),
		RampUp:   Duration(10 * time.Minute),
	}

	cases := []struct {
		name string
		now  time.Time
		want string
	}{
		{"well before", start.Add(-time.Hour), EventStatusFar},
		{"inside ramp-up", start.Add(-5 * time.Minute), EventStatusNear},
		{"at start", start, EventStatusActive},
		{"inside window", start.Add(30 * time.Minute), EventStatusActive},
		{"at end", start.Add(time.Hour), EventStatusCompleted},
		{"after end", start.Add(2 * time.Hour), EventStatusCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EventStatusAt(period, tc.now))
		})
	}
}

func TestEventStatusAtWithoutRampUp(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	period := ActivePeriod{DtStart: start, Duration: Duration(time.Hour)}
	assert.Equal(t, EventStatusFar, EventStatusAt(period, start.Add(-time.Second)))
}

func TestVocabulary(t *testing.T) {
	assert.True(t, SignalNames.Valid("SIMPLE"))
	assert.True(t, SignalNames.Valid("x-customSignal"))
	assert.False(t, SignalNames.Valid("BOGUS"))
	assert.False(t, SIScaleCodes.Contains("x-huge"), "scale codes have no private-use escape")
	assert.True(t, SIScaleCodes.Contains("none"))
}

package oadr

import "time"

// EventStatusAt computes the lifecycle status of an active period at a
// given instant: far before any ramp-up, near during ramp-up, active
// inside the window, completed after it.
func EventStatusAt(p ActivePeriod, now time.Time) string {
	start := p.DtStart
	end := start.Add(p.Duration.D())
	switch {
	case !now.Before(end):
		return EventStatusCompleted
	case !now.Before(start):
		return EventStatusActive
	case p.RampUp > 0 && !now.Before(start.Add(-p.RampUp.D())):
		return EventStatusNear
	default:
		return EventStatusFar
	}
}

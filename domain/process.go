package domain

import "time"

// Heartbeat is the periodic liveness record of a supervisor instance.
type Heartbeat struct {
	PID        int
	Host       string
	At         time.Time
	RSS        uint64
	CPU        float64
	OwnedRooms int
}

// Fresh reports whether the heartbeat is younger than maxAge at now.
func (h Heartbeat) Fresh(now time.Time, maxAge time.Duration) bool {
	return now.Sub(h.At) < maxAge
}

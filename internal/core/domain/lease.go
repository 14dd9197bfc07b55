package domain

import "time"

// Lease is a soft, time-bounded reservation of one output, recorded so no
// two concurrent operations spend it. At most one active, unexpired lease
// exists per output.
type Lease struct {
	Outpoint  string
	HolderID  string
	ExpiresAt int64
}

func (l Lease) IsExpired(now time.Time) bool {
	return now.Unix() >= l.ExpiresAt
}

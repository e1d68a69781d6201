package ledger

import "time"

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time, truncated to UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

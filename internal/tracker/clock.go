package tracker

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time. Detection timestamps and baselines are
// stamped from it so tests can pin them.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator hands out delivery identifiers for outbound sinks.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random v4 UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.NewString() }

package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock reports the current time. Services take it as a dependency so tests
// can pin "now".
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// New returns a Clock backed by the system time in UTC.
func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

var Module = fx.Module("clock",
	fx.Provide(New),
)

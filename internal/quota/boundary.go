package quota

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Reset boundaries are wall-clock aligned ("top of the hour", "local
// midnight"), not sliding windows anchored on the first send. Users can
// predict exactly when a window reopens; the tradeoff is a possible burst
// across a boundary, which is an accepted policy decision.
//
// Both specs parse with the standard 5-field parser, so failures are
// impossible at runtime; the package panics at init if they ever are not.
var (
	hourTop  = mustSchedule("0 * * * *")
	midnight = mustSchedule("0 0 * * *")
)

func mustSchedule(spec string) cron.Schedule {
	s, err := cron.ParseStandard(spec)
	if err != nil {
		panic("quota: bad boundary spec " + spec + ": " + err.Error())
	}
	return s
}

// nextHourBoundary returns the first top-of-hour strictly after now.
func nextHourBoundary(now time.Time, loc *time.Location) time.Time {
	return hourTop.Next(now.In(loc))
}

// nextMidnight returns the first local midnight strictly after now.
func nextMidnight(now time.Time, loc *time.Location) time.Time {
	return midnight.Next(now.In(loc))
}

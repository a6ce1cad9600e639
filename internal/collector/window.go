package collector

import (
	"math/rand"
	"time"

	"github.com/edvin/edgemetrics/internal/model"
)

// ComputeWindow returns the query interval for one refresh cycle:
// [now − delay − span, now − delay], truncated to whole minutes. The
// coordinator computes it once per cycle and pushes it down so every
// exporter touched by the cycle queries the same interval.
func ComputeWindow(now time.Time, delay, span time.Duration) model.TimeWindow {
	maxTime := now.Add(-delay).Truncate(time.Minute)
	return model.TimeWindow{
		MinTime: maxTime.Add(-span),
		MaxTime: maxTime,
	}
}

// NextWake returns the next aligned interval boundary after now, plus 1-5
// seconds of jitter to spread upstream load while keeping cycles clustered
// near each boundary.
func NextWake(now time.Time, interval time.Duration) time.Time {
	next := now.Truncate(interval).Add(interval)
	jitter := time.Duration(1+rand.Intn(5)) * time.Second
	return next.Add(jitter)
}

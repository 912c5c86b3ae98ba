package device

import (
	"time"

	"golang.org/x/sys/unix"
)

// NowNanos reads CLOCK_MONOTONIC, the clock every host stamp in the pipeline uses.
func NowNanos() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return time.Now().UnixNano()
	}
	return ts.Nano()
}

// busyFor keeps the calling goroutine occupied for d. Short spans spin since
// the scheduler cannot sleep for a few microseconds reliably.
func busyFor(d time.Duration) {
	if d <= 0 {
		return
	}
	if d >= 200*time.Microsecond {
		time.Sleep(d)
		return
	}
	end := NowNanos() + d.Nanoseconds()
	for NowNanos() < end {
	}
}

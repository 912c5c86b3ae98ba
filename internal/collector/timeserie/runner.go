package timeserie

import (
	"context"
	"time"
)

// Progress is a periodic view of a collector while a pipeline runs.
type Progress struct {
	Device int
	Thread int
	At     time.Time
	Units  int
	// New counts the units collected since the previous Progress.
	New    int
	Latest Sample
}

// Run emits a Progress every interval until ctx is done. A tick is dropped
// when the receiver is not ready.
func (tc *TimeSeriesCollector) Run(ctx context.Context, interval time.Duration) <-chan Progress {
	out := make(chan Progress, 1)

	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		prev := 0
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				latest, n := tc.last()
				if n < prev {
					prev = 0
				}
				p := Progress{Device: tc.device, Thread: tc.thread, At: now, Units: n, New: n - prev, Latest: latest}
				select {
				case out <- p:
					prev = n
				default:
				}
			}
		}
	}()

	return out
}

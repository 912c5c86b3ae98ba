package aggregator

import (
	"context"
	"time"
)

func (pa *ProgressAggregator) Run(ctx context.Context) <-chan []ThroughputWindow {
	out := make(chan []ThroughputWindow)

	go func() {
		defer close(out)
		ticker := time.NewTicker(pa.windowDuration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ws := pa.Flush(); len(ws) > 0 {
					select {
					case out <- ws:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out
}

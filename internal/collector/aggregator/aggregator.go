package aggregator

import (
	"sync"
	"time"

	"github.com/ALEYI17/InfraSight_infer/internal/collector/timeserie"
)

// ProgressAggregator folds periodic collector progress into per device
// throughput windows while a benchmark runs.
type ProgressAggregator struct {
	windows        map[int]*ThroughputWindow
	mu             sync.Mutex
	windowDuration time.Duration
}

func NewProgressAggregator(window time.Duration) *ProgressAggregator {
	return &ProgressAggregator{
		windows:        make(map[int]*ThroughputWindow),
		windowDuration: window,
	}
}

func (pa *ProgressAggregator) ensureWindow(dev int, now time.Time) *ThroughputWindow {
	win, ok := pa.windows[dev]
	if !ok {
		win = &ThroughputWindow{
			Device:      dev,
			WindowStart: now,
			WindowEnd:   now.Add(pa.windowDuration),
			Threads:     make(map[int]struct{}),
		}
		pa.windows[dev] = win
	}
	return win
}

func (pa *ProgressAggregator) Update(p timeserie.Progress) {
	pa.mu.Lock()
	defer pa.mu.Unlock()

	w := pa.ensureWindow(p.Device, p.At)
	w.Units += p.New
	w.Threads[p.Thread] = struct{}{}
	if p.New == 0 {
		return
	}
	w.Updates++
	lat := p.Latest.Latency(timeserie.SourceHost)
	w.AvgLatency = (w.AvgLatency*time.Duration(w.Updates-1) + lat) / time.Duration(w.Updates)
	w.MaxLatency = max(w.MaxLatency, lat)
}

// Flush returns the windows that have ended and forgets them.
func (pa *ProgressAggregator) Flush() []ThroughputWindow {
	pa.mu.Lock()
	defer pa.mu.Unlock()

	now := time.Now()
	var ret []ThroughputWindow
	for dev, w := range pa.windows {
		if now.Before(w.WindowEnd) {
			continue
		}
		if d := w.WindowEnd.Sub(w.WindowStart).Seconds(); d > 0 {
			w.UnitsPerSec = float64(w.Units) / d
		}
		ret = append(ret, *w)
		delete(pa.windows, dev)
	}
	return ret
}

package timeserie

import (
	"sync"
	"time"

	"github.com/ALEYI17/InfraSight_infer/pkg/types"
)

// TimeSeriesCollector keeps the timing of every unit one pipeline collects,
// in collection order.
type TimeSeriesCollector struct {
	mu      sync.Mutex
	device  int
	thread  int
	samples []Sample
	start   int64
	end     int64
}

func NewTimeSeriesCollector(device, thread int) *TimeSeriesCollector {
	return &TimeSeriesCollector{device: device, thread: thread}
}

func (tc *TimeSeriesCollector) Update(seq uint64, group int, recs [types.NumStages]types.TimingRecord) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.samples = append(tc.samples, Sample{Seq: seq, Group: group, Recs: recs})
}

func (tc *TimeSeriesCollector) Clear() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.samples = nil
	tc.start, tc.end = 0, 0
}

func (tc *TimeSeriesCollector) Len() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.samples)
}

// SetWindow records the host interval the samples were measured in.
func (tc *TimeSeriesCollector) SetWindow(start, end int64) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.start, tc.end = start, end
}

// Groups returns the shape group index of every sample.
func (tc *TimeSeriesCollector) Groups() []int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	ret := make([]int, len(tc.samples))
	for i, s := range tc.samples {
		ret[i] = s.Group
	}
	return ret
}

// Series returns one stage's durations on the given clock.
func (tc *TimeSeriesCollector) Series(stage int, src Source) []time.Duration {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	ret := make([]time.Duration, len(tc.samples))
	for i, s := range tc.samples {
		ret[i] = s.Value(stage, src)
	}
	return ret
}

func (tc *TimeSeriesCollector) Snapshot() Trace {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return Trace{
		Device:  tc.device,
		Thread:  tc.thread,
		Start:   tc.start,
		End:     tc.end,
		Samples: append([]Sample(nil), tc.samples...),
	}
}

func (tc *TimeSeriesCollector) last() (Sample, int) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if len(tc.samples) == 0 {
		return Sample{}, 0
	}
	return tc.samples[len(tc.samples)-1], len(tc.samples)
}

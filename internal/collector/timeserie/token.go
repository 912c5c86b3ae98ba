package timeserie

import (
	"time"

	"github.com/ALEYI17/InfraSight_infer/pkg/types"
)

// Source selects which clock of a TimingRecord a series is read from.
type Source int

const (
	SourceHost Source = iota
	SourceDevice
	SourceInterface
)

var sourceNames = [...]string{"host", "device", "interface"}

func (s Source) String() string {
	if int(s) < len(sourceNames) {
		return sourceNames[s]
	}
	return "invalid"
}

// Sample is the timing of one collected unit.
type Sample struct {
	Seq   uint64                              `msgpack:"seq"`
	Group int                                 `msgpack:"group"`
	Recs  [types.NumStages]types.TimingRecord `msgpack:"recs"`
}

// Value reads one stage's duration from the given clock.
func (s Sample) Value(stage int, src Source) time.Duration {
	r := s.Recs[stage]
	switch src {
	case SourceDevice:
		return r.Device
	case SourceInterface:
		return r.Interface
	default:
		return r.Host
	}
}

// Latency is the unit's end to end time on the given clock, the sum of its stages.
func (s Sample) Latency(src Source) time.Duration {
	var d time.Duration
	for i := range s.Recs {
		d += s.Value(i, src)
	}
	return d
}

// Trace is a snapshot of one collector, the measurement window is in host
// monotonic nanoseconds.
type Trace struct {
	Device  int      `msgpack:"device"`
	Thread  int      `msgpack:"thread"`
	Start   int64    `msgpack:"start"`
	End     int64    `msgpack:"end"`
	Samples []Sample `msgpack:"samples"`
}

// WallTime is the length of the measurement window.
func (t Trace) WallTime() time.Duration {
	if t.End <= t.Start {
		return 0
	}
	return time.Duration(t.End - t.Start)
}

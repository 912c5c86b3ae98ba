package device

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Device is a simulated accelerator. Its clock runs from device creation and
// may drift from the host clock by a fixed ratio.
type Device struct {
	id    int
	start int64
	drift float64

	busy      atomic.Int64
	allocated atomic.Int64
	queues    atomic.Int64
}

type Options struct {
	// Drift scales device time against host time, 1 when zero.
	Drift float64
}

func New(id int, opts Options) *Device {
	drift := opts.Drift
	if drift <= 0 {
		drift = 1
	}
	return &Device{id: id, start: NowNanos(), drift: drift}
}

func (d *Device) ID() int { return d.id }

// Now is the device clock in nanoseconds.
func (d *Device) Now() int64 {
	return int64(float64(NowNanos()-d.start) * d.drift)
}

// Run occupies the calling goroutine for cost, as device work, then calls fn.
func (d *Device) Run(cost time.Duration, fn func()) {
	busyFor(cost)
	if fn != nil {
		fn()
	}
	d.busy.Add(cost.Nanoseconds())
}

func (d *Device) Alloc(n int64) { d.allocated.Add(n) }
func (d *Device) Free(n int64)  { d.allocated.Add(-n) }

type Stats struct {
	ID             int
	BusyNanos      int64
	AllocatedBytes int64
	Queues         int64
}

func (d *Device) Stats() Stats {
	return Stats{
		ID:             d.id,
		BusyNanos:      d.busy.Load(),
		AllocatedBytes: d.allocated.Load(),
		Queues:         d.queues.Load(),
	}
}

func (d *Device) String() string {
	return fmt.Sprintf("sim-device-%d", d.id)
}

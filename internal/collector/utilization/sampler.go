package utilization

import (
	"context"
	"sync"
	"time"

	"github.com/ALEYI17/InfraSight_infer/internal/device"
	"github.com/ALEYI17/InfraSight_infer/pkg/logutil"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// HostSample is the process' CPU occupancy over one sampling period, in
// percent of one core, and its peak resident set.
type HostSample struct {
	At        time.Time
	UserPct   float64
	KernelPct float64
	PeakRSSMB float64
}

type DeviceSample struct {
	Device      int
	At          time.Time
	BusyPct     float64
	AllocatedMB float64
	Queues      int64
}

// StatsSource is anything reporting simulated device counters.
type StatsSource interface {
	Stats() device.Stats
}

// Sampler records host and device utilisation at a fixed interval.
type Sampler struct {
	interval time.Duration
	sources  []StatsSource

	mu      sync.Mutex
	host    []HostSample
	devices map[int][]DeviceSample

	lastAt    time.Time
	lastUsage unix.Rusage
	lastBusy  map[int]int64
}

func NewSampler(interval time.Duration, sources ...StatsSource) *Sampler {
	return &Sampler{
		interval: interval,
		sources:  sources,
		devices:  make(map[int][]DeviceSample),
		lastBusy: make(map[int]int64),
	}
}

// Run samples until ctx is done. The returned channel is closed once the
// sampler has stopped.
func (s *Sampler) Run(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	s.prime()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.sample(now)
			}
		}
	}()

	return done
}

func (s *Sampler) prime() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAt = time.Now()
	if err := unix.Getrusage(unix.RUSAGE_SELF, &s.lastUsage); err != nil {
		logutil.GetLogger().Warn("getrusage failed", zap.Error(err))
	}
	for _, src := range s.sources {
		st := src.Stats()
		s.lastBusy[st.ID] = st.BusyNanos
	}
}

func (s *Sampler) sample(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wall := now.Sub(s.lastAt)
	if wall <= 0 {
		return
	}

	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err == nil {
		user := time.Duration(ru.Utime.Nano() - s.lastUsage.Utime.Nano())
		sys := time.Duration(ru.Stime.Nano() - s.lastUsage.Stime.Nano())
		s.host = append(s.host, HostSample{
			At:        now,
			UserPct:   percentOf(user, wall),
			KernelPct: percentOf(sys, wall),
			// ru_maxrss is in kilobytes on linux
			PeakRSSMB: float64(ru.Maxrss) / 1024,
		})
		s.lastUsage = ru
	}

	for _, src := range s.sources {
		st := src.Stats()
		busy := time.Duration(st.BusyNanos - s.lastBusy[st.ID])
		s.lastBusy[st.ID] = st.BusyNanos
		s.devices[st.ID] = append(s.devices[st.ID], DeviceSample{
			Device:      st.ID,
			At:          now,
			BusyPct:     min(percentOf(busy, wall), 100),
			AllocatedMB: float64(st.AllocatedBytes) / (1 << 20),
			Queues:      st.Queues,
		})
	}
	s.lastAt = now
}

func percentOf(d, wall time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return float64(d) / float64(wall) * 100
}

func (s *Sampler) Host() []HostSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HostSample(nil), s.host...)
}

func (s *Sampler) Device(id int) []DeviceSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeviceSample(nil), s.devices[id]...)
}

package aggregator

import (
	"time"

	"github.com/ALEYI17/InfraSight_infer/internal/shapes"
	"github.com/ALEYI17/InfraSight_infer/pkg/types"
)

// StagePerf is one stage's statistics on each clock, in milliseconds.
type StagePerf struct {
	Host      PerformanceResult
	Device    PerformanceResult
	Interface PerformanceResult
}

// GroupAnalysis holds the overhead estimates of one shape group, per stage
// in H2D/Compute/D2H order, all in percent.
type GroupAnalysis struct {
	// Overhead1 is interface time beyond 80% of the host measured time.
	Overhead1 [types.NumStages]float64
	// Overhead2 is how much shorter the device clock measured than the host clock.
	Overhead2   [types.NumStages]float64
	InterfaceCV [types.NumStages]float64
	DeviceCV    [types.NumStages]float64
	HostCV      [types.NumStages]float64
	H2DRatio    float64
	D2HRatio    float64
}

type GroupReport struct {
	Index         int
	Shapes        shapes.Group
	Iterations    int
	Stages        [types.NumStages]StagePerf
	LatencyHost   PerformanceResult
	LatencyDevice PerformanceResult
	Analysis      *GroupAnalysis
}

type DeviceUtil struct {
	BusyPct     PerformanceResult
	AllocatedMB PerformanceResult
}

type HostUtil struct {
	UserPct   PerformanceResult
	KernelPct PerformanceResult
	PeakRSSMB PerformanceResult
}

// DeviceReport aggregates every thread that ran on one device.
type DeviceReport struct {
	Device        int
	Threads       int
	WallTime      time.Duration
	Iterations    int
	TotalBatch    int
	Throughput    float64
	IterPerSec    float64
	ComputeHost   time.Duration
	ComputeDevice time.Duration
	Groups        []GroupReport

	// Averages are the compute stage statistics over consecutive windows of
	// RunsPerAvg units.
	RunsPerAvg int
	Averages   []StagePerf

	Util *DeviceUtil

	Analyzed         bool
	EstNotifierRatio float64
	EstQueryRatio    float64
}

type Report struct {
	RunID    string
	Notifier types.NotifierType
	Groups   shapes.Groups
	Host     *HostUtil
	Devices  []DeviceReport
}

// ThroughputWindow is the progress of one device over a flush window.
type ThroughputWindow struct {
	Device      int
	WindowStart time.Time
	WindowEnd   time.Time

	Units   int
	Updates int
	Threads map[int]struct{}

	// latency of the latest unit seen per update, host clock
	AvgLatency time.Duration
	MaxLatency time.Duration

	UnitsPerSec float64
}

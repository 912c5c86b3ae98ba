package bench

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ALEYI17/InfraSight_infer/internal/config"
	"github.com/ALEYI17/InfraSight_infer/internal/loaders"
	"github.com/ALEYI17/InfraSight_infer/pkg/logutil"
	"github.com/ALEYI17/InfraSight_infer/pkg/types"
	"go.uber.org/zap/zaptest"
)

func smallConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Model = loaders.ModelSpec{
		Name:    "small",
		Inputs:  []loaders.TensorSpec{{Name: "x", Dims: []int{-1, 16}, ElemSize: 4}},
		Outputs: []loaders.TensorSpec{{Name: "y", Dims: []int{-1, 4}, ElemSize: 4}},
		Latency: loaders.LatencySpec{ComputeBase: 100 * time.Microsecond, CopyBase: 10 * time.Microsecond},
	}
	cfg.Devices = []int{0, 1}
	cfg.Threads = 2
	cfg.Warmup = 5 * time.Millisecond
	cfg.Iterations = 30
	cfg.AvgRuns = []int{10, 3}
	cfg.UtilInterval = 5 * time.Millisecond
	cfg.ProgressInterval = 10 * time.Millisecond
	cfg.TracePath = t.TempDir()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestRunnerMeasuresEveryPipeline(t *testing.T) {
	logutil.SetLogger(zaptest.NewLogger(t))
	defer logutil.SetLogger(nil)

	cfg := smallConfig(t)
	var created atomic.Int32
	r, err := NewRunner(cfg, func(kind string, dev int, spec loaders.ModelSpec) (types.Engine, error) {
		created.Add(1)
		return loaders.NewEngine(kind, dev, spec)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if created.Load() != 2 {
		t.Fatalf("created %d engines for 2 devices", created.Load())
	}
	if len(res.Traces) != 4 || len(res.Report.Devices) != 2 {
		t.Fatalf("traces/devices = %d/%d", len(res.Traces), len(res.Report.Devices))
	}
	for _, tr := range res.Traces {
		if len(tr.Samples) < cfg.Iterations {
			t.Fatalf("device %d thread %d measured %d units", tr.Device, tr.Thread, len(tr.Samples))
		}
		if tr.WallTime() <= 0 {
			t.Fatalf("device %d thread %d has no measurement window", tr.Device, tr.Thread)
		}
	}
	for _, dr := range res.Report.Devices {
		if dr.Threads != 2 || dr.Throughput <= 0 || !dr.Analyzed {
			t.Fatalf("device report = %+v", dr)
		}
	}

	paths, err := Dump(cfg.TracePath, res)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 {
		t.Fatalf("paths = %v", paths)
	}
	if fi, err := os.Stat(paths[0]); err != nil || fi.Size() == 0 {
		t.Fatalf("report file: %v", err)
	}
	traces, err := LoadTrace(paths[1])
	if err != nil {
		t.Fatal(err)
	}
	if len(traces) != len(res.Traces) || len(traces[0].Samples) != len(res.Traces[0].Samples) {
		t.Fatal("raw trace does not round trip")
	}
	if got, want := traces[0].Samples[0].Recs[types.StageDispatch], res.Traces[0].Samples[0].Recs[types.StageDispatch]; got != want {
		t.Fatalf("record = %+v, want %+v", got, want)
	}
}

func TestRunnerHostAsyncByDuration(t *testing.T) {
	logutil.SetLogger(zaptest.NewLogger(t))
	defer logutil.SetLogger(nil)

	cfg := smallConfig(t)
	cfg.Devices = []int{0}
	cfg.Threads = 1
	cfg.HostAsync = true
	cfg.Iterations = 0
	cfg.Duration = 30 * time.Millisecond
	cfg.UtilInterval = 0
	cfg.ProgressInterval = 0
	r, err := NewRunner(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Report.Devices[0].Iterations == 0 || res.Report.Devices[0].Util != nil {
		t.Fatalf("report = %+v", res.Report.Devices[0])
	}
}

func TestRunnerReportsEngineFailure(t *testing.T) {
	logutil.SetLogger(zaptest.NewLogger(t))
	defer logutil.SetLogger(nil)

	cfg := smallConfig(t)
	cfg.Engine = "gpu"
	r, err := NewRunner(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.Run(ctx); err == nil {
		t.Fatal("unknown engine accepted")
	}
}

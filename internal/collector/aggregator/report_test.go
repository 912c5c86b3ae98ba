package aggregator

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ALEYI17/InfraSight_infer/internal/collector/timeserie"
	"github.com/ALEYI17/InfraSight_infer/internal/collector/utilization"
	"github.com/ALEYI17/InfraSight_infer/internal/shapes"
	"github.com/ALEYI17/InfraSight_infer/pkg/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func uniformTrace(dev, thread, n int, groups int) timeserie.Trace {
	tr := timeserie.Trace{Device: dev, Thread: thread, Start: 0, End: int64(time.Second)}
	for i := 0; i < n; i++ {
		tr.Samples = append(tr.Samples, timeserie.Sample{
			Seq:   uint64(i + 1),
			Group: i % groups,
			Recs: [types.NumStages]types.TimingRecord{
				{Host: time.Millisecond, Device: time.Millisecond, Interface: 100 * time.Microsecond},
				{Host: 4 * time.Millisecond, Device: 3 * time.Millisecond, Interface: 4 * time.Millisecond},
				{Host: 2 * time.Millisecond, Device: 2 * time.Millisecond, Interface: 100 * time.Microsecond},
			},
		})
	}
	return tr
}

func twoGroups() shapes.Groups {
	return shapes.Groups{{Shapes: [][]int{{1, 4}}}, {Shapes: [][]int{{4, 4}}}}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestBuildReport(t *testing.T) {
	r, err := BuildReport(Input{
		RunID:    "run",
		Groups:   twoGroups(),
		Notifier: types.NotifierBoth,
		AvgRuns:  [2]int{10, 4},
		Devices: []DeviceInput{{
			Device: 0,
			Traces: []timeserie.Trace{uniformTrace(0, 0, 40, 2), uniformTrace(0, 1, 40, 2)},
			Util:   []utilization.DeviceSample{{BusyPct: 50}, {BusyPct: 70}},
		}},
		Host: []utilization.HostSample{{UserPct: 10, KernelPct: 1, PeakRSSMB: 30}},
	})
	if err != nil {
		t.Fatal(err)
	}
	dr := r.Devices[0]
	if dr.Threads != 2 || dr.Iterations != 80 || dr.WallTime != time.Second {
		t.Fatalf("threads/iterations/wall = %d/%d/%v", dr.Threads, dr.Iterations, dr.WallTime)
	}
	// 40 units of batch 1 and 40 of batch 4 in one second
	if dr.TotalBatch != 200 || !near(dr.Throughput, 200) || !near(dr.IterPerSec, 80) {
		t.Fatalf("batch/throughput/iters = %d/%v/%v", dr.TotalBatch, dr.Throughput, dr.IterPerSec)
	}
	if dr.ComputeHost != 320*time.Millisecond || dr.ComputeDevice != 240*time.Millisecond {
		t.Fatalf("compute = %v/%v", dr.ComputeHost, dr.ComputeDevice)
	}
	if len(dr.Groups) != 2 || dr.Groups[1].Iterations != 40 {
		t.Fatalf("groups = %+v", dr.Groups)
	}
	if got := dr.Groups[0].LatencyHost.Median; !near(got, 7) {
		t.Fatalf("host latency median = %v", got)
	}
	if len(dr.Averages) != 4 || dr.RunsPerAvg != 20 {
		t.Fatalf("averages = %d over %d", len(dr.Averages), dr.RunsPerAvg)
	}
	if dr.Util == nil || dr.Util.BusyPct.Max != 70 || r.Host == nil {
		t.Fatal("utilisation missing")
	}

	r.Analyze(false)
	a := r.Devices[0].Groups[0].Analysis
	if a == nil {
		t.Fatal("analysis missing")
	}
	// compute: 4ms interface over 0.8*4ms host
	if !near(a.Overhead1[types.StageDispatch], 25) || a.Overhead1[types.StageCopyIn] != 0 {
		t.Fatalf("overhead1 = %v", a.Overhead1)
	}
	if !near(a.Overhead2[types.StageDispatch], 25) || !near(a.H2DRatio, 25) || !near(a.D2HRatio, 50) {
		t.Fatalf("overhead2 = %v, ratios %v/%v", a.Overhead2, a.H2DRatio, a.D2HRatio)
	}
	if !near(r.Devices[0].EstNotifierRatio, 80*0.4e-3) {
		t.Fatalf("notifier ratio = %v", r.Devices[0].EstNotifierRatio)
	}
}

func TestAnalyzeHostAsync(t *testing.T) {
	r, err := BuildReport(Input{
		Groups: twoGroups(), Notifier: types.NotifierBoth, AvgRuns: [2]int{100, 10},
		Devices: []DeviceInput{{Traces: []timeserie.Trace{uniformTrace(0, 0, 10, 2)}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	r.Analyze(true)
	dr := r.Devices[0]
	if want := 10 * 0.4e-3 / 2; !near(dr.EstNotifierRatio, want) || !near(dr.EstQueryRatio, want/7*5) {
		t.Fatalf("ratios = %v/%v", dr.EstNotifierRatio, dr.EstQueryRatio)
	}
	if len(dr.Averages) != 0 {
		t.Fatalf("windows for a short run: %d", len(dr.Averages))
	}
}

func TestAnalyzeNeedsBothClocks(t *testing.T) {
	r, err := BuildReport(Input{
		Groups: twoGroups(), Notifier: types.NotifierHost, AvgRuns: [2]int{100, 10},
		Devices: []DeviceInput{{Traces: []timeserie.Trace{uniformTrace(0, 0, 10, 2)}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	r.Analyze(false)
	if r.Devices[0].Analyzed || r.Devices[0].Groups[0].Analysis != nil {
		t.Fatal("analysis ran without device clock")
	}
	if s := r.String(); strings.Contains(s, "dev clock") || !strings.Contains(s, "host clock") {
		t.Fatalf("summary prints clocks that were not recorded:\n%s", s)
	}
}

func TestBuildReportRejects(t *testing.T) {
	if _, err := BuildReport(Input{Groups: twoGroups(), Devices: []DeviceInput{{Device: 2}}}); err == nil {
		t.Fatal("empty device trace accepted")
	}
	bad := uniformTrace(0, 0, 3, 3)
	if _, err := BuildReport(Input{Groups: twoGroups(), Devices: []DeviceInput{{Traces: []timeserie.Trace{bad}}}}); err == nil {
		t.Fatal("sample with an unknown shape group accepted")
	}
}

func TestReportJSONAndPrint(t *testing.T) {
	r, err := BuildReport(Input{
		RunID: "abc", Groups: twoGroups(), Notifier: types.NotifierBoth, AvgRuns: [2]int{100, 10},
		Devices: []DeviceInput{{Traces: []timeserie.Trace{uniformTrace(0, 0, 10, 2)}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	r.Analyze(false)
	data, err := r.ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	var objs []map[string]any
	if err := json.Unmarshal(data, &objs); err != nil {
		t.Fatal(err)
	}
	if len(objs) != 1 || objs[0]["run_id"] != "abc" || objs[0]["iterations"] != float64(10) {
		t.Fatalf("json = %s", data)
	}
	traces := objs[0]["trace"].([]any)
	first := traces[0].(map[string]any)
	for _, k := range []string{"h2d(ms)", "compute(dev|ms)", "d2h interface(ms)", "latency(host|ms)", "OverHead1(%)"} {
		if _, ok := first[k]; !ok {
			t.Fatalf("trace lacks %q: %v", k, first)
		}
	}
	if _, ok := first["h2d(ms)"].(map[string]any)["percentile|90%|95%|99%"]; !ok {
		t.Fatal("percentiles missing from json")
	}

	core, logs := observer.New(zapcore.InfoLevel)
	r.Print(zap.New(core))
	if logs.FilterMessage("performance summary").Len() != 1 {
		t.Fatalf("logged: %v", logs.All())
	}
}

func TestProgressAggregatorFlush(t *testing.T) {
	pa := NewProgressAggregator(10 * time.Millisecond)
	now := time.Now()
	latest := timeserie.Sample{Recs: [types.NumStages]types.TimingRecord{{Host: time.Millisecond}, {Host: 2 * time.Millisecond}, {}}}
	pa.Update(timeserie.Progress{Device: 1, Thread: 0, At: now, Units: 5, New: 5, Latest: latest})
	pa.Update(timeserie.Progress{Device: 1, Thread: 1, At: now, Units: 3, New: 3, Latest: latest})
	pa.Update(timeserie.Progress{Device: 1, Thread: 1, At: now, Units: 3, New: 0})

	if ws := pa.Flush(); len(ws) != 0 {
		t.Fatalf("flushed an open window: %+v", ws)
	}
	time.Sleep(15 * time.Millisecond)
	ws := pa.Flush()
	if len(ws) != 1 {
		t.Fatalf("windows = %+v", ws)
	}
	w := ws[0]
	if w.Units != 8 || len(w.Threads) != 2 || w.AvgLatency != 3*time.Millisecond || !near(w.UnitsPerSec, 800) {
		t.Fatalf("window = %+v", w)
	}
	if len(pa.Flush()) != 0 {
		t.Fatal("window flushed twice")
	}
}

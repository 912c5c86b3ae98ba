package aggregator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ALEYI17/InfraSight_infer/internal/collector/timeserie"
	"github.com/ALEYI17/InfraSight_infer/internal/collector/utilization"
	"github.com/ALEYI17/InfraSight_infer/internal/shapes"
	"github.com/ALEYI17/InfraSight_infer/pkg/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DeviceInput is everything measured on one device.
type DeviceInput struct {
	Device int
	Traces []timeserie.Trace
	Util   []utilization.DeviceSample
}

type Input struct {
	RunID    string
	Groups   shapes.Groups
	Notifier types.NotifierType
	// AvgRuns is {units per window, max windows}.
	AvgRuns [2]int
	Devices []DeviceInput
	Host    []utilization.HostSample
}

func BuildReport(in Input) (*Report, error) {
	if len(in.Groups) == 0 {
		return nil, errors.New("report needs the shape groups")
	}
	r := &Report{RunID: in.RunID, Notifier: in.Notifier, Groups: in.Groups}
	if len(in.Host) > 0 {
		var user, kernel, rss []float64
		for _, h := range in.Host {
			user = append(user, h.UserPct)
			kernel = append(kernel, h.KernelPct)
			rss = append(rss, h.PeakRSSMB)
		}
		r.Host = &HostUtil{
			UserPct:   GetPerformanceResult(user),
			KernelPct: GetPerformanceResult(kernel),
			PeakRSSMB: GetPerformanceResult(rss),
		}
	}
	for _, d := range in.Devices {
		dr, err := buildDevice(in, d)
		if err != nil {
			return nil, err
		}
		r.Devices = append(r.Devices, *dr)
	}
	return r, nil
}

func buildDevice(in Input, d DeviceInput) (*DeviceReport, error) {
	dr := &DeviceReport{Device: d.Device, Threads: len(d.Traces)}

	var start, end int64
	var samples []timeserie.Sample
	for i, tr := range d.Traces {
		if i == 0 || tr.Start < start {
			start = tr.Start
		}
		end = max(end, tr.End)
		samples = append(samples, tr.Samples...)
	}
	if len(samples) == 0 {
		return nil, errors.Errorf("empty trace for device %d", d.Device)
	}
	if end > start {
		dr.WallTime = time.Duration(end - start)
	}
	dr.Iterations = len(samples)

	batch := in.Groups.BatchSizes()
	byGroup := make([][]timeserie.Sample, len(in.Groups))
	for _, s := range samples {
		if s.Group < 0 || s.Group >= len(in.Groups) {
			return nil, errors.Errorf("device %d: sample %d has shape group %d of %d", d.Device, s.Seq, s.Group, len(in.Groups))
		}
		byGroup[s.Group] = append(byGroup[s.Group], s)
		dr.TotalBatch += batch[s.Group]
		dr.ComputeHost += s.Recs[types.StageDispatch].Host
		dr.ComputeDevice += s.Recs[types.StageDispatch].Device
	}
	if secs := dr.WallTime.Seconds(); secs > 0 {
		dr.Throughput = float64(dr.TotalBatch) / secs
		dr.IterPerSec = float64(dr.Iterations) / secs
	}

	for g, ss := range byGroup {
		gr := GroupReport{Index: g, Shapes: in.Groups[g], Iterations: len(ss)}
		for st := 0; st < types.NumStages; st++ {
			gr.Stages[st] = stagePerf(ss, st)
		}
		gr.LatencyHost = GetPerformanceResult(latencies(ss, timeserie.SourceHost))
		gr.LatencyDevice = GetPerformanceResult(latencies(ss, timeserie.SourceDevice))
		dr.Groups = append(dr.Groups, gr)
	}

	// windows follow the time line of each thread, taking the same range of
	// every thread into a window
	windows := min(dr.Iterations/max(in.AvgRuns[0], 1), in.AvgRuns[1])
	if windows > 0 {
		dr.RunsPerAvg = dr.Iterations / windows
		for w := 0; w < windows; w++ {
			var win []timeserie.Sample
			for _, tr := range d.Traces {
				n := len(tr.Samples) / windows
				win = append(win, tr.Samples[n*w:n*w+n]...)
			}
			dr.Averages = append(dr.Averages, stagePerf(win, types.StageDispatch))
		}
	}

	if len(d.Util) > 0 {
		var busy, mem []float64
		for _, u := range d.Util {
			busy = append(busy, u.BusyPct)
			mem = append(mem, u.AllocatedMB)
		}
		dr.Util = &DeviceUtil{BusyPct: GetPerformanceResult(busy), AllocatedMB: GetPerformanceResult(mem)}
	}
	return dr, nil
}

func stagePerf(ss []timeserie.Sample, stage int) StagePerf {
	series := func(src timeserie.Source) []float64 {
		ret := make([]float64, len(ss))
		for i, s := range ss {
			ret[i] = millis(s.Value(stage, src))
		}
		return ret
	}
	return StagePerf{
		Host:      GetPerformanceResult(series(timeserie.SourceHost)),
		Device:    GetPerformanceResult(series(timeserie.SourceDevice)),
		Interface: GetPerformanceResult(series(timeserie.SourceInterface)),
	}
}

func latencies(ss []timeserie.Sample, src timeserie.Source) []float64 {
	ret := make([]float64, len(ss))
	for i, s := range ss {
		ret[i] = millis(s.Latency(src))
	}
	return ret
}

// interfaceThreshold is the share of the host measured time an interface
// call is expected to take.
const interfaceThreshold = 0.8

// Analyze estimates per stage overheads. It needs both clocks and is a no-op
// otherwise.
func (r *Report) Analyze(hostAsync bool) {
	if r.Notifier != types.NotifierBoth {
		return
	}
	for i := range r.Devices {
		r.Devices[i].analyze(hostAsync)
	}
}

func (dr *DeviceReport) analyze(hostAsync bool) {
	// two waits per unit, 20us each, one in host async mode
	dr.EstNotifierRatio = dr.IterPerSec * 0.4e-3
	if hostAsync {
		dr.EstNotifierRatio /= 2
	}
	// seven queries per unit, five in host async mode
	dr.EstQueryRatio = dr.IterPerSec * 1.4e-3
	if hostAsync {
		dr.EstQueryRatio = dr.EstNotifierRatio / 7 * 5
	}
	for g := range dr.Groups {
		gr := &dr.Groups[g]
		a := &GroupAnalysis{}
		for st, p := range gr.Stages {
			oh1 := (ratio(p.Interface.Median/interfaceThreshold, p.Host.Median) - 1) * 100
			copyStage := st != types.StageDispatch
			if oh1 < 0 || (copyStage && hostAsync) {
				oh1 = 0
			}
			a.Overhead1[st] = oh1
			a.Overhead2[st] = (1 - ratio(p.Device.Median, p.Host.Median)) * 100
			a.InterfaceCV[st] = p.Interface.CV * 100
			a.DeviceCV[st] = p.Device.CV * 100
			a.HostCV[st] = p.Host.CV * 100
		}
		compute := gr.Stages[types.StageDispatch].Host.Median
		a.H2DRatio = ratio(gr.Stages[types.StageCopyIn].Host.Median, compute) * 100
		a.D2HRatio = ratio(gr.Stages[types.StageCopyOut].Host.Median, compute) * 100
		gr.Analysis = a
	}
	dr.Analyzed = true
}

// ratio is a/b, 0 when b is 0.
func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func formatPerf(r PerformanceResult) string {
	return fmt.Sprintf("min: %-10.5g max: %-10.5g mean: %-10.5g median: %-10.5g percentile: (90%%) %-10.5g (95%%) %-10.5g (99%%) %-10.5g",
		r.Min, r.Max, r.Mean, r.Median, r.Percentile90, r.Percentile95, r.Percentile99)
}

func formatStages(v [types.NumStages]float64) string {
	return fmt.Sprintf("H2D: %-12.5g Compute: %-12.5g D2H: %-12.5g", v[0], v[1], v[2])
}

// String renders the report as the benchmark's text summary.
func (r *Report) String() string {
	var b strings.Builder
	if r.Host != nil {
		b.WriteString("\n=================== Host Occupancy Summary\n")
		fmt.Fprintf(&b, "%-30s%s\n", "UserMode Occupancy(%): ", formatPerf(r.Host.UserPct))
		fmt.Fprintf(&b, "%-30s%s\n", "KernelMode Occupancy(%): ", formatPerf(r.Host.KernelPct))
		fmt.Fprintf(&b, "%-30s%s\n", "Peak ResidentSet(MB): ", formatPerf(r.Host.PeakRSSMB))
	}
	for i := range r.Devices {
		r.Devices[i].write(&b, r.Notifier)
	}
	return b.String()
}

func (dr *DeviceReport) write(b *strings.Builder, t types.NotifierType) {
	if dr.Util != nil {
		fmt.Fprintf(b, "\n=================== Device %d Utilization Summary\n", dr.Device)
		fmt.Fprintf(b, "%-30s%s\n", "busy(%): ", formatPerf(dr.Util.BusyPct))
		fmt.Fprintf(b, "%-30s%s\n", "mem(MB): ", formatPerf(dr.Util.AllocatedMB))
	}
	fmt.Fprintf(b, "\n=================== Device %d Performance Summary\n", dr.Device)
	fmt.Fprintf(b, "%-40s%d\n", "Total iterations: ", dr.Iterations)
	fmt.Fprintf(b, "%-40s%.5g\n", "Host wall time(s): ", dr.WallTime.Seconds())
	if t.RecordHost() {
		fmt.Fprintf(b, "%-40s%.5g\n", "Total compute time(host clock, s): ", dr.ComputeHost.Seconds())
	}
	if t.RecordDev() {
		fmt.Fprintf(b, "%-40s%.5g\n", "Total compute time(dev clock, s): ", dr.ComputeDevice.Seconds())
	}
	fmt.Fprintf(b, "%-40s%.5g with total batch sizes: %d and %.5g iterations/second\n",
		"Throughput (qps): ", dr.Throughput, dr.TotalBatch, dr.IterPerSec)
	for _, gr := range dr.Groups {
		fmt.Fprintf(b, "Input shape group %d: %s (%d iterations)\n", gr.Index, gr.Shapes, gr.Iterations)
		for st, p := range gr.Stages {
			fmt.Fprintf(b, "  %s Summary:\n", types.StageNames[st])
			writeClocks(b, t, p)
		}
		if t.DoRecord() {
			b.WriteString("  Total Latency Summary(H2D + Compute + D2H):\n")
		}
		if t.RecordHost() {
			fmt.Fprintf(b, "  %-30s%s\n", "Latency(host clock, ms): ", formatPerf(gr.LatencyHost))
		}
		if t.RecordDev() {
			fmt.Fprintf(b, "  %-30s%s\n", "Latency(dev clock, ms): ", formatPerf(gr.LatencyDevice))
		}
	}
	if len(dr.Averages) > 0 {
		fmt.Fprintf(b, "Trace average compute perf over %d:\n", dr.RunsPerAvg)
		for _, p := range dr.Averages {
			if t.RecordHost() {
				fmt.Fprintf(b, "  Latency(host clock, ms): %-10.5g", p.Host.Mean)
			}
			if t.RecordDev() {
				fmt.Fprintf(b, "  Latency(dev clock, ms): %-10.5g", p.Device.Mean)
			}
			fmt.Fprintf(b, "  Interface Duration(ms): %-10.5g\n", p.Interface.Mean)
		}
	}
	if !dr.Analyzed {
		return
	}
	fmt.Fprintf(b, "\n=================== Device %d Analysis Summary\n", dr.Device)
	fmt.Fprintf(b, "%-30s%.5g\n", "Estimate notifier ratio(%): ", dr.EstNotifierRatio)
	fmt.Fprintf(b, "%-30s%.5g\n", "Estimate query ratio(%): ", dr.EstQueryRatio)
	for _, gr := range dr.Groups {
		a := gr.Analysis
		fmt.Fprintf(b, "Input shape group %d: %s\n", gr.Index, gr.Shapes)
		fmt.Fprintf(b, "%-30s%s\n", "OverHead1(%): ", formatStages(a.Overhead1))
		fmt.Fprintf(b, "%-30s%s\n", "OverHead2(%): ", formatStages(a.Overhead2))
		fmt.Fprintf(b, "%-30s%s\n", "Interface C.V(%): ", formatStages(a.InterfaceCV))
		fmt.Fprintf(b, "%-30s%s\n", "Dev Time C.V(%): ", formatStages(a.DeviceCV))
		fmt.Fprintf(b, "%-30s%s\n", "Host Time C.V(%): ", formatStages(a.HostCV))
		fmt.Fprintf(b, "%-30s%.5g\n", "H2D/Compute ratio(%): ", a.H2DRatio)
		fmt.Fprintf(b, "%-30s%.5g\n", "D2H/Compute ratio(%): ", a.D2HRatio)
	}
}

func writeClocks(b *strings.Builder, t types.NotifierType, p StagePerf) {
	if t.RecordHost() {
		fmt.Fprintf(b, "  %-30s%s\n", "Latency(host clock, ms): ", formatPerf(p.Host))
	}
	if t.RecordDev() {
		fmt.Fprintf(b, "  %-30s%s\n", "Latency(dev clock, ms): ", formatPerf(p.Device))
	}
	fmt.Fprintf(b, "  %-30s%s\n", "Interface Duration(ms): ", formatPerf(p.Interface))
}

// Print logs the text summary plus one structured line per device.
func (r *Report) Print(logger *zap.Logger) {
	logger.Info(r.String())
	for _, dr := range r.Devices {
		logger.Info("performance summary",
			zap.String("run_id", r.RunID),
			zap.Int("device", dr.Device),
			zap.Int("threads", dr.Threads),
			zap.Int("iterations", dr.Iterations),
			zap.Duration("wall_time", dr.WallTime),
			zap.Float64("throughput_qps", dr.Throughput),
			zap.Float64("iterations_per_second", dr.IterPerSec))
	}
}

func stageJSON(trace map[string]any, t types.NotifierType, host, dev, iface string, p StagePerf) {
	if t.RecordHost() {
		trace[host] = p.Host
	}
	if t.RecordDev() {
		trace[dev] = p.Device
	}
	trace[iface] = p.Interface
}

func perStage(v [types.NumStages]float64) map[string]float64 {
	return map[string]float64{"H2D": v[0], "Enq": v[1], "D2H": v[2]}
}

// ToJSON renders one object per device.
func (r *Report) ToJSON() ([]byte, error) {
	inputType := 0
	if r.Groups.HasNames() {
		inputType = 1
	}
	var objs []map[string]any
	for _, dr := range r.Devices {
		obj := map[string]any{
			"run_id":              r.RunID,
			"device":              dr.Device,
			"iterations":          dr.Iterations,
			"inputType":           inputType,
			"throughput(qps)":     dr.Throughput,
			"computeTime(s)":      dr.ComputeHost.Seconds(),
			"computeTime(dev|s)":  dr.ComputeDevice.Seconds(),
			"hostWallTime(s)":     dr.WallTime.Seconds(),
			"iterationsPerSecond": dr.IterPerSec,
		}
		if dr.Util != nil {
			obj["busy(%)"] = dr.Util.BusyPct
			obj["mem(MB)"] = dr.Util.AllocatedMB
		}
		if dr.Analyzed {
			obj["notifier ratio(%)"] = dr.EstNotifierRatio
			obj["query ratio(%)"] = dr.EstQueryRatio
		}
		var traces []map[string]any
		for _, gr := range dr.Groups {
			trace := map[string]any{"inputDims": gr.Shapes.Shapes}
			if gr.Shapes.HasNames() {
				trace["inputNames"] = gr.Shapes.Names
			}
			stageJSON(trace, r.Notifier, "h2d(ms)", "h2d(dev|ms)", "h2d interface(ms)", gr.Stages[types.StageCopyIn])
			stageJSON(trace, r.Notifier, "compute(ms)", "compute(dev|ms)", "enqueue(ms)", gr.Stages[types.StageDispatch])
			stageJSON(trace, r.Notifier, "d2h(ms)", "d2h(dev|ms)", "d2h interface(ms)", gr.Stages[types.StageCopyOut])
			if r.Notifier.RecordHost() {
				trace["latency(host|ms)"] = gr.LatencyHost
			}
			if r.Notifier.RecordDev() {
				trace["latency(dev|ms)"] = gr.LatencyDevice
			}
			if a := gr.Analysis; a != nil {
				trace["OverHead1(%)"] = perStage(a.Overhead1)
				trace["OverHead2(%)"] = perStage(a.Overhead2)
				trace["Interface CV(%)"] = perStage(a.InterfaceCV)
				trace["Dev CV(%)"] = perStage(a.DeviceCV)
				trace["Host CV(%)"] = perStage(a.HostCV)
				trace["H2D/Compute ratio(%)"] = a.H2DRatio
				trace["D2H/Compute ratio(%)"] = a.D2HRatio
			}
			traces = append(traces, trace)
		}
		obj["trace"] = traces
		objs = append(objs, obj)
	}
	if r.Host != nil {
		objs = append(objs, map[string]any{
			"run_id":                  r.RunID,
			"UserMode Occupancy(%)":   r.Host.UserPct,
			"KernelMode Occupancy(%)": r.Host.KernelPct,
			"Peak ResidentSet(MB)":    r.Host.PeakRSSMB,
		})
	}
	return json.MarshalIndent(objs, "", "  ")
}

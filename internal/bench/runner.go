package bench

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ALEYI17/InfraSight_infer/internal/collector/aggregator"
	"github.com/ALEYI17/InfraSight_infer/internal/collector/timeserie"
	"github.com/ALEYI17/InfraSight_infer/internal/collector/utilization"
	"github.com/ALEYI17/InfraSight_infer/internal/config"
	"github.com/ALEYI17/InfraSight_infer/internal/device"
	"github.com/ALEYI17/InfraSight_infer/internal/loaders"
	"github.com/ALEYI17/InfraSight_infer/internal/pipeline"
	"github.com/ALEYI17/InfraSight_infer/internal/shapes"
	"github.com/ALEYI17/InfraSight_infer/pkg/logutil"
	"github.com/ALEYI17/InfraSight_infer/pkg/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// minTick bounds how fast the progress runners poll.
const minTick = time.Millisecond

// EngineFactory creates the engine of one device.
type EngineFactory func(kind string, deviceID int, spec loaders.ModelSpec) (types.Engine, error)

// Runner benchmarks the configured pipelines on every device and thread.
type Runner struct {
	cfg    *config.Config
	groups shapes.Groups
	runID  string
	logger *zap.Logger

	newEngine EngineFactory
	mu        sync.Mutex
	engines   map[int]types.Engine

	collectors map[int][]*timeserie.TimeSeriesCollector
}

// Result is what a finished run measured.
type Result struct {
	RunID  string
	Traces []timeserie.Trace
	Report *aggregator.Report
}

func NewRunner(cfg *config.Config, factory EngineFactory) (*Runner, error) {
	groups, err := cfg.ShapeGroups()
	if err != nil {
		return nil, err
	}
	if factory == nil {
		factory = loaders.NewEngine
	}
	r := &Runner{
		cfg:        cfg,
		groups:     groups,
		runID:      uuid.New().String(),
		newEngine:  factory,
		engines:    make(map[int]types.Engine),
		collectors: make(map[int][]*timeserie.TimeSeriesCollector),
	}
	r.logger = logutil.GetLogger().With(zap.String("run_id", r.runID))
	if cfg.DisableDataCopy && (cfg.InferDepth > 1 || cfg.BufferDepth > 1) {
		r.logger.Warn("data copy is disabled while depth > 1, units share device buffers",
			zap.Int("infer_depth", cfg.InferDepth),
			zap.Int("buffer_depth", cfg.BufferDepth))
	}
	for _, dev := range cfg.Devices {
		for t := 0; t < cfg.Threads; t++ {
			r.collectors[dev] = append(r.collectors[dev], timeserie.NewTimeSeriesCollector(dev, t))
		}
	}
	return r, nil
}

func (r *Runner) RunID() string { return r.runID }

// engine creates each device's engine once, whichever thread asks first.
func (r *Runner) engine(dev int) (types.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[dev]; ok {
		return e, nil
	}
	e, err := r.newEngine(r.cfg.Engine, dev, r.cfg.Model)
	if err != nil {
		return nil, errors.Wrapf(err, "create engine on device %d", dev)
	}
	r.engines[dev] = e
	info := e.Info()
	r.logger.Info("engine created",
		zap.Int("device", dev),
		zap.String("model", info.Name),
		zap.Int64("const_bytes", info.ConstDataSize),
		zap.Int64("workspace_bytes", info.WorkspaceSize))
	return e, nil
}

// Run warms up and measures every pipeline, starting them together, and
// builds the report. Cancelling ctx ends the measurement early.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	start := make(chan struct{})
	var ready sync.WaitGroup

	for _, dev := range r.cfg.Devices {
		for thread, tc := range r.collectors[dev] {
			ready.Add(1)
			markReady := sync.OnceFunc(ready.Done)
			g.Go(func() error {
				defer markReady()
				return r.runThread(gctx, dev, thread, tc, markReady, start)
			})
		}
	}

	ready.Wait()
	monCtx, stopMon := context.WithCancel(ctx)
	monDone := r.monitor(monCtx)
	sampler := r.startSampler(monCtx)
	close(start)

	err := g.Wait()
	stopMon()
	<-monDone
	if sampler != nil {
		<-sampler.done
	}
	r.logger.Info("Inference finished")
	if err != nil {
		return nil, multierr.Append(err, r.Close())
	}

	res := &Result{RunID: r.runID}
	in := aggregator.Input{
		RunID:    r.runID,
		Groups:   r.groups,
		Notifier: r.cfg.Notifier(),
		AvgRuns:  [2]int{r.cfg.AvgRuns[0], r.cfg.AvgRuns[1]},
	}
	for _, dev := range r.cfg.Devices {
		di := aggregator.DeviceInput{Device: dev}
		for _, tc := range r.collectors[dev] {
			tr := tc.Snapshot()
			di.Traces = append(di.Traces, tr)
			res.Traces = append(res.Traces, tr)
		}
		if sampler != nil {
			di.Util = sampler.Device(dev)
		}
		in.Devices = append(in.Devices, di)
	}
	if sampler != nil {
		in.Host = sampler.Host()
	}
	report, err := aggregator.BuildReport(in)
	if err != nil {
		return nil, err
	}
	report.Analyze(r.cfg.HostAsync)
	res.Report = report
	return res, nil
}

func (r *Runner) runThread(ctx context.Context, dev, thread int, tc *timeserie.TimeSeriesCollector, markReady func(), start <-chan struct{}) error {
	name := fmt.Sprintf("dev_%d_thread_%d", dev, thread)
	engine, err := r.engine(dev)
	if err != nil {
		return err
	}
	inf, err := pipeline.NewInfer(pipeline.Setup{
		Name:        name,
		Engine:      engine,
		Copy:        !r.cfg.DisableDataCopy,
		HostAsync:   r.cfg.HostAsync,
		Notifier:    r.cfg.Notifier(),
		InferDepth:  r.cfg.InferDepth,
		BufferDepth: r.cfg.BufferDepth,
		Groups:      r.groups,
		OutputMode:  r.cfg.Output(),
		Trace:       tc,
		Logger:      r.logger,
	})
	if err != nil {
		return errors.Wrap(err, name)
	}
	defer inf.Close()

	markReady()
	select {
	case <-start:
	case <-ctx.Done():
		return ctx.Err()
	}

	logger := r.logger.With(zap.String("pipeline", name))
	warm := time.Now()
	for total := time.Duration(0); total < r.cfg.Warmup && ctx.Err() == nil; {
		total = step(inf)
	}
	inf.SyncAll()
	logger.Debug("warm-up done", zap.Duration("took", time.Since(warm)))
	inf.ClearTrace()

	begin := device.NowNanos()
	var total time.Duration
	for iter := r.cfg.Iterations; (iter > 0 || total < r.cfg.Duration) && ctx.Err() == nil; {
		if d := step(inf); d != total {
			iter--
			total = d
		}
	}
	inf.SyncAll()
	tc.SetWindow(begin, device.NowNanos())

	stalls := inf.Stalls()
	logger.Info("Run finished",
		zap.Stringer("infer", inf.ID()),
		zap.Duration("total_duration", total),
		zap.Int("units", tc.Len()),
		zap.Ints("stalls", stalls[:]))
	logger.Debug(inf.DebugString())
	return nil
}

// step drives one query/sync round and returns the current duration.
func step(inf *pipeline.Infer) time.Duration {
	if !inf.Query() {
		runtime.Gosched()
	}
	return inf.Sync()
}

// monitor logs throughput windows built from collector progress.
func (r *Runner) monitor(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if r.cfg.ProgressInterval <= 0 {
		close(done)
		return done
	}
	pa := aggregator.NewProgressAggregator(r.cfg.ProgressInterval)
	var wg sync.WaitGroup
	for _, dev := range r.cfg.Devices {
		for _, tc := range r.collectors[dev] {
			progress := tc.Run(ctx, max(r.cfg.ProgressInterval/2, minTick))
			wg.Add(1)
			go func() {
				defer wg.Done()
				for p := range progress {
					pa.Update(p)
				}
			}()
		}
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ws := range pa.Run(ctx) {
			for _, w := range ws {
				r.logger.Info("progress",
					zap.Int("device", w.Device),
					zap.Int("threads", len(w.Threads)),
					zap.Int("units", w.Units),
					zap.Float64("units_per_sec", w.UnitsPerSec),
					zap.Duration("avg_latency", w.AvgLatency),
					zap.Duration("max_latency", w.MaxLatency))
			}
		}
	}()
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

type runningSampler struct {
	*utilization.Sampler
	done <-chan struct{}
}

func (r *Runner) startSampler(ctx context.Context) *runningSampler {
	if r.cfg.UtilInterval <= 0 {
		return nil
	}
	var sources []utilization.StatsSource
	r.mu.Lock()
	for _, e := range r.engines {
		if d, ok := e.(interface{ Device() *device.Device }); ok {
			sources = append(sources, d.Device())
		}
	}
	r.mu.Unlock()
	s := utilization.NewSampler(r.cfg.UtilInterval, sources...)
	return &runningSampler{Sampler: s, done: s.Run(ctx)}
}

// Close releases every engine.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for dev, e := range r.engines {
		if s, ok := e.(interface{ Submitted() int64 }); ok {
			r.logger.Debug("closing engine", zap.Int("device", dev), zap.Int64("submitted", s.Submitted()))
		}
		err = multierr.Append(err, e.Close())
		delete(r.engines, dev)
	}
	return err
}

package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/ALEYI17/InfraSight_infer/internal/shapes"
	"github.com/ALEYI17/InfraSight_infer/pkg/logutil"
	"github.com/ALEYI17/InfraSight_infer/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/xid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Setup configures one pipelined inference instance.
type Setup struct {
	Name        string
	Engine      types.Engine
	Copy        bool
	HostAsync   bool
	Notifier    types.NotifierType
	InferDepth  int
	BufferDepth int
	Groups      shapes.Groups
	OutputMode  types.OutputMode
	Trace       types.Trace_collectors
	Logger      *zap.Logger
}

// arena owns the buffer sets of every slot. Inputs are indexed by copy in
// slot, outputs by dispatch slot.
type arena struct {
	inputs  []types.BufferSet
	outputs []types.BufferSet
}

// Infer drives the three stage pipeline from a single goroutine. Query,
// Sync, SyncAll and ClearTrace must not be called concurrently.
type Infer struct {
	set    Setup
	id     xid.ID
	ctx    types.Context
	arena  *arena
	logger *zap.Logger

	cpinFifo  *Fifo
	enqFifo   *Fifo
	cpoutFifo *Fifo

	cpyIn  *CopyIn
	enq    *Dispatch
	cpyOut *CopyOut

	canQuery  bool
	collected uint64
}

func NewInfer(set Setup) (inf *Infer, err error) {
	if set.InferDepth < 1 || set.BufferDepth < 1 {
		return nil, errors.Wrapf(types.ErrInvalidDepth, "infer_depth=%d buffer_depth=%d", set.InferDepth, set.BufferDepth)
	}
	if set.Engine == nil {
		return nil, errors.New("pipeline needs an engine")
	}
	if err := set.Groups.Validate(); err != nil {
		return nil, err
	}
	if set.Trace == nil {
		set.Trace = nopTrace{}
	}
	id := xid.New()
	logger := set.Logger
	if logger == nil {
		logger = logutil.GetLogger()
	}
	logger = logger.With(zap.String("infer", id.String()))
	if set.Name != "" {
		logger = logger.With(zap.String("name", set.Name))
	}

	inf = &Infer{set: set, id: id, logger: logger, arena: &arena{}}
	defer func() {
		if err != nil {
			err = multierr.Append(err, inf.Close())
			inf = nil
		}
	}()

	if inf.ctx, err = set.Engine.CreateContext(); err != nil {
		return inf, errors.Wrap(err, "create context")
	}
	for i := 0; i < set.BufferDepth; i++ {
		in, err := inf.ctx.CreateInputBuffers()
		if err != nil {
			return inf, errors.Wrap(err, "create input buffers")
		}
		inf.arena.inputs = append(inf.arena.inputs, in)
		if err := in.Bind(set.Groups[0].Shapes); err != nil {
			return inf, errors.Wrapf(err, "bind inputs to %s", set.Groups[0])
		}
	}
	mode, outputs, err := createOutputs(inf.ctx, set.OutputMode, set.Groups, set.InferDepth)
	inf.arena.outputs = outputs
	if err != nil {
		return inf, err
	}

	// copy-in may run buffer_depth slots ahead of dispatch; a shallower fifo
	// blocks the driver when buffer_depth > infer_depth.
	if inf.cpinFifo, err = NewFifo(set.BufferDepth); err != nil {
		return inf, err
	}
	if inf.enqFifo, err = NewFifo(set.InferDepth); err != nil {
		return inf, err
	}
	if inf.cpoutFifo, err = NewFifo(set.InferDepth); err != nil {
		return inf, err
	}

	inf.cpyIn, err = newCopyIn(set.Engine, stageOptions{
		name: types.StageNames[types.StageCopyIn], index: types.StageCopyIn,
		depth: set.BufferDepth, onHost: set.HostAsync, skip: !set.Copy,
		notifier: set.Notifier, out: inf.cpinFifo,
	}, inf.arena, set.Groups, logger)
	if err != nil {
		return inf, err
	}
	inf.enq, err = newDispatch(set.Engine, stageOptions{
		name: types.StageNames[types.StageDispatch], index: types.StageDispatch,
		depth: set.InferDepth, onHost: set.HostAsync,
		notifier: set.Notifier, in: inf.cpinFifo, out: inf.enqFifo,
	}, inf.ctx, mode, inf.arena, set.Groups, logger)
	if err != nil {
		return inf, err
	}
	inf.cpyOut, err = newCopyOut(set.Engine, stageOptions{
		name: types.StageNames[types.StageCopyOut], index: types.StageCopyOut,
		depth: set.InferDepth, onHost: set.HostAsync, skip: !set.Copy,
		notifier: set.Notifier, in: inf.enqFifo, out: inf.cpoutFifo,
	}, inf.arena, logger)
	if err != nil {
		return inf, err
	}
	inf.enq.SetDurationStart()

	logger.Debug("pipeline ready",
		zap.Stringer("output_mode", mode),
		zap.Int("infer_depth", set.InferDepth),
		zap.Int("buffer_depth", set.BufferDepth),
		zap.Bool("host_async", set.HostAsync),
		zap.Bool("copy", set.Copy),
		zap.Stringer("trace_time", set.Notifier))
	return inf, nil
}

// createOutputs resolves the output mode and allocates the dispatch slots'
// output buffers. In auto mode an engine that cannot preallocate outputs, or
// cannot infer their shapes on the host, falls back to dynamic outputs.
func createOutputs(ctx types.Context, mode types.OutputMode, groups shapes.Groups, n int) (types.OutputMode, []types.BufferSet, error) {
	outputs := make([]types.BufferSet, n)
	if mode == types.OutputDynamic {
		return mode, outputs, nil
	}
	if mode == types.OutputFixed && len(groups) > 1 {
		return mode, outputs, errors.Errorf("fixed outputs need a single shape group, got %d", len(groups))
	}
	first, err := ctx.CreateOutputBuffers()
	if err != nil {
		if mode == types.OutputAuto && errors.Is(err, types.ErrUnavailable) {
			return types.OutputDynamic, outputs, nil
		}
		return mode, outputs, errors.Wrap(err, "create output buffers")
	}
	shape, err := ctx.InferOutputShape(groups[0].Shapes)
	if err != nil {
		_ = first.Close()
		if mode == types.OutputAuto && errors.Is(err, types.ErrUnavailable) {
			return types.OutputDynamic, outputs, nil
		}
		return mode, outputs, errors.Wrap(err, "infer output shapes")
	}
	if mode == types.OutputAuto {
		mode = types.OutputFixed
		if len(groups) > 1 {
			mode = types.OutputInferred
		}
	}
	for i := range outputs {
		out := first
		if i > 0 {
			if out, err = ctx.CreateOutputBuffers(); err != nil {
				return mode, outputs, errors.Wrap(err, "create output buffers")
			}
		}
		outputs[i] = out
		if err := out.Bind(shape); err != nil {
			return mode, outputs, errors.Wrap(err, "bind outputs")
		}
	}
	return mode, outputs, nil
}

// Query runs each stage once and reports whether any stage advanced a unit.
func (inf *Infer) Query() bool {
	idleIn := inf.cpyIn.DoStage()
	idleEnq := inf.enq.DoStage()
	idleOut := inf.cpyOut.DoStage()
	inf.canQuery = idleIn && idleEnq && idleOut
	return !inf.canQuery
}

// Sync collects the oldest finished unit when the last Query made no
// progress, and returns the dispatch time of the last collected unit
// relative to the duration anchor.
func (inf *Infer) Sync() time.Duration {
	if inf.canQuery && inf.cpoutFifo.Len() > 0 {
		inf.popOne()
	}
	return inf.enq.LastDuration()
}

// SyncAll drains every unit in flight. No new units are admitted.
func (inf *Infer) SyncAll() {
	for inf.cpinFifo.Len() > 0 || inf.enqFifo.Len() > 0 {
		idleEnq := inf.enq.DoStage()
		idleOut := inf.cpyOut.DoStage()
		if idleEnq && idleOut && inf.cpoutFifo.Len() > 0 {
			inf.popOne()
		}
	}
	for inf.cpoutFifo.Len() > 0 {
		inf.popOne()
	}
}

// popOne collects the oldest unit. A unit that failed in any stage ends the
// process here, after every unit ahead of it has been collected.
func (inf *Infer) popOne() {
	u := inf.cpoutFifo.Pop()
	err := u.Err
	if err == nil && u.Host != nil {
		u.Host.Wait()
		err = u.Host.Err()
	}
	if err != nil {
		inf.logger.Fatal("inference unit failed",
			zap.Uint64("seq", u.Seq),
			zap.Int("group", u.Group),
			zap.Uint64("collected", inf.collected),
			zap.Error(err))
		return
	}
	if u.Dev != nil && (!inf.set.HostAsync || !inf.set.Copy) {
		inf.waitMarker(u.Dev)
	}

	var recs [types.NumStages]types.TimingRecord
	recs[types.StageCopyIn] = inf.cpyIn.collect(u.Slots[types.StageCopyIn])
	recs[types.StageDispatch] = inf.enq.collect(u.Slots[types.StageDispatch])
	recs[types.StageCopyOut] = inf.cpyOut.collect(u.Slots[types.StageCopyOut])
	inf.set.Trace.Update(u.Seq, u.Group, recs)

	inf.cpyIn.ResetActive(u.Slots[types.StageCopyIn])
	inf.enq.ResetActive(u.Slots[types.StageDispatch])
	inf.cpyOut.ResetActive(u.Slots[types.StageCopyOut])
	inf.collected++
}

func (inf *Infer) waitMarker(m types.Marker) {
	if err := m.Wait(); err != nil {
		inf.logger.Fatal("wait for unit", zap.Error(err))
	}
}

// ClearTrace drops collected timings and restarts the duration anchor.
func (inf *Infer) ClearTrace() {
	inf.set.Trace.Clear()
	inf.enq.SetDurationStart()
}

func (inf *Infer) ID() xid.ID { return inf.id }

func (inf *Infer) OutputMode() types.OutputMode { return inf.enq.Mode() }

// Collected is the number of units collected since creation.
func (inf *Infer) Collected() uint64 { return inf.collected }

// InFlight returns the number of active slots per stage.
func (inf *Infer) InFlight() [types.NumStages]int {
	return [types.NumStages]int{inf.cpyIn.ActiveCount(), inf.enq.ActiveCount(), inf.cpyOut.ActiveCount()}
}

func (inf *Infer) FifoLens() [types.NumStages]int {
	return [types.NumStages]int{inf.cpinFifo.Len(), inf.enqFifo.Len(), inf.cpoutFifo.Len()}
}

func (inf *Infer) Rebinds() int { return inf.cpyIn.Rebinds() }

func (inf *Infer) Stalls() [types.NumStages]int {
	return [types.NumStages]int{inf.cpyIn.Stalls(), inf.enq.Stalls(), inf.cpyOut.Stalls()}
}

func (inf *Infer) DebugString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Infer %s", inf.ID())
	if inf.set.Name != "" {
		fmt.Fprintf(&b, " (%s)", inf.set.Name)
	}
	fmt.Fprintf(&b, "\n  infer_depth: %d, buffer_depth: %d, host_async: %t, copy: %t, trace_time: %s, output_mode: %s\n",
		inf.set.InferDepth, inf.set.BufferDepth, inf.set.HostAsync, inf.set.Copy, inf.set.Notifier, inf.OutputMode())
	fmt.Fprintf(&b, "  shape groups: %s\n", inf.set.Groups)
	for _, st := range []*Stage{inf.cpyIn.Stage, inf.enq.Stage, inf.cpyOut.Stage} {
		fmt.Fprintf(&b, "  %s: depth %d, stalls %d, slot uses %v\n", st.name, st.Depth(), st.Stalls(), st.slotUses())
	}
	for i, in := range inf.arena.inputs {
		fmt.Fprintf(&b, "  input slot %d: %s\n", i, in.DebugString())
	}
	for i, out := range inf.arena.outputs {
		if out == nil {
			fmt.Fprintf(&b, "  output slot %d: <allocated at dispatch>\n", i)
			continue
		}
		fmt.Fprintf(&b, "  output slot %d: %s\n", i, out.DebugString())
	}
	return b.String()
}

// Close releases the stages, buffers and context. Units still in flight
// should be drained with SyncAll first.
func (inf *Infer) Close() error {
	var err error
	if inf.cpyIn != nil {
		err = multierr.Append(err, inf.cpyIn.close())
	}
	if inf.enq != nil {
		err = multierr.Append(err, inf.enq.close())
	}
	if inf.cpyOut != nil {
		err = multierr.Append(err, inf.cpyOut.close())
	}
	for _, in := range inf.arena.inputs {
		err = multierr.Append(err, in.Close())
	}
	for _, out := range inf.arena.outputs {
		if out != nil {
			err = multierr.Append(err, out.Close())
		}
	}
	if inf.ctx != nil {
		err = multierr.Append(err, inf.ctx.Close())
	}
	return err
}

type nopTrace struct{}

func (nopTrace) Update(uint64, int, [types.NumStages]types.TimingRecord) {}
func (nopTrace) Clear()                                               {}
func (nopTrace) Len() int                                             { return 0 }

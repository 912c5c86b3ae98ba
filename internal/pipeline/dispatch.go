package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/ALEYI17/InfraSight_infer/internal/device"
	"github.com/ALEYI17/InfraSight_infer/internal/shapes"
	"github.com/ALEYI17/InfraSight_infer/pkg/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var errDispatchAborted = errors.New("dispatch aborted after an earlier failure")

// Dispatch submits compute for one unit, obtaining its outputs according to
// the output mode.
type Dispatch struct {
	*Stage
	ctx    types.Context
	mode   types.OutputMode
	arena  *arena
	groups shapes.Groups
	last   int

	anchor       types.Marker
	lastDuration time.Duration
	// failed stops submissions after the first failure, it is set from the
	// stage worker in host async mode
	failed atomic.Bool
}

func newDispatch(engine types.Engine, o stageOptions, ctx types.Context, mode types.OutputMode, a *arena, groups shapes.Groups, logger *zap.Logger) (*Dispatch, error) {
	st, err := newStage(engine, o, logger)
	if err != nil {
		return nil, err
	}
	d := &Dispatch{
		Stage:  st,
		ctx:    ctx,
		mode:   mode,
		arena:  a,
		groups: groups,
		anchor: engine.NewMarker(o.notifier.RecordHost()),
	}
	st.work = d.doWork
	return d, nil
}

func (d *Dispatch) doWork(idx int, tok Token) Token {
	rebind := d.mode == types.OutputInferred && tok.Group != d.last
	d.last = tok.Group
	if tok.Err != nil {
		d.failed.Store(true)
		return tok
	}
	group, src := tok.Group, tok.Slots[types.StageCopyIn]
	if d.onHost {
		dep := tok.Host
		d.slots[idx].host = d.pool.AddTask(func() error {
			if dep != nil {
				dep.Wait()
				if err := dep.Err(); err != nil {
					d.failed.Store(true)
					return err
				}
			}
			return d.submit(idx, src, group, rebind)
		})
		tok.Host = d.slots[idx].host
		tok.Dev = d.slots[idx].end
		return tok
	}
	if tok.Dev != nil {
		if err := d.queue.Wait(tok.Dev); err != nil {
			d.failed.Store(true)
			return tok.fail(errors.Wrap(err, "wait for inputs"))
		}
	}
	if err := d.submit(idx, src, group, rebind); err != nil {
		return tok.fail(err)
	}
	tok.Host = nil
	tok.Dev = d.slots[idx].end
	return tok
}

// submit runs the unit of dispatch slot idx whose inputs sit in copy in slot
// src. Once a submission has failed no later unit reaches the engine.
func (d *Dispatch) submit(idx, src, group int, rebind bool) error {
	if d.failed.Load() {
		return errDispatchAborted
	}
	err := d.enqueue(idx, src, group, rebind)
	if err != nil {
		d.failed.Store(true)
	}
	return err
}

func (d *Dispatch) enqueue(idx, src, group int, rebind bool) error {
	sl := &d.slots[idx]
	in := d.arena.inputs[src]
	if err := d.placeBegin(idx); err != nil {
		return err
	}
	sl.tps[0] = device.NowNanos()
	var err error
	switch d.mode {
	case types.OutputFixed:
		err = d.ctx.Enqueue(in, d.arena.outputs[idx], d.queue)
	case types.OutputInferred:
		out := d.arena.outputs[idx]
		if rebind {
			err = bindInferred(d.ctx, out, d.groups[group].Shapes)
		}
		if err == nil {
			err = d.ctx.Enqueue(in, out, d.queue)
		}
	case types.OutputDynamic:
		var out types.BufferSet
		out, err = d.ctx.EnqueueDynamic(in, d.queue)
		if err == nil {
			old := d.arena.outputs[idx]
			d.arena.outputs[idx] = out
			if old != nil {
				err = old.Close()
			}
		}
	default:
		err = errors.Errorf("unresolved output mode %s", d.mode)
	}
	sl.tps[1] = device.NowNanos()
	if err != nil {
		return errors.Wrapf(err, "enqueue on slot %d", idx)
	}
	_, err = d.placeEnd(idx)
	return err
}

// collect also advances LastDuration, the time from the anchor to the
// collected unit's start.
func (d *Dispatch) collect(idx int) types.TimingRecord {
	sl := &d.slots[idx]
	rec := types.TimingRecord{
		Interface: time.Duration(max(sl.tps[1]-sl.tps[0], 0)),
		End:       sl.end.HostStamp(),
	}
	if d.notifier.RecordHost() {
		rec.Host = sl.end.HostTimeFrom(sl.begin)
		d.lastDuration = sl.begin.HostTimeFrom(d.anchor)
	} else {
		d.lastDuration = sl.begin.DevTimeFrom(d.anchor)
	}
	if d.notifier.RecordDev() {
		rec.Device = sl.end.DevTimeFrom(sl.begin)
	}
	return rec
}

// SetDurationStart places the anchor LastDuration is measured from.
func (d *Dispatch) SetDurationStart() {
	if err := d.anchor.PlaceOn(d.queue); err != nil {
		d.logger.Fatal("place duration anchor", zap.Error(err))
	}
	d.lastDuration = 0
}

func (d *Dispatch) LastDuration() time.Duration { return d.lastDuration }

func (d *Dispatch) Mode() types.OutputMode { return d.mode }

func bindInferred(ctx types.Context, out types.BufferSet, in [][]int) error {
	s, err := ctx.InferOutputShape(in)
	if err != nil {
		return errors.Wrap(err, "infer output shapes")
	}
	return out.Bind(s)
}

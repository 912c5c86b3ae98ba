package pipeline

import (
	"github.com/ALEYI17/InfraSight_infer/internal/device"
	"github.com/ALEYI17/InfraSight_infer/internal/shapes"
	"github.com/ALEYI17/InfraSight_infer/pkg/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// CopyIn is the head of the pipeline. It stamps every unit with the next
// shape group, round robin, and moves the slot's inputs to the device.
type CopyIn struct {
	*Stage
	arena   *arena
	groups  shapes.Groups
	next    int
	last    int
	seq     uint64
	rebinds int
}

func newCopyIn(engine types.Engine, o stageOptions, a *arena, groups shapes.Groups, logger *zap.Logger) (*CopyIn, error) {
	st, err := newStage(engine, o, logger)
	if err != nil {
		return nil, err
	}
	c := &CopyIn{Stage: st, arena: a, groups: groups}
	st.work = c.doWork
	return c, nil
}

func (c *CopyIn) doWork(idx int, tok Token) Token {
	c.seq++
	tok.Seq = c.seq
	tok.Group = c.next
	c.next = (c.next + 1) % len(c.groups)

	in := c.arena.inputs[idx]
	if tok.Group != c.last {
		g := c.groups[tok.Group]
		if err := in.Bind(g.Shapes); err != nil {
			return tok.fail(errors.Wrapf(err, "rebind inputs of slot %d to %s", idx, g))
		}
		c.rebinds++
		c.logger.Debug("rebind input buffers",
			zap.Int("slot", idx),
			zap.Int("group", tok.Group),
			zap.Stringer("shapes", g))
	}
	c.last = tok.Group

	if c.skip {
		return tok
	}
	if c.onHost {
		tok.Host = c.runHost(idx, func() error {
			return errors.Wrap(in.CopyHostToDevice(nil), "copy inputs to device")
		})
		return tok
	}
	sl := &c.slots[idx]
	if c.notifier.DoRecord() {
		if err := c.placeBegin(idx); err != nil {
			return tok.fail(err)
		}
	}
	sl.tps[0] = device.NowNanos()
	err := in.CopyHostToDevice(c.queue)
	sl.tps[1] = device.NowNanos()
	if err != nil {
		return tok.fail(errors.Wrap(err, "copy inputs to device"))
	}
	if tok.Dev, err = c.placeEnd(idx); err != nil {
		return tok.fail(err)
	}
	return tok
}

// Rebinds counts how often input buffers were rebound to a new shape group.
func (c *CopyIn) Rebinds() int { return c.rebinds }

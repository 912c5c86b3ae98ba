package pipeline

import (
	"github.com/ALEYI17/InfraSight_infer/internal/device"
	"github.com/ALEYI17/InfraSight_infer/pkg/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// CopyOut brings a dispatched unit's outputs back to the host once the
// dispatch that produced them has completed.
type CopyOut struct {
	*Stage
	arena *arena
}

func newCopyOut(engine types.Engine, o stageOptions, a *arena, logger *zap.Logger) (*CopyOut, error) {
	st, err := newStage(engine, o, logger)
	if err != nil {
		return nil, err
	}
	c := &CopyOut{Stage: st, arena: a}
	st.work = c.doWork
	return c, nil
}

func (c *CopyOut) doWork(idx int, tok Token) Token {
	if c.skip || tok.Err != nil {
		return tok
	}
	src := tok.Slots[types.StageDispatch]
	if c.onHost {
		host, dev := tok.Host, tok.Dev
		tok.Host = c.runHost(idx, func() error {
			if host != nil {
				host.Wait()
				if err := host.Err(); err != nil {
					return err
				}
			}
			if dev != nil {
				if err := dev.Wait(); err != nil {
					return errors.Wrap(err, "wait for dispatch")
				}
			}
			// resolved after the gate, dynamic dispatch replaces the slot's outputs
			return errors.Wrap(c.arena.outputs[src].CopyDeviceToHost(nil), "copy outputs to host")
		})
		tok.Dev = nil
		return tok
	}
	if tok.Dev != nil {
		if err := c.queue.Wait(tok.Dev); err != nil {
			return tok.fail(errors.Wrap(err, "wait for dispatch"))
		}
	}
	sl := &c.slots[idx]
	if c.notifier.DoRecord() {
		if err := c.placeBegin(idx); err != nil {
			return tok.fail(err)
		}
	}
	sl.tps[0] = device.NowNanos()
	err := c.arena.outputs[src].CopyDeviceToHost(c.queue)
	sl.tps[1] = device.NowNanos()
	if err != nil {
		return tok.fail(errors.Wrap(err, "copy outputs to host"))
	}
	tok.Host = nil
	if tok.Dev, err = c.placeEnd(idx); err != nil {
		return tok.fail(err)
	}
	return tok
}

package pipeline

import (
	"time"

	"github.com/ALEYI17/InfraSight_infer/internal/device"
	"github.com/ALEYI17/InfraSight_infer/pkg/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type slot struct {
	begin  types.Marker
	end    types.Marker
	host   *Future
	active bool
	// host clock around the submitting call
	tps  [2]int64
	uses int
}

type stageOptions struct {
	name     string
	index    int
	depth    int
	onHost   bool
	skip     bool
	notifier types.NotifierType
	in, out  *Fifo
}

// Stage is the slot ring shared by the three pipeline stages. work runs on
// the driver goroutine for the current slot and returns the token to forward.
type Stage struct {
	name     string
	index    int
	depth    int
	onHost   bool
	skip     bool
	notifier types.NotifierType

	in, out *Fifo
	queue   types.Queue
	pool    *Pool
	slots   []slot
	current int
	stalls  int

	work   func(idx int, tok Token) Token
	logger *zap.Logger
}

func newStage(engine types.Engine, o stageOptions, logger *zap.Logger) (*Stage, error) {
	q, err := engine.NewQueue()
	if err != nil {
		return nil, err
	}
	s := &Stage{
		name:     o.name,
		index:    o.index,
		depth:    o.depth,
		onHost:   o.onHost,
		skip:     o.skip,
		notifier: o.notifier,
		in:       o.in,
		out:      o.out,
		queue:    q,
		slots:    make([]slot, o.depth),
		logger:   logger.With(zap.String("stage", o.name)),
	}
	for i := range s.slots {
		s.slots[i].begin = engine.NewMarker(o.notifier.RecordHost())
		s.slots[i].end = engine.NewMarker(o.notifier.RecordHost())
	}
	if o.onHost && !o.skip {
		s.pool = NewPool(1, o.depth)
	}
	return s, nil
}

// DoStage tries to move one unit through the stage and reports whether the
// stage did no real work: the current slot is still busy, there is no input,
// or the stage is skipped.
func (s *Stage) DoStage() bool {
	sl := &s.slots[s.current]
	if sl.active {
		s.stalls++
		return true
	}
	if s.in != nil && s.in.Len() == 0 {
		return true
	}
	tok := newToken()
	if s.in != nil {
		tok = s.in.Pop()
	}
	sl.active = true
	sl.uses++
	tok.Slots[s.index] = s.current
	tok = s.work(s.current, tok)
	s.out.Push(tok)
	s.current = (s.current + 1) % s.depth
	return s.skip
}

func (s *Stage) ResetActive(idx int) {
	if idx >= 0 && idx < len(s.slots) {
		s.slots[idx].active = false
	}
}

func (s *Stage) Active(idx int) bool {
	return s.slots[idx].active
}

func (s *Stage) ActiveCount() int {
	n := 0
	for i := range s.slots {
		if s.slots[i].active {
			n++
		}
	}
	return n
}

func (s *Stage) Depth() int  { return s.depth }
func (s *Stage) Stalls() int { return s.stalls }

// slotUses counts how many units each slot has carried.
func (s *Stage) slotUses() []int {
	ret := make([]int, len(s.slots))
	for i := range s.slots {
		ret[i] = s.slots[i].uses
	}
	return ret
}

func (s *Stage) placeBegin(idx int) error {
	return errors.Wrapf(s.slots[idx].begin.PlaceOn(s.queue), "%s: place begin marker on slot %d", s.name, idx)
}

func (s *Stage) placeEnd(idx int) (types.Marker, error) {
	m := s.slots[idx].end
	if err := m.PlaceOn(s.queue); err != nil {
		return nil, errors.Wrapf(err, "%s: place end marker on slot %d", s.name, idx)
	}
	return m, nil
}

// runHost submits fn to the stage worker, bracketing it with host stamps.
func (s *Stage) runHost(idx int, fn func() error) *Future {
	sl := &s.slots[idx]
	sl.host = s.pool.AddTask(func() error {
		sl.tps[0] = device.NowNanos()
		err := fn()
		sl.tps[1] = device.NowNanos()
		return err
	})
	return sl.host
}

// collect reads the timing of a slot whose unit has completed.
func (s *Stage) collect(idx int) types.TimingRecord {
	if s.skip || idx < 0 {
		return types.TimingRecord{}
	}
	sl := &s.slots[idx]
	iface := time.Duration(max(sl.tps[1]-sl.tps[0], 0))
	if s.onHost {
		return types.TimingRecord{Host: iface, Device: iface, Interface: iface, End: sl.tps[1]}
	}
	rec := types.TimingRecord{Interface: iface, End: sl.end.HostStamp()}
	if s.notifier.RecordHost() {
		rec.Host = sl.end.HostTimeFrom(sl.begin)
	}
	if s.notifier.RecordDev() {
		rec.Device = sl.end.DevTimeFrom(sl.begin)
	}
	return rec
}

func (s *Stage) close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return s.queue.Close()
}

package types

import "time"

// TimingRecord is the timing of one stage of one unit of work.
type TimingRecord struct {
	Host      time.Duration
	Device    time.Duration
	Interface time.Duration
	// End is the monotonic host stamp at which the stage finished, 0 when skipped.
	End int64
}

// Trace_collectors receive the timing of every collected unit, seq is the
// unit's submission number.
type Trace_collectors interface {
	Update(seq uint64, group int, recs [NumStages]TimingRecord)
	Clear()
	Len() int
}

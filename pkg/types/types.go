package types

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	DIR_HTOD = 0
	DIR_DTOH = 1
)

// Stage indices, also the order of a unit's slots in a token.
const (
	StageCopyIn   = 0
	StageDispatch = 1
	StageCopyOut  = 2
	NumStages     = 3
)

var StageNames = [NumStages]string{"H2D", "Compute", "D2H"}

var (
	ErrUnavailable   = errors.New("unavailable")
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrInvalidDepth  = errors.New("invalid depth")
)

// NotifierType selects which clocks markers record. Markers without the host
// clock are cheaper to place.
type NotifierType uint8

const (
	NotifierNone NotifierType = 0x0
	NotifierHost NotifierType = 0x1
	NotifierDev  NotifierType = 0x2
	NotifierBoth NotifierType = 0x3
)

var notifierNames = map[string]NotifierType{
	"none": NotifierNone,
	"host": NotifierHost,
	"dev":  NotifierDev,
	"both": NotifierBoth,
}

func ParseNotifierType(s string) (NotifierType, error) {
	t, ok := notifierNames[strings.ToLower(s)]
	if !ok {
		return NotifierNone, errors.Errorf("unknown trace_time %q, want one of none/host/dev/both", s)
	}
	return t, nil
}

func (t NotifierType) String() string {
	for k, v := range notifierNames {
		if v == t {
			return k
		}
	}
	return "invalid"
}

func (t NotifierType) DoRecord() bool   { return t > NotifierNone }
func (t NotifierType) RecordHost() bool { return t&NotifierHost != 0 }
func (t NotifierType) RecordDev() bool  { return t&NotifierDev != 0 }

// OutputMode is how the dispatch stage obtains its output buffers.
type OutputMode uint8

const (
	OutputAuto OutputMode = iota
	OutputFixed
	OutputInferred
	OutputDynamic
)

var outputModeNames = [...]string{"auto", "fixed", "inferred", "dynamic"}

func ParseOutputMode(s string) (OutputMode, error) {
	for i, n := range outputModeNames {
		if n == strings.ToLower(s) {
			return OutputMode(i), nil
		}
	}
	return OutputAuto, errors.Errorf("unknown output_mode %q", s)
}

func (m OutputMode) String() string {
	if int(m) < len(outputModeNames) {
		return outputModeNames[m]
	}
	return "invalid"
}

package loaders

import (
	"github.com/ALEYI17/InfraSight_infer/pkg/types"
	"github.com/pkg/errors"
)

const LoaderSim = "sim"

func NewEngine(kind string, deviceID int, spec ModelSpec) (types.Engine, error) {
	switch kind {
	case LoaderSim, "":
		return NewSimEngine(deviceID, spec)
	default:
		return nil, errors.Errorf("Unsuported or unknow engine %q", kind)
	}
}

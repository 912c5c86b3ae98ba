package config

import (
	"time"

	"github.com/ALEYI17/InfraSight_infer/pkg/types"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// minInterval is the shortest sampling or progress period accepted.
const minInterval = time.Millisecond

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var err error
	if c.InferDepth < 1 {
		err = multierr.Append(err, errors.Errorf("infer_depth must be >= 1, got %d", c.InferDepth))
	}
	if c.BufferDepth < 1 {
		err = multierr.Append(err, errors.Errorf("buffer_depth must be >= 1, got %d", c.BufferDepth))
	}
	if c.Threads < 1 {
		err = multierr.Append(err, errors.Errorf("threads must be >= 1, got %d", c.Threads))
	}
	if len(c.Devices) == 0 {
		err = multierr.Append(err, errors.New("at least one device is required"))
	}
	seen := make(map[int]bool)
	for _, d := range c.Devices {
		if d < 0 || seen[d] {
			err = multierr.Append(err, errors.Errorf("bad or repeated device id %d", d))
		}
		seen[d] = true
	}
	if c.Warmup < 0 || c.Iterations < 0 || c.Duration < 0 {
		err = multierr.Append(err, errors.New("warmup, iterations and duration must not be negative"))
	}
	if c.Iterations == 0 && c.Duration == 0 {
		err = multierr.Append(err, errors.New("one of iterations or duration must be set"))
	}
	if len(c.AvgRuns) != 2 || c.AvgRuns[0] < 1 || c.AvgRuns[1] < 0 {
		err = multierr.Append(err, errors.Errorf("avg_runs needs {units per window >= 1, windows >= 0}, got %v", c.AvgRuns))
	}
	if _, e := types.ParseNotifierType(c.TraceTime); e != nil {
		err = multierr.Append(err, e)
	}
	if _, e := types.ParseOutputMode(c.OutputMode); e != nil {
		err = multierr.Append(err, e)
	}
	for _, iv := range []struct {
		name string
		d    time.Duration
	}{{"util_interval", c.UtilInterval}, {"progress_interval", c.ProgressInterval}} {
		if iv.d < 0 || (iv.d > 0 && iv.d < minInterval) {
			err = multierr.Append(err, errors.Errorf("%s must be 0 or at least %s, got %s", iv.name, minInterval, iv.d))
		}
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		err = multierr.Append(err, errors.Errorf("log_format must be console or json, got %q", c.LogFormat))
	}
	if e := c.Model.Validate(); e != nil {
		err = multierr.Append(err, errors.Wrap(e, "model"))
	}
	if _, e := c.ShapeGroups(); e != nil {
		err = multierr.Append(err, errors.Wrap(e, "shape groups"))
	}
	return err
}

package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ALEYI17/InfraSight_infer/internal/loaders"
	"github.com/ALEYI17/InfraSight_infer/internal/shapes"
	"github.com/ALEYI17/InfraSight_infer/pkg/types"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const envTraceTime = "INFRASIGHT_TRACE_TIME"

type Config struct {
	Engine string            `yaml:"engine"`
	Model  loaders.ModelSpec `yaml:"model"`

	RunConfig string `yaml:"run_config"`
	InputDims string `yaml:"input_dims"`
	BatchSize []int  `yaml:"batch_size"`

	Devices    []int         `yaml:"devices"`
	Threads    int           `yaml:"threads"`
	Warmup     time.Duration `yaml:"warmup"`
	Iterations int           `yaml:"iterations"`
	Duration   time.Duration `yaml:"duration"`

	DisableDataCopy bool   `yaml:"disable_data_copy"`
	HostAsync       bool   `yaml:"host_async"`
	BufferDepth     int    `yaml:"buffer_depth"`
	InferDepth      int    `yaml:"infer_depth"`
	OutputMode      string `yaml:"output_mode"`

	TraceTime        string        `yaml:"trace_time"`
	TracePath        string        `yaml:"trace_path"`
	AvgRuns          []int         `yaml:"avg_runs"`
	UtilInterval     time.Duration `yaml:"util_interval"`
	ProgressInterval time.Duration `yaml:"progress_interval"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	configPath string
	groups     shapes.Groups
}

func Default() *Config {
	return &Config{
		Engine:           loaders.LoaderSim,
		Model:            loaders.DefaultModel(),
		Devices:          []int{0},
		Threads:          1,
		Warmup:           200 * time.Millisecond,
		Iterations:       1000,
		BufferDepth:      2,
		InferDepth:       2,
		OutputMode:       types.OutputAuto.String(),
		TraceTime:        types.NotifierBoth.String(),
		AvgRuns:          []int{100, 10},
		UtilInterval:     100 * time.Millisecond,
		ProgressInterval: time.Second,
		LogLevel:         "info",
		LogFormat:        "console",
	}
}

// intList is a comma separated list of ints flag.
type intList struct{ v *[]int }

func (l intList) String() string {
	if l.v == nil {
		return ""
	}
	parts := make([]string, len(*l.v))
	for i, n := range *l.v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

func (l intList) Set(s string) error {
	var out []int
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return err
		}
		out = append(out, n)
	}
	*l.v = out
	return nil
}

func (c *Config) flagSet(out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("infrasight-infer", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&c.configPath, "config", c.configPath, "YAML config file, flags override it")
	fs.StringVar(&c.Engine, "engine", c.Engine, "engine loader")
	fs.StringVar(&c.RunConfig, "run_config", c.RunConfig, "YAML/JSON file with input shape groups")
	fs.StringVar(&c.InputDims, "input_dims", c.InputDims, "input shapes, e.g. 1,3,224,224;1,10 (_ is a scalar)")
	fs.Var(intList{&c.BatchSize}, "batch_size", "leading dim override per input")
	fs.Var(intList{&c.Devices}, "devices", "device ids")
	fs.IntVar(&c.Threads, "threads", c.Threads, "pipelines per device")
	fs.DurationVar(&c.Warmup, "warmup", c.Warmup, "warm-up time per thread")
	fs.IntVar(&c.Iterations, "iterations", c.Iterations, "minimum measured iterations per thread")
	fs.DurationVar(&c.Duration, "duration", c.Duration, "minimum measured wall time")
	fs.BoolVar(&c.DisableDataCopy, "disable_data_copy", c.DisableDataCopy, "skip host/device copies")
	fs.BoolVar(&c.HostAsync, "host_async", c.HostAsync, "run stages on host worker threads")
	fs.IntVar(&c.BufferDepth, "buffer_depth", c.BufferDepth, "input buffer slots")
	fs.IntVar(&c.InferDepth, "infer_depth", c.InferDepth, "in-flight dispatches")
	fs.StringVar(&c.OutputMode, "output_mode", c.OutputMode, "auto, fixed, inferred or dynamic")
	fs.StringVar(&c.TraceTime, "trace_time", c.TraceTime, "none, host, dev or both")
	fs.StringVar(&c.TracePath, "trace_path", c.TracePath, "directory for the JSON report and raw trace")
	fs.Var(intList{&c.AvgRuns}, "avg_runs", "units per average window, max windows")
	fs.DurationVar(&c.UtilInterval, "util_interval", c.UtilInterval, "utilisation sampling period, 0 disables it")
	fs.DurationVar(&c.ProgressInterval, "progress_interval", c.ProgressInterval, "progress log period, 0 disables it")
	fs.StringVar(&c.LogLevel, "log_level", c.LogLevel, "debug, info, warn or error")
	fs.StringVar(&c.LogFormat, "log_format", c.LogFormat, "console or json")
	return fs
}

// LoadConfig builds the configuration from defaults, the optional -config
// file, then the flags in args.
func LoadConfig(args []string) (*Config, error) {
	probe := Default()
	if err := probe.flagSet(os.Stderr).Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if probe.configPath != "" {
		if err := cfg.loadFile(probe.configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.flagSet(io.Discard).Parse(args); err != nil {
		return nil, err
	}
	if v := os.Getenv(envTraceTime); v != "" {
		cfg.TraceTime = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, "parse config file")
	}
	c.configPath = path
	return nil
}

// ShapeGroups resolves the input shape groups: a run config file, then
// -input_dims, then the model's declared dims with unknown batch set to 1.
func (c *Config) ShapeGroups() (shapes.Groups, error) {
	if c.groups != nil {
		return c.groups, nil
	}
	var gs shapes.Groups
	var err error
	switch {
	case c.RunConfig != "":
		gs, err = shapes.Load(c.RunConfig)
	case c.InputDims != "":
		var dims [][]int
		if dims, err = shapes.ParseDims(c.InputDims); err == nil {
			gs, err = shapes.Single(dims, c.BatchSize)
		}
	default:
		var dims [][]int
		batch := c.BatchSize
		for _, in := range c.Model.Inputs {
			dims = append(dims, in.Dims)
		}
		if len(batch) == 0 {
			for _, d := range dims {
				b := 1
				if len(d) > 0 && d[0] >= 0 {
					b = d[0]
				}
				batch = append(batch, b)
			}
		}
		gs, err = shapes.Single(dims, batch)
	}
	if err != nil {
		return nil, err
	}
	if gs.HasNames() {
		names := make([]string, len(c.Model.Inputs))
		for i, in := range c.Model.Inputs {
			names[i] = in.Name
		}
		if err := gs.Reorder(names); err != nil {
			return nil, err
		}
	}
	c.groups = gs
	return gs, nil
}

func (c *Config) Notifier() types.NotifierType {
	t, _ := types.ParseNotifierType(c.TraceTime)
	return t
}

func (c *Config) Output() types.OutputMode {
	m, _ := types.ParseOutputMode(c.OutputMode)
	return m
}

func (c *Config) String() string {
	return fmt.Sprintf("engine=%s model=%s devices=%v threads=%d infer_depth=%d buffer_depth=%d host_async=%t copy=%t trace_time=%s output_mode=%s",
		c.Engine, c.Model.Name, c.Devices, c.Threads, c.InferDepth, c.BufferDepth, c.HostAsync, !c.DisableDataCopy, c.TraceTime, c.OutputMode)
}

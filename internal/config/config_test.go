package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ALEYI17/InfraSight_infer/pkg/types"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.InferDepth != 2 || cfg.BufferDepth != 2 || cfg.Notifier() != types.NotifierBoth || cfg.Output() != types.OutputAuto {
		t.Fatalf("defaults = %s", cfg)
	}
	gs, err := cfg.ShapeGroups()
	if err != nil {
		t.Fatal(err)
	}
	if want := [][]int{{1, 3, 224, 224}}; len(gs) != 1 || !reflect.DeepEqual(gs[0].Shapes, want) {
		t.Fatalf("default groups = %v", gs)
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeFile(t, "bench.yaml", `
threads: 3
infer_depth: 4
duration: 2s
trace_time: host
model:
  name: small
  inputs:
    - {name: a, dims: [-1, 8], elem_size: 4}
    - {name: b, dims: [-1, 2], elem_size: 4}
  outputs:
    - {name: y, dims: [-1, 1], elem_size: 4}
`)
	cfg, err := LoadConfig([]string{"-config", path, "-infer_depth", "1", "-batch_size", "2,2"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Threads != 3 || cfg.InferDepth != 1 || cfg.Duration != 2*time.Second || cfg.Notifier() != types.NotifierHost {
		t.Fatalf("config = %s duration=%v", cfg, cfg.Duration)
	}
	gs, err := cfg.ShapeGroups()
	if err != nil {
		t.Fatal(err)
	}
	if want := [][]int{{2, 8}, {2, 2}}; !reflect.DeepEqual(gs[0].Shapes, want) {
		t.Fatalf("groups = %v", gs)
	}
}

func TestNamedRunConfigIsReordered(t *testing.T) {
	run := writeFile(t, "run.json", `{"inputType": 1, "inputDims": [{"b": [1, 2], "a": [1, 8]}, {"a": [4, 8], "b": [4, 2]}]}`)
	model := writeFile(t, "model.yaml", `
model:
  name: small
  inputs:
    - {name: a, dims: [-1, 8], elem_size: 4}
    - {name: b, dims: [-1, 2], elem_size: 4}
  outputs:
    - {name: y, dims: [-1, 1], elem_size: 4}
`)
	cfg, err := LoadConfig([]string{"-config", model, "-run_config", run})
	if err != nil {
		t.Fatal(err)
	}
	gs, _ := cfg.ShapeGroups()
	if len(gs) != 2 || !reflect.DeepEqual(gs[0].Names, []string{"a", "b"}) || !reflect.DeepEqual(gs[0].Shapes, [][]int{{1, 8}, {1, 2}}) {
		t.Fatalf("groups = %v", gs)
	}
	if got := gs.BatchSizes(); !reflect.DeepEqual(got, []int{1, 4}) {
		t.Fatalf("batch sizes = %v", got)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	_, err := LoadConfig([]string{"-infer_depth", "0", "-buffer_depth", "0", "-trace_time", "sometimes", "-avg_runs", "5"})
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	for _, want := range []string{"infer_depth", "buffer_depth", "trace_time", "avg_runs"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidateIntervals(t *testing.T) {
	tests := []struct {
		args []string
		ok   bool
	}{
		{[]string{"-progress_interval", "0", "-util_interval", "0"}, true},
		{[]string{"-progress_interval", "1ms", "-util_interval", "5ms"}, true},
		{[]string{"-progress_interval", "1ns"}, false},
		{[]string{"-util_interval", "500us"}, false},
		{[]string{"-util_interval", "-1s"}, false},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			_, err := LoadConfig(tt.args)
			if (err == nil) != tt.ok {
				t.Fatalf("err = %v, want ok=%t", err, tt.ok)
			}
			if err != nil && !strings.Contains(err.Error(), "interval") {
				t.Fatalf("error %q does not name the interval", err)
			}
		})
	}
}

func TestTraceTimeFromEnv(t *testing.T) {
	t.Setenv(envTraceTime, "dev")
	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Notifier() != types.NotifierDev {
		t.Fatalf("trace_time = %s", cfg.TraceTime)
	}
}

func TestUnknownFlag(t *testing.T) {
	if _, err := LoadConfig([]string{"-no_such_flag"}); err == nil {
		t.Fatal("unknown flag accepted")
	}
}

package bench

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ALEYI17/InfraSight_infer/internal/collector/timeserie"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Dump writes the JSON report and the raw msgpack trace of a run into dir
// and returns the written paths.
func Dump(dir string, res *Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create trace dir")
	}
	report, err := res.Report.ToJSON()
	if err != nil {
		return nil, errors.Wrap(err, "encode report")
	}
	raw, err := msgpack.Marshal(res.Traces)
	if err != nil {
		return nil, errors.Wrap(err, "encode trace")
	}
	files := []struct {
		name string
		data []byte
	}{
		{fmt.Sprintf("report-%s.json", res.RunID), report},
		{fmt.Sprintf("trace-%s.msgpack", res.RunID), raw},
	}
	var paths []string
	for _, f := range files {
		p := filepath.Join(dir, f.name)
		if err := os.WriteFile(p, f.data, 0o644); err != nil {
			return paths, errors.Wrapf(err, "write %s", p)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// LoadTrace reads a raw trace written by Dump.
func LoadTrace(path string) ([]timeserie.Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read trace")
	}
	var traces []timeserie.Trace
	if err := msgpack.Unmarshal(data, &traces); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return traces, nil
}

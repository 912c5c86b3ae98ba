package loaders

import (
	"time"

	"github.com/ALEYI17/InfraSight_infer/pkg/types"
	"github.com/pkg/errors"
)

// Output capabilities a simulated engine can advertise.
const (
	OutputsInferable = "inferable"
	OutputsNoInfer   = "no_infer"
	OutputsDynamic   = "dynamic"
)

type TensorSpec struct {
	Name     string `yaml:"name"`
	Dims     []int  `yaml:"dims"`
	ElemSize int    `yaml:"elem_size"`
}

// LatencySpec is a linear cost model: a fixed launch cost plus a size
// dependent term.
type LatencySpec struct {
	ComputeBase    time.Duration `yaml:"compute_base"`
	ComputePerElem time.Duration `yaml:"compute_per_elem"`
	CopyBase       time.Duration `yaml:"copy_base"`
	// CopyBytesPerUs is the transfer bandwidth, 0 means transfers cost only CopyBase.
	CopyBytesPerUs float64 `yaml:"copy_bytes_per_us"`
}

type ModelSpec struct {
	Name          string       `yaml:"name"`
	Inputs        []TensorSpec `yaml:"inputs"`
	Outputs       []TensorSpec `yaml:"outputs"`
	OutputSupport string       `yaml:"output_support"`
	ConstBytes    int64        `yaml:"const_bytes"`
	Latency       LatencySpec  `yaml:"latency"`
	// FailAt makes the n-th enqueue of a context fail, 0 disables it.
	FailAt int `yaml:"fail_at"`
	// Drift scales the simulated device clock against the host clock.
	Drift float64 `yaml:"drift"`
}

func DefaultModel() ModelSpec {
	return ModelSpec{
		Name:          "resnet50-sim",
		Inputs:        []TensorSpec{{Name: "data", Dims: []int{-1, 3, 224, 224}, ElemSize: 4}},
		Outputs:       []TensorSpec{{Name: "prob", Dims: []int{-1, 1000}, ElemSize: 4}},
		OutputSupport: OutputsInferable,
		ConstBytes:    100 << 20,
		Latency: LatencySpec{
			ComputeBase:    500 * time.Microsecond,
			ComputePerElem: 0,
			CopyBase:       20 * time.Microsecond,
			CopyBytesPerUs: 10000,
		},
	}
}

func (l LatencySpec) copyCost(bytes int64) time.Duration {
	d := l.CopyBase
	if l.CopyBytesPerUs > 0 {
		d += time.Duration(float64(bytes) / l.CopyBytesPerUs * float64(time.Microsecond))
	}
	return d
}

func (l LatencySpec) computeCost(elems int64) time.Duration {
	return l.ComputeBase + time.Duration(elems)*l.ComputePerElem
}

func (s ModelSpec) Validate() error {
	if len(s.Inputs) == 0 {
		return errors.New("model has no inputs")
	}
	if len(s.Outputs) == 0 {
		return errors.New("model has no outputs")
	}
	for _, t := range append(append([]TensorSpec{}, s.Inputs...), s.Outputs...) {
		if t.ElemSize <= 0 {
			return errors.Errorf("tensor %q: elem_size must be positive", t.Name)
		}
	}
	switch s.OutputSupport {
	case "", OutputsInferable, OutputsNoInfer, OutputsDynamic:
	default:
		return errors.Errorf("unknown output_support %q", s.OutputSupport)
	}
	return nil
}

func toInfo(specs []TensorSpec) []types.TensorInfo {
	out := make([]types.TensorInfo, 0, len(specs))
	for _, s := range specs {
		out = append(out, types.TensorInfo{Name: s.Name, Dims: append([]int(nil), s.Dims...), ElemSize: s.ElemSize})
	}
	return out
}

// checkShapes validates bound shapes against the declared dims, negative
// declared dims accept any extent.
func checkShapes(specs []TensorSpec, shapes [][]int) error {
	if len(shapes) != len(specs) {
		return errors.Wrapf(types.ErrShapeMismatch, "got %d shapes for %d tensors", len(shapes), len(specs))
	}
	for i, s := range specs {
		if len(shapes[i]) != len(s.Dims) {
			return errors.Wrapf(types.ErrShapeMismatch, "tensor %q: rank %d, want %d", s.Name, len(shapes[i]), len(s.Dims))
		}
		for j, d := range shapes[i] {
			if d < 0 || (s.Dims[j] >= 0 && s.Dims[j] != d) {
				return errors.Wrapf(types.ErrShapeMismatch, "tensor %q: dims %v do not fit %v", s.Name, shapes[i], s.Dims)
			}
		}
	}
	return nil
}

// outputShapes derives output shapes: a negative output dim takes the extent
// of the same axis of the first input.
func outputShapes(spec ModelSpec, in [][]int) ([][]int, error) {
	if err := checkShapes(spec.Inputs, in); err != nil {
		return nil, err
	}
	out := make([][]int, len(spec.Outputs))
	for i, o := range spec.Outputs {
		dims := make([]int, len(o.Dims))
		for j, d := range o.Dims {
			if d < 0 {
				if j >= len(in[0]) {
					return nil, errors.Wrapf(types.ErrShapeMismatch, "output %q axis %d has no input extent", o.Name, j)
				}
				d = in[0][j]
			}
			dims[j] = d
		}
		out[i] = dims
	}
	return out, nil
}

func elements(shape []int) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= int64(d)
	}
	return n
}

package loaders

import (
	"fmt"
	"sync/atomic"

	"github.com/ALEYI17/InfraSight_infer/internal/device"
	"github.com/ALEYI17/InfraSight_infer/pkg/logutil"
	"github.com/ALEYI17/InfraSight_infer/pkg/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SimEngine runs a ModelSpec on a simulated device.
type SimEngine struct {
	dev       *device.Device
	spec      ModelSpec
	contexts  atomic.Int64
	submitted atomic.Int64
}

func NewSimEngine(deviceID int, spec ModelSpec) (*SimEngine, error) {
	if spec.OutputSupport == "" {
		spec.OutputSupport = OutputsInferable
	}
	if err := spec.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid model")
	}
	e := &SimEngine{
		dev:  device.New(deviceID, device.Options{Drift: spec.Drift}),
		spec: spec,
	}
	e.dev.Alloc(spec.ConstBytes)
	logutil.GetLogger().Debug("simulated engine created",
		zap.String("model", spec.Name),
		zap.Stringer("device", e.dev))
	return e, nil
}

func (e *SimEngine) Device() *device.Device { return e.dev }

// Submitted counts enqueue calls across all contexts, failed ones included.
func (e *SimEngine) Submitted() int64 { return e.submitted.Load() }

func (e *SimEngine) CreateContext() (types.Context, error) {
	n := e.contexts.Add(1)
	return &simContext{
		engine: e,
		name:   fmt.Sprintf("%s/ctx%d", e.spec.Name, n),
	}, nil
}

func (e *SimEngine) NewQueue() (types.Queue, error) {
	return e.dev.NewQueue(), nil
}

func (e *SimEngine) NewMarker(timing bool) types.Marker {
	return e.dev.NewMarker(timing)
}

func (e *SimEngine) Info() types.EngineInfo {
	var workspace int64
	for _, o := range e.spec.Outputs {
		workspace += int64(o.ElemSize)
	}
	return types.EngineInfo{
		Name:          e.spec.Name,
		Inputs:        toInfo(e.spec.Inputs),
		Outputs:       toInfo(e.spec.Outputs),
		ConstDataSize: e.spec.ConstBytes,
		WorkspaceSize: workspace,
	}
}

func (e *SimEngine) Close() error {
	e.dev.Free(e.spec.ConstBytes)
	return nil
}

type simContext struct {
	engine   *SimEngine
	name     string
	enqueued atomic.Int64
	buffers  atomic.Int64
}

func (c *simContext) newBuffers(kind string, specs []TensorSpec) *simBuffers {
	n := c.buffers.Add(1)
	return newSimBuffers(fmt.Sprintf("%s/%s%d", c.name, kind, n), c.engine.dev, specs, c.engine.spec.Latency)
}

func (c *simContext) CreateInputBuffers() (types.BufferSet, error) {
	b := c.newBuffers("in", c.engine.spec.Inputs)
	b.pattern, b.seed = true, byte(c.buffers.Load())
	return b, nil
}

func (c *simContext) CreateOutputBuffers() (types.BufferSet, error) {
	if c.engine.spec.OutputSupport == OutputsDynamic {
		return nil, errors.Wrap(types.ErrUnavailable, "output buffers are only known at enqueue time")
	}
	return c.newBuffers("out", c.engine.spec.Outputs), nil
}

func (c *simContext) InferOutputShape(in [][]int) ([][]int, error) {
	if c.engine.spec.OutputSupport != OutputsInferable {
		return nil, errors.Wrap(types.ErrUnavailable, "output shapes depend on input data")
	}
	return outputShapes(c.engine.spec, in)
}

func (c *simContext) Enqueue(in, out types.BufferSet, q types.Queue) error {
	n := c.enqueued.Add(1)
	c.engine.submitted.Add(1)
	if fa := c.engine.spec.FailAt; fa > 0 && int(n) == fa {
		return errors.Errorf("%s: enqueue #%d rejected by device", c.name, n)
	}
	src, ok := in.(*simBuffers)
	if !ok {
		return errors.Errorf("%s: foreign input buffers %T", c.name, in)
	}
	dst, ok := out.(*simBuffers)
	if !ok {
		return errors.Errorf("%s: foreign output buffers %T", c.name, out)
	}
	sq, ok := q.(*device.Queue)
	if !ok {
		return errors.Errorf("%s: unsupported queue %T", c.name, q)
	}
	inData, inShapes := src.deviceData()
	want, err := outputShapes(c.engine.spec, inShapes)
	if err != nil {
		return errors.Wrapf(err, "%s: enqueue", c.name)
	}
	if got := dst.Shapes(); !sameShapes(got, want) {
		return errors.Wrapf(types.ErrShapeMismatch, "%s: outputs bound to %v, model produces %v", c.name, got, want)
	}
	outData, _ := dst.deviceData()
	var elems int64
	for _, s := range inShapes {
		elems += elements(s)
	}
	return sq.Exec(c.engine.spec.Latency.computeCost(elems), func() {
		var sum byte
		for _, t := range inData {
			for _, v := range t {
				sum += v
			}
		}
		for _, t := range outData {
			for i := range t {
				t[i] = sum
			}
		}
	})
}

func (c *simContext) EnqueueDynamic(in types.BufferSet, q types.Queue) (types.BufferSet, error) {
	shapes, err := outputShapes(c.engine.spec, in.Shapes())
	if err != nil {
		return nil, errors.Wrapf(err, "%s: dynamic enqueue", c.name)
	}
	out := c.newBuffers("dyn", c.engine.spec.Outputs)
	if err := out.Bind(shapes); err != nil {
		return nil, err
	}
	if err := c.Enqueue(in, out, q); err != nil {
		_ = out.Close()
		return nil, err
	}
	return out, nil
}

func (c *simContext) Close() error {
	return nil
}

func sameShapes(a, b [][]int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				return false
			}
		}
	}
	return true
}

package loaders

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ALEYI17/InfraSight_infer/internal/device"
	"github.com/ALEYI17/InfraSight_infer/pkg/types"
	"github.com/pkg/errors"
)

// simBuffers keeps a host copy and a device copy of every tensor of one side
// of a context.
type simBuffers struct {
	name    string
	dev     *device.Device
	specs   []TensorSpec
	latency LatencySpec
	// pattern makes Bind fill the host side with seed based data
	pattern bool
	seed    byte

	mu     sync.Mutex
	shapes [][]int
	host   [][]byte
	devMem [][]byte
	bytes  int64
	closed bool
}

func newSimBuffers(name string, dev *device.Device, specs []TensorSpec, latency LatencySpec) *simBuffers {
	return &simBuffers{name: name, dev: dev, specs: specs, latency: latency}
}

func (b *simBuffers) Bind(shapes [][]int) error {
	if err := checkShapes(b.specs, shapes); err != nil {
		return errors.Wrapf(err, "bind %s", b.name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.Errorf("bind %s: buffers closed", b.name)
	}
	b.dev.Free(b.bytes)
	b.shapes = make([][]int, len(shapes))
	b.host = make([][]byte, len(shapes))
	b.devMem = make([][]byte, len(shapes))
	b.bytes = 0
	for i, s := range shapes {
		b.shapes[i] = append([]int(nil), s...)
		n := elements(s) * int64(b.specs[i].ElemSize)
		b.host[i] = make([]byte, n)
		b.devMem[i] = make([]byte, n)
		b.bytes += n
		if b.pattern {
			for j := range b.host[i] {
				b.host[i][j] = b.seed + byte(j)
			}
		}
	}
	b.dev.Alloc(b.bytes)
	return nil
}

func (b *simBuffers) Shapes() [][]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]int, len(b.shapes))
	for i, s := range b.shapes {
		out[i] = append([]int(nil), s...)
	}
	return out
}

func (b *simBuffers) Bytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}

func (b *simBuffers) transfer(q types.Queue, dir int) error {
	b.mu.Lock()
	if b.shapes == nil {
		b.mu.Unlock()
		return errors.Errorf("copy %s: buffers are not bound", b.name)
	}
	src, dst := b.host, b.devMem
	if dir == types.DIR_DTOH {
		src, dst = b.devMem, b.host
	}
	cost := b.latency.copyCost(b.bytes)
	b.mu.Unlock()

	work := func() {
		for i := range src {
			copy(dst[i], src[i])
		}
	}
	if q == nil {
		b.dev.Run(cost, work)
		return nil
	}
	sq, ok := q.(*device.Queue)
	if !ok {
		return errors.Errorf("copy %s: unsupported queue %T", b.name, q)
	}
	return sq.Exec(cost, work)
}

func (b *simBuffers) CopyHostToDevice(q types.Queue) error {
	return b.transfer(q, types.DIR_HTOD)
}

func (b *simBuffers) CopyDeviceToHost(q types.Queue) error {
	return b.transfer(q, types.DIR_DTOH)
}

func (b *simBuffers) deviceData() ([][]byte, [][]int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.devMem, b.shapes
}

// HostData exposes the host side of the buffers, used to check results.
func (b *simBuffers) HostData() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.host
}

func (b *simBuffers) DebugString() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n%s (%d bytes):", b.name, b.bytes)
	for i, s := range b.specs {
		var dims []int
		if i < len(b.shapes) {
			dims = b.shapes[i]
		}
		fmt.Fprintf(&sb, "\n  %-20s dims: %v, elem size: %d", s.Name, dims, s.ElemSize)
	}
	return sb.String()
}

func (b *simBuffers) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.dev.Free(b.bytes)
	b.host, b.devMem, b.bytes = nil, nil, 0
	return nil
}

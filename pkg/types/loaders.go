package types

import "time"

// Queue is an ordered device submission channel.
type Queue interface {
	// Wait makes later work on this queue wait for m. It does not block the caller.
	Wait(m Marker) error
	// Sync blocks until everything submitted so far has executed.
	Sync() error
	Close() error
}

// Marker is a completion token placeable on a Queue.
type Marker interface {
	PlaceOn(q Queue) error
	// Wait blocks the caller until the marker has been reached.
	Wait() error
	HostTimeFrom(start Marker) time.Duration
	DevTimeFrom(start Marker) time.Duration
	// HostStamp is the monotonic host time, in nanoseconds, the marker was reached at.
	HostStamp() int64
}

// BufferSet is the group of tensors of one side (inputs or outputs) of a context.
type BufferSet interface {
	Bind(shapes [][]int) error
	Shapes() [][]int
	// CopyHostToDevice copies on q, or synchronously on the caller when q is nil.
	CopyHostToDevice(q Queue) error
	CopyDeviceToHost(q Queue) error
	Bytes() int64
	DebugString() string
	Close() error
}

// Context is one execution context created from an Engine.
type Context interface {
	CreateInputBuffers() (BufferSet, error)
	// CreateOutputBuffers returns ErrUnavailable when outputs are only known at enqueue time.
	CreateOutputBuffers() (BufferSet, error)
	// InferOutputShape returns ErrUnavailable when shapes cannot be derived on the host.
	InferOutputShape(in [][]int) ([][]int, error)
	Enqueue(in, out BufferSet, q Queue) error
	EnqueueDynamic(in BufferSet, q Queue) (BufferSet, error)
	Close() error
}

type TensorInfo struct {
	Name     string
	Dims     []int
	ElemSize int
}

type EngineInfo struct {
	Name          string
	Inputs        []TensorInfo
	Outputs       []TensorInfo
	ConstDataSize int64
	WorkspaceSize int64
}

type Engine interface {
	CreateContext() (Context, error)
	NewQueue() (Queue, error)
	NewMarker(timing bool) Marker
	Info() EngineInfo
	Close() error
}

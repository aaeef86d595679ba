// Package hw describes the hardware component framework the pipeline is built on.
//
// The framework owns stages (components), their typed ports, the connections
// between ports and the buffer pools/queues that carry frames across host
// visible boundaries. Only the interface lives here; implementations are
// provided by a platform binding or by the in-process simulator in hw/sim.
//
// # Ownership
//
// A Buffer always has exactly one owner: a pool queue, a producing port,
// a delivery queue, the application, or a consuming port. Every transition is
// one of Queue.Get/Queue.Wait (queue -> application), Port.SendBuffer
// (application -> port) or Buffer.Release (application -> origin pool).
package hw

import (
	"context"
	"errors"
)

// ComponentKind names a stage implementation known to the framework.
type ComponentKind string

// Component kinds.
const (
	KindCamera    ComponentKind = "camera"
	KindSplitter  ComponentKind = "splitter"
	KindConverter ComponentKind = "isp"
	KindRenderer  ComponentKind = "renderer"
	KindNullSink  ComponentKind = "null_sink"
)

// PortType identifies the role of a port on its component.
type PortType int

// Port types.
const (
	PortControl PortType = iota
	PortInput
	PortOutput
)

func (t PortType) String() string {
	switch t {
	case PortControl:
		return "control"
	case PortInput:
		return "input"
	case PortOutput:
		return "output"
	default:
		return "unknown"
	}
}

// ConnectionMode selects how a connection moves buffers.
type ConnectionMode int

// Connection modes.
const (
	// Tunnelled connections are zero-copy and framework managed; they expose no buffers.
	Tunnelled ConnectionMode = iota
	// PoolBacked connections carry an explicit pool and delivery queue the host drives.
	PoolBacked
)

func (m ConnectionMode) String() string {
	if m == Tunnelled {
		return "tunnelled"
	}
	return "pool_backed"
}

// Camera output port indices.
const (
	CameraPreviewPort = 0
	CameraVideoPort   = 1
	CameraCapturePort = 2
)

// Framework errors.
var (
	ErrPortNotEnabled = errors.New("port not enabled")
	ErrNotConnected   = errors.New("port not connected")
	ErrInvalidFormat  = errors.New("invalid port format")
	ErrNotSupported   = errors.New("operation not supported on this port")
	ErrDestroyed      = errors.New("component destroyed")
)

// CameraInfo is the inventory record for one physical camera.
type CameraInfo struct {
	Index     int
	MaxWidth  int
	MaxHeight int
}

// Framework is the entry point of the hardware component framework.
type Framework interface {
	// CameraInfo queries the number of cameras and each one's maximum resolution.
	CameraInfo() ([]CameraInfo, error)

	// CreateComponent creates a stage of the given kind. The stage starts disabled.
	CreateComponent(kind ComponentKind) (Component, error)

	// Connect links an output port to an input port. The connection starts disabled.
	Connect(out, in Port, mode ConnectionMode) (Connection, error)
}

// Component is one processing stage.
type Component interface {
	Name() string
	Kind() ComponentKind

	// Control returns the control port.
	Control() Port

	// Input returns input port i, or nil if the component has no such port.
	Input(i int) Port

	// Output returns output port i, or nil if the component has no such port.
	Output(i int) Port

	Enable() error
	Disable() error
	Destroy() error
}

// Port is a typed endpoint of a component.
type Port interface {
	Name() string
	Type() PortType
	Index() int
	Component() Component

	// Format returns the last committed format.
	Format() Format

	// CommitFormat negotiates and commits a format.
	CommitFormat(f Format) error

	SetZeroCopy(enabled bool) error
	SetDisplayRegion(region DisplayRegion) error

	// SetCameraNum selects the physical camera (camera control port only).
	SetCameraNum(index int) error

	// SetCapture arms or disarms a per-frame capture trigger (camera outputs only).
	SetCapture(enabled bool) error

	// EnableControl enables a control port with a completion callback for events.
	EnableControl(cb func(Port, *Buffer)) error

	// CreatePool enables an unconnected port with a host-visible pool of count
	// buffers and returns the pool queue. Used when host software feeds the port.
	CreatePool(count int) (Queue, error)

	// SendBuffer transfers ownership of b to the port. For an output port b
	// is an empty buffer to fill; for an input port b carries a frame to consume.
	SendBuffer(b *Buffer) error
}

// Connection is a directed link between two ports.
type Connection interface {
	Name() string
	Mode() ConnectionMode
	Out() Port
	In() Port

	// SetCallback registers a completion hook invoked whenever a buffer is
	// delivered or returned. It carries no ownership.
	SetCallback(cb func(Connection))

	Enable() error
	Disable() error
	Destroy() error

	// Pool returns the queue of empty buffers, nil for tunnelled connections.
	Pool() Queue

	// Queue returns the delivery queue of filled buffers, nil for tunnelled connections.
	Queue() Queue
}

// Queue is a FIFO of buffers.
type Queue interface {
	// Get removes a buffer without blocking; nil when the queue is empty.
	Get() *Buffer

	// Wait blocks until a buffer is available or ctx is done.
	Wait(ctx context.Context) (*Buffer, error)

	// Put appends a buffer.
	Put(b *Buffer)

	Len() int
}

// Package sim is an in-process implementation of the hardware component
// framework. Frames are produced synchronously whenever a producing port holds
// an empty buffer and its upstream source has a frame available:
//
//   - camera preview/video outputs stream continuously
//   - the camera capture output yields one frame per SetCapture(true)
//   - a host-fed input (CreatePool) yields one frame per buffer sent to it
//
// Pool-backed connections account for every buffer they own, which lets tests
// assert that nothing leaks.
package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/smazurov/camgraph/internal/hw"
	"github.com/smazurov/camgraph/internal/logging"
)

// Op names the framework operation a failure hook is consulted for.
type Op string

// Operations that can be failed through Config.Fail.
const (
	OpInventory        Op = "inventory"
	OpCreate           Op = "create"
	OpCommitFormat     Op = "commit_format"
	OpSetParameter     Op = "set_parameter"
	OpEnable           Op = "enable"
	OpConnect          Op = "connect"
	OpConnectionEnable Op = "connection_enable"
	OpCreatePool       Op = "create_pool"
	OpSendBuffer       Op = "send_buffer"
	OpSetCapture       Op = "set_capture"
)

const (
	// DefaultPoolSize is the number of buffers in each pool-backed connection.
	DefaultPoolSize = 3
	// SplitterOutputs is the splitter fan-out.
	SplitterOutputs = 4
)

// Source identifies where a delivered frame originated.
type Source struct {
	Camera  int
	Port    int
	HostFed bool
}

// Config configures the simulated framework.
type Config struct {
	Cameras  []hw.CameraInfo
	PoolSize int

	// Fail, when set, is consulted before each operation. A non-nil return
	// value fails the operation with that error.
	Fail func(op Op, name string) error

	// EmptyFrames, when set, reports whether the seq-th delivery on a
	// connection is an empty completion. Empty completions do not consume a
	// source frame.
	EmptyFrames func(src Source, seq uint64) bool
}

// DefaultCameras returns a single 5MP camera.
func DefaultCameras() []hw.CameraInfo {
	return []hw.CameraInfo{{Index: 0, MaxWidth: 2592, MaxHeight: 1944}}
}

// PoolStats describes where the buffers of a pool-backed connection are.
type PoolStats struct {
	Connection string
	Total      int
	InPool     int
	AtPort     int
	Queued     int
	Delivered  uint64
}

// Outstanding is the number of buffers owned by the application or a sink.
func (s PoolStats) Outstanding() int {
	return s.Total - s.InPool - s.AtPort - s.Queued
}

// Framework implements hw.Framework.
type Framework struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	counters    map[hw.ComponentKind]int
	components  []*component
	connections []*connection
	rendered    map[string]int
}

var _ hw.Framework = (*Framework)(nil)

// New creates a simulated framework.
func New(cfg Config) *Framework {
	if cfg.Cameras == nil {
		cfg.Cameras = DefaultCameras()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	return &Framework{
		cfg:      cfg,
		logger:   logging.GetLogger("sim"),
		counters: make(map[hw.ComponentKind]int),
		rendered: make(map[string]int),
	}
}

func (f *Framework) fail(op Op, name string) error {
	if f.cfg.Fail == nil {
		return nil
	}
	if err := f.cfg.Fail(op, name); err != nil {
		return fmt.Errorf("%s %s: %w", op, name, err)
	}
	return nil
}

// CameraInfo implements hw.Framework.
func (f *Framework) CameraInfo() ([]hw.CameraInfo, error) {
	if err := f.fail(OpInventory, "camera_info"); err != nil {
		return nil, err
	}
	out := make([]hw.CameraInfo, len(f.cfg.Cameras))
	copy(out, f.cfg.Cameras)
	return out, nil
}

// CreateComponent implements hw.Framework.
func (f *Framework) CreateComponent(kind hw.ComponentKind) (hw.Component, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var inputs, outputs int
	switch kind {
	case hw.KindCamera:
		outputs = 3
	case hw.KindSplitter:
		inputs, outputs = 1, SplitterOutputs
	case hw.KindConverter:
		inputs, outputs = 1, 1
	case hw.KindRenderer, hw.KindNullSink:
		inputs = 1
	default:
		return nil, fmt.Errorf("unknown component kind %q", kind)
	}

	name := fmt.Sprintf("%s%d", kind, f.counters[kind])
	f.counters[kind]++
	if err := f.fail(OpCreate, name); err != nil {
		return nil, err
	}

	c := &component{fw: f, name: name, kind: kind, cameraNum: -1}
	c.control = &port{comp: c, typ: hw.PortControl, name: name + ":ctr"}
	for i := range inputs {
		c.inputs = append(c.inputs, &port{comp: c, typ: hw.PortInput, index: i, name: fmt.Sprintf("%s:in%d", name, i)})
	}
	for i := range outputs {
		c.outputs = append(c.outputs, &port{comp: c, typ: hw.PortOutput, index: i, name: fmt.Sprintf("%s:out%d", name, i)})
	}
	f.components = append(f.components, c)
	f.logger.Debug("Component created", "component", name)
	return c, nil
}

// Connect implements hw.Framework.
func (f *Framework) Connect(out, in hw.Port, mode hw.ConnectionMode) (hw.Connection, error) {
	op, ok := out.(*port)
	if !ok || op.typ != hw.PortOutput {
		return nil, fmt.Errorf("connect: %w: source is not a simulated output port", hw.ErrNotSupported)
	}
	ip, ok := in.(*port)
	if !ok || ip.typ != hw.PortInput {
		return nil, fmt.Errorf("connect: %w: sink is not a simulated input port", hw.ErrNotSupported)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if op.conn != nil || ip.conn != nil || ip.host != nil {
		return nil, fmt.Errorf("connect %s->%s: port already connected", op.name, ip.name)
	}
	name := op.name + "->" + ip.name
	if err := f.fail(OpConnect, name); err != nil {
		return nil, err
	}

	c := &connection{fw: f, name: name, mode: mode, out: op, in: ip}
	if mode == hw.PoolBacked {
		c.pool = newQueue()
		c.queue = newQueue()
	}
	op.conn = c
	ip.conn = c
	f.connections = append(f.connections, c)
	f.logger.Debug("Connection created", "connection", name, "mode", mode)
	return c, nil
}

// Components returns the number of live components.
func (f *Framework) Components() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.components)
}

// Connections returns the number of live connections.
func (f *Framework) Connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connections)
}

// Rendered returns how many buffers sink components have consumed, keyed by component name.
func (f *Framework) Rendered() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.rendered))
	for k, v := range f.rendered {
		out[k] = v
	}
	return out
}

// Stats reports buffer accounting for a pool-backed connection created by f.
func (f *Framework) Stats(conn hw.Connection) (PoolStats, error) {
	c, ok := conn.(*connection)
	if !ok || c.fw != f {
		return PoolStats{}, errors.New("connection does not belong to this framework")
	}
	if c.mode != hw.PoolBacked {
		return PoolStats{}, fmt.Errorf("connection %s is tunnelled", c.name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return PoolStats{
		Connection: c.name,
		Total:      c.total,
		InPool:     c.pool.Len(),
		AtPort:     len(c.out.pending),
		Queued:     c.queue.Len(),
		Delivered:  c.delivered,
	}, nil
}

// delivery is a completion to report after the framework lock is released.
type delivery struct {
	conn *connection
	cb   func(hw.Connection)
}

func (f *Framework) notify(ds []delivery) {
	for _, d := range ds {
		if d.cb != nil {
			d.cb(d.conn)
		}
	}
}

// pump fills every pending empty buffer for which a frame is available.
// Callers hold f.mu.
func (f *Framework) pump() []delivery {
	var out []delivery
	for _, c := range f.connections {
		if c.mode != hw.PoolBacked || !c.enabled {
			continue
		}
		o := c.out
		for len(o.pending) > 0 {
			src, live := f.trace(o)
			if src == nil || !live {
				break
			}
			continuous := src.host == nil && src.index != hw.CameraCapturePort
			if !continuous && o.consumed >= src.gen {
				break
			}

			b := o.pending[0]
			o.pending[0] = nil
			o.pending = o.pending[1:]
			b.Seq = c.delivered
			if f.cfg.EmptyFrames != nil && f.cfg.EmptyFrames(src.source(), c.delivered) {
				b.Length = 0
				b.Flags = 0
			} else {
				if !continuous {
					o.consumed++
				}
				fill(b, o.format, c.delivered)
			}
			c.delivered++
			c.queue.Put(b)
			out = append(out, delivery{conn: c, cb: c.callback})
		}
	}
	return out
}

// trace walks upstream from an output port to the port that originates its
// frames and reports whether every stage and connection on the way is enabled.
func (f *Framework) trace(p *port) (*port, bool) {
	live := true
	for range 8 {
		c := p.comp
		live = live && c.enabled
		if c.kind == hw.KindCamera {
			return p, live
		}
		if len(c.inputs) == 0 {
			return nil, false
		}
		in := c.inputs[0]
		if in.host != nil {
			return in, live
		}
		if in.conn == nil {
			return nil, false
		}
		live = live && in.conn.enabled
		p = in.conn.out
	}
	return nil, false
}

func fill(b *hw.Buffer, f hw.Format, seq uint64) {
	n := f.PayloadSize()
	if n > len(b.Data) {
		n = len(b.Data)
	}
	b.Length = n
	b.Flags = hw.FlagFrameEnd
	if n > 0 {
		b.Data[0] = byte(seq)
	}
}

// PortState is the parameter state of a simulated port.
type PortState struct {
	Format   hw.Format
	ZeroCopy bool
	Region   hw.DisplayRegion
	Armed    bool
}

// Inspect returns the parameter state of a port created by f.
func (f *Framework) Inspect(p hw.Port) (PortState, bool) {
	sp, ok := p.(*port)
	if !ok || sp.comp.fw != f {
		return PortState{}, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return PortState{Format: sp.format, ZeroCopy: sp.zeroCopy, Region: sp.region, Armed: sp.armed}, true
}

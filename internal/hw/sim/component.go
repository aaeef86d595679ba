package sim

import (
	"fmt"

	"github.com/smazurov/camgraph/internal/hw"
)

type component struct {
	fw        *Framework
	name      string
	kind      hw.ComponentKind
	control   *port
	inputs    []*port
	outputs   []*port
	enabled   bool
	destroyed bool
	cameraNum int
}

func (c *component) Name() string { return c.name }
func (c *component) Kind() hw.ComponentKind { return c.kind }
func (c *component) Control() hw.Port { return c.control }

func (c *component) Input(i int) hw.Port {
	if i < 0 || i >= len(c.inputs) {
		return nil
	}
	return c.inputs[i]
}

func (c *component) Output(i int) hw.Port {
	if i < 0 || i >= len(c.outputs) {
		return nil
	}
	return c.outputs[i]
}

func (c *component) Enable() error {
	f := c.fw
	f.mu.Lock()
	if c.destroyed {
		f.mu.Unlock()
		return fmt.Errorf("enable %s: %w", c.name, hw.ErrDestroyed)
	}
	if err := f.fail(OpEnable, c.name); err != nil {
		f.mu.Unlock()
		return err
	}
	if c.kind == hw.KindCamera && c.cameraNum < 0 {
		c.cameraNum = 0
	}
	c.enabled = true
	ds := f.pump()
	cb := c.control.controlCB
	isCamera := c.kind == hw.KindCamera
	f.mu.Unlock()

	f.notify(ds)
	// Cameras report their settings on the control port once running.
	if isCamera && cb != nil {
		cb(c.control, hw.NewBuffer(0, nil))
	}
	return nil
}

func (c *component) Disable() error {
	c.fw.mu.Lock()
	defer c.fw.mu.Unlock()
	c.enabled = false
	return nil
}

func (c *component) Destroy() error {
	f := c.fw
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.destroyed {
		return nil
	}
	for _, p := range append(append([]*port{}, c.inputs...), c.outputs...) {
		if p.conn != nil {
			return fmt.Errorf("destroy %s: port %s still connected", c.name, p.name)
		}
	}
	c.enabled = false
	c.destroyed = true
	for i, other := range f.components {
		if other == c {
			f.components = append(f.components[:i], f.components[i+1:]...)
			break
		}
	}
	f.logger.Debug("Component destroyed", "component", c.name)
	return nil
}

type port struct {
	comp  *component
	typ   hw.PortType
	index int
	name  string

	format    hw.Format
	zeroCopy  bool
	region    hw.DisplayRegion
	controlCB func(hw.Port, *hw.Buffer)
	armed     bool

	conn *connection
	host *queue

	// pending holds empty buffers submitted to an output port.
	pending []*hw.Buffer
	// gen counts frames a triggered source has produced.
	gen uint64
	// consumed counts triggered frames this output has taken.
	consumed uint64
}

func (p *port) Name() string { return p.name }
func (p *port) Type() hw.PortType { return p.typ }
func (p *port) Index() int { return p.index }
func (p *port) Component() hw.Component { return p.comp }

func (p *port) Format() hw.Format {
	p.comp.fw.mu.Lock()
	defer p.comp.fw.mu.Unlock()
	return p.format
}

func (p *port) CommitFormat(fmtv hw.Format) error {
	f := p.comp.fw
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(OpCommitFormat, p.name); err != nil {
		return err
	}
	if p.typ == hw.PortControl {
		return fmt.Errorf("commit format on %s: %w", p.name, hw.ErrNotSupported)
	}
	crop := fmtv.Crop
	if fmtv.Encoding == 0 || crop.Width <= 0 || crop.Height <= 0 ||
		fmtv.Width < crop.X+crop.Width || fmtv.Height < crop.Y+crop.Height {
		return fmt.Errorf("commit %s on %s: %w", fmtv, p.name, hw.ErrInvalidFormat)
	}
	if p.comp.kind == hw.KindCamera && p.comp.cameraNum >= 0 && p.comp.cameraNum < len(f.cfg.Cameras) {
		info := f.cfg.Cameras[p.comp.cameraNum]
		if crop.Width > info.MaxWidth || crop.Height > info.MaxHeight {
			return fmt.Errorf("commit %s on %s: exceeds sensor %dx%d: %w",
				fmtv, p.name, info.MaxWidth, info.MaxHeight, hw.ErrInvalidFormat)
		}
	}
	p.format = fmtv
	return nil
}

func (p *port) SetZeroCopy(enabled bool) error {
	f := p.comp.fw
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(OpSetParameter, p.name); err != nil {
		return err
	}
	p.zeroCopy = enabled
	return nil
}

func (p *port) SetDisplayRegion(region hw.DisplayRegion) error {
	f := p.comp.fw
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.comp.kind != hw.KindRenderer || p.typ != hw.PortInput {
		return fmt.Errorf("display region on %s: %w", p.name, hw.ErrNotSupported)
	}
	if err := f.fail(OpSetParameter, p.name); err != nil {
		return err
	}
	p.region = region
	return nil
}

func (p *port) SetCameraNum(index int) error {
	f := p.comp.fw
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.comp.kind != hw.KindCamera || p.typ != hw.PortControl {
		return fmt.Errorf("camera number on %s: %w", p.name, hw.ErrNotSupported)
	}
	if err := f.fail(OpSetParameter, p.name); err != nil {
		return err
	}
	if index < 0 || index >= len(f.cfg.Cameras) {
		return fmt.Errorf("camera number %d: no such camera", index)
	}
	p.comp.cameraNum = index
	return nil
}

func (p *port) SetCapture(enabled bool) error {
	f := p.comp.fw
	f.mu.Lock()
	if p.comp.kind != hw.KindCamera || p.typ != hw.PortOutput {
		f.mu.Unlock()
		return fmt.Errorf("capture trigger on %s: %w", p.name, hw.ErrNotSupported)
	}
	if err := f.fail(OpSetCapture, p.name); err != nil {
		f.mu.Unlock()
		return err
	}
	if !p.comp.enabled {
		f.mu.Unlock()
		return fmt.Errorf("capture trigger on %s: %w", p.name, hw.ErrPortNotEnabled)
	}
	p.armed = enabled
	var ds []delivery
	if enabled {
		p.gen++
		ds = f.pump()
	}
	f.mu.Unlock()
	f.notify(ds)
	return nil
}

func (p *port) EnableControl(cb func(hw.Port, *hw.Buffer)) error {
	f := p.comp.fw
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.typ != hw.PortControl {
		return fmt.Errorf("enable control on %s: %w", p.name, hw.ErrNotSupported)
	}
	if err := f.fail(OpEnable, p.name); err != nil {
		return err
	}
	p.controlCB = cb
	return nil
}

func (p *port) CreatePool(count int) (hw.Queue, error) {
	f := p.comp.fw
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.typ != hw.PortInput || p.conn != nil {
		return nil, fmt.Errorf("create pool on %s: %w", p.name, hw.ErrNotSupported)
	}
	if err := f.fail(OpCreatePool, p.name); err != nil {
		return nil, err
	}
	if p.format.Encoding == 0 {
		return nil, fmt.Errorf("create pool on %s: %w", p.name, hw.ErrInvalidFormat)
	}
	if count <= 0 {
		count = f.cfg.PoolSize
	}
	q := newQueue()
	size := p.format.Encoding.FrameSize(p.format.Width, p.format.Height)
	for range count {
		q.Put(hw.NewBuffer(size, q.Put))
	}
	p.host = q
	return q, nil
}

func (p *port) SendBuffer(b *hw.Buffer) error {
	if b == nil {
		return fmt.Errorf("send to %s: nil buffer", p.name)
	}
	f := p.comp.fw
	f.mu.Lock()
	if err := f.fail(OpSendBuffer, p.name); err != nil {
		f.mu.Unlock()
		return err
	}

	switch {
	case p.typ == hw.PortOutput:
		c := p.conn
		if c == nil || c.mode != hw.PoolBacked {
			f.mu.Unlock()
			return fmt.Errorf("send to %s: %w", p.name, hw.ErrNotConnected)
		}
		if !c.enabled {
			f.mu.Unlock()
			return fmt.Errorf("send to %s: %w", p.name, hw.ErrPortNotEnabled)
		}
		b.Reset()
		p.pending = append(p.pending, b)
		ds := f.pump()
		f.mu.Unlock()
		f.notify(ds)
		return nil

	case p.typ == hw.PortInput && (p.comp.kind == hw.KindRenderer || p.comp.kind == hw.KindNullSink):
		if !p.comp.enabled {
			f.mu.Unlock()
			return fmt.Errorf("send to %s: %w", p.name, hw.ErrPortNotEnabled)
		}
		f.rendered[p.comp.name]++
		var ds []delivery
		if p.conn != nil {
			ds = append(ds, delivery{conn: p.conn, cb: p.conn.callback})
		}
		f.mu.Unlock()
		b.Release()
		f.notify(ds)
		return nil

	case p.typ == hw.PortInput && p.host != nil:
		if !p.comp.enabled {
			f.mu.Unlock()
			return fmt.Errorf("send to %s: %w", p.name, hw.ErrPortNotEnabled)
		}
		p.gen++
		ds := f.pump()
		f.mu.Unlock()
		b.Release()
		f.notify(ds)
		return nil

	default:
		f.mu.Unlock()
		return fmt.Errorf("send to %s: %w", p.name, hw.ErrNotSupported)
	}
}

func (p *port) source() Source {
	if p.host != nil {
		return Source{Camera: -1, Port: -1, HostFed: true}
	}
	return Source{Camera: p.comp.cameraNum, Port: p.index}
}

type connection struct {
	fw       *Framework
	name     string
	mode     hw.ConnectionMode
	out      *port
	in       *port
	enabled  bool
	callback func(hw.Connection)

	pool      *queue
	queue     *queue
	total     int
	delivered uint64
}

func (c *connection) Name() string { return c.name }
func (c *connection) Mode() hw.ConnectionMode { return c.mode }
func (c *connection) Out() hw.Port { return c.out }
func (c *connection) In() hw.Port { return c.in }

func (c *connection) SetCallback(cb func(hw.Connection)) {
	c.fw.mu.Lock()
	defer c.fw.mu.Unlock()
	c.callback = cb
}

func (c *connection) Enable() error {
	f := c.fw
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(OpConnectionEnable, c.name); err != nil {
		return err
	}
	if c.mode == hw.PoolBacked && c.total == 0 {
		fmtv := c.out.format
		size := fmtv.Encoding.FrameSize(fmtv.Width, fmtv.Height)
		for range f.cfg.PoolSize {
			c.pool.Put(hw.NewBuffer(size, c.pool.Put))
		}
		c.total = f.cfg.PoolSize
	}
	c.enabled = true
	f.logger.Debug("Connection enabled", "connection", c.name, "pool", c.total)
	return nil
}

func (c *connection) Disable() error {
	c.fw.mu.Lock()
	defer c.fw.mu.Unlock()
	c.enabled = false
	if c.pool != nil {
		for _, b := range c.out.pending {
			c.pool.Put(b)
		}
		c.out.pending = nil
	}
	return nil
}

func (c *connection) Destroy() error {
	if err := c.Disable(); err != nil {
		return err
	}
	f := c.fw
	f.mu.Lock()
	defer f.mu.Unlock()
	c.out.conn = nil
	c.in.conn = nil
	for i, other := range f.connections {
		if other == c {
			f.connections = append(f.connections[:i], f.connections[i+1:]...)
			break
		}
	}
	return nil
}

func (c *connection) Pool() hw.Queue {
	if c.pool == nil {
		return nil
	}
	return c.pool
}

func (c *connection) Queue() hw.Queue {
	if c.queue == nil {
		return nil
	}
	return c.queue
}

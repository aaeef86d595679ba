package pipeline

import (
	"github.com/smazurov/camgraph/internal/hw"
	"github.com/smazurov/camgraph/internal/metrics"
)

// edge is a connection together with what it feeds, for error reporting.
type edge struct {
	conn  hw.Connection
	stage string
	slot  int
}

// connectionManager creates, enables and seeds the connections of a camera
// graph once every endpoint stage exists.
type connectionManager struct {
	b *cameraBuilder

	// upstream holds source edges, fanout the splitter->converter edges and
	// sinks the converter->sink edges.
	upstream []edge
	fanout   []edge
	sinks    []edge
}

func (m *connectionManager) wire() error {
	if err := m.createAll(); err != nil {
		return err
	}
	if err := m.enableAll(); err != nil {
		return err
	}
	return m.seedAll()
}

func (m *connectionManager) connect(out, in hw.Port, mode hw.ConnectionMode, stage string, slot int) (hw.Connection, error) {
	b := m.b
	conn, err := b.fw.Connect(out, in, mode)
	if err != nil {
		return nil, buildError(ErrConnectionCreateFailed, b.index, slot, stage, out.Name(), err)
	}
	b.g.conns = append(b.g.conns, conn)
	b.logger.Debug("Connection created", "connection", conn.Name(), "mode", mode, "slot", slot)
	return conn, nil
}

func (m *connectionManager) createAll() error {
	b := m.b
	g := b.g

	switch b.cam.mode {
	case Raw:
		// The host stands in for the conversion stage: the splitter input
		// gets its own pool that the capture path fills.
		pool, err := g.raw.port.CreatePool(b.r.opts.HostPoolSize)
		if err != nil {
			return buildError(ErrConnectionCreateFailed, b.index, -1, stageSplitter, g.raw.port.Name(), err)
		}
		g.raw.pool = pool
	default:
		src := g.camera.Output(b.cam.port.sensorOutput())
		conn, err := m.connect(src, g.splitter.Input(0), hw.Tunnelled, stageSplitter, -1)
		if err != nil {
			return err
		}
		m.upstream = append(m.upstream, edge{conn: conn, stage: stageSplitter, slot: -1})

		if b.cam.port == Dedicated {
			conn, err := m.connect(g.camera.Output(hw.CameraPreviewPort), g.nullSink.Input(0), hw.Tunnelled, stageNullSink, -1)
			if err != nil {
				return err
			}
			m.upstream = append(m.upstream, edge{conn: conn, stage: stageNullSink, slot: -1})
		}
	}

	for slot := range b.cam.nslots {
		conn, err := m.connect(g.splitter.Output(slot), g.converters[slot].Input(0), hw.Tunnelled, stageConverter, slot)
		if err != nil {
			return err
		}
		m.fanout = append(m.fanout, edge{conn: conn, stage: stageConverter, slot: slot})
	}

	for slot := range b.cam.nslots {
		conn, err := m.connect(g.converters[slot].Output(0), g.sinks[slot].Input(0), hw.PoolBacked, stageSink, slot)
		if err != nil {
			return err
		}
		conn.SetCallback(func(c hw.Connection) {
			b.logger.Debug("Buffer completed", "connection", c.Name(), "slot", slot)
		})
		g.sinkConns[slot] = conn
		m.sinks = append(m.sinks, edge{conn: conn, stage: stageSink, slot: slot})
	}
	return nil
}

// enableAll enables downstream-most edges first. Enabling moves no data;
// frames only flow once pools are seeded.
func (m *connectionManager) enableAll() error {
	b := m.b
	for _, group := range [][]edge{m.sinks, m.fanout, m.upstream} {
		for _, e := range group {
			if err := e.conn.Enable(); err != nil {
				return buildError(ErrConnectionEnableFailed, b.index, e.slot, e.stage, e.conn.Name(), err)
			}
		}
	}
	return nil
}

// seedAll submits every pool-backed edge's empty buffers to its producing port.
func (m *connectionManager) seedAll() error {
	b := m.b
	for _, e := range m.sinks {
		pool := e.conn.Pool()
		if pool == nil {
			return buildError(ErrPoolSeedFailed, b.index, e.slot, e.stage, e.conn.Name(), nil)
		}
		n := 0
		for buf := pool.Get(); buf != nil; buf = pool.Get() {
			if err := e.conn.Out().SendBuffer(buf); err != nil {
				buf.Release()
				return buildError(ErrPoolSeedFailed, b.index, e.slot, e.stage, e.conn.Out().Name(), err)
			}
			n++
		}
		metrics.RecordSeeded(b.index, e.slot, n)
		b.logger.Debug("Pool seeded", "connection", e.conn.Name(), "slot", e.slot, "buffers", n)
	}
	return nil
}

package pipeline

import (
	"log/slog"

	"github.com/smazurov/camgraph/internal/hw"
)

// Stage names used in build errors and logs.
const (
	stageCamera    = "camera"
	stageRawSensor = "raw_sensor"
	stageNullSink  = "null_sink"
	stageSplitter  = "splitter"
	stageConverter = "converter"
	stageSink      = "sink"
)

// cameraBuilder materializes one camera's graph. Every step either succeeds
// or returns a build error; stages created before a failure stay in g so the
// caller can tear them down.
type cameraBuilder struct {
	r      *Registry
	fw     hw.Framework
	index  int
	cam    *camera
	g      *cameraGraph
	logger *slog.Logger

	maxW, maxH int
}

func newCameraBuilder(r *Registry, index int, cam *camera) *cameraBuilder {
	return &cameraBuilder{
		r:      r,
		fw:     r.fw,
		index:  index,
		cam:    cam,
		g:      &cameraGraph{port: cam.port, mode: cam.mode},
		logger: r.logger.With("camera", index),
	}
}

func (b *cameraBuilder) build() error {
	b.maxW, b.maxH = b.cam.maxDims()
	b.logger.Debug("Building pipeline", "max_width", b.maxW, "max_height", b.maxH,
		"slots", b.cam.nslots, "port", b.cam.port, "mode", b.cam.mode)

	var err error
	switch b.cam.mode {
	case Raw:
		err = b.buildRawSource()
	default:
		err = b.buildSensorSource()
	}
	if err != nil {
		return err
	}

	if err := b.buildSplitter(); err != nil {
		return err
	}
	for slot := range b.cam.nslots {
		if err := b.buildConverter(slot); err != nil {
			return err
		}
		if err := b.buildSink(slot); err != nil {
			return err
		}
	}

	cm := &connectionManager{b: b}
	return cm.wire()
}

// create makes a stage and records it for teardown.
func (b *cameraBuilder) create(kind hw.ComponentKind, stage string, slot int) (hw.Component, error) {
	c, err := b.fw.CreateComponent(kind)
	if err != nil {
		return nil, buildError(ErrStageCreateFailed, b.index, slot, stage, "", err)
	}
	b.g.stages = append(b.g.stages, c)
	b.logger.Debug("Stage created", "stage", stage, "slot", slot, "component", c.Name())
	return c, nil
}

func (b *cameraBuilder) enable(c hw.Component, stage string, slot int) error {
	if err := c.Enable(); err != nil {
		return buildError(ErrEnableFailed, b.index, slot, stage, "", err)
	}
	return nil
}

// port resolves a port and fails PORT_NOT_FOUND when the stage lacks it.
func (b *cameraBuilder) port(p hw.Port, stage string, slot int, name string) (hw.Port, error) {
	if p == nil {
		return nil, buildError(ErrPortNotFound, b.index, slot, stage, name, nil)
	}
	return p, nil
}

// configurePort commits a format and sets the zero-copy flag.
func (b *cameraBuilder) configurePort(p hw.Port, f hw.Format, zeroCopy bool, stage string, slot int) error {
	if err := p.CommitFormat(f); err != nil {
		return buildError(ErrFormatCommitFailed, b.index, slot, stage, p.Name(), err)
	}
	if err := p.SetZeroCopy(zeroCopy); err != nil {
		return buildError(ErrParameterSetFailed, b.index, slot, stage, p.Name(), err)
	}
	b.logger.Debug("Port configured", "stage", stage, "slot", slot, "port", p.Name(), "format", f.String(), "zero_copy", zeroCopy)
	return nil
}

func (b *cameraBuilder) controlCallback(p hw.Port, buf *hw.Buffer) {
	b.logger.Debug("Control event", "port", p.Name(), "length", buf.Length)
	buf.Release()
}

// buildSensorSource creates the sensor-capture stage and, for the Dedicated
// port, the discard sink on the preview output.
func (b *cameraBuilder) buildSensorSource() error {
	cam, err := b.create(hw.KindCamera, stageCamera, -1)
	if err != nil {
		return err
	}
	b.g.camera = cam

	ctrl, err := b.port(cam.Control(), stageCamera, -1, "control")
	if err != nil {
		return err
	}
	if err := ctrl.SetCameraNum(b.index); err != nil {
		return buildError(ErrParameterSetFailed, b.index, -1, stageCamera, ctrl.Name(), err)
	}
	if err := ctrl.EnableControl(b.controlCallback); err != nil {
		return buildError(ErrEnableFailed, b.index, -1, stageCamera, ctrl.Name(), err)
	}

	full := hw.AlignedFormat(hw.EncodingOpaque, b.maxW, b.maxH)
	outputs := []int{b.cam.port.sensorOutput()}
	if b.cam.port == Dedicated {
		outputs = append(outputs, hw.CameraPreviewPort)
	}
	for _, idx := range outputs {
		out, err := b.port(cam.Output(idx), stageCamera, -1, "output")
		if err != nil {
			return err
		}
		if err := b.configurePort(out, full, true, stageCamera, -1); err != nil {
			return err
		}
	}
	if err := b.enable(cam, stageCamera, -1); err != nil {
		return err
	}

	if b.cam.port != Dedicated {
		return nil
	}
	b.g.trigger = cam.Output(hw.CameraCapturePort)

	sink, err := b.create(hw.KindNullSink, stageNullSink, -1)
	if err != nil {
		return err
	}
	b.g.nullSink = sink
	in, err := b.port(sink.Input(0), stageNullSink, -1, "input")
	if err != nil {
		return err
	}
	if err := b.configurePort(in, full, true, stageNullSink, -1); err != nil {
		return err
	}
	return b.enable(sink, stageNullSink, -1)
}

// buildRawSource opens the raw sensor driver. Conversion runs on the host in
// the capture path, so there is no hardware stage to create.
func (b *cameraBuilder) buildRawSource() error {
	sensor, err := b.r.opts.RawSensors(b.index)
	if err != nil {
		return buildError(ErrStageCreateFailed, b.index, -1, stageRawSensor, "", err)
	}
	if err := sensor.Open(b.cam.raw, b.maxW, b.maxH); err != nil {
		return buildError(ErrEnableFailed, b.index, -1, stageRawSensor, "", err)
	}
	src := &rawSource{sensor: sensor, conv: b.r.opts.RawConverter}
	if tuner, ok := sensor.(hw.GainTuner); ok {
		src.tuner = tuner
	}
	b.g.raw = src
	b.logger.Debug("Raw sensor opened", "sensor", b.cam.raw.Sensor, "exposure_us", b.cam.raw.ExposureMicros,
		"binning", b.cam.raw.Binning, "tuner", src.tuner != nil)
	return nil
}

// splitterOutputFormat keeps every output on the shared capture grid. The
// crop is the slot size scaled by the integer ratio to the maximum, which
// truncates when the maximum is not a multiple of the slot size.
func splitterOutputFormat(slotW, slotH, maxW, maxH int) hw.Format {
	f := hw.AlignedFormat(hw.EncodingRGBA, maxW, maxH)
	f.Crop = hw.Rect{
		Width:  slotW * (maxW / slotW),
		Height: slotH * (maxH / slotH),
	}
	return f
}

func (b *cameraBuilder) buildSplitter() error {
	split, err := b.create(hw.KindSplitter, stageSplitter, -1)
	if err != nil {
		return err
	}
	b.g.splitter = split

	inEnc := hw.EncodingOpaque
	if b.cam.mode == Raw {
		inEnc = hw.EncodingRGB24
	}
	in, err := b.port(split.Input(0), stageSplitter, -1, "input")
	if err != nil {
		return err
	}
	if err := b.configurePort(in, hw.AlignedFormat(inEnc, b.maxW, b.maxH), true, stageSplitter, -1); err != nil {
		return err
	}
	if b.g.raw != nil {
		b.g.raw.port = in
		b.g.raw.format = in.Format()
	}

	for slot := range b.cam.nslots {
		req := b.cam.slots[slot].req
		out, err := b.port(split.Output(slot), stageSplitter, slot, "output")
		if err != nil {
			return err
		}
		f := splitterOutputFormat(req.Width, req.Height, b.maxW, b.maxH)
		if err := b.configurePort(out, f, true, stageSplitter, slot); err != nil {
			return err
		}
	}
	return b.enable(split, stageSplitter, -1)
}

func (b *cameraBuilder) buildConverter(slot int) error {
	req := b.cam.slots[slot].req
	conv, err := b.create(hw.KindConverter, stageConverter, slot)
	if err != nil {
		return err
	}
	b.g.converters[slot] = conv

	in, err := b.port(conv.Input(0), stageConverter, slot, "input")
	if err != nil {
		return err
	}
	if err := b.configurePort(in, b.g.splitter.Output(slot).Format(), true, stageConverter, slot); err != nil {
		return err
	}

	out, err := b.port(conv.Output(0), stageConverter, slot, "output")
	if err != nil {
		return err
	}
	f := hw.AlignedFormat(req.Encoding, req.Width, req.Height)
	if err := b.configurePort(out, f, req.ZeroCopyRender, stageConverter, slot); err != nil {
		return err
	}
	b.g.outFormats[slot] = f
	return b.enable(conv, stageConverter, slot)
}

func (b *cameraBuilder) buildSink(slot int) error {
	req := b.cam.slots[slot].req
	sink, err := b.create(hw.KindRenderer, stageSink, slot)
	if err != nil {
		return err
	}
	b.g.sinks[slot] = sink

	in, err := b.port(sink.Input(0), stageSink, slot, "input")
	if err != nil {
		return err
	}
	if err := b.configurePort(in, b.g.outFormats[slot], req.ZeroCopyRender, stageSink, slot); err != nil {
		return err
	}
	if req.Region != nil {
		if err := in.SetDisplayRegion(*req.Region); err != nil {
			return buildError(ErrParameterSetFailed, b.index, slot, stageSink, in.Name(), err)
		}
	}
	return b.enable(sink, stageSink, slot)
}

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/camgraph/internal/events"
	"github.com/smazurov/camgraph/internal/hw"
	"github.com/smazurov/camgraph/internal/logging"
	"github.com/smazurov/camgraph/internal/metrics"
	"github.com/smazurov/camgraph/internal/metrics/collectors"
)

// Options configures a Registry.
type Options struct {
	// Bus receives lifecycle events. Optional.
	Bus *events.Bus

	// RawSensors opens the raw sensor driver for a camera. Required for Raw mode.
	RawSensors func(camera int) (hw.RawSensor, error)
	// RawConverter demosaics raw frames on the host. Required for Raw mode.
	RawConverter hw.RawConverter
	// HostPoolSize is the number of buffers on a host-fed splitter input.
	// Zero uses the framework default.
	HostPoolSize int
}

// Registry owns every camera, output slot and frame context, and the graphs
// built from them. Slots are addressed by Handle.
type Registry struct {
	fw      hw.Framework
	opts    Options
	logger  *slog.Logger
	capture *slog.Logger

	// closing is cancelled by Close to unblock waiting captures.
	closing     context.Context
	cancelClose context.CancelFunc

	mu         sync.Mutex
	cameras    [MaxCameras]camera
	numCameras int
	built      bool
	closed     bool
}

// NewRegistry queries the camera inventory and returns an empty registry.
func NewRegistry(fw hw.Framework, opts Options) (*Registry, error) {
	r := &Registry{
		fw:      fw,
		opts:    opts,
		logger:  logging.GetLogger("pipeline"),
		capture: logging.GetLogger("capture"),
	}
	r.closing, r.cancelClose = context.WithCancel(context.Background())

	for i := range r.cameras {
		r.cameras[i].info = hw.CameraInfo{Index: i, MaxWidth: -1, MaxHeight: -1}
	}

	infos, err := fw.CameraInfo()
	if err != nil {
		e := newError(KindConfiguration, ErrInventoryFailed, -1, -1, "querying camera inventory failed")
		e.Cause = err
		return nil, e
	}
	if len(infos) == 0 {
		return nil, newError(KindConfiguration, ErrNoCameras, -1, -1, "no cameras detected")
	}
	if len(infos) > MaxCameras {
		r.logger.Warn("Ignoring cameras beyond registry capacity", "detected", len(infos), "capacity", MaxCameras)
		infos = infos[:MaxCameras]
	}
	for i, info := range infos {
		info.Index = i
		r.cameras[i].info = info
		r.logger.Info("Camera detected", "camera", i, "max_width", info.MaxWidth, "max_height", info.MaxHeight)
	}
	r.numCameras = len(infos)
	return r, nil
}

// NumCameras returns the number of discovered cameras.
func (r *Registry) NumCameras() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.numCameras
}

// Cameras returns the camera inventory.
func (r *Registry) Cameras() []hw.CameraInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]hw.CameraInfo, r.numCameras)
	for i := range r.numCameras {
		out[i] = r.cameras[i].info
	}
	return out
}

// configurable returns the camera if configuration is still allowed.
// Callers hold r.mu.
func (r *Registry) configurable(index int) (*camera, error) {
	if r.built || r.closed {
		return nil, configError(ErrAlreadyBuilt, index, -1, "pipeline already built")
	}
	if index < 0 || index >= r.numCameras {
		return nil, configError(ErrCameraIndexOutOfRange, index, -1,
			"camera %d exceeds the %d discovered cameras", index, r.numCameras)
	}
	return &r.cameras[index], nil
}

// RequestOutput declares an output on a camera and returns its handle.
func (r *Registry) RequestOutput(index int, req OutputRequest) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cam, err := r.configurable(index)
	if err != nil {
		return Handle{}, err
	}
	if req.Width <= 0 || req.Height <= 0 {
		return Handle{}, configError(ErrInvalidResolution, index, -1,
			"invalid resolution %dx%d", req.Width, req.Height)
	}
	if req.Width > cam.info.MaxWidth {
		return Handle{}, configError(ErrResolutionExceedsSensor, index, -1,
			"width %d exceeds max width %d", req.Width, cam.info.MaxWidth)
	}
	if req.Height > cam.info.MaxHeight {
		return Handle{}, configError(ErrResolutionExceedsSensor, index, -1,
			"height %d exceeds max height %d", req.Height, cam.info.MaxHeight)
	}
	if !supportedEncodings[req.Encoding] {
		return Handle{}, configError(ErrUnsupportedEncoding, index, -1,
			"encoding %s is not supported", req.Encoding)
	}
	if cam.nslots == MaxOutputsPerCamera {
		return Handle{}, configError(ErrTooManyOutputs, index, -1,
			"camera already serves %d outputs", MaxOutputsPerCamera)
	}

	slot := cam.nslots
	s := &cam.slots[slot]
	s.req = req
	if req.Region != nil {
		region := *req.Region
		s.req.Region = &region
	}
	fc := &s.ctx
	fc.mu.Lock()
	fc.clear()
	fc.status = statusNone
	fc.mu.Unlock()

	cam.nslots++
	cam.used = true

	h := Handle{Camera: index, Slot: slot}
	r.logger.Debug("Output requested", "camera", index, "slot", slot,
		"width", req.Width, "height", req.Height, "encoding", req.Encoding, "zero_copy", req.ZeroCopyRender)
	return h, nil
}

// SetRenderRegion sets the display region of a slot's sink.
func (r *Registry) SetRenderRegion(h Handle, region hw.DisplayRegion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cam, err := r.configurable(h.Camera)
	if err != nil {
		return err
	}
	if h.Slot < 0 || h.Slot >= cam.nslots {
		return configError(ErrSlotNotFound, h.Camera, h.Slot, "no such output slot")
	}
	cam.slots[h.Slot].req.Region = &region
	return nil
}

// SetSensorPort selects the sensor output a camera uses.
func (r *Registry) SetSensorPort(index int, kind SensorPortKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cam, err := r.configurable(index)
	if err != nil {
		return err
	}
	if kind == Dedicated && cam.mode == Raw {
		return configError(ErrInconsistentPortMode, index, -1, "raw acquisition cannot use the dedicated port")
	}
	cam.port = kind
	return nil
}

// SetAcquisitionMode selects processed or raw acquisition for a camera.
func (r *Registry) SetAcquisitionMode(index int, mode AcquisitionMode, params hw.RawParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cam, err := r.configurable(index)
	if err != nil {
		return err
	}
	if mode == Raw {
		if cam.port == Dedicated {
			return configError(ErrInconsistentPortMode, index, -1, "raw acquisition cannot use the dedicated port")
		}
		if r.opts.RawSensors == nil || r.opts.RawConverter == nil {
			return configError(ErrInconsistentPortMode, index, -1, "raw acquisition needs a raw sensor driver and converter")
		}
	}
	cam.mode = mode
	cam.raw = params
	return nil
}

// Build materializes the graph of every used camera. It may be called once.
// A failing camera is left as built so far and reported; other cameras are
// still built. The returned error joins every camera's failure.
func (r *Registry) Build(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.built || r.closed {
		return configError(ErrAlreadyBuilt, -1, -1, "pipeline already built")
	}
	r.built = true

	var errs []error
	for i := range r.numCameras {
		cam := &r.cameras[i]
		if !cam.used {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		start := time.Now()
		b := newCameraBuilder(r, i, cam)
		err := b.build()
		cam.graph = b.g
		if err != nil {
			r.reportBuildFailure(err)
			errs = append(errs, err)
			continue
		}
		b.g.ready = true
		metrics.ObserveBuild(i, time.Since(start))
		r.logger.Info("Pipeline built", "camera", i, "slots", cam.nslots,
			"port", cam.port, "mode", cam.mode, "duration", time.Since(start))
		r.publish(events.PipelineBuiltEvent{
			Camera:    i,
			Slots:     cam.nslots,
			Port:      cam.port.String(),
			Mode:      cam.mode.String(),
			Timestamp: timestamp(),
		})
	}
	return errors.Join(errs...)
}

func (r *Registry) reportBuildFailure(err error) {
	var pe *Error
	if !errors.As(err, &pe) {
		return
	}
	r.logger.Error("Pipeline build failed", "camera", pe.Camera, "stage", pe.Stage,
		"slot", pe.Slot, "port", pe.Port, "code", pe.Code, "error", pe.Cause)
	r.publish(events.PipelineBuildFailedEvent{
		Camera:    pe.Camera,
		Stage:     pe.Stage,
		Slot:      pe.Slot,
		Code:      string(pe.Code),
		Error:     err.Error(),
		Timestamp: timestamp(),
	})
}

// Built reports whether Build has run.
func (r *Registry) Built() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.built && !r.closed
}

// Handles returns the handle of every requested output.
func (r *Registry) Handles() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Handle
	for i := range r.numCameras {
		for s := range r.cameras[i].nslots {
			out = append(out, Handle{Camera: i, Slot: s})
		}
	}
	return out
}

// slotFor returns the slot addressed by h. Callers hold r.mu.
func (r *Registry) slotFor(h Handle) (*camera, *outputSlot, error) {
	if h.Camera < 0 || h.Camera >= r.numCameras {
		return nil, nil, captureError(ErrSlotNotFound, h, "no such camera")
	}
	cam := &r.cameras[h.Camera]
	if h.Slot < 0 || h.Slot >= cam.nslots {
		return nil, nil, captureError(ErrSlotNotFound, h, "no such output slot")
	}
	return cam, &cam.slots[h.Slot], nil
}

// builtSlot returns the slot and its graph, failing NOT_BUILT unless the
// camera's graph is ready.
func (r *Registry) builtSlot(h Handle) (*camera, *outputSlot, *cameraGraph, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.built || r.closed {
		return nil, nil, nil, captureError(ErrNotBuilt, h, "pipeline not built")
	}
	cam, slot, err := r.slotFor(h)
	if err != nil {
		return nil, nil, nil, err
	}
	if cam.graph == nil || !cam.graph.ready {
		return nil, nil, nil, captureError(ErrNotBuilt, h, "camera pipeline not built")
	}
	return cam, slot, cam.graph, nil
}

// SinkConnection returns the pool-backed connection feeding a slot's sink.
func (r *Registry) SinkConnection(h Handle) (hw.Connection, error) {
	_, _, g, err := r.builtSlot(h)
	if err != nil {
		return nil, err
	}
	return g.sinkConns[h.Slot], nil
}

// PoolLevels reports the pool occupancy of every built slot.
func (r *Registry) PoolLevels() []collectors.PoolLevel {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []collectors.PoolLevel
	for i := range r.numCameras {
		cam := &r.cameras[i]
		if cam.graph == nil || !cam.graph.ready || r.closed {
			continue
		}
		for s := range cam.nslots {
			conn := cam.graph.sinkConns[s]
			out = append(out, collectors.PoolLevel{
				Camera: i,
				Slot:   s,
				Free:   conn.Pool().Len(),
				Queued: conn.Queue().Len(),
			})
		}
	}
	return out
}

// Close releases held buffers, tears down every graph in reverse build order
// and resets cameras to sentinel values. Captures fail NOT_BUILT afterwards.
func (r *Registry) Close() error {
	r.cancelClose()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	torn := 0
	for i := range r.numCameras {
		cam := &r.cameras[i]
		for s := range cam.nslots {
			fc := &cam.slots[s].ctx
			fc.mu.Lock()
			if fc.buf != nil && !fc.handedToSink {
				fc.buf.Release()
			}
			fc.clear()
			fc.mu.Unlock()
			metrics.DeleteSlotMetrics(i, s)
		}
		if cam.graph != nil {
			if err := cam.graph.teardown(); err != nil {
				errs = append(errs, err)
			}
			torn++
		}
		cam.reset()
	}

	r.logger.Info("Pipeline closed", "cameras", torn)
	r.publish(events.PipelineClosedEvent{Cameras: torn, Timestamp: timestamp()})
	return errors.Join(errs...)
}

// teardown disables and destroys connections, then stages, newest first.
func (g *cameraGraph) teardown() error {
	var errs []error
	for i := len(g.conns) - 1; i >= 0; i-- {
		c := g.conns[i]
		if err := c.Disable(); err != nil {
			errs = append(errs, err)
		}
		if err := c.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(g.stages) - 1; i >= 0; i-- {
		s := g.stages[i]
		if err := s.Disable(); err != nil {
			errs = append(errs, err)
		}
		if err := s.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	if g.raw != nil {
		if err := g.raw.sensor.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	g.ready = false
	return errors.Join(errs...)
}

func (r *Registry) publish(ev events.Event) {
	if r.opts.Bus != nil {
		r.opts.Bus.Publish(ev)
	}
}

func timestamp() string {
	return time.Now().Format(time.RFC3339)
}

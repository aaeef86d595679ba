package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/camgraph/internal/capture"
	"github.com/smazurov/camgraph/internal/config"
	"github.com/smazurov/camgraph/internal/events"
	"github.com/smazurov/camgraph/internal/hw"
	"github.com/smazurov/camgraph/internal/hw/sim"
	"github.com/smazurov/camgraph/internal/logging"
	"github.com/smazurov/camgraph/internal/metrics/collectors"
	"github.com/smazurov/camgraph/internal/pipeline"
)

// host owns the running registry and its capture loops. A pipeline file
// change replaces both: the old graph is torn down before the new one is
// built, never patched in place.
type host struct {
	opts    *Options
	bus     *events.Bus
	capture capture.Config
	logger  *slog.Logger

	mu    sync.Mutex
	loops *capture.Group
	reg   atomic.Pointer[pipeline.Registry]
}

func newHost(opts *Options, bus *events.Bus) (*host, error) {
	interval, err := time.ParseDuration(opts.CaptureInterval)
	if err != nil {
		return nil, err
	}
	return &host{
		opts: opts,
		bus:  bus,
		capture: capture.Config{
			Interval: interval,
			Render:   opts.CaptureRender,
		},
		logger: logging.GetLogger("main"),
	}, nil
}

// Snapshot implements api.StatusSource.
func (h *host) Snapshot() []pipeline.CameraStatus {
	if r := h.reg.Load(); r != nil {
		return r.Snapshot()
	}
	return nil
}

// Built implements api.StatusSource.
func (h *host) Built() bool {
	r := h.reg.Load()
	return r != nil && r.Built()
}

// PoolLevels implements collectors.PoolSampler.
func (h *host) PoolLevels() []collectors.PoolLevel {
	if r := h.reg.Load(); r != nil {
		return r.PoolLevels()
	}
	return nil
}

// framework returns a fresh hardware framework for one registry lifetime.
func (h *host) framework() hw.Framework {
	cams := make([]hw.CameraInfo, h.opts.SimCameras)
	for i := range cams {
		cams[i] = hw.CameraInfo{Index: i, MaxWidth: h.opts.SimMaxWidth, MaxHeight: h.opts.SimMaxHeight}
	}
	cfg := sim.Config{Cameras: cams, PoolSize: h.opts.SimPoolSize}
	if every := uint64(h.opts.SimEmptyEvery); every > 0 {
		cfg.EmptyFrames = func(_ sim.Source, seq uint64) bool { return seq%every == every-1 }
	}
	return sim.New(cfg)
}

// Start builds the pipeline declared by file and starts a loop per slot.
func (h *host) Start(ctx context.Context, file *config.PipelineFile) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startLocked(ctx, file)
}

func (h *host) startLocked(ctx context.Context, file *config.PipelineFile) error {
	reg, err := pipeline.NewRegistry(h.framework(), pipeline.Options{
		Bus: h.bus,
		RawSensors: func(int) (hw.RawSensor, error) {
			return sim.NewRawSensor(sim.RawSensorConfig{}), nil
		},
		RawConverter: sim.Converter{},
		HostPoolSize: h.opts.RawPoolSize,
	})
	if err != nil {
		return err
	}

	handles, err := config.ApplyPipeline(reg, file)
	if err != nil {
		_ = reg.Close()
		return err
	}

	// A camera that fails to build is reported and skipped; the others run.
	buildErr := reg.Build(ctx)
	if buildErr != nil {
		h.logger.Error("Pipeline built with failures", "error", buildErr)
	}
	running := builtHandles(reg, handles)
	if len(running) == 0 {
		_ = reg.Close()
		return errors.Join(errors.New("no camera could be built"), buildErr)
	}

	h.reg.Store(reg)
	h.loops = capture.Start(ctx, reg, running, h.capture)
	h.logger.Info("Pipeline running", "slots", len(running), "render", h.capture.Render, "interval", h.capture.Interval)
	return nil
}

func builtHandles(reg *pipeline.Registry, handles []pipeline.Handle) []pipeline.Handle {
	built := make(map[int]bool)
	for _, cs := range reg.Snapshot() {
		built[cs.Index] = cs.Built
	}
	var out []pipeline.Handle
	for _, h := range handles {
		if built[h.Camera] {
			out = append(out, h)
		}
	}
	return out
}

// Stop ends every capture loop and tears the graph down.
func (h *host) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
}

func (h *host) stopLocked() {
	if h.loops != nil {
		if _, err := h.loops.Stop(); err != nil {
			h.logger.Warn("Capture loops ended with errors", "error", err)
		}
		h.loops = nil
	}
	if reg := h.reg.Swap(nil); reg != nil {
		if err := reg.Close(); err != nil {
			h.logger.Warn("Pipeline teardown reported errors", "error", err)
		}
	}
}

// Reload replaces the running pipeline with the one declared by file.
func (h *host) Reload(ctx context.Context, file *config.PipelineFile) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.logger.Info("Reloading pipeline", "cameras", len(file.Cameras))
	h.stopLocked()
	if err := h.startLocked(ctx, file); err != nil {
		return err
	}
	h.bus.Publish(events.ConfigReloadedEvent{
		Path:      h.opts.PipelineFile,
		Cameras:   len(file.Cameras),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

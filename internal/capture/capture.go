// Package capture drives the capture/render loop of output slots.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/camgraph/internal/logging"
	"github.com/smazurov/camgraph/internal/pipeline"
)

// DefaultMaxConsecutiveErrors is how many failed captures in a row end a loop.
const DefaultMaxConsecutiveErrors = 10

// Target is the capture surface of a pipeline registry.
type Target interface {
	CaptureNext(ctx context.Context, h pipeline.Handle) (*pipeline.Frame, error)
	FramePointer(h pipeline.Handle) ([]byte, error)
	ReleaseFrame(h pipeline.Handle) error
}

// Config controls a capture loop.
type Config struct {
	// Frames stops the loop after this many frames. Zero runs until ctx ends.
	Frames int
	// Interval is the pause after each frame.
	Interval time.Duration
	// Render hands each frame to the slot's sink. Otherwise frames are
	// released, or left for the next capture to reclaim (see ManualRelease).
	Render bool
	// ManualRelease releases unrendered frames immediately. When false an
	// unrendered frame stays held until the next capture auto-releases it.
	ManualRelease bool
	// GetFrame reads the payload through FramePointer and checks it
	// matches the token's view.
	GetFrame bool
	// MaxConsecutiveErrors ends the loop after that many failures in a row.
	// Zero uses DefaultMaxConsecutiveErrors.
	MaxConsecutiveErrors int
	// OnFrame, when set, sees every frame before it is resolved.
	OnFrame func(*pipeline.Frame)
}

// Stats summarises one loop.
type Stats struct {
	Handle   pipeline.Handle `json:"handle"`
	Captured int             `json:"captured"`
	Rendered int             `json:"rendered"`
	Released int             `json:"released"`
	Errors   int             `json:"errors"`
	Elapsed  time.Duration   `json:"elapsed"`
}

// FPS is the capture rate over the loop's lifetime.
func (s Stats) FPS() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Captured) / s.Elapsed.Seconds()
}

// Run captures frames on h until cfg.Frames is reached, ctx ends, the
// pipeline is torn down, or too many captures fail in a row. Ending because
// of ctx or teardown is not an error.
func Run(ctx context.Context, t Target, h pipeline.Handle, cfg Config) (stats Stats, err error) {
	logger := logging.GetLogger("capture").With("camera", h.Camera, "slot", h.Slot)
	maxErrors := cfg.MaxConsecutiveErrors
	if maxErrors <= 0 {
		maxErrors = DefaultMaxConsecutiveErrors
	}

	stats.Handle = h
	start := time.Now()
	defer func() { stats.Elapsed = time.Since(start) }()

	// A frame left for auto-release is still held when the loop ends.
	defer func() {
		if rerr := t.ReleaseFrame(h); rerr != nil && !pipeline.IsCode(rerr, pipeline.ErrNoBufferHeld) &&
			!pipeline.IsCode(rerr, pipeline.ErrNotBuilt) {
			logger.Warn("Failed to release held frame", "error", rerr)
		}
	}()

	consecutive := 0
	for cfg.Frames <= 0 || stats.Captured < cfg.Frames {
		f, cerr := t.CaptureNext(ctx, h)
		if cerr != nil {
			if ctx.Err() != nil || pipeline.IsCode(cerr, pipeline.ErrNotBuilt) {
				logger.Debug("Capture loop ending", "reason", cerr)
				return stats, nil
			}
			stats.Errors++
			consecutive++
			logger.Warn("Capture failed", "error", cerr, "consecutive", consecutive)
			if consecutive >= maxErrors {
				return stats, fmt.Errorf("capture %s: %d consecutive failures: %w", h, consecutive, cerr)
			}
			if !sleep(ctx, cfg.Interval) {
				return stats, nil
			}
			continue
		}
		consecutive = 0
		stats.Captured++

		if cfg.GetFrame {
			if err := checkPointer(t, h, f); err != nil {
				_ = f.Release()
				return stats, err
			}
		}
		if cfg.OnFrame != nil {
			cfg.OnFrame(f)
		}

		// The payload belongs to the sink or the pool once resolved.
		seq := f.Seq()
		logger.Debug("Frame captured", "seq", seq, "bytes", len(f.Data()), "render", cfg.Render)
		if err := resolve(f, cfg, &stats); err != nil {
			stats.Errors++
			logger.Warn("Failed to resolve frame", "seq", seq, "error", err)
		}

		if !sleep(ctx, cfg.Interval) {
			return stats, nil
		}
	}
	return stats, nil
}

func resolve(f *pipeline.Frame, cfg Config, stats *Stats) error {
	switch {
	case cfg.Render:
		if err := f.Handoff(); err != nil {
			// The frame is still held after a failed send.
			_ = f.Release()
			return err
		}
		stats.Rendered++
	case cfg.ManualRelease:
		if err := f.Release(); err != nil {
			return err
		}
		stats.Released++
	}
	return nil
}

func checkPointer(t Target, h pipeline.Handle, f *pipeline.Frame) error {
	data, err := t.FramePointer(h)
	if err != nil {
		return err
	}
	if len(data) != len(f.Data()) || (len(data) > 0 && &data[0] != &f.Data()[0]) {
		return fmt.Errorf("capture %s: frame pointer does not match the held frame", h)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Group runs one loop per handle.
type Group struct {
	logger *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	stats []Stats
	errs  []error
}

// Start launches a loop for every handle. Stop ends them.
func Start(ctx context.Context, t Target, handles []pipeline.Handle, cfg Config) *Group {
	ctx, cancel := context.WithCancel(ctx)
	g := &Group{logger: logging.GetLogger("capture"), cancel: cancel}
	for _, h := range handles {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			st, err := Run(ctx, t, h, cfg)
			g.mu.Lock()
			g.stats = append(g.stats, st)
			if err != nil {
				g.errs = append(g.errs, err)
			}
			g.mu.Unlock()
			g.logger.Info("Capture loop finished", "handle", h.String(),
				"captured", st.Captured, "errors", st.Errors, "fps", fmt.Sprintf("%.1f", st.FPS()))
		}()
	}
	return g
}

// Wait blocks until every loop has ended and returns their stats and joined
// errors.
func (g *Group) Wait() ([]Stats, error) {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Stats(nil), g.stats...), errors.Join(g.errs...)
}

// Stop cancels every loop and waits for them.
func (g *Group) Stop() ([]Stats, error) {
	g.cancel()
	return g.Wait()
}

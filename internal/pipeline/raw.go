package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/smazurov/camgraph/internal/hw"
)

// rawPollInterval is how often an idle raw sensor is polled.
const rawPollInterval = time.Millisecond

// rawSource is the host side of a Raw acquisition graph: the sensor driver,
// the demosaic routine and the host pool on the splitter input.
type rawSource struct {
	sensor hw.RawSensor
	conv   hw.RawConverter
	tuner  hw.GainTuner

	port   hw.Port
	format hw.Format
	pool   hw.Queue
}

// pull returns the next image frame. Metadata-only frames are released and
// skipped.
func (s *rawSource) pull(ctx context.Context) (*hw.RawFrame, error) {
	ticker := time.NewTicker(rawPollInterval)
	defer ticker.Stop()
	for {
		f, err := s.sensor.Pull(ctx)
		switch {
		case errors.Is(err, hw.ErrNoRawBuffer):
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
			}
			continue
		case err != nil:
			return nil, err
		}
		if f.SideInfo {
			s.sensor.Release(f)
			continue
		}
		return f, nil
	}
}

// injectRaw converts one raw frame into a host buffer and submits it to the
// splitter input, where it flows through the rest of the graph like a
// sensor frame.
func (r *Registry) injectRaw(ctx context.Context, h Handle, src *rawSource) error {
	frame, err := src.pull(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return r.waitError(h, err)
		}
		e := captureError(ErrRawCaptureFailed, h, "pulling raw frame failed")
		e.Cause = err
		return e
	}
	defer src.sensor.Release(frame)

	buf, err := src.pool.Wait(ctx)
	if err != nil {
		return r.waitError(h, err)
	}

	need := src.format.PayloadSize()
	if len(buf.Data) < need {
		buf.Release()
		return newError(KindResource, ErrResourceAllocationFailed, h.Camera, h.Slot,
			"host buffer holds %d bytes, frame needs %d", len(buf.Data), need)
	}

	n, err := src.conv.Convert(buf.Data, frame, src.format)
	if err != nil {
		buf.Release()
		e := captureError(ErrRawCaptureFailed, h, "converting raw frame failed")
		e.Cause = err
		return e
	}
	buf.Length = n
	buf.Flags |= hw.FlagEOS

	if src.tuner != nil {
		if err := src.tuner.TuneGain(buf.Payload(), src.format); err != nil {
			r.capture.Warn("Gain tuning failed", "camera", h.Camera, "error", err)
		}
	}

	if err := src.port.SendBuffer(buf); err != nil {
		buf.Release()
		e := captureError(ErrBufferSendFailed, h, "injecting converted frame failed")
		e.Cause = err
		return e
	}
	r.capture.Debug("Raw frame injected", "camera", h.Camera, "slot", h.Slot, "bytes", n)
	return nil
}

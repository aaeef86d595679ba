package pipeline

import (
	"context"
	"errors"

	"github.com/smazurov/camgraph/internal/events"
	"github.com/smazurov/camgraph/internal/hw"
	"github.com/smazurov/camgraph/internal/metrics"
)

type topology struct {
	port SensorPortKind
	mode AcquisitionMode
}

// retryEmpty lists the topologies on which a zero-length completion is
// dropped and waited past instead of being reported. Dedicated capture ports
// emit one empty completion per two frames on some sensors; preview ports and
// raw injection have no turnaround requirement. Topologies missing here
// surface an empty completion as NO_STATUS_SUCCESS.
var retryEmpty = map[topology]bool{
	{Shared, Processed}:    true,
	{Dedicated, Processed}: true,
	{Shared, Raw}:          true,
}

// CaptureNext blocks until the slot's sink connection delivers a frame and
// returns it as a token. A buffer still held from the previous capture is
// released first. The wait ends early when ctx is done or the registry closes.
func (r *Registry) CaptureNext(ctx context.Context, h Handle) (*Frame, error) {
	_, slot, g, err := r.builtSlot(h)
	if err != nil {
		r.recordCaptureError(h, err)
		return nil, err
	}

	fc := &slot.ctx
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if r.closing.Err() != nil {
		err := captureError(ErrNotBuilt, h, "pipeline closed")
		r.recordCaptureError(h, err)
		return nil, err
	}

	fc.setState(stateCapturing)
	frame, err := r.captureLocked(ctx, h, fc, g)
	if err != nil {
		if fc.buf != nil {
			// Failed before the previous frame was reclaimed; it is still
			// held and can be released or handed off.
			fc.setState(stateReady)
		} else {
			fc.status = statusFailed
			fc.setState(stateIdle)
		}
		r.recordCaptureError(h, err)
		return nil, err
	}
	return frame, nil
}

func (r *Registry) captureLocked(ctx context.Context, h Handle, fc *frameContext, g *cameraGraph) (*Frame, error) {
	if g.port == Dedicated {
		if err := g.trigger.SetCapture(true); err != nil {
			e := captureError(ErrTriggerArmFailed, h, "arming capture trigger failed")
			e.Cause = err
			return nil, e
		}
	}

	if fc.buf != nil && !fc.handedToSink {
		r.capture.Debug("Releasing unresolved frame", "camera", h.Camera, "slot", h.Slot)
		fc.buf.Release()
		metrics.RecordAutoRelease(h.Camera, h.Slot)
	}
	fc.clear()
	fc.setState(stateCapturing)

	// Wake the wait when the registry closes.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.closing, cancel)
	defer stop()

	if g.raw != nil {
		if err := r.injectRaw(ctx, h, g.raw); err != nil {
			return nil, err
		}
	}

	conn := g.sinkConns[h.Slot]
	for {
		if err := ctx.Err(); err != nil {
			return nil, r.waitError(h, err)
		}
		if err := refill(conn); err != nil {
			e := captureError(ErrBufferSendFailed, h, "resubmitting empty buffers failed")
			e.Cause = err
			return nil, e
		}

		buf, err := conn.Queue().Wait(ctx)
		if err != nil {
			return nil, r.waitError(h, err)
		}

		if buf.Length > 0 {
			fc.buf = buf
			fc.status = statusSuccess
			fc.frame = &Frame{reg: r, handle: h, buf: buf, format: g.outFormats[h.Slot]}
			fc.setState(stateReady)
			fc.captured.Add(1)

			metrics.RecordCapture(h.Camera, h.Slot)
			r.publish(events.FrameCapturedEvent{
				Camera:    h.Camera,
				Slot:      h.Slot,
				Seq:       buf.Seq,
				Length:    buf.Length,
				Timestamp: timestamp(),
			})
			return fc.frame, nil
		}

		buf.Release()
		if !retryEmpty[topology{g.port, g.mode}] {
			return nil, captureError(ErrNoStatusSuccess, h, "sink connection delivered an empty buffer")
		}
		r.capture.Debug("Discarded empty buffer", "camera", h.Camera, "slot", h.Slot, "seq", buf.Seq)
		metrics.RecordEmptyDiscard(h.Camera, h.Slot)
		r.publish(events.EmptyBufferDiscardedEvent{Camera: h.Camera, Slot: h.Slot, Timestamp: timestamp()})
	}
}

// refill moves every buffer sitting in the pool back to the producing port.
func refill(conn hw.Connection) error {
	pool := conn.Pool()
	for buf := pool.Get(); buf != nil; buf = pool.Get() {
		if err := conn.Out().SendBuffer(buf); err != nil {
			buf.Release()
			return err
		}
	}
	return nil
}

func (r *Registry) waitError(h Handle, err error) error {
	if r.closing.Err() != nil {
		e := captureError(ErrNotBuilt, h, "pipeline closed while waiting")
		e.Cause = err
		return e
	}
	e := captureError(ErrCaptureCancelled, h, "wait for frame ended")
	e.Cause = err
	return e
}

func (r *Registry) recordCaptureError(h Handle, err error) {
	var pe *Error
	code := "UNKNOWN"
	if errors.As(err, &pe) {
		code = string(pe.Code)
	}
	metrics.RecordCaptureError(h.Camera, h.Slot, code)
	r.capture.Warn("Capture failed", "camera", h.Camera, "slot", h.Slot, "code", code, "error", err)
	r.publish(events.CaptureErrorEvent{
		Camera:    h.Camera,
		Slot:      h.Slot,
		Code:      code,
		Error:     err.Error(),
		Timestamp: timestamp(),
	})
}

// FramePointer returns the payload of the frame held by a slot.
func (r *Registry) FramePointer(h Handle) ([]byte, error) {
	r.mu.Lock()
	_, slot, err := r.slotFor(h)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	fc := &slot.ctx
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if err := checkHeld(h, fc); err != nil {
		return nil, err
	}
	return fc.buf.Payload(), nil
}

func checkHeld(h Handle, fc *frameContext) error {
	if fc.status != statusSuccess {
		return captureError(ErrNoStatusSuccess, h, "last capture did not succeed")
	}
	if fc.buf == nil || fc.handedToSink {
		return captureError(ErrNoBufferHeld, h, "no frame held")
	}
	return nil
}

// HandoffToSink submits the held frame to the slot's render sink. The sink
// owns the buffer afterwards, so a later ReleaseFrame is a no-op.
func (r *Registry) HandoffToSink(h Handle) error {
	_, slot, g, err := r.builtSlot(h)
	if err != nil {
		return err
	}
	fc := &slot.ctx
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return r.handoffLocked(h, fc, g)
}

// handoffLocked runs with fc.mu held. g was read under r.mu beforehand;
// Close cannot tear it down while fc.mu is held.
func (r *Registry) handoffLocked(h Handle, fc *frameContext, g *cameraGraph) error {
	if err := checkHeld(h, fc); err != nil {
		return err
	}
	if g == nil || r.closing.Err() != nil {
		return captureError(ErrNotBuilt, h, "pipeline not built")
	}

	if err := g.sinkConns[h.Slot].In().SendBuffer(fc.buf); err != nil {
		e := captureError(ErrBufferSendFailed, h, "sending frame to sink failed")
		e.Cause = err
		return e
	}
	fc.clear()
	fc.handedToSink = true
	metrics.RecordHandoff(h.Camera, h.Slot)
	return nil
}

// ReleaseFrame returns the held frame to its pool. It is a no-op when nothing
// is held or the frame was handed to the sink, and safe to call repeatedly.
func (r *Registry) ReleaseFrame(h Handle) error {
	r.mu.Lock()
	_, slot, err := r.slotFor(h)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	fc := &slot.ctx
	fc.mu.Lock()
	defer fc.mu.Unlock()
	r.releaseLocked(h, fc)
	return nil
}

func (r *Registry) releaseLocked(h Handle, fc *frameContext) {
	if fc.buf == nil || fc.handedToSink {
		return
	}
	fc.buf.Release()
	fc.clear()
	metrics.RecordRelease(h.Camera, h.Slot)
}

// tokenContext locks and returns the frame context a token belongs to and
// the camera's graph, failing TOKEN_CONSUMED if the token was already resolved.
func (r *Registry) tokenContext(f *Frame) (*frameContext, *cameraGraph, error) {
	r.mu.Lock()
	cam, slot, err := r.slotFor(f.handle)
	var g *cameraGraph
	if err == nil {
		g = cam.graph
	}
	r.mu.Unlock()
	if err != nil {
		return nil, nil, captureError(ErrTokenConsumed, f.handle, "frame belongs to a closed pipeline")
	}
	fc := &slot.ctx
	fc.mu.Lock()
	if f.consumed || fc.frame != f {
		fc.mu.Unlock()
		return nil, nil, captureError(ErrTokenConsumed, f.handle, "frame already released or handed off")
	}
	return fc, g, nil
}

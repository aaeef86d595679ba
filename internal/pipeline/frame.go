package pipeline

import "github.com/smazurov/camgraph/internal/hw"

// Frame is the single-owner token for a captured buffer. It is consumed by
// exactly one of Release or Handoff; any later call returns TOKEN_CONSUMED.
// A token is also consumed when the slot resolves its buffer another way
// (ReleaseFrame, HandoffToSink, the auto-release of the next capture, or Close).
type Frame struct {
	reg    *Registry
	handle Handle
	buf    *hw.Buffer
	format hw.Format

	// consumed is guarded by the slot's frameContext mutex.
	consumed bool
}

// Handle returns the slot this frame was captured on.
func (f *Frame) Handle() Handle { return f.handle }

// Format returns the negotiated format of the frame.
func (f *Frame) Format() hw.Format { return f.format }

// Seq returns the delivery sequence number of the underlying buffer.
func (f *Frame) Seq() uint64 { return f.buf.Seq }

// Data returns the frame payload. The slice is only valid until the frame is
// released or handed off.
func (f *Frame) Data() []byte {
	return f.buf.Payload()
}

// Release returns the frame's buffer to the pool.
func (f *Frame) Release() error {
	fc, _, err := f.reg.tokenContext(f)
	if err != nil {
		return err
	}
	defer fc.mu.Unlock()
	f.reg.releaseLocked(f.handle, fc)
	return nil
}

// Handoff transfers the frame's buffer to the render sink.
func (f *Frame) Handoff() error {
	fc, g, err := f.reg.tokenContext(f)
	if err != nil {
		return err
	}
	defer fc.mu.Unlock()
	return f.reg.handoffLocked(f.handle, fc, g)
}

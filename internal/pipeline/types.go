package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/smazurov/camgraph/internal/hw"
)

const (
	// MaxCameras is the number of cameras the registry can hold.
	MaxCameras = 4
	// SplitterFanout is the number of outputs of the hardware splitter.
	SplitterFanout = 4
	// MaxOutputsPerCamera is the number of consumers one camera can serve.
	// One splitter output is reserved, so a camera takes at most
	// SplitterFanout-1 output requests.
	MaxOutputsPerCamera = SplitterFanout - 1
)

// Handle addresses one output slot.
type Handle struct {
	Camera int `json:"camera"`
	Slot   int `json:"slot"`
}

func (h Handle) String() string {
	return fmt.Sprintf("%d/%d", h.Camera, h.Slot)
}

// SensorPortKind selects which sensor output feeds the splitter.
type SensorPortKind int

// Sensor port kinds.
const (
	// Shared is the continuously streaming preview output.
	Shared SensorPortKind = iota
	// Dedicated is the still-capture output. It needs a per-frame trigger,
	// and the preview output is tied to a discard sink so the sensor's
	// exposure and white balance loops keep running.
	Dedicated
)

func (k SensorPortKind) String() string {
	if k == Dedicated {
		return "dedicated"
	}
	return "shared"
}

// sensorOutput is the camera output port index for this kind.
func (k SensorPortKind) sensorOutput() int {
	if k == Dedicated {
		return hw.CameraCapturePort
	}
	return hw.CameraPreviewPort
}

// ParseSensorPortKind accepts "shared"/"preview" and "dedicated"/"capture".
func ParseSensorPortKind(s string) (SensorPortKind, error) {
	switch strings.ToLower(s) {
	case "", "shared", "preview":
		return Shared, nil
	case "dedicated", "capture":
		return Dedicated, nil
	default:
		return Shared, fmt.Errorf("unknown sensor port %q", s)
	}
}

// AcquisitionMode selects how frames leave the sensor.
type AcquisitionMode int

// Acquisition modes.
const (
	// Processed frames come from the sensor-capture stage.
	Processed AcquisitionMode = iota
	// Raw frames are pulled from the raw sensor driver, converted on the host
	// and injected into the splitter.
	Raw
)

func (m AcquisitionMode) String() string {
	if m == Raw {
		return "raw"
	}
	return "processed"
}

// ParseAcquisitionMode accepts "processed" and "raw".
func ParseAcquisitionMode(s string) (AcquisitionMode, error) {
	switch strings.ToLower(s) {
	case "", "processed":
		return Processed, nil
	case "raw":
		return Raw, nil
	default:
		return Processed, fmt.Errorf("unknown acquisition mode %q", s)
	}
}

// OutputRequest declares one output stream of a camera.
type OutputRequest struct {
	Width          int
	Height         int
	Encoding       hw.Encoding
	ZeroCopyRender bool
	// Region places the rendered output; nil leaves the sink default.
	Region *hw.DisplayRegion
}

// supportedEncodings are the encodings an output may request.
var supportedEncodings = map[hw.Encoding]bool{
	hw.EncodingRGBA:  true,
	hw.EncodingRGB24: true,
	hw.EncodingBGR24: true,
	hw.EncodingI420:  true,
}

type frameState int32

const (
	stateIdle frameState = iota
	stateCapturing
	stateReady
)

func (s frameState) String() string {
	switch s {
	case stateCapturing:
		return "capturing"
	case stateReady:
		return "ready"
	default:
		return "idle"
	}
}

type captureStatus int

const (
	statusNone captureStatus = iota
	statusSuccess
	statusFailed
)

// frameContext is the per-slot capture state. mu serializes capture
// operations on the slot and is held across the blocking wait; state and
// captured are readable without it.
type frameContext struct {
	mu           sync.Mutex
	buf          *hw.Buffer
	handedToSink bool
	status       captureStatus
	frame        *Frame

	state    atomic.Int32
	captured atomic.Uint64
}

func (fc *frameContext) setState(s frameState) {
	fc.state.Store(int32(s))
}

func (fc *frameContext) getState() frameState {
	return frameState(fc.state.Load())
}

// clear drops the held buffer without touching it and invalidates the token.
func (fc *frameContext) clear() {
	fc.buf = nil
	fc.handedToSink = false
	if fc.frame != nil {
		fc.frame.consumed = true
		fc.frame = nil
	}
	fc.setState(stateIdle)
}

type outputSlot struct {
	req OutputRequest
	ctx frameContext
}

type camera struct {
	info   hw.CameraInfo
	used   bool
	port   SensorPortKind
	mode   AcquisitionMode
	raw    hw.RawParams
	slots  [MaxOutputsPerCamera]outputSlot
	nslots int
	graph  *cameraGraph
}

// maxDims is the component-wise maximum over the camera's outputs.
func (c *camera) maxDims() (int, int) {
	var w, h int
	for i := range c.nslots {
		w = max(w, c.slots[i].req.Width)
		h = max(h, c.slots[i].req.Height)
	}
	return w, h
}

func (c *camera) reset() {
	c.info.MaxWidth = -1
	c.info.MaxHeight = -1
	c.used = false
	c.port = Shared
	c.mode = Processed
	c.raw = hw.RawParams{}
	c.graph = nil
	for i := range c.slots {
		fc := &c.slots[i].ctx
		fc.mu.Lock()
		c.slots[i].req = OutputRequest{}
		fc.clear()
		fc.status = statusNone
		fc.captured.Store(0)
		fc.mu.Unlock()
	}
	c.nslots = 0
}

// cameraGraph is the materialized stage graph of one camera. Apart from
// ready it is immutable once built, so captures read it without r.mu.
type cameraGraph struct {
	port SensorPortKind
	mode AcquisitionMode

	camera     hw.Component
	nullSink   hw.Component
	splitter   hw.Component
	converters [MaxOutputsPerCamera]hw.Component
	sinks      [MaxOutputsPerCamera]hw.Component

	// stages and conns are in creation order.
	stages []hw.Component
	conns  []hw.Connection

	sinkConns  [MaxOutputsPerCamera]hw.Connection
	outFormats [MaxOutputsPerCamera]hw.Format

	// trigger is the capture output armed before each Dedicated capture.
	trigger hw.Port
	raw     *rawSource

	ready bool
}

package events

// Event type constants for kelindar/event.
const (
	TypePipelineBuilt uint32 = iota + 1
	TypePipelineBuildFailed
	TypeFrameCaptured
	TypeCaptureError
	TypeEmptyBufferDiscarded
	TypePipelineClosed
	TypeConfigReloaded
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// PipelineBuiltEvent is published once a camera's graph is built and enabled.
type PipelineBuiltEvent struct {
	Camera    int    `json:"camera" example:"0" doc:"Camera index"`
	Slots     int    `json:"slots" example:"1" doc:"Number of output slots"`
	Port      string `json:"port" example:"shared" doc:"Sensor port kind"`
	Mode      string `json:"mode" example:"processed" doc:"Acquisition mode"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for PipelineBuiltEvent.
func (e PipelineBuiltEvent) Type() uint32 { return TypePipelineBuilt }

// PipelineBuildFailedEvent is published when a camera's build aborts.
type PipelineBuildFailedEvent struct {
	Camera    int    `json:"camera" example:"0" doc:"Camera index"`
	Stage     string `json:"stage" example:"isp" doc:"Stage that failed"`
	Slot      int    `json:"slot" example:"-1" doc:"Output slot, -1 for shared stages"`
	Code      string `json:"code" example:"ENABLE_FAILED" doc:"Error code"`
	Error     string `json:"error" doc:"Error description"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for PipelineBuildFailedEvent.
func (e PipelineBuildFailedEvent) Type() uint32 { return TypePipelineBuildFailed }

// FrameCapturedEvent is published for every frame handed to a caller.
type FrameCapturedEvent struct {
	Camera    int    `json:"camera" example:"0" doc:"Camera index"`
	Slot      int    `json:"slot" example:"0" doc:"Output slot"`
	Seq       uint64 `json:"seq" example:"42" doc:"Delivery sequence number on the sink connection"`
	Length    int    `json:"length" example:"2764800" doc:"Payload length in bytes"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Capture timestamp"`
}

// Type returns the event type identifier for FrameCapturedEvent.
func (e FrameCapturedEvent) Type() uint32 { return TypeFrameCaptured }

// CaptureErrorEvent is published when a capture call fails.
type CaptureErrorEvent struct {
	Camera    int    `json:"camera" example:"0" doc:"Camera index"`
	Slot      int    `json:"slot" example:"0" doc:"Output slot"`
	Code      string `json:"code" example:"TRIGGER_ARM_FAILED" doc:"Error code"`
	Error     string `json:"error" doc:"Error description"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Error timestamp"`
}

// Type returns the event type identifier for CaptureErrorEvent.
func (e CaptureErrorEvent) Type() uint32 { return TypeCaptureError }

// EmptyBufferDiscardedEvent is published when a zero-length completion is dropped.
type EmptyBufferDiscardedEvent struct {
	Camera    int    `json:"camera" example:"0" doc:"Camera index"`
	Slot      int    `json:"slot" example:"0" doc:"Output slot"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for EmptyBufferDiscardedEvent.
func (e EmptyBufferDiscardedEvent) Type() uint32 { return TypeEmptyBufferDiscarded }

// PipelineClosedEvent is published after the whole graph is torn down.
type PipelineClosedEvent struct {
	Cameras   int    `json:"cameras" example:"1" doc:"Cameras torn down"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for PipelineClosedEvent.
func (e PipelineClosedEvent) Type() uint32 { return TypePipelineClosed }

// ConfigReloadedEvent is published when the pipeline file changes on disk.
type ConfigReloadedEvent struct {
	Path      string `json:"path" example:"pipeline.toml" doc:"Reloaded file"`
	Cameras   int    `json:"cameras" example:"1" doc:"Cameras declared by the new file"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ConfigReloadedEvent.
func (e ConfigReloadedEvent) Type() uint32 { return TypeConfigReloaded }

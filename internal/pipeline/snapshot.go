package pipeline

import "github.com/smazurov/camgraph/internal/hw"

// CameraStatus describes one camera for status reporting.
type CameraStatus struct {
	Index     int          `json:"index" doc:"Camera index"`
	MaxWidth  int          `json:"max_width" doc:"Sensor maximum width"`
	MaxHeight int          `json:"max_height" doc:"Sensor maximum height"`
	Used      bool         `json:"used" doc:"Whether any output was requested"`
	Port      string       `json:"port" enum:"shared,dedicated" doc:"Sensor output feeding the splitter"`
	Mode      string       `json:"mode" enum:"processed,raw" doc:"Acquisition mode"`
	Built     bool         `json:"built" doc:"Whether the camera's graph is running"`
	Slots     []SlotStatus `json:"slots" doc:"Requested outputs"`
}

// SlotStatus describes one output slot.
type SlotStatus struct {
	Slot     int               `json:"slot"`
	Width    int               `json:"width"`
	Height   int               `json:"height"`
	Encoding string            `json:"encoding" example:"rgb24"`
	ZeroCopy bool              `json:"zero_copy"`
	Region   *hw.DisplayRegion `json:"region,omitempty"`
	State    string            `json:"state" enum:"idle,capturing,ready"`
	Captured uint64            `json:"captured" doc:"Frames captured since build"`
}

// Snapshot reports the configuration and capture state of every camera. It
// does not wait for in-flight captures.
func (r *Registry) Snapshot() []CameraStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]CameraStatus, 0, r.numCameras)
	for i := range r.numCameras {
		cam := &r.cameras[i]
		cs := CameraStatus{
			Index:     i,
			MaxWidth:  cam.info.MaxWidth,
			MaxHeight: cam.info.MaxHeight,
			Used:      cam.used,
			Port:      cam.port.String(),
			Mode:      cam.mode.String(),
			Built:     cam.graph != nil && cam.graph.ready && !r.closed,
			Slots:     make([]SlotStatus, 0, cam.nslots),
		}
		for s := range cam.nslots {
			slot := &cam.slots[s]
			ss := SlotStatus{
				Slot:     s,
				Width:    slot.req.Width,
				Height:   slot.req.Height,
				Encoding: slot.req.Encoding.Name(),
				ZeroCopy: slot.req.ZeroCopyRender,
				State:    slot.ctx.getState().String(),
				Captured: slot.ctx.captured.Load(),
			}
			if slot.req.Region != nil {
				region := *slot.req.Region
				ss.Region = &region
			}
			cs.Slots = append(cs.Slots, ss)
		}
		out = append(out, cs)
	}
	return out
}

package models

import (
	"github.com/smazurov/camgraph/internal/logging"
	"github.com/smazurov/camgraph/internal/metrics"
	"github.com/smazurov/camgraph/internal/pipeline"
	"github.com/smazurov/camgraph/internal/systemd"
	"github.com/smazurov/camgraph/internal/version"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" enum:"ok,degraded" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"pipeline running" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

type VersionResponse struct {
	Body version.Info
}

// Camera models

// SlotData is a slot's status together with its capture counters.
type SlotData struct {
	pipeline.SlotStatus
	Metrics *metrics.SlotMetrics `json:"metrics,omitempty" doc:"Capture counters, absent before the first capture"`
}

type CameraData struct {
	Index     int        `json:"index" example:"0" doc:"Camera index"`
	MaxWidth  int        `json:"max_width" example:"2592" doc:"Sensor maximum width"`
	MaxHeight int        `json:"max_height" example:"1944" doc:"Sensor maximum height"`
	Used      bool       `json:"used" doc:"Whether any output was requested"`
	Port      string     `json:"port" enum:"shared,dedicated" doc:"Sensor output feeding the splitter"`
	Mode      string     `json:"mode" enum:"processed,raw" doc:"Acquisition mode"`
	Built     bool       `json:"built" doc:"Whether the camera's graph is running"`
	Slots     []SlotData `json:"slots" doc:"Requested outputs"`
}

type CameraListData struct {
	Cameras []CameraData `json:"cameras" doc:"Discovered cameras"`
	Count   int          `json:"count" example:"1" doc:"Number of cameras"`
}

type CameraListResponse struct {
	Body CameraListData
}

type CameraRequest struct {
	Camera int `path:"camera" minimum:"0" maximum:"3" doc:"Camera index"`
}

type CameraResponse struct {
	Body CameraData
}

// NewCameraData merges a camera's status with the cached slot counters.
func NewCameraData(cs pipeline.CameraStatus) CameraData {
	data := CameraData{
		Index:     cs.Index,
		MaxWidth:  cs.MaxWidth,
		MaxHeight: cs.MaxHeight,
		Used:      cs.Used,
		Port:      cs.Port,
		Mode:      cs.Mode,
		Built:     cs.Built,
		Slots:     make([]SlotData, 0, len(cs.Slots)),
	}
	for _, s := range cs.Slots {
		data.Slots = append(data.Slots, SlotData{
			SlotStatus: s,
			Metrics:    metrics.GetSlotMetrics(cs.Index, s.Slot),
		})
	}
	return data
}

// Log models
type LogQuery struct {
	Module string `query:"module" example:"pipeline" doc:"Only entries from this module"`
	Level  string `query:"level" enum:"debug,info,warn,error" default:"debug" doc:"Minimum level"`
	Limit  int    `query:"limit" minimum:"0" maximum:"1000" default:"200" doc:"Newest entries to return, 0 for all"`
}

type LogListData struct {
	Entries []logging.Entry `json:"entries" doc:"Log entries, oldest first"`
	Count   int             `json:"count" example:"42" doc:"Number of entries returned"`
}

type LogListResponse struct {
	Body LogListData
}

type LogLevelsData struct {
	Levels map[string]string `json:"levels" doc:"Effective level per module"`
}

type LogLevelsResponse struct {
	Body LogLevelsData
}

type SetLogLevelRequest struct {
	Module string `path:"module" example:"pipeline" doc:"Logger module"`
	Body   struct {
		Level string `json:"level" enum:"debug,info,warn,error" example:"debug" doc:"New level"`
	}
}

// Service models
type ServiceStatusResponse struct {
	Body systemd.UnitStatus
}

type ServiceAction struct {
	Unit    string `json:"unit" example:"camgraph.service" doc:"Unit name"`
	Action  string `json:"action" example:"restart" doc:"Requested action"`
	Success bool   `json:"success" example:"true" doc:"Whether systemd accepted the job"`
}

type ServiceActionResponse struct {
	Body ServiceAction
}

// Event stream models
type StreamConnected struct {
	Message   string `json:"message" example:"SSE connection established" doc:"Greeting"`
	Built     bool   `json:"built" doc:"Whether the pipeline is running"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Connection time"`
}

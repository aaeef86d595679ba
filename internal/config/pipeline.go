package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/camgraph/internal/hw"
	"github.com/smazurov/camgraph/internal/pipeline"
)

// PipelineFile is the on-disk declaration of every camera's outputs.
type PipelineFile struct {
	Cameras []CameraConfig `toml:"cameras" json:"cameras"`
}

// CameraConfig declares one camera.
type CameraConfig struct {
	Index   int            `toml:"index" json:"index"`
	Port    string         `toml:"port,omitempty" json:"port,omitempty"` // preview | capture
	Mode    string         `toml:"mode,omitempty" json:"mode,omitempty"` // processed | raw
	Raw     *RawConfig     `toml:"raw,omitempty" json:"raw,omitempty"`
	Outputs []OutputConfig `toml:"outputs" json:"outputs"`
}

// RawConfig holds raw sensor parameters.
type RawConfig struct {
	Sensor     string `toml:"sensor" json:"sensor"`
	ExposureUS int    `toml:"exposure_us" json:"exposure_us"`
	HFlip      bool   `toml:"hflip" json:"hflip"`
	VFlip      bool   `toml:"vflip" json:"vflip"`
	Binning    int    `toml:"binning" json:"binning"`
}

// OutputConfig declares one output stream.
type OutputConfig struct {
	Width    int           `toml:"width" json:"width"`
	Height   int           `toml:"height" json:"height"`
	Encoding string        `toml:"encoding" json:"encoding"`
	ZeroCopy bool          `toml:"zero_copy" json:"zero_copy"`
	Render   *RenderConfig `toml:"render,omitempty" json:"render,omitempty"`
}

// RenderConfig places an output on the display.
type RenderConfig struct {
	Fullscreen bool `toml:"fullscreen" json:"fullscreen"`
	X          int  `toml:"x" json:"x"`
	Y          int  `toml:"y" json:"y"`
	Width      int  `toml:"width" json:"width"`
	Height     int  `toml:"height" json:"height"`
	Layer      int  `toml:"layer" json:"layer"`
}

// Region converts the render settings to a display region.
func (c *RenderConfig) Region() hw.DisplayRegion {
	return hw.DisplayRegion{
		Fullscreen: c.Fullscreen,
		Dest:       hw.Rect{X: c.X, Y: c.Y, Width: c.Width, Height: c.Height},
		Layer:      c.Layer,
	}
}

// LoadPipelineFile reads and checks a pipeline declaration.
func LoadPipelineFile(path string) (*PipelineFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	var file PipelineFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline file: %w", err)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

// Validate checks the parts of the declaration that do not depend on the
// camera inventory. Resolution and capacity limits are enforced by the
// registry when the file is applied.
func (f *PipelineFile) Validate() error {
	if len(f.Cameras) == 0 {
		return errors.New("pipeline file declares no cameras")
	}
	seen := make(map[int]bool)
	for i, cam := range f.Cameras {
		if seen[cam.Index] {
			return fmt.Errorf("cameras[%d]: camera %d declared twice", i, cam.Index)
		}
		seen[cam.Index] = true

		if _, err := pipeline.ParseSensorPortKind(cam.Port); err != nil {
			return fmt.Errorf("cameras[%d]: %w", i, err)
		}
		mode, err := pipeline.ParseAcquisitionMode(cam.Mode)
		if err != nil {
			return fmt.Errorf("cameras[%d]: %w", i, err)
		}
		if mode == pipeline.Raw && cam.Raw == nil {
			return fmt.Errorf("cameras[%d]: raw mode needs a [cameras.raw] table", i)
		}
		if len(cam.Outputs) == 0 {
			return fmt.Errorf("cameras[%d]: no outputs declared", i)
		}
		for j, out := range cam.Outputs {
			if _, err := hw.ParseEncoding(out.Encoding); err != nil {
				return fmt.Errorf("cameras[%d].outputs[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}

// PipelineTarget is the configuration surface of a pipeline registry.
type PipelineTarget interface {
	SetSensorPort(camera int, kind pipeline.SensorPortKind) error
	SetAcquisitionMode(camera int, mode pipeline.AcquisitionMode, params hw.RawParams) error
	RequestOutput(camera int, req pipeline.OutputRequest) (pipeline.Handle, error)
	SetRenderRegion(h pipeline.Handle, region hw.DisplayRegion) error
}

// ApplyPipeline configures target from the declaration and returns the
// handle of every output in declaration order. It stops at the first error.
func ApplyPipeline(target PipelineTarget, file *PipelineFile) ([]pipeline.Handle, error) {
	var handles []pipeline.Handle
	for _, cam := range file.Cameras {
		port, err := pipeline.ParseSensorPortKind(cam.Port)
		if err != nil {
			return nil, err
		}
		mode, err := pipeline.ParseAcquisitionMode(cam.Mode)
		if err != nil {
			return nil, err
		}

		if err := target.SetSensorPort(cam.Index, port); err != nil {
			return nil, err
		}
		var params hw.RawParams
		if cam.Raw != nil {
			params = hw.RawParams{
				Sensor:         cam.Raw.Sensor,
				ExposureMicros: cam.Raw.ExposureUS,
				HFlip:          cam.Raw.HFlip,
				VFlip:          cam.Raw.VFlip,
				Binning:        cam.Raw.Binning,
			}
		}
		if err := target.SetAcquisitionMode(cam.Index, mode, params); err != nil {
			return nil, err
		}

		for _, out := range cam.Outputs {
			enc, err := hw.ParseEncoding(out.Encoding)
			if err != nil {
				return nil, err
			}
			h, err := target.RequestOutput(cam.Index, pipeline.OutputRequest{
				Width:          out.Width,
				Height:         out.Height,
				Encoding:       enc,
				ZeroCopyRender: out.ZeroCopy,
			})
			if err != nil {
				return nil, err
			}
			if out.Render != nil {
				if err := target.SetRenderRegion(h, out.Render.Region()); err != nil {
					return nil, err
				}
			}
			handles = append(handles, h)
		}
	}
	return handles, nil
}

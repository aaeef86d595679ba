package hw

import (
	"context"
	"errors"
)

// ErrNoRawBuffer reports that the raw sensor has not produced a frame yet.
// It is not a failure; callers pull again.
var ErrNoRawBuffer = errors.New("no raw buffer available yet")

// RawParams configures a raw sensor.
type RawParams struct {
	Sensor         string `json:"sensor"`
	ExposureMicros int    `json:"exposure_us"`
	HFlip          bool   `json:"hflip"`
	VFlip          bool   `json:"vflip"`
	Binning        int    `json:"binning"`
}

// RawFrame is one undemosaiced sensor frame.
type RawFrame struct {
	Data   []byte
	Width  int
	Height int
	// SideInfo marks a metadata-only buffer that carries no image.
	SideInfo bool
}

// RawSensor is the sensor-specific raw capture driver.
type RawSensor interface {
	Open(params RawParams, width, height int) error
	// Pull returns the next frame or ErrNoRawBuffer when none is ready.
	Pull(ctx context.Context) (*RawFrame, error)
	Release(f *RawFrame)
	Close() error
}

// RawConverter demosaics a raw frame into dst using format f and returns
// the number of bytes written.
type RawConverter interface {
	Convert(dst []byte, raw *RawFrame, f Format) (int, error)
}

// GainTuner is optionally implemented by a RawSensor that adjusts its gain
// from a histogram of the converted image.
type GainTuner interface {
	TuneGain(converted []byte, f Format) error
}

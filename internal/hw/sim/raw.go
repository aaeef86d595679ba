package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/smazurov/camgraph/internal/hw"
)

// RawSensorConfig configures a simulated raw sensor.
type RawSensorConfig struct {
	// NotReady is the number of pulls answered with hw.ErrNoRawBuffer before
	// each frame.
	NotReady int
	// SideInfoEvery makes every n-th frame metadata only. Zero disables it.
	SideInfoEvery int
	// OpenErr, when set, fails Open.
	OpenErr error
}

// RawSensor is a simulated raw sensor. It also implements hw.GainTuner.
type RawSensor struct {
	cfg RawSensorConfig

	mu          sync.Mutex
	params      hw.RawParams
	width       int
	height      int
	open        bool
	waited      int
	frames      uint64
	outstanding int
	gain        float64
	tuned       int
}

var (
	_ hw.RawSensor = (*RawSensor)(nil)
	_ hw.GainTuner = (*RawSensor)(nil)
)

// NewRawSensor creates a simulated raw sensor.
func NewRawSensor(cfg RawSensorConfig) *RawSensor {
	return &RawSensor{cfg: cfg, gain: 1}
}

func (s *RawSensor) Open(params hw.RawParams, width, height int) error {
	if s.cfg.OpenErr != nil {
		return s.cfg.OpenErr
	}
	if params.Sensor == "" {
		return errors.New("raw sensor: sensor model required")
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("raw sensor: invalid size %dx%d", width, height)
	}
	if params.Binning < 1 {
		params.Binning = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = params
	s.width = width
	s.height = height
	s.open = true
	return nil
}

func (s *RawSensor) Pull(ctx context.Context) (*hw.RawFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, errors.New("raw sensor: not open")
	}
	if s.waited < s.cfg.NotReady {
		s.waited++
		return nil, hw.ErrNoRawBuffer
	}
	s.waited = 0
	s.frames++
	s.outstanding++

	if s.cfg.SideInfoEvery > 0 && s.frames%uint64(s.cfg.SideInfoEvery) == 0 {
		return &hw.RawFrame{Data: make([]byte, 64), Width: s.width, Height: s.height, SideInfo: true}, nil
	}

	data := make([]byte, hw.EncodingBayer.FrameSize(s.width, s.height))
	level := byte(min(255, float64(s.params.ExposureMicros)/100*s.gain))
	for i := range data {
		data[i] = level + byte(i%7)
	}
	return &hw.RawFrame{Data: data, Width: s.width, Height: s.height}, nil
}

func (s *RawSensor) Release(*hw.RawFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outstanding > 0 {
		s.outstanding--
	}
}

func (s *RawSensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

// TuneGain nudges the analog gain so the mean of the converted image moves
// toward mid grey.
func (s *RawSensor) TuneGain(converted []byte, _ hw.Format) error {
	if len(converted) == 0 {
		return errors.New("raw sensor: empty frame")
	}
	var hist [256]int
	for _, v := range converted {
		hist[v]++
	}
	var sum int
	for v, n := range hist {
		sum += v * n
	}
	mean := float64(sum) / float64(len(converted))
	if mean < 1 {
		mean = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.gain = min(16, max(1, s.gain*128/mean))
	s.tuned++
	return nil
}

// Outstanding returns the number of pulled frames not yet released.
func (s *RawSensor) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

// Gain returns the current analog gain.
func (s *RawSensor) Gain() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gain
}

// Tuned returns how many times TuneGain ran.
func (s *RawSensor) Tuned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tuned
}

// Converter is a simulated demosaic routine.
type Converter struct{}

var _ hw.RawConverter = Converter{}

// Convert fills dst with the visible image of format f by tiling the raw data.
func (Converter) Convert(dst []byte, raw *hw.RawFrame, f hw.Format) (int, error) {
	if raw == nil || raw.SideInfo || len(raw.Data) == 0 {
		return 0, errors.New("convert: no image data")
	}
	need := f.PayloadSize()
	if len(dst) < need {
		return 0, fmt.Errorf("convert: destination holds %d bytes, need %d", len(dst), need)
	}
	n := copy(dst[:need], raw.Data)
	for n < need {
		n += copy(dst[n:need], dst[:n])
	}
	return need, nil
}

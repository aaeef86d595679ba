package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazurov/camgraph/internal/capture"
	"github.com/smazurov/camgraph/internal/config"
	"github.com/smazurov/camgraph/internal/hw"
	"github.com/smazurov/camgraph/internal/hw/sim"
	"github.com/smazurov/camgraph/internal/logging"
	"github.com/smazurov/camgraph/internal/pipeline"
	"github.com/spf13/cobra"
)

type captureFlags struct {
	configFile string
	camera     int
	port       string
	width      int
	height     int
	encoding   string
	frames     int
	fullscreen bool
	x, y       int
	w, h       int
	layer      int
	getFrame   bool
	interval   time.Duration
	noRender   bool
	manualFree bool
	raw        bool
	sensor     string
	rawPool    int
	cameras    int
	logJSON    bool
}

// CreateCaptureCmd creates the capture command.
func CreateCaptureCmd() *cobra.Command {
	f := &captureFlags{}

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Run a capture/render sequence on one camera",
		Long: `Builds a single-output pipeline on the simulated backend, captures the requested number ` +
			`of frames and prints throughput. Frames are rendered unless --no-render is given, in which case ` +
			`they are released on the next capture or, with --manual-free, immediately.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			loggingConfig := config.LoadLoggingConfig(f.configFile)
			if f.logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats, err := runCapture(ctx, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "slot %s: %d frames in %s (%.1f fps), rendered %d, released %d, errors %d\n",
				stats.Handle, stats.Captured, stats.Elapsed.Round(time.Millisecond), stats.FPS(),
				stats.Rendered, stats.Released, stats.Errors)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.configFile, "config", "c", "config.toml", "Configuration file for logging settings")
	flags.IntVar(&f.camera, "camera", 0, "Camera index")
	flags.StringVar(&f.port, "port", "preview", "Sensor port (preview or capture)")
	flags.IntVar(&f.width, "width", 1280, "Output width")
	flags.IntVar(&f.height, "height", 720, "Output height")
	flags.StringVar(&f.encoding, "encoding", "rgb24", "Output encoding (rgba, rgb24, bgr24, i420)")
	flags.IntVarP(&f.frames, "frames", "n", 20, "Number of frames to capture")
	flags.BoolVar(&f.fullscreen, "fullscreen", false, "Render fullscreen")
	flags.IntVar(&f.x, "x", 0, "Render region left edge")
	flags.IntVar(&f.y, "y", 0, "Render region top edge")
	flags.IntVar(&f.w, "w", 0, "Render region width (0 uses the output width)")
	flags.IntVar(&f.h, "h", 0, "Render region height (0 uses the output height)")
	flags.IntVar(&f.layer, "layer", 5, "Render layer")
	flags.BoolVar(&f.getFrame, "get-frame", false, "Read each frame's payload before resolving it")
	flags.DurationVar(&f.interval, "interval", 0, "Pause between frames")
	flags.BoolVar(&f.noRender, "no-render", false, "Do not hand frames to the render sink")
	flags.BoolVar(&f.manualFree, "manual-free", false, "Release unrendered frames immediately")
	flags.BoolVar(&f.raw, "raw", false, "Acquire raw sensor frames and convert them on the host")
	flags.StringVar(&f.sensor, "sensor", "sim", "Raw sensor name")
	flags.IntVar(&f.rawPool, "raw-pool", 0, "Host buffers feeding the splitter in raw mode (0 uses the default)")
	flags.IntVar(&f.cameras, "sim-cameras", 1, "Number of simulated cameras")
	flags.BoolVar(&f.logJSON, "log-json", false, "Output logs in JSON format")

	return cmd
}

func runCapture(ctx context.Context, f *captureFlags) (capture.Stats, error) {
	reg, err := pipeline.NewRegistry(newSimFramework(f.cameras), pipeline.Options{
		RawSensors: func(int) (hw.RawSensor, error) {
			return sim.NewRawSensor(sim.RawSensorConfig{}), nil
		},
		RawConverter: sim.Converter{},
		HostPoolSize: f.rawPool,
	})
	if err != nil {
		return capture.Stats{}, err
	}
	defer func() { _ = reg.Close() }()

	h, err := configureCapture(reg, f)
	if err != nil {
		return capture.Stats{}, err
	}
	if err := reg.Build(ctx); err != nil {
		return capture.Stats{}, fmt.Errorf("build pipeline: %w", err)
	}

	return capture.Run(ctx, reg, h, capture.Config{
		Frames:        f.frames,
		Interval:      f.interval,
		Render:        !f.noRender,
		ManualRelease: f.manualFree,
		GetFrame:      f.getFrame,
	})
}

func configureCapture(reg *pipeline.Registry, f *captureFlags) (pipeline.Handle, error) {
	port, err := pipeline.ParseSensorPortKind(f.port)
	if err != nil {
		return pipeline.Handle{}, err
	}
	enc, err := hw.ParseEncoding(f.encoding)
	if err != nil {
		return pipeline.Handle{}, err
	}

	if err := reg.SetSensorPort(f.camera, port); err != nil {
		return pipeline.Handle{}, err
	}
	if f.raw {
		if err := reg.SetAcquisitionMode(f.camera, pipeline.Raw, hw.RawParams{Sensor: f.sensor}); err != nil {
			return pipeline.Handle{}, err
		}
	}

	h, err := reg.RequestOutput(f.camera, pipeline.OutputRequest{
		Width:          f.width,
		Height:         f.height,
		Encoding:       enc,
		ZeroCopyRender: !f.noRender,
	})
	if err != nil {
		return pipeline.Handle{}, err
	}
	return h, reg.SetRenderRegion(h, hw.DisplayRegion{
		Fullscreen: f.fullscreen,
		Dest: hw.Rect{
			X:      f.x,
			Y:      f.y,
			Width:  orDefault(f.w, f.width),
			Height: orDefault(f.h, f.height),
		},
		Layer: f.layer,
	})
}

func newSimFramework(cameras int) *sim.Framework {
	if cameras <= 1 {
		return sim.New(sim.Config{})
	}
	infos := make([]hw.CameraInfo, cameras)
	for i := range infos {
		infos[i] = hw.CameraInfo{Index: i, MaxWidth: 2592, MaxHeight: 1944}
	}
	return sim.New(sim.Config{Cameras: infos})
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

package main

import (
	"context"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/camgraph/cmd"
	"github.com/smazurov/camgraph/internal/api"
	"github.com/smazurov/camgraph/internal/config"
	"github.com/smazurov/camgraph/internal/events"
	"github.com/smazurov/camgraph/internal/logging"
	"github.com/smazurov/camgraph/internal/metrics/collectors"
	"github.com/smazurov/camgraph/internal/metrics/exporters"
	"github.com/smazurov/camgraph/internal/systemd"
	"github.com/smazurov/camgraph/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Pipeline settings
	PipelineFile  string `help:"Pipeline declaration file" default:"pipeline.toml" toml:"pipeline.file" env:"PIPELINE_FILE"`
	PipelineWatch bool   `help:"Rebuild the pipeline when its file changes" default:"true" toml:"pipeline.watch" env:"PIPELINE_WATCH"`
	RawPoolSize   int    `help:"Host buffers feeding the splitter in raw mode (0 uses the framework default)" default:"0" toml:"pipeline.raw_pool_size" env:"PIPELINE_RAW_POOL_SIZE"`

	// Capture loop settings
	CaptureInterval string `help:"Pause between frames on each slot" default:"33ms" toml:"capture.interval" env:"CAPTURE_INTERVAL"`
	CaptureRender   bool   `help:"Hand captured frames to the render sink" default:"true" toml:"capture.render" env:"CAPTURE_RENDER"`

	// Simulated hardware settings
	SimCameras    int `help:"Number of simulated cameras" default:"1" toml:"sim.cameras" env:"SIM_CAMERAS"`
	SimMaxWidth   int `help:"Simulated sensor width" default:"2592" toml:"sim.max_width" env:"SIM_MAX_WIDTH"`
	SimMaxHeight  int `help:"Simulated sensor height" default:"1944" toml:"sim.max_height" env:"SIM_MAX_HEIGHT"`
	SimPoolSize   int `help:"Buffers per pool-backed connection" default:"3" toml:"sim.pool_size" env:"SIM_POOL_SIZE"`
	SimEmptyEvery int `help:"Make every n-th delivery an empty completion (0 disables)" default:"0" toml:"sim.empty_every" env:"SIM_EMPTY_EVERY"`

	// Metrics settings
	MetricsInterval string `help:"Pool level sampling interval" default:"5s" toml:"metrics.interval" env:"METRICS_INTERVAL"`

	// Service settings
	ServiceUnit string `help:"systemd unit to report and restart" default:"camgraph.service" toml:"service.unit" env:"SERVICE_UNIT"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingPipeline string `help:"Pipeline build logging level" default:"info" toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	LoggingCapture  string `help:"Capture path logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingSim      string `help:"Simulated hardware logging level" default:"warn" toml:"logging.sim" env:"LOGGING_SIM"`
	LoggingAPI      string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP     string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
	LoggingConfig   string `help:"Config loading logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			logging.GetLogger("config").Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"pipeline": opts.LoggingPipeline,
				"capture":  opts.LoggingCapture,
				"sim":      opts.LoggingSim,
				"api":      opts.LoggingAPI,
				"http":     opts.LoggingHTTP,
				"config":   opts.LoggingConfig,
			},
		})
		logger := logging.GetLogger("main")
		logger.Info("Starting", "version", version.Get().String())

		eventBus := events.New()
		h, err := newHost(opts, eventBus)
		if err != nil {
			logger.Error("Invalid capture interval", "error", err)
			os.Exit(1)
		}

		metricsInterval, err := time.ParseDuration(opts.MetricsInterval)
		if err != nil {
			logger.Warn("Invalid metrics interval, using default", "value", opts.MetricsInterval)
			metricsInterval = 0
		}
		poolCollector := collectors.NewPoolCollector(h, metricsInterval)

		apiOpts := &api.Options{
			AuthUsername:   opts.AuthUsername,
			AuthPassword:   opts.AuthPassword,
			Status:         h,
			Bus:            eventBus,
			MetricsHandler: exporters.HTTPHandler(),
		}
		serviceManager, err := systemd.NewManager(context.Background(), opts.ServiceUnit)
		if err != nil {
			logger.Debug("systemd D-Bus unavailable, service routes disabled", "error", err)
		} else {
			apiOpts.Service = serviceManager
		}
		server := api.NewServer(apiOpts)

		watcher := config.NewWatcher(opts.PipelineFile, config.LoadPipelineFile, logging.GetLogger("config"))
		watcher.OnReload(func(file *config.PipelineFile) {
			if reloadErr := h.Reload(context.Background(), file); reloadErr != nil {
				logger.Error("Pipeline reload failed", "error", reloadErr)
			}
		})

		hooks.OnStart(func() {
			file, loadErr := config.LoadPipelineFile(opts.PipelineFile)
			if loadErr != nil {
				logger.Error("Failed to load pipeline file", "path", opts.PipelineFile, "error", loadErr)
				os.Exit(1)
			}
			if startErr := h.Start(context.Background(), file); startErr != nil {
				logger.Error("Failed to start pipeline", "error", startErr)
				os.Exit(1)
			}

			if startErr := poolCollector.Start(context.Background()); startErr != nil {
				logger.Warn("Failed to start pool collector", "error", startErr)
			}
			if opts.PipelineWatch {
				if watchErr := watcher.Start(); watchErr != nil {
					logger.Warn("Failed to watch pipeline file", "error", watchErr)
				}
			}

			if sent, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady); notifyErr != nil {
				logger.Warn("Failed to notify systemd", "error", notifyErr)
			} else if sent {
				logger.Debug("Notified systemd of readiness")
			}

			if startErr := server.Start(opts.Port); startErr != nil {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if stopErr := server.Stop(ctx); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			if stopErr := watcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping file watcher", "error", stopErr)
			}
			_ = poolCollector.Stop()
			h.Stop()
			if serviceManager != nil {
				serviceManager.Close()
			}
		})
	})

	cli.Root().AddCommand(cmd.CreateCaptureCmd())
	cli.Root().AddCommand(cmd.CreateCamerasCmd())

	cli.Run()
}

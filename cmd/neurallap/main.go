package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/neurallap/companion/internal/bio"
	"github.com/neurallap/companion/internal/command"
	"github.com/neurallap/companion/internal/config"
	"github.com/neurallap/companion/internal/dispatcher"
	"github.com/neurallap/companion/internal/engine"
	"github.com/neurallap/companion/internal/hardware"
	"github.com/neurallap/companion/internal/influx"
	"github.com/neurallap/companion/internal/logging"
	"github.com/neurallap/companion/internal/monitor"
	"github.com/neurallap/companion/internal/normalize"
	intOtel "github.com/neurallap/companion/internal/otel"
	"github.com/neurallap/companion/internal/override"
	"github.com/neurallap/companion/internal/publish"
	"github.com/neurallap/companion/internal/session"
	"github.com/neurallap/companion/internal/storage"
	"github.com/neurallap/companion/internal/stream"
	"github.com/neurallap/companion/internal/strategy"
	"github.com/neurallap/companion/internal/timeutil"
	"github.com/neurallap/companion/pkg/streaming"
)

// module defs - Version and BuildDate can be set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	AppName string = "neurallap"
)

// global variables
var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	SessionStartTime time.Time = time.Now()

	// current engine, for log context
	activeEngine atomic.Pointer[engine.Engine]
)

func main() {
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(nil, "info", nil)
	Logger = SlogManager.Logger()

	if err := run(os.Args[1:]); err != nil {
		Logger.Error("Exiting", "error", err)
		os.Exit(1)
	}
}

// closer collects shutdown steps and runs them in reverse order.
type closer []func()

func (c *closer) add(f func()) { *c = append(*c, f) }

func (c closer) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cleanup closer
	defer cleanup.run()

	logWriter := setupLogging(&cleanup)
	Logger.Info("Starting up...", "version", Version, "buildDate", BuildDate)

	clock := timeutil.RealClock{}
	sess := session.NewContext(config.GetSessionConfig(), clock.Now())
	Logger.Info("Session started", "session", sess.Get().ID, "driver", sess.Get().Driver)

	// storage
	store := initStorage(logging.NewZerolog(logWriter, config.GetString("logLevel"), "storage"))
	if store != nil {
		cleanup.add(func() {
			if err := store.Close(); err != nil {
				Logger.Error("Failed to close storage backend", "error", err)
			}
		})
	}

	// hardware
	hwCfg := config.GetHardwareConfig()
	sinks := openHardwareSinks(hwCfg)
	cleanup.add(func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	})

	// influx
	var recorder publish.Recorder
	if mgr := connectInflux(ctx, logging.NewZerolog(logWriter, config.GetString("logLevel"), "influx")); mgr != nil {
		cleanup.add(func() {
			if err := mgr.Close(); err != nil {
				Logger.Error("Failed to close InfluxDB", "error", err)
			}
		})
		cfg := config.GetInfluxConfig()
		recorder = influx.NewRecorder(mgr, cfg.Bucket, cfg.Decimate)
	}

	// inbound commands
	overrides := override.New(clock)
	cleanup.add(overrides.Close)

	dispatcherLogger := logging.NewDispatcherLogger(logging.NewZerolog(logWriter, config.GetString("logLevel"), "dispatcher"))
	eventDispatcher, err := dispatcher.New(dispatcherLogger)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	cleanup.add(eventDispatcher.Close)
	registerCommandHandlers(eventDispatcher, overrides)

	// outbound
	hub := stream.NewHub(eventDispatcher, Logger)
	pubDeps := publish.Dependencies{
		Hub:      hub,
		Mapper:   hardware.NewMapper(hardwareMapperConfig(hwCfg)),
		Hardware: sinks,
		Recorder: recorder,
		Session:  sess,
		ChartDir: config.GetReportConfig().ChartDir,
		Logger:   Logger,
		Buffer:   config.GetServerConfig().PublishBuffer,
	}
	if store != nil {
		pubDeps.Store = store
	}
	pub, err := publish.New(pubDeps)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}
	cleanup.add(pub.Close)

	// engine
	bioSource := setupBio(clock, hwCfg.MaxRPM, &cleanup)
	eng, err := newEngine(clock, overrides, pub, bioSource)
	if err != nil {
		return err
	}
	activeEngine.Store(eng)

	// status
	monitorService := monitor.NewService(monitor.Dependencies{
		LogManager:  SlogManager,
		Session:     sess,
		Engine:      eng.Status,
		Publisher:   pub.Stats,
		Pending:     pendingFunc(store),
		Subscribers: hub.Count,
		StatusFile:  config.GetMonitorConfig().StatusFile,
		Interval:    config.GetMonitorConfig().Interval,
	})

	srvDeps := stream.Dependencies{
		Addr:   config.GetServerConfig().Addr,
		Hub:    hub,
		Status: func() any { return monitorService.GetProgramStatus() },
		Logger: Logger,
	}
	if leagues, ok := store.(storage.Leagues); ok {
		srvDeps.Leagues = leagues
	}
	srv := stream.NewServer(srvDeps)
	if err := srv.Start(); err != nil {
		return err
	}
	cleanup.add(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			Logger.Error("Server shutdown failed", "error", err)
		}
	})

	if err := monitorService.Start(); err != nil {
		Logger.Warn("Status monitor not started", "error", err)
	}
	cleanup.add(monitorService.Stop)

	eng.Start()
	cleanup.add(eng.Stop)
	Logger.Info("Ready", "addr", srv.Addr(), "period", eng.Period())

	select {
	case <-ctx.Done():
		Logger.Info("Shutting down...")
	case err := <-srv.Err():
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	return nil
}

// setupLogging re-initializes logging with the session log file, OTel and
// GELF. It returns the writer zerolog components should use.
func setupLogging(cleanup *closer) io.Writer {
	level := config.GetString("logLevel")
	logsDir := config.GetString("logsDir")

	var logWriter io.Writer = os.Stdout
	logFile, err := logging.OpenLogFile(logsDir, AppName, SessionStartTime)
	if err != nil {
		Logger.Error("Failed to create/open log file!", "error", err, "path", logging.LogFilePath(logsDir, AppName, SessionStartTime))
	} else {
		logWriter = io.MultiWriter(os.Stdout, logFile)
		cleanup.add(func() { _ = logFile.Close() })
		Logger.Info("Begin logging in logs directory", "path", logFile.Name())
	}

	// Initialize OTel provider if enabled (after log file is created)
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled && logFile != nil {
		OTelProvider, err = intOtel.New(intOtel.Config{
			Enabled:         otelCfg.Enabled,
			ServiceName:     otelCfg.ServiceName,
			BatchTimeout:    otelCfg.BatchTimeout,
			MetricsInterval: otelCfg.MetricsInterval,
			LogWriter:       logFile,
			MetricWriter:    logFile,
			Endpoint:        otelCfg.Endpoint,
			Insecure:        otelCfg.Insecure,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			Logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
			cleanup.add(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := OTelProvider.Shutdown(ctx); err != nil {
					Logger.Error("OTel shutdown failed", "error", err)
				}
			})
		}
	}

	opts := []logging.Option{
		logging.WithServiceName(otelCfg.ServiceName),
		logging.WithContext(func() []slog.Attr {
			if e := activeEngine.Load(); e != nil {
				return e.LogAttrs()
			}
			return nil
		}),
	}

	gelfCfg := config.GetGraylogConfig()
	if gelfCfg.Enabled {
		w, err := logging.DialGELF(gelfCfg.Address, AppName)
		if err != nil {
			Logger.Error("Failed to connect to Graylog", "error", err, "address", gelfCfg.Address)
		} else {
			opts = append(opts, logging.WithGELF(w))
			cleanup.add(func() { _ = w.Close() })
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	SlogManager.Setup(logWriter, level, otelLogProvider, opts...)
	Logger = SlogManager.Logger()
	slog.SetDefault(Logger)
	return logWriter
}

func registerCommandHandlers(d *dispatcher.Dispatcher, store *override.Store) {
	d.Register(streaming.TypeDebugCommand, func(e dispatcher.Event) (any, error) {
		req, err := command.Decode(e.Payload)
		if err != nil {
			return nil, err
		}
		if !command.Apply(store, req) {
			Logger.Debug("Debug command ignored", "tag", req.Tag, "client", e.Client)
			return false, nil
		}
		return true, nil
	}, dispatcher.Buffered(64), dispatcher.Logged())
}

func hardwareMapperConfig(cfg config.HardwareConfig) hardware.Config {
	hw := hardware.DefaultConfig()
	if cfg.MaxRPM > 0 {
		hw.MaxRPM = cfg.MaxRPM
	}
	return hw
}

func openHardwareSinks(cfg config.HardwareConfig) []hardware.Sink {
	var sinks []hardware.Sink

	if cfg.SerialPort != "" {
		s, err := hardware.OpenSerial(cfg.SerialPort, cfg.SerialBaud)
		if err != nil {
			Logger.Warn("Serial feedback device unavailable", "port", cfg.SerialPort, "error", err)
		} else {
			Logger.Info("Serial feedback device opened", "port", cfg.SerialPort, "baud", cfg.SerialBaud)
			sinks = append(sinks, s)
		}
	}

	if cfg.MQTTBroker != "" {
		s, err := hardware.DialMQTT(hardware.MQTTConfig{
			Broker:      cfg.MQTTBroker,
			ClientID:    AppName + "-hw-" + uuid.NewString()[:8],
			TopicPrefix: cfg.MQTTTopic,
			Timeout:     cfg.MQTTTimeout,
		})
		if err != nil {
			Logger.Warn("MQTT lighting bridge unavailable", "broker", cfg.MQTTBroker, "error", err)
		} else {
			Logger.Info("MQTT lighting bridge connected", "broker", cfg.MQTTBroker)
			sinks = append(sinks, s)
		}
	}
	return sinks
}

func connectInflux(ctx context.Context, log zerolog.Logger) *influx.Manager {
	cfg := config.GetInfluxConfig()
	if !cfg.Enabled {
		return nil
	}
	mgr := influx.NewManager(log, cfg)
	if err := mgr.Connect(ctx); err != nil {
		Logger.Warn("InfluxDB recorder disabled", "error", err)
		return nil
	}
	if !mgr.IsValid {
		Logger.Info("InfluxDB unreachable, writing line protocol backup", "path", cfg.BackupPath)
	}
	return mgr
}

func setupBio(clock timeutil.Clock, maxRPM float64, cleanup *closer) bio.Source {
	simulated := bio.NewSimulated(maxRPM)

	cfg := config.GetBioConfig()
	if cfg.MQTTBroker == "" {
		return simulated
	}

	src := bio.NewMQTTSource(clock, simulated, Logger)
	if err := src.Connect(bio.MQTTConfig{
		Broker:   cfg.MQTTBroker,
		ClientID: AppName + "-bio-" + uuid.NewString()[:8],
		Topic:    cfg.MQTTTopic,
		Timeout:  5 * time.Second,
	}); err != nil {
		Logger.Warn("Heart rate bridge unavailable, using simulated heart rate", "error", err)
		return simulated
	}
	cleanup.add(src.Close)
	return src
}

func newEngine(clock timeutil.Clock, overrides *override.Store, pub engine.Publisher, b bio.Source) (*engine.Engine, error) {
	adapters := buildAdapters()

	normCfg := config.GetNormalizeConfig()
	n := normalize.New(normalize.Config{
		Radar: normalize.RadarWindow{
			Lateral:      normCfg.RadarLateral,
			Longitudinal: normCfg.RadarLongitudinal,
		},
		SteeringMax: normCfg.SteeringMax,
	}, strategy.New(strategy.DefaultConfig()))

	engCfg := config.GetEngineConfig()
	eng, err := engine.New(engine.Config{
		TickRate:          engCfg.TickRate,
		ProbeInterval:     engCfg.ProbeInterval,
		SyntheticFallback: engCfg.SyntheticFallback,
	}, clock, adapters, n, overrides, pub,
		engine.WithLogger(Logger),
		engine.WithBio(b),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return eng, nil
}

func pendingFunc(store storage.Backend) func() int {
	if p, ok := store.(interface{ Pending() int }); ok {
		return p.Pending
	}
	return nil
}

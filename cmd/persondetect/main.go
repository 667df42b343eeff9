package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/alert"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/auth"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/capture"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/config"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/database"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/detection"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/engine"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/health"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/observe"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/perf"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/pipeline"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/pipeline/strategies"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/preprocess"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/stream"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/telegram"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/telemetry"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/ws"
)

func main() {
	// Define command line flags, add any other flag required to configure the
	// service.
	var (
		configF   = flag.String("config", "", "Path to the YAML configuration file")
		httpAddrF = flag.String("http-addr", "", "HTTP listen address (overrides http.addr)")
		dbgF      = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg, err := config.Load(*configF)
	if err != nil {
		fmt.Fprintf(os.Stderr, "persondetect: %v\n", err)
		os.Exit(1)
	}
	if *httpAddrF != "" {
		cfg.HTTP.Addr = *httpAddrF
	}

	logger := newLogger(cfg.Log.Level, *dbgF)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("exited")
}

func newLogger(level string, debug bool) *slog.Logger {
	var lvl slog.Level
	switch {
	case debug:
		lvl = slog.LevelDebug
	default:
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			lvl = slog.LevelInfo
		}
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	var (
		metrics  *observe.Metrics
		provider *observe.Provider
	)
	if cfg.Metrics.Enabled {
		var err error
		provider, err = observe.InitProvider()
		if err != nil {
			return fmt.Errorf("failed to init metrics: %w", err)
		}
		defer provider.Shutdown(context.Background())
		if metrics, err = observe.NewMetrics(provider.MeterProvider()); err != nil {
			return fmt.Errorf("failed to create instruments: %w", err)
		}
	}

	// Inference engine. A load failure aborts before the pipeline starts.
	eng, err := engine.Open(ctx, engine.Config{
		Kind:    cfg.Detector.Engine,
		Address: cfg.Detector.Address,
		Command: cfg.Detector.Command,
	})
	if err != nil {
		return fmt.Errorf("failed to load engine: %w", err)
	}
	defer eng.Close()
	logger.Info("inference engine ready", "kind", cfg.Detector.Engine)

	decCfg := detection.DefaultDecoderConfig()
	decCfg.InputWidth = cfg.Detector.InputWidth
	decCfg.InputHeight = cfg.Detector.InputHeight
	decCfg.NumCategory = cfg.Detector.NumCategory
	decCfg.NMSThresh = cfg.Detector.NMSThreshold
	decoder, err := detection.NewDecoder(decCfg)
	if err != nil {
		return fmt.Errorf("invalid decoder config: %w", err)
	}

	strategy, err := strategies.Create(strategies.Config{
		Mode:        pipeline.DetectionMode(cfg.Detector.Mode),
		Every:       cfg.Detector.Every,
		MinInterval: cfg.Detector.MinInterval,
		Interval:    cfg.Detector.Interval,
	})
	if err != nil {
		return err
	}

	reader, err := capture.NewReader(capture.Config{
		Device:  cfg.Capture.Device,
		FPS:     cfg.Capture.FPS,
		Width:   cfg.Capture.Width,
		Height:  cfg.Capture.Height,
		Quality: cfg.Capture.Quality,
	})
	if err != nil {
		return fmt.Errorf("failed to open capture source: %w", err)
	}

	// Per-frame latency log
	var perfSink perf.Sink = perf.Nop{}
	if cfg.Perf.Enabled {
		csv, err := perf.OpenCSV(cfg.Perf.Path, perf.NewClock())
		if err != nil {
			return fmt.Errorf("failed to open perf log: %w", err)
		}
		defer csv.Close()
		perfSink = csv
	}

	// Telemetry sinks
	fanout := telemetry.NewFanout(logger.With("component", "telemetry"))
	defer fanout.Close()
	if cfg.Telemetry.UDPAddr != "" {
		udp, err := telemetry.NewUDPSender(cfg.Telemetry.UDPAddr)
		if err != nil {
			return fmt.Errorf("failed to open udp telemetry: %w", err)
		}
		defer udp.Close()
		fanout.Add(udp, cfg.Telemetry.Buffer)
		logger.Info("udp telemetry enabled", "addr", udp.Addr())
	}
	var hub *ws.Hub
	if cfg.Telemetry.WebSocket {
		hub = ws.NewHub(logger)
		defer hub.Close()
		fanout.Add(hub, cfg.Telemetry.Buffer)
	}
	if cfg.Telemetry.MQTT.Broker != "" {
		pub, err := telemetry.NewMQTTPublisher(ctx, telemetry.MQTTConfig{
			Broker:   cfg.Telemetry.MQTT.Broker,
			Topic:    cfg.Telemetry.MQTT.Topic,
			ClientID: cfg.Telemetry.MQTT.ClientID,
		}, logger)
		if err != nil {
			// Telemetry is best-effort; run without the broker.
			logger.Warn("mqtt telemetry disabled", "broker", cfg.Telemetry.MQTT.Broker, "error", err)
		} else {
			defer pub.Close()
			fanout.Add(pub, cfg.Telemetry.Buffer)
		}
	}

	// Streaming
	snapshots := stream.NewSnapshotBuffer()
	var (
		renderer stream.Renderer
		overlay  *stream.Overlay
	)
	if cfg.HTTP.Overlay {
		overlay = stream.NewOverlay(cfg.Detector.PersonClass, cfg.HTTP.OverlayQuality)
		renderer = overlay
	}
	streamSrv := stream.NewServer(snapshots, renderer, logger)

	// Alert journal
	var db *database.Database
	if cfg.Storage.Path != "" {
		db, err = database.New(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return err
		}
	}

	// Audible alert
	var action func()
	if cfg.Alert.Enabled {
		player, err := alert.NewPlayer(cfg.Alert.Player, cfg.Alert.SoundFile, logger)
		if err != nil {
			return err
		}
		if !player.Available() {
			logger.Warn("alert player not found; alerts will be logged only", "player", cfg.Alert.Player[0])
		}
		action = player.Play
	}
	throttle := alert.NewThrottle(cfg.Alert.Cooldown, action)

	opts := pipeline.Options{
		Reader:    reader,
		Engine:    eng,
		Decoder:   decoder,
		Converter: preprocess.NewConverter(cfg.Detector.InputWidth, cfg.Detector.InputHeight),
		Strategy:  strategy,
		Throttle:  throttle,
		Perf:      perfSink,
		Events:    fanout,
		Snapshots: snapshots,
		Metrics:   metrics,
		Logger:    logger,
		Worker: pipeline.WorkerConfig{
			ScoreThreshold:   cfg.Detector.ScoreThreshold,
			PersonClass:      cfg.Detector.PersonClass,
			PersonMinScore:   cfg.Detector.PersonMinScore,
			StalePersonAfter: cfg.Detector.StalePersonAfter,
		},
		SummaryInterval: cfg.Alert.SummaryInterval,
	}
	if overlay != nil {
		opts.Overlay = overlay
	}
	if db != nil {
		opts.Journal = db
	}
	if cfg.Telegram.Enabled {
		bot, err := telegram.NewBot(telegram.Config{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
		}, snapshots, renderer, logger)
		if err != nil {
			return err
		}
		checkCtx, checkCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := bot.Check(checkCtx); err != nil {
			logger.Warn("telegram bot check failed; alerts will still be attempted", "error", err)
		}
		checkCancel()
		opts.Notifiers = append(opts.Notifiers, bot)
	}
	p, err := pipeline.New(opts)
	if err != nil {
		return err
	}

	if db != nil {
		err := db.StartRun(ctx, &database.RunRecord{
			ID:        p.RunID(),
			Source:    cfg.Capture.Device,
			Engine:    cfg.Detector.Engine,
			StartedAt: p.StartedAt(),
		})
		if err != nil {
			return err
		}
	}

	authenticator, err := auth.NewAuthenticator(auth.Config{
		Enabled:     cfg.Auth.Enabled,
		Username:    cfg.Auth.Username,
		Password:    cfg.Auth.Password,
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.JWTExpiry,
	})
	if err != nil {
		return err
	}

	checkers := []health.Checker{{Name: "pipeline", Check: p.Healthy}}
	if g, ok := eng.(*engine.GRPCEngine); ok {
		checkers = append(checkers, health.Checker{Name: "engine", Check: g.Check})
	}
	if db != nil {
		checkers = append(checkers, health.Checker{Name: "database", Check: db.Ping})
	}

	rt := routes{
		health: health.New(checkers...),
		stream: streamSrv,
		api:    newAPI(p, db, authenticator, logger),
		auth:   authenticator,
	}
	if provider != nil {
		rt.metrics = provider.Handler()
	}
	if hub != nil {
		rt.ws = ws.NewHandler(hub)
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop.
	errc := make(chan error, 3)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	pipeErr := make(chan error, 1)
	go func() {
		err := p.Run(ctx)
		pipeErr <- err
		if err == nil {
			err = errors.New("pipeline stopped")
		}
		errc <- err
	}()

	var wg sync.WaitGroup
	handleHTTPServer(ctx, cfg.HTTP.Addr, rt.handler(), &wg, errc, logger)

	reason := <-errc
	logger.Info("shutting down", "reason", reason)

	// End open MJPEG responses so the HTTP shutdown does not wait on them.
	snapshots.Close()
	cancel()

	runErr := <-pipeErr
	wg.Wait()

	if db != nil {
		st := p.Stats()
		finishCtx, finishCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer finishCancel()
		if err := db.FinishRun(finishCtx, p.RunID(), time.Now(), st.FramesProcessed, st.Inferences, st.Alerts); err != nil {
			logger.Warn("failed to finish run record", "error", err)
		}
	}

	if runErr != nil && !errors.Is(runErr, capture.ErrStreamEnded) {
		return runErr
	}
	var srvErr *serverError
	if errors.As(reason, &srvErr) {
		return srvErr
	}
	return nil
}

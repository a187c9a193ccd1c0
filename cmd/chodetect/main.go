package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/chodetect/internal/activity"
	"github.com/rewired-gh/chodetect/internal/config"
	"github.com/rewired-gh/chodetect/internal/detector"
	"github.com/rewired-gh/chodetect/internal/evaluation"
	"github.com/rewired-gh/chodetect/internal/logger"
	"github.com/rewired-gh/chodetect/internal/metrics"
	"github.com/rewired-gh/chodetect/internal/monitor"
	"github.com/rewired-gh/chodetect/internal/report"
	"github.com/rewired-gh/chodetect/internal/sequence"
	"github.com/rewired-gh/chodetect/internal/storage"
	"github.com/rewired-gh/chodetect/internal/telegram"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file, empty for defaults")
	inputPath  = flag.String("input", "-", "JSON-lines event stream, - for stdin")
	outputPath = flag.String("output", "", "Write emitted events as JSON lines to this file, - for stdout")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	var store *storage.Storage
	if cfg.Storage.Enabled {
		store, err = storage.New(cfg.Storage.MaxReports, cfg.Storage.MaxDetections, cfg.Storage.DBPath)
		if err != nil {
			logger.Fatal("Failed to initialize storage: %v", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close storage: %v", err)
			}
		}()
	} else {
		logger.Debug("Storage disabled")
	}

	var (
		notifier       monitor.Notifier
		telegramClient *telegram.Client
	)
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(
			cfg.Telegram.BotToken,
			cfg.Telegram.ChatID,
			cfg.Telegram.MaxRetries,
			cfg.Telegram.RetryDelay,
			cfg.Telegram.PerMinute,
		)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		notifier = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	var confirmer *sequence.Confirmer
	if cfg.Confirmer.Enabled {
		confirmer, err = sequence.LoadConfirmer(cfg.Confirmer.ModelPath, cfg.Confirmer.Window)
		if err != nil {
			logger.Fatal("Failed to load confirmer: %v", err)
		}
		logger.Info("Confirmer loaded from %s (window: %d)", cfg.Confirmer.ModelPath, cfg.Confirmer.Window)
	}

	stages := []monitor.Stage{detector.NewFilter(cfg.FilterConfig(), confirmer)}
	if cfg.Activity.Enabled {
		stages = append(stages, activity.NewFilter(cfg.Activity.Config(cfg.Detector), nil))
	}
	stages = append(stages, evaluation.NewEngine(cfg.Evaluation.Config()))

	if cfg.Metrics.Enabled {
		metrics.Init(prometheus.DefaultRegisterer)
		srv := serveMetrics(cfg.Metrics.Addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Failed to stop metrics server: %v", err)
			}
		}()
	}

	mon := monitor.New(store, notifier, cfg.MonitorConfig(), stages...)

	in, closeIn, err := openInput(*inputPath)
	if err != nil {
		logger.Fatal("Failed to open input: %v", err)
	}
	defer closeIn()

	out, closeOut, err := openOutput(*outputPath)
	if err != nil {
		logger.Fatal("Failed to open output: %v", err)
	}
	defer closeOut()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx, func() string { return mon.Status().String() })
	}

	logger.Info("Starting replay (run: %s, stages: %d, input: %s)", mon.RunID(), len(stages), *inputPath)
	startTime := time.Now()

	stats, err := replay(ctx, in, out, mon)
	switch {
	case errors.Is(err, context.Canceled):
		logger.Info("Shutdown signal received, cleaning up...")
	case err != nil:
		logger.Error("Replay failed: %v", err)
	}
	logger.Info("Replay completed in %v: %d events read, %d skipped, %d emitted",
		time.Since(startTime), stats.Read, stats.Skipped, stats.Emitted)

	mon.Shutdown()

	if err := report.Write(os.Stdout, mon.Reports()); err != nil {
		logger.Error("Failed to write report: %v", err)
	}
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed: %v", err)
		}
	}()
	return srv
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func openOutput(path string) (io.Writer, func(), error) {
	switch path {
	case "":
		return nil, func() {}, nil
	case "-":
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() {
		if err := f.Close(); err != nil {
			logger.Error("Failed to close output: %v", err)
		}
	}, nil
}

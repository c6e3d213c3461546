// Package main is the entry point for the Glasswally detection pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"glasswally/internal/archive"
	"glasswally/internal/config"
	"glasswally/internal/dispatch"
	"glasswally/internal/errkind"
	"glasswally/internal/event"
	"glasswally/internal/fusion"
	"glasswally/internal/hydra"
	"glasswally/internal/ingestadapter"
	"glasswally/internal/metrics"
	"glasswally/internal/orchestrator"
	"glasswally/internal/rpcserver"
	"glasswally/internal/state"
	"glasswally/internal/workers"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		mode          string
		path          string
		outputDir     string
		metricsAddr   string
		grpcAddr      string
		threshold     float64
		evalThreshold float64
		speed         float64
		configPath    string
	)

	flag.StringVar(&mode, "mode", "tail", "input mode: ebpf, tail, replay, eval")
	flag.StringVar(&path, "path", "", "input file path (tail/replay modes)")
	flag.StringVar(&outputDir, "output-dir", "", "override dispatch.output_dir")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "override metrics_addr")
	flag.StringVar(&grpcAddr, "grpc-addr", "", "override grpc_addr (account-query HTTP endpoint)")
	flag.Float64Var(&threshold, "threshold", 0, "override the Low tier lower bound")
	flag.Float64Var(&evalThreshold, "eval-threshold", 0, "decision threshold for --mode eval (not implemented)")
	flag.Float64Var(&speed, "speed", 1.0, "replay pacing multiplier (--mode replay)")
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.Parse()

	switch mode {
	case "tail", "replay":
	case "ebpf", "eval":
		fmt.Fprintf(os.Stderr, "glasswally: --mode %s is not implemented in this build\n", mode)
		return 2
	default:
		fmt.Fprintf(os.Stderr, "glasswally: unknown --mode %q\n", mode)
		return 2
	}
	if (mode == "tail" || mode == "replay") && path == "" {
		fmt.Fprintln(os.Stderr, "glasswally: --path is required for --mode tail/replay")
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "glasswally: load config: %v\n", err)
		return 2
	}
	if outputDir != "" {
		cfg.Dispatch.OutputDir = outputDir
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if grpcAddr != "" {
		cfg.GRPCAddr = grpcAddr
	}
	if threshold != 0 {
		cfg.LowThreshold = threshold
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "glasswally: %v\n", errkind.New(errkind.ConfigInvalid, "main.run", err))
		return 2
	}

	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if err := workers.LoadCentroids(cfg.CentroidVersion); err != nil {
		logger.Error("failed to load centroid data", "error", err)
		return 4
	}

	store := state.NewStore(cfg.State)
	clusterer := hydra.New(store, cfg.Hydra, logger)
	fusionEng := fusion.New(cfg.Fusion)

	dispatcher, err := dispatch.New(cfg.Dispatch, store, logger)
	if err != nil {
		logger.Error("failed to open dispatch sinks", "error", err)
		return 4
	}
	defer dispatcher.Close()

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("failed to parse GLASSWALLY_REDIS_URL", "error", err)
			return 4
		}
		dispatcher.SetRedisDedup(redis.NewClient(opts), cfg.Dispatch.DedupWindow)
		logger.Info("using redis-backed dedup", "addr", opts.Addr)
	}

	if len(cfg.ClickHouse.Hosts) > 0 {
		chWriter, err := archive.NewClickHouseWriter(cfg.ClickHouse, logger)
		if err != nil {
			logger.Error("failed to connect to clickhouse archive", "error", err)
			return 4
		}
		dispatcher.SetClickHouseArchive(chWriter)
		logger.Info("mirroring audit_log to clickhouse", "hosts", cfg.ClickHouse.Hosts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clusterer.Start(ctx)
	defer clusterer.Stop()

	orch := orchestrator.New(cfg.Orchestrator, store, clusterer, fusionEng, dispatcher, logger)

	var adapterStats *ingestadapter.Stats

	go orch.Run(ctx)

	adapterErrCh := make(chan error, 1)
	switch mode {
	case "tail":
		tailer := ingestadapter.NewJSONLTailer(path, func(ev *event.Event) bool { return orch.Submit(ev) }, logger, 0)
		adapterStats = &tailer.Stats
		go func() { adapterErrCh <- tailer.Run(ctx) }()
	case "replay":
		replayer := ingestadapter.NewReplayer(path, func(ev *event.Event) bool { return orch.Submit(ev) }, logger, speed)
		adapterStats = &replayer.Stats
		go func() {
			err := replayer.Run(ctx)
			adapterErrCh <- err
			if err == nil {
				logger.Info("replay complete", "decoded", replayer.Stats.Decoded.Load(), "skipped", replayer.Stats.Skipped.Load())
			}
		}()
	}

	if len(cfg.KafkaBrokers) > 0 {
		kafkaConsumer, err := ingestadapter.NewKafkaConsumer(ingestadapter.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}, func(ev *event.Event) bool { return orch.Submit(ev) }, logger)
		if err != nil {
			logger.Error("failed to start kafka consumer", "error", err)
			return 4
		}
		go func() {
			if err := kafkaConsumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("kafka consumer exited", "error", err)
			}
		}()
	}

	if cfg.S3.Bucket != "" {
		s3Archiver, err := archive.NewS3Archiver(ctx, cfg.S3, logger)
		if err != nil {
			logger.Error("failed to start s3 archiver", "error", err)
			return 4
		}
		go func() {
			if err := s3Archiver.Run(ctx, cfg.Dispatch.OutputDir); err != nil {
				logger.Error("s3 archiver exited", "error", err)
			}
		}()
		logger.Info("archiving sinks to s3", "bucket", cfg.S3.Bucket, "every", cfg.S3.UploadEvery)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	rpcMux := http.NewServeMux()
	rpcserver.NewHandler(orch, logger).RegisterRoutes(rpcMux)
	rpcServer := &http.Server{Addr: cfg.GRPCAddr, Handler: rpcMux}
	go func() {
		if err := rpcServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("account-query server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-adapterErrCh:
		if err != nil && ctx.Err() == nil {
			logger.Error("input adapter failed", "error", err)
			exitCode = 3
		}
	}

	cancel()
	orch.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	_ = rpcServer.Shutdown(shutdownCtx)

	if adapterStats != nil {
		logger.Info("ingest stats", "decoded", adapterStats.Decoded.Load(), "skipped", adapterStats.Skipped.Load())
	}

	return exitCode
}

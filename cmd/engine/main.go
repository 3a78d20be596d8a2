package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/loomtrack/engine/internal/analysis"
	"github.com/loomtrack/engine/internal/config"
	"github.com/loomtrack/engine/internal/kernel"
	"github.com/loomtrack/engine/internal/mood"
	"github.com/loomtrack/engine/internal/store"
	"github.com/loomtrack/engine/internal/taskadmin"
	"github.com/loomtrack/engine/internal/tasks"
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv("LOOMTRACK_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.MusicLibrary.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "path", cfg.MusicLibrary.DataDir, "error", err)
		os.Exit(1)
	}

	db, err := store.Open(cfg.MusicLibrary.DBPath, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if stats, err := db.Stats(); err == nil {
		logger.Info("library stats",
			"tracks", stats.TotalTracks,
			"analyzed", stats.AnalyzedTracks,
			"total_size", humanize.Bytes(uint64(stats.TotalSizeBytes)),
		)
	}

	classifier := mood.NewClassifier()
	if cfg.MoodClassifier.ModelPath != "" {
		model, err := mood.LoadKMeansModelFile(cfg.MoodClassifier.ModelPath)
		if err != nil {
			logger.Warn("failed to load mood ml backend; using heuristic classifier", "model_path", cfg.MoodClassifier.ModelPath, "error", err)
		} else {
			classifier.WithModel(model)
			logger.Info("mood ml backend loaded", "model_path", cfg.MoodClassifier.ModelPath)
		}
	}
	classifier.ConfidenceThreshold = cfg.MoodClassifier.ConfidenceThreshold

	registry := tasks.NewRegistry()
	engine := analysis.NewEngine(db, kernel.NewHeuristic(), classifier, registry)

	baseOptions := analysis.Options{
		SampleRate:    cfg.AudioAnalysis.SampleRate,
		WindowSeconds: cfg.AudioAnalysis.WindowSeconds,
		MaxFileSizeB:  int64(cfg.AudioAnalysis.MaxFileSizeMB) * 1024 * 1024,
		MinFileSizeB:  int64(cfg.AudioAnalysis.MinFileSizeKB) * 1024,
		MaxDepth:      cfg.AudioAnalysis.MaxDepth,
		Workers:       cfg.AudioAnalysis.Workers,
	}

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(taskadmin.Interceptor(taskadmin.Config{
			Enabled: cfg.Server.AdminEnabled,
			Token:   cfg.Server.AdminToken,
		})),
	)

	if cfg.Server.AdminEnabled {
		taskadmin.Register(grpcServer, taskadmin.NewServer(registry, engine, baseOptions))
		logger.Info("task admin surface enabled", "port", cfg.Server.AdminPort)
	}

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("loomtrack.taskadmin.TaskAdmin", grpc_health_v1.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)

	port := cfg.Server.Port
	if cfg.Server.AdminEnabled {
		port = cfg.Server.AdminPort
	}
	addr := fmt.Sprintf(":%d", port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to listen", "addr", addr, "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig)
		healthServer.SetServingStatus("loomtrack.taskadmin.TaskAdmin", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		grpcServer.GracefulStop()
	}()

	logger.Info("starting engine",
		"admin_port", cfg.Server.AdminPort,
		"data_dir", cfg.MusicLibrary.DataDir,
		"admin_enabled", cfg.Server.AdminEnabled,
	)

	if err := grpcServer.Serve(lis); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

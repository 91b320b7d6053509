package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fwdproxy/internal/config"
	"fwdproxy/internal/coordinator"
	"fwdproxy/internal/ipc"
	"fwdproxy/internal/server"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "path to config file (.json, .yaml or .yml)")
	flag.Parse()

	// Load config
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		// Basic logger for startup errors
		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger := setupLogger(cfg.LogLevel)

	if os.Getenv(coordinator.EnvRole) == coordinator.RoleWorker {
		os.Exit(runWorker(cfg, logger))
	}
	runCoordinator(cfg, *configPath, logger)
}

// runCoordinator owns the shared stores and supervises the workers
func runCoordinator(cfg *config.Config, configPath string, logger zerolog.Logger) {
	logger.Info().
		Str("config", configPath).
		Int("processors", runtime.NumCPU()).
		Int("workers", cfg.GetWorkerCount()).
		Int("port", cfg.Port).
		Int("cacheTTL", cfg.CacheTTL).
		Msg("starting fwdproxy")

	// Resolve the socket once so every worker dials the same path
	cfg.IPCSocket = cfg.GetIPCSocketPath()

	spawner, err := coordinator.NewExecSpawner(cfg.IPCSocket)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create worker spawner")
	}

	coord, err := coordinator.New(cfg, spawner, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create coordinator")
	}

	if err := coord.Start(); err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		coord.Stop(ctx)
		cancel()
		logger.Fatal().Err(err).Msg("failed to start coordinator")
	}

	consoleCtx, stopConsole := context.WithCancel(context.Background())
	defer stopConsole()

	consoleDone := make(chan struct{})
	if cfg.DisableConsole {
		logger.Info().Msg("operator console disabled")
	} else {
		go func() {
			defer close(consoleDone)
			if err := coord.Console().Run(consoleCtx, os.Stdin, os.Stdout); err != nil {
				logger.Error().Err(err).Msg("console error")
			}
		}()
	}

	// Wait for shutdown signal or the operator leaving the console
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-consoleDone:
		logger.Info().Msg("console closed")
	}
	stopConsole()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := coord.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
}

// runWorker serves the proxy until the coordinator goes away and returns
// the process exit code
func runWorker(cfg *config.Config, logger zerolog.Logger) int {
	pid := os.Getpid()
	logger = logger.With().Int("pid", pid).Logger()

	// Terminal interrupts are handled by the coordinator
	signal.Ignore(syscall.SIGINT)

	socketPath := os.Getenv(coordinator.EnvIPCSocket)
	if socketPath == "" {
		logger.Error().Str("env", coordinator.EnvIPCSocket).Msg("coordinator socket not set")
		return 1
	}

	header := http.Header{}
	header.Set(coordinator.WorkerPidHeader, strconv.Itoa(pid))

	dialCtx, cancelDial := context.WithTimeout(context.Background(), 10*time.Second)
	transport, err := ipc.Dial(dialCtx, socketPath, header, cfg.GetRPCTimeoutDuration(), logger)
	cancelDial()
	if err != nil {
		logger.Error().Err(err).Str("socket", socketPath).Msg("failed to connect to coordinator")
		return 1
	}
	defer transport.Close()

	srv := server.New(cfg, transport, logger)
	if err := srv.Start(context.Background()); err != nil {
		logger.Error().Err(err).Msg("failed to start server")
		return 1
	}
	logger.Info().Msg("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM)

	code := 0
	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-transport.Done():
		logger.Warn().Msg("coordinator channel closed")
		code = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
	return code
}

// setupLogger configures the zerolog logger
func setupLogger(level string) zerolog.Logger {
	// Set log level
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	// Configure output
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).With().Timestamp().Logger()
}

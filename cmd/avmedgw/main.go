// Package main is the entry point for the mediation gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyrodovalexey/avmedgw/internal/audit"
	"github.com/vyrodovalexey/avmedgw/internal/auth"
	"github.com/vyrodovalexey/avmedgw/internal/backend"
	"github.com/vyrodovalexey/avmedgw/internal/config"
	"github.com/vyrodovalexey/avmedgw/internal/mediation"
	"github.com/vyrodovalexey/avmedgw/internal/metrics"
	"github.com/vyrodovalexey/avmedgw/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	listenAddr  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting avmedgw",
		observability.String("version", version),
		observability.String("config", flags.configPath),
	)

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		logger.Error("failed to load configuration", observability.Error(err))
		os.Exit(1)
	}

	sink := metrics.NewPromSink()
	endpoint := backend.NewHTTPEndpoint(backend.WithHTTPLogger(logger))

	_, manager, err := config.Build(cfg, endpoint, sink, logger)
	if err != nil {
		logger.Error("failed to build mediation pipeline", observability.Error(err))
		os.Exit(1)
	}

	auditor := audit.NewLogRecorder(logger, cfg.Audit.Buffer)
	defer auditor.Close()

	mediator := mediation.New(auth.NewStaticAuthorizer(logger), manager,
		mediation.WithLogger(logger),
		mediation.WithSink(sink),
		mediation.WithAuditor(auditor),
	)

	if err := run(mediator, manager, flags.listenAddr, logger); err != nil {
		logger.Error("server terminated", observability.Error(err))
		os.Exit(1)
	}
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("AVMEDGW_CONFIG_PATH", "configs/avmedgw.yaml"),
		"Path to configuration file")
	listenAddr := flag.String("listen", getEnvOrDefault("AVMEDGW_LISTEN_ADDR", ":8080"),
		"HTTP listen address")
	logLevel := flag.String("log-level", getEnvOrDefault("AVMEDGW_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("AVMEDGW_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		listenAddr:  *listenAddr,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("avmedgw version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// run serves the gateway until a termination signal arrives, then drains
// in-flight requests before returning.
func run(mediator *mediation.Mediator, manager serviceDirectory, addr string, logger observability.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           newHandler(mediator, manager, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", observability.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

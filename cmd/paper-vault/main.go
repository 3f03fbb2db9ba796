// Command paper-vault is a content-addressable document store with
// deduplication, metadata extraction and trash-based garbage
// collection.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/wolfeidau/paper-vault/backend"
	"github.com/wolfeidau/paper-vault/server"
	"github.com/wolfeidau/paper-vault/telemetry"
)

var version = "dev"

var cli struct {
	Address string `help:"Address to listen on." default:":8080" env:"VAULT_ADDRESS"`
	DataDir string `help:"Directory for the local blob cache and metadata database." default:"./vault-data" env:"VAULT_DATA_DIR"`

	MaxFileBytes  int64 `help:"Per-file upload size limit in bytes (0 to disable)." default:"104857600" env:"VAULT_MAX_FILE_BYTES"`
	MaxTotalBytes int64 `help:"Aggregate blob quota in bytes (0 to disable)." default:"10737418240" env:"VAULT_MAX_TOTAL_BYTES"`

	MinioEndpoint  string `help:"S3-compatible endpoint for durable blob storage (empty for local-only)." env:"VAULT_MINIO_ENDPOINT"`
	MinioAccessKey string `help:"Access key for the object store." env:"VAULT_MINIO_ACCESS_KEY"`
	MinioSecretKey string `help:"Secret key for the object store." env:"VAULT_MINIO_SECRET_KEY"`
	MinioBucket    string `help:"Bucket for durable blobs." default:"paper-vault" env:"VAULT_MINIO_BUCKET"`
	MinioUseSSL    bool   `help:"Use TLS for the object store connection." env:"VAULT_MINIO_USE_SSL"`

	OpenAIAPIKey string `help:"OpenAI API key for metadata extraction (empty disables extraction)." env:"OPENAI_API_KEY"`
	OpenAIModel  string `help:"Model used for metadata extraction." env:"VAULT_OPENAI_MODEL"`

	OrphanScan bool `help:"Scan the durable store for orphaned blobs during collection." env:"VAULT_ORPHAN_SCAN"`

	OTLPEndpoint string `help:"OTLP gRPC endpoint for metrics export (empty disables OTLP)." env:"VAULT_OTLP_ENDPOINT"`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info" env:"VAULT_LOG_LEVEL"`
	LogFormat string `help:"Log format (text, json)." default:"text" enum:"text,json" env:"VAULT_LOG_FORMAT"`

	Version kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	// Local overrides for development; missing file is fine.
	_ = godotenv.Load()

	kong.Parse(&cli,
		kong.Name("paper-vault"),
		kong.Description("Content-addressable document store with deduplication and trash-based collection."),
		kong.Vars{"version": version},
	)

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := buildLogger(cli.LogLevel, cli.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:    "paper-vault",
		ServiceVersion: version,
		OTLPEndpoint:   cli.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initialising metrics: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = shutdownMetrics(shutdownCtx)
	}()

	srv, err := server.New(server.Config{
		Address: cli.Address,
		DataDir: cli.DataDir,
		MinIO: backend.MinIOConfig{
			Endpoint:  cli.MinioEndpoint,
			AccessKey: cli.MinioAccessKey,
			SecretKey: cli.MinioSecretKey,
			Bucket:    cli.MinioBucket,
			UseSSL:    cli.MinioUseSSL,
		},
		OpenAIAPIKey:  cli.OpenAIAPIKey,
		OpenAIModel:   cli.OpenAIModel,
		MaxFileBytes:  cli.MaxFileBytes,
		MaxTotalBytes: cli.MaxTotalBytes,
		OrphanScan:    cli.OrphanScan,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("server started",
		"version", version,
		"address", srv.Address(),
		"data_dir", cli.DataDir,
		"durable", durableName(cli.MinioEndpoint),
		"extraction", cli.OpenAIAPIKey != "",
	)

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: lvl})
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}

	return slog.New(handler), nil
}

func durableName(endpoint string) string {
	if endpoint == "" {
		return "filesystem"
	}
	return "minio"
}

// Package server provides the HTTP server for the document vault.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/paper-vault/backend"
	"github.com/wolfeidau/paper-vault/gc"
	"github.com/wolfeidau/paper-vault/knowledge"
	"github.com/wolfeidau/paper-vault/refsafe"
	"github.com/wolfeidau/paper-vault/store"
	"github.com/wolfeidau/paper-vault/store/metadb"
	"github.com/wolfeidau/paper-vault/telemetry"
	"github.com/wolfeidau/paper-vault/vault"
)

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// DataDir is the root path for local storage: the blob cache and
	// the metadata database live under it.
	DataDir string

	// MinIO configures the durable object store. When Endpoint is
	// empty the durable tier falls back to a directory under DataDir,
	// which keeps single-machine setups working without an object
	// store.
	MinIO backend.MinIOConfig

	// OpenAIAPIKey enables metadata extraction when set.
	OpenAIAPIKey string

	// OpenAIModel overrides the default extraction model.
	OpenAIModel string

	// MaxFileBytes is the per-file upload ceiling. Zero disables it.
	MaxFileBytes int64

	// MaxTotalBytes is the aggregate blob quota. Zero disables it.
	MaxTotalBytes int64

	// OrphanScan enables the collector's durable-store orphan scan.
	OrphanScan bool

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP server for the document vault.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger

	// Components
	db        metadb.MetaDB
	blobs     *store.BlobStore
	collector *gc.Collector
	vault     *vault.Vault
}

// New creates a new server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./vault-data"
	}

	// Local blob cache
	local, err := backend.NewFilesystem(filepath.Join(cfg.DataDir, "cache"))
	if err != nil {
		return nil, fmt.Errorf("creating local cache backend: %w", err)
	}

	// Durable tier: object store when configured, local directory
	// otherwise.
	var durable backend.Backend
	if cfg.MinIO.Endpoint != "" {
		m, err := backend.NewMinIO(cfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("creating durable backend: %w", err)
		}
		durable = backend.NewInstrumentedBackend(m, "minio")
	} else {
		fs, err := backend.NewFilesystem(filepath.Join(cfg.DataDir, "durable"))
		if err != nil {
			return nil, fmt.Errorf("creating durable backend: %w", err)
		}
		durable = backend.NewInstrumentedBackend(fs, "filesystem")
	}

	// Metadata database
	db := metadb.New(metadb.WithLogger(cfg.Logger.With("component", "metadb")))
	if err := db.Open(filepath.Join(cfg.DataDir, "metadata.db")); err != nil {
		return nil, fmt.Errorf("opening metadata db: %w", err)
	}

	blobs := store.NewBlobStore(local, durable, db,
		store.WithLogger(cfg.Logger.With("component", "blobstore")))

	cache := knowledge.NewCache(db)

	checker := refsafe.NewChecker(db,
		refsafe.WithLogger(cfg.Logger.With("component", "refsafe")))

	gcConfig := gc.DefaultConfig()
	gcConfig.OrphanScan = cfg.OrphanScan
	collectorOpts := []gc.CollectorOption{
		gc.WithLogger(cfg.Logger.With("component", "gc")),
	}
	if cfg.OrphanScan {
		collectorOpts = append(collectorOpts, gc.WithDurableBackend(durable))
	}
	if m, err := gc.NewMetrics(telemetry.Meter()); err == nil {
		collectorOpts = append(collectorOpts, gc.WithMetrics(m))
	}
	collector := gc.New(db, blobs, cache, checker, gcConfig, collectorOpts...)

	vaultOpts := []vault.Option{
		vault.WithLogger(cfg.Logger.With("component", "vault")),
		vault.WithCollector(collector),
	}
	if cfg.OpenAIAPIKey != "" {
		extractor, err := knowledge.NewOpenAIExtractor(cfg.OpenAIAPIKey, cfg.OpenAIModel,
			knowledge.WithExtractorLogger(cfg.Logger.With("component", "extractor")))
		if err != nil {
			return nil, fmt.Errorf("creating extractor: %w", err)
		}
		vaultOpts = append(vaultOpts, vault.WithExtractor(extractor))
	}
	v := vault.New(db, blobs, cache,
		vault.Limits{MaxFileBytes: cfg.MaxFileBytes, MaxTotalBytes: cfg.MaxTotalBytes},
		vaultOpts...)

	s := &Server{
		config:    cfg,
		logger:    cfg.Logger,
		db:        db,
		blobs:     blobs,
		collector: collector,
		vault:     v,
	}

	// Build HTTP server
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.loggingMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Long timeout for large uploads and downloads
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Storage stats
	mux.HandleFunc("GET /stats", s.handleStats)

	// Prometheus metrics endpoint (404 if metrics are not initialised)
	if h := telemetry.PrometheusHandler(); h != nil {
		mux.Handle("GET /metrics", h)
	}

	// Document registry
	mux.HandleFunc("POST /projects/{project}/documents", s.handleUpload)
	mux.HandleFunc("GET /projects/{project}/documents", s.handleList)
	mux.HandleFunc("GET /projects/{project}/documents/{id}", s.handleGetDocument)
	mux.HandleFunc("GET /projects/{project}/documents/{id}/content", s.handleContent)

	// Trash lifecycle. Batch endpoints: deleting or restoring several
	// documents at once is the common case from a selection UI.
	mux.HandleFunc("POST /projects/{project}/trash", s.handleTrash)
	mux.HandleFunc("POST /projects/{project}/restore", s.handleRestore)

	// Annotations
	mux.HandleFunc("POST /projects/{project}/documents/{id}/annotations", s.handleAnnotate)
	mux.HandleFunc("GET /projects/{project}/documents/{id}/annotations", s.handleAnnotations)

	// Collector
	mux.HandleFunc("POST /gc", s.handleSweep)
	mux.HandleFunc("GET /gc", s.handleGCStatus)
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		// Wrap response writer to capture status and bytes
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		s.logger.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"bytes_sent", wrapped.bytesWritten,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
	})
}

// Start starts the server.
func (s *Server) Start() error {
	s.logger.Info("starting server", "address", s.config.Address, "data_dir", s.config.DataDir)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server and closes the metadata
// database.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	err := s.httpServer.Shutdown(ctx)
	if cerr := s.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// Handler returns the root HTTP handler, including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// responseWriter wraps http.ResponseWriter to capture the status code
// and bytes written.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"docchat/internal/agent"
	"docchat/internal/bus"
	"docchat/internal/channel"
	"docchat/internal/config"
	"docchat/internal/domain"
	"docchat/internal/extract"
	"docchat/internal/identity"
	"docchat/internal/memory"
	"docchat/internal/metrics"
	"docchat/internal/provider"
	"docchat/internal/render"
	"docchat/internal/storage"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the WebSocket chat server",
		Long:  "Starts the chat gateway, health and metrics endpoints. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := newLogger(cfg.General)
	if err != nil {
		return err
	}
	defer closeLog()
	logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := memory.Open(ctx, memory.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("message store: %w", err)
	}
	defer store.Close()

	objects, files, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("object storage: %w", err)
	}
	generator := render.NewGenerator(render.Config{
		Saver: storage.NewPublisher(storage.PublisherConfig{
			Storage: objects,
			Bucket:  cfg.Storage.Bucket,
			TTL:     time.Duration(cfg.Storage.PresignTTLSeconds) * time.Second,
			Logger:  logger,
		}),
		FontPaths: cfg.Render.FontPaths,
		Logger:    logger,
	})

	modelTimeout := time.Duration(cfg.AI.TimeoutSeconds) * time.Second
	client := provider.NewClient(provider.ClientConfig{
		APIKey:  cfg.AI.APIKey,
		APIBase: cfg.AI.APIBase,
		Model:   cfg.AI.Model,
		Timeout: modelTimeout,
		Formats: cfg.AI.Formats,
		Logger:  logger,
	})
	if err := client.Healthy(ctx); err != nil {
		logger.Warn("ai backend unhealthy at startup", "base", cfg.AI.APIBase, "err", err)
	} else {
		logger.Info("ai backend healthy", "model", client.Model())
	}

	events := bus.NewEventBus(logger)
	pipeline := metrics.NewPipeline(metrics.Collector)
	pipeline.Subscribe(events)

	registry := channel.NewRegistry()
	kratos := identity.NewKratos(identity.KratosConfig{
		PublicURL: cfg.Identity.KratosPublicURL,
		Timeout:   time.Duration(cfg.Identity.TimeoutSeconds) * time.Second,
		Logger:    logger,
	})
	var resolver channel.IdentityResolver
	if kratos.Enabled() {
		resolver = kratos
		logger.Info("identity provider enabled", "url", cfg.Identity.KratosPublicURL)
	}

	gateway := channel.NewGateway(channel.GatewayConfig{
		Registry:        registry,
		Identity:        resolver,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		MaxConcurrent:   cfg.General.MaxConcurrentMessages,
		MaxMessageBytes: maxFrameBytes(cfg.Attachments),
		Logger:          logger,
	})

	var limiter *agent.RateLimiter
	if cfg.AI.RequestsPerMinute > 0 {
		limiter = agent.NewRateLimiter(cfg.AI.Burst, float64(cfg.AI.RequestsPerMinute))
	}

	orchestrator := agent.NewOrchestrator(agent.OrchestratorConfig{
		Store:          store,
		Registry:       registry,
		Model:          client,
		Renderer:       generator,
		Attachments:    extract.NewProcessor(extract.Config{MaxBytes: cfg.Attachments.MaxBytes, Logger: logger}),
		Broadcaster:    gateway,
		Events:         events,
		Limiter:        limiter,
		HistoryLimit:   cfg.General.HistoryLimit,
		MaxAttachments: cfg.Attachments.MaxPerMessage,
		ModelTimeout:   modelTimeout,
		Logger:         logger,
	})
	gateway.SetHandler(orchestrator)

	heartbeat := agent.NewHeartbeat(agent.HeartbeatConfig{
		Registry: registry,
		Limiter:  limiter,
		OnStats: func(conns, users int) {
			pipeline.Connections.Set(int64(conns))
			pipeline.Users.Set(int64(users))
		},
		Logger: logger,
	})
	go heartbeat.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, gateway)
	mux.HandleFunc("/healthz", healthz(store))
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Endpoint, metrics.Collector.Handler())
	}
	if files != nil {
		prefix := mountPath(cfg.Storage.PublicBaseURL)
		mux.Handle(prefix+"/", http.StripPrefix(prefix, files))
		logger.Info("serving local files", "path", prefix+"/", "dir", cfg.Storage.LocalDir)
	}

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "ws", cfg.Server.Path, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := server.Shutdown(shutdownCtx); err != nil {
		shutdownErr = fmt.Errorf("http shutdown: %w", err)
	}
	// Hijacked WebSocket connections are not covered by server.Shutdown.
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown timed out, in-flight messages dropped", "err", err)
		shutdownErr = err
	}
	if shutdownErr == nil {
		logger.Info("shutdown complete")
	}
	return shutdownErr
}

// openStorage returns the configured object store. The handler is non-nil
// for the local backend, whose files are served by this process.
func openStorage(ctx context.Context, sc config.StorageConfig) (domain.ObjectStorage, http.Handler, error) {
	switch sc.Backend {
	case "minio":
		m, err := storage.NewMinIO(storage.MinIOConfig{
			Endpoint:  sc.Endpoint,
			AccessKey: sc.AccessKey,
			SecretKey: sc.SecretKey,
			Region:    sc.Region,
			UseSSL:    sc.UseSSL,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := m.EnsureBucket(ctx, sc.Bucket); err != nil {
			return nil, nil, err
		}
		logger.Info("object storage ready", "backend", "minio", "endpoint", sc.Endpoint, "bucket", sc.Bucket)
		return m, nil, nil
	default:
		l, err := storage.NewLocal(storage.LocalConfig{
			Dir:     sc.LocalDir,
			BaseURL: sc.PublicBaseURL,
			Logger:  logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return l, l.Handler(), nil
	}
}

// mountPath extracts the path of the public files URL, "/files" by default.
func mountPath(publicBaseURL string) string {
	u, err := url.Parse(publicBaseURL)
	if err != nil || strings.Trim(u.Path, "/") == "" {
		return "/files"
	}
	return "/" + strings.Trim(u.Path, "/")
}

// maxFrameBytes sizes the WebSocket read limit for a full message of
// base64 attachments.
func maxFrameBytes(ac config.AttachmentsConfig) int64 {
	raw := ac.MaxBytes * int64(ac.MaxPerMessage)
	return raw*4/3 + 1<<20
}

func healthz(store *memory.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := store.Ping(ctx); err != nil {
			logger.Debug("health check failed", "err", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, "database unavailable")
			return
		}
		fmt.Fprintln(w, "ok")
	}
}

package agent

import (
	"context"
	"log/slog"
	"time"

	"docchat/internal/channel"
)

type HeartbeatConfig struct {
	Interval time.Duration // default 1 minute
	Registry *channel.Registry
	Limiter  *RateLimiter // optional
	// OnStats receives the live connection and user counts on every tick.
	OnStats func(conns, users int)
	Logger  *slog.Logger
}

// Heartbeat runs periodic housekeeping for the realtime side: it reports
// registry sizes and drops idle rate limiter buckets.
type Heartbeat struct {
	interval time.Duration
	registry *channel.Registry
	limiter  *RateLimiter
	onStats  func(conns, users int)
	logger   *slog.Logger
}

func NewHeartbeat(cfg HeartbeatConfig) *Heartbeat {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Heartbeat{
		interval: cfg.Interval,
		registry: cfg.Registry,
		limiter:  cfg.Limiter,
		onStats:  cfg.OnStats,
		logger:   cfg.Logger,
	}
}

// Start blocks until ctx is cancelled.
func (h *Heartbeat) Start(ctx context.Context) {
	h.logger.Info("heartbeat started", "interval", h.interval)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("heartbeat stopped")
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *Heartbeat) tick() {
	conns, users := h.registry.Stats()
	if h.onStats != nil {
		h.onStats(conns, users)
	}
	forgotten := 0
	if h.limiter != nil {
		forgotten = h.limiter.Forget()
	}
	h.logger.Debug("heartbeat", "connections", conns, "users", users, "idle_buckets", forgotten)
}

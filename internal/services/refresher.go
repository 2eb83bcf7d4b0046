package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mochaeng/barq/internal/config"
	"github.com/mochaeng/barq/internal/graph"
	"github.com/mochaeng/barq/internal/host"
	"github.com/mochaeng/barq/internal/models"
	"github.com/mochaeng/barq/internal/observability"
	"golang.org/x/time/rate"
)

// minRefreshGap spaces out topology pulls from the host beyond the burst.
const minRefreshGap = time.Second

// GraphRefresher keeps the shared graph view in sync with the host's
// topology, on a timer and on demand.
type GraphRefresher struct {
	source  host.TopologySource
	view    *graph.View
	config  *config.Config
	limiter *rate.Limiter
	metrics *observability.Metrics
	logger  *slog.Logger

	// mu serializes pulls so concurrent payers on a stale view trigger one.
	mu sync.Mutex
}

func NewGraphRefresher(source host.TopologySource, view *graph.View, cfg *config.Config,
	metrics *observability.Metrics, logger *slog.Logger) *GraphRefresher {

	burst := cfg.GraphRefreshBurst
	if burst <= 0 {
		burst = 1
	}
	return &GraphRefresher{
		source:  source,
		view:    view,
		config:  cfg,
		limiter: rate.NewLimiter(rate.Every(minRefreshGap), burst),
		metrics: metrics,
		logger:  logger.With("component", "refresher"),
	}
}

// Start refreshes periodically until ctx is done.
func (g *GraphRefresher) Start(ctx context.Context) {
	go g.refreshLoop(ctx)
}

func (g *GraphRefresher) refreshLoop(ctx context.Context) {
	interval := g.config.GraphRefreshInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.Refresh(ctx); err != nil {
				g.logger.Warn("periodic graph refresh failed", "error", err)
			}
		}
	}
}

// EnsureFresh refreshes only when the view is older than GraphMaxAge or was
// never loaded.
func (g *GraphRefresher) EnsureFresh(ctx context.Context) error {
	if !g.view.Stale(g.config.GraphMaxAge) {
		return nil
	}
	return g.refresh(ctx, true)
}

func (g *GraphRefresher) Refresh(ctx context.Context) error {
	return g.refresh(ctx, false)
}

func (g *GraphRefresher) refresh(ctx context.Context, onlyIfStale bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if onlyIfStale && !g.view.Stale(g.config.GraphMaxAge) {
		return nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("graph refresh throttled: %w", err)
	}

	err := g.pull(ctx)
	g.metrics.GraphRefreshed(ctx, err)
	return err
}

func (g *GraphRefresher) pull(ctx context.Context) error {
	nodes, err := g.source.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}
	channels, err := g.source.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list channels: %w", err)
	}

	validNodes := nodes[:0]
	for _, n := range nodes {
		if host.ValidNodeID(n.ID) == nil {
			validNodes = append(validNodes, n)
		}
	}
	validChannels := channels[:0]
	for _, ch := range channels {
		if host.ValidNodeID(ch.Source) == nil && host.ValidNodeID(ch.Destination) == nil {
			validChannels = append(validChannels, ch)
		}
	}
	if dropped := len(nodes) + len(channels) - len(validNodes) - len(validChannels); dropped > 0 {
		g.logger.Debug("dropped malformed topology entries", "count", dropped)
	}

	g.view.Refresh(validNodes, validChannels)
	numNodes, numChannels := g.view.Size()
	g.logger.Info("graph refreshed", "nodes", numNodes, "channels", numChannels)
	return nil
}

func (g *GraphRefresher) Status() models.HealthResponse {
	numNodes, numChannels := g.view.Size()
	return models.HealthResponse{
		Status:        "ok",
		GraphNodes:    numNodes,
		GraphChannels: numChannels,
		RefreshedAt:   g.view.RefreshedAt(),
		Stale:         g.view.Stale(g.config.GraphMaxAge),
	}
}

package services

import (
	"context"
	"log/slog"

	"github.com/mochaeng/barq/internal/classifier"
	"github.com/mochaeng/barq/internal/config"
	"github.com/mochaeng/barq/internal/executor"
	"github.com/mochaeng/barq/internal/graph"
	"github.com/mochaeng/barq/internal/host"
	"github.com/mochaeng/barq/internal/models"
	"github.com/mochaeng/barq/internal/observability"
	"github.com/mochaeng/barq/internal/planner"
	"github.com/mochaeng/barq/internal/store"
)

type Service struct {
	Payment interface {
		Pay(ctx context.Context, req models.PayRequest) (*models.Payment, error)
		RouteInfo(ctx context.Context, req models.RouteInfoRequest) ([]models.Route, error)
		GetPayment(ctx context.Context, paymentHash string) (*models.Payment, error)
	}
	Graph interface {
		Start(ctx context.Context)
		Refresh(ctx context.Context) error
		Status() models.HealthResponse
	}
}

// NewServices wires one graph view shared by every payment.
func NewServices(cfg *config.Config, h host.Host, st store.PaymentStore,
	metrics *observability.Metrics, logger *slog.Logger) *Service {

	view := graph.NewView()
	refresher := NewGraphRefresher(h, view, cfg, metrics, logger)

	plan := planner.New(view, planner.Config{
		MaxParts:      cfg.MaxParts,
		MinPartAmount: cfg.MinPartAmount,
	}, logger)
	classify := classifier.New(view, cfg.MaxRetries, logger)
	exec := executor.New(h, plan, classify, logger,
		executor.WithMetrics(metrics),
		executor.WithJournal(st),
	)

	return &Service{
		Payment: &PaymentService{
			host:     h,
			view:     view,
			graph:    refresher,
			executor: exec,
			store:    st,
			config:   cfg,
			logger:   logger.With("component", "payments"),
		},
		Graph: refresher,
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mochaeng/barq/internal/config"
	"github.com/mochaeng/barq/internal/host"
	"github.com/mochaeng/barq/internal/observability"
	"github.com/mochaeng/barq/internal/services"
	"github.com/mochaeng/barq/internal/store"
	"github.com/valyala/fasthttp"
)

const paymentsPrefix = "/payments/"

type Application struct {
	config   *config.Config
	services *services.Service
	logger   *slog.Logger
	// baseCtx outlives single requests; payments keep running while the
	// server drains.
	baseCtx context.Context
	closers []io.Closer
}

// NewApp builds the archive named by config and every service on top of h.
func NewApp(config *config.Config, h host.Host, logger *slog.Logger) (*Application, error) {
	metrics, err := observability.NewGlobalMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	var st store.PaymentStore
	var closers []io.Closer
	if config.RedisURL != "" {
		redisStore, err := store.NewRedisStore(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
		st = redisStore
		closers = append(closers, redisStore)
	} else {
		st = store.NewMemoryStore()
	}

	services := services.NewServices(config, h, st, metrics, logger)
	app := New(config, services, logger)
	app.closers = closers
	return app, nil
}

// Close releases the clients NewApp opened.
func (app *Application) Close() error {
	var errs []error
	for _, c := range app.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	app.closers = nil
	return errors.Join(errs...)
}

func New(config *config.Config, services *services.Service, logger *slog.Logger) *Application {
	return &Application{
		config:   config,
		services: services,
		logger:   logger.With("component", "http"),
		baseCtx:  context.Background(),
	}
}

func (app *Application) Mount() *fasthttp.Server {
	return &fasthttp.Server{
		Handler: app.route,
		Name:    "barq",
	}
}

func (app *Application) route(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Content-Type", "application/json")

	path := string(ctx.Path())
	switch {
	case path == "/pay":
		app.only(ctx, ctx.IsPost(), app.payHandler)
	case path == "/routeinfo":
		app.only(ctx, ctx.IsPost(), app.routeInfoHandler)
	case path == "/graph/refresh":
		app.only(ctx, ctx.IsPost(), app.refreshHandler)
	case path == "/health":
		app.only(ctx, ctx.IsGet(), app.healthHandler)
	case strings.HasPrefix(path, paymentsPrefix):
		app.only(ctx, ctx.IsGet(), app.getPaymentHandler)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetBodyString(`{"error":"Not found","code":"not_found"}`)
	}
}

func (app *Application) only(ctx *fasthttp.RequestCtx, allowed bool, handler fasthttp.RequestHandler) {
	if !allowed {
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		ctx.SetBodyString(`{"error":"Method not allowed","code":"method_not_allowed"}`)
		return
	}
	handler(ctx)
}

// Run serves until ctx is cancelled, keeping the graph refreshed meanwhile.
func (app *Application) Run(ctx context.Context, server *fasthttp.Server) error {
	app.baseCtx = context.WithoutCancel(ctx)
	app.services.Graph.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("starting server", "port", app.config.Port)
		errCh <- server.ListenAndServe(":" + app.config.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		app.logger.Info("shutting down server")
		if err := server.Shutdown(); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		return nil
	}
}

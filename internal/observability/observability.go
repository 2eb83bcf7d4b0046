// Package observability builds the structured logger and the OpenTelemetry
// instruments shared by the payment pipeline. Instruments are created from
// the global providers, which stay no-op unless the host process installs an
// SDK.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/mochaeng/barq/internal/constants"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/mochaeng/barq"

func NewLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

type Metrics struct {
	payments       metric.Int64Counter
	attempts       metric.Int64Counter
	attemptLatency metric.Float64Histogram
	refreshes      metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	payments, err := meter.Int64Counter("barq.payments",
		metric.WithDescription("Finished payments by status and strategy"),
		metric.WithUnit("{payment}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create payments counter: %w", err)
	}

	attempts, err := meter.Int64Counter("barq.attempts",
		metric.WithDescription("Finished payment attempts by status"),
		metric.WithUnit("{attempt}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create attempts counter: %w", err)
	}

	latency, err := meter.Float64Histogram("barq.attempt.duration",
		metric.WithDescription("Time from dispatch to outcome of one attempt"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create attempt histogram: %w", err)
	}

	refreshes, err := meter.Int64Counter("barq.graph.refreshes",
		metric.WithDescription("Topology refreshes from the host"),
		metric.WithUnit("{refresh}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh counter: %w", err)
	}

	return &Metrics{
		payments:       payments,
		attempts:       attempts,
		attemptLatency: latency,
		refreshes:      refreshes,
	}, nil
}

// NewGlobalMetrics uses the globally registered meter provider.
func NewGlobalMetrics() (*Metrics, error) {
	return NewMetrics(otel.Meter(instrumentationName))
}

func NewNoopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Metrics) PaymentFinished(ctx context.Context, strategy constants.Strategy, status constants.PaymentStatus) {
	m.payments.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", string(strategy)),
		attribute.String("status", string(status)),
	))
}

func (m *Metrics) AttemptFinished(ctx context.Context, status constants.AttemptStatus, retry int, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("status", string(status)),
		attribute.Bool("retry", retry > 0),
	)
	m.attempts.Add(ctx, 1, attrs)
	m.attemptLatency.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) GraphRefreshed(ctx context.Context, err error) {
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("error", err != nil)))
}

// Package executor drives one payment from its plan to a terminal status.
//
// Each Execute call owns its Payment and attempts. Attempts are dispatched
// concurrently; their outcomes come back as events on a channel and are
// applied by the single goroutine running the payment loop, which is the only
// writer of payment and attempt state.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/mochaeng/barq/internal/classifier"
	"github.com/mochaeng/barq/internal/constants"
	"github.com/mochaeng/barq/internal/models"
	"github.com/mochaeng/barq/internal/observability"
	"github.com/mochaeng/barq/internal/planner"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Sender is the host's pay-one-route primitive. A nil error means the
// outcome is known: either Settled or a FailureReport. An error means the
// attempt's fate is unknown and it must be treated as still in flight.
type Sender interface {
	SendAndAwait(ctx context.Context, req models.SendRequest) (models.SendResult, error)
}

type Planner interface {
	Plan(req planner.Request) ([]planner.Part, error)
}

type Classifier interface {
	Classify(report models.FailureReport, retries int) classifier.Decision
}

// Journal records each attempt before it is sent, so an interrupted payment
// still shows what may be in flight.
type Journal interface {
	AppendAttempt(ctx context.Context, paymentHash string, attempt *models.PaymentAttempt) error
}

type Request struct {
	PaymentHash   string
	PaymentSecret string
	// Plan describes the whole payment. Re-planning reuses it with the failed
	// slice's amount.
	Plan planner.Request
}

type Executor struct {
	sender     Sender
	planner    Planner
	classifier Classifier
	journal    Journal
	metrics    *observability.Metrics
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Executor)

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func WithJournal(j Journal) Option {
	return func(e *Executor) { e.journal = j }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

func New(sender Sender, p Planner, c Classifier, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		sender:     sender,
		planner:    p,
		classifier: c,
		metrics:    observability.NewNoopMetrics(),
		tracer:     observability.Tracer(),
		logger:     logger.With("component", "executor"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute plans and runs the payment. The returned payment is always
// non-nil and terminal. A nil error means the full amount settled;
// otherwise the error is a *models.PaymentError wrapping the reason.
//
// Cancelling ctx before the first dispatch aborts cleanly. After that it
// only stops retries: attempts already in flight are awaited to their
// outcome because a committed transfer cannot be recalled.
func (e *Executor) Execute(ctx context.Context, req Request) (*models.Payment, error) {
	ctx, span := e.tracer.Start(ctx, "executor.Execute", trace.WithAttributes(
		attribute.String("payment_hash", req.PaymentHash),
		attribute.Int64("amount_msat", int64(req.Plan.Amount)),
		attribute.String("strategy", string(req.Plan.Strategy)),
	))
	defer span.End()

	r := &run{
		Executor: e,
		req:      req,
		payment: &models.Payment{
			PaymentHash: req.PaymentHash,
			Destination: req.Plan.Destination,
			Amount:      req.Plan.Amount,
			Strategy:    req.Plan.Strategy,
			Status:      constants.PaymentPlanning,
			Attempts:    []*models.PaymentAttempt{},
			CreatedAt:   e.now(),
		},
		events:   make(chan outcome),
		excludes: make(map[string][]models.ChannelKey),
		nextPart: 1,
		groupID:  uint64(e.now().UnixNano()),
	}

	err := r.start(ctx)
	if err == nil {
		r.loop(ctx)
		err = r.finish()
	} else {
		r.fail(err)
	}

	e.metrics.PaymentFinished(ctx, r.payment.Strategy, r.payment.Status)
	span.SetAttributes(attribute.String("status", string(r.payment.Status)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, models.ErrorCode(err))
		return r.payment, &models.PaymentError{Err: err, Payment: r.payment}
	}
	return r.payment, nil
}

type outcome struct {
	attempt  *models.PaymentAttempt
	result   models.SendResult
	err      error
	duration time.Duration
}

// run is the state of one Execute call.
type run struct {
	*Executor
	req     Request
	payment *models.Payment

	events   chan outcome
	inflight int
	// Part ids start at 1: the node reserves partid 0 for single-part
	// payments and refuses it while other parts are pending.
	nextPart uint64
	groupID  uint64
	// cause is set once the payment is abandoned. No retries follow.
	cause    error
	// excludes holds, per attempt, the channels its lineage must avoid.
	excludes map[string][]models.ChannelKey
}

func (r *run) start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrPaymentCancelled, err)
	}

	parts, err := r.planner.Plan(r.req.Plan)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrPaymentCancelled, err)
	}

	r.payment.Status = constants.PaymentInFlight
	r.logger.Info("dispatching payment",
		"payment_hash", r.payment.PaymentHash,
		"amount_msat", uint64(r.payment.Amount),
		"strategy", r.payment.Strategy,
		"parts", len(parts),
	)
	for _, part := range parts {
		r.dispatch(ctx, part, 0, nil)
	}
	return nil
}

func (r *run) loop(ctx context.Context) {
	for r.inflight > 0 {
		o := <-r.events
		r.inflight--
		r.handle(ctx, o)
	}
}

func (r *run) dispatch(ctx context.Context, part planner.Part, retry int, exclude []models.ChannelKey) {
	a := &models.PaymentAttempt{
		ID:        uuid.NewString(),
		PartID:    r.nextPart,
		Route:     part.Route,
		Amount:    part.Amount,
		Status:    constants.AttemptPending,
		Retry:     retry,
		StartedAt: r.now(),
	}
	r.nextPart++
	r.payment.Attempts = append(r.payment.Attempts, a)
	r.excludes[a.ID] = exclude

	send := models.SendRequest{
		PaymentHash:   r.req.PaymentHash,
		PaymentSecret: r.req.PaymentSecret,
		Route:         a.Route,
		PartID:        a.PartID,
		GroupID:       r.groupID,
		TotalAmount:   r.payment.Amount,
	}

	// In-flight attempts outlive the caller's cancellation.
	sendCtx := context.WithoutCancel(ctx)
	a.Status = constants.AttemptInFlight
	r.inflight++

	if r.journal != nil {
		record := *a
		if err := r.journal.AppendAttempt(sendCtx, r.payment.PaymentHash, &record); err != nil {
			r.logger.Warn("failed to journal attempt",
				"payment_hash", r.payment.PaymentHash,
				"attempt", a.ID,
				"error", err,
			)
		}
	}

	r.logger.Debug("attempt dispatched",
		"payment_hash", r.payment.PaymentHash,
		"attempt", a.ID,
		"partid", a.PartID,
		"amount_msat", uint64(a.Amount),
		"route", a.Route.String(),
		"retry", retry,
	)

	go func() {
		sendCtx, span := r.tracer.Start(sendCtx, "executor.attempt", trace.WithAttributes(
			attribute.String("attempt", a.ID),
			attribute.Int64("partid", int64(send.PartID)),
			attribute.Int("hops", len(send.Route.Hops)),
		))
		defer span.End()

		started := time.Now()
		res, err := r.sender.SendAndAwait(sendCtx, send)
		if err != nil {
			span.RecordError(err)
		}
		r.events <- outcome{attempt: a, result: res, err: err, duration: time.Since(started)}
	}()
}

func (r *run) handle(ctx context.Context, o outcome) {
	a := o.attempt

	switch {
	case o.err != nil:
		r.logger.Error("attempt outcome unknown",
			"payment_hash", r.payment.PaymentHash,
			"attempt", a.ID,
			"error", o.err,
		)
		r.abandon(fmt.Errorf("attempt %d outcome unknown: %w", a.PartID, o.err))
		return

	case o.result.Settled:
		a.Status = constants.AttemptSettled
		a.FinishedAt = r.now()
		r.metrics.AttemptFinished(ctx, a.Status, a.Retry, o.duration)
		r.logger.Debug("attempt settled",
			"payment_hash", r.payment.PaymentHash,
			"attempt", a.ID,
			"amount_msat", uint64(a.Amount),
		)
		return
	}

	report := r.normalize(a, o.result.Failure)
	a.Status = constants.AttemptFailed
	a.Failure = &report
	a.FinishedAt = r.now()
	r.metrics.AttemptFinished(ctx, a.Status, a.Retry, o.duration)

	decision := r.classifier.Classify(report, a.Retry)
	r.logger.Info("attempt failed",
		"payment_hash", r.payment.PaymentHash,
		"attempt", a.ID,
		"reason", report.Reason,
		"hop", report.HopIndex,
		"channel", report.Channel.String(),
		"verdict", decision.Verdict.String(),
	)

	if decision.Verdict == classifier.Abandon {
		r.abandon(decision.Err)
		return
	}
	if r.cause != nil {
		return
	}
	if err := ctx.Err(); err != nil {
		r.abandon(fmt.Errorf("%w: %v", models.ErrPaymentCancelled, err))
		return
	}

	exclude := append([]models.ChannelKey(nil), r.excludes[a.ID]...)
	if decision.Exclude != nil {
		exclude = append(exclude, *decision.Exclude)
	}
	parts, err := r.replan(a.Amount, exclude)
	if err != nil {
		r.abandon(fmt.Errorf("re-planning %v after %s: %w", a.Amount, report.Reason, err))
		return
	}
	for _, part := range parts {
		r.dispatch(ctx, part, a.Retry+1, exclude)
	}
}

// normalize fills in what the host left out of a failure, using the hop the
// failure points at.
func (r *run) normalize(a *models.PaymentAttempt, f *models.FailureReport) models.FailureReport {
	var report models.FailureReport
	if f != nil {
		report = *f
	} else {
		report = models.FailureReport{Reason: constants.ReasonUnknown, HopIndex: -1}
	}
	if report.Reason == "" {
		report.Reason = constants.ReasonUnknown
	}

	hops := a.Route.Hops
	if report.HopIndex >= 0 && report.HopIndex < len(hops) {
		hop := hops[report.HopIndex]
		if report.Channel.SCID == "" {
			report.Channel = hop.Key()
		}
		if report.Amount == 0 {
			report.Amount = hop.Amount
		}
	}
	return report
}

// replan asks for a new plan for amt while every attempt that is in flight
// or settled keeps its liquidity reserved.
func (r *run) replan(amt lnwire.MilliSatoshi, exclude []models.ChannelKey) ([]planner.Part, error) {
	req := r.req.Plan
	req.Amount = amt
	req.Constraints = req.Constraints.Excluding(exclude...)
	req.Reserved = nil

	var committed lnwire.MilliSatoshi
	for _, a := range r.payment.Attempts {
		if a.Status == constants.AttemptInFlight || a.Status == constants.AttemptSettled {
			req.Reserved = append(req.Reserved, a.Route)
			committed += a.Route.Fee
		}
	}

	if limit := req.Constraints.MaxFee; limit > 0 {
		if committed >= limit {
			return nil, fmt.Errorf("%w: fee budget of %v spent", models.ErrNoRouteFound, limit)
		}
		req.Constraints.MaxFee = limit - committed
	}
	return r.planner.Plan(req)
}

func (r *run) abandon(err error) {
	if r.cause != nil {
		return
	}
	r.cause = err
	r.payment.Error = err.Error()
	r.logger.Warn("payment abandoned",
		"payment_hash", r.payment.PaymentHash,
		"inflight", r.inflight,
		"error", err,
	)
}

// fail ends a payment that never dispatched anything.
func (r *run) fail(err error) {
	r.payment.Status = constants.PaymentFailed
	r.payment.Error = err.Error()
	r.payment.CompletedAt = r.now()
	r.logger.Info("payment not started",
		"payment_hash", r.payment.PaymentHash,
		"error", err,
	)
}

// finish derives the terminal status once no attempt is outstanding. Success
// requires the full amount settled. Anything settled or of unknown outcome
// without full settlement is reported as stuck.
func (r *run) finish() error {
	p := r.payment
	p.CompletedAt = r.now()

	settled := p.SettledAmount()
	unknown := false
	for _, a := range p.Attempts {
		if a.Status == constants.AttemptInFlight {
			unknown = true
		}
	}

	cause := r.cause
	if cause == nil && settled != p.Amount {
		cause = fmt.Errorf("%w: settled %v of %v", models.ErrNoRouteFound, settled, p.Amount)
	}

	switch {
	case cause == nil && !unknown:
		p.Status = constants.PaymentSucceeded
		p.Error = ""
		r.logger.Info("payment succeeded",
			"payment_hash", p.PaymentHash,
			"amount_msat", uint64(p.Amount),
			"fee_msat", uint64(p.SentAmount()-settled),
			"attempts", len(p.Attempts),
		)
		return nil

	case settled > 0 || unknown:
		p.Status = constants.PaymentPartiallySettled
		err := fmt.Errorf("%w: %v of %v settled: %w", models.ErrPartialSettlementStuck, settled, p.Amount, cause)
		if errors.Is(cause, models.ErrPartialSettlementStuck) {
			err = cause
		}
		p.Error = err.Error()
		return err

	default:
		p.Status = constants.PaymentFailed
		p.Error = cause.Error()
		return cause
	}
}

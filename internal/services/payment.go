package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/mochaeng/barq/internal/config"
	"github.com/mochaeng/barq/internal/constants"
	"github.com/mochaeng/barq/internal/executor"
	"github.com/mochaeng/barq/internal/graph"
	"github.com/mochaeng/barq/internal/host"
	"github.com/mochaeng/barq/internal/models"
	"github.com/mochaeng/barq/internal/planner"
	"github.com/mochaeng/barq/internal/routing"
	"github.com/mochaeng/barq/internal/store"
)

type PaymentService struct {
	host     host.Host
	view     *graph.View
	graph    *GraphRefresher
	executor *executor.Executor
	store    store.PaymentStore
	config   *config.Config
	logger   *slog.Logger
}

// Pay decodes the invoice, resolves the amount, and runs the payment to a
// terminal status. The finished payment is archived whatever the outcome.
func (p *PaymentService) Pay(ctx context.Context, req models.PayRequest) (*models.Payment, error) {
	strategy, err := p.strategy(req.Strategy)
	if err != nil {
		return nil, err
	}
	if req.Bolt11 == "" {
		return nil, fmt.Errorf("%w: bolt11 is required", models.ErrInvalidRequest)
	}

	inv, err := p.host.DecodePay(ctx, req.Bolt11)
	if err != nil {
		if errors.Is(err, host.ErrInvalidInvoice) {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
		}
		return nil, fmt.Errorf("failed to decode invoice: %w", err)
	}

	amount, err := resolveAmount(inv, req.Amount, strategy)
	if err != nil {
		return nil, err
	}

	if prev, err := p.store.GetPayment(ctx, inv.PaymentHash); err == nil {
		switch prev.Status {
		case constants.PaymentSucceeded:
			return prev, &models.PaymentError{
				Err:     fmt.Errorf("%w: invoice %s already paid", models.ErrDestinationRejected, inv.PaymentHash),
				Payment: prev,
			}
		case constants.PaymentPartiallySettled:
			return prev, &models.PaymentError{
				Err:     fmt.Errorf("%w: earlier attempt left parts settled", models.ErrPartialSettlementStuck),
				Payment: prev,
			}
		}
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up payment: %w", err)
	}

	if err := p.store.Acquire(ctx, inv.PaymentHash); err != nil {
		return nil, err
	}
	defer func() {
		if err := p.store.Release(context.WithoutCancel(ctx), inv.PaymentHash); err != nil {
			p.logger.Error("failed to release payment lock", "payment_hash", inv.PaymentHash, "error", err)
		}
	}()

	if err := p.graph.EnsureFresh(ctx); err != nil {
		return nil, fmt.Errorf("failed to refresh graph: %w", err)
	}
	self, err := p.host.GetInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get node info: %w", err)
	}

	cons := p.constraints(amount, req.MaxFee, req.MaxHops, req.MaxDelay)
	if inv.MinFinalCLTV > 0 {
		cons.FinalCLTV = inv.MinFinalCLTV
	}

	payment, err := p.executor.Execute(ctx, executor.Request{
		PaymentHash:   inv.PaymentHash,
		PaymentSecret: inv.PaymentSecret,
		Plan: planner.Request{
			Source:      self.ID,
			Destination: inv.Destination,
			Amount:      amount,
			Strategy:    strategy,
			Constraints: cons,
			Hints:       host.HintChannels(inv.Destination, inv.RouteHints, amount),
			MaxParts:    req.MaxParts,
		},
	})

	if serr := p.store.SavePayment(context.WithoutCancel(ctx), payment); serr != nil {
		p.logger.Error("failed to archive payment", "payment_hash", payment.PaymentHash, "error", serr)
	}
	return payment, err
}

// resolveAmount picks the amount to deliver. An explicit amount may exceed
// the invoice amount but never undercut it.
func resolveAmount(inv models.Invoice, explicit *lnwire.MilliSatoshi, strategy constants.Strategy) (lnwire.MilliSatoshi, error) {
	if explicit != nil && *explicit > 0 {
		if inv.Amount != nil && *explicit < *inv.Amount {
			return 0, fmt.Errorf("%w: %v is below the invoice amount %v", models.ErrInvalidAmount, *explicit, *inv.Amount)
		}
		return *explicit, nil
	}
	if inv.Amount != nil && *inv.Amount > 0 {
		return *inv.Amount, nil
	}
	if strategy == constants.StrategyProbabilistic {
		return 0, fmt.Errorf("%w: probabilistic scoring needs an explicit amount: %w",
			models.ErrStrategyPreconditionViolated, models.ErrAmountRequired)
	}
	return 0, fmt.Errorf("%w: invoice carries no amount", models.ErrAmountRequired)
}

// RouteInfo previews the routes a payment of req.Amount would consider.
func (p *PaymentService) RouteInfo(ctx context.Context, req models.RouteInfoRequest) ([]models.Route, error) {
	strategy, err := p.strategy(req.Strategy)
	if err != nil {
		return nil, err
	}
	if err := host.ValidNodeID(req.Destination); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	if err := p.graph.EnsureFresh(ctx); err != nil {
		return nil, fmt.Errorf("failed to refresh graph: %w", err)
	}
	self, err := p.host.GetInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get node info: %w", err)
	}

	cons := p.constraints(req.Amount, nil, 0, 0)
	if req.CLTV > 0 {
		cons.FinalCLTV = req.CLTV
	}
	routes, err := routing.FindRoutes(strategy, p.view.Snapshot(), routing.Request{
		Source:      self.ID,
		Destination: req.Destination,
		Amount:      req.Amount,
		Constraints: cons,
	})
	if err != nil {
		return nil, err
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("%w: to %s for %v", models.ErrNoRouteFound, req.Destination, req.Amount)
	}
	return routes, nil
}

func (p *PaymentService) GetPayment(ctx context.Context, paymentHash string) (*models.Payment, error) {
	return p.store.GetPayment(ctx, paymentHash)
}

func (p *PaymentService) strategy(name string) (constants.Strategy, error) {
	if name == "" {
		return p.config.DefaultStrategy, nil
	}
	strategy, err := constants.ParseStrategy(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrUnknownStrategy, err)
	}
	return strategy, nil
}

func (p *PaymentService) constraints(amount lnwire.MilliSatoshi, maxFee *lnwire.MilliSatoshi,
	maxHops int, maxDelay uint32) routing.Constraints {

	cons := routing.Constraints{
		MaxHops:       p.config.MaxHops,
		MaxDelay:      maxDelay,
		FinalCLTV:     p.config.FinalCLTVDelta,
		MaxCandidates: p.config.MaxCandidates,
	}
	if maxHops > 0 {
		cons.MaxHops = maxHops
	}
	switch {
	case maxFee != nil:
		cons.MaxFee = *maxFee
	case p.config.MaxFeePPM > 0:
		cons.MaxFee = amount * lnwire.MilliSatoshi(p.config.MaxFeePPM) / 1_000_000
	}
	return cons.WithDefaults()
}

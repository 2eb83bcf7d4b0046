package planner

import (
	"fmt"
	"log/slog"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/mochaeng/barq/internal/constants"
	"github.com/mochaeng/barq/internal/graph"
	"github.com/mochaeng/barq/internal/models"
	"github.com/mochaeng/barq/internal/routing"
)

const (
	DefaultMaxParts      = 16
	DefaultMinPartAmount = lnwire.MilliSatoshi(10_000)
)

type Config struct {
	MaxParts      int
	MinPartAmount lnwire.MilliSatoshi
}

type Request struct {
	Source      models.NodeID
	Destination models.NodeID
	Amount      lnwire.MilliSatoshi
	Strategy    constants.Strategy
	Constraints routing.Constraints
	// Hints are channels known only from the invoice.
	Hints []models.Channel
	// Reserved routes still hold liquidity (in-flight or settled attempts of
	// the same payment) and are subtracted from the snapshot.
	Reserved []models.Route
	MaxParts int
}

// Part is one (route, amount) attempt. Amount is what the route delivers.
type Part struct {
	Route  models.Route        `json:"route"`
	Amount lnwire.MilliSatoshi `json:"amount_msat"`
}

type Planner struct {
	graph  *graph.View
	config Config
	logger *slog.Logger
}

func New(view *graph.View, config Config, logger *slog.Logger) *Planner {
	if config.MaxParts <= 0 {
		config.MaxParts = DefaultMaxParts
	}
	if config.MinPartAmount == 0 {
		config.MinPartAmount = DefaultMinPartAmount
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		graph:  view,
		config: config,
		logger: logger.With("component", "planner"),
	}
}

// Plan covers req.Amount exactly with one or more parts on a fresh snapshot,
// or fails with models.ErrNoRouteFound. Underpaying is never an option.
func (p *Planner) Plan(req Request) ([]Part, error) {
	return p.PlanOn(p.graph.Snapshot(), req)
}

func (p *Planner) PlanOn(snap *graph.Snapshot, req Request) ([]Part, error) {
	req.Constraints = req.Constraints.WithDefaults()
	snap = snap.WithChannels(req.Hints)
	for _, r := range req.Reserved {
		snap = snap.WithReserved(r.Hops)
	}

	routes, err := routing.FindRoutes(req.Strategy, snap, p.routeRequest(req, req.Amount, req.Constraints))
	if err != nil {
		return nil, err
	}
	// Strategies only emit routes whose every hop carries the full amount, so
	// the best route's bottleneck covers it.
	if len(routes) > 0 {
		return []Part{{Route: routes[0], Amount: req.Amount}}, nil
	}

	parts, err := p.split(snap, req)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("split payment",
		"destination", req.Destination,
		"amount_msat", uint64(req.Amount),
		"parts", len(parts),
		"strategy", req.Strategy,
	)
	return parts, nil
}

func (p *Planner) split(snap *graph.Snapshot, req Request) ([]Part, error) {
	maxParts := p.config.MaxParts
	if req.MaxParts > 0 {
		maxParts = req.MaxParts
	}

	remaining := req.Amount
	var spent lnwire.MilliSatoshi
	var parts []Part
	for remaining > 0 {
		if len(parts) >= maxParts {
			return nil, fmt.Errorf("%w: %v of %v unplaced after %d parts",
				models.ErrNoRouteFound, remaining, req.Amount, len(parts))
		}

		b := budget{limited: req.Constraints.MaxFee > 0}
		if b.limited {
			if spent >= req.Constraints.MaxFee {
				b.left = 0
			} else {
				b.left = req.Constraints.MaxFee - spent
			}
		}

		part, ok, err := p.nextPart(snap, req, remaining, b)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %v of %v unplaced", models.ErrNoRouteFound, remaining, req.Amount)
		}

		parts = append(parts, part)
		snap = snap.WithReserved(part.Route.Hops)
		remaining -= part.Amount
		spent += part.Route.Fee
	}
	return parts, nil
}

type budget struct {
	limited bool
	left    lnwire.MilliSatoshi
}

func (b budget) allows(fee lnwire.MilliSatoshi) bool {
	return !b.limited || fee <= b.left
}

// nextPart halves the candidate amount until the strategy finds some route, then
// stretches the amount on that route as far as its hops allow.
func (p *Planner) nextPart(snap *graph.Snapshot, req Request, remaining lnwire.MilliSatoshi,
	b budget) (Part, bool, error) {

	cons := req.Constraints
	cons.MaxFee = 0
	if b.limited && b.left > 0 {
		cons.MaxFee = b.left
	}

	for try := remaining; try > 0; try /= 2 {
		if try < remaining && try < p.config.MinPartAmount {
			break
		}

		routes, err := routing.FindRoutes(req.Strategy, snap, p.routeRequest(req, try, cons))
		if err != nil {
			return Part{}, false, err
		}

		for _, r := range routes {
			// No hop can forward more than its bottleneck, so neither can the route.
			hi := remaining
			if bn := routing.Bottleneck(snap, r); bn < hi {
				hi = bn
			}
			if hi < try {
				hi = try
			}
			amt := p.maxDeliverable(snap, r.Channels(), try, hi, cons, b)
			if amt < remaining && amt < p.config.MinPartAmount {
				continue
			}
			route, err := routing.BuildRoute(snap, r.Channels(), amt, cons.FinalCLTV)
			if err != nil || !cons.Allows(route) || !b.allows(route.Fee) {
				continue
			}
			return Part{Route: route, Amount: amt}, true, nil
		}
	}
	return Part{}, false, nil
}

// maxDeliverable binary searches the largest amount in [lo, hi] the path can
// deliver. lo is known to fit.
func (p *Planner) maxDeliverable(snap *graph.Snapshot, path []models.ChannelKey, lo, hi lnwire.MilliSatoshi,
	cons routing.Constraints, b budget) lnwire.MilliSatoshi {

	fits := func(amt lnwire.MilliSatoshi) bool {
		route, err := routing.BuildRoute(snap, path, amt, cons.FinalCLTV)
		return err == nil && cons.Allows(route) && b.allows(route.Fee)
	}
	if fits(hi) {
		return hi
	}
	for lo+1 < hi {
		mid := lo + (hi-lo)/2
		if fits(mid) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

func (p *Planner) routeRequest(req Request, amt lnwire.MilliSatoshi, cons routing.Constraints) routing.Request {
	return routing.Request{
		Source:      req.Source,
		Destination: req.Destination,
		Amount:      amt,
		Constraints: cons,
	}
}

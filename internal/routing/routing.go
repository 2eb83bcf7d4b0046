// Package routing computes candidate routes over a graph snapshot.
//
// The set of strategies is closed: deterministic shortest-cost search,
// probabilistic success scoring, and a greedy walk. All three share one
// contract, FindRoutes, and every route they emit is feasible against the
// snapshot it was computed on: no hop below a channel's minimum HTLC, above
// its maximum, or above its believed liquidity.
package routing

import (
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/mochaeng/barq/internal/constants"
	"github.com/mochaeng/barq/internal/graph"
	"github.com/mochaeng/barq/internal/models"
)

const (
	DefaultMaxHops       = 20
	DefaultMaxCandidates = 3
	DefaultFinalCLTV     = 18
	DefaultMaxDelay      = 2016
)

var ErrSelfPayment = errors.New("source and destination are the same node")

// Constraints bound the routes a strategy may return. A zero MaxFee means no
// fee limit.
type Constraints struct {
	MaxFee        lnwire.MilliSatoshi
	MaxHops       int
	MaxDelay      uint32
	FinalCLTV     uint32
	MaxCandidates int
	Exclude       map[models.ChannelKey]struct{}
}

func (c Constraints) WithDefaults() Constraints {
	if c.MaxHops <= 0 {
		c.MaxHops = DefaultMaxHops
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.FinalCLTV == 0 {
		c.FinalCLTV = DefaultFinalCLTV
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = DefaultMaxCandidates
	}
	return c
}

// Excluding returns a copy that additionally excludes keys.
func (c Constraints) Excluding(keys ...models.ChannelKey) Constraints {
	exclude := make(map[models.ChannelKey]struct{}, len(c.Exclude)+len(keys))
	for key := range c.Exclude {
		exclude[key] = struct{}{}
	}
	for _, key := range keys {
		exclude[key] = struct{}{}
	}
	c.Exclude = exclude
	return c
}

func (c Constraints) excluded(key models.ChannelKey) bool {
	_, ok := c.Exclude[key]
	return ok
}

// Allows checks the route-level limits. Per-hop limits are enforced when the
// route is built.
func (c Constraints) Allows(r models.Route) bool {
	if len(r.Hops) == 0 || len(r.Hops) > c.MaxHops {
		return false
	}
	if c.MaxFee > 0 && r.Fee > c.MaxFee {
		return false
	}
	if c.MaxDelay > 0 && r.Hops[0].Delay > c.MaxDelay {
		return false
	}
	for _, h := range r.Hops {
		if c.excluded(h.Key()) {
			return false
		}
	}
	return true
}

type Request struct {
	Source      models.NodeID
	Destination models.NodeID
	Amount      lnwire.MilliSatoshi
	Constraints Constraints
}

type finder func(snap *graph.Snapshot, req Request) []models.Route

// FindRoutes runs strategy and returns routes best-first. An empty result
// with a nil error means no route satisfies the amount and constraints.
func FindRoutes(strategy constants.Strategy, snap *graph.Snapshot, req Request) ([]models.Route, error) {
	var find finder
	switch strategy {
	case constants.StrategyDeterministic:
		find = findDeterministic
	case constants.StrategyProbabilistic:
		if req.Amount == 0 {
			return nil, fmt.Errorf("%w: probabilistic scoring needs an explicit amount: %w",
				models.ErrStrategyPreconditionViolated, models.ErrAmountRequired)
		}
		find = findProbabilistic
	case constants.StrategyGreedy:
		find = findGreedy
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownStrategy, strategy)
	}

	if req.Amount == 0 {
		return nil, models.ErrAmountRequired
	}
	if req.Source == req.Destination {
		return nil, ErrSelfPayment
	}
	if !snap.HasNode(req.Source) || !snap.HasNode(req.Destination) {
		return nil, nil
	}

	req.Constraints = req.Constraints.WithDefaults()
	return find(snap, req), nil
}

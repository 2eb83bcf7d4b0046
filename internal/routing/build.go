package routing

import (
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/mochaeng/barq/internal/graph"
	"github.com/mochaeng/barq/internal/models"
)

var (
	ErrEmptyPath             = errors.New("empty path")
	ErrUnknownChannel        = errors.New("channel not in snapshot")
	ErrBrokenPath            = errors.New("path is not contiguous")
	ErrBelowMinimum          = errors.New("amount below channel minimum")
	ErrAboveMaximum          = errors.New("amount above channel maximum")
	ErrInsufficientLiquidity = errors.New("amount above believed liquidity")
	ErrFeeOverflow           = errors.New("fee overflows amount")
)

// BuildRoute computes hop amounts, fees and delays for delivering amount over
// path, walking backward from the destination. Each intermediate node charges
// the fee of the channel it forwards over; the source pays no fee to itself.
func BuildRoute(snap *graph.Snapshot, path []models.ChannelKey, amount lnwire.MilliSatoshi,
	finalCLTV uint32) (models.Route, error) {

	if len(path) == 0 {
		return models.Route{}, ErrEmptyPath
	}

	chans := make([]models.Channel, len(path))
	for i, key := range path {
		ch, ok := snap.Channel(key)
		if !ok {
			return models.Route{}, fmt.Errorf("%w: %s", ErrUnknownChannel, key)
		}
		if i > 0 && chans[i-1].Destination != ch.Source {
			return models.Route{}, fmt.Errorf("%w: hop %d", ErrBrokenPath, i)
		}
		chans[i] = ch
	}

	hops := make([]models.Hop, len(chans))
	forward := amount
	delay := finalCLTV
	probability := 1.0
	for i := len(chans) - 1; i >= 0; i-- {
		ch := chans[i]
		if err := checkHop(snap, ch, forward); err != nil {
			return models.Route{}, fmt.Errorf("hop %d (%s): %w", i, ch.Key(), err)
		}

		hops[i] = models.Hop{
			ID:        ch.Destination,
			From:      ch.Source,
			Channel:   ch.SCID,
			Direction: ch.Direction(),
			Amount:    forward,
			Fee:       forward - amount,
			Delay:     delay,
		}
		probability *= successProbability(snap.Liquidity(ch.Key()), forward)

		if i > 0 {
			next, ok := ch.Forward(forward)
			if !ok {
				return models.Route{}, fmt.Errorf("hop %d (%s): %w", i, ch.Key(), ErrFeeOverflow)
			}
			forward = next
			delay += ch.Delay
		}
	}

	return models.Route{
		Hops:        hops,
		Amount:      amount,
		Fee:         hops[0].Amount - amount,
		Probability: probability,
	}, nil
}

func checkHop(snap *graph.Snapshot, ch models.Channel, forward lnwire.MilliSatoshi) error {
	switch {
	case forward < ch.MinHTLC:
		return fmt.Errorf("%w: %v < %v", ErrBelowMinimum, forward, ch.MinHTLC)
	case forward > ch.MaxForward():
		return fmt.Errorf("%w: %v > %v", ErrAboveMaximum, forward, ch.MaxForward())
	case forward > snap.Liquidity(ch.Key()):
		return fmt.Errorf("%w: %v > %v", ErrInsufficientLiquidity, forward, snap.Liquidity(ch.Key()))
	}
	return nil
}

func feasible(snap *graph.Snapshot, ch models.Channel, forward lnwire.MilliSatoshi) bool {
	return checkHop(snap, ch, forward) == nil
}

// Bottleneck is the smallest amount any hop of the route could still carry.
func Bottleneck(snap *graph.Snapshot, r models.Route) lnwire.MilliSatoshi {
	var bottleneck lnwire.MilliSatoshi
	for i, h := range r.Hops {
		ch, ok := snap.Channel(h.Key())
		if !ok {
			return 0
		}
		limit := ch.MaxForward()
		if liq := snap.Liquidity(h.Key()); liq < limit {
			limit = liq
		}
		if i == 0 || limit < bottleneck {
			bottleneck = limit
		}
	}
	return bottleneck
}

// successProbability assumes the channel's liquidity is uniformly
// distributed in [0, believed].
func successProbability(believed, amt lnwire.MilliSatoshi) float64 {
	if amt > believed {
		return 0
	}
	return float64(believed+1-amt) / float64(believed+1)
}

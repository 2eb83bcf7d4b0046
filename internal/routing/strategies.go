package routing

import (
	"math"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/mochaeng/barq/internal/graph"
	"github.com/mochaeng/barq/internal/models"
)

// hopPenalty is the msat-equivalent cost of one extra hop in the
// deterministic cost function.
const hopPenalty = 1_000

func findDeterministic(snap *graph.Snapshot, req Request) []models.Route {
	weight := func(_ models.Channel, _, fee, _ lnwire.MilliSatoshi) float64 {
		return float64(fee) + hopPenalty
	}
	return candidates(snap, req, weight)
}

// findProbabilistic prices each hop as its fee plus the amount weighted by
// the negative log of its success probability, so the search maximises the
// route's success probability for this amount and only then looks at fees.
func findProbabilistic(snap *graph.Snapshot, req Request) []models.Route {
	amount := float64(req.Amount)
	weight := func(_ models.Channel, forward, fee, liquidity lnwire.MilliSatoshi) float64 {
		p := successProbability(liquidity, forward)
		if p <= 0 {
			return math.Inf(1)
		}
		return float64(fee) - amount*math.Log(p)
	}
	return candidates(snap, req, weight)
}

// findGreedy walks forward from the source taking the locally cheapest
// feasible channel, preferring one that reaches the destination directly.
// It never backtracks, so it can miss routes the deterministic search finds.
func findGreedy(snap *graph.Snapshot, req Request) []models.Route {
	cons := req.Constraints
	visited := map[models.NodeID]bool{req.Source: true}
	var path []models.ChannelKey

	for cur := req.Source; cur != req.Destination; {
		if len(path) >= cons.MaxHops {
			return nil
		}

		var pick *models.Channel
		direct := false
		for _, ch := range snap.Outgoing(cur) {
			if visited[ch.Destination] || cons.excluded(ch.Key()) || !feasible(snap, ch, req.Amount) {
				continue
			}
			isDirect := ch.Destination == req.Destination
			switch {
			case pick == nil:
			case isDirect && !direct:
			case isDirect == direct && ch.Fee(req.Amount) < pick.Fee(req.Amount):
			default:
				continue
			}
			c := ch
			pick = &c
			direct = isDirect
		}
		if pick == nil {
			return nil
		}

		path = append(path, pick.Key())
		visited[pick.Destination] = true
		cur = pick.Destination
	}

	route, err := BuildRoute(snap, path, req.Amount, cons.FinalCLTV)
	if err != nil || !cons.Allows(route) {
		return nil
	}
	return []models.Route{route}
}

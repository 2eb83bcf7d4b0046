package routing

import (
	"container/heap"
	"math"
	"sort"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/mochaeng/barq/internal/graph"
	"github.com/mochaeng/barq/internal/models"
)

// weightFunc prices one hop. forward is the amount sent over ch, fee is what
// ch.Source charges for it (zero for the payer's own channel).
type weightFunc func(ch models.Channel, forward, fee, liquidity lnwire.MilliSatoshi) float64

// maxLabels bounds the labels kept per node.
const maxLabels = 32

// label is one way to reach the destination from node.
type label struct {
	node    models.NodeID
	forward lnwire.MilliSatoshi
	fee     lnwire.MilliSatoshi
	delay   uint32
	hops    int
	cost    float64
	path    []models.ChannelKey
	prev    *label
	dead    bool
}

// better orders labels by cost, then fewer hops, then lower fee, then the
// lexicographically smaller channel sequence.
func (l *label) better(o *label) bool {
	if l.cost != o.cost {
		return l.cost < o.cost
	}
	if l.hops != o.hops {
		return l.hops < o.hops
	}
	if l.fee != o.fee {
		return l.fee < o.fee
	}
	return pathLess(l.path, o.path)
}

// dominates reports whether l is at least as good as o on every bounded
// quantity, so no route extending o can beat the same route extending l.
func (l *label) dominates(o *label) bool {
	if l.cost > o.cost || l.hops > o.hops || l.fee > o.fee || l.delay > o.delay {
		return false
	}
	if l.cost == o.cost && l.hops == o.hops && l.fee == o.fee && l.delay == o.delay {
		return !pathLess(o.path, l.path)
	}
	return true
}

// visits reports whether node already lies on the label's path.
func (l *label) visits(node models.NodeID) bool {
	for cur := l; cur != nil; cur = cur.prev {
		if cur.node == node {
			return true
		}
	}
	return false
}

func pathLess(a, b []models.ChannelKey) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i].SCID != b[i].SCID {
			return a[i].SCID < b[i].SCID
		}
	}
	return len(a) < len(b)
}

// search is a multi-label Dijkstra run backward from the destination, so the
// amount each hop must forward (delivered amount plus downstream fees) is
// exact when the hop is relaxed. A node keeps every label not dominated on
// cost, hops, fee and delay, so a cheap label that later breaks MaxHops,
// MaxFee or MaxDelay never hides a costlier one that fits. Hop weights are
// non-negative, so the first source label popped is the cheapest route that
// satisfies the constraints.
func search(snap *graph.Snapshot, req Request, weight weightFunc) (models.Route, float64, bool) {
	cons := req.Constraints
	labels := make(map[models.NodeID][]*label)

	start := &label{node: req.Destination, forward: req.Amount, delay: cons.FinalCLTV}
	labels[start.node] = []*label{start}
	pq := labelPQ{start}
	heap.Init(&pq)

	for pq.Len() > 0 {
		l := heap.Pop(&pq).(*label)
		if l.dead {
			continue
		}

		if l.node == req.Source {
			route, err := BuildRoute(snap, l.path, req.Amount, cons.FinalCLTV)
			if err != nil || !cons.Allows(route) {
				continue
			}
			return route, l.cost, true
		}
		if l.hops >= cons.MaxHops {
			continue
		}

		for _, ch := range snap.Incoming(l.node) {
			if l.visits(ch.Source) {
				continue
			}
			next, ok := relax(snap, req, l, ch, weight)
			if !ok {
				continue
			}
			kept, ok := insert(labels[next.node], next)
			labels[next.node] = kept
			if ok {
				heap.Push(&pq, next)
			}
		}
	}

	return models.Route{}, 0, false
}

// insert adds next to a node's label set unless an existing label dominates
// it, dropping the labels next dominates.
func insert(set []*label, next *label) ([]*label, bool) {
	for _, cur := range set {
		if cur.dominates(next) {
			return set, false
		}
	}

	kept := set[:0]
	for _, cur := range set {
		if next.dominates(cur) {
			cur.dead = true
			continue
		}
		kept = append(kept, cur)
	}
	if len(kept) >= maxLabels {
		worst := 0
		for i, cur := range kept {
			if kept[worst].better(cur) {
				worst = i
			}
		}
		if next.better(kept[worst]) {
			kept[worst].dead = true
			kept[worst] = next
			return kept, true
		}
		return kept, false
	}
	return append(kept, next), true
}

func relax(snap *graph.Snapshot, req Request, l *label, ch models.Channel, weight weightFunc) (*label, bool) {
	cons := req.Constraints
	key := ch.Key()
	if cons.excluded(key) || !feasible(snap, ch, l.forward) {
		return nil, false
	}

	next := &label{
		node:    ch.Source,
		forward: l.forward,
		fee:     l.fee,
		delay:   l.delay,
		hops:    l.hops + 1,
		prev:    l,
	}
	var hopFee lnwire.MilliSatoshi
	if ch.Source != req.Source {
		forward, ok := ch.Forward(l.forward)
		if !ok {
			return nil, false
		}
		hopFee = forward - l.forward
		next.forward = forward
		next.fee += hopFee
		next.delay += ch.Delay
	}
	if cons.MaxFee > 0 && next.fee > cons.MaxFee {
		return nil, false
	}
	if cons.MaxDelay > 0 && next.delay > cons.MaxDelay {
		return nil, false
	}

	next.cost = l.cost + weight(ch, l.forward, hopFee, snap.Liquidity(key))
	if math.IsInf(next.cost, 1) || math.IsNaN(next.cost) {
		return nil, false
	}
	next.path = make([]models.ChannelKey, 0, len(l.path)+1)
	next.path = append(next.path, key)
	next.path = append(next.path, l.path...)
	return next, true
}

type candidate struct {
	route models.Route
	cost  float64
}

// candidates returns the best route plus alternatives found by excluding one
// channel of the best route at a time, sorted best-first.
func candidates(snap *graph.Snapshot, req Request, weight weightFunc) []models.Route {
	first, cost, ok := search(snap, req, weight)
	if !ok {
		return nil
	}

	found := []candidate{{route: first, cost: cost}}
	seen := map[string]bool{first.String(): true}
	if req.Constraints.MaxCandidates > 1 {
		for _, key := range first.Channels() {
			alt := req
			alt.Constraints = req.Constraints.Excluding(key)
			r, c, ok := search(snap, alt, weight)
			if !ok || seen[r.String()] {
				continue
			}
			seen[r.String()] = true
			found = append(found, candidate{route: r, cost: c})
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.cost != b.cost {
			return a.cost < b.cost
		}
		if len(a.route.Hops) != len(b.route.Hops) {
			return len(a.route.Hops) < len(b.route.Hops)
		}
		if a.route.Fee != b.route.Fee {
			return a.route.Fee < b.route.Fee
		}
		return pathLess(a.route.Channels(), b.route.Channels())
	})
	if len(found) > req.Constraints.MaxCandidates {
		found = found[:req.Constraints.MaxCandidates]
	}

	routes := make([]models.Route, len(found))
	for i, c := range found {
		routes[i] = c.route
	}
	return routes
}

type labelPQ []*label

func (pq labelPQ) Len() int            { return len(pq) }
func (pq labelPQ) Less(i, j int) bool  { return pq[i].better(pq[j]) }
func (pq labelPQ) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *labelPQ) Push(x interface{}) { *pq = append(*pq, x.(*label)) }

func (pq *labelPQ) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

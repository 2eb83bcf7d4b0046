// Package graph holds the process-wide cached view of the channel graph and
// the belief about how much each directed channel can currently forward.
//
// Planning never reads View directly: it takes a Snapshot, a point-in-time
// copy that later Degrade/Restore/Refresh calls do not touch.
package graph

import (
	"sort"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/mochaeng/barq/internal/models"
)

type View struct {
	mu          sync.RWMutex
	topo        *topology
	beliefs     map[models.ChannelKey]lnwire.MilliSatoshi
	refreshedAt time.Time
	now         func() time.Time
}

type Option func(*View)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(v *View) { v.now = now }
}

func NewView(opts ...Option) *View {
	v := &View{
		topo:    newTopology(),
		beliefs: make(map[models.ChannelKey]lnwire.MilliSatoshi),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Refresh replaces the cached topology wholesale. Every belief is reset to
// the channel's advertised forwarding limit.
func (v *View) Refresh(nodes []models.Node, channels []models.Channel) {
	topo := buildTopology(nodes, channels)
	beliefs := make(map[models.ChannelKey]lnwire.MilliSatoshi, len(topo.channels))
	for key, ch := range topo.channels {
		beliefs[key] = ch.MaxForward()
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.topo = topo
	v.beliefs = beliefs
	v.refreshedAt = v.now()
}

// Snapshot copies the beliefs; the topology is immutable once built and is
// shared.
func (v *View) Snapshot() *Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()

	liquidity := make(map[models.ChannelKey]lnwire.MilliSatoshi, len(v.beliefs))
	for key, amt := range v.beliefs {
		liquidity[key] = amt
	}
	return &Snapshot{
		topo:      v.topo,
		liquidity: liquidity,
	}
}

// Degrade lowers the belief for key after a failed attempt to forward amt.
// The new belief is strictly below amt and never negative. It returns the
// new belief and whether the channel is known.
func (v *View) Degrade(key models.ChannelKey, amt lnwire.MilliSatoshi) (lnwire.MilliSatoshi, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	belief, ok := v.beliefs[key]
	if !ok {
		return 0, false
	}
	if belief > amt {
		belief -= amt
	} else {
		belief = 0
	}
	if amt > 0 && belief >= amt {
		belief = amt - 1
	}
	v.beliefs[key] = belief
	return belief, true
}

// Disable drops the belief for key to zero.
func (v *View) Disable(key models.ChannelKey) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.beliefs[key]; !ok {
		return false
	}
	v.beliefs[key] = 0
	return true
}

// Restore resets the belief for key to the advertised value.
func (v *View) Restore(key models.ChannelKey) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	ch, ok := v.topo.channels[key]
	if !ok {
		return false
	}
	v.beliefs[key] = ch.MaxForward()
	return true
}

func (v *View) Belief(key models.ChannelKey) (lnwire.MilliSatoshi, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	amt, ok := v.beliefs[key]
	return amt, ok
}

func (v *View) RefreshedAt() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.refreshedAt
}

// Stale reports whether the view was never refreshed or is older than maxAge.
func (v *View) Stale(maxAge time.Duration) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.refreshedAt.IsZero() {
		return true
	}
	return maxAge > 0 && v.now().Sub(v.refreshedAt) > maxAge
}

func (v *View) Size() (nodes, channels int) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.topo.nodes), len(v.topo.channels)
}

type topology struct {
	nodes    map[models.NodeID]models.Node
	channels map[models.ChannelKey]models.Channel
	outgoing map[models.NodeID][]models.ChannelKey
	incoming map[models.NodeID][]models.ChannelKey
}

func newTopology() *topology {
	return &topology{
		nodes:    make(map[models.NodeID]models.Node),
		channels: make(map[models.ChannelKey]models.Channel),
		outgoing: make(map[models.NodeID][]models.ChannelKey),
		incoming: make(map[models.NodeID][]models.ChannelKey),
	}
}

func buildTopology(nodes []models.Node, channels []models.Channel) *topology {
	t := newTopology()
	for _, n := range nodes {
		t.nodes[n.ID] = n
	}
	for _, ch := range channels {
		t.add(ch)
	}
	t.sortAdjacency()
	return t
}

// add skips inactive channels and self loops.
func (t *topology) add(ch models.Channel) {
	if !ch.Active || ch.Source == ch.Destination {
		return
	}
	if _, ok := t.nodes[ch.Source]; !ok {
		t.nodes[ch.Source] = models.Node{ID: ch.Source}
	}
	if _, ok := t.nodes[ch.Destination]; !ok {
		t.nodes[ch.Destination] = models.Node{ID: ch.Destination}
	}
	key := ch.Key()
	if _, dup := t.channels[key]; !dup {
		t.outgoing[ch.Source] = append(t.outgoing[ch.Source], key)
		t.incoming[ch.Destination] = append(t.incoming[ch.Destination], key)
	}
	t.channels[key] = ch
}

func (t *topology) sortAdjacency() {
	for _, keys := range t.outgoing {
		sortKeys(keys)
	}
	for _, keys := range t.incoming {
		sortKeys(keys)
	}
}

func (t *topology) clone() *topology {
	c := newTopology()
	for id, n := range t.nodes {
		c.nodes[id] = n
	}
	for key, ch := range t.channels {
		c.channels[key] = ch
	}
	for id, keys := range t.outgoing {
		c.outgoing[id] = append([]models.ChannelKey(nil), keys...)
	}
	for id, keys := range t.incoming {
		c.incoming[id] = append([]models.ChannelKey(nil), keys...)
	}
	return c
}

func sortKeys(keys []models.ChannelKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SCID != keys[j].SCID {
			return keys[i].SCID < keys[j].SCID
		}
		return keys[i].Source < keys[j].Source
	})
}

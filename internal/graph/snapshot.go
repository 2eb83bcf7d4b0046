package graph

import (
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/mochaeng/barq/internal/models"
)

// Snapshot is an immutable point-in-time copy of the view. Derived snapshots
// (WithReserved, WithChannels) are new values; the receiver is never touched.
type Snapshot struct {
	topo      *topology
	liquidity map[models.ChannelKey]lnwire.MilliSatoshi
}

// NewSnapshot builds a standalone snapshot, used by the offline route command
// and tests.
func NewSnapshot(nodes []models.Node, channels []models.Channel) *Snapshot {
	v := NewView()
	v.Refresh(nodes, channels)
	return v.Snapshot()
}

func (s *Snapshot) HasNode(id models.NodeID) bool {
	_, ok := s.topo.nodes[id]
	return ok
}

func (s *Snapshot) Channel(key models.ChannelKey) (models.Channel, bool) {
	ch, ok := s.topo.channels[key]
	return ch, ok
}

// Liquidity is the believed usable amount for the directed channel.
func (s *Snapshot) Liquidity(key models.ChannelKey) lnwire.MilliSatoshi {
	return s.liquidity[key]
}

// Outgoing returns the channels Source==id, sorted by short channel id.
func (s *Snapshot) Outgoing(id models.NodeID) []models.Channel {
	return s.lookup(s.topo.outgoing[id])
}

// Incoming returns the channels Destination==id, sorted by short channel id.
func (s *Snapshot) Incoming(id models.NodeID) []models.Channel {
	return s.lookup(s.topo.incoming[id])
}

func (s *Snapshot) lookup(keys []models.ChannelKey) []models.Channel {
	out := make([]models.Channel, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.topo.channels[key])
	}
	return out
}

// WithReserved returns a copy where the liquidity used by the given hops is
// no longer available. The planner uses it so successive parts of a split
// do not oversubscribe the same channel.
func (s *Snapshot) WithReserved(hops []models.Hop) *Snapshot {
	liquidity := s.copyLiquidity()
	for _, h := range hops {
		key := h.Key()
		if liquidity[key] > h.Amount {
			liquidity[key] -= h.Amount
		} else {
			liquidity[key] = 0
		}
	}
	return &Snapshot{topo: s.topo, liquidity: liquidity}
}

// WithChannels overlays extra channels, such as invoice route hints, that
// the network graph does not advertise. Their liquidity is their MaxForward.
// A channel the snapshot already knows keeps its belief.
func (s *Snapshot) WithChannels(extra []models.Channel) *Snapshot {
	if len(extra) == 0 {
		return s
	}
	topo := s.topo.clone()
	liquidity := s.copyLiquidity()
	for _, ch := range extra {
		if _, known := s.topo.channels[ch.Key()]; known {
			continue
		}
		topo.add(ch)
		if ch.Active && ch.Source != ch.Destination {
			liquidity[ch.Key()] = ch.MaxForward()
		}
	}
	topo.sortAdjacency()
	return &Snapshot{topo: topo, liquidity: liquidity}
}

func (s *Snapshot) copyLiquidity() map[models.ChannelKey]lnwire.MilliSatoshi {
	liquidity := make(map[models.ChannelKey]lnwire.MilliSatoshi, len(s.liquidity))
	for key, amt := range s.liquidity {
		liquidity[key] = amt
	}
	return liquidity
}

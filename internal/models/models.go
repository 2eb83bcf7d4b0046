package models

import (
	"fmt"
	"math"
	"math/bits"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/mochaeng/barq/internal/constants"
)

// NodeID is the hex encoded compressed public key of a node.
type NodeID string

type Node struct {
	ID       NodeID `json:"nodeid"`
	Alias    string `json:"alias,omitempty"`
	Features string `json:"features,omitempty"`
}

type NodeInfo struct {
	ID          NodeID `json:"id"`
	Alias       string `json:"alias,omitempty"`
	BlockHeight uint32 `json:"blockheight"`
}

// ChannelKey identifies one direction of a channel: the half whose fee policy
// belongs to Source.
type ChannelKey struct {
	SCID   string `json:"short_channel_id"`
	Source NodeID `json:"source"`
}

func (k ChannelKey) String() string {
	src := string(k.Source)
	if len(src) > 8 {
		src = src[:8]
	}
	return fmt.Sprintf("%s@%s", k.SCID, src)
}

// Channel is a directed channel half as advertised by the network.
type Channel struct {
	SCID        string              `json:"short_channel_id"`
	Source      NodeID              `json:"source"`
	Destination NodeID              `json:"destination"`
	Capacity    lnwire.MilliSatoshi `json:"amount_msat"`
	BaseFee     lnwire.MilliSatoshi `json:"base_fee_millisatoshi"`
	FeePPM      uint64              `json:"fee_per_millionth"`
	MinHTLC     lnwire.MilliSatoshi `json:"htlc_minimum_msat"`
	MaxHTLC     lnwire.MilliSatoshi `json:"htlc_maximum_msat"`
	Delay       uint32              `json:"delay"`
	Active      bool                `json:"active"`
}

func (c Channel) Key() ChannelKey {
	return ChannelKey{SCID: c.SCID, Source: c.Source}
}

// Fee is the amount Source charges to forward amt over this channel. A fee
// that does not fit in 64 bits saturates at math.MaxUint64.
func (c Channel) Fee(amt lnwire.MilliSatoshi) lnwire.MilliSatoshi {
	hi, lo := bits.Mul64(uint64(amt), c.FeePPM)
	if hi >= 1_000_000 {
		return math.MaxUint64
	}
	proportional, _ := bits.Div64(hi, lo, 1_000_000)
	fee, carry := bits.Add64(uint64(c.BaseFee), proportional, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return lnwire.MilliSatoshi(fee)
}

// Forward is the amount Source must receive so that amt leaves over this
// channel. It reports false when the sum overflows.
func (c Channel) Forward(amt lnwire.MilliSatoshi) (lnwire.MilliSatoshi, bool) {
	fee := c.Fee(amt)
	if fee == math.MaxUint64 {
		return 0, false
	}
	sum, carry := bits.Add64(uint64(amt), uint64(fee), 0)
	return lnwire.MilliSatoshi(sum), carry == 0
}

// MaxForward is the largest single HTLC this channel half accepts.
func (c Channel) MaxForward() lnwire.MilliSatoshi {
	if c.MaxHTLC == 0 || c.MaxHTLC > c.Capacity {
		return c.Capacity
	}
	return c.MaxHTLC
}

// Direction follows the BOLT-7 convention: 0 when Source sorts before
// Destination.
func (c Channel) Direction() int {
	if c.Source < c.Destination {
		return 0
	}
	return 1
}

// Hop is one channel traversal. AmountMsat is what gets forwarded over the
// channel and delivered to ID; FeeMsat is the part of AmountMsat that pays
// for the hops after this one.
type Hop struct {
	ID        NodeID              `json:"id"`
	From      NodeID              `json:"from"`
	Channel   string              `json:"channel"`
	Direction int                 `json:"direction"`
	Amount    lnwire.MilliSatoshi `json:"amount_msat"`
	Fee       lnwire.MilliSatoshi `json:"fee_msat"`
	Delay     uint32              `json:"delay"`
}

func (h Hop) Key() ChannelKey {
	return ChannelKey{SCID: h.Channel, Source: h.From}
}

type Route struct {
	Hops        []Hop               `json:"hops"`
	Amount      lnwire.MilliSatoshi `json:"amount_msat"`
	Fee         lnwire.MilliSatoshi `json:"fee_msat"`
	Probability float64             `json:"probability"`
}

// TotalAmount is what the source commits: delivered amount plus fees.
func (r Route) TotalAmount() lnwire.MilliSatoshi {
	return r.Amount + r.Fee
}

func (r Route) Destination() NodeID {
	if len(r.Hops) == 0 {
		return ""
	}
	return r.Hops[len(r.Hops)-1].ID
}

func (r Route) Channels() []ChannelKey {
	keys := make([]ChannelKey, len(r.Hops))
	for i, h := range r.Hops {
		keys[i] = h.Key()
	}
	return keys
}

func (r Route) String() string {
	parts := make([]string, len(r.Hops))
	for i, h := range r.Hops {
		parts[i] = h.Channel
	}
	return strings.Join(parts, "->")
}

type FailureReport struct {
	HopIndex int                     `json:"erring_index"`
	Reason   constants.FailureReason `json:"reason"`
	Code     lnwire.FailCode         `json:"failcode"`
	Channel  ChannelKey              `json:"erring_channel"`
	Amount   lnwire.MilliSatoshi     `json:"amount_msat"`
	Message  string                  `json:"message,omitempty"`
}

type PaymentAttempt struct {
	ID         string                  `json:"id"`
	PartID     uint64                  `json:"partid"`
	Route      Route                   `json:"route"`
	Amount     lnwire.MilliSatoshi     `json:"amount_msat"`
	Status     constants.AttemptStatus `json:"status"`
	Retry      int                     `json:"retry"`
	Failure    *FailureReport          `json:"failure,omitempty"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at,omitempty"`
}

type Payment struct {
	PaymentHash string                  `json:"payment_hash"`
	Destination NodeID                  `json:"destination"`
	Amount      lnwire.MilliSatoshi     `json:"amount_msat"`
	Strategy    constants.Strategy      `json:"strategy"`
	Status      constants.PaymentStatus `json:"status"`
	Attempts    []*PaymentAttempt       `json:"attempts"`
	Error       string                  `json:"error,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	CompletedAt time.Time               `json:"completed_at,omitempty"`
}

func (p *Payment) SettledAmount() lnwire.MilliSatoshi {
	var total lnwire.MilliSatoshi
	for _, a := range p.Attempts {
		if a.Status == constants.AttemptSettled {
			total += a.Amount
		}
	}
	return total
}

func (p *Payment) SentAmount() lnwire.MilliSatoshi {
	var total lnwire.MilliSatoshi
	for _, a := range p.Attempts {
		if a.Status == constants.AttemptSettled {
			total += a.Route.TotalAmount()
		}
	}
	return total
}

type RouteHint struct {
	NodeID  NodeID              `json:"pubkey"`
	SCID    string              `json:"short_channel_id"`
	BaseFee lnwire.MilliSatoshi `json:"fee_base_msat"`
	FeePPM  uint64              `json:"fee_proportional_millionths"`
	Delay   uint32              `json:"cltv_expiry_delta"`
}

type Invoice struct {
	Bolt11        string               `json:"bolt11"`
	Destination   NodeID               `json:"payee"`
	Amount        *lnwire.MilliSatoshi `json:"amount_msat,omitempty"`
	PaymentHash   string               `json:"payment_hash"`
	PaymentSecret string               `json:"payment_secret,omitempty"`
	MinFinalCLTV  uint32               `json:"min_final_cltv_expiry"`
	RouteHints    [][]RouteHint        `json:"routes,omitempty"`
}

type InvoiceStatus struct {
	PaymentHash string                 `json:"payment_hash"`
	Status      constants.InvoiceState `json:"status"`
	Amount      *lnwire.MilliSatoshi   `json:"amount_msat,omitempty"`
	Received    lnwire.MilliSatoshi    `json:"amount_received_msat"`
}

// SendRequest is one attempt handed to the host's send primitive.
type SendRequest struct {
	PaymentHash   string
	PaymentSecret string
	Route         Route
	PartID        uint64
	GroupID       uint64
	TotalAmount   lnwire.MilliSatoshi
}

type SendResult struct {
	Settled  bool
	Preimage string
	Failure  *FailureReport
}

package host

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/mochaeng/barq/internal/constants"
	"github.com/mochaeng/barq/internal/models"
)

const simBlockHeight = 800_000

// SimNetwork is an in-memory network that implements every host contract.
// Each channel half tracks the balance its source can still push; a part
// settles immediately once every hop can carry it.
type SimNetwork struct {
	mu       sync.Mutex
	self     models.NodeID
	nodes    map[models.NodeID]models.Node
	channels map[models.ChannelKey]*simChannel
	invoices map[string]*simInvoice
	failures map[models.ChannelKey][]lnwire.FailCode
	nextSCID uint32
	sends    int
}

type simChannel struct {
	models.Channel
	balance lnwire.MilliSatoshi
}

type simInvoice struct {
	invoice  models.Invoice
	preimage lntypes.Preimage
	status   constants.InvoiceState
	received lnwire.MilliSatoshi
}

func NewSimNetwork() (*SimNetwork, error) {
	s := &SimNetwork{
		nodes:    make(map[models.NodeID]models.Node),
		channels: make(map[models.ChannelKey]*simChannel),
		invoices: make(map[string]*simInvoice),
		failures: make(map[models.ChannelKey][]lnwire.FailCode),
		nextSCID: 1,
	}
	self, err := s.AddNode("self")
	if err != nil {
		return nil, err
	}
	s.self = self
	return s, nil
}

func (s *SimNetwork) Self() models.NodeID { return s.self }

// AddNode creates a node with a fresh key pair.
func (s *SimNetwork) AddNode(alias string) (models.NodeID, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate node key: %w", err)
	}
	id := models.NodeID(hex.EncodeToString(key.PubKey().SerializeCompressed()))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[id] = models.Node{ID: id, Alias: alias}
	return id, nil
}

type channelOptions struct {
	push    lnwire.MilliSatoshi
	baseFee lnwire.MilliSatoshi
	feePPM  uint64
	minHTLC lnwire.MilliSatoshi
	maxHTLC lnwire.MilliSatoshi
	delay   uint32
}

type ChannelOption func(*channelOptions)

// WithPush gives the remote side an initial balance.
func WithPush(amt lnwire.MilliSatoshi) ChannelOption {
	return func(o *channelOptions) { o.push = amt }
}

func WithFees(base lnwire.MilliSatoshi, ppm uint64) ChannelOption {
	return func(o *channelOptions) { o.baseFee, o.feePPM = base, ppm }
}

func WithHTLCLimits(min, max lnwire.MilliSatoshi) ChannelOption {
	return func(o *channelOptions) { o.minHTLC, o.maxHTLC = min, max }
}

func WithDelay(delay uint32) ChannelOption {
	return func(o *channelOptions) { o.delay = delay }
}

// OpenChannel funds a channel from a to b and returns its short channel id.
// Both halves share the fee policy.
func (s *SimNetwork) OpenChannel(a, b models.NodeID, capacity lnwire.MilliSatoshi, opts ...ChannelOption) (string, error) {
	o := channelOptions{delay: 6}
	for _, opt := range opts {
		opt(&o)
	}
	if o.push > capacity {
		return "", fmt.Errorf("push %v exceeds capacity %v", o.push, capacity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range []models.NodeID{a, b} {
		if _, ok := s.nodes[id]; !ok {
			return "", fmt.Errorf("unknown node %s", id)
		}
	}

	scid := FormatSCID(lnwire.ShortChannelID{
		BlockHeight: simBlockHeight + s.nextSCID,
		TxIndex:     1,
		TxPosition:  0,
	})
	s.nextSCID++

	half := func(src, dst models.NodeID, balance lnwire.MilliSatoshi) {
		ch := models.Channel{
			SCID:        scid,
			Source:      src,
			Destination: dst,
			Capacity:    capacity,
			BaseFee:     o.baseFee,
			FeePPM:      o.feePPM,
			MinHTLC:     o.minHTLC,
			MaxHTLC:     o.maxHTLC,
			Delay:       o.delay,
			Active:      true,
		}
		s.channels[ch.Key()] = &simChannel{Channel: ch, balance: balance}
	}
	half(a, b, capacity-o.push)
	half(b, a, o.push)
	return scid, nil
}

// CreateInvoice registers an invoice payable to dest. A nil amount makes it
// amountless.
func (s *SimNetwork) CreateInvoice(dest models.NodeID, amount *lnwire.MilliSatoshi, hints ...[]models.RouteHint) (models.Invoice, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return models.Invoice{}, err
	}
	preimage, err := lntypes.MakePreimage(raw[:])
	if err != nil {
		return models.Invoice{}, err
	}
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return models.Invoice{}, err
	}

	hash := preimage.Hash()
	inv := models.Invoice{
		Bolt11:        "lnsim1" + hash.String(),
		Destination:   dest,
		PaymentHash:   hash.String(),
		PaymentSecret: hex.EncodeToString(secret[:]),
		MinFinalCLTV:  18,
		RouteHints:    hints,
	}
	if amount != nil {
		amt := *amount
		inv.Amount = &amt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[dest]; !ok {
		return models.Invoice{}, fmt.Errorf("unknown node %s", dest)
	}
	s.invoices[inv.PaymentHash] = &simInvoice{
		invoice:  inv,
		preimage: preimage,
		status:   constants.InvoiceUnpaid,
	}
	return inv, nil
}

// InjectFailure makes the next attempt over key fail with code, once per
// injected code.
func (s *SimNetwork) InjectFailure(key models.ChannelKey, code lnwire.FailCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[key] = append(s.failures[key], code)
}

// SetBalance overrides what key's source can push, to model liquidity the
// gossip does not show.
func (s *SimNetwork) SetBalance(key models.ChannelKey, amt lnwire.MilliSatoshi) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[key]
	if !ok {
		return fmt.Errorf("unknown channel %s", key)
	}
	ch.balance = amt
	return nil
}

func (s *SimNetwork) Balance(key models.ChannelKey) lnwire.MilliSatoshi {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[key]; ok {
		return ch.balance
	}
	return 0
}

// Sends counts SendAndAwait calls.
func (s *SimNetwork) Sends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends
}

func (s *SimNetwork) GetInfo(ctx context.Context) (models.NodeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.NodeInfo{
		ID:          s.self,
		Alias:       s.nodes[s.self].Alias,
		BlockHeight: simBlockHeight + s.nextSCID,
	}, nil
}

func (s *SimNetwork) ListNodes(ctx context.Context) ([]models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := make([]models.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

func (s *SimNetwork) ListChannels(ctx context.Context) ([]models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	channels := make([]models.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch.Channel)
	}
	sort.Slice(channels, func(i, j int) bool {
		if channels[i].SCID != channels[j].SCID {
			return channels[i].SCID < channels[j].SCID
		}
		return channels[i].Source < channels[j].Source
	})
	return channels, nil
}

func (s *SimNetwork) DecodePay(ctx context.Context, bolt11 string) (models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invoices {
		if inv.invoice.Bolt11 == bolt11 {
			return inv.invoice, nil
		}
	}
	return models.Invoice{}, fmt.Errorf("%w: %q", ErrInvalidInvoice, bolt11)
}

func (s *SimNetwork) InvoiceStatus(ctx context.Context, paymentHash string) (models.InvoiceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[paymentHash]
	if !ok {
		return models.InvoiceStatus{}, fmt.Errorf("%w: %s", ErrInvoiceNotFound, paymentHash)
	}
	return models.InvoiceStatus{
		PaymentHash: paymentHash,
		Status:      inv.status,
		Amount:      inv.invoice.Amount,
		Received:    inv.received,
	}, nil
}

// SendAndAwait forwards one part hop by hop. Balances move only when every
// hop and the destination accept it.
func (s *SimNetwork) SendAndAwait(ctx context.Context, req models.SendRequest) (models.SendResult, error) {
	if err := ctx.Err(); err != nil {
		return models.SendResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends++

	hops := req.Route.Hops
	if len(hops) == 0 {
		return models.SendResult{}, fmt.Errorf("empty route")
	}
	if hops[0].From != s.self {
		return fail(0, hops[0], lnwire.CodeUnknownNextPeer), nil
	}
	// Like the node, partid 0 is reserved for a payment sent in one piece.
	if req.PartID == 0 && hops[len(hops)-1].Amount < req.TotalAmount {
		return models.SendResult{}, fmt.Errorf("%w: partid 0 carries %v of %v",
			ErrPartialWithoutPartID, hops[len(hops)-1].Amount, req.TotalAmount)
	}

	chans := make([]*simChannel, len(hops))
	for i, hop := range hops {
		ch, ok := s.channels[hop.Key()]
		if !ok || ch.Destination != hop.ID {
			return fail(i, hop, lnwire.CodeUnknownNextPeer), nil
		}
		if codes := s.failures[hop.Key()]; len(codes) > 0 {
			s.failures[hop.Key()] = codes[1:]
			return fail(i, hop, codes[0]), nil
		}
		if hop.Amount < ch.MinHTLC {
			return fail(i, hop, lnwire.CodeAmountBelowMinimum), nil
		}
		if ch.MaxHTLC > 0 && hop.Amount > ch.MaxHTLC {
			return fail(i, hop, lnwire.CodeTemporaryChannelFailure), nil
		}
		if hop.Amount > ch.balance {
			return fail(i, hop, lnwire.CodeTemporaryChannelFailure), nil
		}
		if need, ok := ch.Forward(hop.Amount); i > 0 && (!ok || hops[i-1].Amount < need) {
			return fail(i, hop, lnwire.CodeFeeInsufficient), nil
		}
		chans[i] = ch
	}

	last := hops[len(hops)-1]
	final := len(hops)
	inv, ok := s.invoices[req.PaymentHash]
	if !ok || inv.invoice.Destination != last.ID {
		return destFail(final, constants.ReasonDestinationRejected), nil
	}
	if inv.status == constants.InvoicePaid {
		return destFail(final, constants.ReasonAlreadyPaid), nil
	}
	if inv.invoice.Amount != nil && req.TotalAmount < *inv.invoice.Amount {
		return destFail(final, constants.ReasonDestinationRejected), nil
	}

	for i, ch := range chans {
		ch.balance -= hops[i].Amount
		if back, ok := s.channels[models.ChannelKey{SCID: ch.SCID, Source: ch.Destination}]; ok {
			back.balance += hops[i].Amount
		}
	}
	inv.received += last.Amount
	if inv.received >= req.TotalAmount {
		inv.status = constants.InvoicePaid
	}
	return models.SendResult{Settled: true, Preimage: inv.preimage.String()}, nil
}

func fail(index int, hop models.Hop, code lnwire.FailCode) models.SendResult {
	return models.SendResult{Failure: &models.FailureReport{
		HopIndex: index,
		Reason:   ReasonFor(code),
		Code:     code,
		Channel:  hop.Key(),
		Amount:   hop.Amount,
		Message:  code.String(),
	}}
}

func destFail(index int, reason constants.FailureReason) models.SendResult {
	return models.SendResult{Failure: &models.FailureReport{
		HopIndex: index,
		Reason:   reason,
		Code:     lnwire.CodeIncorrectOrUnknownPaymentDetails,
		Message:  string(reason),
	}}
}

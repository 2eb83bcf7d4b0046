package host

import (
	"context"
	"testing"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/mochaeng/barq/internal/constants"
	"github.com/mochaeng/barq/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type SimNetworkTestSuite struct {
	suite.Suite
	ctx   context.Context
	net   *SimNetwork
	alice models.NodeID
	bob   models.NodeID
	toA   string
	toB   string
}

func TestSimNetworkTestSuite(t *testing.T) {
	suite.Run(t, new(SimNetworkTestSuite))
}

// SetupTest builds self -> alice -> bob with a 1000 msat base fee at alice.
func (s *SimNetworkTestSuite) SetupTest() {
	s.ctx = context.Background()

	net, err := NewSimNetwork()
	s.Require().NoError(err)
	s.net = net

	s.alice, err = net.AddNode("alice")
	s.Require().NoError(err)
	s.bob, err = net.AddNode("bob")
	s.Require().NoError(err)

	s.toA, err = net.OpenChannel(net.Self(), s.alice, 1_000_000)
	s.Require().NoError(err)
	s.toB, err = net.OpenChannel(s.alice, s.bob, 1_000_000, WithFees(1_000, 0))
	s.Require().NoError(err)
}

func (s *SimNetworkTestSuite) route(amount lnwire.MilliSatoshi) models.Route {
	return models.Route{
		Hops: []models.Hop{
			{From: s.net.Self(), ID: s.alice, Channel: s.toA, Amount: amount + 1_000, Delay: 24},
			{From: s.alice, ID: s.bob, Channel: s.toB, Amount: amount, Delay: 18},
		},
		Amount: amount,
		Fee:    1_000,
	}
}

func (s *SimNetworkTestSuite) invoice(amount lnwire.MilliSatoshi) models.Invoice {
	inv, err := s.net.CreateInvoice(s.bob, &amount)
	s.Require().NoError(err)
	return inv
}

func (s *SimNetworkTestSuite) TestTopology() {
	info, err := s.net.GetInfo(s.ctx)
	s.Require().NoError(err)
	s.Equal(s.net.Self(), info.ID)
	s.Equal("self", info.Alias)

	nodes, err := s.net.ListNodes(s.ctx)
	s.Require().NoError(err)
	s.Len(nodes, 3)
	for _, n := range nodes {
		s.NoError(ValidNodeID(n.ID))
	}

	channels, err := s.net.ListChannels(s.ctx)
	s.Require().NoError(err)
	s.Len(channels, 4, "two halves per channel")
	for _, ch := range channels {
		_, err := ParseSCID(ch.SCID)
		s.NoError(err)
	}
}

func (s *SimNetworkTestSuite) TestOpenChannelBalances() {
	scid, err := s.net.OpenChannel(s.alice, s.bob, 500_000, WithPush(200_000))
	s.Require().NoError(err)

	s.Equal(lnwire.MilliSatoshi(300_000), s.net.Balance(models.ChannelKey{SCID: scid, Source: s.alice}))
	s.Equal(lnwire.MilliSatoshi(200_000), s.net.Balance(models.ChannelKey{SCID: scid, Source: s.bob}))

	_, err = s.net.OpenChannel(s.alice, s.bob, 100, WithPush(200))
	s.Error(err)
	_, err = s.net.OpenChannel(s.alice, "nobody", 100)
	s.Error(err)
}

func (s *SimNetworkTestSuite) TestDecodePay() {
	inv := s.invoice(123_000)

	decoded, err := s.net.DecodePay(s.ctx, inv.Bolt11)
	s.Require().NoError(err)
	s.Equal(inv.PaymentHash, decoded.PaymentHash)
	s.Equal(s.bob, decoded.Destination)
	s.Require().NotNil(decoded.Amount)
	s.Equal(lnwire.MilliSatoshi(123_000), *decoded.Amount)

	_, err = s.net.DecodePay(s.ctx, "lnbc1garbage")
	s.ErrorIs(err, ErrInvalidInvoice)

	_, err = s.net.InvoiceStatus(s.ctx, "unknown")
	s.ErrorIs(err, ErrInvoiceNotFound)
}

func (s *SimNetworkTestSuite) TestSendSettles() {
	inv := s.invoice(123_000)

	res, err := s.net.SendAndAwait(s.ctx, models.SendRequest{
		PaymentHash: inv.PaymentHash,
		Route:       s.route(123_000),
		TotalAmount: 123_000,
	})
	s.Require().NoError(err)
	s.True(res.Settled)
	s.NotEmpty(res.Preimage)

	status, err := s.net.InvoiceStatus(s.ctx, inv.PaymentHash)
	s.Require().NoError(err)
	s.Equal(constants.InvoicePaid, status.Status)
	s.Equal(lnwire.MilliSatoshi(123_000), status.Received)

	s.Equal(lnwire.MilliSatoshi(1_000_000-124_000), s.net.Balance(models.ChannelKey{SCID: s.toA, Source: s.net.Self()}))
	s.Equal(lnwire.MilliSatoshi(124_000), s.net.Balance(models.ChannelKey{SCID: s.toA, Source: s.alice}))
	s.Equal(1, s.net.Sends())
}

func (s *SimNetworkTestSuite) TestSendAlreadyPaid() {
	inv := s.invoice(10_000)
	req := models.SendRequest{PaymentHash: inv.PaymentHash, Route: s.route(10_000), TotalAmount: 10_000}

	res, err := s.net.SendAndAwait(s.ctx, req)
	s.Require().NoError(err)
	s.Require().True(res.Settled)

	res, err = s.net.SendAndAwait(s.ctx, req)
	s.Require().NoError(err)
	s.Require().NotNil(res.Failure)
	s.Equal(constants.ReasonAlreadyPaid, res.Failure.Reason)
	s.Equal(2, res.Failure.HopIndex)
}

func (s *SimNetworkTestSuite) TestSendMultiPart() {
	inv := s.invoice(100_000)

	first := models.SendRequest{PaymentHash: inv.PaymentHash, Route: s.route(60_000), PartID: 1, TotalAmount: 100_000}
	res, err := s.net.SendAndAwait(s.ctx, first)
	s.Require().NoError(err)
	s.True(res.Settled)

	status, _ := s.net.InvoiceStatus(s.ctx, inv.PaymentHash)
	s.Equal(constants.InvoiceUnpaid, status.Status)

	second := models.SendRequest{PaymentHash: inv.PaymentHash, Route: s.route(40_000), PartID: 2, TotalAmount: 100_000}
	res, err = s.net.SendAndAwait(s.ctx, second)
	s.Require().NoError(err)
	s.True(res.Settled)

	status, _ = s.net.InvoiceStatus(s.ctx, inv.PaymentHash)
	s.Equal(constants.InvoicePaid, status.Status)
}

func (s *SimNetworkTestSuite) TestPartialNeedsPartID() {
	inv := s.invoice(100_000)
	hopA := models.ChannelKey{SCID: s.toA, Source: s.net.Self()}
	before := s.net.Balance(hopA)

	req := models.SendRequest{PaymentHash: inv.PaymentHash, Route: s.route(60_000), TotalAmount: 100_000}
	_, err := s.net.SendAndAwait(s.ctx, req)
	s.ErrorIs(err, ErrPartialWithoutPartID)
	s.Equal(before, s.net.Balance(hopA))
}

func (s *SimNetworkTestSuite) TestSendFailures() {
	inv := s.invoice(100_000)
	hopB := models.ChannelKey{SCID: s.toB, Source: s.alice}

	tests := []struct {
		name   string
		setup  func()
		req    func() models.SendRequest
		reason constants.FailureReason
		hop    int
	}{
		{
			name:   "insufficient balance",
			setup:  func() { s.Require().NoError(s.net.SetBalance(hopB, 50_000)) },
			req:    func() models.SendRequest { return models.SendRequest{PaymentHash: inv.PaymentHash, Route: s.route(100_000), TotalAmount: 100_000} },
			reason: constants.ReasonInsufficientCapacity,
			hop:    1,
		},
		{
			name:   "injected channel failure",
			setup:  func() { s.net.InjectFailure(hopB, lnwire.CodeChannelDisabled) },
			req:    func() models.SendRequest { return models.SendRequest{PaymentHash: inv.PaymentHash, Route: s.route(100_000), TotalAmount: 100_000} },
			reason: constants.ReasonChannelUnavailable,
			hop:    1,
		},
		{
			name:  "fee too low",
			setup: func() {},
			req: func() models.SendRequest {
				r := s.route(100_000)
				r.Hops[0].Amount = 100_000
				return models.SendRequest{PaymentHash: inv.PaymentHash, Route: r, TotalAmount: 100_000}
			},
			reason: constants.ReasonRouteMalformed,
			hop:    1,
		},
		{
			name:   "underpaid invoice",
			setup:  func() {},
			req:    func() models.SendRequest { return models.SendRequest{PaymentHash: inv.PaymentHash, Route: s.route(50_000), TotalAmount: 50_000} },
			reason: constants.ReasonDestinationRejected,
			hop:    2,
		},
		{
			name:   "unknown payment hash",
			setup:  func() {},
			req:    func() models.SendRequest { return models.SendRequest{PaymentHash: "nope", Route: s.route(100_000), TotalAmount: 100_000} },
			reason: constants.ReasonDestinationRejected,
			hop:    2,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			inv = s.invoice(100_000)
			hopB = models.ChannelKey{SCID: s.toB, Source: s.alice}
			tt.setup()

			res, err := s.net.SendAndAwait(s.ctx, tt.req())
			s.Require().NoError(err)
			s.Require().NotNil(res.Failure)
			s.Equal(tt.reason, res.Failure.Reason)
			s.Equal(tt.hop, res.Failure.HopIndex)

			status, _ := s.net.InvoiceStatus(s.ctx, inv.PaymentHash)
			s.Equal(constants.InvoiceUnpaid, status.Status)
		})
	}
}

func (s *SimNetworkTestSuite) TestInjectedFailureIsConsumed() {
	inv := s.invoice(10_000)
	hopA := models.ChannelKey{SCID: s.toA, Source: s.net.Self()}
	s.net.InjectFailure(hopA, lnwire.CodeTemporaryNodeFailure)
	req := models.SendRequest{PaymentHash: inv.PaymentHash, Route: s.route(10_000), TotalAmount: 10_000}

	res, err := s.net.SendAndAwait(s.ctx, req)
	s.Require().NoError(err)
	s.Require().NotNil(res.Failure)
	s.Equal(constants.ReasonNodeFailure, res.Failure.Reason)
	s.Equal(hopA, res.Failure.Channel)

	res, err = s.net.SendAndAwait(s.ctx, req)
	s.Require().NoError(err)
	s.True(res.Settled)
}

func TestSimSendRejectsForeignFirstHop(t *testing.T) {
	net, err := NewSimNetwork()
	require.NoError(t, err)
	a, err := net.AddNode("a")
	require.NoError(t, err)

	res, err := net.SendAndAwait(context.Background(), models.SendRequest{
		Route: models.Route{Hops: []models.Hop{{From: a, ID: net.Self(), Channel: "1x1x0", Amount: 1}}},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, constants.ReasonChannelUnavailable, res.Failure.Reason)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = net.SendAndAwait(ctx, models.SendRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/mochaeng/barq/internal/classifier"
	"github.com/mochaeng/barq/internal/constants"
	"github.com/mochaeng/barq/internal/graph"
	"github.com/mochaeng/barq/internal/models"
	"github.com/mochaeng/barq/internal/planner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendAndAwait(ctx context.Context, req models.SendRequest) (models.SendResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(models.SendResult), args.Error(1)
}

func onRoute(route string) any {
	return mock.MatchedBy(func(req models.SendRequest) bool { return req.Route.String() == route })
}

var settled = models.SendResult{Settled: true, Preimage: "00"}

func failedAt(hop int, reason constants.FailureReason) models.SendResult {
	return models.SendResult{Failure: &models.FailureReport{HopIndex: hop, Reason: reason}}
}

func ch(scid string, src, dst models.NodeID, capacity lnwire.MilliSatoshi) models.Channel {
	return models.Channel{SCID: scid, Source: src, Destination: dst, Capacity: capacity, Active: true}
}

// diamond: A reaches D through B (1x/3x, preferred on ties) or C (2x/4x).
func diamond() []models.Channel {
	return []models.Channel{
		ch("1x1x0", "A", "B", 1_000_000),
		ch("2x1x0", "A", "C", 1_000_000),
		ch("3x1x0", "B", "D", 1_000_000),
		ch("4x1x0", "C", "D", 1_000_000),
	}
}

// twoPaths only fits 100_000 msat as two parts.
func twoPaths() []models.Channel {
	return []models.Channel{
		ch("1x1x0", "A", "B", 60_000),
		ch("2x1x0", "A", "C", 60_000),
		ch("3x1x0", "B", "D", 60_000),
		ch("4x1x0", "C", "D", 60_000),
	}
}

type mockJournal struct {
	mock.Mock
}

func (m *mockJournal) AppendAttempt(ctx context.Context, paymentHash string, attempt *models.PaymentAttempt) error {
	return m.Called(ctx, paymentHash, attempt).Error(0)
}

type fixture struct {
	view   *graph.View
	sender *mockSender
	exec   *Executor
}

func newFixture(channels []models.Channel, maxRetries int, opts ...Option) *fixture {
	view := graph.NewView()
	view.Refresh(nil, channels)
	sender := new(mockSender)
	exec := New(sender,
		planner.New(view, planner.Config{}, nil),
		classifier.New(view, maxRetries, nil),
		nil,
		opts...,
	)
	return &fixture{view: view, sender: sender, exec: exec}
}

func payRequest(amount lnwire.MilliSatoshi) Request {
	return Request{
		PaymentHash: "hash",
		Plan: planner.Request{
			Source:      "A",
			Destination: "D",
			Amount:      amount,
			Strategy:    constants.StrategyDeterministic,
		},
	}
}

func TestExecuteSingleRoute(t *testing.T) {
	f := newFixture(diamond(), 3)
	f.sender.On("SendAndAwait", mock.Anything, mock.Anything).Return(settled, nil).Once()

	payment, err := f.exec.Execute(context.Background(), payRequest(123_000))
	require.NoError(t, err)

	assert.Equal(t, constants.PaymentSucceeded, payment.Status)
	assert.Equal(t, lnwire.MilliSatoshi(123_000), payment.SettledAmount())
	require.Len(t, payment.Attempts, 1)
	assert.Equal(t, constants.AttemptSettled, payment.Attempts[0].Status)
	assert.NotEmpty(t, payment.Attempts[0].ID)
	assert.False(t, payment.CompletedAt.IsZero())
	f.sender.AssertExpectations(t)
}

func TestExecuteRetriesAfterCapacityFailure(t *testing.T) {
	f := newFixture(diamond(), 3)
	f.sender.On("SendAndAwait", mock.Anything, onRoute("1x1x0->3x1x0")).
		Return(failedAt(1, constants.ReasonInsufficientCapacity), nil).Once()
	f.sender.On("SendAndAwait", mock.Anything, onRoute("2x1x0->4x1x0")).
		Return(settled, nil).Once()

	payment, err := f.exec.Execute(context.Background(), payRequest(100_000))
	require.NoError(t, err)

	assert.Equal(t, constants.PaymentSucceeded, payment.Status)
	require.Len(t, payment.Attempts, 2)

	failed := payment.Attempts[0]
	assert.Equal(t, constants.AttemptFailed, failed.Status)
	require.NotNil(t, failed.Failure)
	assert.Equal(t, models.ChannelKey{SCID: "3x1x0", Source: "B"}, failed.Failure.Channel)
	assert.Equal(t, lnwire.MilliSatoshi(100_000), failed.Failure.Amount)

	retry := payment.Attempts[1]
	assert.Equal(t, 1, retry.Retry)
	assert.Equal(t, uint64(2), retry.PartID)

	belief, _ := f.view.Belief(models.ChannelKey{SCID: "3x1x0", Source: "B"})
	assert.Less(t, uint64(belief), uint64(100_000))
	f.sender.AssertExpectations(t)
}

func TestExecuteDestinationRejected(t *testing.T) {
	f := newFixture(diamond(), 3)
	f.sender.On("SendAndAwait", mock.Anything, mock.Anything).
		Return(failedAt(2, constants.ReasonAlreadyPaid), nil).Once()

	payment, err := f.exec.Execute(context.Background(), payRequest(100_000))
	require.Error(t, err)

	assert.ErrorIs(t, err, models.ErrDestinationRejected)
	var payErr *models.PaymentError
	require.True(t, errors.As(err, &payErr))
	assert.Same(t, payment, payErr.Payment)
	assert.Equal(t, constants.PaymentFailed, payment.Status)
	assert.Len(t, payment.Attempts, 1)
	f.sender.AssertExpectations(t)
}

func TestExecuteSplitsAcrossParts(t *testing.T) {
	f := newFixture(twoPaths(), 3)
	f.sender.On("SendAndAwait", mock.Anything, mock.Anything).Return(settled, nil).Twice()

	payment, err := f.exec.Execute(context.Background(), payRequest(100_000))
	require.NoError(t, err)

	assert.Equal(t, constants.PaymentSucceeded, payment.Status)
	require.Len(t, payment.Attempts, 2)
	var total lnwire.MilliSatoshi
	for _, a := range payment.Attempts {
		total += a.Amount
	}
	assert.Equal(t, lnwire.MilliSatoshi(100_000), total)

	calls := f.sender.Calls
	require.Len(t, calls, 2)
	partIDs := map[uint64]bool{}
	groups := map[uint64]bool{}
	for _, call := range calls {
		req := call.Arguments.Get(1).(models.SendRequest)
		assert.Equal(t, lnwire.MilliSatoshi(100_000), req.TotalAmount)
		partIDs[req.PartID] = true
		groups[req.GroupID] = true
	}
	assert.Equal(t, map[uint64]bool{1: true, 2: true}, partIDs, "parallel parts never use partid 0")
	assert.Len(t, groups, 1)
	assert.NotContains(t, groups, uint64(0))
}

func TestExecuteJournalsAttemptsBeforeSending(t *testing.T) {
	journal := new(mockJournal)
	inflight := mock.MatchedBy(func(a *models.PaymentAttempt) bool {
		return a.Status == constants.AttemptInFlight && a.ID != ""
	})
	journal.On("AppendAttempt", mock.Anything, "hash", inflight).Return(nil).Once()
	journal.On("AppendAttempt", mock.Anything, "hash", inflight).Return(errors.New("redis down")).Once()

	f := newFixture(diamond(), 3, WithJournal(journal))
	f.sender.On("SendAndAwait", mock.Anything, onRoute("1x1x0->3x1x0")).
		Return(failedAt(1, constants.ReasonInsufficientCapacity), nil).Once()
	f.sender.On("SendAndAwait", mock.Anything, onRoute("2x1x0->4x1x0")).
		Return(settled, nil).Once()

	payment, err := f.exec.Execute(context.Background(), payRequest(100_000))
	require.NoError(t, err, "a journal failure does not stop the payment")

	assert.Equal(t, constants.PaymentSucceeded, payment.Status)
	journal.AssertExpectations(t)
	first := journal.Calls[0].Arguments.Get(2).(*models.PaymentAttempt)
	assert.Equal(t, payment.Attempts[0].ID, first.ID)
	assert.NotSame(t, payment.Attempts[0], first)
}

func TestExecutePartialSettlementStuck(t *testing.T) {
	f := newFixture(twoPaths(), 3)
	f.sender.On("SendAndAwait", mock.Anything, onRoute("1x1x0->3x1x0")).Return(settled, nil).Once()
	f.sender.On("SendAndAwait", mock.Anything, onRoute("2x1x0->4x1x0")).
		Return(failedAt(2, constants.ReasonDestinationRejected), nil).Once()

	payment, err := f.exec.Execute(context.Background(), payRequest(100_000))
	require.Error(t, err)

	assert.ErrorIs(t, err, models.ErrPartialSettlementStuck)
	assert.ErrorIs(t, err, models.ErrDestinationRejected)
	assert.Equal(t, constants.PaymentPartiallySettled, payment.Status)
	assert.Equal(t, lnwire.MilliSatoshi(60_000), payment.SettledAmount())
	assert.NotEmpty(t, payment.Error)
}

func TestExecuteRetryBudgetExhausted(t *testing.T) {
	f := newFixture(diamond(), 1)
	f.sender.On("SendAndAwait", mock.Anything, mock.Anything).
		Return(failedAt(1, constants.ReasonNodeFailure), nil)

	payment, err := f.exec.Execute(context.Background(), payRequest(100_000))
	require.Error(t, err)

	assert.ErrorIs(t, err, models.ErrRetryBudgetExhausted)
	assert.Equal(t, constants.PaymentFailed, payment.Status)
	assert.Len(t, payment.Attempts, 2)
	f.sender.AssertNumberOfCalls(t, "SendAndAwait", 2)
}

func TestExecuteNoAlternativeAbandons(t *testing.T) {
	f := newFixture([]models.Channel{
		ch("1x1x0", "A", "B", 1_000_000),
		ch("2x1x0", "B", "D", 1_000_000),
	}, 5)
	f.sender.On("SendAndAwait", mock.Anything, mock.Anything).
		Return(failedAt(1, constants.ReasonRouteMalformed), nil).Once()

	payment, err := f.exec.Execute(context.Background(), payRequest(100_000))
	require.Error(t, err)

	assert.ErrorIs(t, err, models.ErrNoRouteFound)
	assert.Equal(t, constants.PaymentFailed, payment.Status)
	f.sender.AssertExpectations(t)
}

func TestExecuteNoRoute(t *testing.T) {
	f := newFixture([]models.Channel{ch("1x1x0", "A", "B", 1_000_000)}, 3)

	payment, err := f.exec.Execute(context.Background(), payRequest(100_000))
	require.Error(t, err)

	assert.ErrorIs(t, err, models.ErrNoRouteFound)
	assert.Equal(t, constants.PaymentFailed, payment.Status)
	assert.Empty(t, payment.Attempts)
	f.sender.AssertNotCalled(t, "SendAndAwait", mock.Anything, mock.Anything)
}

func TestExecuteCancelledBeforeDispatch(t *testing.T) {
	f := newFixture(diamond(), 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	payment, err := f.exec.Execute(ctx, payRequest(100_000))
	require.Error(t, err)

	assert.ErrorIs(t, err, models.ErrPaymentCancelled)
	assert.Equal(t, constants.PaymentFailed, payment.Status)
	assert.Empty(t, payment.Attempts)
	f.sender.AssertNotCalled(t, "SendAndAwait", mock.Anything, mock.Anything)
}

func TestExecuteUnknownOutcomeIsStuck(t *testing.T) {
	f := newFixture(diamond(), 3)
	f.sender.On("SendAndAwait", mock.Anything, mock.Anything).
		Return(models.SendResult{}, errors.New("connection reset")).Once()

	payment, err := f.exec.Execute(context.Background(), payRequest(100_000))
	require.Error(t, err)

	assert.ErrorIs(t, err, models.ErrPartialSettlementStuck)
	assert.Equal(t, constants.PaymentPartiallySettled, payment.Status)
	require.Len(t, payment.Attempts, 1)
	assert.Equal(t, constants.AttemptInFlight, payment.Attempts[0].Status)
}

func TestExecuteCancelledAfterDispatchStopsRetrying(t *testing.T) {
	f := newFixture(diamond(), 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sendCtxErr error
	f.sender.On("SendAndAwait", mock.Anything, onRoute("1x1x0->3x1x0")).
		Run(func(args mock.Arguments) {
			cancel()
			sendCtxErr = args.Get(0).(context.Context).Err()
		}).
		Return(failedAt(1, constants.ReasonInsufficientCapacity), nil).Once()

	payment, err := f.exec.Execute(ctx, payRequest(100_000))
	require.Error(t, err)

	assert.NoError(t, sendCtxErr, "sends outlive the caller")
	assert.ErrorIs(t, err, models.ErrPaymentCancelled)
	assert.Equal(t, constants.PaymentFailed, payment.Status)
	require.Len(t, payment.Attempts, 1)
	assert.Equal(t, constants.AttemptFailed, payment.Attempts[0].Status)
	f.sender.AssertNumberOfCalls(t, "SendAndAwait", 1)
}

func TestExecuteCancelledWithSettledPart(t *testing.T) {
	f := newFixture(twoPaths(), 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.sender.On("SendAndAwait", mock.Anything, onRoute("1x1x0->3x1x0")).Return(settled, nil).Once()
	f.sender.On("SendAndAwait", mock.Anything, onRoute("2x1x0->4x1x0")).
		Run(func(mock.Arguments) { cancel() }).
		Return(failedAt(1, constants.ReasonInsufficientCapacity), nil).Once()

	payment, err := f.exec.Execute(ctx, payRequest(100_000))
	require.Error(t, err)

	assert.ErrorIs(t, err, models.ErrPartialSettlementStuck)
	assert.ErrorIs(t, err, models.ErrPaymentCancelled)
	assert.Equal(t, constants.PaymentPartiallySettled, payment.Status)
	assert.Equal(t, lnwire.MilliSatoshi(60_000), payment.SettledAmount())
	assert.Len(t, payment.Attempts, 2)
	f.sender.AssertExpectations(t)
}

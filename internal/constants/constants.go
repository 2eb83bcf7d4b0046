package constants

import "fmt"

// Strategy names one of the closed set of route-selection algorithms.
type Strategy string

const (
	StrategyDeterministic Strategy = "deterministic"
	StrategyProbabilistic Strategy = "probabilistic"
	StrategyGreedy        Strategy = "greedy"
)

// Strategies lists every strategy in a stable order.
var Strategies = []Strategy{StrategyDeterministic, StrategyProbabilistic, StrategyGreedy}

func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return StrategyDeterministic, nil
	}
	for _, strategy := range Strategies {
		if string(strategy) == s {
			return strategy, nil
		}
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

type PaymentStatus string

const (
	PaymentPlanning         PaymentStatus = "planning"
	PaymentInFlight         PaymentStatus = "inflight"
	PaymentPartiallySettled PaymentStatus = "partially_settled"
	PaymentSucceeded        PaymentStatus = "succeeded"
	PaymentFailed           PaymentStatus = "failed"
)

// Final reports whether no further transition is possible.
func (s PaymentStatus) Final() bool {
	return s == PaymentSucceeded || s == PaymentFailed || s == PaymentPartiallySettled
}

type AttemptStatus string

const (
	AttemptPending  AttemptStatus = "pending"
	AttemptInFlight AttemptStatus = "inflight"
	AttemptSettled  AttemptStatus = "settled"
	AttemptFailed   AttemptStatus = "failed"
)

// FailureReason is the domain classification of a failed attempt.
type FailureReason string

const (
	ReasonInsufficientCapacity FailureReason = "insufficient_capacity"
	ReasonChannelUnavailable   FailureReason = "channel_unavailable"
	ReasonRouteMalformed       FailureReason = "route_malformed"
	ReasonDestinationRejected  FailureReason = "destination_rejected"
	ReasonAlreadyPaid          FailureReason = "already_paid"
	ReasonNodeFailure          FailureReason = "node_failure"
	ReasonUnknown              FailureReason = "unknown"
)

type InvoiceState string

const (
	InvoiceUnpaid  InvoiceState = "unpaid"
	InvoicePaid    InvoiceState = "paid"
	InvoiceExpired InvoiceState = "expired"
)

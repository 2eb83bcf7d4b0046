package models

import (
	"errors"
	"fmt"
)

var (
	ErrAmountRequired               = errors.New("amount required")
	ErrInvalidAmount                = errors.New("invalid amount")
	ErrNoRouteFound                 = errors.New("no route found")
	ErrStrategyPreconditionViolated = errors.New("strategy precondition violated")
	ErrUnknownStrategy              = errors.New("unknown strategy")
	ErrPartialSettlementStuck       = errors.New("partial settlement stuck")
	ErrDestinationRejected          = errors.New("destination rejected payment")
	ErrRetryBudgetExhausted         = errors.New("retry budget exhausted")
	ErrPaymentCancelled             = errors.New("payment cancelled")
	ErrPaymentInProgress            = errors.New("payment already in progress")
	ErrNotFound                     = errors.New("not found")
	ErrInvalidRequest               = errors.New("invalid request")
)

// PaymentError carries the terminal payment alongside the reason it did not
// succeed, so callers can report attempts that already settled.
type PaymentError struct {
	Err     error
	Payment *Payment
}

func (e *PaymentError) Error() string {
	if e.Payment == nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("payment %s %s: %v", e.Payment.PaymentHash, e.Payment.Status, e.Err)
}

func (e *PaymentError) Unwrap() error { return e.Err }

// ErrorCode maps an error from the taxonomy to a stable identifier.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrStrategyPreconditionViolated):
		return "strategy_precondition_violated"
	case errors.Is(err, ErrAmountRequired):
		return "amount_required"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrPartialSettlementStuck):
		return "partial_settlement_stuck"
	case errors.Is(err, ErrDestinationRejected):
		return "destination_rejected"
	case errors.Is(err, ErrRetryBudgetExhausted):
		return "retry_budget_exhausted"
	case errors.Is(err, ErrNoRouteFound):
		return "no_route_found"
	case errors.Is(err, ErrUnknownStrategy):
		return "unknown_strategy"
	case errors.Is(err, ErrPaymentCancelled):
		return "payment_cancelled"
	case errors.Is(err, ErrPaymentInProgress):
		return "payment_in_progress"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return "internal"
	}
}

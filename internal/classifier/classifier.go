package classifier

import (
	"fmt"
	"log/slog"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/mochaeng/barq/internal/constants"
	"github.com/mochaeng/barq/internal/models"
)

const DefaultMaxRetries = 5

type Verdict int

const (
	Retryable Verdict = iota
	Abandon
)

func (v Verdict) String() string {
	if v == Abandon {
		return "abandon"
	}
	return "retryable"
}

type Decision struct {
	Verdict Verdict
	// Exclude must be avoided when the slice is re-planned. If no route
	// avoids it, the slice is abandoned.
	Exclude *models.ChannelKey
	Err     error
}

// GraphUpdater is the part of graph.View the classifier mutates.
type GraphUpdater interface {
	Degrade(key models.ChannelKey, amt lnwire.MilliSatoshi) (lnwire.MilliSatoshi, bool)
	Disable(key models.ChannelKey) bool
}

type Classifier struct {
	graph      GraphUpdater
	maxRetries int
	logger     *slog.Logger
}

func New(graph GraphUpdater, maxRetries int, logger *slog.Logger) *Classifier {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		graph:      graph,
		maxRetries: maxRetries,
		logger:     logger.With("component", "classifier"),
	}
}

// Classify updates graph beliefs from report and decides whether the failed
// slice, which has already been retried retries times, may be tried again.
func (c *Classifier) Classify(report models.FailureReport, retries int) Decision {
	key := report.Channel
	var d Decision

	switch report.Reason {
	case constants.ReasonDestinationRejected, constants.ReasonAlreadyPaid:
		return Decision{
			Verdict: Abandon,
			Err:     fmt.Errorf("%w: %s (%v)", models.ErrDestinationRejected, report.Reason, report.Code),
		}

	case constants.ReasonInsufficientCapacity:
		belief, ok := c.graph.Degrade(key, report.Amount)
		c.logger.Debug("degraded channel",
			"channel", key.String(),
			"failed_msat", uint64(report.Amount),
			"belief_msat", uint64(belief),
			"known", ok,
		)
		d = Decision{Verdict: Retryable}

	case constants.ReasonChannelUnavailable:
		c.graph.Disable(key)
		d = Decision{Verdict: Retryable, Exclude: &key}

	default:
		// Malformed routes, node failures and anything unrecognised: only a
		// route that avoids the erring channel can help.
		d = Decision{Verdict: Retryable, Exclude: &key}
	}

	if retries >= c.maxRetries {
		return Decision{
			Verdict: Abandon,
			Err: fmt.Errorf("%w: %d retries, last failure %s at hop %d",
				models.ErrRetryBudgetExhausted, retries, report.Reason, report.HopIndex),
		}
	}
	return d
}

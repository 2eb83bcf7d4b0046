package host

import (
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/mochaeng/barq/internal/constants"
)

// ReasonFor maps a BOLT-4 failure code to the reason the classifier acts on.
func ReasonFor(code lnwire.FailCode) constants.FailureReason {
	switch code {
	case lnwire.CodeTemporaryChannelFailure:
		return constants.ReasonInsufficientCapacity

	case lnwire.CodeUnknownNextPeer,
		lnwire.CodeChannelDisabled,
		lnwire.CodePermanentChannelFailure:
		return constants.ReasonChannelUnavailable

	case lnwire.CodeAmountBelowMinimum,
		lnwire.CodeFeeInsufficient,
		lnwire.CodeIncorrectCltvExpiry,
		lnwire.CodeExpiryTooSoon,
		lnwire.CodeExpiryTooFar,
		lnwire.CodeInvalidOnionVersion,
		lnwire.CodeInvalidOnionHmac,
		lnwire.CodeInvalidOnionKey,
		lnwire.CodeInvalidOnionPayload,
		lnwire.CodeRequiredChannelFeatureMissing:
		return constants.ReasonRouteMalformed

	case lnwire.CodeIncorrectOrUnknownPaymentDetails,
		lnwire.CodeIncorrectPaymentAmount,
		lnwire.CodeFinalExpiryTooSoon,
		lnwire.CodeFinalIncorrectCltvExpiry,
		lnwire.CodeFinalIncorrectHtlcAmount:
		return constants.ReasonDestinationRejected

	case lnwire.CodeTemporaryNodeFailure,
		lnwire.CodePermanentNodeFailure,
		lnwire.CodeRequiredNodeFeatureMissing:
		return constants.ReasonNodeFailure

	default:
		return constants.ReasonUnknown
	}
}

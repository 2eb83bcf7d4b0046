// Package host holds the collaborators the routing core consumes from the
// node it is attached to: topology, invoice decoding, the send-and-await
// primitive and invoice status. RPCClient talks to a real node over its
// JSON-RPC interface; SimNetwork implements the same contracts in memory.
package host

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/mochaeng/barq/internal/models"
)

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrInvalidInvoice  = errors.New("invalid invoice")
	ErrInvalidSCID     = errors.New("invalid short channel id")
	ErrInvalidNodeID   = errors.New("invalid node id")
)

// ErrPartialWithoutPartID is returned for a partial payment sent as partid 0.
// Nothing is sent.
var ErrPartialWithoutPartID = errors.New("partial payment needs a non-zero partid")

type TopologySource interface {
	GetInfo(ctx context.Context) (models.NodeInfo, error)
	ListNodes(ctx context.Context) ([]models.Node, error)
	ListChannels(ctx context.Context) ([]models.Channel, error)
}

type InvoiceDecoder interface {
	DecodePay(ctx context.Context, bolt11 string) (models.Invoice, error)
}

type Sender interface {
	SendAndAwait(ctx context.Context, req models.SendRequest) (models.SendResult, error)
}

type InvoiceQuery interface {
	InvoiceStatus(ctx context.Context, paymentHash string) (models.InvoiceStatus, error)
}

// Host is everything the payment service needs from the node.
type Host interface {
	TopologySource
	InvoiceDecoder
	Sender
}

// ParseSCID reads a short channel id in the node's "BLOCKxTXxOUT" form.
func ParseSCID(s string) (lnwire.ShortChannelID, error) {
	parts := strings.Split(s, "x")
	if len(parts) != 3 {
		return lnwire.ShortChannelID{}, fmt.Errorf("%w: %q", ErrInvalidSCID, s)
	}
	block, err1 := strconv.ParseUint(parts[0], 10, 24)
	tx, err2 := strconv.ParseUint(parts[1], 10, 24)
	out, err3 := strconv.ParseUint(parts[2], 10, 16)
	if err := errors.Join(err1, err2, err3); err != nil {
		return lnwire.ShortChannelID{}, fmt.Errorf("%w: %q: %v", ErrInvalidSCID, s, err)
	}
	return lnwire.ShortChannelID{
		BlockHeight: uint32(block),
		TxIndex:     uint32(tx),
		TxPosition:  uint16(out),
	}, nil
}

func FormatSCID(id lnwire.ShortChannelID) string {
	return fmt.Sprintf("%dx%dx%d", id.BlockHeight, id.TxIndex, id.TxPosition)
}

// ValidNodeID reports whether id is a hex encoded compressed public key.
func ValidNodeID(id models.NodeID) error {
	if _, err := route.NewVertexFromStr(string(id)); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidNodeID, id, err)
	}
	return nil
}

// HintChannels turns invoice route hints into directed channels ending at
// destination. Hint channels have no advertised capacity; they are given
// enough to carry amount.
func HintChannels(destination models.NodeID, hints [][]models.RouteHint, amount lnwire.MilliSatoshi) []models.Channel {
	var channels []models.Channel
	for _, path := range hints {
		for i, hint := range path {
			next := destination
			if i+1 < len(path) {
				next = path[i+1].NodeID
			}
			capacity := amount + hint.BaseFee + amount*lnwire.MilliSatoshi(hint.FeePPM)/1_000_000
			channels = append(channels, models.Channel{
				SCID:        hint.SCID,
				Source:      hint.NodeID,
				Destination: next,
				Capacity:    capacity * 2,
				BaseFee:     hint.BaseFee,
				FeePPM:      hint.FeePPM,
				Delay:       hint.Delay,
				Active:      true,
			})
		}
	}
	return channels
}

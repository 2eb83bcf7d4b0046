package models

import (
	"time"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/mochaeng/barq/internal/constants"
)

type PayRequest struct {
	Bolt11   string               `json:"bolt11"`
	Amount   *lnwire.MilliSatoshi `json:"amount_msat,omitempty"`
	Strategy string               `json:"strategy,omitempty"`
	MaxFee   *lnwire.MilliSatoshi `json:"max_fee_msat,omitempty"`
	MaxHops  int                  `json:"max_hops,omitempty"`
	MaxDelay uint32               `json:"max_delay,omitempty"`
	MaxParts int                  `json:"max_parts,omitempty"`
}

type PartResult struct {
	Route  Route                   `json:"route"`
	Amount lnwire.MilliSatoshi     `json:"amount_msat"`
	Status constants.AttemptStatus `json:"status"`
}

type PayResponse struct {
	PaymentHash string                  `json:"payment_hash"`
	Status      constants.PaymentStatus `json:"status"`
	Amount      lnwire.MilliSatoshi     `json:"amount_msat"`
	AmountSent  lnwire.MilliSatoshi     `json:"amount_sent_msat"`
	Fee         lnwire.MilliSatoshi     `json:"fee_msat"`
	Parts       []PartResult            `json:"parts"`
	Message     string                  `json:"message"`
}

func NewPayResponse(p *Payment) PayResponse {
	resp := PayResponse{
		PaymentHash: p.PaymentHash,
		Status:      p.Status,
		Amount:      p.SettledAmount(),
		AmountSent:  p.SentAmount(),
		Fee:         p.SentAmount() - p.SettledAmount(),
		Parts:       make([]PartResult, 0, len(p.Attempts)),
	}
	for _, a := range p.Attempts {
		resp.Parts = append(resp.Parts, PartResult{Route: a.Route, Amount: a.Amount, Status: a.Status})
	}
	if p.Status == constants.PaymentSucceeded {
		resp.Message = "Payment executed successfully"
	} else {
		resp.Message = p.Error
	}
	return resp
}

type RouteInfoRequest struct {
	Destination NodeID              `json:"destination"`
	Amount      lnwire.MilliSatoshi `json:"amount_msat"`
	CLTV        uint32              `json:"cltv"`
	Strategy    string              `json:"strategy,omitempty"`
}

type RouteInfoResponse struct {
	Status    string  `json:"status"`
	RouteInfo []Route `json:"route_info,omitempty"`
}

type ErrorResponse struct {
	Error   string       `json:"error"`
	Code    string       `json:"code"`
	Payment *PayResponse `json:"payment,omitempty"`
}

type HealthResponse struct {
	Status        string    `json:"status"`
	GraphNodes    int       `json:"graph_nodes"`
	GraphChannels int       `json:"graph_channels"`
	RefreshedAt   time.Time `json:"refreshed_at"`
	Stale         bool      `json:"stale"`
}

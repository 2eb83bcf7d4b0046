package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/mochaeng/barq/internal/constants"
	"github.com/mochaeng/barq/internal/models"
	"github.com/valyala/fasthttp"
)

// JSON-RPC error codes the node uses for payment failures.
const (
	codeDestinationPermFail = 203
	codeTryOtherRoute       = 204
)

// DefaultWaitTimeout bounds how long waitsendpay blocks for one attempt.
const DefaultWaitTimeout = 60 * time.Second

type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

type RPCClient struct {
	url         string
	timeout     time.Duration
	waitTimeout time.Duration
	httpClient  *fasthttp.Client
	logger      *slog.Logger
	nextID      atomic.Uint64
}

type RPCOption func(*RPCClient)

func WithHTTPClient(c *fasthttp.Client) RPCOption {
	return func(r *RPCClient) { r.httpClient = c }
}

func WithWaitTimeout(d time.Duration) RPCOption {
	return func(r *RPCClient) { r.waitTimeout = d }
}

func NewRPCClient(url string, timeout time.Duration, logger *slog.Logger, opts ...RPCOption) *RPCClient {
	if logger == nil {
		logger = slog.Default()
	}
	c := &RPCClient{
		url:         url,
		timeout:     timeout,
		waitTimeout: DefaultWaitTimeout,
		httpClient:  &fasthttp.Client{},
		logger:      logger.With("component", "rpc"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RPCClient) call(ctx context.Context, method string, params any, timeout time.Duration, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.httpClient.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("failed to do %s request: %w", method, err)
	}
	if resp.StatusCode() >= 500 {
		return fmt.Errorf("%s failed with status code [%d]", method, resp.StatusCode())
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(resp.Body(), &rpcResp); err != nil {
		return fmt.Errorf("failed to unmarshal %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return nil
}

func (c *RPCClient) GetInfo(ctx context.Context) (models.NodeInfo, error) {
	var info models.NodeInfo
	err := c.call(ctx, "getinfo", map[string]any{}, c.timeout, &info)
	return info, err
}

func (c *RPCClient) ListNodes(ctx context.Context) ([]models.Node, error) {
	var result struct {
		Nodes []models.Node `json:"nodes"`
	}
	if err := c.call(ctx, "listnodes", map[string]any{}, c.timeout, &result); err != nil {
		return nil, err
	}
	return result.Nodes, nil
}

func (c *RPCClient) ListChannels(ctx context.Context) ([]models.Channel, error) {
	var result struct {
		Channels []models.Channel `json:"channels"`
	}
	if err := c.call(ctx, "listchannels", map[string]any{}, c.timeout, &result); err != nil {
		return nil, err
	}

	channels := result.Channels[:0]
	for _, ch := range result.Channels {
		if _, err := ParseSCID(ch.SCID); err != nil {
			c.logger.Debug("skipping channel", "scid", ch.SCID, "error", err)
			continue
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

func (c *RPCClient) DecodePay(ctx context.Context, bolt11 string) (models.Invoice, error) {
	var inv models.Invoice
	err := c.call(ctx, "decodepay", map[string]any{"bolt11": bolt11}, c.timeout, &inv)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return models.Invoice{}, fmt.Errorf("%w: %s", ErrInvalidInvoice, rpcErr.Message)
		}
		return models.Invoice{}, err
	}
	inv.Bolt11 = bolt11
	return inv, nil
}

func (c *RPCClient) InvoiceStatus(ctx context.Context, paymentHash string) (models.InvoiceStatus, error) {
	var result struct {
		Invoices []models.InvoiceStatus `json:"invoices"`
	}
	err := c.call(ctx, "listinvoices", map[string]any{"payment_hash": paymentHash}, c.timeout, &result)
	if err != nil {
		return models.InvoiceStatus{}, err
	}
	if len(result.Invoices) == 0 {
		return models.InvoiceStatus{}, fmt.Errorf("%w: %s", ErrInvoiceNotFound, paymentHash)
	}
	return result.Invoices[0], nil
}

type sendpayHop struct {
	ID        models.NodeID       `json:"id"`
	Channel   string              `json:"channel"`
	Direction int                 `json:"direction"`
	Amount    lnwire.MilliSatoshi `json:"amount_msat"`
	Delay     uint32              `json:"delay"`
	Style     string              `json:"style"`
}

type failureData struct {
	ErringIndex   int    `json:"erring_index"`
	FailCode      uint16 `json:"failcode"`
	ErringChannel string `json:"erring_channel"`
}

// SendAndAwait issues sendpay for one part and blocks in waitsendpay until
// the node reports its outcome.
func (c *RPCClient) SendAndAwait(ctx context.Context, req models.SendRequest) (models.SendResult, error) {
	hops := make([]sendpayHop, len(req.Route.Hops))
	for i, h := range req.Route.Hops {
		hops[i] = sendpayHop{
			ID:        h.ID,
			Channel:   h.Channel,
			Direction: h.Direction,
			Amount:    h.Amount,
			Delay:     h.Delay,
			Style:     "tlv",
		}
	}

	params := map[string]any{
		"route":        hops,
		"payment_hash": req.PaymentHash,
		"partid":       req.PartID,
		"groupid":      req.GroupID,
		"amount_msat":  req.TotalAmount,
	}
	if req.PaymentSecret != "" {
		params["payment_secret"] = req.PaymentSecret
	}
	if err := c.call(ctx, "sendpay", params, c.timeout, nil); err != nil {
		return c.result(req, err)
	}

	var done struct {
		Status   string `json:"status"`
		Preimage string `json:"payment_preimage"`
	}
	wait := map[string]any{
		"payment_hash": req.PaymentHash,
		"partid":       req.PartID,
		"groupid":      req.GroupID,
		"timeout":      int(c.waitTimeout.Seconds()),
	}
	err := c.call(ctx, "waitsendpay", wait, c.waitTimeout+c.timeout, &done)
	if err != nil {
		return c.result(req, err)
	}
	if done.Status != "complete" {
		return models.SendResult{}, fmt.Errorf("unexpected waitsendpay status %q", done.Status)
	}
	return models.SendResult{Settled: true, Preimage: done.Preimage}, nil
}

// result turns a payment RPC error into a failure report. Errors that do not
// describe a failed HTLC are returned as is: the attempt's outcome is
// unknown.
func (c *RPCClient) result(req models.SendRequest, err error) (models.SendResult, error) {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return models.SendResult{}, err
	}
	if rpcErr.Code != codeDestinationPermFail && rpcErr.Code != codeTryOtherRoute {
		return models.SendResult{}, err
	}

	var data failureData
	if len(rpcErr.Data) > 0 {
		if jerr := json.Unmarshal(rpcErr.Data, &data); jerr != nil {
			return models.SendResult{}, fmt.Errorf("failed to unmarshal failure data: %w", jerr)
		}
	}

	code := lnwire.FailCode(data.FailCode)
	report := models.FailureReport{
		HopIndex: data.ErringIndex,
		Reason:   ReasonFor(code),
		Code:     code,
		Message:  rpcErr.Message,
	}
	if rpcErr.Code == codeDestinationPermFail {
		report.Reason = constants.ReasonDestinationRejected
	}
	if hops := req.Route.Hops; data.ErringIndex >= 0 && data.ErringIndex < len(hops) {
		report.Channel = hops[data.ErringIndex].Key()
		report.Amount = hops[data.ErringIndex].Amount
	}

	c.logger.Debug("payment part failed",
		"payment_hash", req.PaymentHash,
		"partid", req.PartID,
		"failcode", code.String(),
		"erring_index", data.ErringIndex,
		"erring_channel", data.ErringChannel,
	)
	return models.SendResult{Failure: &report}, nil
}

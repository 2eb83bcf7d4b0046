package app

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/mochaeng/barq/internal/models"
	"github.com/valyala/fasthttp"
)

func (app *Application) payHandler(ctx *fasthttp.RequestCtx) {
	var req models.PayRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		app.writeError(ctx, models.ErrInvalidRequest, nil)
		return
	}

	payment, err := app.services.Payment.Pay(app.baseCtx, req)
	if err != nil {
		var payErr *models.PaymentError
		if errors.As(err, &payErr) && payErr.Payment != nil {
			resp := models.NewPayResponse(payErr.Payment)
			app.writeError(ctx, err, &resp)
			return
		}
		app.writeError(ctx, err, nil)
		return
	}

	app.writeJSON(ctx, fasthttp.StatusOK, models.NewPayResponse(payment))
}

func (app *Application) routeInfoHandler(ctx *fasthttp.RequestCtx) {
	var req models.RouteInfoRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		app.writeError(ctx, models.ErrInvalidRequest, nil)
		return
	}

	routes, err := app.services.Payment.RouteInfo(app.baseCtx, req)
	if err != nil {
		app.writeError(ctx, err, nil)
		return
	}
	app.writeJSON(ctx, fasthttp.StatusOK, models.RouteInfoResponse{Status: "success", RouteInfo: routes})
}

func (app *Application) getPaymentHandler(ctx *fasthttp.RequestCtx) {
	hash := strings.TrimPrefix(string(ctx.Path()), paymentsPrefix)
	if hash == "" {
		app.writeError(ctx, models.ErrInvalidRequest, nil)
		return
	}

	payment, err := app.services.Payment.GetPayment(app.baseCtx, hash)
	if err != nil {
		app.writeError(ctx, err, nil)
		return
	}
	app.writeJSON(ctx, fasthttp.StatusOK, payment)
}

func (app *Application) refreshHandler(ctx *fasthttp.RequestCtx) {
	if err := app.services.Graph.Refresh(app.baseCtx); err != nil {
		app.writeError(ctx, err, nil)
		return
	}
	app.writeJSON(ctx, fasthttp.StatusOK, app.services.Graph.Status())
}

func (app *Application) healthHandler(ctx *fasthttp.RequestCtx) {
	app.writeJSON(ctx, fasthttp.StatusOK, app.services.Graph.Status())
}

func (app *Application) writeJSON(ctx *fasthttp.RequestCtx, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		app.logger.Error("failed to marshal response", "error", err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(`{"error":"Internal error","code":"internal"}`)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetBody(data)
}

func (app *Application) writeError(ctx *fasthttp.RequestCtx, err error, payment *models.PayResponse) {
	code := models.ErrorCode(err)
	status := statusFor(code)
	if status >= fasthttp.StatusInternalServerError {
		app.logger.Error("request failed", "path", string(ctx.Path()), "error", err)
	} else {
		app.logger.Info("request rejected", "path", string(ctx.Path()), "code", code, "error", err)
	}
	app.writeJSON(ctx, status, models.ErrorResponse{Error: err.Error(), Code: code, Payment: payment})
}

func statusFor(code string) int {
	switch code {
	case "amount_required", "invalid_amount", "strategy_precondition_violated",
		"unknown_strategy", "invalid_request":
		return fasthttp.StatusBadRequest
	case "not_found":
		return fasthttp.StatusNotFound
	case "payment_in_progress":
		return fasthttp.StatusConflict
	case "no_route_found", "destination_rejected", "retry_budget_exhausted",
		"partial_settlement_stuck", "payment_cancelled":
		return fasthttp.StatusUnprocessableEntity
	default:
		return fasthttp.StatusInternalServerError
	}
}

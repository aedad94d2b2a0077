package handlers

import (
	"context"

	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/nimasrn/loyalty-engine/internal/services"
	xhttp "github.com/nimasrn/loyalty-engine/pkg/http"
)

type LedgerService interface {
	Accrue(ctx context.Context, req model.AccrueRequest) (*services.LedgerResult, error)
	Redeem(ctx context.Context, req model.RedeemRequest) (*services.LedgerResult, error)
}

type LedgerHandler struct {
	svc LedgerService
}

func NewLedgerHandler(svc LedgerService) *LedgerHandler {
	return &LedgerHandler{svc: svc}
}

func RegisterLedgerRoutes(e *xhttp.Group, h *LedgerHandler) {
	e.POST("/ledger/accruals", h.Accrue)
	e.POST("/ledger/redemptions", h.Redeem)
}

func (h *LedgerHandler) Accrue(ctx *xhttp.RequestCtx) {
	key, ok := requireIdempotencyKey(ctx)
	if !ok {
		return
	}
	var req model.AccrueRequest
	if err := readJSON(ctx, &req); err != nil {
		writeBadRequest(ctx, "invalid JSON: "+err.Error())
		return
	}
	req.IdempotencyKey = key

	res, err := h.svc.Accrue(ctx, req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeLedgerResult(ctx, res)
}

func (h *LedgerHandler) Redeem(ctx *xhttp.RequestCtx) {
	key, ok := requireIdempotencyKey(ctx)
	if !ok {
		return
	}
	var req model.RedeemRequest
	if err := readJSON(ctx, &req); err != nil {
		writeBadRequest(ctx, "invalid JSON: "+err.Error())
		return
	}
	req.IdempotencyKey = key

	res, err := h.svc.Redeem(ctx, req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeLedgerResult(ctx, res)
}

// writeLedgerResult answers 201 for a new entry and 200 for a replay.
func writeLedgerResult(ctx *xhttp.RequestCtx, res *services.LedgerResult) {
	status := xhttp.StatusCreated
	if res.Replayed {
		status = xhttp.StatusOK
	}
	writeJSON(ctx, status, res)
}

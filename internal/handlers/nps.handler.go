package handlers

import (
	"context"

	"github.com/nimasrn/loyalty-engine/internal/model"
	xhttp "github.com/nimasrn/loyalty-engine/pkg/http"
)

type NPSService interface {
	SubmitNPS(ctx context.Context, req model.SubmitRatingRequest) (*model.NPSResponse, error)
}

type NPSHandler struct {
	svc NPSService
}

func NewNPSHandler(svc NPSService) *NPSHandler {
	return &NPSHandler{svc: svc}
}

func RegisterNPSRoutes(e *xhttp.Group, h *NPSHandler) {
	e.POST("/nps", h.Submit)
}

func (h *NPSHandler) Submit(ctx *xhttp.RequestCtx) {
	var req model.SubmitRatingRequest
	if err := readJSON(ctx, &req); err != nil {
		writeBadRequest(ctx, "invalid JSON: "+err.Error())
		return
	}
	resp, err := h.svc.SubmitNPS(ctx, req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, resp)
}

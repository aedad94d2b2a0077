package handlers

import (
	"context"

	"github.com/nimasrn/loyalty-engine/internal/model"
	xhttp "github.com/nimasrn/loyalty-engine/pkg/http"
)

type DealService interface {
	ActiveDeal(ctx context.Context, sourceID, targetID string) (*model.PartnerDeal, error)
	ListDeals(ctx context.Context, partnerID string) ([]*model.PartnerDeal, error)
	ProposeDeal(ctx context.Context, req model.CreateDealRequest) (*model.PartnerDeal, bool, error)
	RevokeDeal(ctx context.Context, dealID string) (*model.PartnerDeal, error)
}

type DealHandler struct {
	svc DealService
}

func NewDealHandler(svc DealService) *DealHandler {
	return &DealHandler{svc: svc}
}

func RegisterDealRoutes(e *xhttp.Group, h *DealHandler) {
	e.GET("/deals/active", h.GetActive)
	e.GET("/partners/{chat_id}/deals", h.ListForPartner)
	e.POST("/deals", h.Propose)
	e.DELETE("/deals/{deal_id}", h.Revoke)
}

type createDealRequest struct {
	SourcePartnerID string          `json:"source_partner_id"`
	TargetPartnerID string          `json:"target_partner_id"`
	Terms           model.DealTerms `json:"terms"`
	ExpiresAt       string          `json:"expires_at"`
}

type activeDealResponse struct {
	Deal *model.PartnerDeal `json:"deal"`
}

type dealsResponse struct {
	Items []*model.PartnerDeal `json:"items"`
}

// GetActive answers 200 with a null deal when the pair has none, so "none"
// and "lookup failed" never look alike.
func (h *DealHandler) GetActive(ctx *xhttp.RequestCtx) {
	source, target := query(ctx, "source"), query(ctx, "target")
	if source == "" || target == "" {
		writeBadRequest(ctx, "source and target are required")
		return
	}
	deal, err := h.svc.ActiveDeal(ctx, source, target)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, activeDealResponse{Deal: deal})
}

func (h *DealHandler) ListForPartner(ctx *xhttp.RequestCtx) {
	deals, err := h.svc.ListDeals(ctx, pathParam(ctx, "chat_id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	if deals == nil {
		deals = []*model.PartnerDeal{}
	}
	writeJSON(ctx, xhttp.StatusOK, dealsResponse{Items: deals})
}

func (h *DealHandler) Propose(ctx *xhttp.RequestCtx) {
	key, ok := requireIdempotencyKey(ctx)
	if !ok {
		return
	}
	var body createDealRequest
	if err := readJSON(ctx, &body); err != nil {
		writeBadRequest(ctx, "invalid JSON: "+err.Error())
		return
	}
	req := model.CreateDealRequest{
		SourcePartnerID: body.SourcePartnerID,
		TargetPartnerID: body.TargetPartnerID,
		Terms:           body.Terms,
		IdempotencyKey:  key,
	}
	if body.ExpiresAt != "" {
		exp, err := model.ParseTimestamp(body.ExpiresAt)
		if err != nil {
			writeBadRequest(ctx, err.Error())
			return
		}
		req.ExpiresAt = &exp
	}

	deal, replayed, err := h.svc.ProposeDeal(ctx, req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	status := xhttp.StatusCreated
	if replayed {
		status = xhttp.StatusOK
	}
	writeJSON(ctx, status, deal)
}

func (h *DealHandler) Revoke(ctx *xhttp.RequestCtx) {
	deal, err := h.svc.RevokeDeal(ctx, pathParam(ctx, "deal_id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, deal)
}

package handlers

import (
	"context"

	"github.com/nimasrn/loyalty-engine/internal/model"
	xhttp "github.com/nimasrn/loyalty-engine/pkg/http"
)

type PartnerService interface {
	RegisterPartner(ctx context.Context, chatID string, profile model.PartnerProfile) (*model.Partner, bool, error)
	PartnerConfig(ctx context.Context, chatID string) (model.PartnerConfig, error)
	SetPartnerCategory(ctx context.Context, chatID, category string) error
	SetPartnerUIConfig(ctx context.Context, chatID string, values map[string]any) (map[string]any, error)
}

type PartnerHandler struct {
	svc PartnerService
}

func NewPartnerHandler(svc PartnerService) *PartnerHandler {
	return &PartnerHandler{svc: svc}
}

func RegisterPartnerRoutes(e *xhttp.Group, h *PartnerHandler) {
	e.POST("/partners", h.RegisterPartner)
	e.GET("/partners/{chat_id}/config", h.GetConfig)
	e.PUT("/partners/{chat_id}/category", h.SetCategory)
	e.PUT("/partners/{chat_id}/ui-config", h.SetUIConfig)
}

type registerPartnerRequest struct {
	ChatID string `json:"chat_id"`
	model.PartnerProfile
}

type registerPartnerResponse struct {
	Partner *model.Partner `json:"partner"`
	Created bool           `json:"created"`
}

type categoryRequest struct {
	Category string `json:"category"`
}

type uiConfigResponse struct {
	UIConfig map[string]any `json:"ui_config"`
}

func (h *PartnerHandler) RegisterPartner(ctx *xhttp.RequestCtx) {
	var req registerPartnerRequest
	if err := readJSON(ctx, &req); err != nil {
		writeBadRequest(ctx, "invalid JSON: "+err.Error())
		return
	}
	partner, created, err := h.svc.RegisterPartner(ctx, req.ChatID, req.PartnerProfile)
	if err != nil {
		writeError(ctx, err)
		return
	}
	status := xhttp.StatusOK
	if created {
		status = xhttp.StatusCreated
	}
	writeJSON(ctx, status, registerPartnerResponse{Partner: partner, Created: created})
}

// GetConfig answers unknown partners with the empty config.
func (h *PartnerHandler) GetConfig(ctx *xhttp.RequestCtx) {
	cfg, err := h.svc.PartnerConfig(ctx, pathParam(ctx, "chat_id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, cfg)
}

func (h *PartnerHandler) SetCategory(ctx *xhttp.RequestCtx) {
	var req categoryRequest
	if err := readJSON(ctx, &req); err != nil {
		writeBadRequest(ctx, "invalid JSON: "+err.Error())
		return
	}
	if err := h.svc.SetPartnerCategory(ctx, pathParam(ctx, "chat_id"), req.Category); err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, req)
}

// SetUIConfig merges the posted keys into the stored config. A null value
// removes the key.
func (h *PartnerHandler) SetUIConfig(ctx *xhttp.RequestCtx) {
	var values map[string]any
	if err := readJSON(ctx, &values); err != nil {
		writeBadRequest(ctx, "invalid JSON: "+err.Error())
		return
	}
	merged, err := h.svc.SetPartnerUIConfig(ctx, pathParam(ctx, "chat_id"), values)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, uiConfigResponse{UIConfig: merged})
}

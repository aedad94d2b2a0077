// Package admin serves the operator endpoints used by the admin bot:
// approvals, blocks, balance corrections and deal housekeeping.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimasrn/loyalty-engine/internal/handlers"
	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/nimasrn/loyalty-engine/internal/services"
	xhttp "github.com/nimasrn/loyalty-engine/pkg/http"
	"github.com/rs/zerolog/log"
)

type Service interface {
	SetPartnerStatus(ctx context.Context, chatID string, status model.PartnerStatus) error
	SetClientStatus(ctx context.Context, chatID string, status model.ClientStatus) error
	Adjust(ctx context.Context, req model.AdjustRequest) (*services.LedgerResult, error)
	Reconcile(ctx context.Context, clientID string) (*model.ReconcileResult, error)
	RevokeDeal(ctx context.Context, dealID string) (*model.PartnerDeal, error)
	SweepExpiredDeals(ctx context.Context) (int64, error)
	ReferralStats(ctx context.Context, partnerID string) (*model.ReferralStats, error)
	PartnerNPS(ctx context.Context, partnerID string, from, to time.Time) (model.NPSReport, error)
}

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

type adjustmentRequest struct {
	Delta     int64  `json:"delta" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
	PartnerID string `json:"partner_id"`
	// generated when the admin bot does not send one
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *Handler) SetPartnerStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id := c.Param("id")
	if err := h.svc.SetPartnerStatus(c.Request.Context(), id, model.PartnerStatus(req.Status)); err != nil {
		fail(c, err)
		return
	}
	log.Info().Str("partner_id", id).Str("status", req.Status).Msg("partner status changed")
	c.JSON(http.StatusOK, gin.H{"partner_id": id, "status": req.Status})
}

func (h *Handler) SetClientStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id := c.Param("id")
	if err := h.svc.SetClientStatus(c.Request.Context(), id, model.ClientStatus(req.Status)); err != nil {
		fail(c, err)
		return
	}
	log.Info().Str("client_id", id).Str("status", req.Status).Msg("client status changed")
	c.JSON(http.StatusOK, gin.H{"client_id": id, "status": req.Status})
}

func (h *Handler) Adjust(c *gin.Context) {
	var req adjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = c.GetHeader(xhttp.HeaderIdempotencyKey)
	}
	if key == "" {
		badRequest(c, errors.New("idempotency_key or "+xhttp.HeaderIdempotencyKey+" header is required"))
		return
	}

	res, err := h.svc.Adjust(c.Request.Context(), model.AdjustRequest{
		ClientID:       c.Param("id"),
		PartnerID:      req.PartnerID,
		Delta:          req.Delta,
		Reason:         req.Reason,
		IdempotencyKey: key,
	})
	if err != nil {
		fail(c, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (h *Handler) Reconcile(c *gin.Context) {
	res, err := h.svc.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) RevokeDeal(c *gin.Context) {
	deal, err := h.svc.RevokeDeal(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, deal)
}

func (h *Handler) SweepDeals(c *gin.Context) {
	n, err := h.svc.SweepExpiredDeals(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}

func (h *Handler) ReferralStats(c *gin.Context) {
	stats, err := h.svc.ReferralStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// PartnerNPS accepts optional from/to bounds; the window is [from, to).
func (h *Handler) PartnerNPS(c *gin.Context) {
	var from, to time.Time
	for _, b := range []struct {
		name string
		dst  *time.Time
	}{{"from", &from}, {"to", &to}} {
		v := c.Query(b.name)
		if v == "" {
			continue
		}
		t, err := model.ParseTimestamp(v)
		if err != nil {
			badRequest(c, err)
			return
		}
		*b.dst = t
	}

	report, err := h.svc.PartnerNPS(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":      err.Error(),
		"code":       "invalid_argument",
		"request_id": c.GetString(requestIDKey),
	})
}

func fail(c *gin.Context, err error) {
	status, code := handlers.ErrorStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Str("request_id", c.GetString(requestIDKey)).Msg("admin request failed")
		if code == "internal" {
			msg = http.StatusText(status)
		}
	}
	c.JSON(status, gin.H{"error": msg, "code": code, "request_id": c.GetString(requestIDKey)})
}

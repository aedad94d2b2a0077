package handlers

import (
	"context"
	"strings"

	"github.com/nimasrn/loyalty-engine/internal/model"
	xhttp "github.com/nimasrn/loyalty-engine/pkg/http"
)

type ClientService interface {
	RegisterClient(ctx context.Context, chatID string, profile model.ClientProfile, startPayload string) (*model.Client, bool, error)
	GetClient(ctx context.Context, chatID string) (*model.Client, error)
	Balance(ctx context.Context, clientID string) (int64, error)
	History(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error)
}

type ClientHandler struct {
	svc ClientService
}

func NewClientHandler(svc ClientService) *ClientHandler {
	return &ClientHandler{svc: svc}
}

func RegisterClientRoutes(e *xhttp.Group, h *ClientHandler) {
	e.POST("/clients", h.RegisterClient)
	e.GET("/clients/{chat_id}", h.GetClient)
	e.GET("/clients/{chat_id}/balance", h.GetBalance)
	e.GET("/clients/{chat_id}/transactions", h.ListTransactions)
}

type registerClientRequest struct {
	ChatID              string  `json:"chat_id"`
	Name                *string `json:"name"`
	Phone               *string `json:"phone"`
	RegistrationChannel *string `json:"registration_channel"`
	// raw deep-link payload, e.g. "/start partner_42"
	StartPayload string `json:"start_payload"`
}

type registerClientResponse struct {
	Client  *model.Client `json:"client"`
	Created bool          `json:"created"`
}

type balanceResponse struct {
	ClientID string `json:"client_id"`
	Balance  int64  `json:"balance"`
}

type transactionsResponse struct {
	Items []*model.Transaction `json:"items"`
	Total int64                `json:"total"`
}

func (h *ClientHandler) RegisterClient(ctx *xhttp.RequestCtx) {
	var req registerClientRequest
	if err := readJSON(ctx, &req); err != nil {
		writeBadRequest(ctx, "invalid JSON: "+err.Error())
		return
	}
	client, created, err := h.svc.RegisterClient(ctx, req.ChatID, model.ClientProfile{
		Name:                req.Name,
		Phone:               req.Phone,
		RegistrationChannel: req.RegistrationChannel,
	}, req.StartPayload)
	if err != nil {
		writeError(ctx, err)
		return
	}
	status := xhttp.StatusOK
	if created {
		status = xhttp.StatusCreated
	}
	writeJSON(ctx, status, registerClientResponse{Client: client, Created: created})
}

func (h *ClientHandler) GetClient(ctx *xhttp.RequestCtx) {
	client, err := h.svc.GetClient(ctx, pathParam(ctx, "chat_id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, client)
}

func (h *ClientHandler) GetBalance(ctx *xhttp.RequestCtx) {
	chatID := pathParam(ctx, "chat_id")
	balance, err := h.svc.Balance(ctx, chatID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, balanceResponse{ClientID: chatID, Balance: balance})
}

func (h *ClientHandler) ListTransactions(ctx *xhttp.RequestCtx) {
	chatID := pathParam(ctx, "chat_id")
	f := model.TransactionFilter{ClientID: &chatID}

	if v := query(ctx, "partner_id"); v != "" {
		f.PartnerID = &v
	}
	if v := query(ctx, "type"); v != "" {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				f.Types = append(f.Types, model.TransactionType(part))
			}
		}
	}
	var err error
	if f.From, err = queryTime(ctx, "from"); err != nil {
		writeBadRequest(ctx, err.Error())
		return
	}
	if f.To, err = queryTime(ctx, "to"); err != nil {
		writeBadRequest(ctx, err.Error())
		return
	}
	if f.Limit, err = queryInt(ctx, "limit"); err != nil {
		writeBadRequest(ctx, "invalid limit")
		return
	}
	if f.Offset, err = queryInt(ctx, "offset"); err != nil {
		writeBadRequest(ctx, "invalid offset")
		return
	}
	f.Desc = !strings.EqualFold(query(ctx, "order"), "asc")

	items, total, err := h.svc.History(ctx, f)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, transactionsResponse{Items: items, Total: total})
}

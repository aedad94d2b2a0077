package services

import (
	"context"
	"errors"

	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/nimasrn/loyalty-engine/internal/repository"
	"github.com/nimasrn/loyalty-engine/pkg/logger"
)

type ClientRepository interface {
	Upsert(ctx context.Context, chatID string, profile model.ClientProfile) (*model.Client, bool, error)
	FindByChatID(ctx context.Context, chatID string) (*model.Client, error)
	SetStatus(ctx context.Context, chatID string, status model.ClientStatus) error
	Credit(ctx context.Context, chatID string, points int64) error
	Debit(ctx context.Context, chatID string, points int64) error
	CompareAndSetBalance(ctx context.Context, chatID string, expected, actual int64) (bool, error)
	ReferralStats(ctx context.Context, partnerID string) (*model.ReferralStats, error)
}

type PartnerRepository interface {
	Upsert(ctx context.Context, chatID string, profile model.PartnerProfile) (*model.Partner, bool, error)
	FindByChatID(ctx context.Context, chatID string) (*model.Partner, error)
	SetStatus(ctx context.Context, chatID string, status model.PartnerStatus) error
	SetCategory(ctx context.Context, chatID, category string) error
	MergeUIConfig(ctx context.Context, chatID string, values map[string]any) (map[string]any, error)
}

// RegistryService owns client and partner identities. It never touches
// balances or deals.
type RegistryService struct {
	clients  ClientRepository
	partners PartnerRepository
}

func NewRegistryService(clients ClientRepository, partners PartnerRepository) *RegistryService {
	return &RegistryService{
		clients:  clients,
		partners: partners,
	}
}

func (s *RegistryService) UpsertClient(ctx context.Context, chatID string, profile model.ClientProfile) (*model.Client, bool, error) {
	if err := model.ValidateChatID(chatID); err != nil {
		return nil, false, invalid(err)
	}
	c, created, err := s.clients.Upsert(ctx, chatID, profile)
	if err != nil {
		return nil, false, classify("upsert client", err)
	}
	if created {
		logger.Info("client registered", "client_id", chatID, "referring_partner", c.ReferringPartner)
	}
	return c, created, nil
}

func (s *RegistryService) GetClient(ctx context.Context, chatID string) (*model.Client, error) {
	c, err := s.clients.FindByChatID(ctx, chatID)
	if err != nil {
		return nil, mapClientError("get client", chatID, err)
	}
	return c, nil
}

func (s *RegistryService) SetClientStatus(ctx context.Context, chatID string, status model.ClientStatus) error {
	if !status.Valid() {
		return invalid(errors.New("unknown client status " + string(status)))
	}
	if err := s.clients.SetStatus(ctx, chatID, status); err != nil {
		return mapClientError("set client status", chatID, err)
	}
	logger.Info("client status changed", "client_id", chatID, "status", status)
	return nil
}

func (s *RegistryService) ReferralStats(ctx context.Context, partnerID string) (*model.ReferralStats, error) {
	if _, err := s.GetPartner(ctx, partnerID); err != nil {
		return nil, err
	}
	stats, err := s.clients.ReferralStats(ctx, partnerID)
	if err != nil {
		return nil, classify("referral stats", err)
	}
	return stats, nil
}

func (s *RegistryService) UpsertPartner(ctx context.Context, chatID string, profile model.PartnerProfile) (*model.Partner, bool, error) {
	if err := model.ValidateChatID(chatID); err != nil {
		return nil, false, invalid(err)
	}
	p, created, err := s.partners.Upsert(ctx, chatID, profile)
	if err != nil {
		return nil, false, classify("upsert partner", err)
	}
	if created {
		logger.Info("partner registered", "partner_id", chatID)
	}
	return p, created, nil
}

func (s *RegistryService) GetPartner(ctx context.Context, chatID string) (*model.Partner, error) {
	p, err := s.partners.FindByChatID(ctx, chatID)
	if err != nil {
		return nil, mapPartnerError("get partner", chatID, err)
	}
	return p, nil
}

func (s *RegistryService) SetPartnerStatus(ctx context.Context, chatID string, status model.PartnerStatus) error {
	if !status.Valid() {
		return invalid(errors.New("unknown partner status " + string(status)))
	}
	if err := s.partners.SetStatus(ctx, chatID, status); err != nil {
		return mapPartnerError("set partner status", chatID, err)
	}
	logger.Info("partner status changed", "partner_id", chatID, "status", status)
	return nil
}

func (s *RegistryService) SetPartnerCategory(ctx context.Context, chatID, category string) error {
	if category == "" {
		return invalid(errors.New("category is required"))
	}
	if err := s.partners.SetCategory(ctx, chatID, category); err != nil {
		return mapPartnerError("set partner category", chatID, err)
	}
	return nil
}

func (s *RegistryService) SetPartnerUIConfig(ctx context.Context, chatID string, values map[string]any) (map[string]any, error) {
	if len(values) == 0 {
		return nil, invalid(errors.New("ui config is empty"))
	}
	merged, err := s.partners.MergeUIConfig(ctx, chatID, values)
	if err != nil {
		return nil, mapPartnerError("set partner ui config", chatID, err)
	}
	return merged, nil
}

// GetPartnerConfig returns the zero config for unknown partners; callers
// render defaults. Storage failures are still reported.
func (s *RegistryService) GetPartnerConfig(ctx context.Context, chatID string) (model.PartnerConfig, error) {
	p, err := s.partners.FindByChatID(ctx, chatID)
	if errors.Is(err, repository.ErrPartnerNotFound) {
		return model.PartnerConfig{UIConfig: map[string]any{}}, nil
	}
	if err != nil {
		return model.PartnerConfig{}, classify("get partner config", err)
	}
	return p.Config(), nil
}

func mapClientError(op, chatID string, err error) error {
	switch {
	case errors.Is(err, repository.ErrClientNotFound):
		return notFound("client", chatID)
	case errors.Is(err, repository.ErrInsufficientBalance):
		return ErrInsufficientBalance
	}
	return classify(op, err)
}

func mapPartnerError(op, chatID string, err error) error {
	switch {
	case errors.Is(err, repository.ErrPartnerNotFound):
		return notFound("partner", chatID)
	case errors.Is(err, repository.ErrPartnerNotApproved):
		return ErrPartnerNotApproved
	}
	return classify(op, err)
}

package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/nimasrn/loyalty-engine/internal/repository"
	"github.com/nimasrn/loyalty-engine/pkg/logger"
	"github.com/nimasrn/loyalty-engine/pkg/prom"
	"github.com/oklog/ulid/v2"
)

const dealIDPrefix = "deal"

type DealRepository interface {
	FindActive(ctx context.Context, sourceID, targetID string) (*model.PartnerDeal, error)
	FindByID(ctx context.Context, id string) (*model.PartnerDeal, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*model.PartnerDeal, error)
	Create(ctx context.Context, deal *model.PartnerDeal, now time.Time) (*model.PartnerDeal, error)
	Revoke(ctx context.Context, id string, now time.Time) (*model.PartnerDeal, error)
	ListByPartner(ctx context.Context, partnerID string) ([]*model.PartnerDeal, error)
	ExpireLapsed(ctx context.Context, now time.Time) (int64, error)
}

// PartnerLookup is the slice of the registry the deal manager needs.
type PartnerLookup interface {
	GetPartner(ctx context.Context, chatID string) (*model.Partner, error)
}

type DealService struct {
	deals    DealRepository
	partners PartnerLookup
	now      func() time.Time
}

func NewDealService(deals DealRepository, partners PartnerLookup) *DealService {
	return &DealService{
		deals:    deals,
		partners: partners,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source, mainly for tests.
func (s *DealService) WithClock(now func() time.Time) *DealService {
	s.now = now
	return s
}

func newDealID() string {
	return dealIDPrefix + "_" + ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// GetActiveDeal returns the deal that applies to (source, target) right now,
// or nil when there is none. An expired row still marked active reads as
// none and is left untouched.
func (s *DealService) GetActiveDeal(ctx context.Context, sourceID, targetID string) (*model.PartnerDeal, error) {
	deal, err := s.deals.FindActive(ctx, sourceID, targetID)
	if errors.Is(err, repository.ErrDealNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get active deal", err)
	}
	if !deal.IsActiveAt(s.now()) {
		return nil, nil
	}
	return deal, nil
}

func (s *DealService) CreateDeal(ctx context.Context, req model.CreateDealRequest) (*model.PartnerDeal, bool, error) {
	now := s.now().UTC()
	if err := req.Validate(now); err != nil {
		prom.RecordDealOperation("create", prom.ResultRejected)
		return nil, false, invalid(err)
	}
	if req.IdempotencyKey == "" {
		return nil, false, ErrIdempotencyKeyRequired
	}

	if deal, err := s.replayDeal(ctx, req); deal != nil || err != nil {
		return deal, deal != nil, err
	}

	for _, id := range []string{req.SourcePartnerID, req.TargetPartnerID} {
		p, err := s.partners.GetPartner(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if !p.Approved() {
			return nil, false, ErrPartnerNotApproved
		}
	}

	deal := &model.PartnerDeal{
		ID:              newDealID(),
		SourcePartnerID: req.SourcePartnerID,
		TargetPartnerID: req.TargetPartnerID,
		Status:          model.DealStatusActive,
		Terms:           req.Terms,
		IdempotencyKey:  req.IdempotencyKey,
		CreatedAt:       now,
		ExpiresAt:       req.ExpiresAt,
	}
	if deal.ExpiresAt != nil {
		exp := deal.ExpiresAt.UTC()
		deal.ExpiresAt = &exp
	}

	created, err := s.deals.Create(ctx, deal, now)
	if errors.Is(err, repository.ErrActiveDealExists) {
		// the unique index also guards the idempotency key; a concurrent
		// retry of this very request lands here
		if replayed, rerr := s.replayDeal(ctx, req); replayed != nil || rerr != nil {
			return replayed, replayed != nil, rerr
		}
		prom.RecordDealOperation("create", prom.ResultRejected)
		return nil, false, ErrConflict
	}
	if err != nil {
		prom.RecordDealOperation("create", prom.ResultError)
		return nil, false, classify("create deal", err)
	}

	prom.RecordDealOperation("create", prom.ResultOK)
	logger.Info("deal created", "deal_id", created.ID, "source_partner_id", created.SourcePartnerID, "target_partner_id", created.TargetPartnerID)
	return created, false, nil
}

func (s *DealService) replayDeal(ctx context.Context, req model.CreateDealRequest) (*model.PartnerDeal, error) {
	existing, err := s.deals.FindByIdempotencyKey(ctx, req.IdempotencyKey)
	if errors.Is(err, repository.ErrDealNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find deal by idempotency key", err)
	}
	if existing.SourcePartnerID != req.SourcePartnerID || existing.TargetPartnerID != req.TargetPartnerID {
		return nil, fmt.Errorf("%w: idempotency key %s was used for a different deal", ErrConflict, req.IdempotencyKey)
	}
	prom.RecordDealOperation("create", prom.ResultReplayed)
	return existing, nil
}

func (s *DealService) RevokeDeal(ctx context.Context, dealID string) (*model.PartnerDeal, error) {
	deal, err := s.deals.Revoke(ctx, dealID, s.now())
	if errors.Is(err, repository.ErrDealNotFound) {
		prom.RecordDealOperation("revoke", prom.ResultRejected)
		return nil, notFound("deal", dealID)
	}
	if err != nil {
		prom.RecordDealOperation("revoke", prom.ResultError)
		return nil, classify("revoke deal", err)
	}
	prom.RecordDealOperation("revoke", prom.ResultOK)
	logger.Info("deal revoked", "deal_id", dealID)
	return deal, nil
}

func (s *DealService) GetDeal(ctx context.Context, dealID string) (*model.PartnerDeal, error) {
	deal, err := s.deals.FindByID(ctx, dealID)
	if errors.Is(err, repository.ErrDealNotFound) {
		return nil, notFound("deal", dealID)
	}
	if err != nil {
		return nil, classify("get deal", err)
	}
	return deal, nil
}

// ListDeals returns the partner's deals in both directions with the status a
// reader should see now.
func (s *DealService) ListDeals(ctx context.Context, partnerID string) ([]*model.PartnerDeal, error) {
	deals, err := s.deals.ListByPartner(ctx, partnerID)
	if err != nil {
		return nil, classify("list deals", err)
	}
	now := s.now()
	for _, d := range deals {
		d.Status = d.EffectiveStatus(now)
	}
	return deals, nil
}

// SweepExpired is advisory cleanup; nothing reads correctness from it.
func (s *DealService) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.deals.ExpireLapsed(ctx, s.now())
	if err != nil {
		prom.RecordDealOperation("sweep", prom.ResultError)
		return 0, classify("sweep expired deals", err)
	}
	prom.RecordDealOperation("sweep", prom.ResultOK)
	if n > 0 {
		logger.Info("expired deals swept", "count", n)
	}
	return n, nil
}

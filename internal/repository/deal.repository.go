package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/nimasrn/loyalty-engine/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDealNotFound     = errors.New("deal not found")
	ErrActiveDealExists = errors.New("an active deal already exists for this partner pair")
)

type DealRepository struct {
	*pg.DB
}

func NewDealRepository(db *pg.DB) *DealRepository {
	return &DealRepository{
		db,
	}
}

// FindActive returns the row currently holding the pair slot. The row may
// be past its expiry; callers decide with IsActiveAt. Nothing is written.
func (r *DealRepository) FindActive(ctx context.Context, sourceID, targetID string) (*model.PartnerDeal, error) {
	var entity PartnerDealEntity
	err := r.Read(ctx).Where("active_pair = ?", model.PairKey(sourceID, targetID)).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDealNotFound
		}
		return nil, err
	}
	return toPartnerDealModel(&entity), nil
}

func (r *DealRepository) FindByID(ctx context.Context, id string) (*model.PartnerDeal, error) {
	var entity PartnerDealEntity
	if err := r.Read(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDealNotFound
		}
		return nil, err
	}
	return toPartnerDealModel(&entity), nil
}

func (r *DealRepository) FindByIdempotencyKey(ctx context.Context, key string) (*model.PartnerDeal, error) {
	var entity PartnerDealEntity
	if err := r.Read(ctx).Where("idempotency_key = ?", key).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDealNotFound
		}
		return nil, err
	}
	return toPartnerDealModel(&entity), nil
}

// Create inserts deal as the active deal of its pair. A slot holder that is
// still live at now yields ErrActiveDealExists; one that lapsed is retired
// first. Losing a race on the unique index yields the same error.
func (r *DealRepository) Create(ctx context.Context, deal *model.PartnerDeal, now time.Time) (*model.PartnerDeal, error) {
	entity := toPartnerDealEntity(deal)

	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		var holder PartnerDealEntity
		err := r.Write(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("active_pair = ?", model.PairKey(deal.SourcePartnerID, deal.TargetPartnerID)).
			First(&holder).Error
		switch {
		case err == nil:
			if toPartnerDealModel(&holder).IsActiveAt(now) {
				return ErrActiveDealExists
			}
			err = r.Write(ctx).Model(&PartnerDealEntity{}).
				Where("id = ? AND active_pair IS NOT NULL", holder.ID).
				Updates(map[string]interface{}{
					"status":      string(model.DealStatusExpired),
					"active_pair": nil,
				}).Error
			if err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		if err := r.Write(ctx).Create(entity).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrActiveDealExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toPartnerDealModel(entity), nil
}

// Revoke retires the deal whatever its current status.
func (r *DealRepository) Revoke(ctx context.Context, id string, now time.Time) (*model.PartnerDeal, error) {
	res := r.Write(ctx).Model(&PartnerDealEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      string(model.DealStatusRevoked),
			"active_pair": nil,
			"revoked_at":  now.UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrDealNotFound
	}
	return r.FindByID(ctx, id)
}

// ListByPartner returns deals in both directions, newest first.
func (r *DealRepository) ListByPartner(ctx context.Context, partnerID string) ([]*model.PartnerDeal, error) {
	var entities []*PartnerDealEntity
	err := r.Read(ctx).
		Where("source_partner_id = ? OR target_partner_id = ?", partnerID, partnerID).
		Order("created_at DESC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	deals := make([]*model.PartnerDeal, len(entities))
	for i, e := range entities {
		deals[i] = toPartnerDealModel(e)
	}
	return deals, nil
}

// ExpireLapsed flips active rows whose expiry has passed. Readers never
// depend on it having run.
func (r *DealRepository) ExpireLapsed(ctx context.Context, now time.Time) (int64, error) {
	res := r.Write(ctx).Model(&PartnerDealEntity{}).
		Where("active_pair IS NOT NULL AND expires_at IS NOT NULL AND expires_at <= ?", now.UTC()).
		Updates(map[string]interface{}{
			"status":      string(model.DealStatusExpired),
			"active_pair": nil,
		})
	return res.RowsAffected, res.Error
}

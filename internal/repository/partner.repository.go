package repository

import (
	"context"
	"errors"

	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/nimasrn/loyalty-engine/pkg/pg"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPartnerNotFound    = errors.New("partner not found")
	ErrPartnerNotApproved = errors.New("partner is not approved")
)

type PartnerRepository struct {
	*pg.DB
}

func NewPartnerRepository(db *pg.DB) *PartnerRepository {
	return &PartnerRepository{
		db,
	}
}

// Upsert registers a partner as pending or merges profile fields into an
// existing one. Status is never touched here.
func (r *PartnerRepository) Upsert(ctx context.Context, chatID string, profile model.PartnerProfile) (*model.Partner, bool, error) {
	var created bool
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		res := r.Write(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "chat_id"}}, DoNothing: true}).
			Create(newPartnerEntity(chatID, profile))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			created = true
			return nil
		}
		if updates := partnerProfileUpdates(profile); len(updates) > 0 {
			return r.Write(ctx).Model(&PartnerEntity{}).Where("chat_id = ?", chatID).Updates(updates).Error
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	p, err := r.FindByChatID(ctx, chatID)
	if err != nil {
		return nil, false, err
	}
	return p, created, nil
}

func (r *PartnerRepository) FindByChatID(ctx context.Context, chatID string) (*model.Partner, error) {
	var entity PartnerEntity
	err := r.Read(ctx).Where("chat_id = ?", chatID).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPartnerNotFound
		}
		return nil, err
	}
	return toPartnerModel(&entity), nil
}

func (r *PartnerRepository) SetStatus(ctx context.Context, chatID string, status model.PartnerStatus) error {
	res := r.Write(ctx).Model(&PartnerEntity{}).Where("chat_id = ?", chatID).Update("status", string(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrPartnerNotFound
	}
	return nil
}

func (r *PartnerRepository) SetCategory(ctx context.Context, chatID, category string) error {
	res := r.Write(ctx).Model(&PartnerEntity{}).
		Where("chat_id = ? AND status = ?", chatID, string(model.PartnerStatusApproved)).
		Update("category", category)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	return r.approvalFailureReason(ctx, chatID)
}

// MergeUIConfig overlays values onto the stored UI configuration. A nil
// value removes the key.
func (r *PartnerRepository) MergeUIConfig(ctx context.Context, chatID string, values map[string]any) (map[string]any, error) {
	var merged datatypes.JSONMap
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		var entity PartnerEntity
		err := r.Write(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("chat_id = ?", chatID).
			First(&entity).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPartnerNotFound
			}
			return err
		}
		if entity.Status != string(model.PartnerStatusApproved) {
			return ErrPartnerNotApproved
		}

		merged = datatypes.JSONMap{}
		for k, v := range entity.UIConfig {
			merged[k] = v
		}
		for k, v := range values {
			if v == nil {
				delete(merged, k)
				continue
			}
			merged[k] = v
		}
		return r.Write(ctx).Model(&PartnerEntity{}).Where("chat_id = ?", chatID).Update("ui_config", merged).Error
	})
	if err != nil {
		return nil, err
	}
	return map[string]any(merged), nil
}

func (r *PartnerRepository) approvalFailureReason(ctx context.Context, chatID string) error {
	var entity PartnerEntity
	err := r.Write(ctx).Select("status").Where("chat_id = ?", chatID).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPartnerNotFound
		}
		return err
	}
	return ErrPartnerNotApproved
}

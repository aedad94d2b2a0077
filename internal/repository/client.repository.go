package repository

import (
	"context"
	"errors"

	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/nimasrn/loyalty-engine/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrClientNotFound      = errors.New("client not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

type ClientRepository struct {
	*pg.DB
}

func NewClientRepository(db *pg.DB) *ClientRepository {
	return &ClientRepository{
		db,
	}
}

// Upsert creates the client on first contact or merges the supplied profile
// fields. The referring partner is only written while it is still empty, so
// concurrent first contacts with different referrals keep the first one.
func (r *ClientRepository) Upsert(ctx context.Context, chatID string, profile model.ClientProfile) (*model.Client, bool, error) {
	var created bool
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		res := r.Write(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "chat_id"}}, DoNothing: true}).
			Create(newClientEntity(chatID, profile))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			created = true
			return nil
		}

		if updates := profileUpdates(profile); len(updates) > 0 {
			if err := r.Write(ctx).Model(&ClientEntity{}).Where("chat_id = ?", chatID).Updates(updates).Error; err != nil {
				return err
			}
		}
		if profile.ReferringPartner != nil && *profile.ReferringPartner != "" {
			err := r.Write(ctx).Model(&ClientEntity{}).
				Where("chat_id = ? AND referring_partner IS NULL", chatID).
				Updates(map[string]interface{}{
					"referring_partner":   *profile.ReferringPartner,
					"referral_attributed": profile.ReferralAttributed,
				}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	c, err := r.FindByChatID(ctx, chatID)
	if err != nil {
		return nil, false, err
	}
	return c, created, nil
}

func (r *ClientRepository) FindByChatID(ctx context.Context, chatID string) (*model.Client, error) {
	var entity ClientEntity
	err := r.Read(ctx).Where("chat_id = ?", chatID).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	return toClientModel(&entity), nil
}

func (r *ClientRepository) SetStatus(ctx context.Context, chatID string, status model.ClientStatus) error {
	res := r.Write(ctx).Model(&ClientEntity{}).Where("chat_id = ?", chatID).Update("status", string(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrClientNotFound
	}
	return nil
}

// Credit adds points to the balance counter. Accruals commute, so no
// guard is needed.
func (r *ClientRepository) Credit(ctx context.Context, chatID string, points int64) error {
	res := r.Write(ctx).Model(&ClientEntity{}).
		Where("chat_id = ?", chatID).
		Update("balance", gorm.Expr("balance + ?", points))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrClientNotFound
	}
	return nil
}

// Debit is the single conditional write behind every redemption: the row is
// only touched when the counter still covers the points at write time.
func (r *ClientRepository) Debit(ctx context.Context, chatID string, points int64) error {
	res := r.Write(ctx).Model(&ClientEntity{}).
		Where("chat_id = ? AND balance >= ?", chatID, points).
		Update("balance", gorm.Expr("balance - ?", points))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	return r.debitFailureReason(ctx, chatID)
}

func (r *ClientRepository) debitFailureReason(ctx context.Context, chatID string) error {
	var count int64
	if err := r.Write(ctx).Model(&ClientEntity{}).Where("chat_id = ?", chatID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrClientNotFound
	}
	return ErrInsufficientBalance
}

// CompareAndSetBalance repairs the counter only if nobody moved it since
// expected was read.
func (r *ClientRepository) CompareAndSetBalance(ctx context.Context, chatID string, expected, actual int64) (bool, error) {
	res := r.Write(ctx).Model(&ClientEntity{}).
		Where("chat_id = ? AND balance = ?", chatID, expected).
		Update("balance", actual)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *ClientRepository) ReferralStats(ctx context.Context, partnerID string) (*model.ReferralStats, error) {
	var row struct {
		Total      int64
		Attributed int64
	}
	err := r.Read(ctx).Model(&ClientEntity{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN referral_attributed THEN 1 ELSE 0 END), 0) AS attributed").
		Where("referring_partner = ?", partnerID).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &model.ReferralStats{PartnerID: partnerID, Total: row.Total, Attributed: row.Attributed}, nil
}

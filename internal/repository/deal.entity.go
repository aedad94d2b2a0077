package repository

import (
	"time"

	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/shopspring/decimal"
)

// PartnerDealEntity keeps the ordered pair in ActivePair while the deal is
// active. The unique index on it is what stops two active deals per pair;
// every other status stores NULL, which the index ignores.
type PartnerDealEntity struct {
	ID              string          `db:"id"                gorm:"primaryKey;column:id;size:40"`
	SourcePartnerID string          `db:"source_partner_id" gorm:"column:source_partner_id;size:64;not null;index:idx_partner_deals_pair,priority:1"`
	TargetPartnerID string          `db:"target_partner_id" gorm:"column:target_partner_id;size:64;not null;index:idx_partner_deals_pair,priority:2"`
	Status          string          `db:"status"            gorm:"column:status;size:16;not null"`
	ActivePair      *string         `db:"active_pair"       gorm:"column:active_pair;size:140;uniqueIndex"`
	ConversionRate  decimal.Decimal `db:"conversion_rate"   gorm:"column:conversion_rate;type:numeric(10,4);not null"`
	PointCap        int64           `db:"point_cap"         gorm:"column:point_cap;not null;default:0"`
	IdempotencyKey  *string         `db:"idempotency_key"   gorm:"column:idempotency_key;size:128;uniqueIndex"`
	CreatedAt       time.Time       `db:"created_at"        gorm:"column:created_at;autoCreateTime"`
	ExpiresAt       *time.Time      `db:"expires_at"        gorm:"column:expires_at;index"`
	RevokedAt       *time.Time      `db:"revoked_at"        gorm:"column:revoked_at"`
}

func (PartnerDealEntity) TableName() string {
	return "partner_deals"
}

func toPartnerDealEntity(m *model.PartnerDeal) *PartnerDealEntity {
	e := &PartnerDealEntity{
		ID:              m.ID,
		SourcePartnerID: m.SourcePartnerID,
		TargetPartnerID: m.TargetPartnerID,
		Status:          string(m.Status),
		ConversionRate:  m.Terms.ConversionRate,
		PointCap:        m.Terms.PointCap,
		CreatedAt:       m.CreatedAt,
		ExpiresAt:       utcPtr(m.ExpiresAt),
		RevokedAt:       utcPtr(m.RevokedAt),
	}
	if m.Status == model.DealStatusActive {
		pair := model.PairKey(m.SourcePartnerID, m.TargetPartnerID)
		e.ActivePair = &pair
	}
	if m.IdempotencyKey != "" {
		key := m.IdempotencyKey
		e.IdempotencyKey = &key
	}
	return e
}

func toPartnerDealModel(e *PartnerDealEntity) *model.PartnerDeal {
	if e == nil {
		return nil
	}
	d := &model.PartnerDeal{
		ID:              e.ID,
		SourcePartnerID: e.SourcePartnerID,
		TargetPartnerID: e.TargetPartnerID,
		Status:          model.DealStatus(e.Status),
		Terms: model.DealTerms{
			ConversionRate: e.ConversionRate,
			PointCap:       e.PointCap,
		},
		CreatedAt: e.CreatedAt.UTC(),
		ExpiresAt: utcPtr(e.ExpiresAt),
		RevokedAt: utcPtr(e.RevokedAt),
	}
	if e.IdempotencyKey != nil {
		d.IdempotencyKey = *e.IdempotencyKey
	}
	return d
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

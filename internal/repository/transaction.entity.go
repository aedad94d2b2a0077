package repository

import (
	"time"

	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/shopspring/decimal"
)

type TransactionEntity struct {
	ID             int64           `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	ClientID       string          `db:"client_id"       gorm:"column:client_id;size:64;not null;index:idx_transactions_client_created,priority:1"`
	PartnerID      string          `db:"partner_id"      gorm:"column:partner_id;size:64;not null;index"`
	Amount         decimal.Decimal `db:"amount"          gorm:"column:amount;type:numeric(18,2);not null"`
	Earned         int64           `db:"earned"          gorm:"column:earned;not null;check:chk_transactions_earned,earned >= 0"`
	Spent          int64           `db:"spent"           gorm:"column:spent;not null;check:chk_transactions_spent,spent >= 0"`
	Type           string          `db:"type"            gorm:"column:type;size:16;not null"`
	Description    string          `db:"description"     gorm:"column:description;not null;default:''"`
	DealID         *string         `db:"deal_id"         gorm:"column:deal_id;size:40"`
	IdempotencyKey string          `db:"idempotency_key" gorm:"column:idempotency_key;size:128;not null;uniqueIndex"`
	CreatedAt      time.Time       `db:"created_at"      gorm:"column:created_at;autoCreateTime;index:idx_transactions_client_created,priority:2"`
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	return &TransactionEntity{
		ID:             m.ID,
		ClientID:       m.ClientID,
		PartnerID:      m.PartnerID,
		Amount:         m.Amount,
		Earned:         m.Earned,
		Spent:          m.Spent,
		Type:           string(m.Type),
		Description:    m.Description,
		DealID:         m.DealID,
		IdempotencyKey: m.IdempotencyKey,
		CreatedAt:      m.CreatedAt,
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:             e.ID,
		ClientID:       e.ClientID,
		PartnerID:      e.PartnerID,
		Amount:         e.Amount,
		Earned:         e.Earned,
		Spent:          e.Spent,
		Type:           model.TransactionType(e.Type),
		Description:    e.Description,
		DealID:         e.DealID,
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      e.CreatedAt.UTC(),
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}

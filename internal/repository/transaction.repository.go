package repository

import (
	"context"
	"errors"

	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/nimasrn/loyalty-engine/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
)

type TransactionRepository struct {
	*pg.DB
}

func NewTransactionRepository(db *pg.DB) *TransactionRepository {
	return &TransactionRepository{
		db,
	}
}

// Append inserts a ledger entry. Callers wrap it in the same transaction as
// the balance counter update.
func (r *TransactionRepository) Append(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	entity := toTransactionEntity(txn)

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateIdempotencyKey
		}
		return nil, err
	}

	return toTransactionModel(entity), nil
}

func (r *TransactionRepository) FindByID(ctx context.Context, id int64) (*model.Transaction, error) {
	var entity TransactionEntity
	if err := r.Read(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

func (r *TransactionRepository) FindByIdempotencyKey(ctx context.Context, key string) (*model.Transaction, error) {
	var entity TransactionEntity
	if err := r.Read(ctx).Where("idempotency_key = ?", key).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

// SumBalance derives the balance from the log: sum(earned) - sum(spent).
func (r *TransactionRepository) SumBalance(ctx context.Context, clientID string) (int64, error) {
	var row struct {
		Earned int64
		Spent  int64
	}
	err := r.Read(ctx).Model(&TransactionEntity{}).
		Select("COALESCE(SUM(earned), 0) AS earned, COALESCE(SUM(spent), 0) AS spent").
		Where("client_id = ?", clientID).
		Scan(&row).Error
	if err != nil {
		return 0, err
	}
	return row.Earned - row.Spent, nil
}

func (r *TransactionRepository) List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	q := r.Read(ctx).Model(&TransactionEntity{})

	if f.ClientID != nil {
		q = q.Where("client_id = ?", *f.ClientID)
	}
	if f.PartnerID != nil {
		q = q.Where("partner_id = ?", *f.PartnerID)
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		q = q.Where("type IN ?", types)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("created_at < ?", f.To.UTC())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at ASC, id ASC"
	if f.Desc {
		order = "created_at DESC, id DESC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*TransactionEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toTransactionModels(entities), total, nil
}

// ClientIDs pages through every client that has ledger entries, used by
// the full reconciliation pass.
func (r *TransactionRepository) ClientIDs(ctx context.Context, after string, limit int) ([]string, error) {
	var ids []string
	err := r.Read(ctx).Model(&TransactionEntity{}).
		Distinct("client_id").
		Where("client_id > ?", after).
		Order("client_id").
		Limit(limit).
		Pluck("client_id", &ids).Error
	return ids, err
}

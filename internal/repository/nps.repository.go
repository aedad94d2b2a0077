package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/nimasrn/loyalty-engine/pkg/pg"
	"gorm.io/gorm"
)

var ErrResponseExists = errors.New("a response for this transaction already exists")

type NPSRepository struct {
	*pg.DB
}

func NewNPSRepository(db *pg.DB) *NPSRepository {
	return &NPSRepository{
		db,
	}
}

// Insert writes a response. The transaction id is the primary key, so a
// second response for the same transaction fails with ErrResponseExists.
func (r *NPSRepository) Insert(ctx context.Context, resp *model.NPSResponse) (*model.NPSResponse, error) {
	entity := &NPSResponseEntity{
		TransactionID: resp.TransactionID,
		ClientID:      resp.ClientID,
		PartnerID:     resp.PartnerID,
		Rating:        resp.Rating,
		Comment:       resp.Comment,
		CreatedAt:     resp.CreatedAt,
	}
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrResponseExists
		}
		return nil, err
	}
	return toNPSResponseModel(entity), nil
}

// RatingsForPartner returns the ratings given for a partner's transactions
// in [from, to). Zero bounds are open.
func (r *NPSRepository) RatingsForPartner(ctx context.Context, partnerID string, from, to time.Time) ([]int, error) {
	q := r.Read(ctx).Model(&NPSResponseEntity{}).Where("partner_id = ?", partnerID)
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from.UTC())
	}
	if !to.IsZero() {
		q = q.Where("created_at < ?", to.UTC())
	}
	var ratings []int
	if err := q.Pluck("rating", &ratings).Error; err != nil {
		return nil, err
	}
	return ratings, nil
}

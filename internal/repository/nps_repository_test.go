package repository

import (
	"context"
	"testing"
	"time"

	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNPSRepository_Insert(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNPSRepository(db.DB)
	ctx := context.Background()

	resp, err := repo.Insert(ctx, &model.NPSResponse{TransactionID: 1, ClientID: "c1", PartnerID: "p1", Rating: 9})
	require.NoError(t, err)
	assert.Equal(t, 9, resp.Rating)

	_, err = repo.Insert(ctx, &model.NPSResponse{TransactionID: 1, ClientID: "c1", PartnerID: "p1", Rating: 3})
	assert.ErrorIs(t, err, ErrResponseExists)
}

func TestNPSRepository_RatingsForPartner(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNPSRepository(db.DB)
	ctx := context.Background()
	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	for i, rating := range []int{9, 9, 10, 2, 7} {
		_, err := repo.Insert(ctx, &model.NPSResponse{
			TransactionID: int64(i + 1),
			ClientID:      "c1",
			PartnerID:     "p1",
			Rating:        rating,
			CreatedAt:     base.Add(time.Duration(i) * 24 * time.Hour),
		})
		require.NoError(t, err)
	}
	_, err := repo.Insert(ctx, &model.NPSResponse{TransactionID: 99, ClientID: "c1", PartnerID: "p2", Rating: 0})
	require.NoError(t, err)

	all, err := repo.RatingsForPartner(ctx, "p1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{9, 9, 10, 2, 7}, all)

	window, err := repo.RatingsForPartner(ctx, "p1", base.Add(24*time.Hour), base.Add(3*24*time.Hour))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{9, 10}, window)
}

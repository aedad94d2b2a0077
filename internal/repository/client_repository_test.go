package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestClientRepository_Upsert(t *testing.T) {
	db := setupTestDB(t)
	repo := NewClientRepository(db.DB)
	ctx := context.Background()

	t.Run("creates on first contact", func(t *testing.T) {
		c, created, err := repo.Upsert(ctx, "100", model.ClientProfile{
			Name:             strPtr("Sara"),
			ReferringPartner: strPtr("42"),
		})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "Sara", c.Name)
		assert.Equal(t, model.ClientStatusActive, c.Status)
		assert.Equal(t, int64(0), c.Balance)
		require.NotNil(t, c.ReferringPartner)
		assert.Equal(t, "42", *c.ReferringPartner)
	})

	t.Run("merges supplied fields only", func(t *testing.T) {
		c, created, err := repo.Upsert(ctx, "100", model.ClientProfile{Phone: strPtr("+98912")})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "Sara", c.Name)
		assert.Equal(t, "+98912", c.Phone)
	})

	t.Run("referring partner is first write wins", func(t *testing.T) {
		c, _, err := repo.Upsert(ctx, "100", model.ClientProfile{ReferringPartner: strPtr("7")})
		require.NoError(t, err)
		assert.Equal(t, "42", *c.ReferringPartner)
	})

	t.Run("referring partner set later when empty", func(t *testing.T) {
		_, _, err := repo.Upsert(ctx, "101", model.ClientProfile{})
		require.NoError(t, err)
		c, _, err := repo.Upsert(ctx, "101", model.ClientProfile{ReferringPartner: strPtr("7"), ReferralAttributed: true})
		require.NoError(t, err)
		require.NotNil(t, c.ReferringPartner)
		assert.Equal(t, "7", *c.ReferringPartner)
		assert.True(t, c.ReferralAttributed)
	})
}

func TestClientRepository_FindAndStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewClientRepository(db.DB)
	ctx := context.Background()

	_, err := repo.FindByChatID(ctx, "missing")
	assert.ErrorIs(t, err, ErrClientNotFound)
	assert.ErrorIs(t, repo.SetStatus(ctx, "missing", model.ClientStatusBlocked), ErrClientNotFound)

	_, _, err = repo.Upsert(ctx, "1", model.ClientProfile{})
	require.NoError(t, err)
	require.NoError(t, repo.SetStatus(ctx, "1", model.ClientStatusBlocked))

	c, err := repo.FindByChatID(ctx, "1")
	require.NoError(t, err)
	assert.True(t, c.Blocked())
}

func TestClientRepository_Debit(t *testing.T) {
	db := setupTestDB(t)
	repo := NewClientRepository(db.DB)
	ctx := context.Background()

	_, _, err := repo.Upsert(ctx, "1", model.ClientProfile{})
	require.NoError(t, err)
	require.NoError(t, repo.Credit(ctx, "1", 100))

	t.Run("insufficient", func(t *testing.T) {
		assert.ErrorIs(t, repo.Debit(ctx, "1", 101), ErrInsufficientBalance)
	})
	t.Run("not found", func(t *testing.T) {
		assert.ErrorIs(t, repo.Debit(ctx, "2", 1), ErrClientNotFound)
		assert.ErrorIs(t, repo.Credit(ctx, "2", 1), ErrClientNotFound)
	})
	t.Run("exact balance", func(t *testing.T) {
		require.NoError(t, repo.Debit(ctx, "1", 100))
		c, err := repo.FindByChatID(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), c.Balance)
	})
}

func TestClientRepository_DebitConcurrent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewClientRepository(db.DB)
	ctx := context.Background()

	_, _, err := repo.Upsert(ctx, "1", model.ClientProfile{})
	require.NoError(t, err)
	require.NoError(t, repo.Credit(ctx, "1", 100))

	var ok, insufficient int64
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Debit(ctx, "1", 10)
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case errors.Is(err, ErrInsufficientBalance):
				atomic.AddInt64(&insufficient, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), ok)
	assert.Equal(t, int64(15), insufficient)
	c, err := repo.FindByChatID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.Balance)
}

func TestClientRepository_CompareAndSetBalance(t *testing.T) {
	db := setupTestDB(t)
	repo := NewClientRepository(db.DB)
	ctx := context.Background()

	_, _, err := repo.Upsert(ctx, "1", model.ClientProfile{})
	require.NoError(t, err)
	require.NoError(t, repo.Credit(ctx, "1", 30))

	swapped, err := repo.CompareAndSetBalance(ctx, "1", 10, 50)
	require.NoError(t, err)
	assert.False(t, swapped)

	swapped, err = repo.CompareAndSetBalance(ctx, "1", 30, 50)
	require.NoError(t, err)
	assert.True(t, swapped)

	c, err := repo.FindByChatID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), c.Balance)
}

func TestClientRepository_ReferralStats(t *testing.T) {
	db := setupTestDB(t)
	repo := NewClientRepository(db.DB)
	ctx := context.Background()

	_, _, err := repo.Upsert(ctx, "1", model.ClientProfile{ReferringPartner: strPtr("42"), ReferralAttributed: true})
	require.NoError(t, err)
	_, _, err = repo.Upsert(ctx, "2", model.ClientProfile{ReferringPartner: strPtr("42")})
	require.NoError(t, err)
	_, _, err = repo.Upsert(ctx, "3", model.ClientProfile{ReferringPartner: strPtr("7"), ReferralAttributed: true})
	require.NoError(t, err)

	stats, err := repo.ReferralStats(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Attributed)

	stats, err = repo.ReferralStats(ctx, "none")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Total)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/nimasrn/loyalty-engine/internal/repository"
	"github.com/nimasrn/loyalty-engine/test/fixtures"
	"github.com/nimasrn/loyalty-engine/test/helpers"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestLedgerService_AccrueRedeemScenario(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	helpers.CreateTestClient(t, s.db, fixtures.Client1)

	res, err := s.ledger.Accrue(ctx, fixtures.NewAccrueRequest(fixtures.Client1, fixtures.HomePartner, 1000, "a-1"))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, int64(50), res.Transaction.Earned)
	assert.Equal(t, int64(0), res.Transaction.Spent)
	assert.Equal(t, model.TransactionTypeAccrual, res.Transaction.Type)

	balance, err := s.ledger.GetBalance(ctx, fixtures.Client1)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)

	_, err = s.ledger.Redeem(ctx, fixtures.NewRedeemRequest(fixtures.Client1, fixtures.HomePartner, 60, "r-1"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	res, err = s.ledger.Redeem(ctx, fixtures.NewRedeemRequest(fixtures.Client1, fixtures.HomePartner, 50, "r-2"))
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.Transaction.Spent)

	balance, err = s.ledger.GetBalance(ctx, fixtures.Client1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	client, err := s.registry.GetClient(ctx, fixtures.Client1)
	require.NoError(t, err)
	assert.Equal(t, balance, client.Balance)
}

func TestLedgerService_AccrueRejectsOversizedAmounts(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	helpers.CreateTestClient(t, s.db, fixtures.Client1)

	huge := fixtures.NewAccrueRequest(fixtures.Client1, fixtures.HomePartner, 0, "huge")
	huge.Amount = decimal.RequireFromString("1e25")
	_, err := s.ledger.Accrue(ctx, huge)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	wrapsToZero := fixtures.NewAccrueRequest(fixtures.Client1, fixtures.HomePartner, 0, "wraps")
	wrapsToZero.Amount = decimal.RequireFromString("368934881474191032320")
	_, err = s.ledger.Accrue(ctx, wrapsToZero)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	balance, err := s.ledger.GetBalance(ctx, fixtures.Client1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	history, total, err := s.ledger.History(ctx, model.TransactionFilter{ClientID: &huge.ClientID})
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Equal(t, int64(0), total)

	t.Run("deal rate pushes points past one entry", func(t *testing.T) {
		helpers.CreateTestPartner(t, s.db, fixtures.HomePartner, model.PartnerStatusApproved)
		helpers.CreateTestPartner(t, s.db, fixtures.ForeignPartner, model.PartnerStatusApproved)
		terms := model.DealTerms{ConversionRate: decimal.RequireFromString("10000")}
		_, _, err := s.deals.CreateDeal(ctx, fixtures.NewDealRequest(fixtures.ForeignPartner, fixtures.HomePartner, terms, 0, "big-deal"))
		require.NoError(t, err)

		req := fixtures.NewAccrueRequest(fixtures.Client1, fixtures.ForeignPartner, 0, "big-accrual")
		req.Amount = decimal.RequireFromString("9000000000000000")
		_, err = s.ledger.CrossPartnerAccrue(ctx, req, fixtures.HomePartner)
		assert.ErrorIs(t, err, ErrInvalidArgument)

		balance, err := s.ledger.GetBalance(ctx, fixtures.Client1)
		require.NoError(t, err)
		assert.Equal(t, int64(0), balance)
	})
}

func TestLedgerService_IdempotentReplay(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	helpers.CreateTestClient(t, s.db, fixtures.Client1)
	helpers.CreateTestClient(t, s.db, fixtures.Client2)

	first, err := s.ledger.Accrue(ctx, fixtures.NewAccrueRequest(fixtures.Client1, fixtures.HomePartner, 1000, "same-key"))
	require.NoError(t, err)

	again, err := s.ledger.Accrue(ctx, fixtures.NewAccrueRequest(fixtures.Client1, fixtures.HomePartner, 1000, "same-key"))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Transaction.ID, again.Transaction.ID)

	balance, err := s.ledger.GetBalance(ctx, fixtures.Client1)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)

	t.Run("key reused for another client", func(t *testing.T) {
		_, err := s.ledger.Accrue(ctx, fixtures.NewAccrueRequest(fixtures.Client2, fixtures.HomePartner, 1000, "same-key"))
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("key reused for another operation", func(t *testing.T) {
		_, err := s.ledger.Redeem(ctx, fixtures.NewRedeemRequest(fixtures.Client1, fixtures.HomePartner, 10, "same-key"))
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := s.ledger.Accrue(ctx, fixtures.NewAccrueRequest(fixtures.Client1, fixtures.HomePartner, 1000, ""))
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestLedgerService_ConcurrentRedemptionsNeverOverdraw(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	helpers.CreateTestClient(t, s.db, fixtures.Client1)

	_, err := s.ledger.Accrue(ctx, fixtures.NewAccrueRequest(fixtures.Client1, fixtures.HomePartner, 2000, "seed"))
	require.NoError(t, err)

	var ok, insufficient atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.ledger.Redeem(ctx, fixtures.NewRedeemRequest(fixtures.Client1, fixtures.HomePartner, 10, fmt.Sprintf("r-%d", i)))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrInsufficientBalance):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(10), ok.Load())
	assert.Equal(t, int32(10), insufficient.Load())

	balance, err := s.ledger.GetBalance(ctx, fixtures.Client1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestLedgerService_BlockedClient(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	helpers.CreateTestClient(t, s.db, fixtures.Client1)
	require.NoError(t, s.registry.SetClientStatus(ctx, fixtures.Client1, model.ClientStatusBlocked))

	_, err := s.ledger.Accrue(ctx, fixtures.NewAccrueRequest(fixtures.Client1, fixtures.HomePartner, 1000, "a-1"))
	assert.ErrorIs(t, err, ErrClientBlocked)

	res, err := s.ledger.Adjust(ctx, model.AdjustRequest{
		ClientID:       fixtures.Client1,
		PartnerID:      fixtures.HomePartner,
		Delta:          25,
		Reason:         "goodwill",
		IdempotencyKey: "adj-1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.TransactionTypeAdjustment, res.Transaction.Type)
	assert.Equal(t, int64(25), res.Transaction.Earned)
}

func TestLedgerService_Adjust(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	helpers.CreateTestClient(t, s.db, fixtures.Client1)

	adjust := func(delta int64, key string) error {
		_, err := s.ledger.Adjust(ctx, model.AdjustRequest{
			ClientID:       fixtures.Client1,
			PartnerID:      fixtures.HomePartner,
			Delta:          delta,
			Reason:         "correction",
			IdempotencyKey: key,
		})
		return err
	}

	require.NoError(t, adjust(30, "adj-1"))
	assert.ErrorIs(t, adjust(-31, "adj-2"), ErrInsufficientBalance)
	require.NoError(t, adjust(-30, "adj-3"))
	assert.ErrorIs(t, adjust(0, "adj-4"), ErrInvalidArgument)

	balance, err := s.ledger.GetBalance(ctx, fixtures.Client1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestLedgerService_UnknownClient(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()

	_, err := s.ledger.GetBalance(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ledger.Redeem(ctx, fixtures.NewRedeemRequest("nobody", fixtures.HomePartner, 5, "r-1"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedgerService_History(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	helpers.CreateTestClient(t, s.db, fixtures.Client1)

	for i := 0; i < 3; i++ {
		_, err := s.ledger.Accrue(ctx, fixtures.NewAccrueRequest(fixtures.Client1, fixtures.HomePartner, 100, fmt.Sprintf("a-%d", i)))
		require.NoError(t, err)
	}

	items, total, err := s.ledger.History(ctx, model.TransactionFilter{ClientID: helpers.Ptr(fixtures.Client1), Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, items, 2)

	_, _, err = s.ledger.History(ctx, model.TransactionFilter{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestLedgerService_Reconcile(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()
	helpers.CreateTestClient(t, s.db, fixtures.Client1)

	_, err := s.ledger.Accrue(ctx, fixtures.NewAccrueRequest(fixtures.Client1, fixtures.HomePartner, 1000, "a-1"))
	require.NoError(t, err)

	res, err := s.ledger.Reconcile(ctx, fixtures.Client1)
	require.NoError(t, err)
	assert.False(t, res.Repaired)
	assert.Equal(t, int64(50), res.Computed)

	helpers.ForceBalance(t, s.db, fixtures.Client1, 999)

	res, err = s.ledger.Reconcile(ctx, fixtures.Client1)
	require.NoError(t, err)
	assert.True(t, res.Repaired)
	assert.Equal(t, int64(999), res.Cached)
	assert.Equal(t, int64(50), res.Computed)

	client, err := s.registry.GetClient(ctx, fixtures.Client1)
	require.NoError(t, err)
	assert.Equal(t, int64(50), client.Balance)

	// the repaired counter guards redemptions again
	_, err = s.ledger.Redeem(ctx, fixtures.NewRedeemRequest(fixtures.Client1, fixtures.HomePartner, 51, "r-1"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestLedgerService_ReconcileAll(t *testing.T) {
	s := newTestServices(t)
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3"} {
		helpers.CreateTestClient(t, s.db, id)
		_, err := s.ledger.Accrue(ctx, fixtures.NewAccrueRequest(id, fixtures.HomePartner, 200, "a-"+id))
		require.NoError(t, err)
	}
	helpers.ForceBalance(t, s.db, "c2", 0)

	checked, repaired, err := s.ledger.ReconcileAll(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, checked)
	assert.Equal(t, 1, repaired)
}

type mockClientRepository struct {
	mock.Mock
	ClientRepository
}

func (m *mockClientRepository) FindByChatID(ctx context.Context, chatID string) (*model.Client, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Client), args.Error(1)
}

type mockTransactionRepository struct {
	mock.Mock
	TransactionRepository
}

func (m *mockTransactionRepository) SumBalance(ctx context.Context, clientID string) (int64, error) {
	args := m.Called(ctx, clientID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockTransactionRepository) FindByIdempotencyKey(ctx context.Context, key string) (*model.Transaction, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func TestLedgerService_StorageFailureIsNotZero(t *testing.T) {
	clients := new(mockClientRepository)
	txns := new(mockTransactionRepository)
	ctx := context.Background()

	clients.On("FindByChatID", ctx, "c1").Return(&model.Client{ChatID: "c1"}, nil)
	txns.On("SumBalance", ctx, "c1").Return(int64(0), errors.New("connection refused"))

	svc := NewLedgerService(nil, clients, txns, nil, NewRatePolicy(decimal.RequireFromString("0.05")))

	_, err := svc.GetBalance(ctx, "c1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.NotErrorIs(t, err, ErrNotFound)

	clients.AssertExpectations(t)
	txns.AssertExpectations(t)
}

func TestLedgerService_ReplayLookupFailure(t *testing.T) {
	clients := new(mockClientRepository)
	txns := new(mockTransactionRepository)
	ctx := context.Background()

	txns.On("FindByIdempotencyKey", ctx, "k").Return(nil, errors.New("i/o timeout"))

	svc := NewLedgerService(nil, clients, txns, nil, NewRatePolicy(decimal.RequireFromString("0.05")))
	_, err := svc.Redeem(ctx, fixtures.NewRedeemRequest("c1", "p1", 10, "k"))
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	clients.AssertNotCalled(t, "FindByChatID", mock.Anything, mock.Anything)
}

func TestLedgerService_ReplayedUnknownKey(t *testing.T) {
	txns := new(mockTransactionRepository)
	ctx := context.Background()
	txns.On("FindByIdempotencyKey", ctx, "k").Return(nil, repository.ErrTransactionNotFound)

	svc := NewLedgerService(nil, nil, txns, nil, nil)
	res, err := svc.replay(ctx, &model.Transaction{ClientID: "c1", IdempotencyKey: "k"})
	assert.NoError(t, err)
	assert.Nil(t, res)
}

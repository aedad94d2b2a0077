package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/nimasrn/loyalty-engine/internal/repository"
	"github.com/nimasrn/loyalty-engine/pkg/logger"
	"github.com/nimasrn/loyalty-engine/pkg/prom"
	"github.com/shopspring/decimal"
)

const reconcileAttempts = 3

type TransactionRepository interface {
	Append(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	FindByID(ctx context.Context, id int64) (*model.Transaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*model.Transaction, error)
	SumBalance(ctx context.Context, clientID string) (int64, error)
	List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error)
	ClientIDs(ctx context.Context, after string, limit int) ([]string, error)
}

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type ActiveDealFinder interface {
	GetActiveDeal(ctx context.Context, sourceID, targetID string) (*model.PartnerDeal, error)
}

// EventPublisher receives committed ledger entries. Publishing is best
// effort; the log stays the source of truth.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, event model.LedgerEvent) error
}

type LedgerResult struct {
	Transaction *model.Transaction `json:"transaction"`
	Replayed    bool               `json:"replayed"`
}

// LedgerService is the only writer of transactions. The clients.balance
// counter is moved in the same database transaction as every append and a
// redemption only lands when the counter covers it.
type LedgerService struct {
	db           Transactor
	clients      ClientRepository
	transactions TransactionRepository
	deals        ActiveDealFinder
	policy       AccrualPolicy
	events       EventPublisher
	now          func() time.Time
}

func NewLedgerService(db Transactor, clients ClientRepository, transactions TransactionRepository, deals ActiveDealFinder, policy AccrualPolicy) *LedgerService {
	return &LedgerService{
		db:           db,
		clients:      clients,
		transactions: transactions,
		deals:        deals,
		policy:       policy,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *LedgerService) WithEvents(events EventPublisher) *LedgerService {
	s.events = events
	return s
}

func (s *LedgerService) WithClock(now func() time.Time) *LedgerService {
	s.now = now
	return s
}

// Accrue credits base-rate points for a purchase.
func (s *LedgerService) Accrue(ctx context.Context, req model.AccrueRequest) (*LedgerResult, error) {
	return s.accrue(ctx, req, nil)
}

// CrossPartnerAccrue credits points earned at a partner other than the
// client's home partner. An active deal from the accruing partner to the home
// partner modulates the points; without one the base rate applies.
func (s *LedgerService) CrossPartnerAccrue(ctx context.Context, req model.AccrueRequest, homePartnerID string) (*LedgerResult, error) {
	if homePartnerID == "" || homePartnerID == req.PartnerID {
		return s.accrue(ctx, req, nil)
	}
	if err := s.checkRequest(req.Validate, req.IdempotencyKey); err != nil {
		return nil, err
	}
	deal, err := s.deals.GetActiveDeal(ctx, req.PartnerID, homePartnerID)
	if err != nil {
		prom.RecordLedgerOperation("accrue", prom.ResultError)
		return nil, err
	}
	return s.accrue(ctx, req, deal)
}

func (s *LedgerService) accrue(ctx context.Context, req model.AccrueRequest, deal *model.PartnerDeal) (*LedgerResult, error) {
	if err := s.checkRequest(req.Validate, req.IdempotencyKey); err != nil {
		prom.RecordLedgerOperation("accrue", prom.ResultRejected)
		return nil, err
	}
	txn := &model.Transaction{
		ClientID:       req.ClientID,
		PartnerID:      req.PartnerID,
		Amount:         req.Amount,
		Earned:         s.policy.Points(req.Amount, deal),
		Type:           model.TransactionTypeAccrual,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
	}
	if txn.Earned > model.MaxEntryPoints {
		prom.RecordLedgerOperation("accrue", prom.ResultRejected)
		return nil, invalid(errors.New("amount earns more points than a ledger entry can hold"))
	}
	if deal != nil {
		txn.DealID = &deal.ID
	}
	return s.commit(ctx, "accrue", txn)
}

// Redeem spends points. It fails with ErrInsufficientBalance when the
// balance at write time does not cover the request.
func (s *LedgerService) Redeem(ctx context.Context, req model.RedeemRequest) (*LedgerResult, error) {
	start := time.Now()
	defer func() { prom.ObserveRedeemDuration(time.Since(start).Seconds()) }()

	if err := s.checkRequest(req.Validate, req.IdempotencyKey); err != nil {
		prom.RecordLedgerOperation("redeem", prom.ResultRejected)
		return nil, err
	}
	return s.commit(ctx, "redeem", &model.Transaction{
		ClientID:       req.ClientID,
		PartnerID:      req.PartnerID,
		Amount:         decimal.Zero,
		Spent:          req.Points,
		Type:           model.TransactionTypeRedemption,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
	})
}

// Adjust applies an operator correction. Blocked clients can be adjusted.
func (s *LedgerService) Adjust(ctx context.Context, req model.AdjustRequest) (*LedgerResult, error) {
	if err := s.checkRequest(req.Validate, req.IdempotencyKey); err != nil {
		prom.RecordLedgerOperation("adjust", prom.ResultRejected)
		return nil, err
	}
	txn := &model.Transaction{
		ClientID:       req.ClientID,
		PartnerID:      req.PartnerID,
		Amount:         decimal.Zero,
		Type:           model.TransactionTypeAdjustment,
		Description:    req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.Delta > 0 {
		txn.Earned = req.Delta
	} else {
		txn.Spent = -req.Delta
	}
	return s.commit(ctx, "adjust", txn)
}

func (s *LedgerService) checkRequest(validate func() error, key string) error {
	if err := validate(); err != nil {
		return invalid(err)
	}
	if key == "" {
		return ErrIdempotencyKeyRequired
	}
	return nil
}

// commit replays a known idempotency key, otherwise moves the counter and
// appends the entry in one database transaction.
func (s *LedgerService) commit(ctx context.Context, op string, txn *model.Transaction) (*LedgerResult, error) {
	if res, err := s.replay(ctx, txn); res != nil || err != nil {
		s.record(op, res, err)
		return res, err
	}

	txn.CreatedAt = s.now().UTC()
	var saved *model.Transaction
	err := s.db.WithinTransaction(ctx, func(ctx context.Context) error {
		client, err := s.clients.FindByChatID(ctx, txn.ClientID)
		if err != nil {
			return mapClientError("load client", txn.ClientID, err)
		}
		if client.Blocked() && txn.Type != model.TransactionTypeAdjustment {
			return ErrClientBlocked
		}

		if txn.Spent > 0 {
			if err := s.clients.Debit(ctx, txn.ClientID, txn.Spent); err != nil {
				return mapClientError("debit balance", txn.ClientID, err)
			}
		}
		if txn.Earned > 0 {
			if err := s.clients.Credit(ctx, txn.ClientID, txn.Earned); err != nil {
				return mapClientError("credit balance", txn.ClientID, err)
			}
		}

		saved, err = s.transactions.Append(ctx, txn)
		return err
	})
	if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
		// a concurrent request with the same key won; its effect is ours
		res, rerr := s.replay(ctx, txn)
		if res == nil && rerr == nil {
			rerr = classify(op, err)
		}
		s.record(op, res, rerr)
		return res, rerr
	}
	if err != nil {
		err = classify(op, err)
		s.record(op, nil, err)
		return nil, err
	}

	s.record(op, &LedgerResult{}, nil)
	logger.Info("ledger entry committed",
		"op", op,
		"transaction_id", saved.ID,
		"client_id", saved.ClientID,
		"partner_id", saved.PartnerID,
		"earned", saved.Earned,
		"spent", saved.Spent,
	)
	s.publish(ctx, saved)
	return &LedgerResult{Transaction: saved}, nil
}

// replay returns the entry already committed under txn's idempotency key.
// A key reused for another client or operation is a conflict.
func (s *LedgerService) replay(ctx context.Context, txn *model.Transaction) (*LedgerResult, error) {
	existing, err := s.transactions.FindByIdempotencyKey(ctx, txn.IdempotencyKey)
	if errors.Is(err, repository.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find transaction by idempotency key", err)
	}
	if existing.ClientID != txn.ClientID || existing.Type != txn.Type {
		return nil, fmt.Errorf("%w: idempotency key %s was used for a different operation", ErrConflict, txn.IdempotencyKey)
	}
	return &LedgerResult{Transaction: existing, Replayed: true}, nil
}

func (s *LedgerService) record(op string, res *LedgerResult, err error) {
	switch {
	case err == nil && res != nil && res.Replayed:
		prom.RecordLedgerOperation(op, prom.ResultReplayed)
	case err == nil:
		prom.RecordLedgerOperation(op, prom.ResultOK)
	case errors.Is(err, ErrStorageUnavailable):
		prom.RecordLedgerOperation(op, prom.ResultError)
	default:
		prom.RecordLedgerOperation(op, prom.ResultRejected)
	}
}

func (s *LedgerService) publish(ctx context.Context, txn *model.Transaction) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishLedgerEvent(ctx, model.NewLedgerEvent(txn)); err != nil {
		logger.Warn("failed to publish ledger event", "transaction_id", txn.ID, "client_id", txn.ClientID, "error", err)
	}
}

// GetBalance derives the balance from the transaction log.
func (s *LedgerService) GetBalance(ctx context.Context, clientID string) (int64, error) {
	if _, err := s.clients.FindByChatID(ctx, clientID); err != nil {
		return 0, mapClientError("get balance", clientID, err)
	}
	balance, err := s.transactions.SumBalance(ctx, clientID)
	if err != nil {
		return 0, classify("sum balance", err)
	}
	if balance < 0 {
		logger.Error("negative balance derived from ledger", "client_id", clientID, "balance", balance)
	}
	return balance, nil
}

func (s *LedgerService) History(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	if f.ClientID == nil && f.PartnerID == nil {
		return nil, 0, invalid(errors.New("client_id or partner_id is required"))
	}
	items, total, err := s.transactions.List(ctx, f)
	if err != nil {
		return nil, 0, classify("list transactions", err)
	}
	return items, total, nil
}

func (s *LedgerService) GetTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	txn, err := s.transactions.FindByID(ctx, id)
	if errors.Is(err, repository.ErrTransactionNotFound) {
		return nil, notFound("transaction", fmt.Sprint(id))
	}
	if err != nil {
		return nil, classify("get transaction", err)
	}
	return txn, nil
}

// Reconcile recomputes the balance from the log and repairs the cached
// counter when it drifted. The repair is a compare-and-set, so a ledger
// write racing with it forces a re-read instead of being overwritten.
func (s *LedgerService) Reconcile(ctx context.Context, clientID string) (*model.ReconcileResult, error) {
	for attempt := 0; attempt < reconcileAttempts; attempt++ {
		var result *model.ReconcileResult
		var swapped bool
		err := s.db.WithinTransaction(ctx, func(ctx context.Context) error {
			client, err := s.clients.FindByChatID(ctx, clientID)
			if err != nil {
				return mapClientError("load client", clientID, err)
			}
			computed, err := s.transactions.SumBalance(ctx, clientID)
			if err != nil {
				return err
			}
			result = &model.ReconcileResult{ClientID: clientID, Cached: client.Balance, Computed: computed}
			if client.Balance == computed {
				swapped = true
				return nil
			}
			swapped, err = s.clients.CompareAndSetBalance(ctx, clientID, client.Balance, computed)
			result.Repaired = swapped
			return err
		})
		if err != nil {
			return nil, classify("reconcile", err)
		}
		if swapped {
			if result.Repaired {
				prom.RecordBalanceDrift()
				logger.Warn("balance counter drift repaired", "client_id", clientID, "cached", result.Cached, "computed", result.Computed)
			}
			return result, nil
		}
	}
	return nil, fmt.Errorf("%w: balance kept moving during reconciliation of client %s", ErrConflict, clientID)
}

// ReconcileAll walks every client with ledger entries.
func (s *LedgerService) ReconcileAll(ctx context.Context, pageSize int) (checked, repaired int, err error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	after := ""
	for {
		ids, err := s.transactions.ClientIDs(ctx, after, pageSize)
		if err != nil {
			return checked, repaired, classify("list ledger clients", err)
		}
		for _, id := range ids {
			res, err := s.Reconcile(ctx, id)
			if err != nil {
				return checked, repaired, err
			}
			checked++
			if res.Repaired {
				repaired++
			}
		}
		if len(ids) < pageSize {
			return checked, repaired, nil
		}
		after = ids[len(ids)-1]
	}
}

package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeAccrual    TransactionType = "accrual"
	TransactionTypeRedemption TransactionType = "redemption"
	TransactionTypeAdjustment TransactionType = "adjustment"
)

// Transaction is an immutable ledger entry. Exactly one of Earned and
// Spent is positive, except for zero-point accruals.
type Transaction struct {
	ID             int64           `json:"id"`
	ClientID       string          `json:"client_id"`
	PartnerID      string          `json:"partner_id"`
	Amount         decimal.Decimal `json:"amount"`
	Earned         int64           `json:"earned"`
	Spent          int64           `json:"spent"`
	Type           TransactionType `json:"type"`
	Description    string          `json:"description"`
	DealID         *string         `json:"deal_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Delta is the signed effect of the entry on the balance.
func (t *Transaction) Delta() int64 {
	return t.Earned - t.Spent
}

const MaxIdempotencyKeyLength = 128

// MaxAmount is the smallest purchase amount transactions.amount
// (NUMERIC(18,2)) cannot store.
var MaxAmount = decimal.New(1, 16)

// MaxEntryPoints bounds the points a single ledger entry can move so balance
// sums stay far from int64 overflow.
const MaxEntryPoints int64 = 1_000_000_000_000_000

func validateIdempotencyKey(key string) error {
	if len(key) > MaxIdempotencyKeyLength {
		return errors.New("idempotency_key is too long")
	}
	return nil
}

type AccrueRequest struct {
	ClientID       string          `json:"client_id"`
	PartnerID      string          `json:"partner_id"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	IdempotencyKey string          `json:"-"`
}

func (r AccrueRequest) Validate() error {
	if err := ValidateChatID(r.ClientID); err != nil {
		return err
	}
	if r.PartnerID == "" {
		return errors.New("partner_id is required")
	}
	if r.Amount.IsNegative() {
		return errors.New("amount must not be negative")
	}
	if r.Amount.GreaterThanOrEqual(MaxAmount) {
		return errors.New("amount is too large")
	}
	if !r.Amount.Equal(r.Amount.Truncate(2)) {
		return errors.New("amount has more than two decimal places")
	}
	return validateIdempotencyKey(r.IdempotencyKey)
}

type RedeemRequest struct {
	ClientID       string `json:"client_id"`
	PartnerID      string `json:"partner_id"`
	Points         int64  `json:"points"`
	Description    string `json:"description"`
	IdempotencyKey string `json:"-"`
}

func (r RedeemRequest) Validate() error {
	if err := ValidateChatID(r.ClientID); err != nil {
		return err
	}
	if r.PartnerID == "" {
		return errors.New("partner_id is required")
	}
	if r.Points <= 0 {
		return errors.New("points must be positive")
	}
	if r.Points > MaxEntryPoints {
		return errors.New("points is too large")
	}
	return validateIdempotencyKey(r.IdempotencyKey)
}

// AdjustRequest is an operator correction. A positive delta credits the
// client, a negative one debits under the same guard as a redemption.
type AdjustRequest struct {
	ClientID       string `json:"client_id"`
	PartnerID      string `json:"partner_id"`
	Delta          int64  `json:"delta"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (r AdjustRequest) Validate() error {
	if err := ValidateChatID(r.ClientID); err != nil {
		return err
	}
	if r.Delta == 0 {
		return errors.New("delta must not be zero")
	}
	if r.Delta > MaxEntryPoints || r.Delta < -MaxEntryPoints {
		return errors.New("delta is too large")
	}
	if r.Reason == "" {
		return errors.New("reason is required")
	}
	return validateIdempotencyKey(r.IdempotencyKey)
}

// TransactionFilter controls History queries.
type TransactionFilter struct {
	ClientID  *string
	PartnerID *string
	Types     []TransactionType
	From      *time.Time
	To        *time.Time
	Limit     int // default 50
	Offset    int
	Desc      bool
}

type ReconcileResult struct {
	ClientID string `json:"client_id"`
	Cached   int64  `json:"cached"`
	Computed int64  `json:"computed"`
	Repaired bool   `json:"repaired"`
}

// LedgerEvent is published after every committed ledger entry.
type LedgerEvent struct {
	TransactionID int64           `json:"transaction_id"`
	ClientID      string          `json:"client_id"`
	PartnerID     string          `json:"partner_id"`
	Type          TransactionType `json:"type"`
	Earned        int64           `json:"earned"`
	Spent         int64           `json:"spent"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func NewLedgerEvent(t *Transaction) LedgerEvent {
	return LedgerEvent{
		TransactionID: t.ID,
		ClientID:      t.ClientID,
		PartnerID:     t.PartnerID,
		Type:          t.Type,
		Earned:        t.Earned,
		Spent:         t.Spent,
		OccurredAt:    t.CreatedAt,
	}
}

package processor

import (
	"context"
	"errors"
	"strconv"

	"github.com/nimasrn/loyalty-engine/internal/idempotency"
	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/nimasrn/loyalty-engine/internal/queue"
	"github.com/nimasrn/loyalty-engine/pkg/logger"
)

var ErrEventInFlight = errors.New("event is being handled by another consumer")

type Reconciler interface {
	Reconcile(ctx context.Context, clientID string) (*model.ReconcileResult, error)
}

// LedgerEventProcessor checks the balance counter of every client that just
// had a ledger entry. Each event is handled once; redelivered events that
// already succeeded are acked without work.
type LedgerEventProcessor struct {
	reconciler Reconciler
	guard      *idempotency.Guard
}

func NewLedgerEventProcessor(reconciler Reconciler, guard *idempotency.Guard) *LedgerEventProcessor {
	return &LedgerEventProcessor{
		reconciler: reconciler,
		guard:      guard,
	}
}

func (p *LedgerEventProcessor) GetType() string {
	return queue.EventLedgerEntry
}

func (p *LedgerEventProcessor) Process(ctx context.Context, msg *queue.Message) error {
	event, err := queue.DecodeLedgerEvent(msg)
	if err != nil {
		// a malformed event never gets better; drop it
		logger.Error("dropping undecodable ledger event", "id", msg.ID, "error", err)
		return nil
	}

	eventID := "ledger:" + strconv.FormatInt(event.TransactionID, 10)
	log := logger.With("event_id", eventID, "client_id", event.ClientID)
	attempt, err := p.guard.Begin(ctx, eventID)
	switch {
	case errors.Is(err, idempotency.ErrAlreadyProcessed):
		log.Debug("ledger event already handled")
		return nil
	case errors.Is(err, idempotency.ErrMaxRetriesExceeded):
		log.Error("giving up on ledger event")
		return nil
	case errors.Is(err, idempotency.ErrLockHeld):
		return ErrEventInFlight
	case err != nil:
		return err
	}

	res, err := p.reconciler.Reconcile(ctx, event.ClientID)
	if err != nil {
		p.guard.MarkFailure(ctx, attempt, err)
		return err
	}
	if err := p.guard.MarkSuccess(ctx, attempt); err != nil {
		log.Warn("failed to mark ledger event handled", "error", err)
	}
	if res.Repaired {
		log.Info("balance repaired after ledger event", "cached", res.Cached, "computed", res.Computed)
	}
	return nil
}

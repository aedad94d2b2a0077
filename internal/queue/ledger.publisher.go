package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nimasrn/loyalty-engine/internal/model"
)

const (
	MetaEventType = "event_type"
	MetaClientID  = "client_id"

	EventLedgerEntry = "ledger_entry"
)

// LedgerPublisher puts committed ledger entries on the events stream.
type LedgerPublisher struct {
	queue *Queue
}

func NewLedgerPublisher(q *Queue) *LedgerPublisher {
	return &LedgerPublisher{queue: q}
}

func (p *LedgerPublisher) PublishLedgerEvent(ctx context.Context, event model.LedgerEvent) error {
	_, err := p.queue.PublishJSON(ctx, event, map[string]string{
		MetaEventType: EventLedgerEntry,
		MetaClientID:  event.ClientID,
	})
	if err != nil {
		return fmt.Errorf("publish ledger event %s: %w", strconv.FormatInt(event.TransactionID, 10), err)
	}
	return nil
}

// DecodeLedgerEvent reads the event carried by msg.
func DecodeLedgerEvent(msg *Message) (model.LedgerEvent, error) {
	var event model.LedgerEvent
	if t := msg.Metadata[MetaEventType]; t != "" && t != EventLedgerEntry {
		return event, fmt.Errorf("unexpected event type %q", t)
	}
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return event, fmt.Errorf("decode ledger event: %w", err)
	}
	if event.ClientID == "" {
		return event, fmt.Errorf("ledger event %s has no client", msg.ID)
	}
	return event, nil
}

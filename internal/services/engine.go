package services

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/loyalty-engine/internal/idempotency"
	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/nimasrn/loyalty-engine/internal/referral"
	"github.com/nimasrn/loyalty-engine/pkg/logger"
)

// InFlightGuard stops two requests with the same idempotency key from
// reaching storage at the same time.
type InFlightGuard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Engine is what the bot front ends talk to. It orders the calls between the
// registry, the deal manager, the ledger and the satisfaction tracker and
// never touches storage itself.
type Engine struct {
	registry     *RegistryService
	deals        *DealService
	ledger       *LedgerService
	satisfaction *SatisfactionService
	guard        InFlightGuard
}

func NewEngine(registry *RegistryService, deals *DealService, ledger *LedgerService, satisfaction *SatisfactionService) *Engine {
	return &Engine{
		registry:     registry,
		deals:        deals,
		ledger:       ledger,
		satisfaction: satisfaction,
	}
}

func (e *Engine) WithGuard(guard InFlightGuard) *Engine {
	e.guard = guard
	return e
}

func (e *Engine) Registry() *RegistryService         { return e.registry }
func (e *Engine) Deals() *DealService                { return e.deals }
func (e *Engine) Ledger() *LedgerService             { return e.ledger }
func (e *Engine) Satisfaction() *SatisfactionService { return e.satisfaction }

// RegisterClient creates the client on first contact or merges the profile
// of a known one. The start payload is resolved into a referring partner;
// the referral is recorded as given but only counts as attributed when the
// partner is approved at this moment.
func (e *Engine) RegisterClient(ctx context.Context, chatID string, profile model.ClientProfile, startPayload string) (*model.Client, bool, error) {
	profile.ReferringPartner = nil
	profile.ReferralAttributed = false

	if partnerID, ok := referral.Resolve(startPayload); ok {
		profile.ReferringPartner = &partnerID
		partner, err := e.registry.GetPartner(ctx, partnerID)
		switch {
		case err == nil:
			profile.ReferralAttributed = partner.Approved()
		case errors.Is(err, ErrNotFound):
		default:
			return nil, false, err
		}
	}

	return e.registry.UpsertClient(ctx, chatID, profile)
}

func (e *Engine) GetClient(ctx context.Context, chatID string) (*model.Client, error) {
	return e.registry.GetClient(ctx, chatID)
}

// Accrue credits a purchase. When the client was brought in by another
// partner the accrual goes through the cross-partner path so a deal between
// the two can apply.
func (e *Engine) Accrue(ctx context.Context, req model.AccrueRequest) (*LedgerResult, error) {
	if req.IdempotencyKey == "" {
		return nil, ErrIdempotencyKeyRequired
	}
	release, err := e.acquire(ctx, "accrue:"+req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := e.requireApprovedPartner(ctx, req.PartnerID); err != nil {
		return nil, err
	}
	client, err := e.registry.GetClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	if home := homePartner(client); home != "" && home != req.PartnerID {
		return e.ledger.CrossPartnerAccrue(ctx, req, home)
	}
	return e.ledger.Accrue(ctx, req)
}

func (e *Engine) Redeem(ctx context.Context, req model.RedeemRequest) (*LedgerResult, error) {
	if req.IdempotencyKey == "" {
		return nil, ErrIdempotencyKeyRequired
	}
	release, err := e.acquire(ctx, "redeem:"+req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := e.requireApprovedPartner(ctx, req.PartnerID); err != nil {
		return nil, err
	}
	return e.ledger.Redeem(ctx, req)
}

func (e *Engine) Adjust(ctx context.Context, req model.AdjustRequest) (*LedgerResult, error) {
	if req.IdempotencyKey == "" {
		return nil, ErrIdempotencyKeyRequired
	}
	release, err := e.acquire(ctx, "adjust:"+req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	defer release()

	return e.ledger.Adjust(ctx, req)
}

func (e *Engine) Reconcile(ctx context.Context, clientID string) (*model.ReconcileResult, error) {
	return e.ledger.Reconcile(ctx, clientID)
}

func (e *Engine) Balance(ctx context.Context, clientID string) (int64, error) {
	return e.ledger.GetBalance(ctx, clientID)
}

func (e *Engine) History(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	return e.ledger.History(ctx, f)
}

func (e *Engine) RegisterPartner(ctx context.Context, chatID string, profile model.PartnerProfile) (*model.Partner, bool, error) {
	return e.registry.UpsertPartner(ctx, chatID, profile)
}

func (e *Engine) SetPartnerStatus(ctx context.Context, chatID string, status model.PartnerStatus) error {
	return e.registry.SetPartnerStatus(ctx, chatID, status)
}

// SetClientStatus blocks or reactivates a client. Blocking keeps the history
// and the balance; only new accruals and redemptions are refused.
func (e *Engine) SetClientStatus(ctx context.Context, chatID string, status model.ClientStatus) error {
	return e.registry.SetClientStatus(ctx, chatID, status)
}

func (e *Engine) ReferralStats(ctx context.Context, partnerID string) (*model.ReferralStats, error) {
	return e.registry.ReferralStats(ctx, partnerID)
}

func (e *Engine) PartnerConfig(ctx context.Context, chatID string) (model.PartnerConfig, error) {
	return e.registry.GetPartnerConfig(ctx, chatID)
}

func (e *Engine) SetPartnerCategory(ctx context.Context, chatID, category string) error {
	return e.registry.SetPartnerCategory(ctx, chatID, category)
}

func (e *Engine) SetPartnerUIConfig(ctx context.Context, chatID string, values map[string]any) (map[string]any, error) {
	return e.registry.SetPartnerUIConfig(ctx, chatID, values)
}

// ActiveDeal returns nil with a nil error when no deal applies.
func (e *Engine) ActiveDeal(ctx context.Context, sourceID, targetID string) (*model.PartnerDeal, error) {
	return e.deals.GetActiveDeal(ctx, sourceID, targetID)
}

func (e *Engine) ListDeals(ctx context.Context, partnerID string) ([]*model.PartnerDeal, error) {
	return e.deals.ListDeals(ctx, partnerID)
}

func (e *Engine) ProposeDeal(ctx context.Context, req model.CreateDealRequest) (*model.PartnerDeal, bool, error) {
	if req.IdempotencyKey == "" {
		return nil, false, ErrIdempotencyKeyRequired
	}
	release, err := e.acquire(ctx, "deal:"+req.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	defer release()

	return e.deals.CreateDeal(ctx, req)
}

func (e *Engine) RevokeDeal(ctx context.Context, dealID string) (*model.PartnerDeal, error) {
	return e.deals.RevokeDeal(ctx, dealID)
}

func (e *Engine) SweepExpiredDeals(ctx context.Context) (int64, error) {
	return e.deals.SweepExpired(ctx)
}

func (e *Engine) SubmitNPS(ctx context.Context, req model.SubmitRatingRequest) (*model.NPSResponse, error) {
	return e.satisfaction.SubmitRating(ctx, req)
}

func (e *Engine) PartnerNPS(ctx context.Context, partnerID string, from, to time.Time) (model.NPSReport, error) {
	if _, err := e.registry.GetPartner(ctx, partnerID); err != nil {
		return model.NPSReport{}, err
	}
	return e.satisfaction.PartnerNPS(ctx, partnerID, from, to)
}

func (e *Engine) requireApprovedPartner(ctx context.Context, partnerID string) error {
	if partnerID == "" {
		return invalid(errors.New("partner_id is required"))
	}
	p, err := e.registry.GetPartner(ctx, partnerID)
	if err != nil {
		return err
	}
	if !p.Approved() {
		return ErrPartnerNotApproved
	}
	return nil
}

// acquire takes the in-flight lock when a guard is configured. A guard that
// cannot reach redis does not block the request; the unique idempotency
// columns still catch a duplicate.
func (e *Engine) acquire(ctx context.Context, key string) (func(), error) {
	if e.guard == nil {
		return func() {}, nil
	}
	release, err := e.guard.Acquire(ctx, key)
	if errors.Is(err, idempotency.ErrLockHeld) {
		return nil, ErrRequestInFlight
	}
	if err != nil {
		logger.Warn("in-flight guard unavailable", "key", key, "error", err)
		return func() {}, nil
	}
	return release, nil
}

func homePartner(c *model.Client) string {
	if c.ReferringPartner == nil || !c.ReferralAttributed {
		return ""
	}
	return *c.ReferringPartner
}

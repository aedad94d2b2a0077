package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type DealStatus string

const (
	DealStatusActive  DealStatus = "active"
	DealStatusExpired DealStatus = "expired"
	DealStatusRevoked DealStatus = "revoked"
)

// DealTerms modulate accruals earned at the source partner by clients
// referred by the target partner.
type DealTerms struct {
	ConversionRate decimal.Decimal `json:"conversion_rate"`
	PointCap       int64           `json:"point_cap"` // 0 = uncapped
}

func (t DealTerms) Validate() error {
	if !t.ConversionRate.IsPositive() {
		return errors.New("conversion_rate must be positive")
	}
	if t.PointCap < 0 {
		return errors.New("point_cap must not be negative")
	}
	return nil
}

type PartnerDeal struct {
	ID              string     `json:"id"`
	SourcePartnerID string     `json:"source_partner_id"`
	TargetPartnerID string     `json:"target_partner_id"`
	Status          DealStatus `json:"status"`
	Terms           DealTerms  `json:"terms"`
	IdempotencyKey  string     `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
}

// IsActiveAt reports whether the deal applies at now. The stored status may
// still read active after expiry; the comparison decides.
func (d *PartnerDeal) IsActiveAt(now time.Time) bool {
	if d == nil || d.Status != DealStatusActive {
		return false
	}
	return d.ExpiresAt == nil || now.UTC().Before(d.ExpiresAt.UTC())
}

// EffectiveStatus is the status a reader should see at now.
func (d *PartnerDeal) EffectiveStatus(now time.Time) DealStatus {
	if d.Status == DealStatusActive && !d.IsActiveAt(now) {
		return DealStatusExpired
	}
	return d.Status
}

// PairSeparator joins the two ids of a pair key. Chat ids may not contain it.
const PairSeparator = "→"

// PairKey identifies an ordered (source, target) pair.
func PairKey(source, target string) string {
	return source + PairSeparator + target
}

type CreateDealRequest struct {
	SourcePartnerID string     `json:"source_partner_id"`
	TargetPartnerID string     `json:"target_partner_id"`
	Terms           DealTerms  `json:"terms"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	IdempotencyKey  string     `json:"-"`
}

func (r CreateDealRequest) Validate(now time.Time) error {
	if r.SourcePartnerID == "" || r.TargetPartnerID == "" {
		return errors.New("source_partner_id and target_partner_id are required")
	}
	if err := ValidateChatID(r.SourcePartnerID); err != nil {
		return err
	}
	if err := ValidateChatID(r.TargetPartnerID); err != nil {
		return err
	}
	if r.SourcePartnerID == r.TargetPartnerID {
		return errors.New("a deal needs two different partners")
	}
	if err := r.Terms.Validate(); err != nil {
		return err
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.UTC().After(now.UTC()) {
		return errors.New("expires_at must be in the future")
	}
	return validateIdempotencyKey(r.IdempotencyKey)
}

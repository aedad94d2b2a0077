package fixtures

import (
	"time"

	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/shopspring/decimal"
)

const (
	HomePartner    = "1001"
	ForeignPartner = "1002"
	PendingPartner = "1003"

	Client1 = "5001"
	Client2 = "5002"
)

var (
	StandardTerms = model.DealTerms{
		ConversionRate: decimal.RequireFromString("2"),
	}

	CappedTerms = model.DealTerms{
		ConversionRate: decimal.RequireFromString("3"),
		PointCap:       100,
	}
)

func NewAccrueRequest(clientID, partnerID string, amount int64, key string) model.AccrueRequest {
	return model.AccrueRequest{
		ClientID:       clientID,
		PartnerID:      partnerID,
		Amount:         decimal.NewFromInt(amount),
		Description:    "purchase",
		IdempotencyKey: key,
	}
}

func NewRedeemRequest(clientID, partnerID string, points int64, key string) model.RedeemRequest {
	return model.RedeemRequest{
		ClientID:       clientID,
		PartnerID:      partnerID,
		Points:         points,
		Description:    "reward",
		IdempotencyKey: key,
	}
}

func NewDealRequest(source, target string, terms model.DealTerms, expiresIn time.Duration, key string) model.CreateDealRequest {
	req := model.CreateDealRequest{
		SourcePartnerID: source,
		TargetPartnerID: target,
		Terms:           terms,
		IdempotencyKey:  key,
	}
	if expiresIn > 0 {
		exp := time.Now().UTC().Add(expiresIn)
		req.ExpiresAt = &exp
	}
	return req
}

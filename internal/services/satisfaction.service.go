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
)

type NPSRepository interface {
	Insert(ctx context.Context, resp *model.NPSResponse) (*model.NPSResponse, error)
	RatingsForPartner(ctx context.Context, partnerID string, from, to time.Time) ([]int, error)
}

type TransactionLookup interface {
	FindByID(ctx context.Context, id int64) (*model.Transaction, error)
}

type SatisfactionService struct {
	responses    NPSRepository
	transactions TransactionLookup
	now          func() time.Time
}

func NewSatisfactionService(responses NPSRepository, transactions TransactionLookup) *SatisfactionService {
	return &SatisfactionService{
		responses:    responses,
		transactions: transactions,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SubmitRating stores the one response a transaction may get.
func (s *SatisfactionService) SubmitRating(ctx context.Context, req model.SubmitRatingRequest) (*model.NPSResponse, error) {
	if req.Rating < model.MinRating || req.Rating > model.MaxRating {
		prom.RecordNPSSubmission(prom.ResultRejected)
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRating, req.Rating)
	}

	txn, err := s.transactions.FindByID(ctx, req.TransactionID)
	if errors.Is(err, repository.ErrTransactionNotFound) {
		prom.RecordNPSSubmission(prom.ResultRejected)
		return nil, notFound("transaction", fmt.Sprint(req.TransactionID))
	}
	if err != nil {
		prom.RecordNPSSubmission(prom.ResultError)
		return nil, classify("load rated transaction", err)
	}
	if req.ClientID != "" && txn.ClientID != req.ClientID {
		prom.RecordNPSSubmission(prom.ResultRejected)
		return nil, notFound("transaction", fmt.Sprint(req.TransactionID))
	}

	resp, err := s.responses.Insert(ctx, &model.NPSResponse{
		TransactionID: txn.ID,
		ClientID:      txn.ClientID,
		PartnerID:     txn.PartnerID,
		Rating:        req.Rating,
		Comment:       req.Comment,
		CreatedAt:     s.now(),
	})
	if errors.Is(err, repository.ErrResponseExists) {
		prom.RecordNPSSubmission(prom.ResultRejected)
		return nil, ErrDuplicateResponse
	}
	if err != nil {
		prom.RecordNPSSubmission(prom.ResultError)
		return nil, classify("insert nps response", err)
	}

	prom.RecordNPSSubmission(prom.ResultOK)
	logger.Info("nps response recorded", "transaction_id", txn.ID, "partner_id", txn.PartnerID, "rating", req.Rating)
	return resp, nil
}

// PartnerNPS scores the responses given for a partner's transactions in
// [from, to). Zero bounds are open.
func (s *SatisfactionService) PartnerNPS(ctx context.Context, partnerID string, from, to time.Time) (model.NPSReport, error) {
	ratings, err := s.responses.RatingsForPartner(ctx, partnerID, from, to)
	if err != nil {
		return model.NPSReport{}, classify("partner nps", err)
	}
	return ComputeNPS(ratings), nil
}

// ComputeNPS classifies 9-10 as promoters, 7-8 as passives and 0-6 as
// detractors. The score is (promoters - detractors) / total * 100, and 0 for
// no responses.
func ComputeNPS(ratings []int) model.NPSReport {
	var r model.NPSReport
	for _, rating := range ratings {
		switch {
		case rating >= 9:
			r.Promoters++
		case rating >= 7:
			r.Passives++
		default:
			r.Detractors++
		}
	}
	r.Total = len(ratings)
	if r.Total == 0 {
		return r
	}
	r.Score = float64(r.Promoters-r.Detractors) * 100 / float64(r.Total)
	return r
}

package model

import "time"

const (
	MinRating = 0
	MaxRating = 10
)

// NPSResponse is keyed by the transaction it rates and never updated.
type NPSResponse struct {
	TransactionID int64     `json:"transaction_id"`
	ClientID      string    `json:"client_id"`
	PartnerID     string    `json:"partner_id"`
	Rating        int       `json:"rating"`
	Comment       *string   `json:"comment,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type SubmitRatingRequest struct {
	ClientID      string  `json:"client_id"`
	TransactionID int64   `json:"transaction_id"`
	Rating        int     `json:"rating"`
	Comment       *string `json:"comment,omitempty"`
}

type NPSReport struct {
	Promoters  int     `json:"promoters"`
	Passives   int     `json:"passives"`
	Detractors int     `json:"detractors"`
	Total      int     `json:"total"`
	Score      float64 `json:"score"`
}

package repository

import (
	"time"

	"github.com/nimasrn/loyalty-engine/internal/model"
)

type NPSResponseEntity struct {
	TransactionID int64     `db:"transaction_id" gorm:"primaryKey;autoIncrement:false;column:transaction_id"`
	ClientID      string    `db:"client_id"      gorm:"column:client_id;size:64;not null;index"`
	PartnerID     string    `db:"partner_id"     gorm:"column:partner_id;size:64;not null;index"`
	Rating        int       `db:"rating"         gorm:"column:rating;not null;check:chk_nps_rating_range,rating BETWEEN 0 AND 10"`
	Comment       *string   `db:"comment"        gorm:"column:comment"`
	CreatedAt     time.Time `db:"created_at"     gorm:"column:created_at;autoCreateTime;index"`
}

func (NPSResponseEntity) TableName() string {
	return "nps_responses"
}

func toNPSResponseModel(e *NPSResponseEntity) *model.NPSResponse {
	return &model.NPSResponse{
		TransactionID: e.TransactionID,
		ClientID:      e.ClientID,
		PartnerID:     e.PartnerID,
		Rating:        e.Rating,
		Comment:       e.Comment,
		CreatedAt:     e.CreatedAt.UTC(),
	}
}

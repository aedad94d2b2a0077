package repository

import (
	"time"

	"github.com/nimasrn/loyalty-engine/internal/model"
)

type ClientEntity struct {
	ChatID              string    `db:"chat_id"              gorm:"primaryKey;column:chat_id;size:64"`
	Name                string    `db:"name"                 gorm:"column:name;not null;default:''"`
	Phone               string    `db:"phone"                gorm:"column:phone;not null;default:''"`
	Balance             int64     `db:"balance"              gorm:"column:balance;not null;default:0;check:chk_clients_balance_non_negative,balance >= 0"`
	Status              string    `db:"status"               gorm:"column:status;not null;size:16"`
	RegistrationChannel string    `db:"registration_channel" gorm:"column:registration_channel;not null;default:''"`
	ReferringPartner    *string   `db:"referring_partner"    gorm:"column:referring_partner;size:64;index"`
	ReferralAttributed  bool      `db:"referral_attributed"  gorm:"column:referral_attributed;not null"`
	CreatedAt           time.Time `db:"created_at"           gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `db:"updated_at"           gorm:"column:updated_at;autoUpdateTime"`
}

func (ClientEntity) TableName() string {
	return "clients"
}

func toClientModel(e *ClientEntity) *model.Client {
	if e == nil {
		return nil
	}
	return &model.Client{
		ChatID:              e.ChatID,
		Name:                e.Name,
		Phone:               e.Phone,
		Balance:             e.Balance,
		Status:              model.ClientStatus(e.Status),
		RegistrationChannel: e.RegistrationChannel,
		ReferringPartner:    e.ReferringPartner,
		ReferralAttributed:  e.ReferralAttributed,
		CreatedAt:           e.CreatedAt.UTC(),
		UpdatedAt:           e.UpdatedAt.UTC(),
	}
}

func newClientEntity(chatID string, p model.ClientProfile) *ClientEntity {
	e := &ClientEntity{
		ChatID: chatID,
		Status: string(model.ClientStatusActive),
	}
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.Phone != nil {
		e.Phone = *p.Phone
	}
	if p.RegistrationChannel != nil {
		e.RegistrationChannel = *p.RegistrationChannel
	}
	if p.ReferringPartner != nil && *p.ReferringPartner != "" {
		e.ReferringPartner = p.ReferringPartner
		e.ReferralAttributed = p.ReferralAttributed
	}
	return e
}

// profileUpdates lists the mergeable columns; referring_partner is handled
// separately because it is write-once.
func profileUpdates(p model.ClientProfile) map[string]interface{} {
	updates := map[string]interface{}{}
	if p.Name != nil {
		updates["name"] = *p.Name
	}
	if p.Phone != nil {
		updates["phone"] = *p.Phone
	}
	if p.RegistrationChannel != nil {
		updates["registration_channel"] = *p.RegistrationChannel
	}
	return updates
}

package repository

import (
	"time"

	"github.com/nimasrn/loyalty-engine/internal/model"
	"gorm.io/datatypes"
)

type PartnerEntity struct {
	ChatID       string            `db:"chat_id"       gorm:"primaryKey;column:chat_id;size:64"`
	Name         string            `db:"name"          gorm:"column:name;not null;default:''"`
	CompanyName  string            `db:"company_name"  gorm:"column:company_name;not null;default:''"`
	Phone        string            `db:"phone"         gorm:"column:phone;not null;default:''"`
	Status       string            `db:"status"        gorm:"column:status;not null;size:16;index"`
	Category     string            `db:"category"      gorm:"column:category;not null;default:''"`
	BusinessType string            `db:"business_type" gorm:"column:business_type;not null;default:''"`
	UIConfig     datatypes.JSONMap `db:"ui_config"     gorm:"column:ui_config"`
	CreatedAt    time.Time         `db:"created_at"    gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time         `db:"updated_at"    gorm:"column:updated_at;autoUpdateTime"`
}

func (PartnerEntity) TableName() string {
	return "partners"
}

func toPartnerModel(e *PartnerEntity) *model.Partner {
	if e == nil {
		return nil
	}
	ui := make(map[string]any, len(e.UIConfig))
	for k, v := range e.UIConfig {
		ui[k] = v
	}
	return &model.Partner{
		ChatID:       e.ChatID,
		Name:         e.Name,
		CompanyName:  e.CompanyName,
		Phone:        e.Phone,
		Status:       model.PartnerStatus(e.Status),
		Category:     e.Category,
		BusinessType: e.BusinessType,
		UIConfig:     ui,
		CreatedAt:    e.CreatedAt.UTC(),
		UpdatedAt:    e.UpdatedAt.UTC(),
	}
}

func newPartnerEntity(chatID string, p model.PartnerProfile) *PartnerEntity {
	e := &PartnerEntity{
		ChatID:   chatID,
		Status:   string(model.PartnerStatusPending),
		UIConfig: datatypes.JSONMap{},
	}
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.CompanyName != nil {
		e.CompanyName = *p.CompanyName
	}
	if p.Phone != nil {
		e.Phone = *p.Phone
	}
	if p.BusinessType != nil {
		e.BusinessType = *p.BusinessType
	}
	return e
}

func partnerProfileUpdates(p model.PartnerProfile) map[string]interface{} {
	updates := map[string]interface{}{}
	if p.Name != nil {
		updates["name"] = *p.Name
	}
	if p.CompanyName != nil {
		updates["company_name"] = *p.CompanyName
	}
	if p.Phone != nil {
		updates["phone"] = *p.Phone
	}
	if p.BusinessType != nil {
		updates["business_type"] = *p.BusinessType
	}
	return updates
}

package model

import "time"

type PartnerStatus string

const (
	PartnerStatusPending  PartnerStatus = "pending"
	PartnerStatusApproved PartnerStatus = "approved"
	PartnerStatusRejected PartnerStatus = "rejected"
)

func (s PartnerStatus) Valid() bool {
	switch s {
	case PartnerStatusPending, PartnerStatusApproved, PartnerStatusRejected:
		return true
	}
	return false
}

type Partner struct {
	ChatID       string         `json:"chat_id"`
	Name         string         `json:"name"`
	CompanyName  string         `json:"company_name"`
	Phone        string         `json:"phone"`
	Status       PartnerStatus  `json:"status"`
	Category     string         `json:"category"`
	BusinessType string         `json:"business_type"`
	UIConfig     map[string]any `json:"ui_config"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (p *Partner) Approved() bool {
	return p.Status == PartnerStatusApproved
}

type PartnerProfile struct {
	Name         *string `json:"name,omitempty"`
	CompanyName  *string `json:"company_name,omitempty"`
	Phone        *string `json:"phone,omitempty"`
	BusinessType *string `json:"business_type,omitempty"`
}

// PartnerConfig is what partner bots render with. The zero value means
// "use defaults" and is returned for unknown partners.
type PartnerConfig struct {
	Category     string         `json:"category"`
	BusinessType string         `json:"business_type"`
	UIConfig     map[string]any `json:"ui_config"`
}

func (c PartnerConfig) IsEmpty() bool {
	return c.Category == "" && c.BusinessType == "" && len(c.UIConfig) == 0
}

func (p *Partner) Config() PartnerConfig {
	cfg := PartnerConfig{
		Category:     p.Category,
		BusinessType: p.BusinessType,
		UIConfig:     map[string]any{},
	}
	for k, v := range p.UIConfig {
		cfg.UIConfig[k] = v
	}
	return cfg
}

package model

import (
	"errors"
	"strings"
	"time"
)

type ClientStatus string

const (
	ClientStatusActive  ClientStatus = "active"
	ClientStatusBlocked ClientStatus = "blocked"
)

func (s ClientStatus) Valid() bool {
	return s == ClientStatusActive || s == ClientStatusBlocked
}

type Client struct {
	ChatID              string       `json:"chat_id"`
	Name                string       `json:"name"`
	Phone               string       `json:"phone"`
	Balance             int64        `json:"balance"` // cache of the transaction log, see Ledger.Reconcile
	Status              ClientStatus `json:"status"`
	RegistrationChannel string       `json:"registration_channel"`
	ReferringPartner    *string      `json:"referring_partner,omitempty"`
	ReferralAttributed  bool         `json:"referral_attributed"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

func (c *Client) Blocked() bool {
	return c.Status == ClientStatusBlocked
}

// ClientProfile carries the fields an upsert may touch. Nil means keep.
// ReferringPartner is only ever applied while the client has none.
type ClientProfile struct {
	Name                *string `json:"name,omitempty"`
	Phone               *string `json:"phone,omitempty"`
	RegistrationChannel *string `json:"registration_channel,omitempty"`
	ReferringPartner    *string `json:"referring_partner,omitempty"`
	ReferralAttributed  bool    `json:"-"`
}

func ValidateChatID(chatID string) error {
	if strings.TrimSpace(chatID) == "" {
		return errors.New("chat_id is required")
	}
	if len(chatID) > 64 {
		return errors.New("chat_id is too long")
	}
	if strings.Contains(chatID, PairSeparator) {
		return errors.New("chat_id must not contain " + PairSeparator)
	}
	return nil
}

// ReferralStats counts the clients a partner brought in.
type ReferralStats struct {
	PartnerID  string `json:"partner_id"`
	Total      int64  `json:"total"`
	Attributed int64  `json:"attributed"`
}

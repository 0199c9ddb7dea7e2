package models

import (
	"time"
)

type AccountType string

const (
	AccountTypePersonal AccountType = "personal"
	AccountTypePage     AccountType = "page"
	AccountTypeBusiness AccountType = "business"
	AccountTypeCreator  AccountType = "creator"
)

type AccountStatus string

const (
	AccountStatusActive      AccountStatus = "active"
	AccountStatusNeedsReauth AccountStatus = "needs_reauth"
	AccountStatusDisabled    AccountStatus = "disabled"
)

// Account is a connected destination on a third-party platform.
type Account struct {
	ID             int64         `db:"id" json:"id"`
	OrganizationID int64         `db:"organization_id" json:"organization_id"`
	Platform       string        `db:"platform" json:"platform"`
	ExternalID     string        `db:"account_id" json:"account_id"`
	AccountName    string        `db:"account_name" json:"account_name"`
	AccountType    AccountType   `db:"account_type" json:"account_type"`
	AccessToken    string        `db:"access_token" json:"-"`
	TokenExpiresAt time.Time     `db:"token_expires_at" json:"token_expires_at"`
	Status         AccountStatus `db:"account_status" json:"account_status"`
	StatusReason   string        `db:"status_reason" json:"status_reason,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// SupportsNativeScheduling reports whether the account type is eligible
// for a platform's own delayed publish facility.
func (a *Account) SupportsNativeScheduling() bool {
	return a.AccountType == AccountTypePage || a.AccountType == AccountTypeBusiness
}

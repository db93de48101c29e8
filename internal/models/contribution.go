package models

import "time"

type PaymentMethod string

const (
	MethodMpesa        PaymentMethod = "mpesa"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCash         PaymentMethod = "cash"
)

type ContributionStatus string

const (
	ContributionPending  ContributionStatus = "pending"
	ContributionVerified ContributionStatus = "verified"
	ContributionFailed   ContributionStatus = "failed"
	ContributionExpired  ContributionStatus = "expired"
)

// Contribution is the append-mostly source of truth for money movement.
// Once verified a row is immutable except for audit fields; campaign and
// pledge totals are pure re-derivations from verified rows.
type Contribution struct {
	ID               string             `json:"id"`
	CampaignID       string             `json:"campaign_id"`
	PledgeID         *string            `json:"pledge_id,omitempty"`
	Amount           int64              `json:"amount"`
	Method           PaymentMethod      `json:"payment_method"`
	ExternalRef      *string            `json:"external_ref,omitempty"` // gateway checkout ref, mpesa only
	ReceiptNo        *string            `json:"receipt_no,omitempty"`   // M-Pesa receipt, set on verify
	ContributorName  string             `json:"contributor_name,omitempty"`
	ContributorEmail string             `json:"contributor_email,omitempty"`
	ContributorPhone string             `json:"contributor_phone,omitempty"`
	IsAnonymous      bool               `json:"is_anonymous"`
	Status           ContributionStatus `json:"status"`
	CreatedAt        time.Time          `json:"created_at"`
	VerifiedAt       *time.Time         `json:"verified_at,omitempty"`
}

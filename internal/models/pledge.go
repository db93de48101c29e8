package models

import "time"

type PledgeStatus string

const (
	PledgePending   PledgeStatus = "pending"
	PledgePartial   PledgeStatus = "partial"
	PledgeCompleted PledgeStatus = "completed"
	PledgeCancelled PledgeStatus = "cancelled"
)

// Pledge is a commitment to give over time. PaidAmount and (except for
// cancellation) Status are derived from verified contributions.
type Pledge struct {
	ID              string       `json:"id"`
	CampaignID      string       `json:"campaign_id"`
	ContributorID   *string      `json:"contributor_id,omitempty"`
	ContributorName string       `json:"contributor_name,omitempty"`
	PledgedAmount   int64        `json:"pledged_amount"`
	PaidAmount      int64        `json:"paid_amount"`
	Status          PledgeStatus `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// DerivePledgeStatus maps paid vs pledged to a status. Cancelled is sticky
// and must be checked by the caller before deriving.
func DerivePledgeStatus(paid, pledged int64) PledgeStatus {
	switch {
	case paid <= 0:
		return PledgePending
	case paid < pledged:
		return PledgePartial
	default:
		return PledgeCompleted
	}
}

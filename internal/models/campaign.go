package models

import "time"

type CampaignStatus string

const (
	CampaignDraft  CampaignStatus = "draft"
	CampaignActive CampaignStatus = "active"
	CampaignClosed CampaignStatus = "closed"
)

// Campaign lives in the document store. CurrentAmount is derived by the
// aggregator from verified contributions and is never hand-edited.
type Campaign struct {
	ID            string         `bson:"_id,omitempty" json:"id"`
	Title         string         `bson:"title" json:"title"`
	Description   string         `bson:"description,omitempty" json:"description,omitempty"`
	GoalAmount    int64          `bson:"goal_amount" json:"goal_amount"`
	CurrentAmount int64          `bson:"current_amount" json:"current_amount"`
	Status        CampaignStatus `bson:"status" json:"status"`
	StartsAt      *time.Time     `bson:"starts_at,omitempty" json:"starts_at,omitempty"`
	EndsAt        *time.Time     `bson:"ends_at,omitempty" json:"ends_at,omitempty"`
	CreatedAt     time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `bson:"updated_at" json:"updated_at"`
}

package services

import "errors"

var (
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrCampaignNotActive = errors.New("campaign not active")

	ErrPledgeNotFound  = errors.New("pledge not found")
	ErrPledgeCancelled = errors.New("pledge cancelled")
	// Completed pledges cannot be cancelled.
	ErrPledgeCompleted = errors.New("pledge already fulfilled")
	ErrPledgeMismatch  = errors.New("pledge does not belong to campaign")

	ErrContributionNotFound   = errors.New("contribution not found")
	ErrContributionNotPending = errors.New("contribution is not pending")
	// Manual verification applies to cash/bank contributions only;
	// mobile-money settles through the gateway callback.
	ErrNotManualMethod = errors.New("contribution is gateway-managed")
)

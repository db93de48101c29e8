package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kanisahub/giving-backend/internal/models"
	repo "github.com/kanisahub/giving-backend/internal/repository"
)

type PledgeService struct {
	campaigns repo.Campaigns
	pledges   repo.Pledges
	audit     repo.AuditLogs
}

func NewPledgeService(c repo.Campaigns, p repo.Pledges, a repo.AuditLogs) *PledgeService {
	return &PledgeService{campaigns: c, pledges: p, audit: a}
}

func (s *PledgeService) Create(ctx context.Context, campaignID string, contributorID *string, contributorName string, amount int64) (models.Pledge, error) {
	c, err := s.campaigns.GetByID(ctx, campaignID)
	if errors.Is(err, repo.ErrNotFound) {
		return models.Pledge{}, ErrCampaignNotFound
	}
	if err != nil {
		return models.Pledge{}, err
	}
	if c.Status != models.CampaignActive {
		return models.Pledge{}, ErrCampaignNotActive
	}
	return s.pledges.Create(ctx, models.Pledge{
		CampaignID:      campaignID,
		ContributorID:   contributorID,
		ContributorName: contributorName,
		PledgedAmount:   amount,
	})
}

func (s *PledgeService) GetByID(ctx context.Context, id string) (models.Pledge, error) {
	p, err := s.pledges.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return models.Pledge{}, ErrPledgeNotFound
	}
	return p, err
}

func (s *PledgeService) ListByCampaign(ctx context.Context, campaignID string, limit, offset int) ([]models.Pledge, error) {
	return s.pledges.ListByCampaign(ctx, campaignID, limit, offset)
}

// Cancel marks a pledge cancelled. Cancellation is sticky and removes the
// pledge from active expectations; verified contributions already made
// stay in the campaign total. A fulfilled pledge cannot be cancelled.
func (s *PledgeService) Cancel(ctx context.Context, id, actor string) error {
	p, err := s.pledges.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrPledgeNotFound
	}
	if err != nil {
		return err
	}
	switch p.Status {
	case models.PledgeCancelled:
		return nil
	case models.PledgeCompleted:
		return ErrPledgeCompleted
	}

	if err := s.pledges.Cancel(ctx, id); err != nil {
		// The conditional update loses if the pledge completed in between.
		if errors.Is(err, repo.ErrNotFound) {
			return ErrPledgeCompleted
		}
		return err
	}
	pid := id
	if err := s.audit.Create(ctx, models.AuditLog{
		EntityType: "pledge",
		EntityID:   &pid,
		Action:     "cancelled",
		Details:    map[string]any{"actor": actor},
	}); err != nil {
		slog.Warn("audit write failed", "action", "cancelled", "err", err)
	}
	return nil
}

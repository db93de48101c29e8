package services

import (
	"context"
	"errors"

	"github.com/kanisahub/giving-backend/internal/models"
	repo "github.com/kanisahub/giving-backend/internal/repository"
)

// CampaignService is the thin write/read surface over the campaign store.
// CurrentAmount is aggregator-owned and deliberately absent here.
type CampaignService struct {
	campaigns repo.Campaigns
}

func NewCampaignService(c repo.Campaigns) *CampaignService {
	return &CampaignService{campaigns: c}
}

func (s *CampaignService) Create(ctx context.Context, c models.Campaign) (models.Campaign, error) {
	c.CurrentAmount = 0
	if c.Status == "" {
		c.Status = models.CampaignDraft
	}
	return s.campaigns.Create(ctx, c)
}

func (s *CampaignService) GetByID(ctx context.Context, id string) (models.Campaign, error) {
	c, err := s.campaigns.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return models.Campaign{}, ErrCampaignNotFound
	}
	return c, err
}

func (s *CampaignService) List(ctx context.Context) ([]models.Campaign, error) {
	return s.campaigns.List(ctx)
}

func (s *CampaignService) UpdateStatus(ctx context.Context, id string, status models.CampaignStatus) error {
	switch status {
	case models.CampaignDraft, models.CampaignActive, models.CampaignClosed:
	default:
		return errors.New("unknown campaign status")
	}
	err := s.campaigns.UpdateStatus(ctx, id, status)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrCampaignNotFound
	}
	return err
}

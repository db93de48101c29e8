package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kanisahub/giving-backend/internal/gateway"
	"github.com/kanisahub/giving-backend/internal/models"
	repo "github.com/kanisahub/giving-backend/internal/repository"
)

// ContributionService owns the write side of contributions: STK push
// initiation and manual (cash/bank) submissions. Settlement of both lands
// in ReconcileService.
type ContributionService struct {
	campaigns repo.Campaigns
	pledges   repo.Pledges
	contribs  repo.Contributions
	intents   repo.Intents
	audit     repo.AuditLogs
	gw        gateway.Gateway

	intentDeadline time.Duration
}

func NewContributionService(c repo.Campaigns, p repo.Pledges, co repo.Contributions, i repo.Intents, a repo.AuditLogs, gw gateway.Gateway, intentDeadline time.Duration) *ContributionService {
	return &ContributionService{
		campaigns: c, pledges: p, contribs: co, intents: i, audit: a,
		gw: gw, intentDeadline: intentDeadline,
	}
}

type ContributionInput struct {
	CampaignID       string
	PledgeID         *string
	Amount           int64
	Method           models.PaymentMethod
	ContributorName  string
	ContributorEmail string
	ContributorPhone string
	IsAnonymous      bool
}

type InitiateResult struct {
	Contribution models.Contribution
	CheckoutRef  string
}

// InitiateMpesa triggers an STK push and records the pending contribution
// plus its payment intent. The contribution stays pending until the
// gateway callback or the sweeper decides its fate.
func (s *ContributionService) InitiateMpesa(ctx context.Context, in ContributionInput, phone string) (InitiateResult, error) {
	pledge, err := s.checkTarget(ctx, in)
	if err != nil {
		return InitiateResult{}, err
	}

	res, err := s.gw.Initiate(ctx, in.Amount, phone, in.CampaignID)
	if err != nil {
		// No contribution row exists yet; the user may simply retry.
		return InitiateResult{}, err
	}

	ref := res.CheckoutRef
	c, err := s.contribs.Create(ctx, models.Contribution{
		CampaignID:       in.CampaignID,
		PledgeID:         in.PledgeID,
		Amount:           in.Amount,
		Method:           models.MethodMpesa,
		ExternalRef:      &ref,
		ContributorName:  in.ContributorName,
		ContributorEmail: in.ContributorEmail,
		ContributorPhone: phone,
		IsAnonymous:      in.IsAnonymous,
		Status:           models.ContributionPending,
	})
	if err != nil {
		return InitiateResult{}, err
	}

	it := models.PaymentIntent{
		CheckoutRef:       ref,
		MerchantRequestID: res.MerchantRequestID,
		ContributionID:    c.ID,
		Amount:            in.Amount,
		Phone:             phone,
		State:             models.IntentInitiated,
		Deadline:          time.Now().Add(s.intentDeadline),
	}
	if err := s.intents.Create(ctx, it); err != nil {
		return InitiateResult{}, err
	}
	// Steady state while we wait for the async notification. If the
	// process dies before this point the sweeper expires the orphan.
	if err := s.intents.MarkAwaiting(ctx, ref); err != nil {
		return InitiateResult{}, err
	}

	s.flagOverpayRisk(ctx, pledge, in.Amount)
	return InitiateResult{Contribution: c, CheckoutRef: ref}, nil
}

// SubmitManual records a cash or bank-transfer contribution as pending.
// It becomes real money only after an explicit human verification.
func (s *ContributionService) SubmitManual(ctx context.Context, in ContributionInput) (models.Contribution, error) {
	if in.Method != models.MethodCash && in.Method != models.MethodBankTransfer {
		return models.Contribution{}, ErrNotManualMethod
	}
	pledge, err := s.checkTarget(ctx, in)
	if err != nil {
		return models.Contribution{}, err
	}

	c, err := s.contribs.Create(ctx, models.Contribution{
		CampaignID:       in.CampaignID,
		PledgeID:         in.PledgeID,
		Amount:           in.Amount,
		Method:           in.Method,
		ContributorName:  in.ContributorName,
		ContributorEmail: in.ContributorEmail,
		ContributorPhone: in.ContributorPhone,
		IsAnonymous:      in.IsAnonymous,
		Status:           models.ContributionPending,
	})
	if err != nil {
		return models.Contribution{}, err
	}
	s.flagOverpayRisk(ctx, pledge, in.Amount)
	return c, nil
}

func (s *ContributionService) GetByID(ctx context.Context, id string) (models.Contribution, error) {
	c, err := s.contribs.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return models.Contribution{}, ErrContributionNotFound
	}
	return c, err
}

func (s *ContributionService) ListByCampaign(ctx context.Context, campaignID string, limit, offset int) ([]models.Contribution, error) {
	return s.contribs.ListByCampaign(ctx, campaignID, limit, offset)
}

// checkTarget validates the campaign and (optional) pledge a contribution
// is aimed at, before any side effect.
func (s *ContributionService) checkTarget(ctx context.Context, in ContributionInput) (*models.Pledge, error) {
	c, err := s.campaigns.GetByID(ctx, in.CampaignID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.Status != models.CampaignActive {
		return nil, ErrCampaignNotActive
	}
	if in.PledgeID == nil {
		return nil, nil
	}

	p, err := s.pledges.GetByID(ctx, *in.PledgeID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrPledgeNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.CampaignID != in.CampaignID {
		return nil, ErrPledgeMismatch
	}
	if p.Status == models.PledgeCancelled {
		return nil, ErrPledgeCancelled
	}
	return &p, nil
}

// flagOverpayRisk leaves an audit trail when a submission would push a
// pledge past its commitment. Policy is applied at aggregation time; the
// submission itself is never rejected once validated.
func (s *ContributionService) flagOverpayRisk(ctx context.Context, p *models.Pledge, amount int64) {
	if p == nil || p.PaidAmount+amount <= p.PledgedAmount {
		return
	}
	id := p.ID
	if err := s.audit.Create(ctx, models.AuditLog{
		EntityType: "pledge",
		EntityID:   &id,
		Action:     "overpay_risk",
		Details:    map[string]any{"paid": p.PaidAmount, "pledged": p.PledgedAmount, "incoming": amount},
	}); err != nil {
		slog.Warn("audit write failed", "action", "overpay_risk", "err", err)
	}
}

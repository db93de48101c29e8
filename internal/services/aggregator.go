package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kanisahub/giving-backend/internal/config"
	"github.com/kanisahub/giving-backend/internal/metrics"
	"github.com/kanisahub/giving-backend/internal/models"
	repo "github.com/kanisahub/giving-backend/internal/repository"
)

// Aggregator recomputes derived totals from the contribution ledger.
// Campaign.CurrentAmount and Pledge.PaidAmount are pure functions of the
// verified rows, so a recompute overwrites rather than increments: running
// it twice, or after a crash mid-apply, converges instead of double-adding.
type Aggregator struct {
	campaigns repo.Campaigns
	pledges   repo.Pledges
	contribs  repo.Contributions
	audit     repo.AuditLogs
	overpay   config.OverpayPolicy
}

func NewAggregator(c repo.Campaigns, p repo.Pledges, co repo.Contributions, a repo.AuditLogs, overpay config.OverpayPolicy) *Aggregator {
	return &Aggregator{campaigns: c, pledges: p, contribs: co, audit: a, overpay: overpay}
}

// RecomputeCampaign re-derives a campaign's running total. Returns whether
// the stored value had to change.
func (g *Aggregator) RecomputeCampaign(ctx context.Context, campaignID string) (bool, error) {
	sum, err := g.contribs.SumVerifiedByCampaign(ctx, campaignID)
	if err != nil {
		return false, err
	}
	c, err := g.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return false, err
	}
	if c.CurrentAmount == sum {
		return false, nil
	}
	if err := g.campaigns.SetCurrentAmount(ctx, campaignID, sum); err != nil {
		return false, err
	}
	return true, nil
}

// RecomputePledge re-derives paid amount and status. Cancelled is sticky.
// Overpayment is applied per the configured policy and always flagged.
func (g *Aggregator) RecomputePledge(ctx context.Context, pledgeID string) (bool, error) {
	sum, err := g.contribs.SumVerifiedByPledge(ctx, pledgeID)
	if err != nil {
		return false, err
	}
	p, err := g.pledges.GetByID(ctx, pledgeID)
	if err != nil {
		return false, err
	}

	paid := sum
	if sum > p.PledgedAmount && g.overpay == config.OverpayCap {
		paid = p.PledgedAmount
	}
	status := models.DerivePledgeStatus(sum, p.PledgedAmount)
	if p.Status == models.PledgeCancelled {
		status = models.PledgeCancelled
	}
	if paid == p.PaidAmount && status == p.Status {
		return false, nil
	}

	if err := g.pledges.SetDerived(ctx, pledgeID, paid, status); err != nil {
		return false, err
	}
	if sum > p.PledgedAmount {
		metrics.OverpaysFlagged.Inc()
		g.auditLog(ctx, "pledge", pledgeID, "overpay_flagged", map[string]any{
			"pledged": p.PledgedAmount, "verified_sum": sum, "policy": string(g.overpay),
		})
	}
	return true, nil
}

// RunSweep recomputes every campaign and every non-cancelled pledge. This
// is the drift-healing pass: any divergence between stored aggregates and
// the ledger is corrected here regardless of what caused it.
func (g *Aggregator) RunSweep(ctx context.Context) error {
	campaignIDs, err := g.campaigns.ListIDs(ctx)
	if err != nil {
		return err
	}
	var firstErr error
	for _, id := range campaignIDs {
		changed, err := g.RecomputeCampaign(ctx, id)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if changed {
			metrics.DriftCorrections.WithLabelValues("campaign").Inc()
			g.auditLog(ctx, "campaign", id, "drift_corrected", nil)
		}
	}

	pledgeIDs, err := g.pledges.ListActiveIDs(ctx)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
		return firstErr
	}
	for _, id := range pledgeIDs {
		changed, err := g.RecomputePledge(ctx, id)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if changed {
			metrics.DriftCorrections.WithLabelValues("pledge").Inc()
			g.auditLog(ctx, "pledge", id, "drift_corrected", nil)
		}
	}
	return firstErr
}

// Start runs the periodic full sweep until ctx is cancelled.
func (g *Aggregator) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.RunSweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("aggregate sweep", "err", err)
			}
		}
	}
}

func (g *Aggregator) auditLog(ctx context.Context, entityType, entityID, action string, details map[string]any) {
	if err := g.audit.Create(ctx, models.AuditLog{
		EntityType: entityType,
		EntityID:   &entityID,
		Action:     action,
		Details:    details,
	}); err != nil {
		slog.Warn("audit write failed", "action", action, "err", err)
	}
}

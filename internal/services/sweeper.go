package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kanisahub/giving-backend/internal/metrics"
	"github.com/kanisahub/giving-backend/internal/models"
	repo "github.com/kanisahub/giving-backend/internal/repository"
)

const sweepBatchSize = 200

// Sweeper expires payment intents that never received a callback. It uses
// the same conditional transition as the reconcile engine, so a late
// callback racing an expiry resolves to exactly one winner.
type Sweeper struct {
	intents  repo.Intents
	contribs repo.Contributions
	audit    repo.AuditLogs
}

func NewSweeper(i repo.Intents, c repo.Contributions, a repo.AuditLogs) *Sweeper {
	return &Sweeper{intents: i, contribs: c, audit: a}
}

// SweepOnce expires everything overdue at now, then re-drives terminal
// intents whose contribution write was lost. Returns how many intents it
// actually transitioned.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	overdue, err := s.intents.ListOverdue(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, it := range overdue {
		won, err := s.intents.Finalize(ctx, it.CheckoutRef, models.IntentExpired)
		if err != nil {
			slog.Error("expire intent", "checkout_ref", it.CheckoutRef, "err", err)
			continue
		}
		if !won {
			// A callback settled or failed this intent between the list
			// and the transition. Its outcome stands.
			continue
		}
		if _, err := s.contribs.SetStatus(ctx, it.ContributionID, models.ContributionExpired); err != nil {
			// The intent is already terminal, so ListOverdue will not
			// surface it again; the re-drive pass below picks it up on
			// the next sweep.
			slog.Error("mark contribution expired", "contribution_id", it.ContributionID, "err", err)
			continue
		}
		metrics.IntentsExpired.Inc()
		s.auditExpiry(ctx, it)
		expired++
	}

	if err := s.redriveStuck(ctx); err != nil {
		return expired, err
	}
	return expired, nil
}

// redriveStuck finishes contribution writes lost after an intent reached
// failed or expired. Replaying the conditional write converges: whoever
// actually moves the row records the outcome.
func (s *Sweeper) redriveStuck(ctx context.Context) error {
	stuck, err := s.intents.ListStuck(ctx, sweepBatchSize)
	if err != nil {
		return err
	}
	for _, it := range stuck {
		target := models.ContributionFailed
		if it.State == models.IntentExpired {
			target = models.ContributionExpired
		}
		won, err := s.contribs.SetStatus(ctx, it.ContributionID, target)
		if err != nil {
			slog.Error("redrive contribution", "contribution_id", it.ContributionID, "err", err)
			continue
		}
		if !won {
			continue
		}
		if it.State == models.IntentExpired {
			metrics.IntentsExpired.Inc()
			s.auditExpiry(ctx, it)
		} else {
			cid := it.ContributionID
			if err := s.audit.Create(ctx, models.AuditLog{
				EntityType: "contribution",
				EntityID:   &cid,
				Action:     "payment_failed",
				Details:    map[string]any{"checkout_ref": it.CheckoutRef},
			}); err != nil {
				slog.Warn("audit write failed", "action", "payment_failed", "err", err)
			}
		}
	}
	return nil
}

func (s *Sweeper) auditExpiry(ctx context.Context, it models.PaymentIntent) {
	ref := it.CheckoutRef
	if err := s.audit.Create(ctx, models.AuditLog{
		EntityType: "payment_intent",
		EntityID:   &ref,
		Action:     "intent_expired",
		Details: map[string]any{
			"contribution_id": it.ContributionID,
			"deadline":        it.Deadline.UTC().Format(time.RFC3339),
		},
	}); err != nil {
		slog.Warn("audit write failed", "action", "intent_expired", "err", err)
	}
}

// Start runs the sweep on a fixed interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx, time.Now()); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("settlement sweep", "err", err)
			}
		}
	}
}

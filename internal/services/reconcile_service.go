package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kanisahub/giving-backend/internal/gateway"
	"github.com/kanisahub/giving-backend/internal/metrics"
	"github.com/kanisahub/giving-backend/internal/models"
	repo "github.com/kanisahub/giving-backend/internal/repository"
	"github.com/kanisahub/giving-backend/internal/worker"
)

// ReconcileService applies payment outcomes to the ledger exactly once.
// Both settlement sources converge here: gateway callbacks through
// ApplyCallback, human verification of cash/bank contributions through
// VerifyManual. The idempotency unit is the payment intent: the first
// Finalize on an intent wins, every later attempt observes the terminal
// state and no-ops.
type ReconcileService struct {
	intents  repo.Intents
	contribs repo.Contributions
	audit    repo.AuditLogs
	agg      *Aggregator
	wp       *worker.Pool
}

func NewReconcileService(i repo.Intents, c repo.Contributions, a repo.AuditLogs, agg *Aggregator, wp *worker.Pool) *ReconcileService {
	return &ReconcileService{intents: i, contribs: c, audit: a, agg: agg, wp: wp}
}

// ApplyCallback processes one gateway notification. It only returns an
// error when a store write failed and the provider should retry; unknown
// refs, duplicates and late arrivals are recorded and swallowed, since
// erroring loudly would just make the gateway retry a no-op forever.
func (s *ReconcileService) ApplyCallback(ctx context.Context, cb gateway.Callback) error {
	it, err := s.intents.Get(ctx, cb.CheckoutRef)
	if errors.Is(err, repo.ErrNotFound) {
		metrics.CallbacksTotal.WithLabelValues("orphan").Inc()
		s.auditLog(ctx, "payment_intent", cb.CheckoutRef, "orphan_callback", map[string]any{
			"result_code": cb.ResultCode, "result_desc": cb.ResultDesc,
		})
		return nil
	}
	if err != nil {
		return fmt.Errorf("load intent: %w", err)
	}

	if it.State.Terminal() {
		return s.applyToTerminal(ctx, it, cb)
	}

	if !cb.Success() {
		won, err := s.intents.Finalize(ctx, cb.CheckoutRef, models.IntentFailed)
		if err != nil {
			return fmt.Errorf("fail intent: %w", err)
		}
		if !won {
			metrics.CallbacksTotal.WithLabelValues("duplicate").Inc()
			return nil
		}
		return s.failContribution(ctx, it.ContributionID, cb)
	}

	// Success: claim the intent first. Only the claim winner touches the
	// contribution, so a racing sweeper or duplicate callback can never
	// write over this settlement.
	won, err := s.intents.Finalize(ctx, cb.CheckoutRef, models.IntentSettled)
	if err != nil {
		return fmt.Errorf("settle intent: %w", err)
	}
	if !won {
		// Re-read: the race may have been lost to the sweeper, in which
		// case this is a late success, not a duplicate.
		if cur, err := s.intents.Get(ctx, cb.CheckoutRef); err == nil {
			return s.applyToTerminal(ctx, cur, cb)
		}
		metrics.CallbacksTotal.WithLabelValues("duplicate").Inc()
		return nil
	}

	return s.settle(ctx, it, cb)
}

func (s *ReconcileService) settle(ctx context.Context, it models.PaymentIntent, cb gateway.Callback) error {
	var receipt *string
	if cb.ReceiptNo != "" {
		receipt = &cb.ReceiptNo
	}
	won, err := s.contribs.MarkVerified(ctx, it.ContributionID, receipt, time.Now().UTC())
	if err != nil {
		// Intent is settled but the ledger write failed; surface the error
		// so the provider retries. The retry lands in applyToTerminal and
		// completes the half-done settlement.
		return fmt.Errorf("mark contribution verified: %w", err)
	}
	if !won {
		// A concurrent retry finished the settlement between our terminal
		// check and this write. Its audit entry stands.
		metrics.CallbacksTotal.WithLabelValues("duplicate").Inc()
		return nil
	}
	metrics.CallbacksTotal.WithLabelValues("settled").Inc()
	s.auditLog(ctx, "contribution", it.ContributionID, "payment_settled", map[string]any{
		"checkout_ref": it.CheckoutRef, "receipt_no": cb.ReceiptNo, "amount": cb.Amount,
	})
	s.enqueueRecompute(it.ContributionID)
	return nil
}

// failContribution finishes a business failure: mark the contribution and
// leave the audit trail. Only the writer that actually moved the row
// records it; a concurrent retry observes !won and counts a duplicate.
func (s *ReconcileService) failContribution(ctx context.Context, contributionID string, cb gateway.Callback) error {
	won, err := s.contribs.SetStatus(ctx, contributionID, models.ContributionFailed)
	if err != nil {
		// Intent is failed but the contribution write was lost; surface
		// the error so the provider retries, or the sweeper re-drives it.
		return fmt.Errorf("mark contribution failed: %w", err)
	}
	if !won {
		metrics.CallbacksTotal.WithLabelValues("duplicate").Inc()
		return nil
	}
	metrics.CallbacksTotal.WithLabelValues("failed").Inc()
	s.auditLog(ctx, "contribution", contributionID, "payment_failed", map[string]any{
		"checkout_ref": cb.CheckoutRef, "result_code": cb.ResultCode, "result_desc": cb.ResultDesc,
	})
	return nil
}

// applyToTerminal handles a callback for an intent that already reached a
// terminal state.
func (s *ReconcileService) applyToTerminal(ctx context.Context, it models.PaymentIntent, cb gateway.Callback) error {
	if it.State == models.IntentExpired && cb.Success() {
		// Expiry is authoritative: the user has been told the payment
		// timed out and may have retried. Record the receipt for manual
		// reconciliation, never credit it.
		metrics.CallbacksTotal.WithLabelValues("late").Inc()
		slog.Warn("late gateway success after expiry",
			"checkout_ref", cb.CheckoutRef, "receipt_no", cb.ReceiptNo, "amount", cb.Amount)
		s.auditLog(ctx, "payment_intent", cb.CheckoutRef, "late_callback", map[string]any{
			"contribution_id": it.ContributionID, "receipt_no": cb.ReceiptNo, "amount": cb.Amount,
		})
		return nil
	}

	if it.State == models.IntentSettled && cb.Success() {
		// A retry after a settlement that failed half-way: the intent is
		// settled but the contribution may still be pending. MarkVerified
		// is conditional, so replaying it converges.
		c, err := s.contribs.GetByID(ctx, it.ContributionID)
		if err == nil && c.Status == models.ContributionPending {
			return s.settle(ctx, it, cb)
		}
	}

	if it.State == models.IntentFailed && !cb.Success() {
		// Mirror of the settled heal: the failure committed on the intent
		// but the contribution write was lost. The retry finishes it.
		c, err := s.contribs.GetByID(ctx, it.ContributionID)
		if err == nil && c.Status == models.ContributionPending {
			return s.failContribution(ctx, it.ContributionID, cb)
		}
	}

	metrics.CallbacksTotal.WithLabelValues("duplicate").Inc()
	return nil
}

// VerifyManual settles a cash/bank contribution after a human confirmed
// the money arrived. Idempotent: verifying twice is a no-op.
func (s *ReconcileService) VerifyManual(ctx context.Context, contributionID, actor string) error {
	c, err := s.contribs.GetByID(ctx, contributionID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrContributionNotFound
	}
	if err != nil {
		return err
	}
	if c.Method == models.MethodMpesa {
		return ErrNotManualMethod
	}
	switch c.Status {
	case models.ContributionVerified:
		return nil
	case models.ContributionPending:
	default:
		return ErrContributionNotPending
	}

	won, err := s.contribs.MarkVerified(ctx, contributionID, nil, time.Now().UTC())
	if err != nil {
		return err
	}
	if !won {
		// Lost a race with another verifier or a gateway settlement; the
		// contribution is settled either way.
		return nil
	}
	s.auditLog(ctx, "contribution", contributionID, "manual_verified", map[string]any{"actor": actor})
	s.enqueueRecompute(contributionID)
	return nil
}

// enqueueRecompute schedules aggregate recomputation for the contribution's
// campaign and pledge. Failures here are non-fatal: the periodic aggregator
// sweep re-derives everything from the ledger and heals a missed recompute.
func (s *ReconcileService) enqueueRecompute(contributionID string) {
	s.wp.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		c, err := s.contribs.GetByID(ctx, contributionID)
		if err != nil {
			slog.Error("recompute: load contribution", "id", contributionID, "err", err)
			return
		}
		if _, err := s.agg.RecomputeCampaign(ctx, c.CampaignID); err != nil {
			slog.Error("recompute campaign", "campaign_id", c.CampaignID, "err", err)
		}
		if c.PledgeID != nil {
			if _, err := s.agg.RecomputePledge(ctx, *c.PledgeID); err != nil {
				slog.Error("recompute pledge", "pledge_id", *c.PledgeID, "err", err)
			}
		}
	})
}

func (s *ReconcileService) auditLog(ctx context.Context, entityType, entityID, action string, details map[string]any) {
	if err := s.audit.Create(ctx, models.AuditLog{
		EntityType: entityType,
		EntityID:   &entityID,
		Action:     action,
		Details:    details,
	}); err != nil {
		slog.Warn("audit write failed", "action", action, "err", err)
	}
}

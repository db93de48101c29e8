package services

import (
	"context"
	"testing"
	"time"

	"github.com/kanisahub/giving-backend/internal/config"
	"github.com/kanisahub/giving-backend/internal/models"
)

// Scenario: no callback ever arrives; the sweeper expires the intent and
// the campaign total is untouched.
func TestSweepExpiresOverdueIntent(t *testing.T) {
	f := newFixture(t, config.OverpayAllow)
	ctx := context.Background()
	sweeper := NewSweeper(f.store.Intents(), f.store.Contributions(), f.store.AuditLogs())

	camp := f.activeCampaign(t, 5000)
	contrib := f.pendingMpesa(t, camp.ID, nil, 1000, "ws_CO_exp_1")

	// Not yet overdue.
	n, err := sweeper.SweepOnce(ctx, time.Now())
	if err != nil || n != 0 {
		t.Fatalf("early sweep: n=%d err=%v, want 0/nil", n, err)
	}

	n, err = sweeper.SweepOnce(ctx, time.Now().Add(10*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("sweep expired %d intents, want 1", n)
	}
	f.drain()

	it, _ := f.store.Intents().Get(ctx, "ws_CO_exp_1")
	if it.State != models.IntentExpired {
		t.Fatalf("intent state = %s, want expired", it.State)
	}
	got, _ := f.store.Contributions().GetByID(ctx, contrib.ID)
	if got.Status != models.ContributionExpired {
		t.Fatalf("contribution status = %s, want expired", got.Status)
	}
	c, _ := f.store.Campaigns().GetByID(ctx, camp.ID)
	if c.CurrentAmount != 0 {
		t.Fatalf("campaign current = %d, want 0", c.CurrentAmount)
	}
	if countAudits(f, "intent_expired") != 1 {
		t.Fatal("expected an intent_expired audit entry")
	}
}

// Expiry and late settlement are mutually exclusive: once the sweeper won,
// a late gateway success is recorded out-of-band and never credits.
func TestLateCallbackAfterExpiryIsNoOp(t *testing.T) {
	f := newFixture(t, config.OverpayAllow)
	ctx := context.Background()
	sweeper := NewSweeper(f.store.Intents(), f.store.Contributions(), f.store.AuditLogs())

	camp := f.activeCampaign(t, 5000)
	contrib := f.pendingMpesa(t, camp.ID, nil, 1000, "ws_CO_exp_2")

	if _, err := sweeper.SweepOnce(ctx, time.Now().Add(10*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := f.reconcile.ApplyCallback(ctx, successCallback("ws_CO_exp_2", 1000)); err != nil {
		t.Fatal(err)
	}
	f.drain()

	got, _ := f.store.Contributions().GetByID(ctx, contrib.ID)
	if got.Status != models.ContributionExpired {
		t.Fatalf("contribution status = %s, want expired (late success must not reopen)", got.Status)
	}
	c, _ := f.store.Campaigns().GetByID(ctx, camp.ID)
	if c.CurrentAmount != 0 {
		t.Fatalf("campaign current = %d, want 0 after late callback", c.CurrentAmount)
	}
	if countAudits(f, "late_callback") != 1 {
		t.Fatal("expected a late_callback audit entry for manual reconciliation")
	}
}

// Terminal intents whose contribution write was lost converge on the next
// sweep, even when no callback ever retries.
func TestSweepRedrivesLostContributionWrites(t *testing.T) {
	f := newFixture(t, config.OverpayAllow)
	ctx := context.Background()
	sweeper := NewSweeper(f.store.Intents(), f.store.Contributions(), f.store.AuditLogs())

	camp := f.activeCampaign(t, 5000)
	expiredC := f.pendingMpesa(t, camp.ID, nil, 1000, "ws_CO_exp_4")
	failedC := f.pendingMpesa(t, camp.ID, nil, 800, "ws_CO_exp_5")

	// Simulate the crash windows: intents terminal, contributions untouched.
	if won, err := f.store.Intents().Finalize(ctx, "ws_CO_exp_4", models.IntentExpired); err != nil || !won {
		t.Fatalf("setup expire: won=%v err=%v", won, err)
	}
	if won, err := f.store.Intents().Finalize(ctx, "ws_CO_exp_5", models.IntentFailed); err != nil || !won {
		t.Fatalf("setup fail: won=%v err=%v", won, err)
	}

	if _, err := sweeper.SweepOnce(ctx, time.Now()); err != nil {
		t.Fatal(err)
	}
	f.drain()

	got, _ := f.store.Contributions().GetByID(ctx, expiredC.ID)
	if got.Status != models.ContributionExpired {
		t.Fatalf("contribution status = %s after sweep, want expired", got.Status)
	}
	got, _ = f.store.Contributions().GetByID(ctx, failedC.ID)
	if got.Status != models.ContributionFailed {
		t.Fatalf("contribution status = %s after sweep, want failed", got.Status)
	}
	if countAudits(f, "intent_expired") != 1 {
		t.Fatal("expected one intent_expired audit entry")
	}
	if countAudits(f, "payment_failed") != 1 {
		t.Fatal("expected one payment_failed audit entry")
	}

	// Converged: a second sweep finds nothing left to re-drive.
	stuck, err := f.store.Intents().ListStuck(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(stuck) != 0 {
		t.Fatalf("stuck intents = %d after sweep, want 0", len(stuck))
	}
}

// The mirror race: the callback settles first, then the sweeper passes by.
// Whichever transition commits first wins; the other is a no-op.
func TestSweepSkipsSettledIntent(t *testing.T) {
	f := newFixture(t, config.OverpayAllow)
	ctx := context.Background()
	sweeper := NewSweeper(f.store.Intents(), f.store.Contributions(), f.store.AuditLogs())

	camp := f.activeCampaign(t, 5000)
	contrib := f.pendingMpesa(t, camp.ID, nil, 1000, "ws_CO_exp_3")

	if err := f.reconcile.ApplyCallback(ctx, successCallback("ws_CO_exp_3", 1000)); err != nil {
		t.Fatal(err)
	}
	n, err := sweeper.SweepOnce(ctx, time.Now().Add(10*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("sweep expired %d intents over a settled one, want 0", n)
	}
	f.drain()

	got, _ := f.store.Contributions().GetByID(ctx, contrib.ID)
	if got.Status != models.ContributionVerified {
		t.Fatalf("contribution status = %s, want verified", got.Status)
	}
	c, _ := f.store.Campaigns().GetByID(ctx, camp.ID)
	if c.CurrentAmount != 1000 {
		t.Fatalf("campaign current = %d, want 1000", c.CurrentAmount)
	}
}

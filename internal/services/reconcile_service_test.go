package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kanisahub/giving-backend/internal/config"
	"github.com/kanisahub/giving-backend/internal/gateway"
	"github.com/kanisahub/giving-backend/internal/models"
	"github.com/kanisahub/giving-backend/internal/repository/memory"
	"github.com/kanisahub/giving-backend/internal/worker"
)

type fixture struct {
	store     *memory.Store
	agg       *Aggregator
	reconcile *ReconcileService
	wp        *worker.Pool
}

func newFixture(t *testing.T, overpay config.OverpayPolicy) *fixture {
	t.Helper()
	store := memory.NewStore()
	wp := worker.NewPool(2)
	agg := NewAggregator(store.Campaigns(), store.Pledges(), store.Contributions(), store.AuditLogs(), overpay)
	rec := NewReconcileService(store.Intents(), store.Contributions(), store.AuditLogs(), agg, wp)
	return &fixture{store: store, agg: agg, reconcile: rec, wp: wp}
}

// drain waits for all enqueued recompute tasks. The pool cannot be reused
// afterwards, so call it right before assertions.
func (f *fixture) drain() { f.wp.Stop() }

func (f *fixture) activeCampaign(t *testing.T, goal int64) models.Campaign {
	t.Helper()
	c, err := f.store.Campaigns().Create(context.Background(), models.Campaign{
		Title: "Building Fund", GoalAmount: goal, Status: models.CampaignActive,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func (f *fixture) pendingMpesa(t *testing.T, campaignID string, pledgeID *string, amount int64, ref string) models.Contribution {
	t.Helper()
	ctx := context.Background()
	c, err := f.store.Contributions().Create(ctx, models.Contribution{
		CampaignID: campaignID, PledgeID: pledgeID, Amount: amount,
		Method: models.MethodMpesa, ExternalRef: &ref, Status: models.ContributionPending,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.Intents().Create(ctx, models.PaymentIntent{
		CheckoutRef: ref, ContributionID: c.ID, Amount: amount,
		Phone: "254712345678", State: models.IntentAwaitingCallback,
		Deadline: time.Now().Add(3 * time.Minute),
	}); err != nil {
		t.Fatal(err)
	}
	return c
}

func successCallback(ref string, amount int64) gateway.Callback {
	return gateway.Callback{
		CheckoutRef: ref, ResultCode: 0, ResultDesc: "The service request is processed successfully.",
		Amount: amount, ReceiptNo: "SGH7TY12XQ", Phone: "254712345678",
	}
}

func countAudits(f *fixture, action string) int {
	n := 0
	for _, a := range f.store.Audits() {
		if a.Action == action {
			n++
		}
	}
	return n
}

// Scenario: a successful callback verifies the contribution and the
// campaign total picks up the amount.
func TestApplyCallbackSettles(t *testing.T) {
	f := newFixture(t, config.OverpayAllow)
	ctx := context.Background()

	camp := f.activeCampaign(t, 5000)
	contrib := f.pendingMpesa(t, camp.ID, nil, 1000, "ws_CO_1")

	if err := f.reconcile.ApplyCallback(ctx, successCallback("ws_CO_1", 1000)); err != nil {
		t.Fatal(err)
	}
	f.drain()

	got, _ := f.store.Contributions().GetByID(ctx, contrib.ID)
	if got.Status != models.ContributionVerified {
		t.Fatalf("contribution status = %s, want verified", got.Status)
	}
	if got.ReceiptNo == nil || *got.ReceiptNo != "SGH7TY12XQ" {
		t.Fatalf("receipt not recorded: %+v", got.ReceiptNo)
	}
	it, _ := f.store.Intents().Get(ctx, "ws_CO_1")
	if it.State != models.IntentSettled {
		t.Fatalf("intent state = %s, want settled", it.State)
	}
	c, _ := f.store.Campaigns().GetByID(ctx, camp.ID)
	if c.CurrentAmount != 1000 {
		t.Fatalf("campaign current = %d, want 1000", c.CurrentAmount)
	}
}

// Scenario: at-least-once delivery. The same callback twice must produce
// one transition and one aggregate effect.
func TestApplyCallbackIdempotent(t *testing.T) {
	f := newFixture(t, config.OverpayAllow)
	ctx := context.Background()

	camp := f.activeCampaign(t, 5000)
	f.pendingMpesa(t, camp.ID, nil, 1000, "ws_CO_2")

	cb := successCallback("ws_CO_2", 1000)
	if err := f.reconcile.ApplyCallback(ctx, cb); err != nil {
		t.Fatal(err)
	}
	if err := f.reconcile.ApplyCallback(ctx, cb); err != nil {
		t.Fatal(err)
	}
	if err := f.reconcile.ApplyCallback(ctx, cb); err != nil {
		t.Fatal(err)
	}
	f.drain()

	c, _ := f.store.Campaigns().GetByID(ctx, camp.ID)
	if c.CurrentAmount != 1000 {
		t.Fatalf("campaign current = %d after duplicates, want 1000", c.CurrentAmount)
	}
	if n := countAudits(f, "payment_settled"); n != 1 {
		t.Fatalf("payment_settled audits = %d, want 1", n)
	}
}

func TestApplyCallbackConcurrentDuplicates(t *testing.T) {
	f := newFixture(t, config.OverpayAllow)
	ctx := context.Background()

	camp := f.activeCampaign(t, 10000)
	f.pendingMpesa(t, camp.ID, nil, 1500, "ws_CO_3")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.reconcile.ApplyCallback(ctx, successCallback("ws_CO_3", 1500))
		}()
	}
	wg.Wait()
	f.drain()

	c, _ := f.store.Campaigns().GetByID(ctx, camp.ID)
	if c.CurrentAmount != 1500 {
		t.Fatalf("campaign current = %d, want 1500", c.CurrentAmount)
	}
	if n := countAudits(f, "payment_settled"); n != 1 {
		t.Fatalf("payment_settled audits = %d, want exactly 1", n)
	}
}

func TestApplyCallbackBusinessFailure(t *testing.T) {
	f := newFixture(t, config.OverpayAllow)
	ctx := context.Background()

	camp := f.activeCampaign(t, 5000)
	contrib := f.pendingMpesa(t, camp.ID, nil, 1000, "ws_CO_4")

	cb := gateway.Callback{CheckoutRef: "ws_CO_4", ResultCode: 1032, ResultDesc: "Request cancelled by user"}
	if err := f.reconcile.ApplyCallback(ctx, cb); err != nil {
		t.Fatal(err)
	}
	f.drain()

	got, _ := f.store.Contributions().GetByID(ctx, contrib.ID)
	if got.Status != models.ContributionFailed {
		t.Fatalf("contribution status = %s, want failed", got.Status)
	}
	it, _ := f.store.Intents().Get(ctx, "ws_CO_4")
	if it.State != models.IntentFailed {
		t.Fatalf("intent state = %s, want failed", it.State)
	}
	c, _ := f.store.Campaigns().GetByID(ctx, camp.ID)
	if c.CurrentAmount != 0 {
		t.Fatalf("campaign current = %d, want 0", c.CurrentAmount)
	}
}

// Unknown refs are swallowed: gateways retry callbacks, and a loud error
// would retry a no-op forever.
func TestApplyCallbackUnknownRef(t *testing.T) {
	f := newFixture(t, config.OverpayAllow)
	if err := f.reconcile.ApplyCallback(context.Background(), successCallback("ws_CO_missing", 100)); err != nil {
		t.Fatalf("orphan callback should not error: %v", err)
	}
	if n := countAudits(f, "orphan_callback"); n != 1 {
		t.Fatalf("orphan_callback audits = %d, want 1", n)
	}
}

// A retry after a half-done settlement (intent settled, contribution still
// pending) must finish the job rather than no-op.
func TestApplyCallbackHealsHalfSettlement(t *testing.T) {
	f := newFixture(t, config.OverpayAllow)
	ctx := context.Background()

	camp := f.activeCampaign(t, 5000)
	contrib := f.pendingMpesa(t, camp.ID, nil, 700, "ws_CO_5")

	// Simulate the crash window: intent settled, ledger write lost.
	if won, err := f.store.Intents().Finalize(ctx, "ws_CO_5", models.IntentSettled); err != nil || !won {
		t.Fatalf("setup finalize: won=%v err=%v", won, err)
	}

	if err := f.reconcile.ApplyCallback(ctx, successCallback("ws_CO_5", 700)); err != nil {
		t.Fatal(err)
	}
	f.drain()

	got, _ := f.store.Contributions().GetByID(ctx, contrib.ID)
	if got.Status != models.ContributionVerified {
		t.Fatalf("contribution status = %s, want verified after retry", got.Status)
	}
	c, _ := f.store.Campaigns().GetByID(ctx, camp.ID)
	if c.CurrentAmount != 700 {
		t.Fatalf("campaign current = %d, want 700", c.CurrentAmount)
	}
}

// The mirror of the half-settlement window: the intent committed to failed
// but the contribution write was lost. The provider's retry must finish
// marking the contribution, so a donor polling it sees declined, not an
// eternal pending.
func TestApplyCallbackHealsHalfFailure(t *testing.T) {
	f := newFixture(t, config.OverpayAllow)
	ctx := context.Background()

	camp := f.activeCampaign(t, 5000)
	contrib := f.pendingMpesa(t, camp.ID, nil, 400, "ws_CO_7")

	// Simulate the crash window: intent failed, ledger write lost.
	if won, err := f.store.Intents().Finalize(ctx, "ws_CO_7", models.IntentFailed); err != nil || !won {
		t.Fatalf("setup finalize: won=%v err=%v", won, err)
	}

	cb := gateway.Callback{CheckoutRef: "ws_CO_7", ResultCode: 1032, ResultDesc: "Request cancelled by user"}
	if err := f.reconcile.ApplyCallback(ctx, cb); err != nil {
		t.Fatal(err)
	}
	f.drain()

	got, _ := f.store.Contributions().GetByID(ctx, contrib.ID)
	if got.Status != models.ContributionFailed {
		t.Fatalf("contribution status = %s, want failed after retry", got.Status)
	}
	if n := countAudits(f, "payment_failed"); n != 1 {
		t.Fatalf("payment_failed audits = %d, want 1", n)
	}
}

// Scenario: manual cash contribution follows the same settle-and-recompute
// path as mobile money.
func TestVerifyManualConvergesWithGatewayPath(t *testing.T) {
	f := newFixture(t, config.OverpayAllow)
	ctx := context.Background()

	camp := f.activeCampaign(t, 5000)
	cash, err := f.store.Contributions().Create(ctx, models.Contribution{
		CampaignID: camp.ID, Amount: 500, Method: models.MethodCash, Status: models.ContributionPending,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.reconcile.VerifyManual(ctx, cash.ID, "finance@local"); err != nil {
		t.Fatal(err)
	}
	// Verifying again is a no-op, not an error.
	if err := f.reconcile.VerifyManual(ctx, cash.ID, "finance@local"); err != nil {
		t.Fatal(err)
	}
	f.drain()

	got, _ := f.store.Contributions().GetByID(ctx, cash.ID)
	if got.Status != models.ContributionVerified {
		t.Fatalf("contribution status = %s, want verified", got.Status)
	}
	c, _ := f.store.Campaigns().GetByID(ctx, camp.ID)
	if c.CurrentAmount != 500 {
		t.Fatalf("campaign current = %d, want 500", c.CurrentAmount)
	}
	if n := countAudits(f, "manual_verified"); n != 1 {
		t.Fatalf("manual_verified audits = %d, want 1", n)
	}
}

func TestVerifyManualRejectsGatewayContribution(t *testing.T) {
	f := newFixture(t, config.OverpayAllow)
	ctx := context.Background()

	camp := f.activeCampaign(t, 5000)
	contrib := f.pendingMpesa(t, camp.ID, nil, 1000, "ws_CO_6")

	if err := f.reconcile.VerifyManual(ctx, contrib.ID, "finance@local"); err != ErrNotManualMethod {
		t.Fatalf("err = %v, want ErrNotManualMethod", err)
	}
	f.drain()
}

func TestVerifyManualRejectsTerminal(t *testing.T) {
	f := newFixture(t, config.OverpayAllow)
	ctx := context.Background()

	camp := f.activeCampaign(t, 5000)
	cash, _ := f.store.Contributions().Create(ctx, models.Contribution{
		CampaignID: camp.ID, Amount: 200, Method: models.MethodCash, Status: models.ContributionExpired,
	})
	if err := f.reconcile.VerifyManual(ctx, cash.ID, "x"); err != ErrContributionNotPending {
		t.Fatalf("err = %v, want ErrContributionNotPending", err)
	}
	f.drain()
}

// Pledge-linked settlement drives the pledge to completed (scenario D's
// first half); the cancel-rejection half lives in pledge_service_test.
func TestSettlementCompletesPledge(t *testing.T) {
	f := newFixture(t, config.OverpayAllow)
	ctx := context.Background()

	camp := f.activeCampaign(t, 10000)
	p, err := f.store.Pledges().Create(ctx, models.Pledge{
		CampaignID: camp.ID, ContributorName: "Achieng", PledgedAmount: 2000,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.pendingMpesa(t, camp.ID, &p.ID, 2000, fmt.Sprintf("ws_CO_p_%s", p.ID))

	if err := f.reconcile.ApplyCallback(ctx, successCallback("ws_CO_p_"+p.ID, 2000)); err != nil {
		t.Fatal(err)
	}
	f.drain()

	got, _ := f.store.Pledges().GetByID(ctx, p.ID)
	if got.PaidAmount != 2000 || got.Status != models.PledgeCompleted {
		t.Fatalf("pledge = paid %d status %s, want 2000/completed", got.PaidAmount, got.Status)
	}
}

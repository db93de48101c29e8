package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kanisahub/giving-backend/internal/config"
	"github.com/kanisahub/giving-backend/internal/gateway"
	"github.com/kanisahub/giving-backend/internal/models"
)

type fakeGateway struct {
	calls int
	err   error
}

func (g *fakeGateway) Initiate(_ context.Context, amount int64, phone, _ string) (gateway.InitiateResult, error) {
	if g.err != nil {
		return gateway.InitiateResult{}, g.err
	}
	g.calls++
	return gateway.InitiateResult{
		CheckoutRef:       fmt.Sprintf("ws_CO_fake_%d", g.calls),
		MerchantRequestID: fmt.Sprintf("mr_%d", g.calls),
	}, nil
}

func (g *fakeGateway) ParseCallback(body []byte) (gateway.Callback, error) {
	return (&gateway.MpesaGateway{}).ParseCallback(body)
}

func newContribService(f *fixture, gw gateway.Gateway) *ContributionService {
	return NewContributionService(
		f.store.Campaigns(), f.store.Pledges(), f.store.Contributions(),
		f.store.Intents(), f.store.AuditLogs(), gw, 3*time.Minute,
	)
}

func TestInitiateMpesaCreatesPendingAndIntent(t *testing.T) {
	f := newFixture(t, config.OverpayAllow)
	ctx := context.Background()
	gw := &fakeGateway{}
	svc := newContribService(f, gw)

	camp := f.activeCampaign(t, 5000)
	res, err := svc.InitiateMpesa(ctx, ContributionInput{
		CampaignID: camp.ID, Amount: 1000, ContributorName: "Wanjiku",
	}, "254712345678")
	if err != nil {
		t.Fatal(err)
	}
	if res.CheckoutRef == "" {
		t.Fatal("missing checkout ref")
	}
	if res.Contribution.Status != models.ContributionPending {
		t.Fatalf("contribution status = %s, want pending", res.Contribution.Status)
	}
	if res.Contribution.ExternalRef == nil || *res.Contribution.ExternalRef != res.CheckoutRef {
		t.Fatal("external ref not linked to checkout ref")
	}

	it, err := f.store.Intents().Get(ctx, res.CheckoutRef)
	if err != nil {
		t.Fatal(err)
	}
	if it.State != models.IntentAwaitingCallback {
		t.Fatalf("intent state = %s, want awaiting_callback", it.State)
	}
	if it.ContributionID != res.Contribution.ID {
		t.Fatal("intent not linked to contribution")
	}
	if !it.Deadline.After(time.Now()) {
		t.Fatal("deadline must be in the future")
	}
	f.drain()
}

func TestInitiateMpesaValidatesTarget(t *testing.T) {
	f := newFixture(t, config.OverpayAllow)
	ctx := context.Background()
	gw := &fakeGateway{}
	svc := newContribService(f, gw)

	closed, _ := f.store.Campaigns().Create(ctx, models.Campaign{Title: "Closed", GoalAmount: 100, Status: models.CampaignClosed})
	if _, err := svc.InitiateMpesa(ctx, ContributionInput{CampaignID: closed.ID, Amount: 100}, "254712345678"); err != ErrCampaignNotActive {
		t.Fatalf("err = %v, want ErrCampaignNotActive", err)
	}

	camp := f.activeCampaign(t, 5000)
	other := f.activeCampaign(t, 5000)
	p, _ := f.store.Pledges().Create(ctx, models.Pledge{CampaignID: other.ID, PledgedAmount: 1000})
	if _, err := svc.InitiateMpesa(ctx, ContributionInput{CampaignID: camp.ID, PledgeID: &p.ID, Amount: 100}, "254712345678"); err != ErrPledgeMismatch {
		t.Fatalf("err = %v, want ErrPledgeMismatch", err)
	}

	cancelled, _ := f.store.Pledges().Create(ctx, models.Pledge{CampaignID: camp.ID, PledgedAmount: 1000})
	_ = f.store.Pledges().Cancel(ctx, cancelled.ID)
	if _, err := svc.InitiateMpesa(ctx, ContributionInput{CampaignID: camp.ID, PledgeID: &cancelled.ID, Amount: 100}, "254712345678"); err != ErrPledgeCancelled {
		t.Fatalf("err = %v, want ErrPledgeCancelled", err)
	}

	if gw.calls != 0 {
		t.Fatalf("gateway called %d times before validation passed, want 0", gw.calls)
	}
	f.drain()
}

// A gateway failure on initiation leaves no rows behind: the user just
// retries.
func TestInitiateMpesaGatewayFailureLeavesNoState(t *testing.T) {
	f := newFixture(t, config.OverpayAllow)
	ctx := context.Background()
	gw := &fakeGateway{err: gateway.ErrGatewayUnavailable}
	svc := newContribService(f, gw)

	camp := f.activeCampaign(t, 5000)
	if _, err := svc.InitiateMpesa(ctx, ContributionInput{CampaignID: camp.ID, Amount: 100}, "254712345678"); err == nil {
		t.Fatal("expected gateway error")
	}
	cs, _ := f.store.Contributions().ListByCampaign(ctx, camp.ID, 10, 0)
	if len(cs) != 0 {
		t.Fatalf("found %d contributions after failed initiation, want 0", len(cs))
	}
	f.drain()
}

func TestSubmitManualRejectsMpesaMethod(t *testing.T) {
	f := newFixture(t, config.OverpayAllow)
	svc := newContribService(f, &fakeGateway{})

	camp := f.activeCampaign(t, 5000)
	_, err := svc.SubmitManual(context.Background(), ContributionInput{
		CampaignID: camp.ID, Amount: 100, Method: models.MethodMpesa,
	})
	if err != ErrNotManualMethod {
		t.Fatalf("err = %v, want ErrNotManualMethod", err)
	}
	f.drain()
}

func TestSubmitManualCreatesPending(t *testing.T) {
	f := newFixture(t, config.OverpayAllow)
	ctx := context.Background()
	svc := newContribService(f, &fakeGateway{})

	camp := f.activeCampaign(t, 5000)
	c, err := svc.SubmitManual(ctx, ContributionInput{
		CampaignID: camp.ID, Amount: 500, Method: models.MethodCash, ContributorName: "Baraka",
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != models.ContributionPending {
		t.Fatalf("status = %s, want pending", c.Status)
	}
	// Pending manual money never shows in the campaign total.
	camp2, _ := f.store.Campaigns().GetByID(ctx, camp.ID)
	if camp2.CurrentAmount != 0 {
		t.Fatalf("campaign current = %d, want 0 before verification", camp2.CurrentAmount)
	}
	f.drain()
}

func TestInitiateFlagsOverpayRisk(t *testing.T) {
	f := newFixture(t, config.OverpayAllow)
	ctx := context.Background()
	svc := newContribService(f, &fakeGateway{})

	camp := f.activeCampaign(t, 5000)
	p, _ := f.store.Pledges().Create(ctx, models.Pledge{CampaignID: camp.ID, PledgedAmount: 1000})
	_ = f.store.Pledges().SetDerived(ctx, p.ID, 900, models.PledgePartial)

	if _, err := svc.InitiateMpesa(ctx, ContributionInput{CampaignID: camp.ID, PledgeID: &p.ID, Amount: 500}, "254712345678"); err != nil {
		t.Fatal(err)
	}
	if countAudits(f, "overpay_risk") != 1 {
		t.Fatal("expected an overpay_risk audit entry")
	}
	f.drain()
}

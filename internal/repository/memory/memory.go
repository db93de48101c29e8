// Package memory holds mutex-guarded in-memory implementations of the
// repository interfaces. They back the service and handler tests and keep
// the same conditional-transition semantics as the SQL stores.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kanisahub/giving-backend/internal/models"
	repo "github.com/kanisahub/giving-backend/internal/repository"
)

type Store struct {
	mu            sync.Mutex
	campaigns     map[string]models.Campaign
	pledges       map[string]models.Pledge
	contributions map[string]models.Contribution
	intents       map[string]models.PaymentIntent
	audits        []models.AuditLog
}

func NewStore() *Store {
	return &Store{
		campaigns:     map[string]models.Campaign{},
		pledges:       map[string]models.Pledge{},
		contributions: map[string]models.Contribution{},
		intents:       map[string]models.PaymentIntent{},
	}
}

func (s *Store) Campaigns() repo.Campaigns         { return (*campaigns)(s) }
func (s *Store) Pledges() repo.Pledges             { return (*pledges)(s) }
func (s *Store) Contributions() repo.Contributions { return (*contributions)(s) }
func (s *Store) Intents() repo.Intents             { return (*intents)(s) }
func (s *Store) AuditLogs() repo.AuditLogs         { return (*audits)(s) }

// Audits returns a copy of the recorded audit trail, oldest first.
func (s *Store) Audits() []models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditLog, len(s.audits))
	copy(out, s.audits)
	return out
}

// ---------------- campaigns ----------------

type campaigns Store

func (s *campaigns) Create(_ context.Context, c models.Campaign) (models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = models.CampaignDraft
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	s.campaigns[c.ID] = c
	return c, nil
}

func (s *campaigns) GetByID(_ context.Context, id string) (models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return models.Campaign{}, repo.ErrNotFound
	}
	return c, nil
}

func (s *campaigns) List(_ context.Context) ([]models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *campaigns) ListIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.campaigns))
	for id := range s.campaigns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *campaigns) UpdateStatus(_ context.Context, id string, status models.CampaignStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return repo.ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	s.campaigns[id] = c
	return nil
}

func (s *campaigns) SetCurrentAmount(_ context.Context, id string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return repo.ErrNotFound
	}
	c.CurrentAmount = amount
	c.UpdatedAt = time.Now()
	s.campaigns[id] = c
	return nil
}

// ---------------- pledges ----------------

type pledges Store

func (s *pledges) Create(_ context.Context, p models.Pledge) (models.Pledge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Status = models.PledgePending
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	s.pledges[p.ID] = p
	return p, nil
}

func (s *pledges) GetByID(_ context.Context, id string) (models.Pledge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pledges[id]
	if !ok {
		return models.Pledge{}, repo.ErrNotFound
	}
	return p, nil
}

func (s *pledges) ListByCampaign(_ context.Context, campaignID string, limit, offset int) ([]models.Pledge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Pledge
	for _, p := range s.pledges {
		if p.CampaignID == campaignID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *pledges) ListActiveIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, p := range s.pledges {
		if p.Status != models.PledgeCancelled {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *pledges) SetDerived(_ context.Context, id string, paid int64, status models.PledgeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pledges[id]
	if !ok {
		return repo.ErrNotFound
	}
	// Cancelled is sticky against stale recompute writes.
	if p.Status == models.PledgeCancelled && status != models.PledgeCancelled {
		return nil
	}
	p.PaidAmount = paid
	p.Status = status
	p.UpdatedAt = time.Now()
	s.pledges[id] = p
	return nil
}

func (s *pledges) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pledges[id]
	if !ok || p.Status == models.PledgeCompleted {
		return repo.ErrNotFound
	}
	p.Status = models.PledgeCancelled
	p.UpdatedAt = time.Now()
	s.pledges[id] = p
	return nil
}

// ---------------- contributions ----------------

type contributions Store

func (s *contributions) Create(_ context.Context, c models.Contribution) (models.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now()
	s.contributions[c.ID] = c
	return c, nil
}

func (s *contributions) GetByID(_ context.Context, id string) (models.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contributions[id]
	if !ok {
		return models.Contribution{}, repo.ErrNotFound
	}
	return c, nil
}

func (s *contributions) ListByCampaign(_ context.Context, campaignID string, limit, offset int) ([]models.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Contribution
	for _, c := range s.contributions {
		if c.CampaignID == campaignID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *contributions) SetStatus(_ context.Context, id string, status models.ContributionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contributions[id]
	if !ok {
		return false, repo.ErrNotFound
	}
	if c.Status != models.ContributionPending {
		return false, nil
	}
	c.Status = status
	s.contributions[id] = c
	return true, nil
}

func (s *contributions) MarkVerified(_ context.Context, id string, receiptNo *string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contributions[id]
	if !ok {
		return false, repo.ErrNotFound
	}
	if c.Status != models.ContributionPending {
		return false, nil
	}
	c.Status = models.ContributionVerified
	if receiptNo != nil {
		c.ReceiptNo = receiptNo
	}
	c.VerifiedAt = &at
	s.contributions[id] = c
	return true, nil
}

func (s *contributions) SumVerifiedByCampaign(_ context.Context, campaignID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, c := range s.contributions {
		if c.CampaignID == campaignID && c.Status == models.ContributionVerified {
			sum += c.Amount
		}
	}
	return sum, nil
}

func (s *contributions) SumVerifiedByPledge(_ context.Context, pledgeID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, c := range s.contributions {
		if c.PledgeID != nil && *c.PledgeID == pledgeID && c.Status == models.ContributionVerified {
			sum += c.Amount
		}
	}
	return sum, nil
}

// ---------------- payment intents ----------------

type intents Store

func (s *intents) Create(_ context.Context, it models.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.intents[it.CheckoutRef]; exists {
		return nil
	}
	it.CreatedAt = time.Now()
	s.intents[it.CheckoutRef] = it
	return nil
}

func (s *intents) Get(_ context.Context, checkoutRef string) (models.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.intents[checkoutRef]
	if !ok {
		return models.PaymentIntent{}, repo.ErrNotFound
	}
	return it, nil
}

func (s *intents) MarkAwaiting(_ context.Context, checkoutRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.intents[checkoutRef]
	if !ok || it.State != models.IntentInitiated {
		return nil
	}
	it.State = models.IntentAwaitingCallback
	s.intents[checkoutRef] = it
	return nil
}

func (s *intents) Finalize(_ context.Context, checkoutRef string, to models.IntentState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.intents[checkoutRef]
	if !ok {
		return false, repo.ErrNotFound
	}
	if it.State.Terminal() {
		return false, nil
	}
	it.State = to
	s.intents[checkoutRef] = it
	return true, nil
}

func (s *intents) ListOverdue(_ context.Context, now time.Time, limit int) ([]models.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentIntent
	for _, it := range s.intents {
		if !it.State.Terminal() && it.Deadline.Before(now) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *intents) ListStuck(_ context.Context, limit int) ([]models.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentIntent
	for _, it := range s.intents {
		if it.State != models.IntentFailed && it.State != models.IntentExpired {
			continue
		}
		c, ok := s.contributions[it.ContributionID]
		if !ok || c.Status != models.ContributionPending {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckoutRef < out[j].CheckoutRef })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// ---------------- audit logs ----------------

type audits Store

func (s *audits) Create(_ context.Context, l models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ID = uuid.NewString()
	l.CreatedAt = time.Now()
	s.audits = append(s.audits, l)
	return nil
}

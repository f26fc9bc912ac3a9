package application

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sanaa-Creator-Market/service-escrow/internal/adapter"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/escrow"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/notification"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/payout"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/user"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/webhook"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/domain"
)

// fakeRepo is an in-memory escrow repository. One mutex plays the part of the
// database row lock: InTx holds it for the whole callback, so concurrent
// transitions serialize exactly as they would against Postgres.
type fakeRepo struct {
	mu         sync.Mutex
	escrows    map[uuid.UUID]escrow.Snapshot
	milestones map[uuid.UUID]escrow.MilestoneSnapshot
	events     []*escrow.Event
	reads      int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		escrows:    make(map[uuid.UUID]escrow.Snapshot),
		milestones: make(map[uuid.UUID]escrow.MilestoneSnapshot),
	}
}

func (r *fakeRepo) Create(_ context.Context, e *escrow.Escrow, milestones []*escrow.Milestone, ev *escrow.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escrows[e.ID()] = e.Snapshot()
	for _, m := range milestones {
		r.milestones[m.ID()] = m.Snapshot()
	}
	if ev != nil {
		r.events = append(r.events, ev)
	}
	return nil
}

func (r *fakeRepo) Update(_ context.Context, e *escrow.Escrow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escrows[e.ID()] = e.Snapshot()
	return nil
}

func (r *fakeRepo) FindByID(_ context.Context, id uuid.UUID) (*escrow.Escrow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	s, ok := r.escrows[id]
	if !ok {
		return nil, domain.NewNotFoundError("escrow", id.String())
	}
	return escrow.Reconstitute(s), nil
}

func (r *fakeRepo) findBy(pred func(escrow.Snapshot) bool) (*escrow.Escrow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.escrows {
		if pred(s) {
			return escrow.Reconstitute(s), nil
		}
	}
	return nil, domain.NewNotFoundError("escrow", "ref")
}

func (r *fakeRepo) FindByPaymentRef(_ context.Context, ref string) (*escrow.Escrow, error) {
	return r.findBy(func(s escrow.Snapshot) bool { return s.PaymentRef == ref })
}

func (r *fakeRepo) FindByTransferRef(_ context.Context, ref string) (*escrow.Escrow, error) {
	return r.findBy(func(s escrow.Snapshot) bool { return s.TransferRef == ref })
}

func (r *fakeRepo) FindPendingBySource(_ context.Context, st escrow.SourceType, sourceID uuid.UUID) ([]*escrow.Escrow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*escrow.Escrow
	for _, s := range r.escrows {
		if s.Status != escrow.StatusPending {
			continue
		}
		switch st {
		case escrow.SourceJobProposal:
			if s.JobProposalID != nil && *s.JobProposalID == sourceID {
				out = append(out, escrow.Reconstitute(s))
			}
		case escrow.SourceCampaign:
			if s.CampaignID != nil && *s.CampaignID == sourceID {
				out = append(out, escrow.Reconstitute(s))
			}
		case escrow.SourceServiceRequest:
			if s.ServiceRequestID != nil && *s.ServiceRequestID == sourceID {
				out = append(out, escrow.Reconstitute(s))
			}
		}
	}
	return out, nil
}

func (r *fakeRepo) milestonesOfLocked(escrowID uuid.UUID) []*escrow.Milestone {
	var out []*escrow.Milestone
	for _, s := range r.milestones {
		if s.EscrowID == escrowID {
			out = append(out, escrow.ReconstituteMilestone(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex() < out[j].OrderIndex() })
	return out
}

func (r *fakeRepo) Milestones(_ context.Context, escrowID uuid.UUID) ([]*escrow.Milestone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.milestonesOfLocked(escrowID), nil
}

func (r *fakeRepo) FindMilestone(_ context.Context, id uuid.UUID) (*escrow.Milestone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.milestones[id]
	if !ok {
		return nil, domain.NewNotFoundError("milestone", id.String())
	}
	return escrow.ReconstituteMilestone(s), nil
}

func (r *fakeRepo) FindMilestoneByTransferRef(_ context.Context, ref string) (*escrow.Milestone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.milestones {
		if s.TransferRef == ref {
			return escrow.ReconstituteMilestone(s), nil
		}
	}
	return nil, domain.NewNotFoundError("milestone", ref)
}

func (r *fakeRepo) List(_ context.Context, f escrow.ListFilter) ([]*escrow.Escrow, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*escrow.Escrow
	for _, s := range r.escrows {
		if f.Status != nil && s.Status != *f.Status {
			continue
		}
		if f.BuyerID != nil || f.SellerID != nil {
			match := (f.BuyerID != nil && s.BuyerID == *f.BuyerID) ||
				(f.SellerID != nil && s.SellerID == *f.SellerID)
			if !match {
				continue
			}
		}
		out = append(out, escrow.Reconstitute(s))
	}
	return out, int64(len(out)), nil
}

func (r *fakeRepo) Stats(_ context.Context, _ escrow.StatsFilter) (*escrow.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &escrow.Stats{CountByStatus: make(map[escrow.Status]int64)}
	for _, s := range r.escrows {
		stats.CountByStatus[s.Status]++
		switch s.Status {
		case escrow.StatusFunded, escrow.StatusInProgress, escrow.StatusDelivered, escrow.StatusDisputed:
			stats.TotalHeld += s.TotalAmount
		case escrow.StatusReleased:
			stats.TotalReleased += s.SellerAmount
			stats.FeesEarned += s.FeeAmount
		}
	}
	return stats, nil
}

func (r *fakeRepo) DueForAutoRelease(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for id, s := range r.escrows {
		if s.Status == escrow.StatusDelivered && s.AutoReleaseAt != nil && !s.AutoReleaseAt.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *fakeRepo) ApproachingAutoRelease(_ context.Context, now time.Time, window time.Duration) ([]*escrow.Escrow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*escrow.Escrow
	for _, s := range r.escrows {
		if s.Status == escrow.StatusDelivered && s.AutoReleaseAt != nil &&
			s.AutoReleaseAt.After(now) && !s.AutoReleaseAt.After(now.Add(window)) {
			out = append(out, escrow.Reconstitute(s))
		}
	}
	return out, nil
}

func (r *fakeRepo) InTx(_ context.Context, escrowID uuid.UUID, fn func(tx escrow.Tx, e *escrow.Escrow) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.escrows[escrowID]
	if !ok {
		return domain.NewNotFoundError("escrow", escrowID.String())
	}
	return fn(&fakeTx{r: r, escrowID: escrowID}, escrow.Reconstitute(s))
}

// ListByEscrow makes fakeRepo double as the audit-log reader.
func (r *fakeRepo) ListByEscrow(_ context.Context, escrowID uuid.UUID) ([]*escrow.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*escrow.Event
	for _, ev := range r.events {
		if ev.EscrowID == escrowID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *fakeRepo) eventTypes(escrowID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.EscrowID == escrowID {
			out = append(out, ev.EventType)
		}
	}
	return out
}

// fakeTx mutates the maps under the lock InTx already holds.
type fakeTx struct {
	r        *fakeRepo
	escrowID uuid.UUID
}

func (t *fakeTx) Update(e *escrow.Escrow) error {
	t.r.escrows[e.ID()] = e.Snapshot()
	return nil
}

func (t *fakeTx) Milestones() ([]*escrow.Milestone, error) {
	return t.r.milestonesOfLocked(t.escrowID), nil
}

func (t *fakeTx) FindMilestone(id uuid.UUID) (*escrow.Milestone, error) {
	s, ok := t.r.milestones[id]
	if !ok || s.EscrowID != t.escrowID {
		return nil, domain.NewNotFoundError("milestone", id.String())
	}
	return escrow.ReconstituteMilestone(s), nil
}

func (t *fakeTx) UpdateMilestone(m *escrow.Milestone) error {
	t.r.milestones[m.ID()] = m.Snapshot()
	return nil
}

func (t *fakeTx) AppendEvent(ev *escrow.Event) error {
	t.r.events = append(t.r.events, ev)
	return nil
}

// fakePayouts stores at most one active account per user.
type fakePayouts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*payout.Account
}

func newFakePayouts() *fakePayouts {
	return &fakePayouts{accounts: make(map[uuid.UUID]*payout.Account)}
}

func (p *fakePayouts) ActiveByUser(_ context.Context, userID uuid.UUID) (*payout.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[userID]
	if !ok || !a.IsActive() {
		return nil, domain.NewNotFoundError("payout account", userID.String())
	}
	return a, nil
}

func (p *fakePayouts) Save(_ context.Context, a *payout.Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[a.UserID()] = a
	return nil
}

func (p *fakePayouts) Update(_ context.Context, a *payout.Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a.IsActive() {
		p.accounts[a.UserID()] = a
	} else if current, ok := p.accounts[a.UserID()]; ok && current.ID() == a.ID() {
		delete(p.accounts, a.UserID())
	}
	return nil
}

// fakeUsers is an in-memory user directory.
type fakeUsers struct {
	users map[uuid.UUID]*user.User
	admin *user.User
}

func (u *fakeUsers) ByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	if usr, ok := u.users[id]; ok {
		return usr, nil
	}
	return nil, domain.NewNotFoundError("user", id.String())
}

func (u *fakeUsers) FirstAdmin(_ context.Context) (*user.User, error) {
	if u.admin == nil {
		return nil, domain.NewNotFoundError("admin user", "any")
	}
	return u.admin, nil
}

// fakeSources serves canned source projections.
type fakeSources struct {
	proposals map[uuid.UUID]*escrow.SourceInfo
	campaigns map[uuid.UUID]*escrow.SourceInfo
	requests  map[uuid.UUID]*escrow.SourceInfo
}

func (s *fakeSources) JobProposal(_ context.Context, id uuid.UUID) (*escrow.SourceInfo, error) {
	if src, ok := s.proposals[id]; ok {
		return src, nil
	}
	return nil, domain.NewNotFoundError("job proposal", id.String())
}

func (s *fakeSources) Campaign(_ context.Context, id, _ uuid.UUID) (*escrow.SourceInfo, error) {
	if src, ok := s.campaigns[id]; ok {
		return src, nil
	}
	return nil, domain.NewNotFoundError("campaign", id.String())
}

func (s *fakeSources) ServiceRequest(_ context.Context, id, _ uuid.UUID) (*escrow.SourceInfo, error) {
	if src, ok := s.requests[id]; ok {
		return src, nil
	}
	return nil, domain.NewNotFoundError("service request", id.String())
}

// fakeNotifications records notifications for assertions.
type fakeNotifications struct {
	mu    sync.Mutex
	items []*notification.Notification
}

func (n *fakeNotifications) Create(_ context.Context, item *notification.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, item)
	return nil
}

func (n *fakeNotifications) ListByUser(_ context.Context, userID uuid.UUID, unreadOnly bool, _, _ int) ([]*notification.Notification, int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*notification.Notification
	for _, item := range n.items {
		if item.UserID == userID && (!unreadOnly || !item.IsRead) {
			out = append(out, item)
		}
	}
	return out, int64(len(out)), nil
}

func (n *fakeNotifications) MarkRead(_ context.Context, userID, id uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, item := range n.items {
		if item.ID == id && item.UserID == userID {
			item.IsRead = true
		}
	}
	return nil
}

func (n *fakeNotifications) ExistsForEscrowSince(_ context.Context, userID, escrowID uuid.UUID, ntype string, since time.Time) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, item := range n.items {
		if item.UserID == userID && item.EscrowID != nil && *item.EscrowID == escrowID &&
			item.Type == ntype && item.CreatedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (n *fakeNotifications) ofType(ntype string) []*notification.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*notification.Notification
	for _, item := range n.items {
		if item.Type == ntype {
			out = append(out, item)
		}
	}
	return out
}

// fakeWebhooks enforces the (provider, event, reference) idempotency tuple.
type fakeWebhooks struct {
	mu        sync.Mutex
	seen      map[string]bool
	processed map[uuid.UUID]string
}

func newFakeWebhooks() *fakeWebhooks {
	return &fakeWebhooks{seen: make(map[string]bool), processed: make(map[uuid.UUID]string)}
}

func (w *fakeWebhooks) Register(_ context.Context, l *webhook.Log) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := l.Provider + "|" + l.EventType + "|" + l.Reference
	if w.seen[key] {
		return false, nil
	}
	w.seen[key] = true
	return true, nil
}

func (w *fakeWebhooks) MarkProcessed(_ context.Context, id uuid.UUID, procErr string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.processed[id] = procErr
	return nil
}

// recordingPublisher captures published event types.
type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ *escrow.Escrow) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, eventType)
}

// stubProvider is a programmable payment provider. Unset hooks succeed, with
// verification echoing verifyAmount as the charged amount.
type stubProvider struct {
	mu        sync.Mutex
	transfers []adapter.TransferRequest
	refunds   []refundCall

	verifyAmount int64
	verifyFn     func(ref string) (*adapter.PaymentVerification, error)
	transferFn   func(req adapter.TransferRequest) (*adapter.TransferResult, error)
	refundFn     func(ref string, amount int64) (string, error)
}

type refundCall struct {
	Reference string
	Amount    int64
}

func (p *stubProvider) InitializePayment(_ context.Context, req adapter.InitializePaymentRequest) (*adapter.InitializePaymentResult, error) {
	return &adapter.InitializePaymentResult{
		AuthorizationURL: "https://checkout.test/" + req.Reference,
		AccessCode:       "ac_" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (p *stubProvider) VerifyPayment(_ context.Context, ref string) (*adapter.PaymentVerification, error) {
	if p.verifyFn != nil {
		return p.verifyFn(ref)
	}
	return &adapter.PaymentVerification{Status: adapter.PaymentSuccess, ID: "1", Amount: p.verifyAmount}, nil
}

func (p *stubProvider) CreateMobileMoneyRecipient(_ context.Context, _, _ string) (string, error) {
	return "RCP_mm", nil
}

func (p *stubProvider) CreateBankRecipient(_ context.Context, _, _, _ string) (string, error) {
	return "RCP_bank", nil
}

func (p *stubProvider) DeleteRecipient(_ context.Context, _ string) error { return nil }

func (p *stubProvider) ListBanks(_ context.Context) ([]adapter.Bank, error) {
	return []adapter.Bank{{Code: "68", Name: "Equity Bank Kenya"}}, nil
}

func (p *stubProvider) ResolveAccount(_ context.Context, accountNumber, _ string) (string, error) {
	return "HOLDER " + accountNumber, nil
}

func (p *stubProvider) InitiateTransfer(_ context.Context, req adapter.TransferRequest) (*adapter.TransferResult, error) {
	p.mu.Lock()
	p.transfers = append(p.transfers, req)
	fn := p.transferFn
	p.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &adapter.TransferResult{TransferCode: "TRF_code", Status: adapter.PaymentPending}, nil
}

func (p *stubProvider) RefundTransaction(_ context.Context, ref string, amount int64) (string, error) {
	p.mu.Lock()
	p.refunds = append(p.refunds, refundCall{Reference: ref, Amount: amount})
	fn := p.refundFn
	p.mu.Unlock()
	if fn != nil {
		return fn(ref, amount)
	}
	return "processed", nil
}

func (p *stubProvider) transferCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transfers)
}

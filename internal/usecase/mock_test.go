//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"saas-billing/internal/domain"
	"saas-billing/internal/domain/model"
	"saas-billing/internal/domain/ports/adapter"
	"saas-billing/internal/domain/ports/repository"
)

// =============================
// Repositories
// =============================

// ---- Mock SubscriptionPlanRepository ----

type MockPlanRepo struct {
	mu   sync.Mutex
	data map[string]*model.SubscriptionPlan

	FindByIDFunc func(ctx context.Context, id string) (*model.SubscriptionPlan, error)
}

var _ repository.SubscriptionPlanRepository = (*MockPlanRepo)(nil)

func NewMockPlanRepo() *MockPlanRepo {
	return &MockPlanRepo{data: map[string]*model.SubscriptionPlan{}}
}

// NewSeededPlanRepo holds the default catalog with provider prices set on
// the paid plans.
func NewSeededPlanRepo() *MockPlanRepo {
	r := NewMockPlanRepo()
	for _, p := range model.DefaultPlans() {
		if !p.IsFree() {
			p.ExternalPriceID = "price_" + p.ID
			p.ExternalProductID = "prod_" + p.ID
		}
		r.data[p.ID] = p
	}
	return r
}

func (r *MockPlanRepo) Save(ctx context.Context, tx repository.Tx, p *model.SubscriptionPlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.data[p.ID] = &cp
	return nil
}

func (r *MockPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionPlan, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.data[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPlanRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.SubscriptionPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.SubscriptionPlan, 0, len(r.data))
	for _, p := range r.data {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.Amount < out[j].Price.Amount })
	return out, nil
}

// ---- Mock SubscriptionRepository ----

// MockSubscriptionRepo enforces the same uniqueness and version rules as the
// Postgres repository.
type MockSubscriptionRepo struct {
	mu   sync.Mutex
	data map[string]*model.UserSubscription // by id

	UpdateFunc func(ctx context.Context, tx repository.Tx, s *model.UserSubscription) error
	Updates    int
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{data: map[string]*model.UserSubscription{}}
}

// Put stores s as-is, bypassing the uniqueness checks.
func (r *MockSubscriptionRepo) Put(s *model.UserSubscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.data[s.ID] = &cp
}

func (r *MockSubscriptionRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

func (r *MockSubscriptionRepo) Create(ctx context.Context, tx repository.Tx, s *model.UserSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.data {
		if cur.UserID == s.UserID || (s.ExternalSubscriptionID != "" && cur.ExternalSubscriptionID == s.ExternalSubscriptionID) {
			return domain.ErrAlreadyExists
		}
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.Version = 1
	cp := *s
	r.data[s.ID] = &cp
	return nil
}

func (r *MockSubscriptionRepo) Update(ctx context.Context, tx repository.Tx, s *model.UserSubscription) error {
	if r.UpdateFunc != nil {
		if err := r.UpdateFunc(ctx, tx, s); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.data[s.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != s.Version {
		return domain.ErrConcurrentUpdate
	}
	s.Version++
	cp := *s
	r.data[s.ID] = &cp
	r.Updates++
	return nil
}

// Bump simulates a concurrent writer.
func (r *MockSubscriptionRepo) Bump(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.data[id]; ok {
		cur.Version++
	}
}

func (r *MockSubscriptionRepo) find(match func(*model.UserSubscription) bool) (*model.UserSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.data {
		if match(s) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.UserSubscription, error) {
	return r.find(func(s *model.UserSubscription) bool { return s.ID == id })
}

func (r *MockSubscriptionRepo) FindByUser(ctx context.Context, tx repository.Tx, userID string) (*model.UserSubscription, error) {
	return r.find(func(s *model.UserSubscription) bool { return s.UserID == userID })
}

func (r *MockSubscriptionRepo) FindByExternalID(ctx context.Context, tx repository.Tx, externalID string) (*model.UserSubscription, error) {
	if externalID == "" {
		return nil, domain.ErrNotFound
	}
	return r.find(func(s *model.UserSubscription) bool { return s.ExternalSubscriptionID == externalID })
}

func (r *MockSubscriptionRepo) ListForReconcile(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.UserSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.UserSubscription
	for _, s := range r.data {
		if s.ExternalSubscriptionID == "" || s.Status == model.SubscriptionStatusCancelled {
			continue
		}
		if s.Status == model.SubscriptionStatusPastDue || s.CurrentPeriodEnd.Before(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockSubscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[model.SubscriptionStatus]int{}
	for _, s := range r.data {
		out[s.Status]++
	}
	return out, nil
}

// ---- Mock UsageRepository ----

type MockUsageRepo struct {
	mu   sync.Mutex
	data map[string]*model.SubscriptionUsage // by user id

	UpdateFunc func(ctx context.Context, tx repository.Tx, u *model.SubscriptionUsage) error
	Updates    int
}

var _ repository.UsageRepository = (*MockUsageRepo)(nil)

func NewMockUsageRepo() *MockUsageRepo {
	return &MockUsageRepo{data: map[string]*model.SubscriptionUsage{}}
}

func (r *MockUsageRepo) Put(u *model.SubscriptionUsage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.data[u.UserID] = &cp
}

func (r *MockUsageRepo) Get(userID string) *model.SubscriptionUsage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.data[userID]; ok {
		cp := *u
		return &cp
	}
	return nil
}

func (r *MockUsageRepo) Create(ctx context.Context, tx repository.Tx, u *model.SubscriptionUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[u.UserID]; ok {
		return domain.ErrAlreadyExists
	}
	u.Version = 1
	cp := *u
	r.data[u.UserID] = &cp
	return nil
}

func (r *MockUsageRepo) Update(ctx context.Context, tx repository.Tx, u *model.SubscriptionUsage) error {
	if r.UpdateFunc != nil {
		if err := r.UpdateFunc(ctx, tx, u); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.data[u.UserID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != u.Version {
		return domain.ErrConcurrentUpdate
	}
	u.Version++
	cp := *u
	r.data[u.UserID] = &cp
	r.Updates++
	return nil
}

func (r *MockUsageRepo) FindByUser(ctx context.Context, tx repository.Tx, userID string) (*model.SubscriptionUsage, error) {
	if u := r.Get(userID); u != nil {
		return u, nil
	}
	return nil, domain.ErrNotFound
}

// ---- Mock ProcessedEventRepository ----

type MockProcessedEvents struct {
	mu      sync.Mutex
	seen    map[string]bool
	Marked  []string
	SeenErr error
	MarkErr error
}

var _ repository.ProcessedEventRepository = (*MockProcessedEvents)(nil)

func NewMockProcessedEvents() *MockProcessedEvents {
	return &MockProcessedEvents{seen: map[string]bool{}}
}

func (m *MockProcessedEvents) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	if m.SeenErr != nil {
		return false, m.SeenErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[eventID], nil
}

func (m *MockProcessedEvents) MarkProcessed(ctx context.Context, eventID string) error {
	if m.MarkErr != nil {
		return m.MarkErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[eventID] = true
	m.Marked = append(m.Marked, eventID)
	return nil
}

// =============================
// Adapters
// =============================

// ---- Mock PaymentProvider ----

type MockPaymentProvider struct {
	mu sync.Mutex

	CheckoutRequests []adapter.CheckoutRequest
	Cancelled        []string

	CreateCheckoutSessionFunc func(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error)
	CreatePortalSessionFunc   func(ctx context.Context, customerID, returnURL string) (string, error)
	CancelSubscriptionFunc    func(ctx context.Context, externalID string) error
	FetchSubscriptionFunc     func(ctx context.Context, externalID string) (*adapter.RemoteSubscription, error)
}

var _ adapter.PaymentProvider = (*MockPaymentProvider)(nil)

func (m *MockPaymentProvider) Name() string { return "mock" }

func (m *MockPaymentProvider) CreateCheckoutSession(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error) {
	m.mu.Lock()
	m.CheckoutRequests = append(m.CheckoutRequests, req)
	m.mu.Unlock()
	if m.CreateCheckoutSessionFunc != nil {
		return m.CreateCheckoutSessionFunc(ctx, req)
	}
	return &adapter.CheckoutSession{ID: "cs_test", URL: "https://checkout.example.com/cs_test"}, nil
}

func (m *MockPaymentProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	if m.CreatePortalSessionFunc != nil {
		return m.CreatePortalSessionFunc(ctx, customerID, returnURL)
	}
	return "https://billing.example.com/p/" + customerID, nil
}

func (m *MockPaymentProvider) CancelSubscription(ctx context.Context, externalID string) error {
	m.mu.Lock()
	m.Cancelled = append(m.Cancelled, externalID)
	m.mu.Unlock()
	if m.CancelSubscriptionFunc != nil {
		return m.CancelSubscriptionFunc(ctx, externalID)
	}
	return nil
}

func (m *MockPaymentProvider) FetchSubscription(ctx context.Context, externalID string) (*adapter.RemoteSubscription, error) {
	if m.FetchSubscriptionFunc != nil {
		return m.FetchSubscriptionFunc(ctx, externalID)
	}
	return nil, domain.ErrNotFound
}

// ---- Mock WebhookNormalizer ----

type MockNormalizer struct {
	NormalizeFunc func(body []byte, sig string) (*model.WebhookEvent, error)
}

var _ adapter.WebhookNormalizer = (*MockNormalizer)(nil)

func (m *MockNormalizer) Normalize(body []byte, sig string) (*model.WebhookEvent, error) {
	return m.NormalizeFunc(body, sig)
}

// ---- Mock SubscriptionStateMachine ----

type MockStateMachine struct {
	mu      sync.Mutex
	Applied []*model.WebhookEvent

	ApplyFunc func(ctx context.Context, ev *model.WebhookEvent) model.WebhookResult
}

func (m *MockStateMachine) Apply(ctx context.Context, ev *model.WebhookEvent) model.WebhookResult {
	m.mu.Lock()
	m.Applied = append(m.Applied, ev)
	m.mu.Unlock()
	if m.ApplyFunc != nil {
		return m.ApplyFunc(ctx, ev)
	}
	return model.Applied("sub")
}

// =============================
// Infra helpers for tests
// =============================

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// ---- In-memory Locker ----

type MockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	ErrOn map[string]error
}

var _ adapter.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}, ErrOn: map[string]error{}}
}

func (l *MockLocker) Hold(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[key] = "someone-else"
}

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, bad := l.ErrOn[key]; bad {
		return "", err
	}
	if tok, ok := l.held[key]; ok && tok != "" {
		return "", domain.ErrOperationInProgress
	}
	tok := uuid.NewString()
	l.held[key] = tok
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		return nil
	}
	return errors.New("unlock token mismatch")
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

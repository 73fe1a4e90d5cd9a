package service

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/courier-notify/internal/domain"
	"github.com/kursadbilgin/courier-notify/internal/queue"
	"github.com/kursadbilgin/courier-notify/internal/repository"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeNotificationRepo struct {
	createFn        func(ctx context.Context, n *domain.Notification) error
	getByIDFn       func(ctx context.Context, id string) (*domain.Notification, error)
	listFn          func(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error)
	listEligibleFn  func(ctx context.Context, now time.Time, cooldown time.Duration, limit int) ([]domain.Notification, error)
	claimFn         func(ctx context.Context, id string, expectedAttempts int, token string, now, until time.Time) error
	saveOutcomeFn   func(ctx context.Context, n *domain.Notification, token string) error
	releaseFn       func(ctx context.Context, id, token string) error
	cancelFn        func(ctx context.Context, id, reason string, now time.Time) error
	countByStatusFn func(ctx context.Context, filter repository.StatsFilter) (map[domain.Status]int64, error)
}

func (f *fakeNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	if f.createFn != nil {
		return f.createFn(ctx, n)
	}
	return nil
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (f *fakeNotificationRepo) ListEligible(ctx context.Context, now time.Time, cooldown time.Duration, limit int) ([]domain.Notification, error) {
	if f.listEligibleFn != nil {
		return f.listEligibleFn(ctx, now, cooldown, limit)
	}
	return nil, nil
}

func (f *fakeNotificationRepo) Claim(ctx context.Context, id string, expectedAttempts int, token string, now, until time.Time) error {
	if f.claimFn != nil {
		return f.claimFn(ctx, id, expectedAttempts, token, now, until)
	}
	return nil
}

func (f *fakeNotificationRepo) SaveOutcome(ctx context.Context, n *domain.Notification, token string) error {
	if f.saveOutcomeFn != nil {
		return f.saveOutcomeFn(ctx, n, token)
	}
	return nil
}

func (f *fakeNotificationRepo) Release(ctx context.Context, id, token string) error {
	if f.releaseFn != nil {
		return f.releaseFn(ctx, id, token)
	}
	return nil
}

func (f *fakeNotificationRepo) Cancel(ctx context.Context, id, reason string, now time.Time) error {
	if f.cancelFn != nil {
		return f.cancelFn(ctx, id, reason, now)
	}
	return nil
}

func (f *fakeNotificationRepo) CountByStatus(ctx context.Context, filter repository.StatsFilter) (map[domain.Status]int64, error) {
	if f.countByStatusFn != nil {
		return f.countByStatusFn(ctx, filter)
	}
	return map[domain.Status]int64{}, nil
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts []domain.NotificationAttempt
	createFn func(ctx context.Context, a *domain.NotificationAttempt) error
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.NotificationAttempt) error {
	if f.createFn != nil {
		if err := f.createFn(ctx, a); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakeAttemptRepo) ListByNotificationID(ctx context.Context, notificationID string) ([]domain.NotificationAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]domain.NotificationAttempt, 0)
	for _, a := range f.attempts {
		if a.NotificationID == notificationID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAttemptRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}

type fakeRunRepo struct {
	mu       sync.Mutex
	runs     map[string]domain.SchedulerRun
	createFn func(ctx context.Context, run *domain.SchedulerRun) error
}

func (f *fakeRunRepo) Create(ctx context.Context, run *domain.SchedulerRun) error {
	if f.createFn != nil {
		if err := f.createFn(ctx, run); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runs == nil {
		f.runs = make(map[string]domain.SchedulerRun)
	}
	f.runs[run.ID] = *run
	return nil
}

func (f *fakeRunRepo) Finish(ctx context.Context, run *domain.SchedulerRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runs == nil {
		f.runs = make(map[string]domain.SchedulerRun)
	}
	f.runs[run.ID] = *run
	return nil
}

func (f *fakeRunRepo) GetByID(ctx context.Context, id string) (*domain.SchedulerRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &run, nil
}

type fakeTemplateRepo struct {
	findActiveFn func(ctx context.Context, kind domain.Kind) ([]domain.NotificationTemplate, error)
	saveFn       func(ctx context.Context, t *domain.NotificationTemplate) error
}

func (f *fakeTemplateRepo) FindActive(ctx context.Context, kind domain.Kind) ([]domain.NotificationTemplate, error) {
	if f.findActiveFn != nil {
		return f.findActiveFn(ctx, kind)
	}
	return nil, nil
}

func (f *fakeTemplateRepo) Save(ctx context.Context, t *domain.NotificationTemplate) error {
	if f.saveFn != nil {
		return f.saveFn(ctx, t)
	}
	return nil
}

type fakeResolver struct {
	resolveFn func(ctx context.Context, entityRef string) (map[string]string, error)
}

func (f *fakeResolver) Resolve(ctx context.Context, entityRef string) (map[string]string, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, entityRef)
	}
	return nil, domain.ErrNotFound
}

type fakePolicyStore struct {
	mu         sync.Mutex
	policy     domain.RetryPolicy
	snapshotFn func(ctx context.Context) (domain.RetryPolicy, error)
}

func (f *fakePolicyStore) Snapshot(ctx context.Context) (domain.RetryPolicy, error) {
	if f.snapshotFn != nil {
		return f.snapshotFn(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.policy.Clone(), nil
}

func (f *fakePolicyStore) Update(ctx context.Context, policy domain.RetryPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policy = policy.Clone()
	return nil
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.ShipmentEventMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.ShipmentEventMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	return nil
}

func pendingNotification(id string, channel domain.Channel, createdAt time.Time) domain.Notification {
	return domain.Notification{
		ID:           id,
		EntityRef:    "shp-" + id,
		Kind:         domain.KindRegistration,
		Channel:      channel,
		Recipient:    "+5215512345678",
		BodyTemplate: "Guide {guide_number} registered",
		Status:       domain.StatusPending,
		MaxAttempts:  3,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

func seedMemoryRepo(records ...domain.Notification) *repository.MemoryNotificationRepo {
	repo := repository.NewMemoryNotificationRepo()
	for i := range records {
		n := records[i]
		if err := repo.Create(context.Background(), &n); err != nil {
			panic(err)
		}
	}
	return repo
}

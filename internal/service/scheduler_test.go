package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/courier-notify/internal/domain"
	"github.com/kursadbilgin/courier-notify/internal/provider"
	"github.com/kursadbilgin/courier-notify/internal/repository"
	"go.uber.org/zap"
)

func newTestScheduler(
	t *testing.T,
	repo repository.NotificationRepository,
	runs repository.RunRepository,
	d *Dispatcher,
	policies PolicySource,
	clock *testClock,
) *RetryScheduler {
	t.Helper()

	s, err := NewRetryScheduler(repo, runs, d, policies, time.Minute, 100, 4, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryScheduler() error = %v", err)
	}
	s.now = clock.Now
	return s
}

// failingSaveRepo loses the outcome write of one record.
type failingSaveRepo struct {
	*repository.MemoryNotificationRepo
	failID string
}

func (r *failingSaveRepo) SaveOutcome(ctx context.Context, n *domain.Notification, token string) error {
	if n.ID == r.failID {
		return fmt.Errorf("%w: save outcome: connection refused", domain.ErrStore)
	}
	return r.MemoryNotificationRepo.SaveOutcome(ctx, n, token)
}

func TestRetrySchedulerRespectsCooldown(t *testing.T) {
	t.Parallel()

	clock := newTestClock(testStart.Add(30 * time.Minute))
	n := pendingNotification("n-1", domain.ChannelSMS, testStart)
	n.Attempts = 1
	repo := seedMemoryRepo(n)

	var calls atomic.Int32
	registry := newTestRegistry(t, map[domain.Channel]provider.Provider{
		domain.ChannelSMS: succeedingProvider(&calls),
	})
	d := newTestDispatcher(t, repo, nil, registry, nil, clock)
	s := newTestScheduler(t, repo, nil, d, StaticPolicySource{}, clock)

	policy := domain.DefaultRetryPolicy()
	policy.CooldownMinutes = 60

	stats, err := s.RunBatch(context.Background(), policy, 10)
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if stats.Selected != 0 || calls.Load() != 0 {
		t.Fatalf("selected = %d calls = %d, want nothing inside cooldown", stats.Selected, calls.Load())
	}

	clock.Advance(31 * time.Minute)

	stats, err = s.RunBatch(context.Background(), policy, 10)
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if stats.Selected != 1 || stats.Succeeded != 1 {
		t.Fatalf("selected = %d succeeded = %d, want 1/1 after cooldown", stats.Selected, stats.Succeeded)
	}

	stored, _ := repo.GetByID(context.Background(), "n-1")
	if stored.Status != domain.StatusSent || stored.Attempts != 2 {
		t.Fatalf("stored = %s/%d, want SENT/2", stored.Status, stored.Attempts)
	}
}

func TestRetrySchedulerIsolatesFailingRecords(t *testing.T) {
	t.Parallel()

	clock := newTestClock(testStart)
	records := make([]domain.Notification, 0, 5)
	for i := 1; i <= 5; i++ {
		n := pendingNotification(fmt.Sprintf("n-%d", i), domain.ChannelSMS, testStart.Add(-time.Duration(10-i)*time.Minute))
		n.Recipient = fmt.Sprintf("+52155000000%d", i)
		records = append(records, n)
	}
	memory := seedMemoryRepo(records...)
	repo := &failingSaveRepo{MemoryNotificationRepo: memory, failID: "n-5"}

	registry := newTestRegistry(t, map[domain.Channel]provider.Provider{
		domain.ChannelSMS: provider.ProviderFunc(func(ctx context.Context, msg provider.Message) (*provider.Result, error) {
			if msg.Recipient == "+521550000003" {
				return &provider.Result{Success: false, ErrorMessage: "invalid number"}, nil
			}
			return &provider.Result{Success: true, ProviderID: "ok"}, nil
		}),
	})
	runs := &fakeRunRepo{}
	d := newTestDispatcher(t, repo, nil, registry, nil, clock)
	s := newTestScheduler(t, repo, runs, d, StaticPolicySource{}, clock)

	stats, err := s.RunBatch(context.Background(), domain.DefaultRetryPolicy(), 10)
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}

	if stats.Selected != 5 || stats.Processed != 4 || stats.Succeeded != 3 || stats.Failed != 1 {
		t.Fatalf("stats = %+v, want selected 5 processed 4 succeeded 3 failed 1", stats)
	}
	if stats.Status != string(domain.RunStatusPartialFailure) {
		t.Fatalf("status = %s, want PARTIAL_FAILURE", stats.Status)
	}
	if len(stats.Errors) != 2 {
		t.Fatalf("errors = %+v, want 2 entries", stats.Errors)
	}

	byID := make(map[string]RecordError, len(stats.Errors))
	for _, e := range stats.Errors {
		byID[e.NotificationID] = e
	}
	if e, ok := byID["n-3"]; !ok || e.Infrastructure || e.Message != "invalid number" {
		t.Fatalf("n-3 error = %+v, want delivery failure", e)
	}
	if e, ok := byID["n-5"]; !ok || !e.Infrastructure {
		t.Fatalf("n-5 error = %+v, want infrastructure failure", e)
	}

	for _, id := range []string{"n-1", "n-2", "n-4"} {
		stored, _ := memory.GetByID(context.Background(), id)
		if stored.Status != domain.StatusSent {
			t.Fatalf("%s status = %s, want SENT", id, stored.Status)
		}
	}
	third, _ := memory.GetByID(context.Background(), "n-3")
	if third.Status != domain.StatusPending || third.Attempts != 1 {
		t.Fatalf("n-3 = %s/%d, want PENDING/1", third.Status, third.Attempts)
	}

	run, err := runs.GetByID(context.Background(), stats.RunID)
	if err != nil {
		t.Fatalf("GetByID(run) error = %v", err)
	}
	if run.Status != domain.RunStatusPartialFailure || run.ErrorCount != 2 || run.FinishedAt == nil {
		t.Fatalf("run = %+v, want finished PARTIAL_FAILURE with 2 errors", run)
	}
}

func TestRetrySchedulerNeverDispatchesTwiceConcurrently(t *testing.T) {
	t.Parallel()

	clock := newTestClock(testStart)
	records := make([]domain.Notification, 0, 40)
	for i := 0; i < 40; i++ {
		records = append(records, pendingNotification(fmt.Sprintf("n-%02d", i), domain.ChannelPush, testStart.Add(time.Duration(i)*time.Second)))
	}
	for i := range records {
		records[i].BodyTemplate = records[i].ID
	}
	repo := seedMemoryRepo(records...)

	var mu sync.Mutex
	sends := make(map[string]int)
	registry := newTestRegistry(t, map[domain.Channel]provider.Provider{
		domain.ChannelPush: provider.ProviderFunc(func(ctx context.Context, msg provider.Message) (*provider.Result, error) {
			mu.Lock()
			sends[msg.Body]++
			mu.Unlock()
			time.Sleep(time.Millisecond)
			return &provider.Result{Success: true}, nil
		}),
	})

	d := newTestDispatcher(t, repo, nil, registry, nil, clock)
	s := newTestScheduler(t, repo, nil, d, StaticPolicySource{}, clock)

	var wg sync.WaitGroup
	results := make([]*RunStats, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stats, err := s.RunBatch(context.Background(), domain.DefaultRetryPolicy(), 100)
			if err != nil {
				t.Errorf("RunBatch() error = %v", err)
				return
			}
			results[i] = stats
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, stats := range results {
		if stats != nil {
			succeeded += stats.Succeeded
		}
	}
	if succeeded != len(records) {
		t.Fatalf("succeeded across runs = %d, want %d", succeeded, len(records))
	}
	for _, n := range records {
		if got := sends[n.ID]; got != 1 {
			t.Fatalf("%s sent %d times, want 1", n.ID, got)
		}
	}
}

func TestRetrySchedulerSelectsOldestFirst(t *testing.T) {
	t.Parallel()

	clock := newTestClock(testStart)
	repo := seedMemoryRepo(
		pendingNotification("n-new", domain.ChannelSMS, testStart.Add(-time.Minute)),
		pendingNotification("n-old", domain.ChannelSMS, testStart.Add(-time.Hour)),
		pendingNotification("n-mid", domain.ChannelSMS, testStart.Add(-10*time.Minute)),
	)

	var calls atomic.Int32
	registry := newTestRegistry(t, map[domain.Channel]provider.Provider{
		domain.ChannelSMS: succeedingProvider(&calls),
	})
	d := newTestDispatcher(t, repo, nil, registry, nil, clock)
	s := newTestScheduler(t, repo, nil, d, StaticPolicySource{}, clock)

	stats, err := s.RunBatch(context.Background(), domain.DefaultRetryPolicy(), 2)
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if stats.Selected != 2 {
		t.Fatalf("selected = %d, want 2", stats.Selected)
	}

	want := map[string]domain.Status{
		"n-old": domain.StatusSent,
		"n-mid": domain.StatusSent,
		"n-new": domain.StatusPending,
	}
	for id, st := range want {
		stored, _ := repo.GetByID(context.Background(), id)
		if stored.Status != st {
			t.Fatalf("%s status = %s, want %s", id, stored.Status, st)
		}
	}
}

func TestRetrySchedulerLeavesTerminalRecordsAlone(t *testing.T) {
	t.Parallel()

	clock := newTestClock(testStart)
	sent := pendingNotification("n-sent", domain.ChannelSMS, testStart.Add(-time.Hour))
	sent.Status = domain.StatusSent
	failed := pendingNotification("n-failed", domain.ChannelSMS, testStart.Add(-time.Hour))
	failed.Status = domain.StatusFailed
	failed.Attempts = 3
	cancelled := pendingNotification("n-cancelled", domain.ChannelSMS, testStart.Add(-time.Hour))
	cancelled.Status = domain.StatusCancelled
	repo := seedMemoryRepo(sent, failed, cancelled)

	var calls atomic.Int32
	registry := newTestRegistry(t, map[domain.Channel]provider.Provider{
		domain.ChannelSMS: succeedingProvider(&calls),
	})
	d := newTestDispatcher(t, repo, nil, registry, nil, clock)
	s := newTestScheduler(t, repo, nil, d, StaticPolicySource{}, clock)

	stats, err := s.RunBatch(context.Background(), domain.DefaultRetryPolicy(), 10)
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if stats.Selected != 0 || calls.Load() != 0 {
		t.Fatalf("selected = %d calls = %d, want 0/0", stats.Selected, calls.Load())
	}
	if stats.Status != string(domain.RunStatusCompleted) {
		t.Fatalf("status = %s, want COMPLETED", stats.Status)
	}
}

func TestRetrySchedulerSkipsRunWithoutPolicy(t *testing.T) {
	t.Parallel()

	listed := false
	repo := &fakeNotificationRepo{
		listEligibleFn: func(ctx context.Context, now time.Time, cooldown time.Duration, limit int) ([]domain.Notification, error) {
			listed = true
			return nil, nil
		},
	}
	policies := &fakePolicyStore{
		snapshotFn: func(ctx context.Context) (domain.RetryPolicy, error) {
			return domain.RetryPolicy{}, fmt.Errorf("%w: redis: connection refused", domain.ErrStore)
		},
	}
	clock := newTestClock(testStart)
	d := newTestDispatcher(t, repo, nil, provider.NewRegistry(), nil, clock)
	s := newTestScheduler(t, repo, nil, d, policies, clock)

	if _, err := s.RunOnce(context.Background(), 0); !errors.Is(err, domain.ErrStore) {
		t.Fatalf("RunOnce() error = %v, want ErrStore", err)
	}
	if listed {
		t.Fatal("no records should be selected without a policy snapshot")
	}
}

func TestRetrySchedulerSelectionFailure(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{
		listEligibleFn: func(ctx context.Context, now time.Time, cooldown time.Duration, limit int) ([]domain.Notification, error) {
			if limit != maxSchedulerBatchSize {
				t.Fatalf("limit = %d, want %d", limit, maxSchedulerBatchSize)
			}
			return nil, fmt.Errorf("%w: list eligible: timeout", domain.ErrStore)
		},
	}
	runs := &fakeRunRepo{}
	clock := newTestClock(testStart)
	d := newTestDispatcher(t, repo, nil, provider.NewRegistry(), nil, clock)
	s := newTestScheduler(t, repo, runs, d, StaticPolicySource{}, clock)
	s.newID = func() string { return "run-1" }

	if _, err := s.RunBatch(context.Background(), domain.DefaultRetryPolicy(), 5000); !errors.Is(err, domain.ErrStore) {
		t.Fatalf("RunBatch() error = %v, want ErrStore", err)
	}

	run, err := runs.GetByID(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetByID(run) error = %v", err)
	}
	if run.Status != domain.RunStatusPartialFailure {
		t.Fatalf("run status = %s, want PARTIAL_FAILURE", run.Status)
	}
}

func TestRetrySchedulerStartStopsOnCancel(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	repo := &fakeNotificationRepo{
		listEligibleFn: func(ctx context.Context, now time.Time, cooldown time.Duration, limit int) ([]domain.Notification, error) {
			runs.Add(1)
			return nil, nil
		},
	}
	clock := newTestClock(testStart)
	d := newTestDispatcher(t, repo, nil, provider.NewRegistry(), nil, clock)
	s := newTestScheduler(t, repo, nil, d, StaticPolicySource{Policy: domain.DefaultRetryPolicy()}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("scheduler did not run its initial sweep")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}

func TestRunStatsRecordClassification(t *testing.T) {
	t.Parallel()

	st := &RunStats{}
	st.record("n-1", nil, fmt.Errorf("%w: sms circuit open", domain.ErrUnavailable))
	st.record("n-2", nil, fmt.Errorf("%w: lost", domain.ErrConflict))
	st.record("n-3", nil, fmt.Errorf("%w: db down", domain.ErrStore))

	if st.Skipped != 2 {
		t.Fatalf("Skipped = %d, want 2", st.Skipped)
	}
	if len(st.Errors) != 1 || st.Errors[0].NotificationID != "n-3" || !st.Errors[0].Infrastructure {
		t.Fatalf("Errors = %+v, want one infrastructure error for n-3", st.Errors)
	}
}

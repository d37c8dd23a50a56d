package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fetchframe/webextract-api/internal/models"
	"github.com/fetchframe/webextract-api/internal/repository"
)

type mockScheduleRepository struct {
	mu        sync.Mutex
	schedules map[string]*models.Schedule
	advanced  []string
}

func newMockScheduleRepository(scheds ...*models.Schedule) *mockScheduleRepository {
	m := &mockScheduleRepository{schedules: make(map[string]*models.Schedule)}
	for _, s := range scheds {
		m.schedules[s.ID] = s
	}
	return m
}

func (m *mockScheduleRepository) Create(ctx context.Context, s *models.Schedule) error { return nil }
func (m *mockScheduleRepository) GetByID(ctx context.Context, id string) (*models.Schedule, error) {
	return m.schedules[id], nil
}
func (m *mockScheduleRepository) GetByOwnerKeyID(ctx context.Context, ownerKeyID string) ([]*models.Schedule, error) {
	return nil, nil
}
func (m *mockScheduleRepository) Update(ctx context.Context, s *models.Schedule) error { return nil }
func (m *mockScheduleRepository) Delete(ctx context.Context, id string) error          { return nil }

func (m *mockScheduleRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*models.Schedule
	for _, s := range m.schedules {
		if s.IsActive && !s.NextRunAt.After(now) {
			due = append(due, s)
		}
	}
	return due, nil
}

func (m *mockScheduleRepository) Advance(ctx context.Context, id string, expectedNextRunAt, newNextRunAt, ranAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok || !s.NextRunAt.Equal(expectedNextRunAt) {
		return false, nil
	}
	s.NextRunAt = newNextRunAt
	s.LastRunAt = &ranAt
	m.advanced = append(m.advanced, id)
	return true, nil
}

type mockJobRepository struct {
	mu      sync.Mutex
	created []*models.Job
}

func (m *mockJobRepository) Create(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, job)
	return nil
}
func (m *mockJobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	return nil, nil
}
func (m *mockJobRepository) GetByOwnerKeyID(ctx context.Context, ownerKeyID string, limit, offset int) ([]*models.Job, error) {
	return nil, nil
}
func (m *mockJobRepository) GetByBatchID(ctx context.Context, batchID string) ([]*models.Job, error) {
	return nil, nil
}
func (m *mockJobRepository) Update(ctx context.Context, job *models.Job) error { return nil }
func (m *mockJobRepository) ClaimPending(ctx context.Context) (*models.Job, error) {
	return nil, nil
}
func (m *mockJobRepository) DeleteOlderThan(ctx context.Context, before time.Time) ([]string, error) {
	return nil, nil
}
func (m *mockJobRepository) MarkStaleProcessingFailed(ctx context.Context, maxAge time.Duration) (int64, error) {
	return 0, nil
}

type mockAPIKeyRepository struct {
	keys map[string]*models.APIKey
}

func (m *mockAPIKeyRepository) Create(ctx context.Context, key *models.APIKey) error { return nil }
func (m *mockAPIKeyRepository) GetByID(ctx context.Context, id string) (*models.APIKey, error) {
	return m.keys[id], nil
}
func (m *mockAPIKeyRepository) GetByKeyHash(ctx context.Context, hash string) (*models.APIKey, error) {
	return nil, nil
}
func (m *mockAPIKeyRepository) ConsumeCredits(ctx context.Context, keyHash string, n int) (int, error) {
	for _, k := range m.keys {
		if k.KeyHash == keyHash {
			if k.RemainingCredits < n {
				return 0, repository.ErrNoRowsAffected
			}
			k.RemainingCredits -= n
			return k.RemainingCredits, nil
		}
	}
	return 0, repository.ErrNoRowsAffected
}
func (m *mockAPIKeyRepository) UpdateLastUsed(ctx context.Context, id string, lastUsed time.Time) error {
	return nil
}
func (m *mockAPIKeyRepository) Revoke(ctx context.Context, id string) error { return nil }

type mockDispatcher struct {
	mu       sync.Mutex
	enqueued []string
}

func (m *mockDispatcher) Enqueue(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued = append(m.enqueued, jobID)
	return nil
}

func TestTickDispatchesDueScheduleAndAdvances(t *testing.T) {
	now := time.Now().UTC()
	sched := &models.Schedule{
		ID:         "sched-1",
		CronExpr:   "* * * * *",
		URL:        "https://example.com",
		IsActive:   true,
		NextRunAt:  now.Add(-time.Minute),
	}
	origNextRunAt := sched.NextRunAt
	schedRepo := newMockScheduleRepository(sched)
	jobRepo := &mockJobRepository{}
	keyRepo := &mockAPIKeyRepository{keys: map[string]*models.APIKey{}}
	dispatcher := &mockDispatcher{}

	s := NewScheduler(schedRepo, jobRepo, keyRepo, dispatcher, nil, nil)
	n, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 1 {
		t.Fatalf("dispatched = %d, want 1", n)
	}
	if len(jobRepo.created) != 1 {
		t.Fatalf("created jobs = %d, want 1", len(jobRepo.created))
	}
	if jobRepo.created[0].Status != models.JobStatusQueued {
		t.Errorf("job status = %v, want queued", jobRepo.created[0].Status)
	}
	if len(dispatcher.enqueued) != 1 {
		t.Errorf("enqueued = %d, want 1", len(dispatcher.enqueued))
	}
	if schedRepo.schedules["sched-1"].NextRunAt.Equal(origNextRunAt) {
		t.Error("next_run_at was not advanced")
	}
}

func TestTickMarksJobFailedOnInsufficientCredits(t *testing.T) {
	now := time.Now().UTC()
	sched := &models.Schedule{
		ID:         "sched-2",
		OwnerKeyID: "key-1",
		CronExpr:   "* * * * *",
		URL:        "https://example.com",
		IsActive:   true,
		NextRunAt:  now.Add(-time.Minute),
	}
	schedRepo := newMockScheduleRepository(sched)
	jobRepo := &mockJobRepository{}
	keyRepo := &mockAPIKeyRepository{keys: map[string]*models.APIKey{
		"key-1": {ID: "key-1", KeyHash: "hash-1", IsActive: true, RemainingCredits: 0},
	}}
	dispatcher := &mockDispatcher{}

	s := NewScheduler(schedRepo, jobRepo, keyRepo, dispatcher, nil, nil)
	n, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 1 {
		t.Fatalf("dispatched = %d, want 1 (failed-but-created counts)", n)
	}
	if jobRepo.created[0].Status != models.JobStatusFailed {
		t.Errorf("job status = %v, want failed", jobRepo.created[0].Status)
	}
	if len(dispatcher.enqueued) != 0 {
		t.Error("insufficient-credit job must not be enqueued")
	}
}

func TestTickSkipsNotYetDueSchedule(t *testing.T) {
	now := time.Now().UTC()
	sched := &models.Schedule{
		ID:        "sched-3",
		CronExpr:  "* * * * *",
		URL:       "https://example.com",
		IsActive:  true,
		NextRunAt: now.Add(time.Hour),
	}
	schedRepo := newMockScheduleRepository(sched)
	jobRepo := &mockJobRepository{}
	keyRepo := &mockAPIKeyRepository{keys: map[string]*models.APIKey{}}
	dispatcher := &mockDispatcher{}

	s := NewScheduler(schedRepo, jobRepo, keyRepo, dispatcher, nil, nil)
	n, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 0 {
		t.Errorf("dispatched = %d, want 0", n)
	}
}

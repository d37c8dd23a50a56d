package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fetchframe/webextract-api/internal/models"
)

// mockCacheRepository implements repository.CacheRepository for testing.
type mockCacheRepository struct {
	mu      sync.Mutex
	entries map[string]*models.CacheEntry
}

func newMockCacheRepository() *mockCacheRepository {
	return &mockCacheRepository{entries: make(map[string]*models.CacheEntry)}
}

func (m *mockCacheRepository) Get(ctx context.Context, fingerprint string) (*models.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[fingerprint], nil
}

func (m *mockCacheRepository) Put(ctx context.Context, entry *models.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entries[entry.Fingerprint]; ok {
		entry.HitCount = existing.HitCount
	}
	m.entries[entry.Fingerprint] = entry
	return nil
}

func (m *mockCacheRepository) RecordHit(ctx context.Context, fingerprint string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[fingerprint]; ok {
		e.HitCount++
		e.LastHitAt = at
	}
	return nil
}

func (m *mockCacheRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error) {
	return 0, nil
}

func TestServiceLookupMissReturnsNil(t *testing.T) {
	svc := NewService(newMockCacheRepository(), time.Minute, nil)
	res, err := svc.Lookup(context.Background(), "fp-missing")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if res != nil {
		t.Errorf("res = %+v, want nil for a miss", res)
	}
}

func TestServiceLookupExpiredReturnsNil(t *testing.T) {
	repo := newMockCacheRepository()
	svc := NewService(repo, time.Minute, nil)
	ctx := context.Background()

	if err := svc.Store(ctx, "fp-stale", "cache/fp-stale.json", 10, 100); err != nil {
		t.Fatalf("Store: %v", err)
	}
	repo.entries["fp-stale"].ExpiresAt = time.Now().UTC().Add(-time.Second)

	res, err := svc.Lookup(ctx, "fp-stale")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if res != nil {
		t.Errorf("res = %+v, want nil for an expired entry", res)
	}
}

func TestServiceStorePreservesHitCountOnReplace(t *testing.T) {
	repo := newMockCacheRepository()
	svc := NewService(repo, time.Minute, nil)
	ctx := context.Background()

	if err := svc.Store(ctx, "fp-1", "cache/fp-1.json", 10, 100); err != nil {
		t.Fatalf("Store: %v", err)
	}
	repo.entries["fp-1"].HitCount = 4

	if err := svc.Store(ctx, "fp-1", "cache/fp-1-new.json", 20, 200); err != nil {
		t.Fatalf("Store (replace): %v", err)
	}
	if repo.entries["fp-1"].HitCount != 4 {
		t.Errorf("HitCount = %d, want preserved at 4", repo.entries["fp-1"].HitCount)
	}
	if repo.entries["fp-1"].ResultPath != "cache/fp-1-new.json" {
		t.Errorf("ResultPath = %q, want updated", repo.entries["fp-1"].ResultPath)
	}
}

func TestFingerprintDedupesAndSortsFields(t *testing.T) {
	a := Fingerprint(FingerprintInput{URL: "https://example.com", Fields: []string{"price", "title", "title"}})
	b := Fingerprint(FingerprintInput{URL: "https://example.com", Fields: []string{"title", "price"}})
	if a != b {
		t.Errorf("fingerprints differ for permuted/deduped field lists: %s != %s", a, b)
	}
}

func TestFingerprintTrimsInstructions(t *testing.T) {
	a := Fingerprint(FingerprintInput{URL: "https://example.com", Fields: []string{"title"}, Instructions: "ignore ads"})
	b := Fingerprint(FingerprintInput{URL: "https://example.com", Fields: []string{"title"}, Instructions: "  ignore ads  "})
	if a != b {
		t.Errorf("fingerprints differ after trimming instructions: %s != %s", a, b)
	}
}

func TestFingerprintIsStableAcrossSchemaKeyOrder(t *testing.T) {
	a := Fingerprint(FingerprintInput{
		URL:    "https://example.com",
		Schema: map[string]interface{}{"type": "object", "properties": map[string]interface{}{"a": 1, "b": 2}},
	})
	b := Fingerprint(FingerprintInput{
		URL:    "https://example.com",
		Schema: map[string]interface{}{"properties": map[string]interface{}{"b": 2, "a": 1}, "type": "object"},
	})
	if a != b {
		t.Errorf("fingerprints differ for reordered schema keys: %s != %s", a, b)
	}
}

func TestFingerprintDiffersOnURL(t *testing.T) {
	a := Fingerprint(FingerprintInput{URL: "https://example.com/a", Fields: []string{"title"}})
	b := Fingerprint(FingerprintInput{URL: "https://example.com/b", Fields: []string{"title"}})
	if a == b {
		t.Errorf("expected different fingerprints for different URLs")
	}
}

func TestFingerprintExcludesPerCallerContext(t *testing.T) {
	// Two distinct callers requesting the same extraction must collide so
	// the cache is shared, not partitioned by caller.
	in := FingerprintInput{URL: "https://example.com", Fields: []string{"title"}}
	a := Fingerprint(in)
	b := Fingerprint(in)
	if a != b {
		t.Errorf("identical inputs produced different fingerprints: %s != %s", a, b)
	}
}

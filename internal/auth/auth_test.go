package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fetchframe/webextract-api/internal/models"
	"github.com/fetchframe/webextract-api/internal/repository"
)

// mockAPIKeyRepository implements repository.APIKeyRepository for testing.
type mockAPIKeyRepository struct {
	mu   sync.Mutex
	keys map[string]*models.APIKey // keyed by hash
}

func newMockAPIKeyRepository() *mockAPIKeyRepository {
	return &mockAPIKeyRepository{keys: make(map[string]*models.APIKey)}
}

func (m *mockAPIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key.KeyHash] = key
	return nil
}

func (m *mockAPIKeyRepository) GetByID(ctx context.Context, id string) (*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.ID == id {
			return k, nil
		}
	}
	return nil, nil
}

func (m *mockAPIKeyRepository) GetByKeyHash(ctx context.Context, hash string) (*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[hash]; ok {
		return k, nil
	}
	return nil, nil
}

func (m *mockAPIKeyRepository) ConsumeCredits(ctx context.Context, keyHash string, n int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[keyHash]
	if !ok || !k.IsActive || k.RemainingCredits < n {
		return 0, repository.ErrNoRowsAffected
	}
	k.RemainingCredits -= n
	return k.RemainingCredits, nil
}

func (m *mockAPIKeyRepository) UpdateLastUsed(ctx context.Context, id string, lastUsed time.Time) error {
	return nil
}

func (m *mockAPIKeyRepository) Revoke(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.ID == id {
			k.IsActive = false
		}
	}
	return nil
}

func seedKey(repo *mockAPIKeyRepository, plaintext string, credits int, active bool) *models.APIKey {
	key := &models.APIKey{
		ID:               "key-1",
		KeyHash:          HashAPIKey(plaintext),
		KeyPrefix:        plaintext[:6],
		RemainingCredits: credits,
		IsActive:         active,
		CreatedAt:        time.Now(),
	}
	repo.keys[key.KeyHash] = key
	return key
}

func TestVerifyAPIKeyOKWithCredits(t *testing.T) {
	repo := newMockAPIKeyRepository()
	seedKey(repo, "wx_live_good", 10, true)
	a := NewAuthenticator(repo)

	res, err := a.VerifyAPIKey(context.Background(), "wx_live_good")
	if err != nil {
		t.Fatalf("VerifyAPIKey: %v", err)
	}
	if !res.OK || res.APIKeyID != "key-1" || res.RemainingCredits != 10 {
		t.Errorf("res = %+v, want ok with 10 credits", res)
	}
}

func TestVerifyAPIKeyUnknown(t *testing.T) {
	repo := newMockAPIKeyRepository()
	a := NewAuthenticator(repo)

	res, err := a.VerifyAPIKey(context.Background(), "wx_live_missing")
	if err != nil {
		t.Fatalf("VerifyAPIKey: %v", err)
	}
	if res.OK {
		t.Errorf("res.OK = true, want false for unknown key")
	}
}

func TestVerifyAPIKeyInactive(t *testing.T) {
	repo := newMockAPIKeyRepository()
	seedKey(repo, "wx_live_inactive", 10, false)
	a := NewAuthenticator(repo)

	res, err := a.VerifyAPIKey(context.Background(), "wx_live_inactive")
	if err != nil {
		t.Fatalf("VerifyAPIKey: %v", err)
	}
	if res.OK {
		t.Errorf("res.OK = true, want false for inactive key")
	}
}

func TestConsumeAPIKeySufficientCredits(t *testing.T) {
	repo := newMockAPIKeyRepository()
	seedKey(repo, "wx_live_spend", 5, true)
	a := NewAuthenticator(repo)

	res, err := a.ConsumeAPIKey(context.Background(), "wx_live_spend", 3)
	if err != nil {
		t.Fatalf("ConsumeAPIKey: %v", err)
	}
	if !res.OK || res.RemainingCredits != 2 {
		t.Errorf("res = %+v, want ok with 2 remaining", res)
	}
}

func TestConsumeAPIKeyInsufficientCredits(t *testing.T) {
	repo := newMockAPIKeyRepository()
	seedKey(repo, "wx_live_poor", 1, true)
	a := NewAuthenticator(repo)

	res, err := a.ConsumeAPIKey(context.Background(), "wx_live_poor", 5)
	if err != nil {
		t.Fatalf("ConsumeAPIKey: %v", err)
	}
	if res.OK || res.Reason != FailureInsufficientFunds {
		t.Errorf("res = %+v, want insufficient_credits", res)
	}
}

func TestConsumeAPIKeyInactive(t *testing.T) {
	repo := newMockAPIKeyRepository()
	seedKey(repo, "wx_live_dead", 10, false)
	a := NewAuthenticator(repo)

	res, err := a.ConsumeAPIKey(context.Background(), "wx_live_dead", 1)
	if err != nil {
		t.Fatalf("ConsumeAPIKey: %v", err)
	}
	if res.OK || res.Reason != FailureInactive {
		t.Errorf("res = %+v, want inactive", res)
	}
}

func TestConsumeAPIKeyInvalid(t *testing.T) {
	repo := newMockAPIKeyRepository()
	a := NewAuthenticator(repo)

	res, err := a.ConsumeAPIKey(context.Background(), "wx_live_nope", 1)
	if err != nil {
		t.Fatalf("ConsumeAPIKey: %v", err)
	}
	if res.OK || res.Reason != FailureInvalid {
		t.Errorf("res = %+v, want invalid", res)
	}
}

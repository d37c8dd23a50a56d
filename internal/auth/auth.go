// Package auth verifies caller-provided API keys and consumes their
// credit balance against the tabular store.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/fetchframe/webextract-api/internal/crypto"
	"github.com/fetchframe/webextract-api/internal/repository"
)

// FailureReason classifies why consuming credits failed.
type FailureReason string

const (
	FailureNone              FailureReason = ""
	FailureInvalid           FailureReason = "invalid"
	FailureInactive          FailureReason = "inactive"
	FailureInsufficientFunds FailureReason = "insufficient_credits"
)

// ErrKeyNotFound is returned when no row matches the hashed key.
var ErrKeyNotFound = errors.New("api key not found")

// VerifyResult is the outcome of a side-effect-free key lookup.
type VerifyResult struct {
	OK               bool
	APIKeyID         string
	RemainingCredits int
}

// ConsumeResult is the outcome of a credit-consuming request.
type ConsumeResult struct {
	OK               bool
	RemainingCredits int
	Reason           FailureReason
}

// Authenticator verifies API keys and debits their credit balance.
type Authenticator struct {
	repo repository.APIKeyRepository
}

// NewAuthenticator creates an Authenticator backed by repo.
func NewAuthenticator(repo repository.APIKeyRepository) *Authenticator {
	return &Authenticator{repo: repo}
}

// HashAPIKey computes the SHA-256 hex digest stored as key_hash.
func HashAPIKey(plaintext string) string {
	return crypto.HashAPIKey(plaintext)
}

// VerifyAPIKey looks up the key by its hash and reports whether it is
// usable, without mutating any state.
func (a *Authenticator) VerifyAPIKey(ctx context.Context, plaintext string) (VerifyResult, error) {
	key, err := a.repo.GetByKeyHash(ctx, HashAPIKey(plaintext))
	if err != nil {
		return VerifyResult{}, fmt.Errorf("auth: lookup key: %w", err)
	}
	if key == nil {
		return VerifyResult{OK: false}, nil
	}
	if !key.IsActive {
		return VerifyResult{OK: false, APIKeyID: key.ID}, nil
	}
	if key.RemainingCredits <= 0 {
		return VerifyResult{OK: false, APIKeyID: key.ID, RemainingCredits: key.RemainingCredits}, nil
	}
	return VerifyResult{OK: true, APIKeyID: key.ID, RemainingCredits: key.RemainingCredits}, nil
}

// ConsumeAPIKey debits n credits from the key identified by plaintext in a
// single conditional update. Batch callers must verify n credits are
// available before enqueueing work, since a partial batch must never be
// partially charged.
func (a *Authenticator) ConsumeAPIKey(ctx context.Context, plaintext string, n int) (ConsumeResult, error) {
	keyHash := HashAPIKey(plaintext)

	remaining, err := a.repo.ConsumeCredits(ctx, keyHash, n)
	if err == nil {
		return ConsumeResult{OK: true, RemainingCredits: remaining}, nil
	}
	if !errors.Is(err, repository.ErrNoRowsAffected) {
		return ConsumeResult{}, fmt.Errorf("auth: consume credits: %w", err)
	}

	key, getErr := a.repo.GetByKeyHash(ctx, keyHash)
	if getErr != nil {
		return ConsumeResult{}, fmt.Errorf("auth: reclassify failed consume: %w", getErr)
	}
	switch {
	case key == nil:
		return ConsumeResult{OK: false, Reason: FailureInvalid}, nil
	case !key.IsActive:
		return ConsumeResult{OK: false, Reason: FailureInactive, RemainingCredits: key.RemainingCredits}, nil
	default:
		return ConsumeResult{OK: false, Reason: FailureInsufficientFunds, RemainingCredits: key.RemainingCredits}, nil
	}
}

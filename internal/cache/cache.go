// Package cache computes stable fingerprints over extraction requests and
// serves previously-computed results out of the tabular + blob stores.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/fetchframe/webextract-api/internal/models"
	"github.com/fetchframe/webextract-api/internal/repository"
)

// DefaultTTL is used when no TTL is configured.
const DefaultTTL = 15 * time.Minute

// FingerprintInput is the subset of an extraction request that determines
// cache identity. Per-caller context (API key id, webhook URL, idempotency
// key) must never be added here: cache entries are shared across callers.
type FingerprintInput struct {
	URL          string
	Fields       []string
	Schema       interface{}
	Instructions string
}

// Fingerprint canonicalises in and returns its SHA-256 hex digest. Field
// lists are deduplicated and sorted, instructions are trimmed, and the
// whole structure is stable-stringified with lexicographically sorted
// object keys so permuted-but-equal inputs collide.
func Fingerprint(in FingerprintInput) string {
	canonical := map[string]interface{}{
		"url":          in.URL,
		"fields":       canonicalFields(in.Fields),
		"schema":       in.Schema,
		"instructions": strings.TrimSpace(in.Instructions),
	}
	h := sha256.New()
	h.Write([]byte(stableStringify(canonical)))
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalFields(fields []string) interface{} {
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(fields))
	deduped := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		deduped = append(deduped, f)
	}
	sort.Strings(deduped)
	return deduped
}

// stableStringify renders v as JSON with every object's keys sorted
// lexicographically at every nesting level, so two structurally equal
// values with differently-ordered keys produce identical output.
func stableStringify(v interface{}) string {
	var b strings.Builder
	writeStable(&b, v)
	return b.String()
}

func writeStable(b *strings.Builder, v interface{}) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeStable(b, k)
			b.WriteByte(':')
			writeStable(b, val[k])
		}
		b.WriteByte('}')
	case []interface{}:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeStable(b, item)
		}
		b.WriteByte(']')
	case []string:
		items := make([]interface{}, len(val))
		for i, s := range val {
			items[i] = s
		}
		writeStable(b, items)
	default:
		// Scalars (string, number, bool) and json.RawMessage-decoded
		// values round-trip through encoding/json unchanged; nested maps
		// inside arbitrary interface{} values (e.g. a decoded schema
		// object) are not re-sorted here because encoding/json already
		// sorts map[string]interface{} keys when marshalling directly.
		encoded, err := json.Marshal(val)
		if err != nil {
			b.WriteString("null")
			return
		}
		b.Write(encoded)
	}
}

// Result is what the cache layer hands back on a hit.
type Result struct {
	Entry *models.CacheEntry
	AgeMs int64
}

// Service wraps the cache repository with the TTL policy and hit bookkeeping
// described in the request-processing pipeline.
type Service struct {
	repo   repository.CacheRepository
	ttl    time.Duration
	logger *slog.Logger
}

// NewService creates a cache Service. ttl <= 0 falls back to DefaultTTL.
func NewService(repo repository.CacheRepository, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{repo: repo, ttl: ttl, logger: logger}
}

// Lookup returns a non-nil Result only for an entry that exists and has not
// expired. It fires an asynchronous hit-count bump that never blocks or
// fails the caller's response.
func (s *Service) Lookup(ctx context.Context, fingerprint string) (*Result, error) {
	entry, err := s.repo.Get(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	now := time.Now().UTC()
	if entry.Expired(now) {
		return nil, nil
	}

	go func() {
		hitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.RecordHit(hitCtx, fingerprint, time.Now().UTC()); err != nil && s.logger != nil {
			s.logger.Warn("cache: failed to record hit", "fingerprint", fingerprint, "error", err)
		}
	}()

	return &Result{Entry: entry, AgeMs: now.Sub(entry.CreatedAt).Milliseconds()}, nil
}

// Store writes a fresh entry for fingerprint, preserving hit_count if a row
// already exists (the repository's upsert deliberately omits hit_count from
// its SET clause).
func (s *Service) Store(ctx context.Context, fingerprint, resultPath string, tokenUsage, contentChars int) error {
	now := time.Now().UTC()
	entry := &models.CacheEntry{
		Fingerprint:  fingerprint,
		ResultPath:   resultPath,
		TokenUsage:   tokenUsage,
		ContentChars: contentChars,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
		LastHitAt:    now,
	}
	return s.repo.Put(ctx, entry)
}

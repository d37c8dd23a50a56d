package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fetchframe/webextract-api/internal/apperr"
	"github.com/fetchframe/webextract-api/internal/crypto"
	"github.com/fetchframe/webextract-api/internal/models"
	"github.com/fetchframe/webextract-api/internal/validation"
	"github.com/fetchframe/webextract-api/internal/worker"
)

const maxIdempotencyKeyChars = 255

// idempotencyTTL is how long a stored response answers a replayed request,
// per spec §4.13.
const idempotencyTTL = 48 * time.Hour

// extract implements POST /extract: validate, charge one credit, then
// either run the extraction inline (sync) or queue it for the worker pool
// and return immediately (async). Raw handler because the synchronous
// response streams the stored result blob verbatim rather than a
// huma-typed struct, and the idempotency replay path needs the raw bytes
// of a previously stored response.
func (h *handlers) extract(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, apperr.Wrap(apperr.KindBadRequest, "failed to read request body", err))
		return
	}

	idempotencyKey := r.Header.Get("x-idempotency-key")
	if len(idempotencyKey) > maxIdempotencyKeyChars {
		writeError(w, r, apperr.New(apperr.KindBadRequest, "x-idempotency-key must not exceed 255 characters"))
		return
	}
	bodyHash := crypto.HashAPIKey(string(body))

	if idempotencyKey != "" && h.deps.Repos.Idempotency != nil {
		if h.replayIdempotent(w, r, idempotencyKey, bodyHash) {
			return
		}
	}

	var req validation.ExtractRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, apperr.Wrap(apperr.KindBadRequest, "malformed request body", err))
		return
	}
	if err := validation.ValidateExtractRequest(&req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validation.ResolveAndCheckSSRF(req.URL); err != nil {
		writeError(w, r, err)
		return
	}

	ownerKeyID := apiKeyIDFrom(r.Context())
	apiKeyPlain := apiKeyPlainFrom(r.Context())
	if apiKeyPlain != "" {
		result, err := h.deps.Authn.ConsumeAPIKey(r.Context(), apiKeyPlain, 1)
		if err != nil {
			writeError(w, r, apperr.Wrap(apperr.KindServerError, "failed to charge credits", err))
			return
		}
		if !result.OK {
			writeError(w, r, apperr.New(apperr.KindInsufficientCredit, "insufficient credits").WithSuggestion("top up credits and retry"))
			return
		}
	}

	j, err := buildJob(req, ownerKeyID, idempotencyKey)
	if err != nil {
		writeError(w, r, apperr.Wrap(apperr.KindServerError, "failed to encode job", err))
		return
	}
	if err := h.deps.Repos.Job.Create(r.Context(), j); err != nil {
		writeError(w, r, apperr.Wrap(apperr.KindServerError, "failed to create job", err))
		return
	}

	if req.Async {
		h.respondQueued(w, r, j, bodyHash, idempotencyKey)
		return
	}

	outcome := h.deps.Worker.RunNow(r.Context(), j)
	h.respondSync(w, r, j, outcome, bodyHash, idempotencyKey)
}

// replayIdempotent answers a request from a previously stored response when
// key matches a live, unexpired entry whose request body hash agrees with
// this request's. Returns true once it has fully handled the response
// (either a replay or a hash-mismatch error), false if the caller should
// proceed as a fresh request.
func (h *handlers) replayIdempotent(w http.ResponseWriter, r *http.Request, key, bodyHash string) bool {
	entry, err := h.deps.Repos.Idempotency.Get(r.Context(), key)
	if err != nil {
		writeError(w, r, apperr.Wrap(apperr.KindServerError, "failed to look up idempotency key", err))
		return true
	}
	if entry == nil || entry.ExpiresAt.Before(time.Now()) {
		return false
	}
	if entry.RequestBodyHash != bodyHash {
		writeError(w, r, apperr.New(apperr.KindBadRequest, "idempotency key already used with a different request body"))
		return true
	}
	if h.deps.Repos.Log != nil {
		_ = h.deps.Repos.Log.CreateEvent(r.Context(), &models.EventLog{
			ID:        ulid.Make().String(),
			EventType: "idempotency_hit",
			CreatedAt: time.Now(),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(entry.StatusCode)
	_, _ = w.Write([]byte(entry.ResponseBody))
	return true
}

// storeIdempotent records the response just served under key, if the
// caller supplied one, so a retry within idempotencyTTL replays it.
func (h *handlers) storeIdempotent(r *http.Request, key, bodyHash string, status int, responseBody []byte) {
	if key == "" || h.deps.Repos.Idempotency == nil {
		return
	}
	now := time.Now()
	entry := &models.IdempotencyEntry{
		Key:             key,
		RequestBodyHash: bodyHash,
		ResponseBody:    string(responseBody),
		StatusCode:      status,
		CreatedAt:       now,
		ExpiresAt:       now.Add(idempotencyTTL),
	}
	if err := h.deps.Repos.Idempotency.Store(r.Context(), entry); err != nil {
		h.deps.Logger.Warn("failed to store idempotency entry", "key", key, "error", err)
	}
}

func (h *handlers) respondQueued(w http.ResponseWriter, r *http.Request, j *models.Job, bodyHash, idempotencyKey string) {
	respBody := map[string]interface{}{
		"job_id":     j.ID,
		"status":     string(j.Status),
		"status_url": "/jobs/" + j.ID,
	}
	encoded, _ := json.Marshal(respBody)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write(encoded)
	h.storeIdempotent(r, idempotencyKey, bodyHash, http.StatusAccepted, encoded)
}

// respondSync answers a synchronous /extract call once RunNow has driven j
// to a terminal state: the stored result blob verbatim on success, or the
// classified apperr for a blocked or failed run.
func (h *handlers) respondSync(w http.ResponseWriter, r *http.Request, j *models.Job, outcome worker.RunOutcome, bodyHash, idempotencyKey string) {
	switch j.Status {
	case models.JobStatusCompleted:
		resultBody, err := h.deps.Artifacts.Get(r.Context(), j.ResultPath)
		if err != nil {
			writeError(w, r, apperr.Wrap(apperr.KindServerError, "failed to read result blob", err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if outcome.CacheHit {
			w.Header().Set("X-Cache-Hit", "true")
		} else {
			w.Header().Set("X-Cache-Hit", "false")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(resultBody)
		h.storeIdempotent(r, idempotencyKey, bodyHash, http.StatusOK, resultBody)
	case models.JobStatusBlocked:
		writeError(w, r, apperr.New(apperr.KindBlocked, "target page blocked extraction").WithSuggestion("retry with a fallback proxy enabled, if available"))
	default:
		msg := j.ErrorMsg
		if msg == "" {
			msg = "extraction failed"
		}
		writeError(w, r, apperr.New(apperr.KindServerError, msg).WithSuggestion("retry the request"))
	}
}

func buildJob(req validation.ExtractRequest, ownerKeyID, idempotencyKey string) (*models.Job, error) {
	fieldsJSON, err := json.Marshal(req.Fields)
	if err != nil {
		return nil, err
	}
	var schemaJSON []byte
	if req.Schema != nil {
		schemaJSON, err = json.Marshal(req.Schema)
		if err != nil {
			return nil, err
		}
	}
	optsJSON, err := json.Marshal(req.Options)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &models.Job{
		ID:             ulid.Make().String(),
		OwnerKeyID:     ownerKeyID,
		Status:         models.JobStatusQueued,
		URL:            req.URL,
		FieldsJSON:     string(fieldsJSON),
		SchemaJSON:     string(schemaJSON),
		Instructions:   req.Instructions,
		OptionsJSON:    string(optsJSON),
		WebhookURL:     req.WebhookURL,
		WebhookSecret:  req.WebhookSecret,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// batchRequest is the wire shape of POST /batch: a shared extraction
// recipe applied to every URL in the list. Always processed asynchronously
// per spec §6, one queued job per URL.
type batchRequest struct {
	URLs          []string                  `json:"urls"`
	Fields        []string                  `json:"fields,omitempty"`
	Schema        map[string]any            `json:"schema,omitempty"`
	Instructions  string                    `json:"instructions,omitempty"`
	WebhookURL    string                    `json:"webhook_url,omitempty"`
	WebhookSecret string                    `json:"webhook_secret,omitempty"`
	Options       validation.ExtractOptions `json:"options,omitempty"`
}

// batch implements POST /batch: charge len(urls) credits upfront so a
// batch either fully succeeds or fails without partial charge (spec
// §4.4), then create one queued job per URL for the worker pool to pick
// up by polling.
func (h *handlers) batch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.Wrap(apperr.KindBadRequest, "malformed request body", err))
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, r, apperr.New(apperr.KindBadRequest, "urls must be a non-empty array"))
		return
	}
	if len(req.URLs) > h.deps.Config.MaxBatchSize {
		writeError(w, r, apperr.New(apperr.KindBadRequest, "batch exceeds max_batch_size"))
		return
	}
	if len(req.Fields) == 0 && len(req.Schema) == 0 {
		writeError(w, r, apperr.New(apperr.KindBadRequest, "either fields or schema must be provided"))
		return
	}

	items := make([]validation.ExtractRequest, 0, len(req.URLs))
	for _, u := range req.URLs {
		item := validation.ExtractRequest{
			URL:           u,
			Fields:        req.Fields,
			Schema:        req.Schema,
			Instructions:  req.Instructions,
			Async:         true,
			WebhookURL:    req.WebhookURL,
			WebhookSecret: req.WebhookSecret,
			Options:       req.Options,
		}
		if err := validation.ValidateExtractRequest(&item); err != nil {
			writeError(w, r, err)
			return
		}
		if err := validation.ResolveAndCheckSSRF(item.URL); err != nil {
			writeError(w, r, err)
			return
		}
		items = append(items, item)
	}

	ownerKeyID := apiKeyIDFrom(r.Context())
	apiKeyPlain := apiKeyPlainFrom(r.Context())
	if apiKeyPlain != "" {
		result, err := h.deps.Authn.ConsumeAPIKey(r.Context(), apiKeyPlain, len(items))
		if err != nil {
			writeError(w, r, apperr.Wrap(apperr.KindServerError, "failed to charge credits", err))
			return
		}
		if !result.OK {
			writeError(w, r, apperr.New(apperr.KindInsufficientCredit, "insufficient credits for batch").WithSuggestion("reduce batch size or top up credits"))
			return
		}
	}

	batchID := ulid.Make().String()
	jobIDs := make([]string, 0, len(items))
	for _, item := range items {
		j, err := buildJob(item, ownerKeyID, "")
		if err != nil {
			writeError(w, r, apperr.Wrap(apperr.KindServerError, "failed to encode job", err))
			return
		}
		j.BatchID = batchID
		if err := h.deps.Repos.Job.Create(r.Context(), j); err != nil {
			writeError(w, r, apperr.Wrap(apperr.KindServerError, "failed to create job", err))
			return
		}
		jobIDs = append(jobIDs, j.ID)
	}

	if h.deps.Repos.Log != nil {
		_ = h.deps.Repos.Log.CreateEvent(r.Context(), &models.EventLog{
			ID:        ulid.Make().String(),
			EventType: "batch_created",
			CreatedAt: time.Now(),
		})
	}

	resp := map[string]interface{}{
		"job_ids":    jobIDs,
		"status_url": "/jobs?batch_id=" + batchID,
		"count":      len(jobIDs),
	}
	encoded, _ := json.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write(encoded)
}

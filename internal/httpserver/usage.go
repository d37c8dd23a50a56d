package httpserver

import (
	"context"
	"encoding/csv"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/fetchframe/webextract-api/internal/apperr"
	"github.com/fetchframe/webextract-api/internal/models"
)

// usageLookbackDays bounds both the daily series and the job rows scanned
// to build it. Usage is sourced from the job table rather than scrape_logs:
// scrape_logs carries no owner column, so it cannot answer an
// owner-scoped query without a join the repository layer does not expose.
const usageLookbackDays = 30

// usageMaxJobsScanned caps how many of the caller's most recent jobs are
// pulled into memory to build the summary and daily series.
const usageMaxJobsScanned = 2000

type usageDailyPoint struct {
	Date       string `json:"date"`
	Requests   int    `json:"requests"`
	TokensUsed int    `json:"tokens_used"`
}

// GetUsageInput is the empty request for GET /usage; the owning key comes
// from the caller's context.
type GetUsageInput struct{}

// GetUsageOutput carries the usage summary, 30-day daily series, and the
// most recent 50 jobs, per spec §6.
type GetUsageOutput struct {
	Body struct {
		Summary struct {
			TotalRequests int `json:"total_requests"`
			Completed     int `json:"completed"`
			Failed        int `json:"failed"`
			Blocked       int `json:"blocked"`
			TotalTokens   int `json:"total_tokens"`
		} `json:"summary"`
		Series []usageDailyPoint `json:"series"`
		Recent []jobResponse     `json:"recent"`
	}
}

func (h *handlers) getUsage(ctx context.Context, _ *GetUsageInput) (*GetUsageOutput, error) {
	jobs, err := h.loadUsageJobs(ctx)
	if err != nil {
		return nil, err
	}

	resp := &GetUsageOutput{}
	series := buildUsageSeries(jobs)
	resp.Body.Series = series

	for i, j := range jobs {
		resp.Body.Summary.TotalRequests++
		resp.Body.Summary.TotalTokens += j.TokenUsage
		switch j.Status {
		case models.JobStatusCompleted:
			resp.Body.Summary.Completed++
		case models.JobStatusFailed:
			resp.Body.Summary.Failed++
		case models.JobStatusBlocked:
			resp.Body.Summary.Blocked++
		}
		if i < 50 {
			resp.Body.Recent = append(resp.Body.Recent, toJobResponse(j))
		}
	}
	return resp, nil
}

// exportUsage answers GET /usage/export with the same lookback window as a
// CSV. Raw handler because huma has no built-in non-JSON body support.
func (h *handlers) exportUsage(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.loadUsageJobs(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="usage.csv"`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "url", "status", "token_usage", "latency_ms", "blocked", "created_at", "completed_at"})
	for _, j := range jobs {
		completed := ""
		if j.CompletedAt != nil {
			completed = j.CompletedAt.Format(time.RFC3339)
		}
		_ = cw.Write([]string{
			j.ID,
			j.URL,
			string(j.Status),
			strconv.Itoa(j.TokenUsage),
			strconv.Itoa(j.LatencyMs),
			strconv.FormatBool(j.Blocked),
			j.CreatedAt.Format(time.RFC3339),
			completed,
		})
	}
	cw.Flush()
}

func (h *handlers) loadUsageJobs(ctx context.Context) ([]*models.Job, error) {
	jobs, err := h.deps.Repos.Job.GetByOwnerKeyID(ctx, apiKeyIDFrom(ctx), usageMaxJobsScanned, 0)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindServerError, "failed to load usage", err)
	}
	cutoff := time.Now().AddDate(0, 0, -usageLookbackDays)
	filtered := jobs[:0]
	for _, j := range jobs {
		if j.CreatedAt.After(cutoff) {
			filtered = append(filtered, j)
		}
	}
	return filtered, nil
}

func buildUsageSeries(jobs []*models.Job) []usageDailyPoint {
	byDay := make(map[string]*usageDailyPoint)
	for _, j := range jobs {
		day := j.CreatedAt.Format("2006-01-02")
		p, ok := byDay[day]
		if !ok {
			p = &usageDailyPoint{Date: day}
			byDay[day] = p
		}
		p.Requests++
		p.TokensUsed += j.TokenUsage
	}
	series := make([]usageDailyPoint, 0, len(byDay))
	for _, p := range byDay {
		series = append(series, *p)
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Date < series[j].Date })
	return series
}

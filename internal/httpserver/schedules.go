package httpserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fetchframe/webextract-api/internal/apperr"
	"github.com/fetchframe/webextract-api/internal/models"
	"github.com/fetchframe/webextract-api/internal/schedule"
	"github.com/fetchframe/webextract-api/internal/validation"
)

// scheduleResponse is the wire shape of a schedule in every JSON response.
type scheduleResponse struct {
	ID            string  `json:"id"`
	CronExpr      string  `json:"cron_expr"`
	URL           string  `json:"url"`
	Instructions  string  `json:"instructions,omitempty"`
	WebhookURL    string  `json:"webhook_url,omitempty"`
	IsActive      bool    `json:"is_active"`
	NextRunAt     string  `json:"next_run_at"`
	LastRunAt     *string `json:"last_run_at,omitempty"`
}

func toScheduleResponse(s *models.Schedule) scheduleResponse {
	resp := scheduleResponse{
		ID:           s.ID,
		CronExpr:     s.CronExpr,
		URL:          s.URL,
		Instructions: s.Instructions,
		WebhookURL:   s.WebhookURL,
		IsActive:     s.IsActive,
		NextRunAt:    s.NextRunAt.Format(time.RFC3339),
	}
	if s.LastRunAt != nil {
		v := s.LastRunAt.Format(time.RFC3339)
		resp.LastRunAt = &v
	}
	return resp
}

// ListSchedulesInput is the empty request for GET /schedules; the owning
// key is taken from the caller's context.
type ListSchedulesInput struct{}

// ListSchedulesOutput carries the `{data:[schedule]}` envelope.
type ListSchedulesOutput struct {
	Body struct {
		Data []scheduleResponse `json:"data"`
	}
}

func (h *handlers) listSchedules(ctx context.Context, _ *ListSchedulesInput) (*ListSchedulesOutput, error) {
	schedules, err := h.deps.Repos.Schedule.GetByOwnerKeyID(ctx, apiKeyIDFrom(ctx))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindServerError, "failed to list schedules", err)
	}
	resp := &ListSchedulesOutput{}
	resp.Body.Data = make([]scheduleResponse, 0, len(schedules))
	for _, s := range schedules {
		resp.Body.Data = append(resp.Body.Data, toScheduleResponse(s))
	}
	return resp, nil
}

// CreateScheduleInput is the request body for POST /schedules.
type CreateScheduleInput struct {
	Body struct {
		CronExpr      string                    `json:"cron_expr"`
		URL           string                    `json:"url"`
		Fields        []string                  `json:"fields,omitempty"`
		Schema        map[string]any            `json:"schema,omitempty"`
		Instructions  string                    `json:"instructions,omitempty"`
		WebhookURL    string                    `json:"webhook_url,omitempty"`
		WebhookSecret string                    `json:"webhook_secret,omitempty"`
		Options       validation.ExtractOptions `json:"options,omitempty"`
	}
}

// CreateScheduleOutput reports the new schedule's id per spec §6.
type CreateScheduleOutput struct {
	Status int `header:"Status-Code"`
	Body   struct {
		ScheduleID string `json:"schedule_id"`
		Status     string `json:"status"`
	}
}

func (h *handlers) createSchedule(ctx context.Context, input *CreateScheduleInput) (*CreateScheduleOutput, error) {
	expr, err := schedule.Parse(input.Body.CronExpr)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindBadRequest, "invalid cron_expr", err)
	}
	extractReq := validation.ExtractRequest{
		URL:          input.Body.URL,
		Fields:       input.Body.Fields,
		Schema:       input.Body.Schema,
		Instructions: input.Body.Instructions,
		Options:      input.Body.Options,
	}
	if err := validation.ValidateExtractRequest(&extractReq); err != nil {
		return nil, err
	}
	if err := validation.ResolveAndCheckSSRF(extractReq.URL); err != nil {
		return nil, err
	}

	fieldsJSON, _ := json.Marshal(input.Body.Fields)
	var schemaJSON []byte
	if input.Body.Schema != nil {
		schemaJSON, _ = json.Marshal(input.Body.Schema)
	}
	optsJSON, _ := json.Marshal(input.Body.Options)

	now := time.Now()
	s := &models.Schedule{
		ID:            ulid.Make().String(),
		OwnerKeyID:    apiKeyIDFrom(ctx),
		CronExpr:      input.Body.CronExpr,
		URL:           extractReq.URL,
		FieldsJSON:    string(fieldsJSON),
		SchemaJSON:    string(schemaJSON),
		Instructions:  input.Body.Instructions,
		OptionsJSON:   string(optsJSON),
		WebhookURL:    input.Body.WebhookURL,
		WebhookSecret: input.Body.WebhookSecret,
		IsActive:      true,
		NextRunAt:     expr.Next(now),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := h.deps.Repos.Schedule.Create(ctx, s); err != nil {
		return nil, apperr.Wrap(apperr.KindServerError, "failed to create schedule", err)
	}

	resp := &CreateScheduleOutput{Status: 201}
	resp.Body.ScheduleID = s.ID
	resp.Body.Status = "active"
	return resp, nil
}

// UpdateScheduleInput allows updating any subset of a schedule's fields.
type UpdateScheduleInput struct {
	ID   string `path:"id"`
	Body struct {
		CronExpr      *string                    `json:"cron_expr,omitempty"`
		URL           *string                    `json:"url,omitempty"`
		Fields        []string                   `json:"fields,omitempty"`
		Schema        map[string]any             `json:"schema,omitempty"`
		Instructions  *string                    `json:"instructions,omitempty"`
		WebhookURL    *string                    `json:"webhook_url,omitempty"`
		WebhookSecret *string                    `json:"webhook_secret,omitempty"`
		Options       *validation.ExtractOptions `json:"options,omitempty"`
		IsActive      *bool                      `json:"is_active,omitempty"`
	}
}

// UpdateScheduleOutput is the empty 200 response.
type UpdateScheduleOutput struct{}

func (h *handlers) updateSchedule(ctx context.Context, input *UpdateScheduleInput) (*UpdateScheduleOutput, error) {
	s, err := h.deps.Repos.Schedule.GetByID(ctx, input.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindServerError, "failed to load schedule", err)
	}
	if s == nil || (!h.deps.Config.AnonymousMode && s.OwnerKeyID != apiKeyIDFrom(ctx)) {
		return nil, apperr.New(apperr.KindNotFound, "schedule not found")
	}

	recompute := false
	if input.Body.CronExpr != nil {
		if _, err := schedule.Parse(*input.Body.CronExpr); err != nil {
			return nil, apperr.Wrap(apperr.KindBadRequest, "invalid cron_expr", err)
		}
		s.CronExpr = *input.Body.CronExpr
		recompute = true
	}
	if input.Body.URL != nil {
		s.URL = *input.Body.URL
	}
	if input.Body.Fields != nil {
		b, _ := json.Marshal(input.Body.Fields)
		s.FieldsJSON = string(b)
	}
	if input.Body.Schema != nil {
		b, _ := json.Marshal(input.Body.Schema)
		s.SchemaJSON = string(b)
	}
	if input.Body.Instructions != nil {
		s.Instructions = *input.Body.Instructions
	}
	if input.Body.WebhookURL != nil {
		s.WebhookURL = *input.Body.WebhookURL
	}
	if input.Body.WebhookSecret != nil {
		s.WebhookSecret = *input.Body.WebhookSecret
	}
	if input.Body.Options != nil {
		b, _ := json.Marshal(input.Body.Options)
		s.OptionsJSON = string(b)
	}
	if input.Body.IsActive != nil {
		s.IsActive = *input.Body.IsActive
	}

	if recompute {
		expr, _ := schedule.Parse(s.CronExpr)
		s.NextRunAt = expr.Next(time.Now())
	}
	s.UpdatedAt = time.Now()

	if err := h.deps.Repos.Schedule.Update(ctx, s); err != nil {
		return nil, apperr.Wrap(apperr.KindServerError, "failed to update schedule", err)
	}
	return &UpdateScheduleOutput{}, nil
}

// DeleteScheduleInput identifies the schedule to remove.
type DeleteScheduleInput struct {
	ID string `path:"id"`
}

// DeleteScheduleOutput is the empty 200 response.
type DeleteScheduleOutput struct{}

func (h *handlers) deleteSchedule(ctx context.Context, input *DeleteScheduleInput) (*DeleteScheduleOutput, error) {
	s, err := h.deps.Repos.Schedule.GetByID(ctx, input.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindServerError, "failed to load schedule", err)
	}
	if s == nil || (!h.deps.Config.AnonymousMode && s.OwnerKeyID != apiKeyIDFrom(ctx)) {
		return nil, apperr.New(apperr.KindNotFound, "schedule not found")
	}
	if err := h.deps.Repos.Schedule.Delete(ctx, input.ID); err != nil {
		return nil, apperr.Wrap(apperr.KindServerError, "failed to delete schedule", err)
	}
	return &DeleteScheduleOutput{}, nil
}

package httpserver

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/fetchframe/webextract-api/internal/version"
)

// newHumaConfig builds the shared Huma configuration: API metadata, the
// x-api-key header security scheme, and the tag set shown in the generated
// document.
func newHumaConfig(baseURL string) huma.Config {
	cfg := huma.DefaultConfig("webextract API", version.Get().Short())
	cfg.Info.Description = "AI-assisted web extraction: render a URL, distill its content, and return structured JSON synchronously or via a webhook-notified job."
	cfg.CreateHooks = nil

	if baseURL != "" {
		cfg.Servers = []*huma.Server{{URL: baseURL, Description: "API Server"}}
	}

	cfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		securityScheme: {
			Type:        "apiKey",
			In:          "header",
			Name:        "x-api-key",
			Description: "API key issued out of band. Pass it as the x-api-key header.",
		},
	}

	cfg.Tags = []*huma.Tag{
		{Name: "Health", Description: "Liveness and service metadata"},
		{Name: "Jobs", Description: "Asynchronous job status and results"},
		{Name: "Schedules", Description: "Recurring extraction schedules"},
		{Name: "Usage", Description: "Usage summary and export"},
		{Name: "Webhooks", Description: "Outbound webhook delivery testing"},
	}

	return cfg
}

const securityScheme = "apiKeyAuth"

package llm

// modelKeyAttempt is one (model, key) combination to try, in order.
type modelKeyAttempt struct {
	model  string
	apiKey string
}

// rotation expands in into the ordered list of (model, key) combinations to
// try: the primary pair first, then every fallback model against the
// primary key, then every fallback key against the primary model. Providers
// with no fallbacks configured get a single-element list.
func rotation(in ExtractInput) []modelKeyAttempt {
	attempts := []modelKeyAttempt{{model: in.Model, apiKey: in.APIKey}}
	for _, m := range in.FallbackModels {
		attempts = append(attempts, modelKeyAttempt{model: m, apiKey: in.APIKey})
	}
	for _, k := range in.FallbackKeys {
		attempts = append(attempts, modelKeyAttempt{model: in.Model, apiKey: k})
	}
	return attempts
}

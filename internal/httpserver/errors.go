package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/fetchframe/webextract-api/internal/apperr"
)

// writeError serialises err as the standard error envelope, using the
// request id already stashed in context by the request-id middleware.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.As(err)
	envelope := apperr.NewEnvelope(appErr, requestIDFrom(r.Context()))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.GetStatus())
	_ = json.NewEncoder(w).Encode(envelope)
}

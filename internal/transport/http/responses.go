package http

import (
	"encoding/json"
	"net/http"

	apperrors "walias/pkg/errors"
)

// writeJSON serializes v with the standard headers. Encoding failures are
// unrecoverable at this point; the status line is already gone.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a typed error onto its status code and the `{reason}`
// envelope. Untyped errors collapse to a generic 500 so internals never
// leak.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.ToHTTPStatus(apperrors.CodeOf(err)), map[string]string{
		"reason": apperrors.Reason(err),
	})
}

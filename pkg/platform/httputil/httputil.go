// Package httputil holds small helpers shared by HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "vicinity/pkg/domain-errors"
)

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteError maps a domain error to an HTTP response. Internal errors omit
// the description so implementation details never leak to clients.
func WriteError(w http.ResponseWriter, err error) {
	status := dErrors.ToHTTPStatus(err)
	code := dErrors.CodeOf(err)

	body := errorBody{Error: string(code)}
	var domainErr *dErrors.Error
	if code != dErrors.CodeInternal && errors.As(err, &domainErr) {
		body.Description = domainErr.Message
	}

	WriteJSON(w, status, body)
}

// WriteJSON serializes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

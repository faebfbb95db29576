// Package shared holds the response helpers every handler uses.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	"ballotgate/pkg/domainerrors"
)

// ErrorBody is the JSON error envelope. Every rejection names the failed
// precondition in the code and a human reason in the description.
type ErrorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a coded domain error into its HTTP response.
func WriteError(w http.ResponseWriter, err error) {
	code := domainerrors.CodeOf(err)
	body := ErrorBody{Error: string(code)}
	var derr *domainerrors.Error
	if errors.As(err, &derr) {
		body.Description = derr.Message
	}
	WriteJSON(w, domainerrors.ToHTTPStatus(code), body)
}

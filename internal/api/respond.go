package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/flowforge/flowforge/pkg/errors"
)

type errorBody struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// writeJSON renders v with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses. The message is
// the structured error text; stacks never reach the response.
func writeError(w http.ResponseWriter, err error) {
	errType := errors.TypeOf(err)

	status := http.StatusInternalServerError
	switch errType {
	case errors.ErrorTypeNotFound:
		status = http.StatusNotFound
	case errors.ErrorTypeValidation, errors.ErrorTypeConfig, errors.ErrorTypeQuery:
		status = http.StatusBadRequest
	case errors.ErrorTypeAuthentication:
		status = http.StatusUnauthorized
	case errors.ErrorTypeConflict:
		status = http.StatusConflict
	case errors.ErrorTypeRateLimit:
		status = http.StatusTooManyRequests
	case errors.ErrorTypeTimeout:
		status = http.StatusGatewayTimeout
	}

	writeJSON(w, status, errorBody{Error: err.Error(), Type: string(errType)})
}

// decodeBody parses a JSON request body into v
func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "invalid request body")
	}
	return nil
}

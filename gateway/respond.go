package gateway

import (
	"encoding/json"
	"net/http"

	"ticketpay/apperr"
)

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError renders any error as the uniform {message, code, data?} body.
// Non-apperr errors collapse to a generic 500 so internals never leak.
func writeError(w http.ResponseWriter, err error) {
	appErr := apperr.From(err)
	writeJSON(w, appErr.Status, errorBody{
		Message: appErr.Message,
		Code:    appErr.Code,
		Data:    appErr.Data,
	})
}

func decodeBody(r *http.Request, into any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := decoder.Decode(into); err != nil {
		return apperr.BadRequest("Invalid or malformed request").WithCause(err)
	}
	return nil
}

package kit

import (
	"encoding/json"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the common error envelope. code is a stable
// machine-readable identifier; msg is for humans.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, msg string, details any) {
	WriteJSON(w, status, ErrorResponse{
		Error:     msg,
		Code:      code,
		Details:   details,
		RequestID: chimw.GetReqID(r.Context()),
	})
}

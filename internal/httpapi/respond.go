package httpapi

import (
	"encoding/json"
	"net/http"
)

type errorResponse struct {
	Error        string `json:"error"`
	Message      string `json:"message"`
	IsTerminated *bool  `json:"is_terminated,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

package httpx

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes v as JSON with the given status code and no-cache headers.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// NoCache marks a response as not cacheable. Token responses must carry it.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// WriteDetail writes the {"detail": msg} error body the swellwatch backend
// uses for every non-validation error.
func WriteDetail(w http.ResponseWriter, code int, msg string) {
	WriteJSON(w, code, map[string]string{"detail": msg})
}

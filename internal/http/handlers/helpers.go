// Package handlers exposes the scheduling API over HTTP: inbound active
// schedules, channel event webhooks and operator endpoints.
package handlers

import (
	"encoding/json"
	"net/http"
)

const maxEventBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

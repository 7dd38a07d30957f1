package handler

import (
	"encoding/json"
	"net/http"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OTPRequestEnvelope answers code issuance calls.
type OTPRequestEnvelope struct {
	OK   bool `json:"ok"`
	Sent bool `json:"sent"`
}

// OKEnvelope answers calls that only report success.
type OKEnvelope struct {
	OK bool `json:"ok"`
}

// DeepLinkEnvelope carries a bot deep link.
type DeepLinkEnvelope struct {
	DeepLink string `json:"deepLink"`
}

// LinkRedeemEnvelope carries the user a redeemed link token belongs to.
type LinkRedeemEnvelope struct {
	UserID string `json:"userId"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// decode reads a JSON body into v, rejecting unknown shapes and bodies over 64 KiB.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

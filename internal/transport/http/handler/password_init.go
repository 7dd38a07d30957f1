package handler

import (
	"net/http"

	"github.com/go-trustgate/internal/application/auth"
	"github.com/go-trustgate/internal/pkg/validate"
	"github.com/go-trustgate/internal/transport/http/middleware"
)

// PasswordInitHandler handles the password step of the two-step login.
type PasswordInitHandler struct {
	svc auth.Service
}

func NewPasswordInitHandler(svc auth.Service) *PasswordInitHandler {
	return &PasswordInitHandler{svc: svc}
}

func (h *PasswordInitHandler) PasswordInit(w http.ResponseWriter, r *http.Request) {
	var req auth.PasswordInitRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, validate.Message(err))
		return
	}
	req.IP = middleware.ClientIP(r)
	req.UserAgent = r.UserAgent()

	res, err := h.svc.PasswordInit(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OTPRequestEnvelope{OK: res.OK, Sent: res.Sent})
}

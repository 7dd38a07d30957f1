package handler

import (
	"net/http"

	"github.com/go-trustgate/internal/application/otp"
	"github.com/go-trustgate/internal/pkg/validate"
	"github.com/go-trustgate/internal/transport/http/middleware"
)

// OTPHandler handles one-time code issuance and verification.
type OTPHandler struct {
	svc otp.Service
}

func NewOTPHandler(svc otp.Service) *OTPHandler {
	return &OTPHandler{svc: svc}
}

func (h *OTPHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req otp.RequestCodeInput
	if !decode(w, r, &req) {
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, validate.Message(err))
		return
	}
	req.IP = middleware.ClientIP(r)
	req.UserAgent = r.UserAgent()

	res, err := h.svc.RequestCode(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OTPRequestEnvelope{OK: true, Sent: res.Sent})
}

func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req otp.VerifyCodeInput
	if !decode(w, r, &req) {
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, validate.Message(err))
		return
	}
	if err := h.svc.VerifyCode(r.Context(), req); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKEnvelope{OK: true})
}

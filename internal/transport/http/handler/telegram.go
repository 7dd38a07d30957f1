package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-trustgate/internal/domain"
	"github.com/go-trustgate/internal/transport/http/middleware"
)

// LinkService is implemented by linktoken.Service.
type LinkService interface {
	StartLink(ctx context.Context, userID string) (string, error)
	Redeem(token string) (string, error)
}

type redeemRequest struct {
	Token string `json:"token" validate:"required"`
}

// TelegramHandler issues and redeems account-link deep links.
type TelegramHandler struct {
	svc LinkService
}

func NewTelegramHandler(svc LinkService) *TelegramHandler {
	return &TelegramHandler{svc: svc}
}

func (h *TelegramHandler) Start(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	link, err := h.svc.StartLink(r.Context(), claims.UserID)
	if errors.Is(err, domain.ErrConfiguration) {
		writeError(w, http.StatusInternalServerError, "telegram is not configured")
		return
	}
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeepLinkEnvelope{DeepLink: link})
}

func (h *TelegramHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !decode(w, r, &req) {
		return
	}
	userID, err := h.svc.Redeem(req.Token)
	if err != nil {
		if errors.Is(err, domain.ErrConfiguration) {
			writeError(w, http.StatusInternalServerError, "telegram is not configured")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid token")
		return
	}
	writeJSON(w, http.StatusOK, LinkRedeemEnvelope{UserID: userID})
}

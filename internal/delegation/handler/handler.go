package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"spendwise/internal/delegation/models"
	"spendwise/internal/delegation/service"
	id "spendwise/pkg/domain"
	dErrors "spendwise/pkg/domain-errors"
	"spendwise/pkg/platform/httputil"
	"spendwise/pkg/requestcontext"
)

type Service interface {
	Grant(ctx context.Context, user id.UserID, req service.GrantRequest) (*models.Allowance, error)
	Revoke(ctx context.Context, user, delegate id.UserID) error
	List(ctx context.Context, user id.UserID) ([]models.Allowance, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/users/{userID}/delegates", h.HandleList)
	r.Post("/v1/users/{userID}/delegates", h.HandleGrant)
	r.Delete("/v1/users/{userID}/delegates/{delegateID}", h.HandleRevoke)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, ok := parseUser(w, chi.URLParam(r, "userID"))
	if !ok {
		return
	}
	list, err := h.service.List(r.Context(), user)
	if err != nil {
		h.fail(w, r, "list_delegates", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) HandleGrant(w http.ResponseWriter, r *http.Request) {
	user, ok := parseUser(w, chi.URLParam(r, "userID"))
	if !ok {
		return
	}
	var req service.GrantRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	a, err := h.service.Grant(r.Context(), user, req)
	if err != nil {
		h.fail(w, r, "grant_delegate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, a)
}

func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	user, ok := parseUser(w, chi.URLParam(r, "userID"))
	if !ok {
		return
	}
	delegate, ok := parseUser(w, chi.URLParam(r, "delegateID"))
	if !ok {
		return
	}
	if err := h.service.Revoke(r.Context(), user, delegate); err != nil {
		h.fail(w, r, "revoke_delegate", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseUser(w http.ResponseWriter, raw string) (id.UserID, bool) {
	user, err := id.ParseUserID(raw)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid user id"))
		return id.UserID{}, false
	}
	return user, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.WarnContext(r.Context(), "delegation request failed",
		"op", op,
		"request_id", requestcontext.RequestID(r.Context()),
		"error", err,
	)
	httputil.WriteError(w, err)
}

// Package admin serves operator routes: fee configuration, yield adapters
// and the recent event feed. Callers mount it behind the admin token check.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	adaptermodels "spendwise/internal/adapter/models"
	"spendwise/internal/adapter/venues"
	feemodels "spendwise/internal/fee/models"
	id "spendwise/pkg/domain"
	dErrors "spendwise/pkg/domain-errors"
	"spendwise/pkg/platform/audit"
	"spendwise/pkg/platform/httputil"
	"spendwise/pkg/requestcontext"
)

const defaultRecentLimit = 100

type FeeService interface {
	Config() feemodels.Config
	UpdateFeeRate(ctx context.Context, kind feemodels.Kind, bps uint32) error
	RegisterPolicy(ctx context.Context, spec feemodels.PolicySpec) error
	SelectPolicy(ctx context.Context, policyID string) error
	Policies() []feemodels.PolicySpec
	Collected(ctx context.Context) (feemodels.Collected, error)
}

type AdapterRegistry interface {
	Register(ctx context.Context, d adaptermodels.Descriptor, adapter adaptermodels.ProtocolAdapter) (adaptermodels.Descriptor, error)
	Deactivate(ctx context.Context, adapterID id.AdapterID) error
	Reactivate(ctx context.Context, adapterID id.AdapterID) error
	List() []adaptermodels.Status
	Probe(ctx context.Context) []adaptermodels.ProbeResult
}

type RecentEvents interface {
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

type Handler struct {
	fees     FeeService
	adapters AdapterRegistry
	events   RecentEvents
	asset    string
	logger   *slog.Logger
}

// New builds the operator handler. asset is the token in-process vaults accept.
func New(fees FeeService, adapters AdapterRegistry, events RecentEvents, asset string, logger *slog.Logger) *Handler {
	return &Handler{fees: fees, adapters: adapters, events: events, asset: asset, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/fees", h.HandleGetFees)
	r.Put("/admin/fees/{kind}", h.HandleUpdateFeeRate)
	r.Get("/admin/fees/collected", h.HandleCollected)
	r.Get("/admin/fees/policies", h.HandleListPolicies)
	r.Post("/admin/fees/policies", h.HandleRegisterPolicy)
	r.Post("/admin/fees/policies/{policyID}/select", h.HandleSelectPolicy)

	r.Get("/admin/adapters", h.HandleListAdapters)
	r.Post("/admin/adapters", h.HandleRegisterAdapter)
	r.Post("/admin/adapters/probe", h.HandleProbe)
	r.Post("/admin/adapters/{adapterID}/deactivate", h.HandleDeactivateAdapter)
	r.Post("/admin/adapters/{adapterID}/reactivate", h.HandleReactivateAdapter)

	r.Get("/admin/events", h.HandleRecentEvents)
}

func (h *Handler) HandleGetFees(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.fees.Config())
}

func (h *Handler) HandleUpdateFeeRate(w http.ResponseWriter, r *http.Request) {
	kind, err := feemodels.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req UpdateFeeRateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.fees.UpdateFeeRate(r.Context(), kind, req.BPS); err != nil {
		h.fail(w, r, "update_fee_rate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.fees.Config())
}

func (h *Handler) HandleCollected(w http.ResponseWriter, r *http.Request) {
	collected, err := h.fees.Collected(r.Context())
	if err != nil {
		h.fail(w, r, "collected_fees", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CollectedResponse{Collected: collected, Total: collected.Total()})
}

func (h *Handler) HandleListPolicies(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.fees.Policies())
}

func (h *Handler) HandleRegisterPolicy(w http.ResponseWriter, r *http.Request) {
	var spec feemodels.PolicySpec
	if err := httputil.DecodeJSON(r, &spec); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.fees.RegisterPolicy(r.Context(), spec); err != nil {
		h.fail(w, r, "register_fee_policy", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) HandleSelectPolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.fees.SelectPolicy(r.Context(), chi.URLParam(r, "policyID")); err != nil {
		h.fail(w, r, "select_fee_policy", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.fees.Config())
}

func (h *Handler) HandleListAdapters(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.adapters.List())
}

func (h *Handler) HandleRegisterAdapter(w http.ResponseWriter, r *http.Request) {
	var req RegisterAdapterRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	impl, err := venues.Build(req.Spec, h.asset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	d := adaptermodels.Descriptor{
		Name:        req.Name,
		Kind:        req.Kind,
		ContractRef: strings.TrimSpace(req.ContractRef),
	}
	if req.ID != nil {
		d.ID = *req.ID
	}
	d, err = h.adapters.Register(r.Context(), d, impl)
	if err != nil {
		h.fail(w, r, "register_adapter", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, d)
}

func (h *Handler) HandleProbe(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.adapters.Probe(r.Context()))
}

func (h *Handler) HandleDeactivateAdapter(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, "deactivate_adapter", h.adapters.Deactivate)
}

func (h *Handler) HandleReactivateAdapter(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, "reactivate_adapter", h.adapters.Reactivate)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, id.AdapterID) error) {
	adapterID, err := id.ParseAdapterID(chi.URLParam(r, "adapterID"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid adapter id"))
		return
	}
	if err := fn(r.Context(), adapterID); err != nil {
		h.fail(w, r, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	events, err := h.events.ListRecent(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "recent_events", dErrors.Wrap(err, dErrors.CodeInternal, "failed to list events"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEventResponses(events))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	h.logger.WarnContext(ctx, "admin request failed",
		"op", op,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}

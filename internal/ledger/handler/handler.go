// Package handler exposes the account ledger over HTTP. Every route acts on
// the user named in the path; the ledger decides whether the caller may.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	feemodels "spendwise/internal/fee/models"
	"spendwise/internal/ledger/models"
	profilemodels "spendwise/internal/profile/models"
	id "spendwise/pkg/domain"
	dErrors "spendwise/pkg/domain-errors"
	"spendwise/pkg/platform/audit"
	"spendwise/pkg/platform/httputil"
	"spendwise/pkg/requestcontext"
)

type Service interface {
	InitializeUser(ctx context.Context, user id.UserID) error
	EnableAccount(ctx context.Context, user id.UserID, t profilemodels.AccountType) error
	CreateBucket(ctx context.Context, user id.UserID, name string, monthlyLimit int64) (*models.Bucket, error)
	DepositToBucket(ctx context.Context, user id.UserID, name string, amount int64, token string) (feemodels.Quote, error)
	SpendFromBucket(ctx context.Context, user id.UserID, name string, amount int64) error
	DeactivateBucket(ctx context.Context, user id.UserID, name string) error
	DepositToPosition(ctx context.Context, user id.UserID, adapterID id.AdapterID, amount int64) (*models.Position, error)
	WithdrawFromPosition(ctx context.Context, user id.UserID, positionID id.PositionID, shares int64) (int64, error)
	HarvestPosition(ctx context.Context, user id.UserID, positionID id.PositionID) (int64, error)
	RefreshValuation(ctx context.Context, user id.UserID, positionID id.PositionID) (*models.Position, error)
	CreateGoal(ctx context.Context, user id.UserID, name string, target int64, targetDate *time.Time, adapterID *id.AdapterID) (*models.Goal, error)
	ContributeToGoal(ctx context.Context, user id.UserID, goalID id.GoalID, amount int64) (*models.Goal, error)
	WithdrawFromGoal(ctx context.Context, user id.UserID, goalID id.GoalID, amount int64) (int64, error)
	Transfer(ctx context.Context, user id.UserID, from, to models.Endpoint, amount int64) error
	WithdrawLiquid(ctx context.Context, user id.UserID, amount int64, token string) error

	Profile(ctx context.Context, user id.UserID) (*profilemodels.Profile, error)
	Bucket(ctx context.Context, user id.UserID, name string) (*models.Bucket, error)
	ListBuckets(ctx context.Context, user id.UserID) ([]models.Bucket, error)
	Position(ctx context.Context, user id.UserID, positionID id.PositionID) (*models.Position, error)
	ListPositions(ctx context.Context, user id.UserID) ([]models.Position, error)
	Goal(ctx context.Context, user id.UserID, goalID id.GoalID) (*models.Goal, error)
	ListGoals(ctx context.Context, user id.UserID) ([]models.Goal, error)
	Snapshot(ctx context.Context, user id.UserID) (*models.Snapshot, error)
}

// Events lists a user's account records in application order.
type Events interface {
	ListByUser(ctx context.Context, userID id.UserID) ([]audit.Event, error)
}

type Handler struct {
	service Service
	events  Events
	logger  *slog.Logger
}

func New(service Service, events Events, logger *slog.Logger) *Handler {
	return &Handler{service: service, events: events, logger: logger}
}

const userPrefix = "/v1/users/{userID}"

// Register mounts the ledger routes. Callers wrap r with authentication.
func (h *Handler) Register(r chi.Router) {
	r.Post(userPrefix+"/initialize", h.HandleInitialize)
	r.Post(userPrefix+"/accounts/{accountType}/enable", h.HandleEnableAccount)
	r.Get(userPrefix+"/profile", h.HandleProfile)
	r.Get(userPrefix+"/snapshot", h.HandleSnapshot)
	r.Get(userPrefix+"/events", h.HandleEvents)

	r.Get(userPrefix+"/buckets", h.HandleListBuckets)
	r.Post(userPrefix+"/buckets", h.HandleCreateBucket)
	r.Get(userPrefix+"/buckets/{name}", h.HandleGetBucket)
	r.Post(userPrefix+"/buckets/{name}/deposit", h.HandleDepositToBucket)
	r.Post(userPrefix+"/buckets/{name}/spend", h.HandleSpend)
	r.Post(userPrefix+"/buckets/{name}/deactivate", h.HandleDeactivateBucket)

	r.Get(userPrefix+"/positions", h.HandleListPositions)
	r.Post(userPrefix+"/positions", h.HandleDepositToPosition)
	r.Get(userPrefix+"/positions/{positionID}", h.HandleGetPosition)
	r.Post(userPrefix+"/positions/{positionID}/withdraw", h.HandleWithdrawFromPosition)
	r.Post(userPrefix+"/positions/{positionID}/harvest", h.HandleHarvest)
	r.Post(userPrefix+"/positions/{positionID}/refresh", h.HandleRefresh)

	r.Get(userPrefix+"/goals", h.HandleListGoals)
	r.Post(userPrefix+"/goals", h.HandleCreateGoal)
	r.Get(userPrefix+"/goals/{goalID}", h.HandleGetGoal)
	r.Post(userPrefix+"/goals/{goalID}/contribute", h.HandleContribute)
	r.Post(userPrefix+"/goals/{goalID}/withdraw", h.HandleWithdrawFromGoal)

	r.Post(userPrefix+"/transfers", h.HandleTransfer)
	r.Post(userPrefix+"/liquid/withdraw", h.HandleWithdrawLiquid)
}

type amountRequest struct {
	Amount int64  `json:"amount"`
	Token  string `json:"token,omitempty"`
}

type createBucketRequest struct {
	Name         string `json:"name"`
	MonthlyLimit int64  `json:"monthly_limit"`
}

type depositPositionRequest struct {
	AdapterID id.AdapterID `json:"adapter_id"`
	Amount    int64        `json:"amount"`
}

type sharesRequest struct {
	Shares int64 `json:"shares"`
}

type createGoalRequest struct {
	Name       string        `json:"name"`
	Target     int64         `json:"target"`
	TargetDate *time.Time    `json:"target_date,omitempty"`
	AdapterID  *id.AdapterID `json:"adapter_id,omitempty"`
}

type transferRequest struct {
	From   models.Endpoint `json:"from"`
	To     models.Endpoint `json:"to"`
	Amount int64           `json:"amount"`
}

type creditedResponse struct {
	Credited int64 `json:"credited"`
}

func (h *Handler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	h.respond(w, r, "initialize", h.service.InitializeUser(r.Context(), user), http.StatusNoContent, nil)
}

func (h *Handler) HandleEnableAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	t, err := profilemodels.ParseAccountType(chi.URLParam(r, "accountType"))
	if err != nil {
		httputil.WriteError(w, id.KindInvalidOperation.Wrap(err, "unknown account type"))
		return
	}
	h.respond(w, r, "enable_account", h.service.EnableAccount(r.Context(), user, t), http.StatusNoContent, nil)
}

func (h *Handler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	p, err := h.service.Profile(r.Context(), user)
	h.respond(w, r, "profile", err, http.StatusOK, p)
}

func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	snap, err := h.service.Snapshot(r.Context(), user)
	h.respond(w, r, "snapshot", err, http.StatusOK, snap)
}

// HandleEvents serves the user's own records. Authorization mirrors the
// ledger: the user or an operator.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if requestcontext.UserID(ctx) != user && !requestcontext.IsOperator(ctx) {
		httputil.WriteError(w, id.KindUnauthorized.Err("caller may not read these events"))
		return
	}
	events, err := h.events.ListByUser(ctx, user)
	if err != nil {
		err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to list events")
	}
	h.respond(w, r, "events", err, http.StatusOK, toEventResponses(events))
}

func (h *Handler) HandleListBuckets(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	buckets, err := h.service.ListBuckets(r.Context(), user)
	h.respond(w, r, "list_buckets", err, http.StatusOK, buckets)
}

func (h *Handler) HandleCreateBucket(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req createBucketRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.service.CreateBucket(r.Context(), user, req.Name, req.MonthlyLimit)
	h.respond(w, r, "create_bucket", err, http.StatusCreated, b)
}

func (h *Handler) HandleGetBucket(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	b, err := h.service.Bucket(r.Context(), user, chi.URLParam(r, "name"))
	h.respond(w, r, "get_bucket", err, http.StatusOK, b)
}

func (h *Handler) HandleDepositToBucket(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	quote, err := h.service.DepositToBucket(r.Context(), user, chi.URLParam(r, "name"), req.Amount, req.Token)
	h.respond(w, r, "deposit_bucket", err, http.StatusOK, quote)
}

func (h *Handler) HandleSpend(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.service.SpendFromBucket(r.Context(), user, chi.URLParam(r, "name"), req.Amount)
	h.respond(w, r, "spend", err, http.StatusNoContent, nil)
}

func (h *Handler) HandleDeactivateBucket(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	err := h.service.DeactivateBucket(r.Context(), user, chi.URLParam(r, "name"))
	h.respond(w, r, "deactivate_bucket", err, http.StatusNoContent, nil)
}

func (h *Handler) HandleListPositions(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	positions, err := h.service.ListPositions(r.Context(), user)
	h.respond(w, r, "list_positions", err, http.StatusOK, positions)
}

func (h *Handler) HandleDepositToPosition(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req depositPositionRequest
	if !decode(w, r, &req) {
		return
	}
	pos, err := h.service.DepositToPosition(r.Context(), user, req.AdapterID, req.Amount)
	h.respond(w, r, "deposit_position", err, http.StatusOK, pos)
}

func (h *Handler) HandleGetPosition(w http.ResponseWriter, r *http.Request) {
	user, positionID, ok := h.userAndPosition(w, r)
	if !ok {
		return
	}
	pos, err := h.service.Position(r.Context(), user, positionID)
	h.respond(w, r, "get_position", err, http.StatusOK, pos)
}

func (h *Handler) HandleWithdrawFromPosition(w http.ResponseWriter, r *http.Request) {
	user, positionID, ok := h.userAndPosition(w, r)
	if !ok {
		return
	}
	var req sharesRequest
	if !decode(w, r, &req) {
		return
	}
	credited, err := h.service.WithdrawFromPosition(r.Context(), user, positionID, req.Shares)
	h.respond(w, r, "withdraw_position", err, http.StatusOK, creditedResponse{Credited: credited})
}

func (h *Handler) HandleHarvest(w http.ResponseWriter, r *http.Request) {
	user, positionID, ok := h.userAndPosition(w, r)
	if !ok {
		return
	}
	credited, err := h.service.HarvestPosition(r.Context(), user, positionID)
	h.respond(w, r, "harvest_position", err, http.StatusOK, creditedResponse{Credited: credited})
}

func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	user, positionID, ok := h.userAndPosition(w, r)
	if !ok {
		return
	}
	pos, err := h.service.RefreshValuation(r.Context(), user, positionID)
	h.respond(w, r, "refresh_valuation", err, http.StatusOK, pos)
}

func (h *Handler) HandleListGoals(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	goals, err := h.service.ListGoals(r.Context(), user)
	h.respond(w, r, "list_goals", err, http.StatusOK, goals)
}

func (h *Handler) HandleCreateGoal(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req createGoalRequest
	if !decode(w, r, &req) {
		return
	}
	g, err := h.service.CreateGoal(r.Context(), user, req.Name, req.Target, req.TargetDate, req.AdapterID)
	h.respond(w, r, "create_goal", err, http.StatusCreated, g)
}

func (h *Handler) HandleGetGoal(w http.ResponseWriter, r *http.Request) {
	user, goalID, ok := h.userAndGoal(w, r)
	if !ok {
		return
	}
	g, err := h.service.Goal(r.Context(), user, goalID)
	h.respond(w, r, "get_goal", err, http.StatusOK, g)
}

func (h *Handler) HandleContribute(w http.ResponseWriter, r *http.Request) {
	user, goalID, ok := h.userAndGoal(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	g, err := h.service.ContributeToGoal(r.Context(), user, goalID, req.Amount)
	h.respond(w, r, "contribute_goal", err, http.StatusOK, g)
}

func (h *Handler) HandleWithdrawFromGoal(w http.ResponseWriter, r *http.Request) {
	user, goalID, ok := h.userAndGoal(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	credited, err := h.service.WithdrawFromGoal(r.Context(), user, goalID, req.Amount)
	h.respond(w, r, "withdraw_goal", err, http.StatusOK, creditedResponse{Credited: credited})
}

func (h *Handler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.service.Transfer(r.Context(), user, req.From, req.To, req.Amount)
	h.respond(w, r, "transfer", err, http.StatusNoContent, nil)
}

func (h *Handler) HandleWithdrawLiquid(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.service.WithdrawLiquid(r.Context(), user, req.Amount, req.Token)
	h.respond(w, r, "withdraw_liquid", err, http.StatusNoContent, nil)
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (id.UserID, bool) {
	user, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid user id"))
		return id.UserID{}, false
	}
	return user, true
}

func (h *Handler) userAndPosition(w http.ResponseWriter, r *http.Request) (id.UserID, id.PositionID, bool) {
	user, ok := h.user(w, r)
	if !ok {
		return id.UserID{}, id.PositionID{}, false
	}
	positionID, err := id.ParsePositionID(chi.URLParam(r, "positionID"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid position id"))
		return id.UserID{}, id.PositionID{}, false
	}
	return user, positionID, true
}

func (h *Handler) userAndGoal(w http.ResponseWriter, r *http.Request) (id.UserID, id.GoalID, bool) {
	user, ok := h.user(w, r)
	if !ok {
		return id.UserID{}, id.GoalID{}, false
	}
	goalID, err := id.ParseGoalID(chi.URLParam(r, "goalID"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid goal id"))
		return id.UserID{}, id.GoalID{}, false
	}
	return user, goalID, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httputil.DecodeJSON(r, dst); err != nil {
		httputil.WriteError(w, err)
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, op string, err error, status int, body any) {
	ctx := r.Context()
	if err != nil {
		h.logger.WarnContext(ctx, "ledger request failed",
			"op", op,
			"kind", string(id.KindOf(err)),
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if body == nil {
		w.WriteHeader(status)
		return
	}
	httputil.WriteJSON(w, status, body)
}

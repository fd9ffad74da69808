// Package handler accepts operation batches over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"spendwise/internal/dispatch"
	"spendwise/internal/platform/metrics"
	"spendwise/pkg/platform/httputil"
	"spendwise/pkg/requestcontext"
)

const maxBatchBytes = 4 << 20

type Dispatcher interface {
	ApplyBatch(ctx context.Context, ops []dispatch.Operation) ([]dispatch.Result, error)
	ApplyPartitioned(ctx context.Context, ops []dispatch.Operation) ([]dispatch.Result, error)
}

type Handler struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func New(dispatcher Dispatcher, logger *slog.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{dispatcher: dispatcher, logger: logger, metrics: metrics}
}

// Register mounts the batch routes. Batches may name any user, so callers
// mount them behind the admin token.
func (h *Handler) Register(r chi.Router) {
	r.Post("/admin/batches", h.HandleApplyBatch)
	r.Post("/admin/batches/partitioned", h.HandleApplyPartitioned)
}

type batchResponse struct {
	Results   []dispatch.Result `json:"results"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

func (h *Handler) HandleApplyBatch(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "batch", h.dispatcher.ApplyBatch)
}

func (h *Handler) HandleApplyPartitioned(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "partitioned", h.dispatcher.ApplyPartitioned)
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request, mode string,
	fn func(context.Context, []dispatch.Operation) ([]dispatch.Result, error)) {
	ctx := r.Context()
	start := time.Now()

	ops, err := dispatch.Decode(http.MaxBytesReader(w, r.Body, maxBatchBytes))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	results, err := fn(ctx, ops)
	if err != nil {
		h.logger.WarnContext(ctx, "batch rejected",
			"mode", mode,
			"operations", len(ops),
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	resp := batchResponse{Results: results}
	for i, res := range results {
		if res.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
		if h.metrics != nil {
			h.metrics.ObserveBatchOperation(string(ops[i].Type), res.Success)
		}
	}
	if h.metrics != nil {
		h.metrics.ObserveBatchDuration(time.Since(start).Seconds())
	}
	h.logger.InfoContext(ctx, "batch served",
		"mode", mode,
		"succeeded", resp.Succeeded,
		"failed", resp.Failed,
		"request_id", requestcontext.RequestID(ctx),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, resp)
}

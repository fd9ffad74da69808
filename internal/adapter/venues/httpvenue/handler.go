package httpvenue

import (
	"net/http"

	"spendwise/internal/adapter/models"
	"spendwise/pkg/platform/httputil"

	"github.com/go-chi/chi/v5"
)

// Handler serves venue over the protocol Client speaks.
func Handler(venue models.ProtocolAdapter) http.Handler {
	r := chi.NewRouter()

	r.Post("/deposit", func(w http.ResponseWriter, req *http.Request) {
		var in depositRequest
		if err := httputil.DecodeJSON(req, &in); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		shares, err := venue.Deposit(req.Context(), in.Asset, in.Amount)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, depositResponse{Shares: shares})
	})

	r.Post("/withdraw", func(w http.ResponseWriter, req *http.Request) {
		var in withdrawRequest
		if err := httputil.DecodeJSON(req, &in); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		amount, err := venue.Withdraw(req.Context(), in.Shares)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, withdrawResponse{Amount: amount})
	})

	r.Get("/balance", func(w http.ResponseWriter, req *http.Request) {
		bal, err := venue.Balance(req.Context(), req.URL.Query().Get("account"))
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, balanceResponse{Balance: bal})
	})

	r.Get("/apy", func(w http.ResponseWriter, req *http.Request) {
		apy, err := venue.APY(req.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, apyResponse{APY: apy})
	})

	r.Get("/info", func(w http.ResponseWriter, req *http.Request) {
		info, err := venue.Info(req.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, info)
	})

	return r
}

func writeError(w http.ResponseWriter, status int, err error) {
	httputil.WriteJSON(w, status, errorResponse{Error: err.Error()})
}

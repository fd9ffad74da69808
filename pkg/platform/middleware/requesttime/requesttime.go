// Package requesttime pins one "now" per request. Lazy limit resets, event
// timestamps and valuation refreshes within a request all read this value.
package requesttime

import (
	"net/http"
	"time"

	"spendwise/pkg/requestcontext"
)

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

package testutil

import (
	"net/http"

	id "spendwise/pkg/domain"
	"spendwise/pkg/requestcontext"
)

// WithUserID adds an authenticated caller to the request context, the way the
// JWT middleware does. Invalid IDs are ignored.
func WithUserID(req *http.Request, userID string) *http.Request {
	if parsed, err := id.ParseUserID(userID); err == nil {
		return req.WithContext(requestcontext.WithUserID(req.Context(), parsed))
	}
	return req
}

// WithOperator marks the request as authenticated with the admin token.
func WithOperator(req *http.Request) *http.Request {
	return req.WithContext(requestcontext.WithOperator(req.Context()))
}

package audit

import (
	"context"
	"log/slog"

	"spendwise/pkg/requestcontext"
)

// LogAudit writes an audit-style log line. Persisted events go through a
// publisher; this only covers the structured log.
func LogAudit(ctx context.Context, logger *slog.Logger, event string, attrs ...any) {
	if logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	if ip := requestcontext.ClientIP(ctx); ip != "" {
		attrs = append(attrs, "client_ip", ip, "user_agent", requestcontext.UserAgent(ctx))
	}
	attrs = append(attrs, "event", event, "log_type", "audit")
	logger.InfoContext(ctx, event, attrs...)
}

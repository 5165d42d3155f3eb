package web

import (
	"context"
	"net/http"

	"github.com/kamal2602/thinkhub-sub001/internal/core"
	"github.com/kamal2602/thinkhub-sub001/internal/web/middleware"
)

// WithRequestMetadata adds the client IP to context for session logging.
// The caller's name is already there when API keys are in use.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	return core.ContextWithIPAddress(ctx, middleware.ClientIP(r))
}

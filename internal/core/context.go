package core

import "context"

type contextKey string

const (
	ctxKeyIPAddress contextKey = "client_ip"
	ctxKeyActor     contextKey = "actor"
)

// ContextWithIPAddress adds the client IP to context so session log lines
// can be traced back to a caller.
func ContextWithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyIPAddress, ip)
}

// ContextWithActor adds the authenticated caller's name to context.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ctxKeyActor, actor)
}

// GetIPAddressFromContext extracts the client IP from context.
func GetIPAddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyIPAddress).(string); ok {
		return v
	}
	return ""
}

// GetActorFromContext extracts the caller's name from context.
func GetActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyActor).(string); ok {
		return v
	}
	return ""
}

// requestFields returns the caller fields present on ctx as slog key/value
// pairs.
func requestFields(ctx context.Context) []any {
	var args []any
	if ip := GetIPAddressFromContext(ctx); ip != "" {
		args = append(args, "client_ip", ip)
	}
	if actor := GetActorFromContext(ctx); actor != "" {
		args = append(args, "actor", actor)
	}
	return args
}

package auth

import "context"

type sessionContextKey struct{}

// ContextWithSession attaches verified session claims to the context.
func ContextWithSession(ctx context.Context, claims SessionClaims) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, &claims)
}

// SessionFromContext extracts session claims from the context.
func SessionFromContext(ctx context.Context) (SessionClaims, bool) {
	if ctx == nil {
		return SessionClaims{}, false
	}
	v, ok := ctx.Value(sessionContextKey{}).(*SessionClaims)
	if !ok || v == nil {
		return SessionClaims{}, false
	}
	return *v, true
}

// UserIDFromContext returns the authenticated user id, or "" when anonymous.
func UserIDFromContext(ctx context.Context) string {
	s, ok := SessionFromContext(ctx)
	if !ok {
		return ""
	}
	return s.UserID
}

// Package auth carries the caller's portal session through a request context.
package auth

import "context"

type contextKey struct{}

// SessionContext identifies the browser session a request belongs to.
type SessionContext struct {
	SessionID        int64
	Token            string
	MembershipNumber string
	// Fresh is set when the session was created by this request.
	Fresh bool
}

func WithSession(ctx context.Context, sc SessionContext) context.Context {
	return context.WithValue(ctx, contextKey{}, sc)
}

func FromContext(ctx context.Context) (SessionContext, bool) {
	sc, ok := ctx.Value(contextKey{}).(SessionContext)
	return sc, ok
}

func SessionID(ctx context.Context) int64 {
	sc, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return sc.SessionID
}

// Token returns the session token, which also keys the in-memory dashboard.
func Token(ctx context.Context) string {
	sc, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return sc.Token
}

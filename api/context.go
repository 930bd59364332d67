package api

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey int

const (
	contextKeyRequestID contextKey = iota
	contextKeySubject
)

// SetRequestID returns a new context with the request ID attached.
func SetRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

// RequestIDFromContext extracts the request ID from context, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

// SetSubject returns a new context carrying the authenticated token subject.
func SetSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, contextKeySubject, sub)
}

// SubjectFromContext extracts the token subject from context, or "".
func SubjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(contextKeySubject).(string)
	return sub
}

func subjectOf(claims jwt.MapClaims) string {
	sub, _ := claims.GetSubject()
	return sub
}

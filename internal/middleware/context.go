package middleware

import (
	"context"

	"github.com/kevin101681/cascadeconnect-sub000/internal/identity"
)

type contextKey string

const RefKey contextKey = "member_ref"

// GetRef returns the authenticated member ref from the context
// (set by Auth). Empty when the request is unauthenticated.
func GetRef(ctx context.Context) identity.Ref {
	v, _ := ctx.Value(RefKey).(identity.Ref)
	return v
}

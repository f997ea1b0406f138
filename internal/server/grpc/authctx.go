package grpcserver

import (
	"context"

	"github.com/and161185/authserver/internal/model"
)

type ctxKey string

const (
	callerKey     ctxKey = "authserver.caller"
	callerSlotKey ctxKey = "authserver.caller-slot"
)

// callerSlot lets an outer interceptor see the caller that an inner one
// authenticated. Unary calls fill and read it on the same goroutine.
type callerSlot struct {
	user model.User
	ok   bool
}

func withCallerSlot(ctx context.Context) (context.Context, *callerSlot) {
	slot := &callerSlot{}
	return context.WithValue(ctx, callerSlotKey, slot), slot
}

// WithCaller stores the authenticated user (with roles) in context and records
// it in the enclosing caller slot, if any.
func WithCaller(ctx context.Context, u model.User) context.Context {
	if slot, ok := ctx.Value(callerSlotKey).(*callerSlot); ok {
		slot.user, slot.ok = u, true
	}
	return context.WithValue(ctx, callerKey, u)
}

// CallerFromCtx fetches the authenticated user from context.
func CallerFromCtx(ctx context.Context) (model.User, bool) {
	u, ok := ctx.Value(callerKey).(model.User)
	return u, ok
}

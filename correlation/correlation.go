// Package correlation threads a transaction id through a unit of work via
// context.Context.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

// HeaderTransactionID carries the transaction id between a sink and the
// ingest server.
const HeaderTransactionID = "X-Transaction-ID"

type ctxKey struct{}

func New() string {
	return uuid.NewString()
}

func WithTransactionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Ensure returns ctx unchanged when it already carries an id, otherwise a
// child context with a fresh one.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := New()
	return WithTransactionID(ctx, id), id
}

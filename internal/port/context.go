package port

import (
	"context"

	"github.com/google/uuid"
)

type runIDKey struct{}

// WithRunID attaches the current run identifier to ctx.
func WithRunID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom returns the run identifier attached to ctx, or uuid.Nil.
func RunIDFrom(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(runIDKey{}).(uuid.UUID)
	return id
}

package auth

import (
	"context"

	"github.com/devghori1264/agrox/internal/models"
)

type identityKey struct{}

// WithIdentity stores a verified caller identity on ctx.
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(models.Identity)
	return id, ok && id != ""
}

package auth

import (
	"context"

	"go.uber.org/zap"
)

type permissionLookup interface {
	PermissionNames(ctx context.Context, userID string) ([]string, error)
}

// Resolver turns a bearer token into a Session enriched with effective permissions.
type Resolver struct {
	verifier *Verifier
	perms    permissionLookup
	logger   *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(verifier *Verifier, perms permissionLookup, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{verifier: verifier, perms: perms, logger: logger}
}

// Resolve verifies token and loads the user's permissions.
func (r *Resolver) Resolve(ctx context.Context, token string) (*Session, error) {
	claims, err := r.verifier.Verify(token)
	if err != nil {
		return nil, err
	}
	names, err := r.perms.PermissionNames(ctx, claims.Subject)
	if err != nil {
		r.logger.Warn("failed to resolve permissions", zap.String("user_id", claims.Subject), zap.Error(err))
		return nil, err
	}
	return &Session{
		UserID:      claims.Subject,
		Email:       claims.Email,
		FullName:    claims.UserMetadata.FullName,
		Permissions: names,
	}, nil
}

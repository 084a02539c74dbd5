package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"storefront/internal/models"
	"storefront/internal/storage"
)

// Authentication outcomes for AuthenticateAndRateLimit.
var (
	ErrUnauthorized = errors.New("missing or invalid API key")
	ErrForbidden    = errors.New("insufficient permissions")
)

// AuthenticateAndRateLimit resolves the bearer key, runs the admission check,
// and only then enforces the required permission. The ordering matters: a
// rate-limited caller learns nothing about whether its key would have been
// authorized, and a denial causes no auth side effects.
//
// Returns the authenticated key and the gate decision. A denied decision is
// returned with a nil error; ErrUnauthorized and ErrForbidden cover the auth
// failures. The caller still invokes RecordAndAdmit on success.
func (g *Gate) AuthenticateAndRateLimit(ctx context.Context, r *http.Request, requiredPermission string, policy Policy) (*models.APIKey, Decision, error) {
	key, err := g.resolveKey(ctx, r)
	if err != nil {
		return nil, Decision{}, err
	}

	keyID := ""
	if key != nil {
		keyID = key.ID
	}

	decision := g.Check(ctx, r, keyID, policy)
	if !decision.Allowed {
		return key, decision, nil
	}

	if requiredPermission != "" {
		if key == nil {
			return nil, decision, ErrUnauthorized
		}
		if !key.HasPermission(requiredPermission) {
			return key, decision, ErrForbidden
		}
	}

	return key, decision, nil
}

// resolveKey looks up the bearer token from the Authorization header. A
// missing header is anonymous traffic, not an error; a present but invalid
// token is rejected.
func (g *Gate) resolveKey(ctx context.Context, r *http.Request) (*models.APIKey, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, nil
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return nil, ErrUnauthorized
	}

	key, err := g.store.GetAPIKeyByHash(ctx, models.HashAPIKey(authHeader[len(prefix):]))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		// Storage trouble during lookup takes the fail-open path as
		// anonymous traffic rather than locking everyone out.
		g.logger.Warn("api key lookup degraded", "error", err)
		return nil, nil
	}
	return key, nil
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"bosun/internal/identity"
	"bosun/internal/session"
	"bosun/pkg/problems"
	"bosun/pkg/tenants"
)

// TokenValidator turns an access token into a user id.
type TokenValidator interface {
	ValidateAccess(raw string) (string, error)
}

// IdentityResolver loads a user and its home tenant.
type IdentityResolver interface {
	Resolve(ctx context.Context, userID string) (identity.User, tenants.Tenant, error)
}

// Identity authenticates the request from the bearer header, falling back
// to the accessToken cookie, and stores the user and tenant in the context.
func Identity(tokens TokenValidator, dir IdentityResolver, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := session.AccessTokenFrom(r)
			if raw == "" {
				fail(w, r, log, problems.New(problems.KindUnauthenticated, "access token required"))
				return
			}
			userID, err := tokens.ValidateAccess(raw)
			if err != nil {
				fail(w, r, log, err)
				return
			}
			u, t, err := dir.Resolve(r.Context(), userID)
			switch {
			case errors.Is(err, problems.ErrUserNotFound):
				fail(w, r, log, problems.New(problems.KindUnauthenticated, "user no longer exists"))
				return
			case errors.Is(err, problems.ErrTenantNotFound):
				// The gate decides what a tenantless user may do.
				t = tenants.Tenant{}
			case err != nil:
				fail(w, r, log, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), u, t)))
		})
	}
}

// OptionalIdentity binds the user and tenant when the request carries a
// valid token for an active user of an operational tenant. Anything else
// passes through anonymously.
func OptionalIdentity(tokens TokenValidator, dir IdentityResolver, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := session.AccessTokenFrom(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			userID, err := tokens.ValidateAccess(raw)
			if err != nil {
				log.Debugw("optional identity: token ignored", "err", err)
				next.ServeHTTP(w, r)
				return
			}
			u, t, err := dir.Resolve(r.Context(), userID)
			if err != nil {
				log.Debugw("optional identity: user not resolved", "user_id", userID, "err", err)
				next.ServeHTTP(w, r)
				return
			}
			if !u.State.IsActive() || !t.Operational(time.Now()) {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), u, t)))
		})
	}
}

// fail renders err as a problem document and logs what the client cannot
// see.
func fail(w http.ResponseWriter, r *http.Request, log *zap.SugaredLogger, err error) {
	kind := problems.KindOf(err)
	if kind == problems.KindInternal || kind == problems.KindStoreUnavailable {
		log.Errorw("request failed", "path", r.URL.Path, "request_id", RequestIDFrom(r.Context()), "err", err)
	}
	problems.Write(w, err, r.URL.Path)
}

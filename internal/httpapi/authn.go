package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"careloop.org/internal/identity"
)

var (
	errNoAuthHeader = errors.New("authorization header is missing")
	errBadScheme    = errors.New("authorization header must use the Bearer scheme")
)

func extractBearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errNoAuthHeader
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errBadScheme
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errBadScheme
	}
	return token, nil
}

// withAuth resolves the bearer token into an actor for every non-public
// route. Verification failures are collapsed into a single 401 so callers
// cannot distinguish expiry from forgery.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="careloop"`)
			code := codeTokenInvalid
			if errors.Is(err, errNoAuthHeader) {
				code = codeTokenMissing
			}
			writeError(w, r, http.StatusUnauthorized, code, err.Error())
			return
		}

		actor, err := a.verifier.Verify(r.Context(), token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="careloop", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, codeTokenInvalid, "credential could not be verified")
			return
		}

		actor, err = a.authorizer.Resolve(r.Context(), actor)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, codeDependencyFailed, "internal error")
			return
		}

		next.ServeHTTP(w, r.WithContext(identity.ContextWithActor(r.Context(), actor)))
	})
}

// RequireRole gates a handler on role membership. The actor must already be
// on the context, so this composes inside withAuth.
func RequireRole(next http.Handler, roles ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := identity.ActorFromContext(r.Context())
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="careloop"`)
			writeError(w, r, http.StatusUnauthorized, codeTokenMissing, "authentication required")
			return
		}
		if !actor.HasAnyRole(roles...) {
			writeError(w, r, http.StatusForbidden, codeRoleRequired, "insufficient role")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) requireActor(w http.ResponseWriter, r *http.Request) (identity.Actor, bool) {
	actor, ok := identity.ActorFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="careloop"`)
		writeError(w, r, http.StatusUnauthorized, codeTokenMissing, "authentication required")
		return identity.Actor{}, false
	}
	return actor, true
}

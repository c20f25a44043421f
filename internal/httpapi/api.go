// Package httpapi exposes the careloop core over REST.
//
// Endpoints under /v1 require a bearer token except the two link-driven
// flows (consent resolution and opt-out), which are authorized by the
// secret they carry and rate limited per client IP instead.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"careloop.org/internal/identity"
	"careloop.org/internal/invites"
	"careloop.org/internal/obs"
	"careloop.org/internal/relationships"
)

// ReadyProbe reports whether downstream dependencies are reachable.
type ReadyProbe interface {
	Ping(ctx context.Context) error
}

// Options bundles the dependencies of the HTTP surface.
type Options struct {
	Verifier      identity.Verifier
	Authorizer    *identity.Authorizer
	Invitations   *invites.Service
	Relationships *relationships.Service

	ReadyProbe ReadyProbe
	Version    string

	// AllowedOrigins is the CORS allow-list. Preflight requests from
	// origins outside the list are refused.
	AllowedOrigins []string

	// Per-IP token bucket for the public endpoints. Zero values fall
	// back to defaults.
	PublicRateBurst     int
	PublicRatePerSecond int
}

// API is the HTTP layer. Construct with New, serve via Handler.
type API struct {
	mux            *http.ServeMux
	verifier       identity.Verifier
	authorizer     *identity.Authorizer
	invitations    *invites.Service
	relationships  *relationships.Service
	readyProbe     ReadyProbe
	version        string
	allowedOrigins map[string]struct{}
	publicLimiter  *ipRateLimiter
}

// New wires routes onto a fresh mux.
func New(opts Options) *API {
	burst := opts.PublicRateBurst
	if burst <= 0 {
		burst = 10
	}
	perSecond := opts.PublicRatePerSecond
	if perSecond <= 0 {
		perSecond = 5
	}

	a := &API{
		mux:           http.NewServeMux(),
		verifier:      opts.Verifier,
		authorizer:    opts.Authorizer,
		invitations:   opts.Invitations,
		relationships: opts.Relationships,
		readyProbe:    opts.ReadyProbe,
		version:       opts.Version,
		publicLimiter: newIPRateLimiter(burst, perSecond),
	}
	if len(opts.AllowedOrigins) > 0 {
		a.allowedOrigins = make(map[string]struct{}, len(opts.AllowedOrigins))
		for _, origin := range opts.AllowedOrigins {
			origin = strings.TrimRight(strings.TrimSpace(origin), "/")
			if origin != "" {
				a.allowedOrigins[origin] = struct{}{}
			}
		}
	}

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReadyz)
	a.mux.HandleFunc("/v1/info", a.handleInfo)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/invitations", a.handleInvitations)
	a.mux.HandleFunc("/v1/invitations/", a.handleInvitationResource)
	a.mux.HandleFunc("/v1/relationships", a.handleRelationships)
	a.mux.HandleFunc("/v1/relationships/", a.handleRelationshipResource)
	a.mux.HandleFunc("/v1/opt-out", a.handleOptOut)

	return a
}

// Handler returns the mux wrapped in the full middleware stack. Order
// matters: metrics and request ids wrap everything, auth runs innermost so
// rejected requests are still logged and counted.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = a.withPublicRateLimit(h)
	h = a.withCORS(h)
	h = securityHeaders(h)
	h = logging(h)
	h = requestID(h)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.readyProbe != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.readyProbe.Ping(ctx); err != nil {
			writeError(w, r, http.StatusServiceUnavailable, codeDependencyFailed, "dependencies not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "careloop-api",
		"version": a.version,
	})
}

// isPublicPath lists the routes served without a bearer token.
func isPublicPath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/v1/info", "/metrics",
		"/v1/invitations/consent", "/v1/opt-out":
		return true
	}
	return false
}

// isGuessablePath marks the public endpoints that accept a secret and are
// therefore worth brute-forcing; only these get the per-IP bucket.
func isGuessablePath(path string) bool {
	switch path {
	case "/v1/invitations/consent", "/v1/opt-out":
		return true
	}
	return false
}

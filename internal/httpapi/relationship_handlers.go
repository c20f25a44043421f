package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strings"

	"careloop.org/internal/audit"
	"careloop.org/internal/cooldown"
	"careloop.org/internal/relationships"
)

func (a *API) handleRelationships(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}
	items, err := a.relationships.List(r.Context(), actor.Subject)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, codeDependencyFailed, "internal error")
		return
	}
	if items == nil {
		items = []relationships.Relationship{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleRelationshipResource routes /v1/relationships/{id}/nudge and
// /v1/relationships/{id}/remove.
func (a *API) handleRelationshipResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/relationships/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, codeNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	switch parts[1] {
	case "nudge":
		a.nudgeRelationship(w, r, parts[0])
	case "remove":
		a.removeRelationship(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, codeNotFound, "not found")
	}
}

func (a *API) nudgeRelationship(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}
	err := a.relationships.Nudge(r.Context(), actor.Subject, id)
	if err != nil && !errors.Is(err, relationships.ErrNotSent) {
		a.writeRelationshipError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "circle.nudge", map[string]any{"relationship_id": id})

	if err != nil {
		// Cooldown already started; the reminder itself did not go out.
		writeError(w, r, http.StatusInternalServerError, codeNotifyFailed,
			"nudge recorded but the reminder could not be sent")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) removeRelationship(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}
	if err := a.relationships.Remove(r.Context(), actor.Subject, id); err != nil {
		a.writeRelationshipError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "circle.remove", map[string]any{"relationship_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleOptOut serves the public self-service removal link. The slug is the
// authorization. GET takes ?token=, POST takes a JSON body; both exist
// because mail clients prefetch GET links.
func (a *API) handleOptOut(w http.ResponseWriter, r *http.Request) {
	var token string
	switch r.Method {
	case http.MethodGet:
		token = r.URL.Query().Get("token")
	case http.MethodPost:
		var req struct {
			Token string `json:"token"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, codeInvalidInput, err.Error())
			return
		}
		token = req.Token
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}

	rel, err := a.relationships.OptOut(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, relationships.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, codeTokenRequired, "token is required")
		case errors.Is(err, relationships.ErrNotFound):
			writeError(w, r, http.StatusNotFound, codeLinkInvalid, "link is not recognized or was already used")
		default:
			writeError(w, r, http.StatusInternalServerError, codeDependencyFailed, "internal error")
		}
		return
	}

	_ = audit.LogEvent(r.Context(), "circle.optout", map[string]any{"relationship_id": rel.ID})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "display_name": rel.DisplayName})
}

func (a *API) writeRelationshipError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *cooldown.RateLimitedError
	switch {
	case errors.As(err, &rl):
		days := int(math.Ceil(rl.RetryAfter.Hours() / 24))
		if days < 1 {
			days = 1
		}
		w.Header().Set("Retry-After", retryAfterSeconds(rl))
		writeErrorExtra(w, r, http.StatusTooManyRequests, codeRateLimited,
			"nudge is rate limited", map[string]any{"retry_after_days": days})
	case errors.Is(err, relationships.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, codeInvalidInput, err.Error())
	case errors.Is(err, relationships.ErrNotActive):
		writeError(w, r, http.StatusBadRequest, codeNotActive, "relationship is not active")
	case errors.Is(err, relationships.ErrNotFound):
		writeError(w, r, http.StatusNotFound, codeNotFound, "not found")
	default:
		writeError(w, r, http.StatusInternalServerError, codeDependencyFailed, "internal error")
	}
}

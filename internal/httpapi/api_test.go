package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"careloop.org/internal/identity"
	"careloop.org/internal/invites"
	"careloop.org/internal/notify"
	"careloop.org/internal/relationships"
)

const testOrigin = "https://app.careloop.example"

// fakeInviteStore mirrors the conditional-update contract of the SQL layer.
type fakeInviteStore struct {
	invitations map[string]*invites.Invitation
	profiles    map[string]string
	activeRels  int
}

func newFakeInviteStore() *fakeInviteStore {
	return &fakeInviteStore{
		invitations: make(map[string]*invites.Invitation),
		profiles:    make(map[string]string),
	}
}

func (s *fakeInviteStore) CreateInvitation(_ context.Context, inv *invites.Invitation, capLimit int) error {
	pending := 0
	for _, existing := range s.invitations {
		if existing.InviterID == inv.InviterID && existing.Status == invites.StatusPending {
			pending++
		}
	}
	if pending+s.activeRels >= capLimit {
		return invites.ErrCircleFull
	}
	cp := *inv
	s.invitations[inv.ID] = &cp
	return nil
}

func (s *fakeInviteStore) GetInvitation(_ context.Context, id, inviterID string) (invites.Invitation, error) {
	inv, ok := s.invitations[id]
	if !ok || inv.InviterID != inviterID {
		return invites.Invitation{}, invites.ErrNotFound
	}
	return *inv, nil
}

func (s *fakeInviteStore) ListInvitations(_ context.Context, inviterID string) ([]invites.Invitation, error) {
	var out []invites.Invitation
	for _, inv := range s.invitations {
		if inv.InviterID == inviterID {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (s *fakeInviteStore) RotateInvitationToken(_ context.Context, id, inviterID, tokenHash string, expiresAt, resendAt time.Time) error {
	inv, ok := s.invitations[id]
	if !ok || inv.InviterID != inviterID || inv.Status != invites.StatusPending {
		return invites.ErrNotFoundOrNotPending
	}
	inv.TokenHash = tokenHash
	inv.ExpiresAt = expiresAt
	inv.ResendCount++
	at := resendAt
	inv.LastResendAt = &at
	return nil
}

func (s *fakeInviteStore) RevokeInvitation(_ context.Context, id, inviterID string) error {
	inv, ok := s.invitations[id]
	if !ok || inv.InviterID != inviterID || inv.Status != invites.StatusPending {
		return invites.ErrNotFoundOrNotPending
	}
	inv.Status = invites.StatusRevoked
	return nil
}

func (s *fakeInviteStore) GetInvitationByTokenHash(_ context.Context, tokenHash string) (invites.Invitation, error) {
	for _, inv := range s.invitations {
		if inv.TokenHash == tokenHash {
			return *inv, nil
		}
	}
	return invites.Invitation{}, invites.ErrNotFound
}

func (s *fakeInviteStore) MarkInvitationExpired(_ context.Context, id string) error {
	if inv, ok := s.invitations[id]; ok && inv.Status == invites.StatusPending {
		inv.Status = invites.StatusExpired
	}
	return nil
}

func (s *fakeInviteStore) InviterDisplayName(_ context.Context, userID string) (string, error) {
	name, ok := s.profiles[userID]
	if !ok {
		return "", invites.ErrNotFound
	}
	return name, nil
}

type fakeRelStore struct {
	rels     map[string]*relationships.Relationship
	profiles map[string]string
}

func newFakeRelStore() *fakeRelStore {
	return &fakeRelStore{
		rels:     make(map[string]*relationships.Relationship),
		profiles: make(map[string]string),
	}
}

func (s *fakeRelStore) GetRelationship(_ context.Context, id, ownerID string) (relationships.Relationship, error) {
	rel, ok := s.rels[id]
	if !ok || rel.OwnerID != ownerID {
		return relationships.Relationship{}, relationships.ErrNotFound
	}
	return *rel, nil
}

func (s *fakeRelStore) ListRelationships(_ context.Context, ownerID string) ([]relationships.Relationship, error) {
	var out []relationships.Relationship
	for _, rel := range s.rels {
		if rel.OwnerID == ownerID && rel.Status == relationships.StatusActive {
			out = append(out, *rel)
		}
	}
	return out, nil
}

func (s *fakeRelStore) TouchLastNudged(_ context.Context, id, ownerID string, at time.Time) error {
	rel, ok := s.rels[id]
	if !ok || rel.OwnerID != ownerID || rel.Status != relationships.StatusActive {
		return relationships.ErrNotFound
	}
	t := at
	rel.LastNudgedAt = &t
	return nil
}

func (s *fakeRelStore) RemoveRelationship(_ context.Context, id, ownerID string) error {
	rel, ok := s.rels[id]
	if !ok || rel.OwnerID != ownerID || rel.Status != relationships.StatusActive {
		return relationships.ErrNotFound
	}
	rel.Status = relationships.StatusRemoved
	return nil
}

func (s *fakeRelStore) RemoveBySlug(_ context.Context, slug string) (relationships.Relationship, error) {
	for _, rel := range s.rels {
		if rel.OptOutSlug == slug && rel.Status == relationships.StatusActive {
			rel.Status = relationships.StatusRemoved
			return *rel, nil
		}
	}
	return relationships.Relationship{}, relationships.ErrNotFound
}

func (s *fakeRelStore) OwnerDisplayName(_ context.Context, userID string) (string, error) {
	name, ok := s.profiles[userID]
	if !ok {
		return "", relationships.ErrNotFound
	}
	return name, nil
}

type spyDispatcher struct {
	messages []notify.Message
	err      error
}

func (d *spyDispatcher) Dispatch(_ context.Context, msg notify.Message) error {
	if d.err != nil {
		return d.err
	}
	d.messages = append(d.messages, msg)
	return nil
}

// staticVerifier resolves a single known token.
type staticVerifier struct {
	token string
	actor identity.Actor
}

func (v *staticVerifier) Verify(_ context.Context, token string) (identity.Actor, error) {
	if token != v.token {
		return identity.Actor{}, identity.ErrUnresolved
	}
	return v.actor, nil
}

type testEnv struct {
	srv         *httptest.Server
	inviteStore *fakeInviteStore
	relStore    *fakeRelStore
	dispatcher  *spyDispatcher
	now         time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		inviteStore: newFakeInviteStore(),
		relStore:    newFakeRelStore(),
		dispatcher:  &spyDispatcher{},
		now:         time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return env.now }

	inviteSvc, err := invites.NewService(env.inviteStore, env.dispatcher,
		"https://careloop.example/consent", invites.WithClock(clock))
	if err != nil {
		t.Fatalf("invites.NewService: %v", err)
	}
	relSvc, err := relationships.NewService(env.relStore, env.dispatcher,
		"https://careloop.example/opt-out", relationships.WithClock(clock))
	if err != nil {
		t.Fatalf("relationships.NewService: %v", err)
	}

	api := New(Options{
		Verifier:       &staticVerifier{token: "good-token", actor: identity.Actor{Subject: "user-1"}},
		Authorizer:     identity.NewAuthorizer(nil),
		Invitations:    inviteSvc,
		Relationships:  relSvc,
		Version:        "test",
		AllowedOrigins: []string{testOrigin},
	})
	env.srv = httptest.NewServer(api.Handler())
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	payload := map[string]any{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp, payload
}

func (e *testEnv) seedRelationship(id string) *relationships.Relationship {
	rel := &relationships.Relationship{
		ID:             id,
		OwnerID:        "user-1",
		DisplayName:    "Sam",
		ContactAddress: "sam@example.org",
		Status:         relationships.StatusActive,
		OptOutSlug:     relationships.NewOptOutSlug(),
		CreatedAt:      e.now.Add(-30 * 24 * time.Hour),
	}
	e.relStore.rels[id] = rel
	return rel
}

func TestPublicEndpointsNeedNoToken(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp, _ := env.request(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status %d", path, resp.StatusCode)
		}
	}
}

func TestAuthRejections(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.request(t, http.MethodGet, "/v1/invitations", "", nil)
	if resp.StatusCode != http.StatusUnauthorized || body["code"] != codeTokenMissing {
		t.Fatalf("no header: status %d, code %v", resp.StatusCode, body["code"])
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("missing WWW-Authenticate header")
	}

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/v1/invitations", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	raw, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Body.Close()
	if raw.StatusCode != http.StatusUnauthorized {
		t.Fatalf("basic scheme: status %d", raw.StatusCode)
	}

	resp, body = env.request(t, http.MethodGet, "/v1/invitations", "forged-token", nil)
	if resp.StatusCode != http.StatusUnauthorized || body["code"] != codeTokenInvalid {
		t.Fatalf("bad token: status %d, code %v", resp.StatusCode, body["code"])
	}
}

func TestCreateInvitation(t *testing.T) {
	env := newTestEnv(t)
	env.inviteStore.profiles["user-1"] = "Dana"

	resp, body := env.request(t, http.MethodPost, "/v1/invitations", "good-token", map[string]string{
		"invitee_name":    "Sam",
		"contact_address": "Sam@Example.ORG",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	inv, ok := body["invitation"].(map[string]any)
	if !ok {
		t.Fatalf("no invitation in response: %v", body)
	}
	if inv["status"] != "pending" {
		t.Fatalf("status = %v", inv["status"])
	}
	if inv["contact_address_masked"] != "s***@example.org" {
		t.Fatalf("masked = %v", inv["contact_address_masked"])
	}
	// Neither the raw address nor any secret material is serialized.
	raw, _ := json.Marshal(body)
	if bytes.Contains(raw, []byte("sam@example.org")) {
		t.Fatal("raw contact address leaked into the response")
	}
	stored := env.inviteStore.invitations[inv["id"].(string)]
	if bytes.Contains(raw, []byte(stored.TokenHash)) {
		t.Fatal("token hash leaked into the response")
	}
	if len(env.dispatcher.messages) != 1 {
		t.Fatalf("dispatched %d messages", len(env.dispatcher.messages))
	}
}

func TestCreateInvitationValidation(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.request(t, http.MethodPost, "/v1/invitations", "good-token", map[string]string{
		"invitee_name":    "Sam",
		"contact_address": "not-an-address",
	})
	if resp.StatusCode != http.StatusBadRequest || body["code"] != codeInvalidAddress {
		t.Fatalf("status %d, code %v", resp.StatusCode, body["code"])
	}

	resp, body = env.request(t, http.MethodPost, "/v1/invitations", "good-token", map[string]string{
		"invitee_name":    "Sam",
		"contact_address": "a@example.org",
		"surprise_field":  "x",
	})
	if resp.StatusCode != http.StatusBadRequest || body["code"] != codeInvalidInput {
		t.Fatalf("unknown field: status %d, code %v", resp.StatusCode, body["code"])
	}
}

func TestCreateInvitationCircleFull(t *testing.T) {
	env := newTestEnv(t)
	env.inviteStore.activeRels = 2
	for i := 0; i < 3; i++ {
		resp, body := env.request(t, http.MethodPost, "/v1/invitations", "good-token", map[string]string{
			"invitee_name":    "Sam",
			"contact_address": "a@example.org",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("create %d: status %d: %v", i, resp.StatusCode, body)
		}
	}

	resp, body := env.request(t, http.MethodPost, "/v1/invitations", "good-token", map[string]string{
		"invitee_name":    "Sam",
		"contact_address": "a@example.org",
	})
	if resp.StatusCode != http.StatusBadRequest || body["code"] != codeCircleFull {
		t.Fatalf("status %d, code %v", resp.StatusCode, body["code"])
	}
}

func TestResendRateLimited(t *testing.T) {
	env := newTestEnv(t)
	last := env.now.Add(-30 * time.Minute)
	env.inviteStore.invitations["inv-1"] = &invites.Invitation{
		ID:           "inv-1",
		InviterID:    "user-1",
		InviteeName:  "Sam",
		Status:       invites.StatusPending,
		ExpiresAt:    env.now.Add(time.Hour),
		LastResendAt: &last,
	}

	resp, body := env.request(t, http.MethodPost, "/v1/invitations/inv-1/resend", "good-token", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	if body["retry_after_minutes"] != float64(30) {
		t.Fatalf("retry_after_minutes = %v", body["retry_after_minutes"])
	}
	if resp.Header.Get("Retry-After") != "1800" {
		t.Fatalf("Retry-After = %q", resp.Header.Get("Retry-After"))
	}
}

func TestRevokeScopedByOwner(t *testing.T) {
	env := newTestEnv(t)
	env.inviteStore.invitations["inv-1"] = &invites.Invitation{
		ID:        "inv-1",
		InviterID: "someone-else",
		Status:    invites.StatusPending,
	}

	// A foreign row reads as 404, never 403.
	resp, body := env.request(t, http.MethodPost, "/v1/invitations/inv-1/revoke", "good-token", nil)
	if resp.StatusCode != http.StatusNotFound || body["code"] != codeNotFound {
		t.Fatalf("status %d, code %v", resp.StatusCode, body["code"])
	}
	if env.inviteStore.invitations["inv-1"].Status != invites.StatusPending {
		t.Fatal("foreign row was mutated")
	}
}

func TestConsentResolution(t *testing.T) {
	env := newTestEnv(t)
	env.inviteStore.profiles["user-2"] = "Dana"
	env.inviteStore.invitations["inv-1"] = &invites.Invitation{
		ID:          "inv-1",
		InviterID:   "user-2",
		InviteeName: "Sam",
		Status:      invites.StatusPending,
		TokenHash:   invites.HashToken("the-secret"),
		ExpiresAt:   env.now.Add(time.Hour),
	}

	// Public: no bearer token.
	resp, body := env.request(t, http.MethodPost, "/v1/invitations/consent", "", map[string]string{
		"token": "the-secret",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	if body["inviter_display_name"] != "Dana" || body["invitee_name"] != "Sam" {
		t.Fatalf("view = %v", body)
	}

	resp, body = env.request(t, http.MethodPost, "/v1/invitations/consent", "", map[string]string{
		"token": "wrong-secret",
	})
	if resp.StatusCode != http.StatusBadRequest || body["code"] != codeConsentInvalid {
		t.Fatalf("status %d, code %v", resp.StatusCode, body["code"])
	}
}

func TestConsentExpiredIsStable(t *testing.T) {
	env := newTestEnv(t)
	env.inviteStore.invitations["inv-1"] = &invites.Invitation{
		ID:        "inv-1",
		InviterID: "user-2",
		Status:    invites.StatusPending,
		TokenHash: invites.HashToken("stale-secret"),
		ExpiresAt: env.now.Add(-time.Minute),
	}

	for i := 0; i < 2; i++ {
		resp, body := env.request(t, http.MethodPost, "/v1/invitations/consent", "", map[string]string{
			"token": "stale-secret",
		})
		if resp.StatusCode != http.StatusBadRequest || body["code"] != codeConsentExpired {
			t.Fatalf("call %d: status %d, code %v", i, resp.StatusCode, body["code"])
		}
	}
}

func TestNudge(t *testing.T) {
	env := newTestEnv(t)
	env.relStore.profiles["user-1"] = "Dana"
	env.seedRelationship("rel-1")

	resp, body := env.request(t, http.MethodPost, "/v1/relationships/rel-1/nudge", "good-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	if len(env.dispatcher.messages) != 1 {
		t.Fatalf("dispatched %d messages", len(env.dispatcher.messages))
	}
}

func TestNudgeRetryAfterDays(t *testing.T) {
	env := newTestEnv(t)
	rel := env.seedRelationship("rel-1")
	last := env.now.Add(-10 * 24 * time.Hour)
	rel.LastNudgedAt = &last

	resp, body := env.request(t, http.MethodPost, "/v1/relationships/rel-1/nudge", "good-token", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	if body["retry_after_days"] != float64(4) {
		t.Fatalf("retry_after_days = %v", body["retry_after_days"])
	}
}

func TestNudgeRecordedButNotSent(t *testing.T) {
	env := newTestEnv(t)
	rel := env.seedRelationship("rel-1")
	env.dispatcher.err = errors.New("relay down")

	resp, body := env.request(t, http.MethodPost, "/v1/relationships/rel-1/nudge", "good-token", nil)
	if resp.StatusCode != http.StatusInternalServerError || body["code"] != codeNotifyFailed {
		t.Fatalf("status %d, code %v", resp.StatusCode, body["code"])
	}
	if rel.LastNudgedAt == nil {
		t.Fatal("cooldown did not start")
	}
}

func TestRemoveRelationship(t *testing.T) {
	env := newTestEnv(t)
	env.seedRelationship("rel-1")

	resp, _ := env.request(t, http.MethodPost, "/v1/relationships/rel-1/remove", "good-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if len(env.dispatcher.messages) != 0 {
		t.Fatal("remove must stay silent")
	}

	resp, body := env.request(t, http.MethodPost, "/v1/relationships/rel-1/remove", "good-token", nil)
	if resp.StatusCode != http.StatusNotFound || body["code"] != codeNotFound {
		t.Fatalf("second remove: status %d, code %v", resp.StatusCode, body["code"])
	}
}

func TestOptOutLink(t *testing.T) {
	env := newTestEnv(t)
	rel := env.seedRelationship("rel-1")

	resp, body := env.request(t, http.MethodGet, "/v1/opt-out?token="+rel.OptOutSlug, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	if body["display_name"] != "Sam" {
		t.Fatalf("display_name = %v", body["display_name"])
	}

	// The slug matches no active row anymore.
	resp, body = env.request(t, http.MethodGet, "/v1/opt-out?token="+rel.OptOutSlug, "", nil)
	if resp.StatusCode != http.StatusNotFound || body["code"] != codeLinkInvalid {
		t.Fatalf("second use: status %d, code %v", resp.StatusCode, body["code"])
	}

	resp, body = env.request(t, http.MethodGet, "/v1/opt-out", "", nil)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != codeTokenRequired {
		t.Fatalf("missing token: status %d, code %v", resp.StatusCode, body["code"])
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	preflight := func(origin string) *http.Response {
		req, _ := http.NewRequest(http.MethodOptions, env.srv.URL+"/v1/invitations", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp
	}

	resp := preflight(testOrigin)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("allow-listed origin: status %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != testOrigin {
		t.Fatalf("Allow-Origin = %q", resp.Header.Get("Access-Control-Allow-Origin"))
	}

	resp = preflight("https://evil.example")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign origin: status %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("foreign origin received CORS headers")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.request(t, http.MethodDelete, "/v1/invitations", "good-token", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Allow"), http.MethodPost) {
		t.Fatalf("Allow = %q", resp.Header.Get("Allow"))
	}
}

func TestListEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedRelationship("rel-1")

	resp, body := env.request(t, http.MethodGet, "/v1/invitations", "good-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list invitations: status %d", resp.StatusCode)
	}
	if items, ok := body["items"].([]any); !ok || len(items) != 0 {
		t.Fatalf("items = %v", body["items"])
	}

	resp, body = env.request(t, http.MethodGet, "/v1/relationships", "good-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list relationships: status %d", resp.StatusCode)
	}
	items, ok := body["items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("items = %v", body["items"])
	}
	raw, _ := json.Marshal(items[0])
	if bytes.Contains(raw, []byte("sam@example.org")) {
		t.Fatal("contact address leaked into the listing")
	}
	if bytes.Contains(raw, []byte(env.relStore.rels["rel-1"].OptOutSlug)) {
		t.Fatal("opt-out slug leaked into the listing")
	}
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireRole(ok, "caregiver")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no actor: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	ctx := identity.ContextWithActor(req.Context(), identity.Actor{Subject: "user-1", Roles: []string{"member"}})
	handler.ServeHTTP(rec, req.WithContext(ctx))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong role: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	ctx = identity.ContextWithActor(req.Context(), identity.Actor{Subject: "user-1", Roles: []string{"caregiver"}})
	handler.ServeHTTP(rec, req.WithContext(ctx))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("matching role: status %d", rec.Code)
	}
}

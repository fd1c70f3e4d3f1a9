package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/userdir"
	"github.com/MrEthical07/authcore/permission"
)

const alicePassword = "correct-horse-battery"

type codeBox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *codeBox) Send(_ context.Context, msg authcore.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.codes[msg.Recipient] = msg.Body
	return nil
}

func (b *codeBox) last(recipient string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[recipient]
}

type fixture struct {
	handler http.Handler
	box     *codeBox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := authcore.DefaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = bytes.Repeat([]byte("k"), 32)
	cfg.OTP.Pepper = []byte("pepper")
	cfg.Store.Backend = authcore.BackendMemory
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	seed := `
users:
  - id: u1
    identifier: alice@example.com
    password: ` + alicePassword + `
    roles: [user]
  - id: u2
    identifier: root@example.com
    password: ` + alicePassword + `
    roles: [admin]
`
	box := &codeBox{codes: map[string]string{}}

	hasher, err := authcore.NewPasswordHasher(cfg.Password)
	require.NoError(t, err)
	dir, err := userdir.Parse([]byte(seed), hasher)
	require.NoError(t, err)

	engine, err := authcore.New().
		WithConfig(cfg).
		WithUserLookup(dir).
		WithAccountMutator(dir).
		WithPasswordHasher(hasher).
		WithNotifier(box).
		WithMetricsEnabled(true).
		WithPolicy(permission.PolicySet{Roles: map[string]map[string][]string{
			"user":  {"plan": {"read"}},
			"admin": {"plan": {"read", "delete"}},
		}}).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return &fixture{handler: New(engine, nil).Routes(), box: box}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "198.51.100.4:5555"
	if token != "" {
		req.Header.Set("Authorization", authcore.BearerPrefix+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T, identifier, pw string) tokenResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"identifier": identifier, "password": pw,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func errorName(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestLoginRefreshLogout(t *testing.T) {
	f := newFixture(t)
	tokens := f.login(t, "alice@example.com", alicePassword)
	require.Equal(t, "Bearer", tokens.TokenType)
	require.NotEmpty(t, tokens.RefreshToken)

	rec := f.do(t, http.MethodGet, "/v1/me", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	require.Equal(t, "u1", me["user_id"])

	rec = f.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": tokens.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var rotated tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rotated))
	require.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	// replaying the rotated-away token revokes the owner
	rec = f.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": tokens.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "revoked_credential", errorName(t, rec))

	rec = f.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": rotated.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	fresh := f.login(t, "alice@example.com", alicePassword)
	rec = f.do(t, http.MethodPost, "/v1/auth/logout", fresh.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": fresh.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginFailures(t *testing.T) {
	f := newFixture(t)

	for _, body := range []map[string]string{
		{"identifier": "alice@example.com", "password": "wrong-password"},
		{"identifier": "nobody@example.com", "password": alicePassword},
	} {
		rec := f.do(t, http.MethodPost, "/v1/auth/login", "", body)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "invalid_credential", errorName(t, rec))
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"user":"x"}`))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "malformed_request", errorName(t, rec))

	rec = f.do(t, http.MethodGet, "/v1/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/password-reset", "", map[string]string{"identifier": "alice@example.com"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	code := f.box.last("alice@example.com")
	require.NotEmpty(t, code)

	rec = f.do(t, http.MethodPost, "/v1/password-reset", "", map[string]string{"identifier": "ghost@example.com"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	confirm := func(code, pw string) *httptest.ResponseRecorder {
		return f.do(t, http.MethodPost, "/v1/password-reset/confirm", "", map[string]string{
			"identifier": "alice@example.com", "code": code, "new_password": pw,
		})
	}

	rec = confirm(code, "short")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "weak_password", errorName(t, rec))

	rec = confirm("not-the-code", "a-brand-new-password")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "challenge_mismatch", errorName(t, rec))

	rec = confirm(code, "a-brand-new-password")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = confirm(code, "a-brand-new-password")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "challenge_already_consumed", errorName(t, rec))

	f.login(t, "alice@example.com", "a-brand-new-password")
}

func TestSubscriptionActivation(t *testing.T) {
	f := newFixture(t)
	tokens := f.login(t, "alice@example.com", alicePassword)

	rec := f.do(t, http.MethodPost, "/v1/subscription/activation", tokens.AccessToken, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	code := f.box.last("alice@example.com")
	require.NotEmpty(t, code)

	rec = f.do(t, http.MethodPost, "/v1/subscription/activation/confirm", tokens.AccessToken, map[string]string{"code": code})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/me", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	require.Equal(t, true, me["subscription_active"])
}

func TestPlanPolicy(t *testing.T) {
	f := newFixture(t)
	user := f.login(t, "alice@example.com", alicePassword)
	admin := f.login(t, "root@example.com", alicePassword)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/plans", user.AccessToken, nil).Code)
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodDelete, "/v1/plans/pro", user.AccessToken, nil).Code)
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/v1/plans/pro", admin.AccessToken, nil).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	f.login(t, "alice@example.com", alicePassword)

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "authcore_login_success_total 1")
}

func TestStatusCode(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, StatusCode(authcore.ErrChallengeExpired))
	require.Equal(t, http.StatusUnauthorized, StatusCode(authcore.ErrExpiredCredential))
	require.Equal(t, http.StatusForbidden, StatusCode(authcore.ErrPolicyDenied))
	require.Equal(t, http.StatusServiceUnavailable, StatusCode(authcore.ErrStoreUnavailable))
}

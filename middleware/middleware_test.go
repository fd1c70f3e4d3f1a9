package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/permission"
)

var readPlan = authcore.Permission{Resource: "plan", Action: "read"}
var deletePlan = authcore.Permission{Resource: "plan", Action: "delete"}

type stubUsers struct {
	mu    sync.Mutex
	users map[string]authcore.UserRecord
	err   error
}

func (s *stubUsers) FindByID(_ context.Context, id string) (authcore.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return authcore.UserRecord{}, s.err
	}
	u, ok := s.users[id]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return u, nil
}

func (s *stubUsers) FindByIdentifier(ctx context.Context, identifier string) (authcore.UserRecord, error) {
	return s.FindByID(ctx, identifier)
}

func newEngine(t *testing.T) (*authcore.Engine, *stubUsers) {
	t.Helper()
	cfg := authcore.DefaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = bytes.Repeat([]byte("m"), 32)
	cfg.Store.Backend = authcore.BackendMemory

	users := &stubUsers{users: map[string]authcore.UserRecord{
		"u1": {UserID: "u1", Identifier: "u1", Roles: []string{"user"}},
	}}
	engine, err := authcore.New().
		WithConfig(cfg).
		WithUserLookup(users).
		WithPolicy(permission.PolicySet{Roles: map[string]map[string][]string{
			"user":  {"plan": {"read"}},
			"admin": {"plan": {"read", "delete"}},
		}}).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine, users
}

func bearer(t *testing.T, engine *authcore.Engine, userID string) string {
	t.Helper()
	pair, err := engine.Tokens().Issue(context.Background(), authcore.UserRecord{UserID: userID})
	require.NoError(t, err)
	return authcore.BearerPrefix + pair.AccessToken
}

func identityHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := authcore.IdentityFromContext(r.Context())
		if !assert.True(t, ok, "identity missing from request context") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = fmt.Fprint(w, id.UserID)
	})
}

func serve(h http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequestWithContext(context.Background(), http.MethodGet, "/plans", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGuard(t *testing.T) {
	engine, users := newEngine(t)
	h := Guard(engine)(identityHandler(t))
	token := bearer(t, engine, "u1")

	rec := serve(h, token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "u1", rec.Body.String())

	rec = serve(h, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "unauthenticated")

	rec = serve(h, "Bearer garbage")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_credential")

	users.mu.Lock()
	users.err = errors.New("db down")
	users.mu.Unlock()
	rec = serve(h, token)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRequire(t *testing.T) {
	engine, users := newEngine(t)
	token := bearer(t, engine, "u1")

	rec := serve(Require(engine, readPlan)(identityHandler(t)), token)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(Require(engine, deletePlan)(identityHandler(t)), token)
	require.Equal(t, http.StatusForbidden, rec.Code)

	users.mu.Lock()
	users.users["u1"] = authcore.UserRecord{UserID: "u1", Roles: []string{"admin"}}
	users.mu.Unlock()
	rec = serve(Require(engine, deletePlan)(identityHandler(t)), token)
	require.Equal(t, http.StatusOK, rec.Code, "role change applies without a new token")
}

func TestGuardNilAuthorizer(t *testing.T) {
	rec := serve(Guard(nil)(identityHandler(t)), "Bearer x")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusCodeAndCode(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   codes.Code
	}{
		{authcore.ErrUnauthenticated, http.StatusUnauthorized, codes.Unauthenticated},
		{authcore.ErrExpiredCredential, http.StatusUnauthorized, codes.Unauthenticated},
		{authcore.ErrRevokedCredential, http.StatusUnauthorized, codes.Unauthenticated},
		{authcore.ErrPolicyDenied, http.StatusForbidden, codes.PermissionDenied},
		{fmt.Errorf("%w: timeout", authcore.ErrStoreUnavailable), http.StatusServiceUnavailable, codes.Unavailable},
		{authcore.ErrEngineNotReady, http.StatusServiceUnavailable, codes.Unavailable},
		{errors.New("boom"), http.StatusInternalServerError, codes.Internal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, StatusCode(tc.err), tc.err.Error())
		assert.Equal(t, tc.code, Code(tc.err), tc.err.Error())
	}
}

func TestRemoteIP(t *testing.T) {
	require.Equal(t, "203.0.113.9", remoteIP("203.0.113.9:4431"))
	require.Equal(t, "::1", remoteIP("[::1]:80"))
	require.Equal(t, "pipe", remoteIP("pipe"))
}

func TestUnaryServerInterceptor(t *testing.T) {
	engine, _ := newEngine(t)
	token := bearer(t, engine, "u1")

	interceptor := UnaryServerInterceptor(engine,
		WithPublicMethods("/plans.v1.PlanService/Health"),
		WithMethodPermission("/plans.v1.PlanService/DeletePlan", deletePlan),
	)

	handler := func(ctx context.Context, _ any) (any, error) {
		id, ok := authcore.IdentityFromContext(ctx)
		if !ok {
			return "anonymous", nil
		}
		return id.UserID, nil
	}
	call := func(method, header string) (any, error) {
		ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}})
		if header != "" {
			ctx = metadata.NewIncomingContext(ctx, metadata.Pairs("authorization", header))
		}
		return interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: method}, handler)
	}

	resp, err := call("/plans.v1.PlanService/Health", "")
	require.NoError(t, err)
	require.Equal(t, "anonymous", resp)

	resp, err = call("/plans.v1.PlanService/GetPlan", token)
	require.NoError(t, err)
	require.Equal(t, "u1", resp)

	_, err = call("/plans.v1.PlanService/GetPlan", "")
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = call("/plans.v1.PlanService/DeletePlan", token)
	require.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestUnaryServerInterceptorNilAuthorizer(t *testing.T) {
	interceptor := UnaryServerInterceptor(nil)
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"},
		func(context.Context, any) (any, error) { return nil, nil })
	require.Equal(t, codes.Unavailable, status.Code(err))
}

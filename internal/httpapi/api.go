// Package httpapi exposes an authcore engine over JSON/HTTP.
//
//	POST /v1/auth/login                        {"identifier","password"}
//	POST /v1/auth/refresh                      {"refresh_token"}
//	POST /v1/auth/logout                       bearer
//	POST /v1/password-reset                    {"identifier"}
//	POST /v1/password-reset/confirm            {"identifier","code","new_password"}
//	POST /v1/subscription/activation           bearer
//	POST /v1/subscription/activation/confirm   bearer, {"code"}
//	GET  /v1/me                                bearer
//	GET  /v1/plans                             bearer, plan:read
//	DELETE /v1/plans/{id}                      bearer, plan:delete
//	GET  /metrics
//	GET  /healthz
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/MrEthical07/authcore/password"
)

const maxBodyBytes = 1 << 16

var (
	readPlans  = authcore.Permission{Resource: "plan", Action: "read"}
	deletePlan = authcore.Permission{Resource: "plan", Action: "delete"}
)

type API struct {
	engine *authcore.Engine
	logger *zap.Logger
}

func New(engine *authcore.Engine, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{engine: engine, logger: logger.Named("http")}
}

// Routes returns the full handler tree.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()
	guard := middleware.Guard(a.engine)

	mux.HandleFunc("POST /v1/auth/login", a.login)
	mux.HandleFunc("POST /v1/auth/refresh", a.refresh)
	mux.Handle("POST /v1/auth/logout", guard(http.HandlerFunc(a.logout)))

	mux.HandleFunc("POST /v1/password-reset", a.requestPasswordReset)
	mux.HandleFunc("POST /v1/password-reset/confirm", a.confirmPasswordReset)

	mux.Handle("POST /v1/subscription/activation", guard(http.HandlerFunc(a.requestActivation)))
	mux.Handle("POST /v1/subscription/activation/confirm", guard(http.HandlerFunc(a.confirmActivation)))

	mux.Handle("GET /v1/me", guard(http.HandlerFunc(a.me)))
	mux.Handle("GET /v1/plans", middleware.Require(a.engine, readPlans)(http.HandlerFunc(a.listPlans)))
	mux.Handle("DELETE /v1/plans/{id}", middleware.Require(a.engine, deletePlan)(http.HandlerFunc(a.deletePlan)))

	mux.Handle("GET /metrics", prometheus.NewExporter(a.engine).Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	TokenType        string    `json:"token_type"`
}

func newTokenResponse(p authcore.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      p.AccessToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshToken:     p.RefreshToken,
		RefreshExpiresAt: p.RefreshExpiresAt,
		TokenType:        "Bearer",
	}
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if !a.decode(w, r, &body) {
		return
	}
	pair, err := a.engine.Login(requestContext(r), body.Identifier, body.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !a.decode(w, r, &body) {
		return
	}
	pair, err := a.engine.Refresh(requestContext(r), body.RefreshToken)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	id, _ := authcore.IdentityFromContext(r.Context())
	if err := a.engine.Logout(r.Context(), id.UserID); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Identifier string `json:"identifier"`
	}
	if !a.decode(w, r, &body) {
		return
	}
	if err := a.engine.RequestPasswordReset(requestContext(r), body.Identifier); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) confirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Identifier  string `json:"identifier"`
		Code        string `json:"code"`
		NewPassword string `json:"new_password"`
	}
	if !a.decode(w, r, &body) {
		return
	}
	err := a.engine.ConfirmPasswordReset(requestContext(r), body.Identifier, body.Code, body.NewPassword)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) requestActivation(w http.ResponseWriter, r *http.Request) {
	id, _ := authcore.IdentityFromContext(r.Context())
	if err := a.engine.RequestSubscriptionActivation(r.Context(), id.UserID); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) confirmActivation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !a.decode(w, r, &body) {
		return
	}
	id, _ := authcore.IdentityFromContext(r.Context())
	if err := a.engine.ConfirmSubscriptionActivation(r.Context(), id.UserID, body.Code); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	id, _ := authcore.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":             id.UserID,
		"roles":               id.Roles,
		"token_version":       id.TokenVersion,
		"subscription_active": id.SubscriptionActive,
	})
}

// plan endpoints exist to exercise the policy gate; the catalogue is static.
func (a *API) listPlans(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"plans": {"free", "pro", "team"}})
}

func (a *API) deletePlan(w http.ResponseWriter, r *http.Request) {
	a.logger.Info("plan deleted", zap.String("plan", r.PathValue("id")))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed_request"})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

// StatusCode extends middleware.StatusCode with the challenge and password
// outcomes, which are client errors here.
func StatusCode(err error) int {
	switch authcore.KindOf(err) {
	case authcore.KindChallengeMismatch,
		authcore.KindChallengeExpired,
		authcore.KindChallengeAlreadyConsumed:
		return http.StatusBadRequest
	}
	if errors.Is(err, password.ErrPasswordTooShort) || errors.Is(err, password.ErrPasswordTooLong) {
		return http.StatusBadRequest
	}
	return middleware.StatusCode(err)
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	name := authcore.KindOf(err).String()
	switch {
	case errors.Is(err, password.ErrPasswordTooShort), errors.Is(err, password.ErrPasswordTooLong):
		name = "weak_password"
	case code == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	case code == http.StatusInternalServerError:
		a.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		name = "internal"
	}
	writeJSON(w, code, errorBody{Error: name})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestContext attaches the client address for audit events on routes
// that bypass the guard.
func requestContext(r *http.Request) context.Context {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return r.Context()
	}
	return authcore.WithClientIP(r.Context(), host)
}

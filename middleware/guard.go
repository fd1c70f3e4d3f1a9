package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/MrEthical07/authcore"
)

// Authorizer is satisfied by *authcore.Engine and *authcore.Gate.
type Authorizer interface {
	Authenticate(ctx context.Context, authorization string) (context.Context, *authcore.Identity, error)
	Authorize(ctx context.Context, authorization string, perm authcore.Permission) (context.Context, *authcore.Identity, error)
}

// Guard rejects requests without a valid bearer credential.
func Guard(a Authorizer) func(http.Handler) http.Handler {
	return guard(a, nil)
}

// Require rejects requests whose principal lacks perm.
func Require(a Authorizer, perm authcore.Permission) func(http.Handler) http.Handler {
	return guard(a, &perm)
}

func guard(a Authorizer, perm *authcore.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a == nil {
				writeError(w, authcore.ErrEngineNotReady)
				return
			}

			ctx := r.Context()
			if ip := remoteIP(r.RemoteAddr); ip != "" {
				ctx = authcore.WithClientIP(ctx, ip)
			}
			header := r.Header.Get("Authorization")

			var err error
			if perm == nil {
				ctx, _, err = a.Authenticate(ctx, header)
			} else {
				ctx, _, err = a.Authorize(ctx, header, *perm)
			}
			if err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StatusCode maps a gate error to an HTTP status.
func StatusCode(err error) int {
	switch authcore.KindOf(err) {
	case authcore.KindUnauthenticated,
		authcore.KindInvalidCredential,
		authcore.KindExpiredCredential,
		authcore.KindRevokedCredential:
		return http.StatusUnauthorized
	case authcore.KindPolicyDenied:
		return http.StatusForbidden
	case authcore.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, authcore.ErrEngineNotReady) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	switch code {
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer error="`+authcore.KindOf(err).String()+`"`)
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	}
	http.Error(w, http.StatusText(code), code)
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

package middleware

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/MrEthical07/authcore"
)

type interceptorConfig struct {
	public      map[string]bool
	permissions map[string]authcore.Permission
}

// InterceptorOption configures [UnaryServerInterceptor].
type InterceptorOption func(*interceptorConfig)

// WithPublicMethods lets the named full methods through without a credential.
func WithPublicMethods(methods ...string) InterceptorOption {
	return func(c *interceptorConfig) {
		for _, m := range methods {
			c.public[m] = true
		}
	}
}

// WithMethodPermission requires perm for fullMethod, e.g.
// "/plans.v1.PlanService/DeletePlan".
func WithMethodPermission(fullMethod string, perm authcore.Permission) InterceptorOption {
	return func(c *interceptorConfig) {
		c.permissions[fullMethod] = perm
	}
}

// UnaryServerInterceptor authenticates every call not marked public using
// the "authorization" metadata entry. Methods with a registered permission
// are authorized as well.
func UnaryServerInterceptor(a Authorizer, opts ...InterceptorOption) grpc.UnaryServerInterceptor {
	cfg := interceptorConfig{
		public:      make(map[string]bool),
		permissions: make(map[string]authcore.Permission),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if cfg.public[info.FullMethod] {
			return handler(ctx, req)
		}
		if a == nil {
			return nil, status.Error(codes.Unavailable, "authorizer not configured")
		}

		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get("authorization"); len(values) > 0 {
				header = values[0]
			}
		}
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			ctx = authcore.WithClientIP(ctx, remoteIP(p.Addr.String()))
		}

		var err error
		if perm, ok := cfg.permissions[info.FullMethod]; ok {
			ctx, _, err = a.Authorize(ctx, header, perm)
		} else {
			ctx, _, err = a.Authenticate(ctx, header)
		}
		if err != nil {
			return nil, status.Error(Code(err), authcore.KindOf(err).String())
		}
		return handler(ctx, req)
	}
}

// Code maps a gate error to a gRPC status code.
func Code(err error) codes.Code {
	switch StatusCode(err) {
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusServiceUnavailable:
		return codes.Unavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return codes.DeadlineExceeded
	}
	return codes.Internal
}

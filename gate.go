package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/permission"
)

// BearerPrefix is the only accepted authorization scheme. The match is
// case-sensitive and requires exactly one space.
const BearerPrefix = "Bearer "

// Gate turns an Authorization header into an authenticated [Identity] and,
// optionally, an authorization decision.
//
// The access token proves who the caller is. Roles and account status are
// always re-read through [UserLookup], so a disabled account or a role
// change takes effect without waiting for the token to expire.
type Gate struct {
	tokens *TokenService
	users  UserLookup
	policy *permission.Engine
	in     *instruments
}

// NewGate wires a Gate. A nil policy engine denies every Authorize call.
func NewGate(tokens *TokenService, users UserLookup, policy *permission.Engine, opts ...Option) (*Gate, error) {
	if tokens == nil {
		return nil, errors.New("gate requires a token service")
	}
	if users == nil {
		return nil, errors.New("gate requires a user lookup")
	}
	return &Gate{
		tokens: tokens,
		users:  users,
		policy: policy,
		in:     newInstruments(opts...),
	}, nil
}

// Authenticate resolves the caller and returns ctx enriched with its identity.
func (g *Gate) Authenticate(ctx context.Context, authorization string) (context.Context, *Identity, error) {
	start := time.Now()
	defer g.in.observeSince(MetricAuthenticateLatency, start)

	id, err := g.authenticate(ctx, authorization)
	if err != nil {
		g.reject(ctx, "", err)
		return ctx, nil, err
	}
	return WithIdentity(ctx, id), id, nil
}

// Authorize authenticates the caller and then requires perm.
func (g *Gate) Authorize(ctx context.Context, authorization string, perm Permission) (context.Context, *Identity, error) {
	ctx, id, err := g.Authenticate(ctx, authorization)
	if err != nil {
		return ctx, nil, err
	}

	if g.policy == nil || !g.policy.Allowed(id.Roles, perm.Resource, perm.Action) {
		g.in.inc(MetricPolicyDenied)
		g.reject(ctx, id.UserID, ErrPolicyDenied, "permission", perm.String())
		return ctx, nil, ErrPolicyDenied
	}
	return ctx, id, nil
}

func (g *Gate) authenticate(ctx context.Context, authorization string) (*Identity, error) {
	token, ok := strings.CutPrefix(authorization, BearerPrefix)
	if !ok || token == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := g.tokens.VerifyAccess(token)
	if err != nil {
		return nil, err
	}

	lctx, cancel := g.in.storeContext(ctx)
	defer cancel()

	user, err := g.users.FindByID(lctx, claims.Subject)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return nil, ErrInvalidCredential
	case err != nil:
		return nil, g.in.storeFailure("find user", err)
	}
	if user.Status != AccountActive {
		return nil, ErrInvalidCredential
	}

	return &Identity{
		UserID:             claims.Subject,
		Roles:              append([]string(nil), user.Roles...),
		TokenVersion:       claims.TokenVersion,
		SubscriptionActive: user.SubscriptionActive,
	}, nil
}

func (g *Gate) reject(ctx context.Context, owner string, err error, kv ...string) {
	g.in.inc(MetricGateRejected)
	g.in.emitAudit(ctx, auditEventAccessRejected, owner, 0, err, func() map[string]string {
		if len(kv) < 2 {
			return nil
		}
		return map[string]string{kv[0]: kv[1]}
	})
}

package auth

import (
	"context"
	"strings"

	"assetdesk/pkg/config"
)

type Role int

const (
	RoleUnauth Role = iota
	RoleFrontend
	RoleBackend
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleFrontend:
		return "frontend"
	case RoleBackend:
		return "backend"
	case RoleAdmin:
		return "admin"
	default:
		return "unauth"
	}
}

// SecConfig is the gateway's view of the security section.
type SecConfig struct {
	AllowedOrigins []string
	BackendKeys    map[string]struct{}
	FrontendKeys   map[string]struct{}
	AdminKeys      map[string]struct{}
	IPWhitelist    []string
	RPS            float64
	Burst          int
}

// NewSecConfig builds the gateway settings from the effective config.
func NewSecConfig(cfg *config.Config) SecConfig {
	set := func(keys []string) map[string]struct{} {
		m := make(map[string]struct{}, len(keys))
		for _, k := range keys {
			if k = strings.TrimSpace(k); k != "" {
				m[k] = struct{}{}
			}
		}
		return m
	}
	return SecConfig{
		AllowedOrigins: cfg.Security.CORS.AllowedOrigins,
		BackendKeys:    set(cfg.Security.APIKeys.Backend),
		FrontendKeys:   set(cfg.Security.APIKeys.Frontend),
		AdminKeys:      set(cfg.Security.APIKeys.Admin),
		IPWhitelist:    cfg.Security.IPWhitelist,
		RPS:            cfg.Security.RateLimit.RPS,
		Burst:          cfg.Security.RateLimit.Burst,
	}
}

// Identity is the verified end user behind a request.
type Identity struct {
	Subject string
	// TokenIdentifier is issuer-qualified: "<issuer>|<subject>".
	TokenIdentifier string
	Name            string
	Nickname        string
	Email           string
}

type ctxIdentityKey struct{}
type ctxRoleKey struct{}

// WithIdentity attaches a verified identity to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxIdentityKey{}, id)
}

// IdentityFromContext returns the verified identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxIdentityKey{}).(Identity)
	if !ok || id.Subject == "" {
		return Identity{}, false
	}
	return id, true
}

func withRole(ctx context.Context, r Role) context.Context {
	return context.WithValue(ctx, ctxRoleKey{}, r)
}

// RoleFromContext returns the API key role set by the gateway.
func RoleFromContext(ctx context.Context) Role {
	if r, ok := ctx.Value(ctxRoleKey{}).(Role); ok {
		return r
	}
	return RoleUnauth
}

package auth

import (
	"net"
	"net/http"
	"strings"

	"assetdesk/pkg/logger"
	"assetdesk/pkg/telemetry"
	"assetdesk/pkg/utils"
)

// AuthenticateRequestMiddleware applies CORS, the IP whitelist, API key
// roles, role scopes and per-key rate limits.
func AuthenticateRequestMiddleware(cfg SecConfig) func(http.Handler) http.Handler {
	limiters := newLimiterPool(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.LogRequest(r)

			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-API-Key,X-User-ID,X-User-Signature,X-User-Token,X-User-Name,X-User-Nickname,X-User-Email,Last-Event-ID")
				w.Header().Set("Access-Control-Expose-Headers", "X-Role-Name,X-Request-ID")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if len(cfg.IPWhitelist) > 0 {
				ip := clientIP(r)
				if !ipWhitelisted(ip, cfg.IPWhitelist) {
					utils.JSONError(w, http.StatusForbidden, "forbidden")
					logger.Warn("request_blocked", "reason", "ip_not_whitelisted", "ip", ip, "path", r.URL.Path)
					return
				}
			}

			if isHealthCheck(r) {
				r.Header.Set("X-Role-Name", RoleUnauth.String())
				next.ServeHTTP(w, r)
				return
			}

			end := telemetry.StartSpan(r.Context(), "auth.authenticate")
			role, key, hasAPIKey := authenticate(r, cfg)
			end()
			logger.Debug("auth_check", "role", role.String(), "has_api_key", hasAPIKey)

			if role == RoleUnauth {
				utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
				logger.Warn("request_unauthorized", "path", r.URL.Path, "remote", r.RemoteAddr)
				return
			}
			r.Header.Set("X-Role-Name", role.String())
			r = r.WithContext(withRole(r.Context(), role))

			if !roleAllowed(role, r) {
				utils.JSONError(w, http.StatusForbidden, "forbidden")
				logger.Warn("request_forbidden", "reason", "role_scope", "role", role.String(), "path", r.URL.Path)
				return
			}

			if !limiters.Allow(key) {
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				logger.Warn("rate_limited", "role", role.String(), "path", r.URL.Path)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isHealthCheck(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	switch r.URL.Path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/docs/")
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ipWhitelisted(ip string, list []string) bool {
	for _, w := range list {
		if ip == w {
			return true
		}
	}
	return false
}

// authenticate prefers "Authorization: Bearer <key>" and falls back to
// X-API-Key. Without a key the client ip becomes the limiter key.
func authenticate(r *http.Request, cfg SecConfig) (Role, string, bool) {
	auth := r.Header.Get("Authorization")
	var key string
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		key = strings.TrimSpace(auth[7:])
	}
	if key == "" {
		key = r.Header.Get("X-API-Key")
	}
	if key == "" {
		return RoleUnauth, clientIP(r), false
	}
	if _, ok := cfg.AdminKeys[key]; ok {
		return RoleAdmin, key, true
	}
	if _, ok := cfg.BackendKeys[key]; ok {
		return RoleBackend, key, true
	}
	if _, ok := cfg.FrontendKeys[key]; ok {
		return RoleFrontend, key, true
	}
	return RoleUnauth, key, true
}

// roleAllowed scopes roles: /v1/admin needs a backend or admin key; frontend
// keys are limited to the conversational surface.
func roleAllowed(role Role, r *http.Request) bool {
	p := r.URL.Path
	if strings.HasPrefix(p, "/v1/admin/") || p == "/v1/admin" {
		return role == RoleAdmin || role == RoleBackend
	}
	if role != RoleFrontend {
		return true
	}
	for _, prefix := range []string{"/v1/threads", "/v1/chat/", "/v1/users/ensure", "/v1/config/"} {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

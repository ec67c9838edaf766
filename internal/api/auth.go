package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"signalsync/internal/config"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	clientKeyUnknown      = "unknown"

	// DefaultActor is stamped on work triggered without an authenticated client.
	DefaultActor = "api"

	PermTrigger = "sync:trigger"
	PermQueue   = "sync:queue"
	PermRead    = "sync:read"
)

var (
	errMissingKey       = errors.New("missing api key headers")
	errInvalidKey       = errors.New("invalid api key")
	errInvalidExtra     = errors.New("invalid extra header")
	errPermissionDenied = errors.New("permission denied")
	errRateLimited      = errors.New("rate limit exceeded")
)

type actorKey struct{}

// ActorFromContext returns the authenticated client name, or DefaultActor.
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return DefaultActor
}

// HTTPAuth provides API-key auth and per-key rate limiting.
type HTTPAuth struct {
	cfg         config.APIAuthConfig
	clients     map[string]config.APIClientKey
	limiter     *rateLimiter
	headerKey   string
	headerExtra string
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}

	headerKey := strings.ToLower(strings.TrimSpace(cfg.Auth.HeaderAPIKey))
	if headerKey == "" {
		headerKey = apiKeyHeaderDefault
	}
	headerExtra := strings.ToLower(strings.TrimSpace(cfg.Auth.HeaderExtra))
	if headerExtra == "" {
		headerExtra = apiExtraHeaderDefault
	}

	return &HTTPAuth{
		cfg:         cfg.Auth,
		clients:     m,
		limiter:     newRateLimiter(cfg.RateLimit),
		headerKey:   headerKey,
		headerExtra: headerExtra,
	}
}

// Require guards next with authentication, the given permission and the
// rate limit. An empty permission leaves the route open.
func (a *HTTPAuth) Require(permission string, next http.Handler) http.Handler {
	if permission == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if a.cfg.Enabled {
			client, err := a.authenticate(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			if !hasPermission(client, permission) {
				writeError(w, http.StatusForbidden, errPermissionDenied.Error())
				return
			}
			if client.Name != "" {
				ctx = context.WithValue(ctx, actorKey{}, client.Name)
			}
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errRateLimited.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *HTTPAuth) authenticate(r *http.Request) (config.APIClientKey, error) {
	apiKey := strings.TrimSpace(r.Header.Get(a.headerKey))
	extra := strings.TrimSpace(r.Header.Get(a.headerExtra))
	if apiKey == "" || extra == "" {
		return config.APIClientKey{}, errMissingKey
	}

	client, ok := a.clients[apiKey]
	if !ok {
		return config.APIClientKey{}, errInvalidKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return config.APIClientKey{}, errInvalidExtra
	}
	return client, nil
}

// hasPermission treats an empty permission list as allow-all.
func hasPermission(client config.APIClientKey, required string) bool {
	if len(client.Permissions) == 0 {
		return true
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return true
		}
	}
	return false
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.headerKey)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

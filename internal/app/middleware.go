package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/unrolled/secure"

	"github.com/odyssey-erp/scorecard/internal/observability"
	"github.com/odyssey-erp/scorecard/internal/platform/httpx"
	"github.com/odyssey-erp/scorecard/internal/shared"
)

// Gateway headers carrying the authenticated caller.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRole  = "X-User-Role"
	HeaderCompanyID = "X-Company-ID"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the scorecard middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}
	limit := 120
	if cfg.Config != nil && cfg.Config.RateLimitPerMinute > 0 {
		limit = cfg.Config.RateLimitPerMinute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
		ActorMiddleware,
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, func(next http.Handler) http.Handler {
			return cfg.Metrics.Middleware(next)
		})
	}
	return middlewares
}

// ActorMiddleware reads the caller descriptor set by the gateway. Requests
// without X-User-ID pass through anonymous; malformed headers are rejected.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if rawID == "" {
			next.ServeHTTP(w, r)
			return
		}
		actor, err := parseActor(rawID, r.Header.Get(HeaderUserRole), r.Header.Get(HeaderCompanyID))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

func parseActor(rawID, rawRole, rawCompany string) (shared.Actor, error) {
	id, err := uuid.Parse(rawID)
	if err != nil || id == uuid.Nil {
		return shared.Actor{}, fmt.Errorf("%w: invalid %s", httpx.ErrUnauthorized, HeaderUserID)
	}
	role := shared.Role(strings.ToUpper(strings.TrimSpace(rawRole)))
	if !role.Valid() {
		return shared.Actor{}, fmt.Errorf("%w: invalid %s", httpx.ErrUnauthorized, HeaderUserRole)
	}
	actor := shared.Actor{ID: id, Role: role}
	if rawCompany = strings.TrimSpace(rawCompany); rawCompany != "" {
		companyID, err := uuid.Parse(rawCompany)
		if err != nil {
			return shared.Actor{}, fmt.Errorf("%w: invalid %s", httpx.ErrUnauthorized, HeaderCompanyID)
		}
		actor.CompanyID = &companyID
	}
	return actor, nil
}

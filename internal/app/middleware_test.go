package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/scorecard/internal/shared"
)

func actorEcho(t *testing.T, seen *shared.Actor, found *bool) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen, *found = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestActorMiddlewareReadsGatewayHeaders(t *testing.T) {
	userID := uuid.New()
	companyID := uuid.New()
	var actor shared.Actor
	var found bool

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, userID.String())
	req.Header.Set(HeaderUserRole, "gestor")
	req.Header.Set(HeaderCompanyID, companyID.String())
	rec := httptest.NewRecorder()
	ActorMiddleware(actorEcho(t, &actor, &found)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, found)
	require.Equal(t, userID, actor.ID)
	require.Equal(t, shared.RoleManager, actor.Role)
	require.NotNil(t, actor.CompanyID)
	require.Equal(t, companyID, *actor.CompanyID)
}

func TestActorMiddlewareAnonymousPassesThrough(t *testing.T) {
	var actor shared.Actor
	var found bool

	rec := httptest.NewRecorder()
	ActorMiddleware(actorEcho(t, &actor, &found)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.False(t, found)
}

func TestActorMiddlewareRejectsMalformedHeaders(t *testing.T) {
	cases := map[string]map[string]string{
		"bad user id": {HeaderUserID: "nope", HeaderUserRole: "GESTOR"},
		"unknown role": {HeaderUserID: uuid.NewString(), HeaderUserRole: "ROOT"},
		"bad company": {HeaderUserID: uuid.NewString(), HeaderUserRole: "GESTOR", HeaderCompanyID: "x"},
	}
	for name, headers := range cases {
		t.Run(name, func(t *testing.T) {
			var actor shared.Actor
			var found bool
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			ActorMiddleware(actorEcho(t, &actor, &found)).ServeHTTP(rec, req)

			require.Equal(t, http.StatusUnauthorized, rec.Code)
			require.False(t, found)
		})
	}
}

func TestRouterServesHealthz(t *testing.T) {
	router := NewRouter(RouterParams{Config: &Config{RateLimitPerMinute: 10}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

package handlers

import (
	"net/http"
	"time"

	"danmakuhub/backend/httpapi"
	"danmakuhub/backend/router"
)

type healthModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &healthModule{deps: deps}
	})
}

func (m *healthModule) Prefix() string {
	return m.deps.Config.APIBase
}

func (m *healthModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodGet, Pattern: "/health", Summary: "Health check", Handler: m.health},
	}
}

func (m *healthModule) health(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

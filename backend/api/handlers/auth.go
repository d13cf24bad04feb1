package handlers

import (
	"net/http"
	"time"

	"danmakuhub/backend/httpapi"
	"danmakuhub/backend/router"
)

type authModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &authModule{deps: deps}
	})
}

func (m *authModule) Prefix() string {
	return m.deps.Config.APIBase + "/auth"
}

func (m *authModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodPost, Pattern: "/login", Summary: "Admin login", Handler: m.login},
		{Method: http.MethodPost, Pattern: "/logout", Summary: "Admin logout", Handler: m.logout},
		{Method: http.MethodGet, Pattern: "/status", Summary: "Session status", Handler: m.status},
	}
}

func (m *authModule) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := m.deps.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		httpapi.Error(w, -401, err.Error(), http.StatusUnauthorized)
		return
	}
	expires, _ := time.Parse(time.RFC3339, result.ExpiresAt)
	http.SetCookie(w, &http.Cookie{
		Name:     httpapi.SessionCookieName,
		Value:    result.Token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	httpapi.OK(w, result)
}

func (m *authModule) logout(w http.ResponseWriter, r *http.Request) {
	if token := httpapi.ExtractToken(r); token != "" {
		if err := m.deps.Auth.Logout(r.Context(), token); err != nil {
			httpapi.Error(w, -1, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     httpapi.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	httpapi.OKMessage(w, "Logged out")
}

func (m *authModule) status(w http.ResponseWriter, r *http.Request) {
	token := httpapi.ExtractToken(r)
	if token == "" {
		httpapi.OK(w, map[string]any{"authenticated": false})
		return
	}
	user, err := m.deps.Auth.Validate(r.Context(), token)
	if err != nil || user == nil {
		httpapi.OK(w, map[string]any{"authenticated": false})
		return
	}
	httpapi.OK(w, map[string]any{
		"authenticated": true,
		"user": map[string]any{
			"id":       user.ID,
			"username": user.Username,
		},
	})
}

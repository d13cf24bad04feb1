package handlers

import (
	"net/http"
	"strings"

	"danmakuhub/backend/httpapi"
	"danmakuhub/backend/router"
	"danmakuhub/backend/service/danmaku"
)

type adminDanmakuModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &adminDanmakuModule{deps: deps}
	})
}

func (m *adminDanmakuModule) Prefix() string {
	return m.deps.Config.APIBase + "/admin/danmaku"
}

func (m *adminDanmakuModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodGet, Pattern: "/", Summary: "Read danmaku settings", Handler: m.get},
		{Method: http.MethodPost, Pattern: "/", Summary: "Update danmaku settings", Handler: m.update},
	}
}

// settingsView is what the admin UI sees. The encrypted cookie never leaves
// the server; only the configured flag does.
type settingsView struct {
	DefaultProvider   string            `json:"defaultProvider,omitempty"`
	Mappings          []danmaku.Mapping `json:"mappings"`
	AutoImportEnabled *bool             `json:"autoImportEnabled,omitempty"`
	HasBilibiliCookie bool              `json:"hasBilibiliCookie"`
}

func viewOf(settings *danmaku.Settings) settingsView {
	mappings := settings.Mappings
	if mappings == nil {
		mappings = []danmaku.Mapping{}
	}
	return settingsView{
		DefaultProvider:   settings.DefaultProvider,
		Mappings:          mappings,
		AutoImportEnabled: settings.AutoImportEnabled,
		HasBilibiliCookie: settings.BilibiliCookieEncrypted != "",
	}
}

func (m *adminDanmakuModule) get(w http.ResponseWriter, r *http.Request) {
	settings, err := m.deps.Settings.Get(r.Context())
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusInternalServerError)
		return
	}
	httpapi.OK(w, viewOf(settings))
}

type updateSettingsRequest struct {
	DefaultProvider   *string            `json:"defaultProvider,omitempty"`
	Mappings          *[]danmaku.Mapping `json:"mappings,omitempty"`
	AutoImportEnabled *bool              `json:"autoImportEnabled,omitempty"`
	Cookie            *string            `json:"cookie,omitempty"`
	ClearCookie       bool               `json:"clearCookie,omitempty"`
}

func (m *adminDanmakuModule) update(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusBadRequest)
		return
	}
	if req.DefaultProvider != nil {
		provider := strings.TrimSpace(*req.DefaultProvider)
		if provider != "" && provider != danmaku.ProviderDanDanPlay && provider != danmaku.ProviderBilibili {
			httpapi.Error(w, -1, "defaultProvider must be dandanplay or bilibili", http.StatusBadRequest)
			return
		}
	}

	settings, err := m.deps.Settings.Get(r.Context())
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusInternalServerError)
		return
	}
	updated := *settings
	if req.DefaultProvider != nil {
		updated.DefaultProvider = strings.TrimSpace(*req.DefaultProvider)
	}
	if req.Mappings != nil {
		updated.Mappings = *req.Mappings
	}
	if req.AutoImportEnabled != nil {
		updated.AutoImportEnabled = req.AutoImportEnabled
	}
	if req.ClearCookie {
		updated.BilibiliCookieEncrypted = ""
	} else if req.Cookie != nil {
		if err := m.deps.Settings.SetBilibiliCookie(r.Context(), &updated, *req.Cookie); err != nil {
			httpapi.Error(w, -1, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	if err := m.deps.Settings.Save(r.Context(), &updated); err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusInternalServerError)
		return
	}
	httpapi.OK(w, viewOf(&updated))
}

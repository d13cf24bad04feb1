package handlers

import (
	"net/http"
	"strings"

	"danmakuhub/backend/config"
	"danmakuhub/backend/httpapi"
	"danmakuhub/backend/router"
)

type adminConfigModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &adminConfigModule{deps: deps}
	})
}

func (m *adminConfigModule) Prefix() string {
	return m.deps.Config.APIBase + "/admin/config"
}

func (m *adminConfigModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodGet, Pattern: "/", Summary: "Read runtime config", Handler: m.get},
		{Method: http.MethodPost, Pattern: "/", Summary: "Update runtime config", Handler: m.update},
		{Method: http.MethodPost, Pattern: "/reload", Summary: "Reload config from disk", Handler: m.reload},
	}
}

// configView exposes the non-secret runtime options. Secrets live in the
// environment and never appear here.
type configView struct {
	ListenAddr      string `json:"listenAddr"`
	DataDir         string `json:"dataDir"`
	DBPath          string `json:"dbPath"`
	APIBase         string `json:"apiBase"`
	AllowOrigin     string `json:"allowOrigin"`
	EnableDebugLogs bool   `json:"enableDebugLogs"`
	DanDanPlayAppID string `json:"dandanplayAppId,omitempty"`
	ConfigFile      string `json:"configFile"`
}

func (m *adminConfigModule) viewOf(cfg config.Config) configView {
	return configView{
		ListenAddr:      cfg.ListenAddr,
		DataDir:         cfg.DataDir,
		DBPath:          cfg.DBPath,
		APIBase:         cfg.APIBase,
		AllowOrigin:     cfg.AllowOrigin,
		EnableDebugLogs: cfg.EnableDebugLogs,
		DanDanPlayAppID: cfg.DanDanPlayAppID,
		ConfigFile:      m.deps.ConfigMgr.ConfigPath(),
	}
}

func (m *adminConfigModule) get(w http.ResponseWriter, r *http.Request) {
	httpapi.OK(w, m.viewOf(m.deps.ConfigMgr.Current()))
}

// updateConfigRequest carries the fields an admin may change at runtime.
// listenAddr persists but takes effect on the next start.
type updateConfigRequest struct {
	ListenAddr      *string `json:"listenAddr,omitempty"`
	AllowOrigin     *string `json:"allowOrigin,omitempty"`
	EnableDebugLogs *bool   `json:"enableDebugLogs,omitempty"`
	DanDanPlayAppID *string `json:"dandanplayAppId,omitempty"`
}

func (m *adminConfigModule) update(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusBadRequest)
		return
	}

	cfg := m.deps.ConfigMgr.Current()
	if req.ListenAddr != nil {
		addr := strings.TrimSpace(*req.ListenAddr)
		if addr == "" {
			httpapi.Error(w, -1, "listenAddr must not be empty", http.StatusBadRequest)
			return
		}
		cfg.ListenAddr = addr
	}
	if req.AllowOrigin != nil {
		cfg.AllowOrigin = strings.TrimSpace(*req.AllowOrigin)
	}
	if req.EnableDebugLogs != nil {
		cfg.EnableDebugLogs = *req.EnableDebugLogs
		cfg.DebugMode = *req.EnableDebugLogs
	}
	if req.DanDanPlayAppID != nil {
		cfg.DanDanPlayAppID = strings.TrimSpace(*req.DanDanPlayAppID)
	}

	saved, err := m.deps.ConfigMgr.Save(cfg)
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusInternalServerError)
		return
	}
	httpapi.OK(w, m.viewOf(saved))
}

func (m *adminConfigModule) reload(w http.ResponseWriter, r *http.Request) {
	cfg, err := m.deps.ConfigMgr.ReloadFromDisk()
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusInternalServerError)
		return
	}
	httpapi.OK(w, m.viewOf(cfg))
}

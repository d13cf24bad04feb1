package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "danmakuhub/backend/api/handlers"
	"danmakuhub/backend/config"
	"danmakuhub/backend/logging"
	"danmakuhub/backend/router"
	authsvc "danmakuhub/backend/service/auth"
	"danmakuhub/backend/service/bilibili"
	"danmakuhub/backend/service/dandanplay"
	"danmakuhub/backend/service/danmaku"
	"danmakuhub/backend/store"
)

type App struct {
	cfg        config.Config
	cfgManager *config.Manager
	store      *store.Store
	server     *http.Server
	routes     []router.Route
	logger     *logging.Manager
}

func New(cfgManager *config.Manager) (*App, error) {
	if cfgManager == nil {
		return nil, fmt.Errorf("config manager is required")
	}
	cfg := cfgManager.Current()
	log.Printf("[config] using config file: %s", cfg.ConfigFile)
	log.Printf("[config] database path: %s", cfg.DBPath)
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, err
	}
	storeDB, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	loggerMgr, err := logging.New(cfg)
	if err != nil {
		storeDB.Close()
		return nil, err
	}

	authService := authsvc.New(storeDB, 24*time.Hour)
	if err := authService.EnsureBootstrapUser(context.Background(), cfg.AdminUsername, cfg.AdminPassword); err != nil {
		_ = loggerMgr.Close()
		storeDB.Close()
		return nil, err
	}

	settingsSvc := danmaku.NewSettingsService(storeDB, cfgManager)
	dandanplayClient := dandanplay.New(cfg.DanDanPlayAppID, cfg.DanDanPlayAppSecret)
	bilibiliClient := bilibili.New(settingsSvc)
	danmakuSvc := danmaku.NewService(storeDB, settingsSvc, dandanplayClient, bilibiliClient)

	deps := &router.Dependencies{
		Config:     cfg,
		ConfigMgr:  cfgManager,
		Store:      storeDB,
		Auth:       authService,
		Settings:   settingsSvc,
		Danmaku:    danmakuSvc,
		DanDanPlay: dandanplayClient,
		Bilibili:   bilibiliClient,
	}
	apiHandler, routes := router.Build(deps)

	app := &App{
		cfg:        cfg,
		cfgManager: cfgManager,
		store:      storeDB,
		routes:     routes,
		logger:     loggerMgr,
	}
	cfgManager.AddListener(func(newCfg config.Config) {
		log.Printf("[config] hot reload applied from %s", newCfg.ConfigFile)
		dandanplayClient.SetCredentials(newCfg.DanDanPlayAppID, newCfg.DanDanPlayAppSecret)
		if err := loggerMgr.Update(newCfg); err != nil {
			log.Printf("[config][warn] update logger failed: %v", err)
		}
	})
	app.server = &http.Server{
		Addr:              cfg.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		Handler:           apiHandler,
	}
	return app, nil
}

func (a *App) Run() error {
	a.cfgManager.StartWatching()
	log.Printf("[app] listening on %s (api base %s)", a.cfg.ListenAddr, a.cfg.APIBase)
	for _, rt := range a.routes {
		log.Printf("[app] route %-6s %s", rt.Method, rt.Pattern)
	}
	return a.server.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.cfgManager.StopWatching()
	err := a.server.Shutdown(ctx)
	if closeErr := a.store.Close(); err == nil {
		err = closeErr
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
	return err
}

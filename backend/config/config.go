package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Config holds runtime options for the danmaku import service.
type Config struct {
	ListenAddr          string `json:"listenAddr"`
	DataDir             string `json:"dataDir"`
	DBPath              string `json:"dbPath"`
	APIBase             string `json:"apiBase"`
	AllowOrigin         string `json:"allowOrigin"`
	DebugMode           bool   `json:"debugMode"`
	EnableDebugLogs     bool   `json:"enableDebugLogs"`
	AdminUsername       string `json:"adminUsername"`
	AdminPassword       string `json:"-"`
	CookiePassphrase    string `json:"-"`
	BilibiliCookie      string `json:"-"`
	DanDanPlayAppID     string `json:"dandanplayAppId"`
	DanDanPlayAppSecret string `json:"-"`
	ConfigFile          string `json:"configFile"`
}

const fallbackPassphrase = "danmakuhub"

func resolveConfigFilePath() (string, error) {
	path := strings.TrimSpace(os.Getenv("DANMAKU_CONFIG_FILE"))
	if path == "" {
		path = filepath.FromSlash("./data/config.json")
	}
	return filepath.Abs(path)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func defaultConfig(configFile string) Config {
	baseDir := filepath.Dir(configFile)
	cfg := Config{
		ListenAddr:      envOrDefault("DANMAKU_LISTEN", ":18787"),
		DataDir:         envOrDefault("DANMAKU_DATA_DIR", baseDir),
		APIBase:         envOrDefault("DANMAKU_API_BASE", "/api/v1"),
		AllowOrigin:     envOrDefault("DANMAKU_ALLOW_ORIGIN", "*"),
		DebugMode:       strings.EqualFold(envOrDefault("DANMAKU_DEBUG", "false"), "true"),
		EnableDebugLogs: strings.EqualFold(envOrDefault("DANMAKU_DEBUG", "false"), "true"),
		AdminUsername:   envOrDefault("DANMAKU_ADMIN_USER", "admin"),
		ConfigFile:      configFile,
	}
	cfg = normalizeConfig(cfg, configFile)
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "db", "danmaku.db")
	}
	cfg.ConfigFile = configFile
	return cfg
}

func normalizeConfig(cfg Config, configFile string) Config {
	configDir := filepath.Dir(configFile)
	cfg.ConfigFile = configFile

	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = ":18787"
	}
	if strings.TrimSpace(cfg.APIBase) == "" {
		cfg.APIBase = "/api/v1"
	}
	if !strings.HasPrefix(cfg.APIBase, "/") {
		cfg.APIBase = "/" + cfg.APIBase
	}
	cfg.APIBase = strings.TrimSuffix(cfg.APIBase, "/")
	if cfg.APIBase == "" {
		cfg.APIBase = "/api/v1"
	}
	if strings.TrimSpace(cfg.AllowOrigin) == "" {
		cfg.AllowOrigin = "*"
	}
	if cfg.DebugMode {
		cfg.EnableDebugLogs = true
	}
	cfg.DebugMode = cfg.EnableDebugLogs
	if strings.TrimSpace(cfg.AdminUsername) == "" {
		cfg.AdminUsername = "admin"
	}

	// Secrets never round-trip through the config file.
	cfg.AdminPassword = strings.TrimSpace(os.Getenv("DANMAKU_ADMIN_PASSWORD"))
	cfg.BilibiliCookie = strings.TrimSpace(os.Getenv("BILIBILI_COOKIE"))
	cfg.DanDanPlayAppSecret = strings.TrimSpace(os.Getenv("DANDANPLAY_APP_SECRET"))
	if appID := strings.TrimSpace(os.Getenv("DANDANPLAY_APP_ID")); appID != "" {
		cfg.DanDanPlayAppID = appID
	}
	cfg.CookiePassphrase = strings.TrimSpace(os.Getenv("DANMAKU_PASSWORD"))
	if cfg.CookiePassphrase == "" {
		cfg.CookiePassphrase = cfg.AdminPassword
	}
	if cfg.CookiePassphrase == "" {
		cfg.CookiePassphrase = fallbackPassphrase
	}

	cfg.DataDir = absPathWithBase(cfg.DataDir, configDir)
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = configDir
	}

	cfg.DBPath = absPathWithBase(cfg.DBPath, configDir)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "db", "danmaku.db")
	}
	return cfg
}

func absPathWithBase(target string, base string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return ""
	}
	if filepath.IsAbs(target) {
		return target
	}
	if base == "" {
		if abs, err := filepath.Abs(target); err == nil {
			return abs
		}
		return target
	}
	if abs, err := filepath.Abs(filepath.Join(base, target)); err == nil {
		return abs
	}
	return filepath.Join(base, target)
}

// Load keeps backward compatibility by returning the current config snapshot.
func Load() (Config, error) {
	manager, err := NewManager()
	if err != nil {
		return Config{}, err
	}
	cfg := manager.Current()
	manager.StopWatching()
	return cfg, nil
}

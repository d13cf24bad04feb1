package danmaku

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"

	"danmakuhub/backend/config"
	"danmakuhub/backend/crypto"
	"danmakuhub/backend/store"
)

// Mapping is an admin-managed override for one (source, id) pair. Episodes
// maps 1-based episode numbers (as strings) to provider external ids.
type Mapping struct {
	Key        string            `json:"key"`
	Provider   string            `json:"provider,omitempty"`
	Episodes   map[string]string `json:"episodes,omitempty"`
	AliasTitle string            `json:"aliasTitle,omitempty"`
}

// Settings is the admin-editable runtime configuration, persisted as one JSON
// blob in the store.
type Settings struct {
	DefaultProvider         string    `json:"defaultProvider,omitempty"`
	Mappings                []Mapping `json:"mappings,omitempty"`
	AutoImportEnabled       *bool     `json:"autoImportEnabled,omitempty"`
	BilibiliCookieEncrypted string    `json:"bilibiliCookieEncrypted,omitempty"`
}

// MappingFor returns the override for source+id, or nil.
func (s *Settings) MappingFor(source string, id string) *Mapping {
	if s == nil {
		return nil
	}
	key := source + id
	for i := range s.Mappings {
		if s.Mappings[i].Key == key {
			return &s.Mappings[i]
		}
	}
	return nil
}

// ExternalIDFor returns the per-episode external id override for a 0-based
// episode index, or "".
func (m *Mapping) ExternalIDFor(episode int) string {
	if m == nil || len(m.Episodes) == 0 {
		return ""
	}
	return strings.TrimSpace(m.Episodes[oneBasedEpisode(episode)])
}

// SettingsService reads and writes Settings behind an in-memory cache, and
// resolves the Bilibili session cookie.
type SettingsService struct {
	store  *store.Store
	cfgMgr *config.Manager

	mu     sync.RWMutex
	cached *Settings
}

func NewSettingsService(storeDB *store.Store, cfgMgr *config.Manager) *SettingsService {
	return &SettingsService{store: storeDB, cfgMgr: cfgMgr}
}

// Get returns the current settings, loading them from the store on first use.
// A missing record yields empty settings, not an error.
func (s *SettingsService) Get(ctx context.Context) (*Settings, error) {
	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	raw, ok, err := s.store.GetString(ctx, settingsStorageKey)
	if err != nil {
		return nil, err
	}
	settings := &Settings{}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), settings); err != nil {
			log.Printf("[danmaku][warn] settings record unreadable, using defaults: %v", err)
			settings = &Settings{}
		}
	}
	s.SetCached(settings)
	return settings, nil
}

// Save persists settings and refreshes the cache.
func (s *SettingsService) Save(ctx context.Context, settings *Settings) error {
	if settings == nil {
		settings = &Settings{}
	}
	body, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	if err := s.store.SetString(ctx, settingsStorageKey, string(body)); err != nil {
		return err
	}
	s.SetCached(settings)
	return nil
}

func (s *SettingsService) SetCached(settings *Settings) {
	s.mu.Lock()
	s.cached = settings
	s.mu.Unlock()
}

// BilibiliCookie resolves the session cookie: the environment override wins,
// then the admin-configured encrypted cookie is decrypted. An empty return is
// normal, cookie-less requests are just more likely to be rejected upstream.
func (s *SettingsService) BilibiliCookie(ctx context.Context) string {
	cfg := s.cfgMgr.Current()
	if cfg.BilibiliCookie != "" {
		return cfg.BilibiliCookie
	}

	settings, err := s.Get(ctx)
	if err != nil || settings.BilibiliCookieEncrypted == "" {
		return ""
	}
	plaintext, err := crypto.Decrypt(settings.BilibiliCookieEncrypted, cfg.CookiePassphrase)
	if err != nil {
		log.Printf("[danmaku][warn] stored cookie decrypt failed: %v", err)
		return ""
	}
	return strings.TrimSpace(plaintext)
}

// SetBilibiliCookie encrypts and stores a plaintext cookie; empty clears it.
func (s *SettingsService) SetBilibiliCookie(ctx context.Context, settings *Settings, cookie string) error {
	cookie = strings.TrimSpace(cookie)
	if cookie == "" {
		settings.BilibiliCookieEncrypted = ""
		return nil
	}
	token, err := crypto.Encrypt(cookie, s.cfgMgr.Current().CookiePassphrase)
	if err != nil {
		return err
	}
	settings.BilibiliCookieEncrypted = token
	return nil
}

package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"
)

// ChangeListener receives the new snapshot after a config change is applied.
type ChangeListener func(Config)

// Manager owns the config file: it loads it at startup (creating a default
// one when absent), serves read snapshots, persists admin edits, and polls
// the file so external edits take effect without a restart.
type Manager struct {
	path string

	mu        sync.RWMutex
	current   Config
	stamp     fileStamp
	listeners []ChangeListener

	pollEvery time.Duration
	pollStop  chan struct{}
	pollDone  chan struct{}
}

// fileStamp is the change-detection fingerprint for the config file.
type fileStamp struct {
	modTime time.Time
	size    int64
}

func stampOf(info os.FileInfo) fileStamp {
	if info == nil {
		return fileStamp{}
	}
	return fileStamp{modTime: info.ModTime(), size: info.Size()}
}

func (s fileStamp) equals(other fileStamp) bool {
	return s.modTime.Equal(other.modTime) && s.size == other.size
}

func NewManager() (*Manager, error) {
	path, err := resolveConfigFilePath()
	if err != nil {
		return nil, err
	}
	cfg, info, err := readOrCreate(path)
	if err != nil {
		return nil, err
	}
	return &Manager{
		path:      path,
		current:   cfg,
		stamp:     stampOf(info),
		pollEvery: 2 * time.Second,
	}, nil
}

// ConfigPath returns the absolute path of the backing file.
func (m *Manager) ConfigPath() string {
	return m.path
}

func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manager) AddListener(fn ChangeListener) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Save persists cfg to the config file and applies it immediately. Secret
// fields re-resolve from the environment during normalization and are tagged
// out of the JSON encoding, so they never land on disk.
func (m *Manager) Save(cfg Config) (Config, error) {
	cfg = normalizeConfig(cfg, m.path)
	if err := writeConfigFile(m.path, cfg); err != nil {
		return Config{}, err
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return Config{}, err
	}
	m.apply(cfg, stampOf(info))
	return cfg, nil
}

// ReloadFromDisk re-reads the file unconditionally. The admin reload endpoint
// uses it to pick up external edits without waiting for the poller.
func (m *Manager) ReloadFromDisk() (Config, error) {
	cfg, info, err := readConfigFile(m.path)
	if err != nil {
		return Config{}, err
	}
	m.apply(cfg, stampOf(info))
	return cfg, nil
}

// StartWatching begins polling the config file for external edits. Calling
// it while a poller is already running is a no-op.
func (m *Manager) StartWatching() {
	m.mu.Lock()
	if m.pollStop != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	m.pollStop, m.pollDone = stop, done
	every := m.pollEvery
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := m.pollOnce(); err != nil {
					log.Printf("[config][warn] hot reload failed: %v", err)
				}
			}
		}
	}()
}

func (m *Manager) StopWatching() {
	m.mu.Lock()
	stop, done := m.pollStop, m.pollDone
	m.pollStop, m.pollDone = nil, nil
	m.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (m *Manager) pollOnce() error {
	info, err := os.Stat(m.path)
	if os.IsNotExist(err) {
		// Someone deleted the file out from under us; recreate the default.
		cfg, createInfo, createErr := writeDefaultConfig(m.path)
		if createErr != nil {
			return createErr
		}
		m.apply(cfg, stampOf(createInfo))
		return nil
	}
	if err != nil {
		return err
	}

	m.mu.RLock()
	unchanged := stampOf(info).equals(m.stamp)
	m.mu.RUnlock()
	if unchanged {
		return nil
	}

	cfg, readInfo, err := readConfigFile(m.path)
	if err != nil {
		return err
	}
	m.apply(cfg, stampOf(readInfo))
	return nil
}

func (m *Manager) apply(cfg Config, stamp fileStamp) {
	cfg = normalizeConfig(cfg, m.path)

	m.mu.Lock()
	changed := !reflect.DeepEqual(m.current, cfg)
	m.current = cfg
	m.stamp = stamp
	listeners := append([]ChangeListener(nil), m.listeners...)
	m.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		m.notify(fn, cfg)
	}
}

// notify isolates listener panics so one bad callback cannot kill the poller.
func (m *Manager) notify(fn ChangeListener, cfg Config) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[config][warn] listener panic: %v", r)
		}
	}()
	fn(cfg)
}

func readOrCreate(path string) (Config, os.FileInfo, error) {
	cfg, info, err := readConfigFile(path)
	if err == nil {
		return cfg, info, nil
	}
	if !os.IsNotExist(err) {
		return Config{}, nil, err
	}
	return writeDefaultConfig(path)
}

func writeDefaultConfig(path string) (Config, os.FileInfo, error) {
	cfg := defaultConfig(path)
	if err := writeConfigFile(path, cfg); err != nil {
		return Config{}, nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, info, nil
}

// readConfigFile parses the file over the defaults, so a partial file is
// valid. A missing file surfaces as os.IsNotExist for readOrCreate.
func readConfigFile(path string) (Config, os.FileInfo, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, nil, err
	}
	cfg := defaultConfig(path)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg = normalizeConfig(cfg, path)
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, info, nil
}

func writeConfigFile(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	body, err := json.MarshalIndent(normalizeConfig(cfg, path), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o644)
}

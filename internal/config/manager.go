// internal/config/manager.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Corphon/AIDungeonMaster/internal/utils"
)

// secretKeys are LLM settings sealed before they touch disk.
var secretKeys = []string{"api_key"}

// AppConfig is the runtime-editable part of the configuration, persisted as
// JSON under the data dir.
type AppConfig struct {
	LLMProvider string            `json:"llm_provider"`
	LLMConfig   map[string]string `json:"llm_config"`
	DebugMode   bool              `json:"debug_mode"`
}

func (a *AppConfig) clone() *AppConfig {
	cp := *a
	cp.LLMConfig = make(map[string]string, len(a.LLMConfig))
	for k, v := range a.LLMConfig {
		cp.LLMConfig[k] = v
	}
	return &cp
}

// Manager owns the persisted AppConfig. Values from the environment are the
// defaults; the file overrides them except for an empty api key.
type Manager struct {
	mu      sync.RWMutex
	path    string
	secret  string
	current *AppConfig
}

// NewManager loads path when it exists and writes the merged result back.
func NewManager(cfg *Config) (*Manager, error) {
	m := &Manager{
		path:   cfg.ConfigFile(),
		secret: cfg.ConfigSecret,
		current: &AppConfig{
			LLMProvider: cfg.LLMProvider,
			LLMConfig: map[string]string{
				"api_key":       cfg.LLMAPIKey,
				"default_model": cfg.LLMModel,
			},
			DebugMode: cfg.DebugMode,
		},
	}

	data, err := os.ReadFile(m.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", m.path, err)
	default:
		var saved AppConfig
		if err := json.Unmarshal(data, &saved); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", m.path, err)
		}
		if err := m.open(&saved); err != nil {
			return nil, err
		}
		if saved.LLMConfig == nil {
			saved.LLMConfig = map[string]string{}
		}
		if saved.LLMConfig["api_key"] == "" {
			saved.LLMConfig["api_key"] = cfg.LLMAPIKey
		}
		if saved.LLMProvider == "" {
			saved.LLMProvider = cfg.LLMProvider
		}
		saved.DebugMode = cfg.DebugMode
		m.current = &saved
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveLocked(); err != nil {
		return nil, err
	}
	return m, nil
}

// GetCurrentConfig returns a copy of the current settings.
func (m *Manager) GetCurrentConfig() *AppConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.clone()
}

// UpdateLLMConfig replaces the provider settings and persists them.
func (m *Manager) UpdateLLMConfig(provider string, llmConfig map[string]string) error {
	if provider == "" {
		return fmt.Errorf("llm provider is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.current
	next := m.current.clone()
	next.LLMProvider = provider
	next.LLMConfig = make(map[string]string, len(llmConfig))
	for k, v := range llmConfig {
		next.LLMConfig[k] = v
	}
	m.current = next
	if err := m.saveLocked(); err != nil {
		m.current = prev
		return err
	}
	return nil
}

// SaveConfig writes the current settings.
func (m *Manager) SaveConfig() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	out := m.current.clone()
	for _, key := range secretKeys {
		sealed, err := utils.SealSecret(out.LLMConfig[key], m.secret)
		if err != nil {
			return fmt.Errorf("seal %s: %w", key, err)
		}
		if sealed != "" {
			out.LLMConfig[key] = sealed
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp := m.path + ".tmp"
	// api keys may be stored in clear when no secret is configured
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

func (m *Manager) open(ac *AppConfig) error {
	for _, key := range secretKeys {
		v, ok := ac.LLMConfig[key]
		if !ok {
			continue
		}
		plain, err := utils.OpenSecret(v, m.secret)
		if err != nil {
			return fmt.Errorf("open %s from config file: %w", key, err)
		}
		ac.LLMConfig[key] = plain
	}
	return nil
}

package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"botmarley/internal/logger"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const defaultSystemPrompt = `You are a professional crypto trader managing a small spot portfolio.
You receive market data, technical indicators, account state and your own
trading history. Work step by step: identify the market regime, weigh the
indicators against recent price action, and take your past decisions into
account. Be conservative with position sizing and honest about uncertainty.
When ready, record exactly one decision per pair using the buy, sell or hold
tool. Never invent prices or balances that were not provided.`

// PromptManager 管理系统提示词：默认内置，支持文件覆盖、YAML 档案
// 切换以及 fsnotify 热更新。
type PromptManager struct {
	mu      sync.RWMutex
	path    string
	current string
	watcher *fsnotify.Watcher
}

// NewPromptManager loads the system prompt. path may be empty (builtin
// prompt). profilesPath optionally names a YAML file of named prompt
// profiles; profile selects one as the fallback when path has no file.
func NewPromptManager(path, profilesPath, profile string) (*PromptManager, error) {
	base := defaultSystemPrompt
	if profilesPath != "" && profile != "" {
		loaded, err := loadProfile(profilesPath, profile)
		if err != nil {
			return nil, err
		}
		base = loaded
	}
	m := &PromptManager{path: path, current: base}
	if path != "" {
		if raw, err := os.ReadFile(path); err == nil && strings.TrimSpace(string(raw)) != "" {
			m.current = strings.TrimSpace(string(raw))
		} else if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read prompt file: %w", err)
		}
	}
	return m, nil
}

func loadProfile(profilesPath, profile string) (string, error) {
	raw, err := os.ReadFile(profilesPath)
	if err != nil {
		return "", fmt.Errorf("read prompt profiles: %w", err)
	}
	var profiles map[string]string
	if err := yaml.Unmarshal(raw, &profiles); err != nil {
		return "", fmt.Errorf("parse prompt profiles: %w", err)
	}
	text, ok := profiles[profile]
	if !ok || strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("prompt profile %q not found in %s", profile, profilesPath)
	}
	return strings.TrimSpace(text), nil
}

// SystemPrompt returns the currently active prompt text.
func (m *PromptManager) SystemPrompt() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Watch reloads the prompt file on change until ctx is cancelled. No-op when
// no file path is configured.
func (m *PromptManager) Watch(ctx context.Context) error {
	if m.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create prompt watcher: %w", err)
	}
	// watch the directory: editors replace files on save
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch prompt dir: %w", err)
	}
	m.mu.Lock()
	m.watcher = watcher
	m.mu.Unlock()

	go func() {
		defer watcher.Close()
		target := filepath.Clean(m.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				m.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("prompt watcher: %v", err)
			}
		}
	}()
	return nil
}

func (m *PromptManager) reload() {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		logger.Warnf("prompt reload failed: %v", err)
		return
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		logger.Warnf("prompt file %s is empty, keeping previous prompt", m.path)
		return
	}
	m.mu.Lock()
	m.current = text
	m.mu.Unlock()
	logger.Infof("system prompt reloaded from %s", m.path)
}

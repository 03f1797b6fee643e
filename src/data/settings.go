package data

import (
	"context"
	"sync"

	"github.com/stake-plus/nexvote/src/store"
)

var (
	settingsCache map[string]string
	settingsMu    sync.RWMutex
)

// LoadSettings loads all settings from the store into cache
func LoadSettings(ctx context.Context, src store.Settings) error {
	settings, err := src.Settings(ctx)
	if err != nil {
		return err
	}

	settingsMu.Lock()
	defer settingsMu.Unlock()
	settingsCache = settings
	return nil
}

// GetSetting retrieves a setting value from cache (call LoadSettings first)
func GetSetting(name string) string {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settingsCache[name]
}

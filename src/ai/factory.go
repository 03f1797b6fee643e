package ai

import (
	"fmt"
	"strings"
	"sync"
)

// ProviderFactory implements provider-specific Client creation.
type ProviderFactory func(FactoryConfig) (Client, error)

var (
	mu        sync.RWMutex
	providers = map[string]ProviderFactory{
		"http":     newHTTPClient,
		"disabled": func(FactoryConfig) (Client, error) { return Disabled(), nil },
	}
)

// RegisterProvider registers a provider factory under one or more names.
func RegisterProvider(name string, factory ProviderFactory, aliases ...string) {
	mu.Lock()
	defer mu.Unlock()
	for _, n := range append([]string{name}, aliases...) {
		providers[strings.ToLower(n)] = factory
	}
}

// NewClient returns the configured client. Without a service URL the
// disabled client is returned regardless of provider.
func NewClient(cfg FactoryConfig) (Client, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		name = "http"
	}
	if strings.TrimSpace(cfg.ServiceURL) == "" {
		name = "disabled"
	}

	mu.RLock()
	factory := providers[name]
	mu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("ai: provider %q not registered", cfg.Provider)
	}
	return factory(cfg)
}

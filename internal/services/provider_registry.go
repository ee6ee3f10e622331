package services

import (
	"log"
	"sync"

	"flowsync/internal/config"
)

// ProviderRegistry holds the active LLM provider configuration and supports
// atomic replacement when the providers file changes on disk.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers *config.Providers
}

// NewProviderRegistry creates a registry with the given initial providers.
func NewProviderRegistry(providers *config.Providers) *ProviderRegistry {
	return &ProviderRegistry{providers: providers}
}

// Extraction returns the current extraction provider.
func (r *ProviderRegistry) Extraction() config.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers.Extraction
}

// Embedding returns the current embedding provider.
func (r *ProviderRegistry) Embedding() config.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers.Embedding
}

// Generation returns the current generation provider.
func (r *ProviderRegistry) Generation() config.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers.Generation
}

// Reload re-reads the providers file and swaps the configuration in place.
// Called from the fsnotify watcher in main; a parse failure keeps the
// previous configuration.
func (r *ProviderRegistry) Reload(filePath string) {
	providers, err := config.LoadProviders(filePath)
	if err != nil {
		log.Printf("⚠️ [PROVIDERS] Reload failed, keeping previous config: %v", err)
		return
	}

	r.mu.Lock()
	r.providers = providers
	r.mu.Unlock()

	log.Printf("🔄 [PROVIDERS] Reloaded providers from %s", filePath)
}

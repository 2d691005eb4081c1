package embedder

import "fmt"

// Config selects and tunes an embedding provider. Zero values fall back
// to provider defaults, so Config{Provider: "local"} is a complete
// configuration.
type Config struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
	BatchSize int
	CacheSize int
}

// New builds the provider named by cfg.Provider with a shared LRU cache
// in front of it.
func New(cfg Config) (Embedder, error) {
	cache := NewCache(cfg.CacheSize)

	switch cfg.Provider {
	case ProviderLocal, "":
		return NewLocalProvider(cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(OpenAIOptions{
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			MaxBatch:  cfg.BatchSize,
		}, cache)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

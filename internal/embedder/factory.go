package embedder

import (
	"go.uber.org/zap"
)

// Config holds embedder configuration. Either client may be nil.
type Config struct {
	Primary        VectorClient
	PrimaryModel   string
	Secondary      VectorClient
	SecondaryModel string
	CacheSize      int
	Logger         *zap.Logger
}

// New builds the embedder for the configured providers:
// both → Fallback, one → that provider, none → ErrNoProviderEnabled.
func New(cfg Config) (Embedder, error) {
	var primary, secondary Embedder
	if cfg.Primary != nil {
		primary = NewPrimaryProvider(cfg.Primary, cfg.PrimaryModel, NewCache(cfg.CacheSize))
	}
	if cfg.Secondary != nil {
		secondary = NewSecondaryProvider(cfg.Secondary, cfg.SecondaryModel, NewCache(cfg.CacheSize))
	}

	switch {
	case primary != nil && secondary != nil:
		return NewFallback(primary, secondary, cfg.Logger), nil
	case primary != nil:
		return primary, nil
	case secondary != nil:
		return secondary, nil
	default:
		return nil, ErrNoProviderEnabled
	}
}

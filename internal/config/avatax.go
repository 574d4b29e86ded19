package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// AvataxConfigHolder serves the provider settings and swaps them when
// avatax.yml changes on disk. Values absent from the file keep their
// environment defaults.
type AvataxConfigHolder struct {
	current atomic.Value // holds AvataxConfig
}

// NewStaticAvataxConfigHolder returns a holder that never reloads.
func NewStaticAvataxConfigHolder(cfg AvataxConfig) *AvataxConfigHolder {
	holder := &AvataxConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewAvataxConfigHolder(cfg Config, log *zap.Logger) (*AvataxConfigHolder, error) {
	return newAvataxConfigHolder(cfg.Avatax, log, "/var/lib/salestax/config", "/etc/salestax", ".")
}

func newAvataxConfigHolder(defaults AvataxConfig, log *zap.Logger, paths ...string) (*AvataxConfigHolder, error) {
	log = log.Named("config.avatax")

	v := viper.New()
	v.SetConfigName("avatax")
	v.SetConfigType("yml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetDefault("avatax.endpoint", defaults.Endpoint)
	v.SetDefault("avatax.username", defaults.Username)
	v.SetDefault("avatax.password", defaults.Password)
	v.SetDefault("avatax.company_code", defaults.CompanyCode)
	v.SetDefault("avatax.timeout", defaults.Timeout)
	v.SetDefault("avatax.suppress_api_errors", defaults.SuppressAPIErrors)
	v.SetDefault("avatax.line_item_cache_ttl", defaults.LineItemCacheTTL)
	v.SetDefault("avatax.max_requests_per_second", defaults.MaxRequestsPerSecond)
	v.SetDefault("avatax.burst", defaults.Burst)
	v.SetDefault("avatax.tax_rate_name", defaults.TaxRateName)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		watch = false
	}

	cfg, err := decodeAvataxConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticAvataxConfigHolder(cfg)
	if !watch {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeAvataxConfig(v)
		if err != nil {
			log.Warn("avatax config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("avatax config reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *AvataxConfigHolder) Get() AvataxConfig {
	return h.current.Load().(AvataxConfig)
}

func decodeAvataxConfig(v *viper.Viper) (AvataxConfig, error) {
	var wrapper struct {
		Avatax AvataxConfig `mapstructure:"avatax"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return AvataxConfig{}, err
	}
	cfg := wrapper.Avatax
	cfg.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	cfg.CompanyCode = strings.TrimSpace(cfg.CompanyCode)
	if err := validateAvataxConfig(cfg); err != nil {
		return AvataxConfig{}, err
	}
	return cfg, nil
}

func validateAvataxConfig(cfg AvataxConfig) error {
	if cfg.Endpoint == "" {
		return errors.New("avatax.endpoint cannot be empty")
	}
	if cfg.Timeout <= 0 {
		return errors.New("avatax.timeout must be positive")
	}
	if cfg.MaxRequestsPerSecond < 0 {
		return errors.New("avatax.max_requests_per_second cannot be negative")
	}
	if cfg.LineItemCacheTTL < 0 {
		return errors.New("avatax.line_item_cache_ttl cannot be negative")
	}
	return nil
}

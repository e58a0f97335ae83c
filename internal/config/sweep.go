package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// SweepConfig controls the periodic billing reconciliation sweep.
type SweepConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	RunInterval    time.Duration `mapstructure:"runInterval"`
	BatchSize      int           `mapstructure:"batchSize"`
	StaleThreshold time.Duration `mapstructure:"staleThreshold"`
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Enabled:        true,
		RunInterval:    15 * time.Minute,
		BatchSize:      50,
		StaleThreshold: 24 * time.Hour,
	}
}

// SweepConfigHolder exposes the current sweep config and hot-reloads it when
// the mounted config file changes. Readers always see a complete, validated
// snapshot.
type SweepConfigHolder struct {
	current atomic.Value // holds SweepConfig
}

func NewSweepConfigHolder() (*SweepConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("sweep")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/rosterly/config")
	v.AddConfigPath("/etc/rosterly")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ROSTERLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSweepConfig()
	v.SetDefault("sweep.enabled", defaults.Enabled)
	v.SetDefault("sweep.runInterval", defaults.RunInterval)
	v.SetDefault("sweep.batchSize", defaults.BatchSize)
	v.SetDefault("sweep.staleThreshold", defaults.StaleThreshold)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg SweepConfig
	if err := v.UnmarshalKey("sweep", &cfg); err != nil {
		return nil, err
	}
	if err := validateSweepConfig(cfg); err != nil {
		return nil, err
	}

	holder := &SweepConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated SweepConfig
		if err := v.UnmarshalKey("sweep", &updated); err != nil {
			log.Printf("[sweep-config] reload failed: %v", err)
			return
		}
		if err := validateSweepConfig(updated); err != nil {
			log.Printf("[sweep-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[sweep-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticSweepConfigHolder wraps a fixed config with no file watching.
func NewStaticSweepConfigHolder(cfg SweepConfig) *SweepConfigHolder {
	holder := &SweepConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *SweepConfigHolder) Get() SweepConfig {
	return h.current.Load().(SweepConfig)
}

func validateSweepConfig(cfg SweepConfig) error {
	if cfg.RunInterval <= 0 {
		return errors.New("sweep.runInterval must be positive")
	}
	if cfg.BatchSize <= 0 {
		return errors.New("sweep.batchSize must be positive")
	}
	if cfg.StaleThreshold <= 0 {
		return errors.New("sweep.staleThreshold must be positive")
	}
	return nil
}

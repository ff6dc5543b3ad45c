package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// TariffConfig holds tariff settings that may change without a redeploy.
type TariffConfig struct {
	// TaxBuckets lists the recognised tax rates in percent.
	TaxBuckets []int `mapstructure:"taxBuckets"`
}

func DefaultTariffConfig() TariffConfig {
	return TariffConfig{TaxBuckets: []int{0, 12, 18}}
}

// Allows reports whether rate is one of the configured buckets.
func (c TariffConfig) Allows(rate int) bool {
	for _, bucket := range c.TaxBuckets {
		if bucket == rate {
			return true
		}
	}
	return false
}

type TariffConfigHolder struct {
	current atomic.Value // holds TariffConfig
}

// NewStaticTariffConfigHolder returns a holder that never reloads.
func NewStaticTariffConfigHolder(cfg TariffConfig) (*TariffConfigHolder, error) {
	if err := validateTariffConfig(cfg); err != nil {
		return nil, err
	}
	holder := &TariffConfigHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func NewTariffConfigHolder(appCfg Config, log *zap.Logger) (*TariffConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("tariff.config")

	v := viper.New()
	v.SetConfigName("tariff")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/noble")
	v.AddConfigPath(".")

	v.SetEnvPrefix("NOBLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
		v.SetDefault("tariff.taxBuckets", DefaultTariffConfig().TaxBuckets)
	}

	var cfg TariffConfig
	if err := v.UnmarshalKey("tariff", &cfg); err != nil {
		return nil, err
	}
	if err := validateTariffConfig(cfg); err != nil {
		return nil, err
	}

	holder := &TariffConfigHolder{}
	holder.current.Store(cfg)

	if fileFound && appCfg.TariffHotReload {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated TariffConfig
			if err := v.UnmarshalKey("tariff", &updated); err != nil {
				log.Warn("tariff reload failed", zap.Error(err))
				return
			}
			if err := validateTariffConfig(updated); err != nil {
				log.Warn("invalid tariff config ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("tariff config reloaded", zap.String("file", e.Name), zap.Ints("tax_buckets", updated.TaxBuckets))
		})
	}

	return holder, nil
}

func (h *TariffConfigHolder) Get() TariffConfig {
	return h.current.Load().(TariffConfig)
}

func validateTariffConfig(cfg TariffConfig) error {
	if len(cfg.TaxBuckets) == 0 {
		return errors.New("tariff.taxBuckets cannot be empty")
	}
	seen := make(map[int]struct{}, len(cfg.TaxBuckets))
	for _, rate := range cfg.TaxBuckets {
		if rate < 0 || rate > 100 {
			return fmt.Errorf("tariff.taxBuckets: rate %d out of range", rate)
		}
		if _, dup := seen[rate]; dup {
			return fmt.Errorf("tariff.taxBuckets: duplicate rate %d", rate)
		}
		seen[rate] = struct{}{}
	}
	return nil
}

package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// BillingConfig holds the tunables of the billing engine. It is hot
// reloaded from billing.yml.
type BillingConfig struct {
	UnitPriceDecimals int32         `mapstructure:"unitPriceDecimals"`
	Usage             UsageConfig   `mapstructure:"usage"`
	Catalog           CatalogConfig `mapstructure:"catalog"`
}

type UsageConfig struct {
	MaxAttempts int           `mapstructure:"maxAttempts"`
	LockBackend string        `mapstructure:"lockBackend"`
	LockTTL     time.Duration `mapstructure:"lockTTL"`
	LockWait    time.Duration `mapstructure:"lockWait"`
}

type CatalogConfig struct {
	FeatureCacheTTL time.Duration `mapstructure:"featureCacheTTL"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		UnitPriceDecimals: 4,
		Usage: UsageConfig{
			MaxAttempts: 5,
			LockBackend: LockBackendMemory,
			LockTTL:     10 * time.Second,
			LockWait:    5 * time.Second,
		},
		Catalog: CatalogConfig{
			FeatureCacheTTL: 10 * time.Minute,
		},
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfigHolder wraps cfg without any file watching.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder(log *zap.Logger) (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/meterbill")
	v.AddConfigPath(".")

	v.SetEnvPrefix("METERBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.unitPriceDecimals", defaults.UnitPriceDecimals)
	v.SetDefault("billing.usage.maxAttempts", defaults.Usage.MaxAttempts)
	v.SetDefault("billing.usage.lockBackend", defaults.Usage.LockBackend)
	v.SetDefault("billing.usage.lockTTL", defaults.Usage.LockTTL)
	v.SetDefault("billing.usage.lockWait", defaults.Usage.LockWait)
	v.SetDefault("billing.catalog.featureCacheTTL", defaults.Catalog.FeatureCacheTTL)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := decodeBillingConfig(v)
	if err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeBillingConfig(v)
		if err != nil {
			log.Warn("billing config reload failed", zap.Error(err))
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Warn("invalid billing config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("billing config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// decodeBillingConfig unmarshals the whole tree so defaults of nested keys
// missing from the file are merged in.
func decodeBillingConfig(v *viper.Viper) (BillingConfig, error) {
	var root struct {
		Billing BillingConfig `mapstructure:"billing"`
	}
	if err := v.Unmarshal(&root); err != nil {
		return BillingConfig{}, err
	}
	return root.Billing, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

// maxUnitPriceDecimals is the scale of the numeric(19,4) price columns.
const maxUnitPriceDecimals = 4

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.UnitPriceDecimals < 1 || cfg.UnitPriceDecimals > maxUnitPriceDecimals {
		return errors.New("billing.unitPriceDecimals must be between 1 and 4")
	}
	if cfg.Usage.MaxAttempts < 1 {
		return errors.New("billing.usage.maxAttempts must be at least 1")
	}
	switch cfg.Usage.LockBackend {
	case LockBackendMemory, LockBackendRedis:
	default:
		return errors.New("billing.usage.lockBackend must be memory or redis")
	}
	if cfg.Usage.LockTTL <= 0 {
		return errors.New("billing.usage.lockTTL must be positive")
	}
	return nil
}

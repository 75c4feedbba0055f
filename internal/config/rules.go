package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Rules parameterizes classification and cost attribution for rollups.
type Rules struct {
	TakeRate        float64            `mapstructure:"takeRate"`
	RepairThreshold float64            `mapstructure:"repairThreshold"`
	ServiceTypes    []string           `mapstructure:"serviceTypes"`
	RepairTypes     []string           `mapstructure:"repairTypes"`
	Strategies      map[string]string  `mapstructure:"strategies"`
	PerLeadRates    map[string]float64 `mapstructure:"perLeadRates"`
}

func DefaultRules() Rules {
	return Rules{
		TakeRate:        0.40,
		RepairThreshold: 100,
		ServiceTypes:    []string{"COD Service", "INS Service"},
		RepairTypes:     []string{"COD Repair", "INS Repair"},
		Strategies: map[string]string{
			"elocals":      "paid_leads",
			"pro_referral": "per_lead",
			"google":       "ad_spend",
			"rely":         "service_visits",
			"nsa":          "service_visits",
			"liberty":      "service_visits",
			"retention":    "service_visits",
		},
		PerLeadRates: map[string]float64{
			"pro_referral": 20,
		},
	}
}

type RulesHolder struct {
	current atomic.Value // holds Rules
}

// NewStaticRulesHolder serves fixed rules; used where no file watching is wanted.
func NewStaticRulesHolder(rules Rules) *RulesHolder {
	holder := &RulesHolder{}
	holder.current.Store(rules)
	return holder
}

// NewRulesHolder reads rules.yml and keeps it hot-reloaded.
func NewRulesHolder(log *zap.Logger) (*RulesHolder, error) {
	v := viper.New()

	v.SetConfigName("rules")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/abcmetrics")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ABCMETRICS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultRules()
	v.SetDefault("aggregation.takeRate", defaults.TakeRate)
	v.SetDefault("aggregation.repairThreshold", defaults.RepairThreshold)
	v.SetDefault("aggregation.serviceTypes", defaults.ServiceTypes)
	v.SetDefault("aggregation.repairTypes", defaults.RepairTypes)
	v.SetDefault("aggregation.strategies", defaults.Strategies)
	v.SetDefault("aggregation.perLeadRates", defaults.PerLeadRates)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := decodeRules(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticRulesHolder(cfg)
	if !fileFound {
		log.Info("rules file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeRules(v)
		if err != nil {
			log.Warn("rules reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("rules reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *RulesHolder) Get() Rules {
	return h.current.Load().(Rules)
}

func decodeRules(v *viper.Viper) (Rules, error) {
	var cfg Rules
	if err := v.UnmarshalKey("aggregation", &cfg); err != nil {
		return Rules{}, err
	}
	if err := validateRules(cfg); err != nil {
		return Rules{}, err
	}
	return cfg, nil
}

func validateRules(cfg Rules) error {
	if cfg.TakeRate <= 0 || cfg.TakeRate > 1 {
		return errors.New("aggregation.takeRate must be in (0, 1]")
	}
	if cfg.RepairThreshold < 0 {
		return errors.New("aggregation.repairThreshold cannot be negative")
	}
	if len(cfg.ServiceTypes) == 0 {
		return errors.New("aggregation.serviceTypes cannot be empty")
	}
	if len(cfg.RepairTypes) == 0 {
		return errors.New("aggregation.repairTypes cannot be empty")
	}
	return nil
}

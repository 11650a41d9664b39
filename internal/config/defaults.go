package config

import "strings"

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppLogFormat      = "text"
	defaultAppHTTPAddr       = ":8080"
	defaultStorageDriver     = "sqlite"
	defaultStorageDSN        = "data/db/tasks.db"
	defaultCandleRoot        = "data/candles"
	defaultExchange          = "binance"
	defaultPageLimit         = 1000
	defaultBinanceREST       = "https://fapi.binance.com"
	defaultBinanceTimeout    = 15
	defaultBinanceRate       = 1200
	defaultBinanceMakerFee   = 0.0002
	defaultBinanceTakerFee   = 0.0005
	defaultBreakerThreshold  = 5
	defaultBreakerCooldown   = 30
	defaultMetadataTTL       = 3600
	defaultBusCapacity       = 1000
	defaultStrategyRoot      = "strategies"
	defaultStrategyGoBinary  = "go"
	defaultHostModule        = "candlelab"
	defaultHostModuleDir     = "."
	defaultInitialBalance    = 10000
	defaultBacktestMaxActive = 2
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Storage.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Tasks.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
	a.LogFormat = strings.ToLower(strings.TrimSpace(a.LogFormat))
	a.CORSOrigins = normalizeList(a.CORSOrigins)
}

func (s *StorageConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("storage.driver", &s.Driver, defaultStorageDriver),
		stringFieldDefault("storage.candle_root", &s.CandleRoot, defaultCandleRoot),
	)
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	if s.Driver == defaultStorageDriver {
		applyFieldDefaults(keys, stringFieldDefault("storage.dsn", &s.DSN, defaultStorageDSN))
	}
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.default", &e.Default, defaultExchange),
		fieldDefault{
			key:   "exchange.page_limit",
			need:  func() bool { return e.PageLimit <= 0 },
			apply: func() { e.PageLimit = defaultPageLimit },
		},
	)
	e.Default = strings.ToLower(strings.TrimSpace(e.Default))
	e.Binance.applyDefaults(keys)
}

func (b *BinanceConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("exchange.binance.enabled", &b.Enabled, true),
		stringFieldDefault("exchange.binance.rest_url", &b.RESTBaseURL, defaultBinanceREST),
		intFieldDefault("exchange.binance.http_timeout_seconds", &b.HTTPTimeoutSeconds, defaultBinanceTimeout),
		intFieldDefault("exchange.binance.rate_limit_per_min", &b.RateLimitPerMin, defaultBinanceRate),
		intFieldDefault("exchange.binance.breaker_threshold", &b.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("exchange.binance.breaker_cooldown_seconds", &b.BreakerCooldownSeconds, defaultBreakerCooldown),
		intFieldDefault("exchange.binance.metadata_ttl_seconds", &b.MetadataTTLSeconds, defaultMetadataTTL),
		// 费率显式写 0 时保留 0。
		fieldDefault{
			key:   "exchange.binance.maker_fee",
			need:  func() bool { return b.MakerFee == 0 },
			apply: func() { b.MakerFee = defaultBinanceMakerFee },
		},
		fieldDefault{
			key:   "exchange.binance.taker_fee",
			need:  func() bool { return b.TakerFee == 0 },
			apply: func() { b.TakerFee = defaultBinanceTakerFee },
		},
	)
}

func (t *TasksConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys, intFieldDefault("tasks.bus_capacity", &t.BusCapacity, defaultBusCapacity))
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("strategy.root", &s.Root, defaultStrategyRoot),
		stringFieldDefault("strategy.go_binary", &s.GoBinary, defaultStrategyGoBinary),
		stringFieldDefault("strategy.host_module", &s.HostModule, defaultHostModule),
		stringFieldDefault("strategy.host_module_dir", &s.HostModuleDir, defaultHostModuleDir),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "backtest.initial_balance",
			need:  func() bool { return b.InitialBalance <= 0 },
			apply: func() { b.InitialBalance = defaultInitialBalance },
		},
		intFieldDefault("backtest.max_concurrent", &b.MaxConcurrent, defaultBacktestMaxActive),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizeList(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

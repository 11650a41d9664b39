package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 CANDLELAB_APP_LOG_LEVEL 覆盖 app.log_level。
const EnvPrefix = "CANDLELAB"

// envKeys 是允许被环境变量覆盖的配置项。
var envKeys = []string{
	"app.env", "app.log_level", "app.log_format", "app.log_path", "app.http_addr", "app.cors_origins",
	"storage.driver", "storage.dsn", "storage.candle_root",
	"exchange.default", "exchange.page_limit",
	"exchange.binance.enabled", "exchange.binance.rest_url", "exchange.binance.proxy_url",
	"exchange.binance.http_timeout_seconds", "exchange.binance.rate_limit_per_min",
	"exchange.binance.maker_fee", "exchange.binance.taker_fee",
	"exchange.binance.breaker_threshold", "exchange.binance.breaker_cooldown_seconds",
	"exchange.binance.metadata_ttl_seconds",
	"tasks.bus_capacity",
	"strategy.root", "strategy.host_module", "strategy.host_module_dir", "strategy.go_binary",
	"backtest.slippage_bps", "backtest.initial_balance", "backtest.max_concurrent",
}

// Load 读取 YAML 配置（含 include），叠加 .env 与 CANDLELAB_* 环境变量，
// 然后补默认值并校验。
func Load(path string) (*Config, error) {
	files, err := resolveConfigIncludes(path)
	if err != nil {
		return nil, err
	}
	loadDotEnv(filepath.Dir(files[len(files)-1]))

	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		if err := mergeConfigFile(v, file); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults(explicitKeys(v))
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv 依次加载工作目录与配置目录下的 .env，已存在的环境变量不会被覆盖。
func loadDotEnv(configDir string) {
	candidates := []string{".env", filepath.Join(configDir, ".env")}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

func mergeConfigFile(v *viper.Viper, path string) error {
	part, err := readFile(path)
	if err != nil {
		return err
	}
	return v.MergeConfigMap(part.AllSettings())
}

func readFile(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v, nil
}

// resolveConfigIncludes 展开 include 链，返回按合并顺序排列的文件：
// 被包含的文件在前，包含者在后，后者覆盖前者。
func resolveConfigIncludes(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	r := &includeResolver{done: make(map[string]bool), visiting: make(map[string]bool)}
	if err := r.visit(abs); err != nil {
		return nil, err
	}
	return r.order, nil
}

type includeResolver struct {
	done     map[string]bool
	visiting map[string]bool
	order    []string
}

func (r *includeResolver) visit(path string) error {
	path = filepath.Clean(path)
	switch {
	case r.visiting[path]:
		return fmt.Errorf("include cycle detected: %s", path)
	case r.done[path]:
		return nil
	}
	r.visiting[path] = true
	includes, err := includeList(path)
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := r.visit(inc); err != nil {
			return err
		}
	}
	delete(r.visiting, path)
	r.done[path] = true
	r.order = append(r.order, path)
	return nil
}

// includeList 读取文件顶层的 include，支持单个字符串或字符串数组。
func includeList(path string) ([]string, error) {
	v, err := readFile(path)
	if err != nil {
		return nil, err
	}
	var raw []any
	switch val := v.Get("include").(type) {
	case nil:
		return nil, nil
	case string:
		raw = []any{val}
	case []any:
		raw = val
	case []string:
		for _, item := range val {
			raw = append(raw, item)
		}
	default:
		return nil, fmt.Errorf("include must be a string array")
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		if str = strings.TrimSpace(str); str != "" {
			out = append(out, str)
		}
	}
	return out, nil
}

// explicitKeys 收集配置文件或环境变量中实际出现的键，默认值只补未出现的字段。
func explicitKeys(v *viper.Viper) keySet {
	keys := make(keySet)
	for _, key := range v.AllKeys() {
		if v.IsSet(key) {
			keys.mark(key)
		}
	}
	return keys
}

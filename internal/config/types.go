package config

import "strings"

// Config 是 candlelab 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Storage  StorageConfig  `toml:"storage"`
	Exchange ExchangeConfig `toml:"exchange"`
	Tasks    TasksConfig    `toml:"tasks"`
	Strategy StrategyConfig `toml:"strategy"`
	Backtest BacktestConfig `toml:"backtest"`
}

type AppConfig struct {
	Env         string   `toml:"env"`
	LogLevel    string   `toml:"log_level"`
	LogFormat   string   `toml:"log_format"`
	LogPath     string   `toml:"log_path"`
	HTTPAddr    string   `toml:"http_addr"`
	CORSOrigins []string `toml:"cors_origins"`
}

// StorageConfig 描述任务快照库与 K 线存储目录。
type StorageConfig struct {
	Driver     string `toml:"driver"` // sqlite | postgres
	DSN        string `toml:"dsn"`
	CandleRoot string `toml:"candle_root"`
}

type ExchangeConfig struct {
	Default   string        `toml:"default"`
	PageLimit int           `toml:"page_limit"`
	Binance   BinanceConfig `toml:"binance"`
}

// BinanceConfig 对应 USDⓈ-M 合约公共接口；费率无法匿名查询，取配置值。
type BinanceConfig struct {
	Enabled                bool    `toml:"enabled"`
	RESTBaseURL            string  `toml:"rest_url"`
	ProxyURL               string  `toml:"proxy_url"`
	HTTPTimeoutSeconds     int     `toml:"http_timeout_seconds"`
	RateLimitPerMin        int     `toml:"rate_limit_per_min"`
	MakerFee               float64 `toml:"maker_fee"`
	TakerFee               float64 `toml:"taker_fee"`
	BreakerThreshold       int     `toml:"breaker_threshold"`
	BreakerCooldownSeconds int     `toml:"breaker_cooldown_seconds"`
	MetadataTTLSeconds     int     `toml:"metadata_ttl_seconds"`
}

type TasksConfig struct {
	BusCapacity int `toml:"bus_capacity"`
}

// StrategyConfig 控制策略工作区与插件编译。
type StrategyConfig struct {
	Root          string `toml:"root"`
	HostModule    string `toml:"host_module"`
	HostModuleDir string `toml:"host_module_dir"`
	GoBinary      string `toml:"go_binary"`
}

type BacktestConfig struct {
	SlippageBps    float64 `toml:"slippage_bps"`
	InitialBalance float64 `toml:"initial_balance"`
	MaxConcurrent  int     `toml:"max_concurrent"`
}

// keySet 用于追踪配置文件或环境变量中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

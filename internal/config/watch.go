package config

import (
	"fmt"
	"strings"

	"candlelab/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ChangeListener 在配置文件变更并重新校验通过后被调用。
type ChangeListener func(cfg *Config)

// Watch 监听主配置文件，变更后完整重新加载；加载失败时保留旧配置并记录日志。
func Watch(path string, fn ChangeListener) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config watch requires path")
	}
	if fn == nil {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(path)
		if err != nil {
			logger.Errorf("[config] reload failed (%s): %v", evt.Name, err)
			return
		}
		logger.Infof("[config] %s 已重新加载", evt.Name)
		fn(cfg)
	})
	v.WatchConfig()
	return nil
}

package backtest

import (
	"candlelab/internal/strategy"
)

// LoadedStrategy is one strategy instance for one run.
type LoadedStrategy interface {
	Ticker
	Release()
}

// Loader 按名称加载已编译的策略。
type Loader interface {
	Load(name string) (LoadedStrategy, error)
}

type LoaderFunc func(name string) (LoadedStrategy, error)

func (f LoaderFunc) Load(name string) (LoadedStrategy, error) { return f(name) }

// ManagerLoader adapts the plugin manager to Loader.
func ManagerLoader(m *strategy.Manager) Loader {
	return LoaderFunc(func(name string) (LoadedStrategy, error) {
		h, err := m.Load(name)
		if err != nil {
			return nil, err
		}
		return h, nil
	})
}

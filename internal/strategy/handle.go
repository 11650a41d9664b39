package strategy

import (
	"errors"
	"plugin"
	"sync"

	api "candlelab/pkg/strategy"
)

// Module is a loaded code unit.
type Module interface {
	Lookup(symbol string) (any, error)
}

type Opener interface {
	Open(path string) (Module, error)
}

// PluginOpener opens modules built with -buildmode=plugin. The Go runtime
// never unloads a plugin, so releasing a module only drops our reference.
type PluginOpener struct{}

func (PluginOpener) Open(path string) (Module, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return pluginModule{p: p}, nil
}

type pluginModule struct {
	p *plugin.Plugin
}

func (m pluginModule) Lookup(symbol string) (any, error) {
	return m.p.Lookup(symbol)
}

var ErrReleased = errors.New("strategy handle released")

// Handle owns one strategy instance together with the module it came from.
// Tick and Release are serialized, so Release waits for an in-flight Tick
// and no call can start afterwards.
type Handle struct {
	name string

	mu       sync.Mutex
	instance api.Strategy
	module   Module
	onClose  func()
}

func (h *Handle) Name() string { return h.name }

func (h *Handle) Tick(ctx *api.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.instance == nil {
		return ErrReleased
	}
	return h.instance.Tick(ctx)
}

// Release drops the instance first, then the module. Safe to call twice.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.instance == nil && h.module == nil {
		return
	}
	h.instance = nil
	h.module = nil
	if h.onClose != nil {
		h.onClose()
		h.onClose = nil
	}
}

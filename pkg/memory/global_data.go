package memory

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"mm_go/pkg/config"
)

// GlobalData is the process-wide memory state: the global allocation set,
// the globals registry, the collection lock and the collector settings.
//
// The process owns one instance, returned by Global. It is created before
// the first allocation and is never reset during normal operation;
// ClearForTests exists for test isolation only. Embedders that need an
// isolated heap (the scenario runner, for one) construct their own with
// NewGlobalData.
type GlobalData struct {
	objectFactory   ObjectFactory
	globalsRegistry GlobalsRegistry

	gcLock     sync.Mutex
	collecting atomic.Bool
	epoch      uint64

	cfg    atomic.Pointer[config.GCConfig]
	logger *slog.Logger
}

var globalData = NewGlobalData(config.Default().GC)

// Global returns the process-wide instance
func Global() *GlobalData {
	return globalData
}

// NewGlobalData creates an isolated memory state
func NewGlobalData(cfg config.GCConfig) *GlobalData {
	g := &GlobalData{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	g.globalsRegistry.global = g
	g.Configure(cfg)
	return g
}

// Configure replaces the collector settings
func (g *GlobalData) Configure(cfg config.GCConfig) {
	g.cfg.Store(&cfg)
}

// Config returns the current collector settings
func (g *GlobalData) Config() config.GCConfig {
	return *g.cfg.Load()
}

// SetLogger replaces the logger; nil restores the discarding logger
func (g *GlobalData) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	g.logger = l
}

// Logger returns the logger used by the collector
func (g *GlobalData) Logger() *slog.Logger {
	return g.logger
}

// ObjectFactory returns the global allocation set
func (g *GlobalData) ObjectFactory() *ObjectFactory {
	return &g.objectFactory
}

// GlobalsRegistry returns the durable root registry
func (g *GlobalData) GlobalsRegistry() *GlobalsRegistry {
	return &g.globalsRegistry
}

// Epoch returns the number of completed collections
func (g *GlobalData) Epoch() uint64 {
	g.gcLock.Lock()
	defer g.gcLock.Unlock()
	return g.epoch
}

// ClearForTests drops every global root and every published allocation
func (g *GlobalData) ClearForTests() {
	g.gcLock.Lock()
	defer g.gcLock.Unlock()
	g.globalsRegistry.ClearForTests()
	g.objectFactory.ClearForTests()
	g.epoch = 0
}

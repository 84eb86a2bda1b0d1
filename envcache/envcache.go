// Package envcache keeps the execution environment derived from the engine
// configuration alive across blocks. It is rebuilt only when the
// configuration changes or the cache is invalidated.
package envcache

import (
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/zhiqiangxu/blockstm"
	"github.com/zhiqiangxu/blockstm/config"
)

type Environment struct {
	Config  config.Engine
	Options blockstm.Options
}

// Cache is safe for concurrent use. It is read-mostly and guarded by a single lock.
type Cache struct {
	mu     sync.RWMutex
	env    *Environment
	builds int
	logger *zap.Logger
}

func New(logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{logger: logger}
}

// Get returns the environment for cfg, rebuilding it if cfg differs from the
// cached one.
func (c *Cache) Get(cfg config.Engine) *Environment {
	c.mu.RLock()
	env := c.env
	c.mu.RUnlock()
	if env != nil && env.Config == cfg {
		return env
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.env != nil && c.env.Config == cfg {
		return c.env
	}
	c.env = c.build(cfg)
	c.builds++
	c.logger.Info("execution environment rebuilt",
		zap.Int("concurrency", c.env.Options.Concurrency),
		zap.Int("max-incarnation", c.env.Options.MaxIncarnation),
		zap.Uint64("budget", c.env.Options.Budget),
		zap.Bool("use-hints", cfg.UseHints))
	return c.env
}

// Invalidate drops the cached environment.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.env = nil
	c.mu.Unlock()
}

// Builds is the number of times an environment was built.
func (c *Cache) Builds() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.builds
}

func (c *Cache) build(cfg config.Engine) *Environment {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Environment{
		Config: cfg,
		Options: blockstm.Options{
			Concurrency:    concurrency,
			MaxIncarnation: cfg.MaxIncarnation,
			Budget:         cfg.Budget,
			Logger:         c.logger,
		},
	}
}

// NewExecutor builds an executor for one block in env. Hints are used only
// when the environment enables them.
func NewExecutor[L comparable, V any](env *Environment, vm blockstm.VM[L, V], base blockstm.StateView[L, V], blockSize int, hints []blockstm.Hint[L]) blockstm.Executor[L, V] {
	if env.Config.UseHints && len(hints) > 0 {
		return blockstm.NewExecutorWithHints(vm, base, blockSize, env.Options, hints)
	}
	return blockstm.NewExecutor(vm, base, blockSize, env.Options)
}

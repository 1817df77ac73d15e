package flowline

import (
	"time"
)

type EngineOption func(engine *Engine)

func WithEngineStore(store Store) EngineOption {
	return func(engine *Engine) {
		engine.store = store
	}
}

func WithEngineTxManager(txManager TxManager) EngineOption {
	return func(engine *Engine) {
		engine.txManager = txManager
	}
}

func WithEnginePublisher(publisher StatusPublisher) EngineOption {
	return func(engine *Engine) {
		engine.publisher = publisher
	}
}

func WithEnginePluginManager(pluginManager *PluginManager) EngineOption {
	return func(engine *Engine) {
		engine.pluginManager = pluginManager
	}
}

func WithEngineEnvironment(env *RunEnvironment) EngineOption {
	return func(engine *Engine) {
		engine.env = env
	}
}

// WithMaxNodeRetries sets the per-node retry budget for transient errors.
// Production default is DefaultMaxNodeRetries; tests use 0 to fail fast.
func WithMaxNodeRetries(n int) EngineOption {
	return func(engine *Engine) {
		if n < 0 {
			n = 0
		}
		engine.maxNodeRetries = n
	}
}

func WithRetryDelay(strategy RetryStrategy, base time.Duration) EngineOption {
	return func(engine *Engine) {
		engine.retryStrategy = strategy
		engine.retryDelay = base
	}
}

// WithNodeTimeout bounds a single executor invocation; zero disables it.
func WithNodeTimeout(d time.Duration) EngineOption {
	return func(engine *Engine) {
		engine.nodeTimeout = d
	}
}

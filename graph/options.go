package graph

import "time"

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine := graph.New(store, emitter, haltCheck, historyAppend,
//	    graph.WithMaxSteps(100),
//	    graph.WithDefaultNodeTimeout(10*time.Second),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are applied to an Engine.
type engineConfig struct {
	opts Options
}

// WithMaxSteps limits a single Run/ResumeFrom call to n node
// invocations, guarding against a missing conditional exit turning a
// loop-free graph into an infinite one. 0 means no limit.
//
// When exceeded, Run returns ErrMaxStepsExceeded.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.MaxSteps = n
		return nil
	}
}

// WithDefaultNodeTimeout sets the maximum execution time for nodes
// without an explicit NodePolicy.Timeout. Default: 0, meaning no timeout.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.DefaultNodeTimeout = d
		return nil
	}
}

// WithRunWallClockBudget sets the maximum total execution time for a
// single Run/ResumeFrom call. 0 disables the budget.
func WithRunWallClockBudget(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.RunWallClockBudget = d
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection for the engine.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine := graph.New(store, emitter, haltCheck, historyAppend,
//	    graph.WithMetrics(metrics),
//	)
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = metrics
		return nil
	}
}

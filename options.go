package scopez

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/zoobzio/scopez/asynchook"
)

// DefaultFlatCapacity bounds the flat strategy's id to span map.
const DefaultFlatCapacity = 4096

type options struct {
	log          logrus.FieldLogger
	registerer   prometheus.Registerer
	runtime      asynchook.Source
	strategy     Strategy
	flatCapacity int
}

// Option configures an Engine.
type Option func(*options)

// WithStrategy selects the propagation strategy. Defaults to StrategyTree.
func WithStrategy(s Strategy) Option {
	return func(o *options) {
		o.strategy = s
	}
}

// WithFlatCapacity bounds how many resources StrategyFlat remembers.
// Older entries are evicted, so lost destroy notifications cannot grow
// the map without limit. Values <= 0 keep the default.
func WithFlatCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.flatCapacity = n
		}
	}
}

// WithLogger sets the logger used for lifecycle anomalies.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithRegisterer registers the engine's metrics. Each engine needs its
// own registerer; without one, metrics are kept but not exported.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithRuntime attaches the engine to a host runtime. The engine's hook is
// only enabled while there is something to propagate.
func WithRuntime(src asynchook.Source) Option {
	return func(o *options) {
		o.runtime = src
	}
}

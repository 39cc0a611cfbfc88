// Package config loads scopez settings from flags, environment and an
// optional scopez.yaml file.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/zoobzio/scopez"
)

// Keys understood by Load. Each can also be set as SCOPEZ_<KEY>.
const (
	KeyStrategy     = "strategy"
	KeyFlatCapacity = "flat_capacity"
	KeyDebug        = "debug"
	KeyLogFormat    = "log_format"
	KeyMetricsAddr  = "metrics_addr"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

var (
	// ErrInvalidStrategy reports a strategy name other than tree or flat.
	ErrInvalidStrategy = errors.New("config: invalid strategy")
	// ErrInvalidLogFormat reports a log format other than text or json.
	ErrInvalidLogFormat = errors.New("config: invalid log format")
)

// Config is the resolved configuration.
type Config struct {
	LogFormat    string
	MetricsAddr  string
	Strategy     scopez.Strategy
	FlatCapacity int
	Debug        bool
}

// NewViper creates a viper instance reading SCOPEZ_* environment variables
// and, when present, scopez.yaml from the working directory.
func NewViper() *viper.Viper {
	vp := viper.New()

	vp.SetConfigName("scopez")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")

	// env var must start with SCOPEZ_; dashes and dots become underscores
	vp.SetEnvPrefix("scopez")
	vp.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	vp.AutomaticEnv()

	SetDefaults(vp)
	return vp
}

// SetDefaults registers the default value of every key.
func SetDefaults(vp *viper.Viper) {
	vp.SetDefault(KeyStrategy, scopez.StrategyTree.String())
	vp.SetDefault(KeyFlatCapacity, scopez.DefaultFlatCapacity)
	vp.SetDefault(KeyDebug, false)
	vp.SetDefault(KeyLogFormat, FormatText)
	vp.SetDefault(KeyMetricsAddr, "")
}

// Load reads the config file if one exists and validates every key.
func Load(vp *viper.Viper) (Config, error) {
	if err := vp.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, errors.Wrap(err, "config: reading config file")
		}
	}

	strategy, err := ParseStrategy(vp.GetString(KeyStrategy))
	if err != nil {
		return Config{}, err
	}

	format := strings.ToLower(vp.GetString(KeyLogFormat))
	if format != FormatText && format != FormatJSON {
		return Config{}, errors.Wrapf(ErrInvalidLogFormat, "%q", format)
	}

	capacity := vp.GetInt(KeyFlatCapacity)
	if capacity <= 0 {
		return Config{}, errors.Errorf("config: %s must be positive, got %d", KeyFlatCapacity, capacity)
	}

	return Config{
		LogFormat:    format,
		MetricsAddr:  vp.GetString(KeyMetricsAddr),
		Strategy:     strategy,
		FlatCapacity: capacity,
		Debug:        vp.GetBool(KeyDebug),
	}, nil
}

// ParseStrategy maps "tree" or "flat" to a scopez.Strategy.
func ParseStrategy(name string) (scopez.Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "tree":
		return scopez.StrategyTree, nil
	case "flat":
		return scopez.StrategyFlat, nil
	default:
		return scopez.StrategyTree, errors.Wrapf(ErrInvalidStrategy, "%q", name)
	}
}

// EngineOptions returns the engine options for c. A nil reg leaves the
// metrics unregistered.
func (c Config) EngineOptions(log logrus.FieldLogger, reg prometheus.Registerer) []scopez.Option {
	opts := []scopez.Option{
		scopez.WithStrategy(c.Strategy),
		scopez.WithFlatCapacity(c.FlatCapacity),
		scopez.WithLogger(log),
	}
	if reg != nil {
		opts = append(opts, scopez.WithRegisterer(reg))
	}
	return opts
}

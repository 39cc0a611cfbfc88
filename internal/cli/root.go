// Package cli implements the scopecheck command line.
package cli

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zoobzio/scopez"
	"github.com/zoobzio/scopez/internal/config"
)

// New builds the root command. Flags are bound to vp so SCOPEZ_* variables
// and scopez.yaml fill in anything not given on the command line.
func New(vp *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "scopecheck",
		Short:         "Run span propagation scenarios against a live event loop",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.Bool("debug", false, "Enable debug logging, including ignored lifecycle anomalies")
	flags.String("strategy", "tree", "Propagation strategy: tree or flat")
	flags.Int("flat-capacity", scopez.DefaultFlatCapacity, "Resources remembered by the flat strategy")
	flags.String("log-format", "text", "Log format: text or json")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address and keep serving until interrupted")
	bindFlags(vp, flags)

	root.AddCommand(newListCommand(), newRunCommand(vp))
	return root
}

// bindFlags binds every flag to the config key of the same name with
// dashes replaced by underscores.
func bindFlags(vp *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		key := f.Name
		switch key {
		case "flat-capacity":
			key = config.KeyFlatCapacity
		case "log-format":
			key = config.KeyLogFormat
		case "metrics-addr":
			key = config.KeyMetricsAddr
		}
		// Only fails for a nil flag.
		_ = vp.BindPFlag(key, f)
	})
}

// loadConfig resolves the configuration and the logger it describes.
func loadConfig(vp *viper.Viper, out io.Writer) (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(vp)
	if err != nil {
		return config.Config{}, nil, err
	}
	log := cfg.NewLogger(out)
	if cfg.Debug {
		log.Debug("enabled debug mode")
	}
	return cfg, log, nil
}

// Execute runs scopecheck with the process arguments.
func Execute() {
	root := New(config.NewViper())
	if err := root.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

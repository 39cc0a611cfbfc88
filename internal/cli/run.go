package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zoobzio/scopez/internal/scenario"
)

// ErrScenariosFailed is returned when at least one scenario did not pass.
var ErrScenariosFailed = errors.New("scenarios failed")

func newRunCommand(vp *viper.Viper) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "run [scenario...]",
		Short: "Run scenarios, all of them when none are named",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(vp, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			selected, err := selectScenarios(args)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			reg := prometheus.NewRegistry()
			if cfg.MetricsAddr != "" {
				srv := serveMetrics(cfg.MetricsAddr, reg, log)
				defer shutdown(srv, log)
			}

			runner := scenario.Runner{
				Log:        log,
				Registerer: reg,
				Options:    cfg.EngineOptions(log, nil),
				Strategy:   cfg.Strategy,
			}

			failed := 0
			for _, s := range selected {
				runCtx, stop := context.WithTimeout(ctx, timeout)
				res := runner.Run(runCtx, s)
				stop()
				report(cmd, res)
				if !res.Skipped && !res.Passed() {
					failed++
				}
			}

			if cfg.MetricsAddr != "" {
				log.WithField("addr", cfg.MetricsAddr).Info("serving metrics until interrupted")
				<-ctx.Done()
			}
			if failed > 0 {
				return errors.Wrapf(ErrScenariosFailed, "%d of %d", failed, len(selected))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Time limit for each scenario")
	return cmd
}

// selectScenarios resolves names, dropping duplicates. No names means all.
func selectScenarios(names []string) ([]scenario.Scenario, error) {
	if len(names) == 0 {
		return scenario.All(), nil
	}
	seen := make(map[string]bool, len(names))
	selected := make([]scenario.Scenario, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		s, ok := scenario.Lookup(name)
		if !ok {
			return nil, errors.Errorf("unknown scenario %q", name)
		}
		selected = append(selected, s)
	}
	return selected, nil
}

func report(cmd *cobra.Command, res scenario.Result) {
	out := cmd.OutOrStdout()
	switch {
	case res.Skipped:
		fmt.Fprintf(out, "SKIP %s (%s)\n", res.Name, res.Strategy)
	case res.Passed():
		fmt.Fprintf(out, "PASS %s (%s)\n", res.Name, res.Strategy)
	default:
		fmt.Fprintf(out, "FAIL %s (%s)\n", res.Name, res.Strategy)
		if res.Err != nil {
			fmt.Fprintf(out, "    %v\n", res.Err)
		}
		for _, f := range res.Failures {
			fmt.Fprintf(out, "    %s\n", f)
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, log logrus.FieldLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	return srv
}

func shutdown(srv *http.Server, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("metrics server shutdown")
	}
}

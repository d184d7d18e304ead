// Command guestgate is the operator tool for the guest admission engine:
// it validates limit files, inspects live counters, runs one-off
// evaluations and sweeps expired counters.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ineyio/guestgate"
	"github.com/ineyio/guestgate/janitor"
	"github.com/ineyio/guestgate/meter"
)

// app carries what every subcommand needs once flags are resolved.
type app struct {
	v        *viper.Viper
	settings Settings
	logger   *slog.Logger
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New()}
	setDefaults(a.v)

	rootCmd := &cobra.Command{
		Use:   "guestgate",
		Short: "Guest admission-control engine tooling",
		Long:  `guestgate validates guest-tier limits, inspects the live counters in the configured store and sweeps expired counters.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(a.v)
			if err != nil {
				return err
			}
			a.settings = s
			a.logger = newLogger(cmd.ErrOrStderr(), s.Log)
			slog.SetDefault(a.logger)
			return nil
		},
		SilenceUsage: true,
	}
	bindPersistentFlags(a.v, rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		a.validateCommand(),
		a.usageCommand(),
		a.evaluateCommand(),
		a.sweepCommand(),
	)
	return rootCmd
}

// limits loads the limits file, or the defaults when none is configured.
func (a *app) limits() (guestgate.Config, error) {
	if a.settings.Config == "" {
		return guestgate.DefaultConfig(), nil
	}
	return guestgate.LoadConfig(a.settings.Config)
}

func (a *app) controller(ctx context.Context, opts ...guestgate.Option) (*guestgate.Controller, openedStore, error) {
	cfg, err := a.limits()
	if err != nil {
		return nil, openedStore{}, err
	}
	st, err := openStore(ctx, a.settings.Store)
	if err != nil {
		return nil, openedStore{}, err
	}
	opts = append([]guestgate.Option{guestgate.WithLogger(a.logger)}, opts...)
	c, err := guestgate.NewController(cfg, st, opts...)
	if err != nil {
		st.close()
		return nil, openedStore{}, err
	}
	return c, st, nil
}

func (a *app) validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the limits file and print the effective limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.limits()
			if err != nil {
				return err
			}
			ledgerCap := guestgate.NewCostLedger(nil, cfg).Cap()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "global_daily_limit:        %d\n", cfg.GlobalDailyLimit)
			fmt.Fprintf(out, "global_daily_cost_cap:     %.6f\n", cfg.GlobalDailyCostCap)
			fmt.Fprintf(out, "unit_cost:                 %.6f\n", cfg.UnitCost)
			fmt.Fprintf(out, "effective ledger cap:      %.6f (%d units)\n", guestgate.Currency(ledgerCap), ledgerCap)
			fmt.Fprintf(out, "ip_hourly_limit:           %d\n", cfg.IPHourlyLimit)
			fmt.Fprintf(out, "ip_daily_limit:            %d\n", cfg.IPDailyLimit)
			fmt.Fprintf(out, "fingerprints_per_ip_limit: %d\n", cfg.FingerprintsPerIPLimit)
			fmt.Fprintf(out, "fingerprint_daily_limit:   %d (advisory)\n", cfg.FingerprintDailyLimit)
			fmt.Fprintf(out, "max_file_size:             %d\n", cfg.MaxFileSize)
			return nil
		},
	}
}

func (a *app) usageCommand() *cobra.Command {
	var ip string

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show today's ledger and, optionally, one IP's counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, st, err := a.controller(ctx)
			if err != nil {
				return err
			}
			defer st.close()

			u, err := c.Usage(ctx, ip, time.Time{})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "day:          %s\n", guestgate.WindowDay.Start(u.At).Format(time.DateOnly))
			fmt.Fprintf(out, "ledger:       %.6f / %.6f\n", guestgate.Currency(u.CostUnits), guestgate.Currency(u.CostCap))
			if u.ClientIP != "" {
				cfg := c.Config()
				fmt.Fprintf(out, "ip:           %s\n", u.ClientIP)
				fmt.Fprintf(out, "hourly:       %d / %d\n", u.IPHourly, cfg.IPHourlyLimit)
				fmt.Fprintf(out, "daily:        %d / %d\n", u.IPDaily, cfg.IPDailyLimit)
				fmt.Fprintf(out, "fingerprints: %d / %d\n", u.Fingerprints, cfg.FingerprintsPerIPLimit)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ip, "ip", "", "client IP to inspect")
	return cmd
}

func (a *app) evaluateCommand() *cobra.Command {
	var (
		ip          string
		fingerprint string
		items       int
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run one admission evaluation (increments real counters)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, st, err := a.controller(ctx, guestgate.WithMeter(meter.NewLogMeter(a.logger)))
			if err != nil {
				return err
			}
			defer st.close()

			d := c.Evaluate(ctx, guestgate.RequestSignals{
				ClientIP:    ip,
				Fingerprint: fingerprint,
			}, c.Config().EstimateCost(items))

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "decision:  %s\n", d.ID)
			if d.Admitted {
				fmt.Fprintln(out, "admitted:  true")
				if d.Advisory.Tracked {
					fmt.Fprintf(out, "device:    %d / %d (soft)\n", d.Advisory.Used, d.Advisory.Limit)
				}
				return nil
			}
			fmt.Fprintln(out, "admitted:  false")
			fmt.Fprintf(out, "reason:    %s\n", d.Reason)
			if !d.RetryAt.IsZero() {
				fmt.Fprintf(out, "retry at:  %s\n", d.RetryAt.Format(time.RFC3339))
			}
			if d.Err != nil {
				fmt.Fprintf(out, "error:     %v\n", d.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ip, "ip", "", "client IP")
	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "device fingerprint")
	cmd.Flags().IntVar(&items, "items", 1, "number of items in the request")
	_ = cmd.MarkFlagRequired("ip")
	_ = cmd.MarkFlagRequired("fingerprint")
	return cmd
}

func (a *app) sweepCommand() *cobra.Command {
	var (
		schedule string
		once     bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired counters, once or on a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := openStore(ctx, a.settings.Store)
			if err != nil {
				return err
			}
			defer st.close()

			sw, ok := st.sweeper()
			if !ok {
				a.logger.Info("store expires counters itself, nothing to sweep", "backend", a.settings.Store.Backend)
				return nil
			}

			j, err := janitor.New(sw, schedule, a.logger)
			if err != nil {
				return err
			}

			if once {
				fmt.Fprintf(cmd.OutOrStdout(), "removed: %d\n", j.RunOnce(ctx))
				return nil
			}

			if addr := a.v.GetString("metrics.addr"); addr != "" {
				prometheus.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
					Name: "guestgate_sweep_removed_total",
					Help: "Expired counters removed by the janitor.",
				}, func() float64 {
					_, removed := j.Stats()
					return float64(removed)
				}))
				srv := metricsServer(addr)
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("metrics server failed", "error", err)
					}
				}()
				defer srv.Close()
			}

			if err := j.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			j.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", janitor.DefaultSchedule, "cron schedule for sweeps")
	cmd.Flags().BoolVar(&once, "once", false, "sweep once and exit")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	_ = a.v.BindPFlag("metrics.addr", cmd.Flags().Lookup("metrics-addr"))
	return cmd
}

func metricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Command passtrack schedules satellite passes for a ground station and
// points its antenna at them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/passtrack/core"
	"github.com/signalsfoundry/passtrack/internal/actuator"
	"github.com/signalsfoundry/passtrack/internal/logging"
	"github.com/signalsfoundry/passtrack/internal/notify"
	"github.com/signalsfoundry/passtrack/internal/observability"
	"github.com/signalsfoundry/passtrack/internal/scheduler"
	"github.com/signalsfoundry/passtrack/internal/supervisor"
	"github.com/signalsfoundry/passtrack/model"
	"github.com/signalsfoundry/passtrack/timectrl"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, "passtrack:", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "passtrack",
		Short:         "Satellite pass scheduler and antenna tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (YAML)")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Track passes until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, configPath, logging.NewFromEnv())
		},
	})
	root.AddCommand(newPassesCmd(&configPath))
	root.AddCommand(newSimulateCmd(&configPath))
	return root
}

func runDaemon(ctx context.Context, configPath string, log logging.Logger) error {
	a, err := setup(ctx, configPath, log)
	if err != nil {
		return err
	}
	defer a.close()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Warn(ctx, "tracing disabled", logging.Err(err))
	} else {
		defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)
	}

	collector, err := observability.NewTrackingCollector(nil)
	if err != nil {
		return fmt.Errorf("initialise metrics: %w", err)
	}
	if metricsSrv := serveMetrics(ctx, a.cfg.Metrics.Addr, collector, log); metricsSrv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	act, err := actuator.Open(ctx, a.cfg.ActuatorConfig(), log)
	if err != nil {
		return err
	}
	defer act.Close()

	positions := core.NewPositionSource(a.elements, a.cfg.Tracking.StaleAfter.Std())
	defer positions.Close()
	predictor := core.NewPassPredictor(a.elements)
	predictor.StaleAfter = a.cfg.Tracking.StaleAfter.Std()

	clock := timectrl.Real()
	sched := scheduler.New(predictor, clock, a.cfg.SchedulerConfig(), log, collector)

	opts := []supervisor.Option{
		supervisor.WithLogger(log),
		supervisor.WithMetrics(collector),
		supervisor.WithSyncer(a.source),
		supervisor.WithTracer(observability.Tracer()),
	}
	if len(a.cfg.Objects) == 0 {
		opts = append(opts, supervisor.WithObjectSource(a.source.ObjectIDs))
	}

	if addr := a.cfg.Health.Addr; addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen for health checks on %s: %w", addr, err)
		}
		health := observability.NewHealth(log)
		go func() {
			if err := health.Serve(lis); err != nil {
				log.Warn(ctx, "health server exited", logging.Err(err))
			}
		}()
		defer health.Stop()
		health.SetServing(true)
		opts = append(opts, supervisor.WithObserver(health))
		log.Info(ctx, "serving gRPC health", logging.String("addr", addr))
	}

	if tg := a.cfg.TelegramConfig(); tg.Enabled() {
		notifier := notify.NewTelegram(tg, nil, log)
		defer notifier.Close()
		opts = append(opts, supervisor.WithObserver(notifier))
	}

	sup := supervisor.New(a.cfg.SupervisorConfig(a.station), sched, positions, act, clock, opts...)
	return sup.Run(ctx)
}

func serveMetrics(ctx context.Context, addr string, collector *observability.TrackingCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(ctx, "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(ctx, "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func newPassesCmd(configPath *string) *cobra.Command {
	var (
		from  string
		hours float64
	)
	cmd := &cobra.Command{
		Use:   "passes",
		Short: "Print the predicted passes for the configured station",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			start := time.Now().UTC()
			if from != "" {
				t, err := time.Parse(time.RFC3339, from)
				if err != nil {
					return &model.ConfigurationError{Field: "--from", Reason: err.Error()}
				}
				start = t.UTC()
			}

			log := logging.NewFromEnv()
			a, err := setup(ctx, *configPath, log)
			if err != nil {
				return err
			}
			defer a.close()

			horizon := a.cfg.Scheduler.Horizon.Std()
			if hours > 0 {
				horizon = time.Duration(hours * float64(time.Hour))
			}
			predictor := core.NewPassPredictor(a.elements)
			predictor.StaleAfter = a.cfg.Tracking.StaleAfter.Std()

			ids := a.cfg.Objects
			if len(ids) == 0 {
				ids = a.source.ObjectIDs()
			}
			var windows []model.PassWindow
			for _, id := range ids {
				ws, err := predictor.Predict(ctx, id, a.station, start, start.Add(horizon))
				if err != nil {
					log.Warn(ctx, "pass prediction failed", logging.String("object_id", id), logging.Err(err))
					continue
				}
				windows = append(windows, ws...)
			}
			sort.Slice(windows, func(i, j int) bool { return windows[i].Start.Before(windows[j].Start) })
			return printPasses(cmd.OutOrStdout(), a.station, windows)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start of the listing (RFC3339, default now)")
	cmd.Flags().Float64Var(&hours, "hours", 0, "listing length in hours (default scheduler.horizon)")
	return cmd
}

func printPasses(out io.Writer, station model.GroundStation, windows []model.PassWindow) error {
	fmt.Fprintf(out, "Passes over %s (%.4f, %.4f), min elevation %.1f°\n", station.Name, station.Latitude, station.Longitude, station.MinElevation)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OBJECT\tRISE (UTC)\tCULMINATION\tSET\tMAX EL\tRISE AZ\tSET AZ")
	for _, w := range windows {
		culm := "-"
		if w.HasCulmination() {
			culm = w.Culmination.UTC().Format("15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1f°\t%.0f°\t%.0f°\n",
			w.ObjectID,
			w.Start.UTC().Format("2006-01-02 15:04:05"),
			culm,
			w.End.UTC().Format("15:04:05"),
			w.MaxElevation,
			w.StartAzimuth,
			w.EndAzimuth,
		)
	}
	return tw.Flush()
}

package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/passtrack/core"
	"github.com/signalsfoundry/passtrack/internal/actuator"
	"github.com/signalsfoundry/passtrack/internal/logging"
	"github.com/signalsfoundry/passtrack/internal/scheduler"
	"github.com/signalsfoundry/passtrack/internal/supervisor"
	"github.com/signalsfoundry/passtrack/model"
	"github.com/signalsfoundry/passtrack/timectrl"
)

func newSimulateCmd(configPath *string) *cobra.Command {
	var (
		start    string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the tracking loop in virtual time against a dry-run actuator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			begin := time.Now().UTC()
			if start != "" {
				t, err := time.Parse(time.RFC3339, start)
				if err != nil {
					return &model.ConfigurationError{Field: "--start", Reason: err.Error()}
				}
				begin = t.UTC()
			}
			if duration <= 0 {
				return &model.ConfigurationError{Field: "--duration", Reason: "must be positive"}
			}
			return simulate(cmd.Context(), *configPath, begin, duration, cmd.OutOrStdout(), logging.NewFromEnv())
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "virtual start time (RFC3339, default now)")
	cmd.Flags().DurationVar(&duration, "duration", 24*time.Hour, "virtual time to simulate")
	return cmd
}

// simulate drives the supervisor with a stepping clock: every wait jumps
// virtual time forward, so a day of passes runs in seconds.
func simulate(ctx context.Context, configPath string, begin time.Time, duration time.Duration, out io.Writer, log logging.Logger) error {
	a, err := setup(ctx, configPath, log)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	end := begin.Add(duration)
	clock := timectrl.NewSteppingClock(begin)
	clock.AddListener(func(now time.Time) {
		if now.After(end) {
			cancel()
		}
	})

	positions := core.NewPositionSource(a.elements, a.cfg.Tracking.StaleAfter.Std())
	defer positions.Close()
	predictor := core.NewPassPredictor(a.elements)
	predictor.StaleAfter = a.cfg.Tracking.StaleAfter.Std()
	sched := scheduler.New(predictor, clock, a.cfg.SchedulerConfig(), log, nil)

	report := &sessionReport{out: out}
	opts := []supervisor.Option{
		supervisor.WithLogger(log),
		supervisor.WithObserver(report),
	}
	if len(a.cfg.Objects) == 0 {
		opts = append(opts, supervisor.WithObjectSource(a.source.ObjectIDs))
	}

	fmt.Fprintf(out, "Simulating %s from %s over %s\n", duration, begin.Format(time.RFC3339), a.station.Name)
	sup := supervisor.New(a.cfg.SupervisorConfig(a.station), sched, positions, actuator.NewDryRun(log), clock, opts...)
	if err := sup.Run(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d passes tracked\n", report.count())
	return nil
}

// sessionReport prints one line per finished pass.
type sessionReport struct {
	out io.Writer

	mu    sync.Mutex
	ended int
}

func (r *sessionReport) PassStarted(context.Context, model.TrackingSession) {}

func (r *sessionReport) PassEnded(_ context.Context, s model.TrackingSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended++
	w := s.Window
	fmt.Fprintf(r.out, "%s  %-20s %s-%s  max %5.1f°  %-10s %-14s %4d commands\n",
		w.Start.UTC().Format("2006-01-02"),
		w.ObjectID,
		s.StartedAt.UTC().Format("15:04:05"),
		s.EndedAt.UTC().Format("15:04:05"),
		w.MaxElevation,
		s.Phase,
		s.Reason,
		s.CommandsSent,
	)
}

func (r *sessionReport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/shuttle/internal/config"
	"github.com/bamsammich/shuttle/internal/engine"
	"github.com/bamsammich/shuttle/internal/lock"
	"github.com/bamsammich/shuttle/internal/schedule"
	"github.com/bamsammich/shuttle/internal/ui"
)

const defaultPoll = "@every 30s"

func engineFlags(cmd *cobra.Command, s *engineSettings) {
	cmd.Flags().StringVar(&s.budget, "budget", engine.DefaultBudget.String(), "time budget of one invocation")
	cmd.Flags().StringVar(&s.rearmDelay, "rearm-delay", engine.DefaultRearmDelay.String(), "delay before the follow-up invocation")
	cmd.Flags().StringVar(&s.bwLimit, "bwlimit", "", "bandwidth limit (e.g. 100M, 1G)")
	cmd.Flags().Var(&patternFlag{patterns: &s.include}, "include", "copy only paths matching PATTERN (repeatable)")
	cmd.Flags().Var(&patternFlag{patterns: &s.exclude}, "exclude", "skip paths matching PATTERN (repeatable)")
}

// patternFlag is a repeatable filter pattern flag. Patterns given on the
// command line are added after those of the config file.
type patternFlag struct {
	patterns *[]string
}

var _ pflag.Value = (*patternFlag)(nil)

func (f *patternFlag) String() string {
	if f.patterns == nil {
		return ""
	}
	return strings.Join(*f.patterns, ",")
}

func (*patternFlag) Type() string { return "pattern" }

func (f *patternFlag) Set(val string) error {
	*f.patterns = append(*f.patterns, val)
	return nil
}

// applyConfigDefaults applies config file defaults for flags not explicitly set on the CLI.
func applyConfigDefaults(cmd *cobra.Command, defaults config.EngineConfig, s *engineSettings) {
	if !cmd.Flags().Changed("budget") && defaults.Budget != nil {
		s.budget = *defaults.Budget
	}
	if !cmd.Flags().Changed("rearm-delay") && defaults.RearmDelay != nil {
		s.rearmDelay = *defaults.RearmDelay
	}
	if !cmd.Flags().Changed("bwlimit") && defaults.BWLimit != nil {
		s.bwLimit = *defaults.BWLimit
	}
}

func (c *cli) tickCmd() *cobra.Command {
	var (
		settings engineSettings
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one invocation if the copy trigger is due",
		Long: `Tick runs a single copy invocation when the trigger armed by "start" or by a
previous invocation is due, then exits. Point cron or a systemd timer at it
as an alternative to "shuttle watch". An invocation that finds another one
running exits without doing anything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			applyConfigDefaults(cmd, c.cfg.Engine, &settings)
			st, err := c.openState()
			if err != nil {
				return err
			}
			handler, budget, err := c.invocation(cmd.Context(), st, settings)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if force {
				return asJobError(handler(ctx))
			}

			w := schedule.NewWatcher(st.sched, defaultPoll, leaseFor(budget))
			w.Handle(engine.DefaultTrigger, handler)
			fired, err := w.Fire(ctx, engine.DefaultTrigger)
			if err != nil {
				return asJobError(err)
			}
			if !fired {
				c.logNotDue(ctx, st)
			}
			return nil
		},
	}
	engineFlags(cmd, &settings)
	cmd.Flags().BoolVar(&force, "force", false, "run even if the trigger is not due")
	return cmd
}

func (c *cli) logNotDue(ctx context.Context, st *state) {
	due, armed, err := st.sched.Pending(ctx, engine.DefaultTrigger)
	switch {
	case err != nil:
		slog.Warn("read trigger", "error", err)
	case armed:
		slog.Info("no invocation due", "next", due.Local().Format(time.DateTime))
	default:
		slog.Info("no invocation scheduled")
	}
}

func (c *cli) watchCmd() *cobra.Command {
	var (
		settings engineSettings
		poll     string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Fire copy invocations as their triggers come due",
		Long: `Watch polls the trigger store on a cron schedule and runs an invocation
whenever the copy trigger is due. It keeps running across jobs until
interrupted; an interrupted invocation is suspended and resumes later.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			applyConfigDefaults(cmd, c.cfg.Engine, &settings)
			if !cmd.Flags().Changed("poll") && c.cfg.Watch.Poll != nil {
				poll = *c.cfg.Watch.Poll
			}
			st, err := c.openState()
			if err != nil {
				return err
			}
			handler, budget, err := c.invocation(cmd.Context(), st, settings)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w := schedule.NewWatcher(st.sched, poll, leaseFor(budget))
			w.Handle(engine.DefaultTrigger, handler)
			slog.Info("watching", "poll", poll, "state", c.stateDir)
			if err := w.Run(ctx); err != nil {
				return usageError(err)
			}
			return nil
		},
	}
	engineFlags(cmd, &settings)
	cmd.Flags().StringVar(&poll, "poll", defaultPoll, "how often to check for due triggers (cron spec)")
	return cmd
}

// invocation builds the handler that runs one engine invocation under the
// invocation lock. It also returns the effective budget.
func (c *cli) invocation(ctx context.Context, st *state, settings engineSettings) (schedule.Handler, time.Duration, error) {
	chain, err := c.filterChain(settings)
	if err != nil {
		return nil, 0, usageError(err)
	}
	cfg, err := settings.config(chain)
	if err != nil {
		return nil, 0, usageError(err)
	}
	bw, err := settings.bytesPerSec()
	if err != nil {
		return nil, 0, usageError(err)
	}
	provider, err := c.openProvider(ctx, bw)
	if err != nil {
		return nil, 0, err
	}
	notifier := c.notifier()

	handler := func(ctx context.Context) error {
		if err := st.lock.TryLock(); err != nil {
			if errors.Is(err, lock.ErrLocked) {
				slog.Info("another invocation is running, skipping")
				return nil
			}
			return err
		}
		defer st.lock.Unlock()

		res, err := engine.New(cfg, engine.Deps{
			Provider:  provider,
			Queue:     st.queue,
			Scheduler: st.sched,
			Log:       st.log,
			Notifier:  notifier,
		}).Run(ctx)
		if err != nil {
			return err
		}
		if !c.quiet && res.Outcome != engine.OutcomeIdle {
			ui.NewPrinter(c.stderr).Summary(res)
		}
		return nil
	}
	return handler, cfg.Budget, nil
}

func asJobError(err error) error {
	if err == nil {
		return nil
	}
	return jobError(err)
}

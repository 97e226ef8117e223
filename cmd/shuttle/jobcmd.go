package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/shuttle/internal/job"
	"github.com/bamsammich/shuttle/internal/lock"
	"github.com/bamsammich/shuttle/internal/ui"
)

func (c *cli) startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start a new copy job from the configured folders",
		Long: `Start tears down any previous job, creates (or reuses) the copy's root
folder under the destination and queues the source root. The first
invocation is due at once; "shuttle watch" or "shuttle tick" runs it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := c.openState()
			if err != nil {
				return err
			}
			if err := lockOrFail(st.lock); err != nil {
				return err
			}
			defer st.lock.Unlock()

			provider, err := c.openProvider(cmd.Context(), 0)
			if err != nil {
				return err
			}
			started, err := c.controller(st, provider).Start(cmd.Context())
			if err != nil {
				if errors.Is(err, job.ErrConfigMissing) || errors.Is(err, job.ErrInvalidConfig) {
					return usageError(err)
				}
				return jobError(err)
			}

			verb := "created"
			if started.Resumed {
				verb = "resuming into"
			}
			fmt.Fprintf(c.stdout, "job %s started, %s %q\n", started.ID, verb, started.RootName)
			fmt.Fprintf(c.stdout, "  from %s\n  to   %s\n", started.SourceURL, started.TargetURL)
			return nil
		},
	}
}

func (c *cli) stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Cancel the job; files already copied stay",
		Long: `Stop discards the queue and the pending trigger. It does not wait for
a running invocation, which exits at its next file or folder.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := c.openState()
			if err != nil {
				return err
			}

			c.controller(st, nil).Stop(cmd.Context())
			fmt.Fprintln(c.stdout, "job stopped")
			return nil
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of the job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := c.openState()
			if err != nil {
				return err
			}
			status, err := c.controller(st, nil).Status(cmd.Context())
			if err != nil {
				return jobError(err)
			}
			ui.NewPrinter(c.stdout).Status(status, time.Now())
			return nil
		},
	}
}

func (c *cli) logCmd() *cobra.Command {
	var (
		reset bool
		tail  int
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the run log",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			st, err := c.openState()
			if err != nil {
				return err
			}
			if reset {
				if err := st.log.Reset(); err != nil {
					return jobError(err)
				}
				fmt.Fprintln(c.stdout, "run log cleared")
				return nil
			}
			entries, err := st.log.Entries()
			if err != nil {
				return jobError(err)
			}
			if tail > 0 && len(entries) > tail {
				entries = entries[len(entries)-tail:]
			}
			ui.NewPrinter(c.stdout).Log(entries)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "clear the run log")
	cmd.Flags().IntVarP(&tail, "tail", "n", 0, "show only the last N entries")
	return cmd
}

// lockOrFail takes the invocation lock for a command that must not overlap
// a running invocation.
func lockOrFail(l *lock.File) error {
	if err := l.TryLock(); err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return jobError(fmt.Errorf("%w; try again when it finishes", err))
		}
		return jobError(err)
	}
	return nil
}


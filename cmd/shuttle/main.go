package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bamsammich/shuttle/internal/config"
	"github.com/bamsammich/shuttle/internal/ui"
)

var version = "dev"

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// cli carries the global flags and the loaded config file to subcommands.
type cli struct {
	stdout io.Writer
	stderr io.Writer

	configPath  string
	stateDir    string
	logFile     string
	verbose     bool
	quiet       bool
	showVersion bool

	cfg     config.Config
	closers []io.Closer
}

func execute(args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}
	defer c.close()

	rootCmd := c.rootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			if exitErr.err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", exitErr.err)
			}
			return exitErr.code
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

func (c *cli) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "shuttle",
		Short: "Resumable, time-budgeted folder tree copy",
		Long: `shuttle copies a folder tree into a new "<name> (Copia)" folder under a
destination, a little at a time. Each invocation works until its time budget
is spent, saves its place in a durable queue and arms a trigger for the next
invocation. Run "shuttle watch" to fire triggers as they come due, or call
"shuttle tick" from cron or a systemd timer.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.showVersion {
				fmt.Fprintf(c.stdout, "shuttle %s\n", version)
				return nil
			}
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&c.configPath, "config", config.Path(), "config file")
	pf.StringVar(&c.stateDir, "state-dir", "", "directory holding queue, triggers, lock and run log (default: $XDG_STATE_HOME/shuttle)")
	pf.StringVar(&c.logFile, "log", "", "write structured JSON log to FILE")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "verbose output")
	pf.BoolVarP(&c.quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.Flags().BoolVar(&c.showVersion, "version", false, "print version and exit")

	rootCmd.AddCommand(
		c.configCmd(),
		c.startCmd(),
		c.stopCmd(),
		c.statusCmd(),
		c.logCmd(),
		c.tickCmd(),
		c.watchCmd(),
		docsCmd(),
	)
	return rootCmd
}

// setup loads the config file and installs the default logger.
func (c *cli) setup() error {
	cfg, err := config.LoadFile(c.configPath)
	if err != nil {
		return usageError(err)
	}
	c.cfg = cfg
	if c.stateDir == "" {
		c.stateDir = cfg.StateDir()
	}

	logLevel := slog.LevelWarn
	if c.verbose {
		logLevel = slog.LevelDebug
	} else if !c.quiet {
		logLevel = slog.LevelInfo
	}
	textHandler := slog.NewTextHandler(c.stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	var logHandler slog.Handler = textHandler
	if c.logFile != "" {
		lf, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return usageError(fmt.Errorf("open log file: %w", err))
		}
		c.closers = append(c.closers, lf)
		jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
		logHandler = ui.NewMultiHandler(textHandler, jsonHandler)
	}
	slog.SetDefault(slog.New(logHandler))
	return nil
}

func (c *cli) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i].Close()
	}
	c.closers = nil
}

// exitError carries a process exit code. code 1 is a failed job operation,
// code 2 a usage or configuration problem.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit code %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

func jobError(err error) error   { return &exitError{code: 1, err: err} }
func usageError(err error) error { return &exitError{code: 2, err: err} }

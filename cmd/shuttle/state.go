package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"github.com/bamsammich/shuttle/internal/config"
	"github.com/bamsammich/shuttle/internal/engine"
	"github.com/bamsammich/shuttle/internal/filter"
	"github.com/bamsammich/shuttle/internal/job"
	"github.com/bamsammich/shuttle/internal/lock"
	"github.com/bamsammich/shuttle/internal/notify"
	"github.com/bamsammich/shuttle/internal/queue"
	"github.com/bamsammich/shuttle/internal/runlog"
	"github.com/bamsammich/shuttle/internal/schedule"
	"github.com/bamsammich/shuttle/internal/tree"
)

// Storage kinds.
const (
	storageLocal = "local"
	storageSFTP  = "sftp"
)

// state is everything that lives in the state directory.
type state struct {
	queue *queue.Queue
	sched *schedule.Scheduler
	log   *runlog.FileLog
	lock  *lock.File
}

func openState(dir string) (*state, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	dbPath := filepath.Join(dir, config.DBFile)
	q, err := queue.Open(dbPath)
	if err != nil {
		return nil, err
	}
	s, err := schedule.Open(dbPath)
	if err != nil {
		q.Close()
		return nil, err
	}
	return &state{
		queue: q,
		sched: s,
		log:   runlog.Open(filepath.Join(dir, config.LogFile)),
		lock:  lock.New(filepath.Join(dir, config.LockFile)),
	}, nil
}

func (s *state) Close() error {
	return errors.Join(s.sched.Close(), s.queue.Close())
}

// openState opens the state directory and registers it for closing.
func (c *cli) openState() (*state, error) {
	st, err := openState(c.stateDir)
	if err != nil {
		return nil, jobError(err)
	}
	c.closers = append(c.closers, st)
	return st, nil
}

// storageKind returns the configured backend name.
func (c *cli) storageKind() string {
	return config.String(c.cfg.Storage.Kind, storageLocal)
}

// openProvider connects to the configured storage backend. bwLimit is in
// bytes per second; 0 disables throttling.
func (c *cli) openProvider(ctx context.Context, bwLimit int64) (tree.Provider, error) {
	sc := c.cfg.Storage
	var limiter *rate.Limiter
	if bwLimit > 0 {
		limiter = tree.NewBWLimiter(bwLimit)
	}

	var p tree.Provider
	switch kind := c.storageKind(); kind {
	case storageLocal:
		p = tree.NewLocal(config.String(sc.Root, "/"), limiter)
	case storageSFTP:
		host := config.String(sc.Host, "")
		if host == "" {
			return nil, usageError(errors.New("storage.host is required for sftp storage"))
		}
		sshCfg := tree.SSHConfig{
			Host:                  host,
			User:                  config.String(sc.User, ""),
			KeyFile:               config.String(sc.KeyFile, ""),
			Password:              config.String(sc.Password, ""),
			KnownHosts:            config.String(sc.KnownHosts, ""),
			InsecureIgnoreHostKey: sc.InsecureIgnoreHostKey != nil && *sc.InsecureIgnoreHostKey,
		}
		if sc.Port != nil {
			sshCfg.Port = *sc.Port
		}
		client, err := tree.DialSSH(ctx, sshCfg)
		if err != nil {
			return nil, jobError(err)
		}
		sp, err := tree.NewSFTP(client, host, config.String(sc.Root, "/"), limiter)
		if err != nil {
			client.Close()
			return nil, jobError(err)
		}
		p = sp
	default:
		return nil, usageError(fmt.Errorf("unknown storage kind %q (use %s or %s)", kind, storageLocal, storageSFTP))
	}
	c.closers = append(c.closers, p)
	return p, nil
}

// engineSettings are the per-invocation knobs, flags first, then the config
// file, then defaults.
type engineSettings struct {
	budget     string
	rearmDelay string
	bwLimit    string
	include    []string
	exclude    []string
}

func (s engineSettings) config(chain *filter.Chain) (engine.Config, error) {
	budget, err := config.Duration(&s.budget, engine.DefaultBudget)
	if err != nil {
		return engine.Config{}, fmt.Errorf("budget: %w", err)
	}
	rearm, err := config.Duration(&s.rearmDelay, engine.DefaultRearmDelay)
	if err != nil {
		return engine.Config{}, fmt.Errorf("rearm delay: %w", err)
	}
	return engine.Config{
		Budget:     budget,
		RearmDelay: rearm,
		Filter:     chain,
	}, nil
}

func (s engineSettings) bytesPerSec() (int64, error) {
	if s.bwLimit == "" {
		return 0, nil
	}
	n, err := filter.ParseSize(s.bwLimit)
	if err != nil {
		return 0, fmt.Errorf("invalid bwlimit: %w", err)
	}
	return n, nil
}

// filterChain builds the filter from the config file and the flags, nil
// when nothing is filtered.
func (c *cli) filterChain(s engineSettings) (*filter.Chain, error) {
	fc := c.cfg.Filter
	chain, err := filter.New(filter.Options{
		Include:   append(slices.Clone(fc.Include), s.include...),
		Exclude:   append(slices.Clone(fc.Exclude), s.exclude...),
		RulesFile: config.String(fc.RulesFile, ""),
		MinSize:   config.String(fc.MinSize, ""),
		MaxSize:   config.String(fc.MaxSize, ""),
	})
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	if chain.Empty() {
		return nil, nil
	}
	return chain, nil
}

// notifier builds the configured completion notifiers.
func (c *cli) notifier() notify.Notifier {
	nc := c.cfg.Notify
	var ns notify.Multi
	if url := config.String(nc.WebhookURL, ""); url != "" {
		ns = append(ns, notify.NewWebhook(url, config.String(nc.WebhookSecret, "")))
	}
	if addr := config.String(nc.SMTPAddr, ""); addr != "" && len(nc.MailTo) > 0 {
		ns = append(ns, &notify.Mail{
			Addr:     addr,
			User:     config.String(nc.SMTPUser, ""),
			Password: config.String(nc.SMTPPassword, ""),
			From:     config.String(nc.MailFrom, "shuttle@localhost"),
			To:       nc.MailTo,
		})
	}
	if len(ns) == 0 {
		return notify.Nop{}
	}
	return ns
}

// controller wires a job controller to the state directory. provider may
// be nil for operations that never touch storage.
func (c *cli) controller(st *state, provider tree.Provider) *job.Controller {
	return job.New(job.Options{
		Storage:    c.storageKind(),
		RootSuffix: config.String(c.cfg.Engine.RootSuffix, job.DefaultRootSuffix),
	}, job.Deps{
		Config:    config.NewStore(c.configPath),
		Provider:  provider,
		Queue:     st.queue,
		Scheduler: st.sched,
		Log:       st.log,
		Probe:     st.lock,
	})
}

// leaseFor bounds how long a fired trigger stays claimed: long enough for
// one full invocation.
func leaseFor(budget time.Duration) time.Duration {
	return budget + 5*time.Minute
}

// Package job starts, stops and reports on the single copy job of a state
// directory.
package job

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bamsammich/shuttle/internal/config"
	"github.com/bamsammich/shuttle/internal/engine"
	"github.com/bamsammich/shuttle/internal/queue"
	"github.com/bamsammich/shuttle/internal/runlog"
	"github.com/bamsammich/shuttle/internal/tree"
)

var (
	// ErrConfigMissing means the source or destination id is not set.
	ErrConfigMissing = errors.New("source and destination folders are not configured")
	// ErrInvalidConfig means a configured id does not resolve to a folder.
	ErrInvalidConfig = errors.New("configured folder is not accessible")
)

// DefaultRootSuffix is appended to the source folder name to name the copy.
const DefaultRootSuffix = " (Copia)"

// ConfigStore reads the configured root folder ids.
type ConfigStore interface {
	Get(key string) (string, bool, error)
}

// Queue is the part of the work queue the controller manages.
type Queue interface {
	SeedTx(ctx context.Context, job string, root queue.Task, also queue.TxFunc) error
	Discard(ctx context.Context) error
	SetPhase(ctx context.Context, p queue.Phase) error
	Phase(ctx context.Context) (queue.Phase, error)
	Job(ctx context.Context) (string, error)
	Len(ctx context.Context) (int, error)
	Front(ctx context.Context) (queue.Task, bool, error)
}

// Scheduler arms, disarms and inspects the copy trigger.
type Scheduler interface {
	engine.Scheduler
	RegisterTx(ctx context.Context, tx *sql.Tx, name string, delay time.Duration) error
	Pending(ctx context.Context, name string) (time.Time, bool, error)
}

// Probe reports whether an invocation is running right now.
type Probe interface {
	Held() (bool, error)
}

// Options tune a controller.
type Options struct {
	Storage    string // backend name, part of the job id
	Trigger    string
	RootSuffix string
}

// Deps are the collaborators of a controller. Probe is optional.
type Deps struct {
	Config    ConfigStore
	Provider  tree.Provider
	Queue     Queue
	Scheduler Scheduler
	Log       engine.RunLog
	Probe     Probe
}

// Controller drives the job state machine.
type Controller struct {
	opts Options
	deps Deps
}

// New creates a controller, filling in defaults.
func New(opts Options, deps Deps) *Controller {
	if opts.Trigger == "" {
		opts.Trigger = engine.DefaultTrigger
	}
	if opts.RootSuffix == "" {
		opts.RootSuffix = DefaultRootSuffix
	}
	return &Controller{opts: opts, deps: deps}
}

// Started describes a freshly started job.
type Started struct {
	ID        string
	RootName  string
	SourceURL string
	TargetURL string
	Resumed   bool // the root folder already existed
}

// Start tears down any previous job and starts a new one from the
// configured folders. The first invocation is due at once. Folders that do
// not resolve leave the previous job untouched; a failure after teardown
// leaves no job at all.
func (c *Controller) Start(ctx context.Context) (Started, error) {
	srcID, dstID, err := c.folders()
	if err != nil {
		return Started{}, err
	}

	src, err := c.deps.Provider.Folder(ctx, srcID)
	if err != nil {
		return Started{}, fmt.Errorf("%w: source %q: %w", ErrInvalidConfig, srcID, err)
	}
	dst, err := c.deps.Provider.Folder(ctx, dstID)
	if err != nil {
		return Started{}, fmt.Errorf("%w: destination %q: %w", ErrInvalidConfig, dstID, err)
	}

	if err := c.teardown(ctx); err != nil {
		return Started{}, err
	}

	if err := c.append(runlog.Separator()); err != nil {
		return Started{}, err
	}
	if err := c.append(runlog.Entry{
		Category: runlog.CategoryStart,
		Name:     "New run",
		Status:   runlog.StatusStarting,
	}); err != nil {
		return Started{}, err
	}

	rootName := src.Name() + c.opts.RootSuffix
	root, resumed, err := c.root(ctx, dst, rootName)
	if err != nil {
		return Started{}, err
	}

	status := runlog.StatusRootCreated
	if resumed {
		status = runlog.StatusRootResumed
	}
	if err := c.append(runlog.Entry{
		Category:  runlog.CategoryRoot,
		Name:      rootName,
		Status:    status,
		SourceURL: src.URL(),
		TargetURL: root.URL(),
	}); err != nil {
		return Started{}, err
	}

	id := JobID(c.opts.Storage, srcID, dstID)
	rootTask := queue.Task{
		SourceID: src.ID(),
		TargetID: root.ID(),
		Path:     rootName,
	}
	arm := func(ctx context.Context, tx *sql.Tx) error {
		return c.deps.Scheduler.RegisterTx(ctx, tx, c.opts.Trigger, 0)
	}
	if err := c.deps.Queue.SeedTx(ctx, id, rootTask, arm); err != nil {
		return Started{}, err
	}

	slog.Info("job started", "job", id, "root", rootName, "resumed", resumed)
	return Started{
		ID:        id,
		RootName:  rootName,
		SourceURL: src.URL(),
		TargetURL: root.URL(),
		Resumed:   resumed,
	}, nil
}

func (c *Controller) folders() (string, string, error) {
	src, srcOK, err := c.deps.Config.Get(config.KeySourceID)
	if err != nil {
		return "", "", err
	}
	dst, dstOK, err := c.deps.Config.Get(config.KeyDestID)
	if err != nil {
		return "", "", err
	}
	if !srcOK || !dstOK {
		return "", "", ErrConfigMissing
	}
	return src, dst, nil
}

// root finds or creates the copy's root folder under dst. An existing one
// is reused so a restarted job resumes into it.
func (c *Controller) root(ctx context.Context, dst tree.Folder, name string) (tree.Folder, bool, error) {
	existing, ok, err := dst.FindFolder(ctx, name)
	if err != nil {
		return nil, false, fmt.Errorf("look up root folder %q: %w", name, err)
	}
	if ok {
		return existing, true, nil
	}
	created, err := dst.CreateFolder(ctx, name)
	if err != nil {
		return nil, false, fmt.Errorf("create root folder %q: %w", name, err)
	}
	return created, false, nil
}

// teardown forgets the previous job. The phase goes first so a running
// invocation stops adding to the queue before it is discarded.
func (c *Controller) teardown(ctx context.Context) error {
	if err := c.deps.Queue.SetPhase(ctx, queue.PhaseNone); err != nil {
		return err
	}
	if err := c.deps.Queue.Discard(ctx); err != nil {
		return err
	}
	return c.deps.Scheduler.CancelAll(ctx, c.opts.Trigger)
}

// Stop cancels the job: the trigger is removed and the queue discarded.
// Work already copied stays. Stop succeeds from any state and needs no
// invocation lock: a running invocation sees the cancelled phase at its
// next file or folder and exits without touching the queue. Store failures
// are logged.
func (c *Controller) Stop(ctx context.Context) {
	if err := c.deps.Queue.SetPhase(ctx, queue.PhaseCancelled); err != nil {
		slog.Error("record cancellation", "error", err)
	}
	if err := c.deps.Queue.Discard(ctx); err != nil {
		slog.Error("discard queue", "error", err)
	}
	if err := c.deps.Scheduler.CancelAll(ctx, c.opts.Trigger); err != nil {
		slog.Error("cancel trigger", "error", err)
	}
	slog.Info("job stopped")
}

func (c *Controller) append(e runlog.Entry) error {
	if err := c.deps.Log.Append(e); err != nil {
		return fmt.Errorf("append run log: %w", err)
	}
	return nil
}

// JobID derives a stable job id from the backend and the two root ids.
func JobID(storage, src, dst string) string {
	h := blake3.New()
	h.Write([]byte(storage))
	h.Write([]byte{0})
	h.Write([]byte(src))
	h.Write([]byte{0})
	h.Write([]byte(dst))
	digest := h.Sum(nil)
	return hex.EncodeToString(digest[:8])
}

// Package engine runs one time-budgeted invocation of a resumable folder-tree
// copy. All progress lives in the work queue: a task is popped only after its
// folder has been fully processed, so an invocation can stop at any file
// boundary and the next one redoes at most the interrupted folder, skipping
// what already exists by name.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bamsammich/shuttle/internal/filter"
	"github.com/bamsammich/shuttle/internal/notify"
	"github.com/bamsammich/shuttle/internal/queue"
	"github.com/bamsammich/shuttle/internal/runlog"
	"github.com/bamsammich/shuttle/internal/stats"
	"github.com/bamsammich/shuttle/internal/tree"
)

// Defaults for Config.
const (
	DefaultBudget     = 15 * time.Minute
	DefaultRearmDelay = time.Minute
	DefaultTrigger    = "copy"
)

// Per-item failures. They are recorded in the run log and never abort an
// invocation.
var (
	ErrFileCopyFailed        = errors.New("file copy failed")
	ErrSubfolderCreateFailed = errors.New("subfolder create failed")
	ErrFolderUnreachable     = errors.New("folder unreachable")
)

// WorkQueue is the durable task FIFO the engine drains.
type WorkQueue interface {
	Front(ctx context.Context) (queue.Task, bool, error)
	PopFront(ctx context.Context) error
	EnqueueOnce(ctx context.Context, job string, task queue.Task) (bool, error)
	IsEmpty(ctx context.Context) (bool, error)
	Len(ctx context.Context) (int, error)
	Phase(ctx context.Context) (queue.Phase, error)
	SetPhase(ctx context.Context, p queue.Phase) error
	Job(ctx context.Context) (string, error)
	Active(ctx context.Context, job string) (bool, error)
}

// Scheduler arms and disarms the trigger that re-invokes the engine.
type Scheduler interface {
	Register(ctx context.Context, name string, delay time.Duration) error
	CancelAll(ctx context.Context, name string) error
}

// RunLog records operator-facing events.
type RunLog interface {
	Append(e runlog.Entry) error
}

// Config tunes an engine.
type Config struct {
	Budget     time.Duration // wall-clock limit of one invocation
	RearmDelay time.Duration // delay of the follow-up invocation
	Trigger    string        // scheduler trigger name
	Filter     *filter.Chain // optional; nil copies everything
}

// Deps are the collaborators of an engine. Notifier, Now and Stats are
// optional.
type Deps struct {
	Provider  tree.Provider
	Queue     WorkQueue
	Scheduler Scheduler
	Log       RunLog
	Notifier  notify.Notifier
	Now       func() time.Time
	Stats     *stats.Collector
}

// Outcome is how an invocation ended.
type Outcome int

const (
	// OutcomeIdle means there was nothing to do.
	OutcomeIdle Outcome = iota
	// OutcomeSuspended means the budget ran out and a follow-up is armed.
	OutcomeSuspended
	// OutcomeCompleted means this invocation emptied the queue.
	OutcomeCompleted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIdle:
		return "idle"
	case OutcomeSuspended:
		return "suspended"
	case OutcomeCompleted:
		return "completed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result summarizes one invocation.
type Result struct {
	Outcome   Outcome
	Stats     stats.Snapshot
	Remaining int // tasks left in the queue
}

// errStopped unwinds an invocation whose job was stopped under it.
var errStopped = errors.New("job stopped")

// Engine copies folder trees task by task. It runs one invocation at a time.
type Engine struct {
	cfg  Config
	deps Deps
	job  string // job of the current invocation
}

// New creates an engine, filling in defaults.
func New(cfg Config, deps Deps) *Engine {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.RearmDelay <= 0 {
		cfg.RearmDelay = DefaultRearmDelay
	}
	if cfg.Trigger == "" {
		cfg.Trigger = DefaultTrigger
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Stats == nil {
		deps.Stats = stats.NewCollector()
	}
	return &Engine{cfg: cfg, deps: deps}
}

// Run performs one invocation: it drains the queue until it is empty or the
// budget is spent. Only storage-wide failures are returned as errors;
// per-file and per-folder failures are logged and skipped.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	deadline := e.deps.Now().Add(e.cfg.Budget)
	q := e.deps.Queue
	// Queue bookkeeping must outlive a cancelled ctx so an interrupted
	// invocation still suspends cleanly.
	store := context.WithoutCancel(ctx)

	empty, err := q.IsEmpty(store)
	if err != nil {
		return Result{}, err
	}
	if empty {
		return e.idle(store)
	}
	if e.job, err = q.Job(store); err != nil {
		return Result{}, err
	}

	for {
		empty, err := q.IsEmpty(store)
		if err != nil {
			return Result{}, err
		}
		if empty {
			return e.complete(ctx)
		}

		if e.expired(ctx, deadline) {
			return e.suspend(ctx)
		}

		task, ok, err := q.Front(store)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return e.complete(ctx)
		}

		done, err := e.process(ctx, task, deadline)
		if errors.Is(err, errStopped) {
			return e.stopped(store)
		}
		if err != nil {
			return Result{}, err
		}
		if !done {
			return e.suspend(ctx)
		}

		// A stop may have discarded the queue under us.
		if err := e.ensureActive(store); err != nil {
			return e.stopOr(store, err)
		}
		if err := q.PopFront(store); err != nil {
			if errors.Is(err, queue.ErrEmptyQueue) {
				if err := e.ensureActive(store); err != nil {
					return e.stopOr(store, err)
				}
			}
			return Result{}, fmt.Errorf("pop %s: %w", task.Path, err)
		}
		e.deps.Stats.AddTasksDone(1)
	}
}

// ensureActive returns errStopped once the invocation's job is no longer the
// started job.
func (e *Engine) ensureActive(ctx context.Context) error {
	active, err := e.deps.Queue.Active(context.WithoutCancel(ctx), e.job)
	if err != nil {
		return err
	}
	if !active {
		return errStopped
	}
	return nil
}

// stopOr ends the invocation quietly on errStopped and fails on anything
// else.
func (e *Engine) stopOr(ctx context.Context, err error) (Result, error) {
	if errors.Is(err, errStopped) {
		return e.stopped(ctx)
	}
	return Result{}, err
}

// stopped ends an invocation whose job was stopped: nothing is popped,
// queued, logged or re-armed. A trigger armed in the race with the stop is
// cleared.
func (e *Engine) stopped(ctx context.Context) (Result, error) {
	phase, err := e.deps.Queue.Phase(ctx)
	if err != nil {
		return Result{}, err
	}
	if phase != queue.PhaseStarted {
		if err := e.deps.Scheduler.CancelAll(ctx, e.cfg.Trigger); err != nil {
			return Result{}, err
		}
	}
	n, err := e.deps.Queue.Len(ctx)
	if err != nil {
		return Result{}, err
	}
	slog.Info("job stopped during invocation", "phase", string(phase))
	return e.result(OutcomeIdle, n), nil
}

// expired reports whether the invocation must stop before starting more
// work. Cancellation counts as an exhausted budget.
func (e *Engine) expired(ctx context.Context, deadline time.Time) bool {
	return ctx.Err() != nil || !e.deps.Now().Before(deadline)
}

// process mirrors one source folder into its target. It reports false when
// the budget ran out mid-folder; the task must then stay at the front.
func (e *Engine) process(ctx context.Context, task queue.Task, deadline time.Time) (bool, error) {
	src, err := e.deps.Provider.Folder(ctx, task.SourceID)
	if err != nil {
		return e.dropUnlessCancelled(ctx, task, err)
	}
	dst, err := e.deps.Provider.Folder(ctx, task.TargetID)
	if err != nil {
		return e.dropUnlessCancelled(ctx, task, err)
	}

	slog.Debug("processing folder", "task", task.Path, "source", src.URL(), "target", dst.URL())
	e.sweep(ctx, task, dst)

	done, err := e.copyFiles(ctx, task, src, dst, deadline)
	if !done || err != nil {
		return done, err
	}
	return e.mirrorSubfolders(ctx, task, src, dst)
}

// sweep clears temp files a killed invocation left in the target. Holding
// the invocation lock means none of them is still being written.
func (e *Engine) sweep(ctx context.Context, task queue.Task, dst tree.Folder) {
	s, ok := dst.(tree.Sweeper)
	if !ok {
		return
	}
	n, err := s.SweepTemp(ctx)
	if err != nil {
		slog.Warn("stale temp sweep failed", "task", task.Path, "error", err)
	}
	if n > 0 {
		slog.Info("removed stale temp files", "task", task.Path, "count", n)
	}
}

// dropUnlessCancelled drops a task whose folder cannot be read. A failure
// caused by cancellation keeps the task queued instead.
func (e *Engine) dropUnlessCancelled(ctx context.Context, task queue.Task, cause error) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}
	return true, e.unreachable(task, cause)
}

func (e *Engine) copyFiles(ctx context.Context, task queue.Task, src, dst tree.Folder, deadline time.Time) (bool, error) {
	st := e.deps.Stats
	for file, err := range src.Files(ctx) {
		if err != nil {
			return e.dropUnlessCancelled(ctx, task, err)
		}
		if e.expired(ctx, deadline) {
			return false, nil
		}

		name := file.Name()
		if e.cfg.Filter.SkipFile(relPath(task.Path, name), file.Size()) {
			st.AddFilesFiltered(1)
			continue
		}

		_, exists, err := dst.FindFile(ctx, name)
		if err == nil && exists {
			st.AddFilesSkipped(1)
			continue
		}
		if err := e.ensureActive(ctx); err != nil {
			return false, err
		}
		if err == nil {
			_, err = file.CopyInto(ctx, dst, name)
		}
		if err != nil {
			if ctx.Err() != nil {
				return false, nil
			}
			if logErr := e.fileFailed(task, name, err); logErr != nil {
				return true, logErr
			}
			continue
		}
		st.AddFilesCopied(1)
		st.AddBytesCopied(file.Size())
	}
	return true, nil
}

// mirrorSubfolders finds or creates every subfolder in the target and
// queues it. It has no budget check: the phase only touches folders.
func (e *Engine) mirrorSubfolders(ctx context.Context, task queue.Task, src, dst tree.Folder) (bool, error) {
	st := e.deps.Stats
	for sub, err := range src.Subfolders(ctx) {
		if err != nil {
			return e.dropUnlessCancelled(ctx, task, err)
		}

		name := sub.Name()
		childPath := task.Path + "/" + name
		if e.cfg.Filter.SkipFolder(relPath(task.Path, name)) {
			slog.Debug("subfolder filtered", "path", childPath)
			continue
		}
		if err := e.ensureActive(ctx); err != nil {
			return false, err
		}

		target, exists, err := dst.FindFolder(ctx, name)
		switch {
		case err != nil:
		case exists:
			st.AddFoldersReused(1)
		default:
			target, err = dst.CreateFolder(ctx, name)
			if err == nil {
				st.AddFoldersCreated(1)
				err = e.append(runlog.Entry{
					Category: runlog.CategorySubfolder,
					Name:     name,
					Status:   runlog.StatusFolderCreated,
				})
				if err != nil {
					return true, err
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return false, nil
			}
			if logErr := e.subfolderFailed(childPath, name, err); logErr != nil {
				return true, logErr
			}
			continue
		}

		added, err := e.deps.Queue.EnqueueOnce(context.WithoutCancel(ctx), e.job, queue.Task{
			SourceID: sub.ID(),
			TargetID: target.ID(),
			Path:     childPath,
		})
		if errors.Is(err, queue.ErrJobEnded) {
			return false, errStopped
		}
		if err != nil {
			return true, fmt.Errorf("enqueue %s: %w", childPath, err)
		}
		if !added {
			slog.Debug("subfolder already queued", "path", childPath)
		}
	}
	return true, nil
}

func (e *Engine) unreachable(task queue.Task, cause error) error {
	err := fmt.Errorf("%w: %s: %w", ErrFolderUnreachable, task.Path, cause)
	slog.Error("folder dropped", "task", task.Path, "error", err)
	e.deps.Stats.AddTasksDropped(1)
	return e.append(runlog.Entry{
		Category: runlog.CategoryFolder,
		Name:     task.Path,
		Status:   "CRITICAL ACCESS ERROR: " + cause.Error(),
	})
}

func (e *Engine) fileFailed(task queue.Task, name string, cause error) error {
	err := fmt.Errorf("%w: %s/%s: %w", ErrFileCopyFailed, task.Path, name, cause)
	slog.Warn("file skipped", "task", task.Path, "file", name, "error", err)
	e.deps.Stats.AddFilesFailed(1)
	return e.append(runlog.Entry{
		Category: runlog.CategoryFile,
		Name:     name,
		Status:   "ERROR: " + cause.Error(),
	})
}

func (e *Engine) subfolderFailed(childPath, name string, cause error) error {
	err := fmt.Errorf("%w: %s: %w", ErrSubfolderCreateFailed, childPath, cause)
	slog.Warn("subfolder skipped", "path", childPath, "error", err)
	e.deps.Stats.AddFoldersFailed(1)
	return e.append(runlog.Entry{
		Category: runlog.CategorySubfolder,
		Name:     name,
		Status:   runlog.StatusCreateError + ": " + cause.Error(),
	})
}

func (e *Engine) append(entry runlog.Entry) error {
	if err := e.deps.Log.Append(entry); err != nil {
		return fmt.Errorf("append run log: %w", err)
	}
	return nil
}

// suspend re-arms the trigger and leaves the queue as it is.
func (e *Engine) suspend(ctx context.Context) (Result, error) {
	// Re-arm even when ctx was cancelled by a signal.
	armCtx := context.WithoutCancel(ctx)
	if err := e.ensureActive(armCtx); err != nil {
		return e.stopOr(armCtx, err)
	}
	if err := e.deps.Scheduler.Register(armCtx, e.cfg.Trigger, e.cfg.RearmDelay); err != nil {
		return Result{}, err
	}
	n, err := e.deps.Queue.Len(armCtx)
	if err != nil {
		return Result{}, err
	}
	slog.Info("budget exhausted, suspending", "remaining", n, "rearm", e.cfg.RearmDelay)
	return e.result(OutcomeSuspended, n), nil
}

// complete finalizes a job whose queue this invocation emptied.
func (e *Engine) complete(ctx context.Context) (Result, error) {
	notifyCtx := ctx
	ctx = context.WithoutCancel(ctx)
	if err := e.ensureActive(ctx); err != nil {
		return e.stopOr(ctx, err)
	}
	if err := e.deps.Scheduler.CancelAll(ctx, e.cfg.Trigger); err != nil {
		return Result{}, err
	}
	if err := e.append(runlog.Entry{
		Category: runlog.CategoryProcess,
		Name:     "---",
		Status:   runlog.StatusCompleted,
	}); err != nil {
		return Result{}, err
	}
	if err := e.deps.Queue.SetPhase(ctx, queue.PhaseCompleted); err != nil {
		return Result{}, err
	}

	res := e.result(OutcomeCompleted, 0)
	slog.Info("copy completed", "stats", res.Stats.String())

	if err := e.deps.Notifier.Notify(notifyCtx, "Folder copy completed", summary(res.Stats)); err != nil {
		slog.Warn("completion notification failed", "error", err)
	}
	return res, nil
}

// idle handles an invocation that found the queue empty. A job still marked
// started lost its completion record to a crash and is completed now; any
// other state just has a stray trigger to clear.
func (e *Engine) idle(ctx context.Context) (Result, error) {
	phase, err := e.deps.Queue.Phase(ctx)
	if err != nil {
		return Result{}, err
	}
	if phase == queue.PhaseStarted {
		if e.job, err = e.deps.Queue.Job(ctx); err != nil {
			return Result{}, err
		}
		res, err := e.complete(ctx)
		res.Outcome = OutcomeIdle
		return res, err
	}
	if err := e.deps.Scheduler.CancelAll(ctx, e.cfg.Trigger); err != nil {
		return Result{}, err
	}
	slog.Debug("queue empty, nothing to do", "phase", string(phase))
	return e.result(OutcomeIdle, 0), nil
}

func (e *Engine) result(o Outcome, remaining int) Result {
	return Result{Outcome: o, Stats: e.deps.Stats.Snapshot(), Remaining: remaining}
}

func summary(s stats.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "All folders were copied.\n\n")
	fmt.Fprintf(&b, "Files copied:    %d (%s)\n", s.FilesCopied, stats.FormatBytes(s.BytesCopied))
	fmt.Fprintf(&b, "Files skipped:   %d\n", s.FilesSkipped)
	fmt.Fprintf(&b, "Files failed:    %d\n", s.FilesFailed)
	fmt.Fprintf(&b, "Folders created: %d\n", s.FoldersCreated)
	fmt.Fprintf(&b, "Folders failed:  %d\n", s.FoldersFailed+s.TasksDropped)
	return b.String()
}

// relPath is the path of name relative to the copy root. Task paths start
// with the root folder's name, which filters never see.
func relPath(taskPath, name string) string {
	if i := strings.IndexByte(taskPath, '/'); i >= 0 {
		return taskPath[i+1:] + "/" + name
	}
	return name
}

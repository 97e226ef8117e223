package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Handler runs when its trigger fires.
type Handler func(ctx context.Context) error

// Watcher polls the scheduler on a cron spec and fires the handlers of due
// triggers. Polls never overlap, so at most one handler runs at a time.
type Watcher struct {
	s     *Scheduler
	spec  string
	lease time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
}

// NewWatcher creates a watcher that polls on spec (any robfig/cron spec,
// e.g. "@every 30s"). lease bounds how long a fired trigger stays claimed
// before it fires again if its handler never re-arms or cancels it.
func NewWatcher(s *Scheduler, spec string, lease time.Duration) *Watcher {
	return &Watcher{
		s:        s,
		spec:     spec,
		lease:    lease,
		handlers: make(map[string]Handler),
	}
}

// Handle registers h for trigger name.
func (w *Watcher) Handle(name string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[name] = h
}

// Run polls once immediately and then on every tick of the cron spec until
// ctx is cancelled. It waits for a running poll to finish before returning.
func (w *Watcher) Run(ctx context.Context) error {
	if _, err := cron.ParseStandard(w.spec); err != nil {
		return fmt.Errorf("parse poll spec %q: %w", w.spec, err)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(w.spec, func() { w.Poll(ctx) }); err != nil {
		return fmt.Errorf("schedule poll %q: %w", w.spec, err)
	}

	w.Poll(ctx)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Poll fires every registered handler whose trigger is due. Handler errors
// are logged; the trigger lease makes the next poll retry them.
func (w *Watcher) Poll(ctx context.Context) {
	w.mu.Lock()
	names := make([]string, 0, len(w.handlers))
	for name := range w.handlers {
		names = append(names, name)
	}
	w.mu.Unlock()
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.Fire(ctx, name); err != nil {
			slog.Error("trigger failed", "trigger", name, "error", err)
		}
	}
}

// Fire claims trigger name and runs its handler if it was due. It reports
// whether the handler ran.
func (w *Watcher) Fire(ctx context.Context, name string) (bool, error) {
	w.mu.Lock()
	h, ok := w.handlers[name]
	w.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("no handler for trigger %s", name)
	}

	claimed, err := w.s.Claim(ctx, name, w.lease)
	if err != nil || !claimed {
		return false, err
	}

	slog.Debug("trigger fired", "trigger", name)
	return true, h(ctx)
}

package job

import (
	"context"
	"fmt"
	"time"

	"github.com/bamsammich/shuttle/internal/queue"
)

// RunState is the observable state of the job.
type RunState int

const (
	NotStarted RunState = iota
	Running
	Suspended
	Completed
	Cancelled
)

func (s RunState) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("RunState(%d)", int(s))
	}
}

// Status is a snapshot of the job.
type Status struct {
	State   RunState
	Job     string
	Queued  int
	Front   *queue.Task // next folder to process, if any
	NextRun time.Time   // zero when no trigger is armed
}

// Status derives the run state from the invocation lock, the queue and the
// recorded phase, in that order of precedence.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	var st Status
	var err error

	if st.Job, err = c.deps.Queue.Job(ctx); err != nil {
		return Status{}, err
	}
	if st.Queued, err = c.deps.Queue.Len(ctx); err != nil {
		return Status{}, err
	}
	if st.Queued > 0 {
		front, ok, err := c.deps.Queue.Front(ctx)
		if err != nil {
			return Status{}, err
		}
		if ok {
			st.Front = &front
		}
	}
	due, armed, err := c.deps.Scheduler.Pending(ctx, c.opts.Trigger)
	if err != nil {
		return Status{}, err
	}
	if armed {
		st.NextRun = due
	}

	running := false
	if c.deps.Probe != nil {
		if running, err = c.deps.Probe.Held(); err != nil {
			return Status{}, err
		}
	}
	phase, err := c.deps.Queue.Phase(ctx)
	if err != nil {
		return Status{}, err
	}

	switch {
	case running:
		st.State = Running
	case st.Queued > 0:
		st.State = Suspended
	case phase == queue.PhaseCompleted:
		st.State = Completed
	case phase == queue.PhaseCancelled:
		st.State = Cancelled
	default:
		st.State = NotStarted
	}
	return st, nil
}

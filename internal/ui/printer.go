package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bamsammich/shuttle/internal/engine"
	"github.com/bamsammich/shuttle/internal/job"
	"github.com/bamsammich/shuttle/internal/runlog"
	"github.com/bamsammich/shuttle/internal/stats"
)

const maxDivider = 72

// Printer renders command output with the shuttle theme.
type Printer struct {
	w     io.Writer
	width int
	st    styles
}

// NewPrinter returns a printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{
		w:     w,
		width: dividerWidth(w),
		st:    newStyles(lipgloss.NewRenderer(w)),
	}
}

func (p *Printer) divider() string {
	return p.st.divider.Render(strings.Repeat("─", p.width))
}

func (p *Printer) field(label, value string) {
	fmt.Fprintf(p.w, "  %s %s\n", p.st.label.Render(fmt.Sprintf("%-9s", label)), value)
}

// Status prints a job status snapshot. now is used to show when the next
// run is due.
func (p *Printer) Status(st job.Status, now time.Time) {
	fmt.Fprintf(p.w, "%s  %s\n", p.st.header.Render("shuttle"), p.state(st.State))
	if st.Job != "" {
		p.field("job", p.st.value.Render(st.Job))
	}
	p.field("queued", p.st.value.Render(thousands(int64(st.Queued))+" folders"))
	if st.Front != nil {
		p.field("next", p.st.value.Render(st.Front.Path))
	}
	if !st.NextRun.IsZero() {
		p.field("next run", p.st.pending.Render(nextRun(st.NextRun, now)))
	}
}

func (p *Printer) state(s job.RunState) string {
	switch s {
	case job.Running:
		return p.st.active.Render(s.String())
	case job.Suspended:
		return p.st.pending.Render(s.String())
	case job.Completed:
		return p.st.ok.Render(s.String())
	case job.Cancelled:
		return p.st.failed.Render(s.String())
	default:
		return p.st.muted.Render(s.String())
	}
}

func nextRun(due, now time.Time) string {
	left := due.Sub(now)
	if left <= 0 {
		return "due now"
	}
	return "in " + clock(left)
}

// Log prints run log entries oldest first. Separators become dividers.
func (p *Printer) Log(entries []runlog.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(p.w, p.st.muted.Render("run log is empty"))
		return
	}
	for _, e := range entries {
		if e.IsSeparator() {
			fmt.Fprintln(p.w, p.divider())
			continue
		}
		fmt.Fprintf(p.w, "%s  %s  %s  %s\n",
			p.st.muted.Render(e.Time.Local().Format(time.DateTime)),
			p.st.label.Render(fmt.Sprintf("%-11s", e.Category)),
			p.st.value.Render(e.Name),
			p.entryStatus(e.Status),
		)
		if e.SourceURL != "" || e.TargetURL != "" {
			fmt.Fprintf(p.w, "    %s %s\n", p.st.muted.Render("from"), e.SourceURL)
			fmt.Fprintf(p.w, "    %s %s\n", p.st.muted.Render("to  "), e.TargetURL)
		}
	}
}

func (p *Printer) entryStatus(s string) string {
	switch {
	case strings.Contains(s, "ERROR"):
		return p.st.failed.Render(s)
	case s == runlog.StatusCompleted:
		return p.st.ok.Render(s)
	default:
		return p.st.muted.Render(s)
	}
}

// Summary prints the one-line result of an invocation:
// completed ✓  files 3  size 17 B  avg 8 B/s  time 2s  folders 1  errors 0
func (p *Printer) Summary(res engine.Result) {
	snap := res.Stats
	errs := snap.FilesFailed + snap.FoldersFailed + snap.TasksDropped

	icon := p.st.ok.Render("✓")
	if errs > 0 {
		icon = p.st.failed.Render("✗")
	}

	line := fmt.Sprintf("%s %s  files %s  size %s  avg %s  time %s  folders %s  errors %d",
		p.outcome(res.Outcome),
		icon,
		thousands(snap.FilesCopied),
		stats.FormatBytes(snap.BytesCopied),
		throughput(snap.BytesCopied, snap.Elapsed),
		clock(snap.Elapsed),
		thousands(snap.FoldersCreated),
		errs,
	)
	if res.Outcome == engine.OutcomeSuspended {
		line += fmt.Sprintf("  remaining %s", thousands(int64(res.Remaining)))
	}
	fmt.Fprintln(p.w, line)
}

func (p *Printer) outcome(o engine.Outcome) string {
	switch o {
	case engine.OutcomeCompleted:
		return p.st.ok.Render(o.String())
	case engine.OutcomeSuspended:
		return p.st.pending.Render(o.String())
	default:
		return p.st.muted.Render(o.String())
	}
}

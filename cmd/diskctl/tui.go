package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/joshuapare/floppykit/pkg/floppy"
	"github.com/joshuapare/floppykit/pkg/types"
)

const maxBarWidth = 60

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// progressMsg carries one transaction event into the model.
type progressMsg types.Progress

// writeDoneMsg is sent once WriteImage returns.
type writeDoneMsg struct {
	res *floppy.WriteResult
	err error
}

// writeJob is a write running in the background. done is closed after res
// and err are set, so any number of waiters see the outcome.
type writeJob struct {
	done chan struct{}
	res  *floppy.WriteResult
	err  error
}

func startWrite(ctx context.Context, path string, data []byte, opts *floppy.Options, events chan types.Progress) *writeJob {
	j := &writeJob{done: make(chan struct{})}
	go func() {
		j.res, j.err = floppy.WriteImage(ctx, path, data, opts)
		close(events)
		close(j.done)
	}()
	return j
}

func (j *writeJob) wait() writeDoneMsg {
	<-j.done
	return writeDoneMsg{res: j.res, err: j.err}
}

// writeModel shows a progress bar while a write runs in the background.
type writeModel struct {
	path   string
	events <-chan types.Progress
	job    *writeJob
	cancel context.CancelFunc

	bar       progress.Model
	last      types.Progress
	failures  int
	cancelled bool
	finished  bool
	res       *floppy.WriteResult
	err       error
}

func newWriteModel(path string, events <-chan types.Progress, job *writeJob, cancel context.CancelFunc) writeModel {
	return writeModel{
		path:   path,
		events: events,
		job:    job,
		cancel: cancel,
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

func waitProgress(ch <-chan types.Progress) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return progressMsg(ev)
	}
}

func waitDone(j *writeJob) tea.Cmd {
	return func() tea.Msg { return j.wait() }
}

func (m writeModel) Init() tea.Cmd {
	return tea.Batch(waitProgress(m.events), waitDone(m.job))
}

func (m writeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.finished {
				return m, tea.Quit
			}
			// The write notices cancellation between operations and rolls back.
			m.cancelled = true
			m.cancel()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-4, 10), maxBarWidth)
		return m, nil

	case progressMsg:
		m.last = types.Progress(msg)
		if msg.Err != "" {
			m.failures++
		}
		return m, waitProgress(m.events)

	case writeDoneMsg:
		m.finished = true
		m.res, m.err = msg.res, msg.err
		return m, tea.Quit
	}
	return m, nil
}

// percent is the completed share of the current stage.
func (m writeModel) percent() float64 {
	if m.finished {
		return 1
	}
	if m.last.Total <= 0 {
		return 0
	}
	return float64(m.last.Current) / float64(m.last.Total)
}

func (m writeModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Writing "+m.path) + "\n\n")
	b.WriteString(m.bar.ViewAs(m.percent()) + "\n")

	switch {
	case m.last.Stage == "":
		b.WriteString(dimStyle.Render("previewing...") + "\n")
	case m.last.Total > 0:
		fmt.Fprintf(&b, "%s %d/%d %s\n", m.last.Stage, m.last.Current, m.last.Total, m.last.Loc)
	default:
		fmt.Fprintf(&b, "%s %d %s\n", m.last.Stage, m.last.Current, m.last.Loc)
	}
	if m.failures > 0 {
		b.WriteString(errStyle.Render(fmt.Sprintf("%d failed operation(s); last: %s", m.failures, m.last.Err)) + "\n")
	}
	if m.cancelled && !m.finished {
		b.WriteString(dimStyle.Render("cancelling, rolling back...") + "\n")
	} else if !m.finished {
		b.WriteString(dimStyle.Render("ctrl+c to cancel") + "\n")
	}
	return b.String()
}

// interactive reports whether w is a terminal the progress view can drive.
// Anything else gets plain progress lines.
func interactive(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// runWriteTUI runs the write in the background behind a progress bar.
func (a *app) runWriteTUI(ctx context.Context, path string, data []byte, opts *floppy.Options) (*floppy.WriteResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan types.Progress, 16)
	opts.Progress = events
	job := startWrite(ctx, path, data, opts, events)

	final, err := tea.NewProgram(newWriteModel(path, events, job, cancel), tea.WithOutput(a.out)).Run()
	if m, ok := final.(writeModel); ok && m.finished {
		return m.res, m.err
	}

	// The program exited before the write did: cancel and wait it out.
	cancel()
	go func() {
		for range events {
		}
	}()
	d := job.wait()
	return d.res, errors.Join(err, d.err)
}

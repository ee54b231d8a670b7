package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	progressLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))
	progressOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	progressFailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

type workDoneMsg struct {
	err error
}

// progressModel spins while a platform call is in flight and leaves a
// one-line outcome behind.
type progressModel struct {
	spinner spinner.Model
	label   string
	started time.Time
	now     func() time.Time
	done    bool
	err     error
}

func newProgressModel(label string, now func() time.Time) progressModel {
	return progressModel{
		spinner: spinner.New(spinner.WithSpinner(spinner.MiniDot), spinner.WithStyle(progressLabelStyle)),
		label:   label,
		started: now(),
		now:     now,
	}
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case workDoneMsg:
		m.done, m.err = true, msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	elapsed := m.now().Sub(m.started).Round(100 * time.Millisecond)
	if !m.done {
		return fmt.Sprintf("%s %s %s\n", m.spinner.View(), m.label, elapsed)
	}
	if m.err != nil {
		return progressFailStyle.Render("x") + " " + m.label + "\n"
	}
	return progressOKStyle.Render("ok") + " " + m.label + "\n"
}

// runWithSpinner shows label on output until work returns. work always
// finishes before runWithSpinner does, even when the program is killed.
func runWithSpinner(ctx context.Context, output io.Writer, label string, work func(context.Context) error) error {
	p := tea.NewProgram(
		newProgressModel(label, time.Now),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	)

	finished := make(chan error, 1)
	go func() {
		err := work(ctx)
		finished <- err
		p.Send(workDoneMsg{err: err})
	}()

	_, runErr := p.Run()
	workErr := <-finished
	if workErr != nil {
		return workErr
	}
	if runErr != nil {
		return fmt.Errorf("show progress: %w", runErr)
	}
	return nil
}

package status

import (
	"errors"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var ErrFrameNotRendered = errors.New("status frame was not rendered")

type drawMsg struct{}

// frameModel draws a single frame and quits.
type frameModel struct {
	snapshot Snapshot
	opts     RenderOptions
	styles   styles
	frame    string
	drawn    bool
}

func (m frameModel) Init() tea.Cmd {
	return func() tea.Msg { return drawMsg{} }
}

func (m frameModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if _, ok := msg.(drawMsg); !ok {
		return m, nil
	}

	m.frame = renderView(m.snapshot, m.opts, m.styles)
	if m.opts.Width > 0 {
		m.frame = lipgloss.NewStyle().MaxWidth(m.opts.Width).Render(m.frame)
	}
	m.drawn = true
	return m, tea.Quit
}

func (m frameModel) View() string {
	return m.frame
}

// Render draws snapshot through a headless bubbletea program and returns the
// frame. Nothing is written to the terminal.
func Render(snapshot Snapshot, opts RenderOptions) (string, error) {
	p := tea.NewProgram(
		frameModel{snapshot: snapshot, opts: opts, styles: newStyles()},
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
		tea.WithoutSignalHandler(),
	)

	final, err := p.Run()
	if err != nil {
		return "", err
	}

	frame, ok := final.(frameModel)
	if !ok || !frame.drawn {
		return "", ErrFrameNotRendered
	}
	return frame.frame, nil
}

package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"cinefetch/internal/media"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 0, 1, 0)
	waitingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	missStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(1, 0, 0, 0)
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// StatusMsg carries one status transition into the program.
type StatusMsg media.AttemptStatus

// DoneMsg ends the program.
type DoneMsg struct{ Err error }

// StatusModel is a live list of per-source statuses.
type StatusModel struct {
	title   string
	rows    []media.AttemptStatus
	index   map[string]int
	spinner spinner.Model
	cancel  func()

	done      bool
	err       error
	cancelled bool
}

// NewStatusModel creates the view. cancel is called when the user quits
// before resolution finishes.
func NewStatusModel(title string, cancel func()) StatusModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return StatusModel{
		title:   title,
		index:   map[string]int{},
		spinner: s,
		cancel:  cancel,
	}
}

func (m StatusModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case StatusMsg:
		st := media.AttemptStatus(msg)
		if i, ok := m.index[st.ProviderID]; ok {
			m.rows[i] = st
		} else {
			m.index[st.ProviderID] = len(m.rows)
			m.rows = append(m.rows, st)
		}
		return m, nil
	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.cancelled = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m StatusModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")

	for _, st := range m.rows {
		b.WriteString(m.icon(st.Status))
		b.WriteString(" ")
		b.WriteString(st.ProviderID)
		if st.Status.Terminal() && st.Status != media.StatusSuccess && st.Reason != "" {
			b.WriteString(waitingStyle.Render("  " + st.Reason))
		}
		b.WriteString("\n")
	}

	if !m.done && !m.cancelled {
		b.WriteString(hintStyle.Render(fmt.Sprintf("%.0f%%  q to cancel", m.percentage())))
		b.WriteString("\n")
	}
	return b.String()
}

func (m StatusModel) percentage() float64 {
	var p float64
	for _, st := range m.rows {
		if st.Percentage > p {
			p = st.Percentage
		}
	}
	return p
}

func (m StatusModel) icon(s media.Status) string {
	switch s {
	case media.StatusPending:
		return m.spinner.View()
	case media.StatusSuccess:
		return successStyle.Render("✓")
	case media.StatusNotFound:
		return missStyle.Render("∅")
	case media.StatusFailure:
		return failureStyle.Render("✗")
	default:
		return waitingStyle.Render("·")
	}
}

// Cancelled reports whether the user quit the view.
func (m StatusModel) Cancelled() bool { return m.cancelled }

// RunStatus shows the live view on w while work runs. work receives an
// observer that forwards transitions into the view.
func RunStatus(w io.Writer, title string, cancel func(), work func(observe func(media.AttemptStatus)) error) error {
	p := tea.NewProgram(NewStatusModel(title, cancel), tea.WithOutput(w))

	errc := make(chan error, 1)
	go func() {
		err := work(func(st media.AttemptStatus) { p.Send(StatusMsg(st)) })
		errc <- err
		p.Send(DoneMsg{Err: err})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running status view: %w", err)
	}
	return <-errc
}

// PlainObserver prints every terminal transition as one line, for output
// that is not a terminal.
func PlainObserver(w io.Writer) func(media.AttemptStatus) {
	return func(st media.AttemptStatus) {
		if !st.Status.Terminal() {
			return
		}
		line := fmt.Sprintf("[%3.0f%%] %-16s %s", st.Percentage, st.ProviderID, st.Status)
		if st.Reason != "" && st.Status != media.StatusSuccess {
			line += ": " + st.Reason
		}
		fmt.Fprintln(w, line)
	}
}

package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// Model is the query-box TUI's single scene: an editable account ID and
// the last lookup result.
type Model struct {
	client *Client

	input   string
	status  AccountStatus
	hasResult bool
	err     error

	quitting bool
}

// New creates a new TUI model against the account-query server at
// baseURL.
func New(baseURL string) *Model {
	return &Model{client: NewClient(baseURL)}
}

// Init satisfies tea.Model; no background ticking is needed since
// lookups are triggered explicitly by Enter.
func (m *Model) Init() tea.Cmd {
	return nil
}

type lookupResultMsg struct {
	status AccountStatus
	err    error
}

func (m *Model) lookupCmd() tea.Cmd {
	accountID := m.input
	return func() tea.Msg {
		status, err := m.client.Lookup(accountID)
		return lookupResultMsg{status: status, err: err}
	}
}

// Update handles all messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			if m.input == "" {
				return m, nil
			}
			return m, m.lookupCmd()
		case tea.KeyBackspace:
			if len(m.input) > 0 {
				m.input = m.input[:len(m.input)-1]
			}
			return m, nil
		case tea.KeyRunes:
			m.input += string(msg.Runes)
			return m, nil
		}
	case lookupResultMsg:
		m.hasResult = true
		m.status = msg.status
		m.err = msg.err
		return m, nil
	}
	return m, nil
}

// View renders the current scene.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(title.Render("glasswally account query"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("account_id: %s_\n\n", m.input))

	if m.err != nil {
		b.WriteString(box.Render(fmt.Sprintf("error: %v", m.err)))
	} else if m.hasResult {
		body := fmt.Sprintf(
			"account_id:      %s\nstatus:          %s\ncomposite_score: %.4f\nevidence:        %s",
			m.status.AccountID,
			renderStatus(m.status.Status),
			m.status.CompositeScore,
			strings.Join(m.status.Evidence, ", "),
		)
		b.WriteString(box.Render(body))
	} else {
		b.WriteString(muted.Render("type an account id and press enter"))
	}

	b.WriteString("\n")
	b.WriteString(help.Render("enter: lookup · backspace: edit · esc/ctrl+c: quit"))
	return b.String()
}

// Run starts the TUI program against the account-query server at
// baseURL. Blocks until the user quits.
func Run(baseURL string) error {
	p := tea.NewProgram(New(baseURL))
	_, err := p.Run()
	return err
}

package typesearch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lexcodex/codeengine/framework"
)

const searchTimeout = 5 * time.Second

// Searcher runs type queries, usually against a running engine's API.
type Searcher interface {
	Find(ctx context.Context, query string, limit int) ([]framework.CodeReference, error)
}

// Run shows the search view until the user picks a result or quits.
func Run(ctx context.Context, searcher Searcher, limit int) (framework.CodeReference, bool, error) {
	program := tea.NewProgram(NewModel(searcher, limit), tea.WithContext(ctx), tea.WithAltScreen())
	final, err := program.Run()
	if err != nil {
		return framework.CodeReference{}, false, err
	}
	ref, ok := final.(Model).Chosen()
	return ref, ok, nil
}

// Location renders a reference as file:line:column.
func Location(r framework.CodeReference) string {
	return fmt.Sprintf("%s:%d:%d", r.File, r.Line, r.Column)
}

// Model is an incremental type search: every edit of the query issues a new
// search and only the newest answer is shown.
type Model struct {
	searcher Searcher
	limit    int

	input   textinput.Model
	results []framework.CodeReference
	cursor  int
	seq     int
	err     error

	width  int
	height int

	chosen   *framework.CodeReference
	quitting bool
}

type resultsMsg struct {
	seq     int
	results []framework.CodeReference
	err     error
}

// NewModel builds a focused search view.
func NewModel(searcher Searcher, limit int) Model {
	input := textinput.New()
	input.Placeholder = "type name, optionally preceded by path fragments"
	input.Prompt = "> "
	input.Focus()
	return Model{searcher: searcher, limit: limit, input: input, height: 24}
}

// Init starts the cursor blinking.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Chosen returns the reference picked with Enter.
func (m Model) Chosen() (framework.CodeReference, bool) {
	if m.chosen == nil {
		return framework.CodeReference{}, false
	}
	return *m.chosen, true
}

// Results returns the references currently displayed.
func (m Model) Results() []framework.CodeReference {
	return m.results
}

// SetQuery replaces the query text and returns the search command for it.
func (m Model) SetQuery(query string) (Model, tea.Cmd) {
	m.input.SetValue(query)
	return m.requery()
}

func (m Model) requery() (Model, tea.Cmd) {
	m.seq++
	query := strings.TrimSpace(m.input.Value())
	if query == "" {
		m.results = nil
		m.cursor = 0
		m.err = nil
		return m, nil
	}
	seq, searcher, limit := m.seq, m.searcher, m.limit
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
		defer cancel()
		results, err := searcher.Find(ctx, query, limit)
		return resultsMsg{seq: seq, results: results, err: err}
	}
}

// Update handles key presses and search answers.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case resultsMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		m.results, m.err = msg.results, msg.err
		if m.cursor >= len(m.results) {
			m.cursor = 0
		}
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			if m.cursor < len(m.results) {
				picked := m.results[m.cursor]
				m.chosen = &picked
			}
			m.quitting = true
			return m, tea.Quit
		case "up", "ctrl+p":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case "down", "ctrl+n":
			if m.cursor < len(m.results)-1 {
				m.cursor++
			}
			return m, nil
		}
		before := m.input.Value()
		var inputCmd tea.Cmd
		m.input, inputCmd = m.input.Update(msg)
		if m.input.Value() == before {
			return m, inputCmd
		}
		next, searchCmd := m.requery()
		return next, tea.Batch(inputCmd, searchCmd)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the prompt and the visible slice of results.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render("codeengine type search"))
	b.WriteString("\n")
	b.WriteString(promptBarStyle.Render(m.input.View()))
	b.WriteString("\n\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render("search failed: " + m.err.Error()))
		b.WriteString("\n")
		return b.String()
	}
	rows := m.height - 5
	if rows < 1 {
		rows = 1
	}
	start := 0
	if m.cursor >= rows {
		start = m.cursor - rows + 1
	}
	for i := start; i < len(m.results) && i < start+rows; i++ {
		r := m.results[i]
		line := kindStyle.Render(string(r.Type)) + " " + r.Name + "  " + dimStyle.Render(Location(r))
		if i == m.cursor {
			line = selectedStyle.Render("› ") + line
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if len(m.results) == 0 && strings.TrimSpace(m.input.Value()) != "" {
		b.WriteString(dimStyle.Render("no matches"))
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render("↑/↓ move · enter pick · esc quit"))
	return b.String()
}

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/unbound-force/amplify/internal/report"
	"github.com/unbound-force/amplify/internal/taxonomy"
)

// keyMap defines keybindings for the interactive TUI.
type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Quit     key.Binding
	Help     key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Quit, k.Help}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.PageUp, k.PageDown},
		{k.Quit, k.Help},
	}
}

var defaultKeyMap = keyMap{
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("^/k", "up")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("v/j", "down")),
	PageUp:   key.NewBinding(key.WithKeys("pgup", "ctrl+u"), key.WithHelp("pgup", "page up")),
	PageDown: key.NewBinding(key.WithKeys("pgdown", "ctrl+d"), key.WithHelp("pgdn", "page down")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
	Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
}

// Styles for the TUI.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63")).
			MarginBottom(1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	tuiHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63"))

	tuiBorderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("63"))
)

// reportModel is the Bubble Tea model for browsing a run report.
type reportModel struct {
	rpt      *taxonomy.RunReport
	viewport viewport.Model
	help     help.Model
	keys     keyMap
	ready    bool
	content  string
}

func newReportModel(rpt *taxonomy.RunReport) reportModel {
	return reportModel{
		rpt:     rpt,
		help:    help.New(),
		keys:    defaultKeyMap,
		content: renderReportContent(rpt),
	}
}

func renderReportContent(rpt *taxonomy.RunReport) string {
	var sb strings.Builder
	styles := report.DefaultStyles()

	sb.WriteString(titleStyle.Render(
		fmt.Sprintf("Amplify: %s, %d file(s), %d test(s) kept",
			rpt.Package, len(rpt.Files), rpt.Summary.Kept)))
	sb.WriteString("\n\n")

	for _, f := range rpt.Files {
		sb.WriteString(tuiHeaderStyle.Render(fmt.Sprintf("=== %s ===", f.File)))
		sb.WriteString("\n")
		stages := []struct {
			name string
			s    taxonomy.StageReport
		}{{"smoke", f.Smoke}, {"minimize", f.Minimize}, {"synthesize", f.Synthesize}}
		parts := make([]string, 0, len(stages))
		for _, st := range stages {
			parts = append(parts, fmt.Sprintf("%s %s -%d",
				st.name, styles.OutcomeStyle(st.s.Outcome).Render(string(st.s.Outcome)), len(st.s.Removed)))
		}
		sb.WriteString(statusStyle.Render(fmt.Sprintf("    %d generated: ", f.Generated)))
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteString("\n")

		if len(f.Tests) == 0 {
			sb.WriteString(statusStyle.Render("    No tests kept."))
			sb.WriteString("\n\n")
			continue
		}

		rows := make([][]string, 0, len(f.Tests))
		for _, tr := range f.Tests {
			target := tr.Target.QualifiedName()
			if len(target) > 40 {
				target = target[:37] + "..."
			}
			rows = append(rows, []string{
				string(tr.Target.Tier()),
				tr.Name,
				target,
				string(tr.Strategy),
				fmt.Sprintf("%.1f%%", tr.CoveragePercent),
			})
		}

		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(tuiBorderStyle).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return tuiHeaderStyle
				}
				if col == 0 && row >= 0 && row < len(rows) {
					return styles.TierStyle(rows[row][0])
				}
				return lipgloss.NewStyle()
			}).
			Headers("TIER", "TEST", "TARGET", "STRATEGY", "COVER").
			Rows(rows...)

		sb.WriteString(t.String())
		sb.WriteString("\n\n")
	}

	for _, w := range rpt.Metadata.Warnings {
		sb.WriteString(statusStyle.Render("warning: " + w))
		sb.WriteString("\n")
	}

	return sb.String()
}

func (m reportModel) Init() tea.Cmd {
	return nil
}

func (m reportModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		footerHeight := 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-footerHeight)
			m.viewport.SetContent(m.content)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - footerHeight
		}

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m reportModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	footer := statusStyle.Render(
		fmt.Sprintf(" %3.f%% ", m.viewport.ScrollPercent()*100)) +
		" " + m.help.View(m.keys)

	return m.viewport.View() + "\n" + footer
}

// runInteractiveReport launches the Bubble Tea TUI for browsing a
// run report.
func runInteractiveReport(rpt *taxonomy.RunReport) error {
	p := tea.NewProgram(newReportModel(rpt), tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := p.Run()
	return err
}

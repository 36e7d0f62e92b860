package report

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/unbound-force/amplify/internal/taxonomy"
)

// Styles defines the visual theme for terminal report output.
// Lipgloss automatically degrades to no-color when output is not a TTY.
type Styles struct {
	// Header is used for section headers (e.g. "=== pkg ===").
	Header lipgloss.Style

	// SubHeader is used for secondary information lines.
	SubHeader lipgloss.Style

	// TierP0 through TierP3 color-code method priority tiers.
	TierP0 lipgloss.Style
	TierP1 lipgloss.Style
	TierP2 lipgloss.Style
	TierP3 lipgloss.Style

	// TableHeader styles the header row of tables.
	TableHeader lipgloss.Style

	// TableCell styles regular table cells.
	TableCell lipgloss.Style

	// SummaryLabel styles summary line labels.
	SummaryLabel lipgloss.Style

	// Pass styles completed stages.
	Pass lipgloss.Style

	// Fail styles corrupted stages.
	Fail lipgloss.Style

	// Border is used for table borders.
	Border lipgloss.Style

	// Muted is used for de-emphasized text.
	Muted lipgloss.Style
}

// DefaultStyles returns the default color scheme for terminal reports.
func DefaultStyles() Styles {
	return Styles{
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")),
		SubHeader: lipgloss.NewStyle().Foreground(lipgloss.Color("241")),

		TierP0: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		TierP1: lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		TierP2: lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		TierP3: lipgloss.NewStyle().Foreground(lipgloss.Color("75")),

		TableHeader: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")),
		TableCell:   lipgloss.NewStyle().PaddingRight(1),

		SummaryLabel: lipgloss.NewStyle().Bold(true).Width(12),

		Pass: lipgloss.NewStyle().Foreground(lipgloss.Color("40")).Bold(true),
		Fail: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),

		Border: lipgloss.NewStyle().Foreground(lipgloss.Color("63")),

		Muted: lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

// TierStyle returns the appropriate style for a given tier string.
func (s Styles) TierStyle(tier string) lipgloss.Style {
	switch taxonomy.Tier(tier) {
	case taxonomy.TierP0:
		return s.TierP0
	case taxonomy.TierP1:
		return s.TierP1
	case taxonomy.TierP2:
		return s.TierP2
	case taxonomy.TierP3:
		return s.TierP3
	default:
		return s.Muted
	}
}

// OutcomeStyle returns the style for a stage outcome.
func (s Styles) OutcomeStyle(o taxonomy.StageOutcome) lipgloss.Style {
	switch o {
	case taxonomy.OutcomeCompleted:
		return s.Pass
	case taxonomy.OutcomeCorrupted:
		return s.Fail
	default:
		return s.Muted
	}
}

package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/unbound-force/amplify/internal/taxonomy"
)

// WriteText writes a run report as human-readable styled text to the
// writer. Output uses lipgloss for color and formatting when the
// output is a TTY; degrades gracefully for pipes and CI.
func WriteText(w io.Writer, rpt *taxonomy.RunReport) error {
	s := DefaultStyles()

	fmt.Fprintln(w, s.Header.Render(fmt.Sprintf("=== %s (%s) ===", rpt.Package, rpt.Idiom)))
	tr := rpt.Trace
	fmt.Fprintf(w, "%s %d file(s), %d call(s), %d method(s), %d malformed line(s)\n",
		s.SummaryLabel.Render("Trace:"), tr.Files, tr.Calls, tr.Methods, tr.Malformed)
	for _, f := range tr.Unreadable {
		fmt.Fprintln(w, s.Fail.Render("    unreadable: "+f))
	}
	g := rpt.Generation
	fmt.Fprintf(w, "%s %d attempted, %d generated (%.1f%%)\n",
		s.SummaryLabel.Render("Generation:"), g.Attempted, g.Direct+g.Inlined, g.Ratio*100)
	fmt.Fprintln(w, s.SubHeader.Render(fmt.Sprintf(
		"    %d direct, %d inlined, %d ineligible, %d failed, %d duplicate",
		g.Direct, g.Inlined, g.Ineligible, g.Failed, g.Duplicate)))

	for _, f := range rpt.Files {
		fmt.Fprintln(w)
		writeFile(w, f, s)
	}

	sum := rpt.Summary
	fmt.Fprintf(w, "\n%s\n", s.Header.Render(fmt.Sprintf(
		"%d of %d file(s) written, %d of %d generated test(s) kept",
		sum.Written, sum.Files, sum.Kept, sum.Generated)))
	for _, warning := range rpt.Metadata.Warnings {
		fmt.Fprintln(w, s.Muted.Render("warning: "+warning))
	}
	return nil
}

func writeFile(w io.Writer, f taxonomy.FileReport, s Styles) {
	fmt.Fprintln(w, s.Header.Render(fmt.Sprintf("--- %s (%s, %d generated) ---", f.File, f.Type, f.Generated)))

	var stages []string
	for _, st := range []struct {
		name string
		rep  taxonomy.StageReport
	}{
		{"smoke", f.Smoke},
		{"minimize", f.Minimize},
		{"synthesize", f.Synthesize},
	} {
		text := fmt.Sprintf("%s %s -%d", st.name, st.rep.Outcome, len(st.rep.Removed))
		stages = append(stages, s.OutcomeStyle(st.rep.Outcome).Render(text))
	}
	fmt.Fprintf(w, "    %s\n", strings.Join(stages, ", "))

	if len(f.Tests) == 0 {
		fmt.Fprintln(w, s.Muted.Render("    No tests kept."))
		return
	}

	// Budget: 80 cols total. TIER=4, TEST=38, STRATEGY=8, BRANCHES=8,
	// COVER=6 plus borders and padding.
	const maxName = 38
	rows := make([][]string, 0, len(f.Tests))
	for _, tr := range f.Tests {
		name := tr.Name
		if len(name) > maxName {
			name = name[:maxName-3] + "..."
		}
		strategy := string(tr.Strategy)
		if tr.Panics {
			strategy += "!"
		}
		rows = append(rows, []string{
			string(tr.Target.Tier()),
			name,
			strategy,
			fmt.Sprintf("%d", tr.Branches),
			fmt.Sprintf("%.0f%%", tr.CoveragePercent),
		})
	}

	t := table.New().
		Width(76).
		Border(lipgloss.NormalBorder()).
		BorderStyle(s.Border).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.TableHeader
			}
			if col == 0 && row >= 0 && row < len(rows) {
				return s.TierStyle(rows[row][0])
			}
			return s.TableCell
		}).
		Headers("TIER", "TEST", "STRATEGY", "BRANCHES", "COVER").
		Rows(rows...)

	fmt.Fprintln(w, t)
}

// Package report provides output formatters for amplify run reports
// in JSON and human-readable text formats.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/unbound-force/amplify/internal/taxonomy"
)

// JSONReport is the top-level JSON output structure.
type JSONReport struct {
	Version string             `json:"version"`
	Run     taxonomy.RunReport `json:"run"`
}

// WriteJSON writes a run report as formatted JSON to the writer.
func WriteJSON(w io.Writer, rpt *taxonomy.RunReport, version string) error {
	out := JSONReport{Version: version}
	if rpt != nil {
		out.Run = *rpt
	}
	if out.Run.Files == nil {
		out.Run.Files = []taxonomy.FileReport{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// ReadJSON decodes a report written by WriteJSON.
func ReadJSON(r io.Reader) (*JSONReport, error) {
	var rpt JSONReport
	if err := json.NewDecoder(r).Decode(&rpt); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	return &rpt, nil
}

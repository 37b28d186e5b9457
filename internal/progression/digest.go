package progression

import (
	"fmt"
	"strings"

	"drillflow/internal/ports"
)

const digestPreviewLines = 5

// ResultsDigest summarises query outcomes for the drilldown planner and the
// decider.
func ResultsDigest(results []ports.QueryOutcome) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "- [%s] %s: %s", r.QueryID, r.Instruction, r.Status)
		if r.ServedFromCache {
			b.WriteString(" (cached)")
		}
		if r.Artifact != nil {
			fmt.Fprintf(&b, ", %d rows", r.Artifact.RowCount)
			if len(r.Artifact.Columns) > 0 {
				fmt.Fprintf(&b, ", columns: %s", strings.Join(r.Artifact.Columns, ", "))
			}
		}
		if r.Error != "" {
			fmt.Fprintf(&b, ", error: %s", r.Error)
		}
		b.WriteString("\n")
		for _, line := range previewOf(r) {
			b.WriteString("    ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func previewOf(r ports.QueryOutcome) []string {
	text := r.Output
	if r.Artifact != nil && strings.TrimSpace(r.Artifact.Preview) != "" {
		text = r.Artifact.Preview
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > digestPreviewLines {
		lines = append(lines[:digestPreviewLines], "...")
	}
	return lines
}

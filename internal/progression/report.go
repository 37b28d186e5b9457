package progression

import (
	"fmt"
	"strings"

	"drillflow/internal/ports"
	"drillflow/internal/provenance"
)

// SingleResultReport renders the report for a task whose only query
// succeeded, without consulting the synthesizer.
func SingleResultReport(question string, result ports.QueryOutcome) string {
	var b strings.Builder
	b.WriteString("# Analysis result\n\n")
	fmt.Fprintf(&b, "**Question:** %s\n\n---\n\n", question)
	fmt.Fprintf(&b, "**Instruction:** %s\n\n", result.Instruction)

	if a := result.Artifact; a != nil {
		b.WriteString("## Data\n\n")
		fmt.Fprintf(&b, "- **Rows:** %d\n", a.RowCount)
		if a.ColumnCount > 0 {
			fmt.Fprintf(&b, "- **Columns:** %d\n", a.ColumnCount)
		}
		if len(a.Columns) > 0 {
			fmt.Fprintf(&b, "- **Fields:** %s\n", strings.Join(a.Columns, ", "))
		}
		if a.DownloadURL != "" {
			fmt.Fprintf(&b, "- **Download:** %s\n", a.DownloadURL)
		} else if a.Path != "" {
			fmt.Fprintf(&b, "- **File:** %s\n", a.Path)
		}
		if preview := strings.TrimSpace(a.Preview); preview != "" {
			fmt.Fprintf(&b, "\n```\n%s\n```\n", preview)
		}
		b.WriteString("\n")
	}
	if output := strings.TrimSpace(result.Output); output != "" {
		b.WriteString("## Output\n\n")
		b.WriteString(output)
		b.WriteString("\n\n")
	}
	if statement := strings.TrimSpace(result.Statement); statement != "" {
		fmt.Fprintf(&b, "## Statement\n\n```sql\n%s\n```\n", statement)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// FallbackReport is used when the synthesizer fails. It states plainly what
// ran and what came back, including when nothing succeeded.
func FallbackReport(question string, summary provenance.Summary, results []ports.QueryOutcome, cause error) string {
	var b strings.Builder
	b.WriteString("# Analysis report\n\n")
	fmt.Fprintf(&b, "**Question:** %s\n\n", question)
	if cause != nil {
		fmt.Fprintf(&b, "> The report could not be synthesized (%v); the raw results are listed below.\n\n", cause)
	}

	fmt.Fprintf(&b, "Ran %d queries across %d iterations: %d succeeded, %d partial, %d failed, %d served from cache.\n\n",
		summary.TotalQueries, len(summary.Iterations), summary.SuccessfulQueries,
		summary.PartialQueries, summary.FailedQueries, summary.CachedQueries)

	if summary.SuccessfulQueries == 0 {
		b.WriteString("No query returned usable data, so no conclusion can be drawn.\n\n")
	}

	if len(results) > 0 {
		b.WriteString("## Results\n\n")
		b.WriteString(ResultsDigest(results))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

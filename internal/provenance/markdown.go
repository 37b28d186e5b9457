package provenance

import (
	"fmt"
	"strings"
)

const markdownTimeLayout = "2006-01-02 15:04:05"

// Markdown renders the intermediate results of the task.
func (t *Task) Markdown() string {
	return RenderMarkdown(t.Snapshot())
}

// RenderMarkdown renders a snapshot, live or loaded from a store.
func RenderMarkdown(snapshot Snapshot) string {
	summary := snapshot.Summary
	iterations := snapshot.Iterations

	var b strings.Builder
	b.WriteString("# Task intermediate results\n\n")
	fmt.Fprintf(&b, "**Task ID:** %s\n", summary.TaskID)
	fmt.Fprintf(&b, "**Question:** %s\n", summary.UserQuestion)
	fmt.Fprintf(&b, "**Created:** %s\n", summary.CreatedAt.Format(markdownTimeLayout))
	fmt.Fprintf(&b, "**Status:** %s\n\n", summary.Status)

	b.WriteString("## Iterations\n\n")
	for _, it := range iterations {
		fmt.Fprintf(&b, "### %s (iteration %d)\n\n", it.Name, it.ID)
		fmt.Fprintf(&b, "- **Kind:** %s\n", it.Kind)
		fmt.Fprintf(&b, "- **Queries:** %d\n", len(it.Queries))
		fmt.Fprintf(&b, "- **Successful:** %d\n", it.SuccessCount())
		fmt.Fprintf(&b, "- **Opened:** %s\n", it.OpenedAt.Format(markdownTimeLayout))
		if it.ClosedAt != nil {
			fmt.Fprintf(&b, "- **Closed:** %s\n", it.ClosedAt.Format(markdownTimeLayout))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Queries\n\n")
	for _, it := range iterations {
		for _, q := range it.Queries {
			fmt.Fprintf(&b, "### Query %d (iteration %d)\n\n", q.Sequence, it.ID)
			fmt.Fprintf(&b, "- **Query ID:** %s\n", q.ID)
			fmt.Fprintf(&b, "- **Instruction:** %s\n", q.Instruction)
			status := string(q.Status)
			if q.ServedFromCache {
				status += " (cached)"
			}
			fmt.Fprintf(&b, "- **Status:** %s\n", status)
			if q.Statement != "" {
				b.WriteString("- **Statement:**\n```sql\n")
				b.WriteString(strings.TrimSpace(q.Statement))
				b.WriteString("\n```\n")
			}
			if q.Artifact != nil {
				fmt.Fprintf(&b, "- **Artifact:** %s\n", q.Artifact.Path)
				fmt.Fprintf(&b, "- **Rows:** %s\n", formatThousands(q.Artifact.RowCount))
			}
			if q.Error != "" {
				fmt.Fprintf(&b, "- **Error:** %s\n", q.Error)
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func formatThousands(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var out []byte
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

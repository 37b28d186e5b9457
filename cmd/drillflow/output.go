package main

import (
	"fmt"
	"io"
	"sync"

	"drillflow/internal/provenance"
)

// progressPrinter writes one line per progress update. Updates arrive from
// executor workers, so writes are serialized.
type progressPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out}
}

func (p *progressPrinter) Observe(update provenance.ProgressUpdate) {
	line := formatUpdate(update)
	if line == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

func formatUpdate(update provenance.ProgressUpdate) string {
	c := update.Content
	switch update.Type {
	case provenance.UpdateTaskStarted:
		return fmt.Sprintf("%s %s", cyan("▶ task"), c["task_id"])
	case provenance.UpdateIterationStarted:
		return fmt.Sprintf("%s %v (%v)", cyan("● iteration"), c["iteration_id"], c["name"])
	case provenance.UpdateQueryCompleted:
		status := fmt.Sprint(c["status"])
		mark := green("✓")
		if status != string(provenance.StatusSuccess) {
			mark = red("✗")
		}
		suffix := ""
		if cached, _ := c["served_from_cache"].(bool); cached {
			suffix = gray(" (cached)")
		}
		if errText, ok := c["error"].(string); ok && errText != "" {
			suffix += gray(" " + errText)
		}
		return fmt.Sprintf("  %s %s %s%s", mark, c["query_id"], c["instruction"], suffix)
	case provenance.UpdateDataReady:
		return gray(fmt.Sprintf("    data %v rows x %v columns at %v", c["row_count"], c["column_count"], c["path"]))
	case provenance.UpdateIterationCompleted:
		return fmt.Sprintf("%s %v: %v/%v successful", cyan("● iteration done"), c["iteration_id"], c["successful_queries"], c["queries_count"])
	case provenance.UpdateDecisionMade:
		if skipped, ok := c["skipped"].(string); ok {
			return fmt.Sprintf("%s skipped: %s", cyan("◆ decision"), skipped)
		}
		return fmt.Sprintf("%s drilldown=%v %v", cyan("◆ decision"), c["need_drilldown"], gray(fmt.Sprint(c["reasoning"])))
	case provenance.UpdateTaskCompleted:
		return fmt.Sprintf("%s %v queries, %v successful, %v cached",
			green("■ done"), c["total_queries"], c["successful_queries"], c["cached_queries"])
	}
	return ""
}

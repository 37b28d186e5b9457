package planparse

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"drillflow/internal/ports"
)

var (
	filePattern       = regexp.MustCompile(`(?im)^\s*(?:CSV file|CSV 文件|file)\s*:\s*(.+?)\s*$`)
	rowsPattern       = regexp.MustCompile(`(?im)(?:rows|行数)\s*:\s*([\d,]+)`)
	columnsPattern    = regexp.MustCompile(`(?im)(?:columns|列)\s*:\s*\[([^\]]*)\]`)
	structuredPattern = regexp.MustCompile(`(?s)<structured_data>(.*?)</structured_data>`)
	previewPattern    = regexp.MustCompile(`(?s)(?:Data preview|数据预览)[^\n]*:\s*\n-+\n(.*?)(?:\n\.\.\.|\n=====|\z)`)
	statementPattern  = regexp.MustCompile("(?s)```sql\\s*(.*?)```")
)

// ParseRunReport turns a runner's plain-text report into a RunResult. A
// report that names a data file is a success; text without one is kept as
// output.
func ParseRunReport(text string) ports.RunResult {
	result := ports.RunResult{Status: ports.RunSuccess, Output: strings.TrimSpace(text)}
	if m := statementPattern.FindStringSubmatch(text); m != nil {
		result.Statement = strings.TrimSpace(m[1])
	}

	var artifact ports.Artifact
	found := false
	if m := filePattern.FindStringSubmatch(text); m != nil {
		artifact.Path = strings.Trim(m[1], "`'\" ")
		found = true
	}
	if m := rowsPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", "")); err == nil {
			artifact.RowCount = n
		}
	}
	if m := columnsPattern.FindStringSubmatch(text); m != nil {
		for _, col := range strings.Split(m[1], ",") {
			if col = strings.Trim(strings.TrimSpace(col), `'"`); col != "" {
				artifact.Columns = append(artifact.Columns, col)
			}
		}
		artifact.ColumnCount = len(artifact.Columns)
	}
	if m := previewPattern.FindStringSubmatch(text); m != nil {
		artifact.Preview = strings.TrimSpace(m[1])
	}
	if m := structuredPattern.FindStringSubmatch(text); m != nil {
		var structured struct {
			CSVPath     string   `json:"csv_path"`
			DownloadURL string   `json:"download_url"`
			Rows        int      `json:"rows"`
			Columns     []string `json:"columns"`
			Preview     string   `json:"preview"`
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &structured); err == nil {
			if structured.CSVPath != "" {
				artifact.Path = structured.CSVPath
				found = true
			}
			artifact.DownloadURL = structured.DownloadURL
			if structured.Rows > 0 {
				artifact.RowCount = structured.Rows
			}
			if len(structured.Columns) > 0 {
				artifact.Columns = structured.Columns
				artifact.ColumnCount = len(structured.Columns)
			}
			if structured.Preview != "" {
				artifact.Preview = structured.Preview
			}
		}
	}

	if found {
		result.Artifact = &artifact
	}
	return result
}

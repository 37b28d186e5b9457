// Package planparse extracts structured data from free-form collaborator
// text: instruction batches from an analysis plan, drilldown verdicts from
// an evaluation, and data references from a runner's text report.
package planparse

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"drillflow/internal/ports"

	"github.com/kaptinlin/jsonrepair"
)

var (
	fencedBlockPattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	assignmentPattern  = regexp.MustCompile(`^\s*[A-Za-z_]\w*\s*=\s*`)
	bulletPattern      = regexp.MustCompile(`^(?:[-*+]|\d+[.)])\s+`)
)

// instructionKeywords mark plan lines that describe a unit of work when the
// plan carries no JSON.
var instructionKeywords = []string{
	"query", "analyze", "analyse", "count", "calculate", "compare", "measure",
	"查询", "分析", "统计", "计算",
}

const minKeywordLineLength = 10

// ErrNoJSON is returned when text contains no decodable JSON object.
var ErrNoJSON = errors.New("no JSON object found")

// ParseInstructions extracts instructions from an analysis plan. JSON
// objects (or arrays of objects) in fenced code blocks win; without them,
// keyword lines longer than ten characters that are not headings become
// one instruction each.
func ParseInstructions(plan string) []ports.Instruction {
	var instructions []ports.Instruction
	for _, match := range fencedBlockPattern.FindAllStringSubmatch(plan, -1) {
		body := assignmentPattern.ReplaceAllString(strings.TrimSpace(match[1]), "")
		if body == "" || (body[0] != '{' && body[0] != '[') {
			continue
		}
		decoded, err := decodeInstructions(body)
		if err != nil {
			continue
		}
		instructions = append(instructions, decoded...)
	}
	if len(instructions) > 0 {
		return instructions
	}

	for _, line := range strings.Split(plan, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "```") {
			continue
		}
		if !containsKeyword(line) {
			continue
		}
		line = bulletPattern.ReplaceAllString(line, "")
		if utf8.RuneCountInString(line) <= minKeywordLineLength {
			continue
		}
		instructions = append(instructions, ports.Instruction{Task: line})
	}
	return instructions
}

func containsKeyword(line string) bool {
	lower := strings.ToLower(line)
	for _, keyword := range instructionKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func decodeInstructions(body string) ([]ports.Instruction, error) {
	var raw any
	if err := unmarshalLenient(body, &raw); err != nil {
		return nil, err
	}

	var objects []map[string]any
	switch v := raw.(type) {
	case map[string]any:
		if nested, ok := v["instructions"].([]any); ok {
			for _, item := range nested {
				if obj, ok := item.(map[string]any); ok {
					objects = append(objects, obj)
				}
			}
		} else {
			objects = append(objects, v)
		}
	case []any:
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok {
				objects = append(objects, obj)
			}
		}
	default:
		return nil, fmt.Errorf("unexpected JSON %T", raw)
	}

	var out []ports.Instruction
	for _, obj := range objects {
		instruction := ports.Instruction{
			Task:        firstString(obj, "task", "instruction", "query"),
			TimeRange:   firstString(obj, "time_range", "timeRange"),
			Dimensions:  stringList(obj["dimensions"]),
			Metrics:     stringList(obj["metrics"]),
			Description: firstString(obj, "description"),
		}
		if !instruction.Empty() {
			out = append(out, instruction)
		}
	}
	return out, nil
}

// unmarshalLenient decodes JSON, repairing it first when strict decoding
// fails.
func unmarshalLenient(text string, v any) error {
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return fmt.Errorf("repair JSON: %w", err)
	}
	return json.Unmarshal([]byte(repaired), v)
}

func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func stringList(value any) []string {
	switch v := value.(type) {
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	default:
		return nil
	}
}

// PlanSummary returns the first five prose lines of a plan.
func PlanSummary(plan string) string {
	var lines []string
	inFence := false
	for _, line := range strings.Split(plan, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "```") {
			inFence = !inFence
			continue
		}
		if inFence || line == "" || strings.HasPrefix(line, "{") || strings.HasPrefix(line, "[") {
			continue
		}
		lines = append(lines, line)
		if len(lines) == 5 {
			break
		}
	}
	if len(lines) == 0 {
		return "Automatic analysis"
	}
	return strings.Join(lines, "\n")
}

package planparse

import (
	"strings"

	"drillflow/internal/ports"
)

// Decision verdict markers.
const (
	VerdictDrilldown   = "DRILLDOWN_NEEDED"
	VerdictNoDrilldown = "NO_DRILLDOWN_NEEDED"
)

type decisionPayload struct {
	Decision            string   `json:"decision"`
	NeedDrilldown       *bool    `json:"need_drilldown"`
	Reasoning           string   `json:"reasoning"`
	SuggestedDimensions []string `json:"suggested_dimensions"`
	Confidence          float64  `json:"confidence"`
}

// ParseDecision reads a drilldown verdict from evaluation text. It looks
// for a fenced JSON block, then the whole text, then the first balanced
// JSON object.
func ParseDecision(text string) (ports.Decision, error) {
	var candidates []string
	for _, match := range fencedBlockPattern.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, strings.TrimSpace(match[1]))
	}
	candidates = append(candidates, strings.TrimSpace(text))
	if obj := FirstJSONObject(text); obj != "" {
		candidates = append(candidates, obj)
	}

	for _, candidate := range candidates {
		if !strings.HasPrefix(candidate, "{") {
			continue
		}
		var payload decisionPayload
		if err := unmarshalLenient(candidate, &payload); err != nil {
			continue
		}
		if payload.Decision == "" && payload.NeedDrilldown == nil {
			continue
		}
		return payload.toDecision(), nil
	}
	return ports.Decision{}, ErrNoJSON
}

func (p decisionPayload) toDecision() ports.Decision {
	need := strings.EqualFold(strings.TrimSpace(p.Decision), VerdictDrilldown)
	if p.Decision == "" && p.NeedDrilldown != nil {
		need = *p.NeedDrilldown
	}
	return ports.Decision{
		NeedDrilldown:       need,
		Reasoning:           strings.TrimSpace(p.Reasoning),
		SuggestedDimensions: p.SuggestedDimensions,
		Confidence:          p.Confidence,
	}
}

// FirstJSONObject returns the first balanced {...} span in text, skipping
// braces inside strings. It returns "" when there is none.
func FirstJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(text); i++ {
			c := text[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			return ""
		}
		start += next + 1
	}
	return ""
}

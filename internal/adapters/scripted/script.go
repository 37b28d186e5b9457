// Package scripted provides planner, runner, decider and synthesizer
// implementations driven by a YAML script. They let the engine run end to
// end without an analytics backend or a language model.
package scripted

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"drillflow/internal/planparse"
	"drillflow/internal/ports"

	"gopkg.in/yaml.v3"
)

// Script is the YAML document behind the scripted collaborators.
//
//	plans:
//	  initial:
//	    instructions: [{task: "daily active users last 7 days"}]
//	  drilldown:
//	    text: |
//	      ```json
//	      {"task": "daily active users by channel"}
//	      ```
//	decision:
//	  text: '{"decision": "DRILLDOWN_NEEDED", "reasoning": "channel skew"}'
//	results:
//	  - match: "daily active users"
//	    result: {status: success, artifact: {path: /tmp/dau.csv, row_count: 7}}
type Script struct {
	Plans    map[ports.Stage]PlanScript `yaml:"plans"`
	Decision DecisionScript             `yaml:"decision"`
	Results  []ResultScript             `yaml:"results"`
	Default  *ResultScript              `yaml:"default"`
	Report   string                     `yaml:"report"`
}

// PlanScript is either a list of instructions or plan text parsed the way
// a model-written analysis plan is.
type PlanScript struct {
	Instructions []ports.Instruction `yaml:"instructions"`
	Text         string              `yaml:"text"`
	Error        string              `yaml:"error"`
}

// DecisionScript is either a structured decision or evaluation text.
type DecisionScript struct {
	NeedDrilldown       bool     `yaml:"need_drilldown"`
	Reasoning           string   `yaml:"reasoning"`
	SuggestedDimensions []string `yaml:"suggested_dimensions"`
	Confidence          float64  `yaml:"confidence"`
	Text                string   `yaml:"text"`
	Error               string   `yaml:"error"`
}

// ResultScript answers instructions containing Match, compared
// case-insensitively.
type ResultScript struct {
	Match  string          `yaml:"match"`
	Delay  time.Duration   `yaml:"delay"`
	Result ports.RunResult `yaml:"result"`
	Text   string          `yaml:"text"`
	Error  string          `yaml:"error"`
}

// Load reads and validates a script file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a script.
func Parse(data []byte) (*Script, error) {
	var script Script
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&script); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	if err := script.validate(); err != nil {
		return nil, err
	}
	return &script, nil
}

func (s *Script) validate() error {
	for stage := range s.Plans {
		if stage != ports.StageInitial && stage != ports.StageDrilldown {
			return fmt.Errorf("script: unknown plan stage %q", stage)
		}
	}
	for i, r := range s.Results {
		if strings.TrimSpace(r.Match) == "" {
			return fmt.Errorf("script: results[%d] has no match", i)
		}
	}
	if s.Report != "" {
		if _, err := template.New("report").Parse(s.Report); err != nil {
			return fmt.Errorf("script: report template: %w", err)
		}
	}
	return nil
}

// instructions resolves a stage's plan.
func (p PlanScript) instructions() []ports.Instruction {
	if len(p.Instructions) > 0 {
		return append([]ports.Instruction(nil), p.Instructions...)
	}
	if strings.TrimSpace(p.Text) != "" {
		return planparse.ParseInstructions(p.Text)
	}
	return nil
}

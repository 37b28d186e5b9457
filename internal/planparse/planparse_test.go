package planparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInstructionsFromFencedJSON(t *testing.T) {
	plan := "## Plan\nCheck the daily trend first.\n\n```json\n" +
		`{"task": "daily active users last 7 days", "time_range": "last_7_days", "dimensions": ["date"], "metrics": ["dau"]}` +
		"\n```\n\n```python\ninstruction = {\"task\": \"new users by channel\", \"dimensions\": \"channel, date\"}\n```\n"

	got := ParseInstructions(plan)
	require.Len(t, got, 2)
	assert.Equal(t, "daily active users last 7 days", got[0].Task)
	assert.Equal(t, "last_7_days", got[0].TimeRange)
	assert.Equal(t, []string{"date"}, got[0].Dimensions)
	assert.Equal(t, []string{"dau"}, got[0].Metrics)
	assert.Equal(t, "new users by channel", got[1].Task)
	assert.Equal(t, []string{"channel", "date"}, got[1].Dimensions)
}

func TestParseInstructionsArrayAndNestedList(t *testing.T) {
	plan := "```json\n[{\"task\": \"a\"}, {\"task\": \"b\"}, \"skip\"]\n```\n" +
		"```json\n{\"instructions\": [{\"instruction\": \"c\"}]}\n```"

	got := ParseInstructions(plan)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Task)
	assert.Equal(t, "b", got[1].Task)
	assert.Equal(t, "c", got[2].Task)
}

func TestParseInstructionsRepairsMalformedJSON(t *testing.T) {
	plan := "```json\n{task: 'revenue by region', 'metrics': ['revenue',],}\n```"

	got := ParseInstructions(plan)
	require.Len(t, got, 1)
	assert.Equal(t, "revenue by region", got[0].Task)
	assert.Equal(t, []string{"revenue"}, got[0].Metrics)
}

func TestParseInstructionsKeywordFallback(t *testing.T) {
	plan := "# Query plan\n" +
		"- Query the daily active users for last week\n" +
		"count it\n" +
		"1. 统计最近七天每个渠道的新增用户数量\n" +
		"Some unrelated prose line that is long enough\n"

	got := ParseInstructions(plan)
	require.Len(t, got, 2)
	assert.Equal(t, "Query the daily active users for last week", got[0].Task)
	assert.Equal(t, "统计最近七天每个渠道的新增用户数量", got[1].Task)
}

func TestParseInstructionsNothingUsable(t *testing.T) {
	assert.Empty(t, ParseInstructions(""))
	assert.Empty(t, ParseInstructions("```json\n{\"note\": 1}\n```"))
}

func TestPlanSummary(t *testing.T) {
	plan := "line one\n\n```json\n{\"task\": \"x\"}\n```\nline two\nline three\nline four\nline five\nline six"
	assert.Equal(t, "line one\nline two\nline three\nline four\nline five", PlanSummary(plan))
	assert.Equal(t, "Automatic analysis", PlanSummary("```\ncode\n```"))
}

func TestParseDecision(t *testing.T) {
	cases := []struct {
		name string
		text string
		need bool
	}{
		{
			name: "fenced block",
			text: "Looks uneven.\n```json\n{\"decision\": \"DRILLDOWN_NEEDED\", \"reasoning\": \"channel skew\", \"suggested_dimensions\": [\"channel\"], \"confidence\": 0.8}\n```",
			need: true,
		},
		{
			name: "whole text",
			text: `{"decision": "NO_DRILLDOWN_NEEDED", "reasoning": "complete"}`,
			need: false,
		},
		{
			name: "embedded object",
			text: `Verdict follows {"decision": "DRILLDOWN_NEEDED", "reasoning": "has {braces} in text"} done`,
			need: true,
		},
		{
			name: "boolean field",
			text: `{"need_drilldown": true}`,
			need: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision, err := ParseDecision(tc.text)
			require.NoError(t, err)
			assert.Equal(t, tc.need, decision.NeedDrilldown)
		})
	}

	decision, err := ParseDecision(cases[0].text)
	require.NoError(t, err)
	assert.Equal(t, "channel skew", decision.Reasoning)
	assert.Equal(t, []string{"channel"}, decision.SuggestedDimensions)
	assert.InDelta(t, 0.8, decision.Confidence, 1e-9)
}

func TestParseDecisionWithoutJSON(t *testing.T) {
	_, err := ParseDecision("no verdict here")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestFirstJSONObject(t *testing.T) {
	assert.Equal(t, `{"a": {"b": "}"}}`, FirstJSONObject(`prefix {"a": {"b": "}"}} suffix {"c": 1}`))
	assert.Equal(t, "", FirstJSONObject("nothing"))
	assert.Equal(t, "{}", FirstJSONObject("{ unterminated {}"))
}

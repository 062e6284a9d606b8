package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocument_PlainJSON(t *testing.T) {
	doc, err := ParseDocument(`{"summary":"A short summary.","key_points":["a","b"]}`)
	require.NoError(t, err)
	assert.Equal(t, "A short summary.", doc.Summary)
	assert.Equal(t, []string{"a", "b"}, doc.KeyPoints)
}

func TestParseDocument_StripsCodeFences(t *testing.T) {
	content := "```json\n{\"summary\":\"Fenced summary.\"}\n```"

	doc, err := ParseDocument(content)
	require.NoError(t, err)
	assert.Equal(t, "Fenced summary.", doc.Summary)
}

func TestParseDocument_StripsBareFences(t *testing.T) {
	content := "```\n{\"summary\":\"Bare fenced.\"}\n```"

	doc, err := ParseDocument(content)
	require.NoError(t, err)
	assert.Equal(t, "Bare fenced.", doc.Summary)
}

func TestParseDocument_MalformedJSONFails(t *testing.T) {
	_, err := ParseDocument(`{"summary": "unterminated`)
	assert.ErrorContains(t, err, "malformed analysis response")
}

func TestParseDocument_MissingSummaryFails(t *testing.T) {
	_, err := ParseDocument(`{"key_points":["no summary"]}`)
	assert.ErrorContains(t, err, "missing summary")
}

func TestParseDocument_FullShape(t *testing.T) {
	content := `{
		"summary": "Creates a fund.",
		"impacts": {
			"economic": {"level": "moderate", "description": "spending", "affected_entities": ["districts"], "confidence": 0.7}
		},
		"overall_impact": {"category": "economic", "level": "moderate", "description": "fund"},
		"impact_category": "economic",
		"impact_level": "moderate",
		"confidence": 0.9
	}`

	doc, err := ParseDocument(content)
	require.NoError(t, err)
	require.Contains(t, doc.Impacts, "economic")
	assert.Equal(t, "moderate", doc.Impacts["economic"].Level)
	assert.Equal(t, []string{"districts"}, doc.Impacts["economic"].AffectedEntities)
	require.NotNil(t, doc.OverallImpact)
	assert.Equal(t, "economic", doc.OverallImpact.Category)
	require.NotNil(t, doc.Confidence)
	assert.InDelta(t, 0.9, *doc.Confidence, 0.001)
}

func TestTruncateAtSentence_ShortTextUntouched(t *testing.T) {
	text := "Short bill text."
	assert.Equal(t, text, truncateAtSentence(text, 100))
}

func TestTruncateAtSentence_CutsAtBoundary(t *testing.T) {
	text := strings.Repeat("This is a complete sentence about the bill. ", 20)

	out := truncateAtSentence(text, 200)

	assert.LessOrEqual(t, len(out), 200)
	assert.True(t, strings.HasSuffix(out, "bill."), "expected sentence-final cut, got %q", out)
}

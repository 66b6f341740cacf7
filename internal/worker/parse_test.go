package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGenerationOutput_PlainJSON(t *testing.T) {
	raw := `{
		"files": [{"path": "a.go", "action": "create", "content": "package a"}],
		"summary": "added a.go",
		"acceptance_criteria_status": [{"id": "AC-1", "criterion": "compiles", "status": "SATISFIED"}]
	}`

	out, err := ParseGenerationOutput(raw)
	require.NoError(t, err)
	require.Len(t, out.Files, 1)
	assert.Equal(t, "a.go", out.Files[0].Path)
	assert.Equal(t, "added a.go", out.Summary)
	assert.False(t, out.ExtractedViaFallback)
	assert.Nil(t, out.BlockedCriterion())
}

func TestParseGenerationOutput_FencedJSON(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"files\":[{\"path\":\"b.go\",\"action\":\"create\",\"content\":\"package b\"}],\"summary\":\"ok\"}\n```\n"

	out, err := ParseGenerationOutput(raw)
	require.NoError(t, err)
	require.Len(t, out.Files, 1)
	assert.Equal(t, "b.go", out.Files[0].Path)
}

func TestParseGenerationOutput_BlockedCriterion(t *testing.T) {
	raw := `{
		"files": [{"path": "a.go", "action": "create", "content": "package a"}],
		"summary": "partial",
		"acceptance_criteria_status": [
			{"id": "AC-1", "criterion": "compiles", "status": "SATISFIED"},
			{"id": "AC-2", "criterion": "has endpoint", "status": "BLOCKED", "evidence": "no route table found"}
		]
	}`

	out, err := ParseGenerationOutput(raw)
	require.NoError(t, err)
	blocked := out.BlockedCriterion()
	require.NotNil(t, blocked)
	assert.Equal(t, "AC-2", blocked.ID)
	assert.Equal(t, "no route table found", blocked.Evidence)
}

func TestParseGenerationOutput_DelimiterFallback(t *testing.T) {
	raw := "I couldn't produce JSON, here are the files:\n\n" +
		"===FILE: a.go===\npackage a\n===END FILE===\n\n" +
		"===FILE: b.go===\npackage b\n===END FILE===\n"

	out, err := ParseGenerationOutput(raw)
	require.NoError(t, err)
	require.True(t, out.ExtractedViaFallback)
	require.Len(t, out.Files, 2)
	assert.Equal(t, "a.go", out.Files[0].Path)
	assert.Equal(t, "create", out.Files[0].Action)
	assert.Equal(t, "b.go", out.Files[1].Path)
}

func TestParseGenerationOutput_UnparseableReturnsError(t *testing.T) {
	_, err := ParseGenerationOutput("I am not JSON and have no file delimiters.")
	assert.Error(t, err)
}

func TestParseGenerationOutput_EmptyFilesRejected(t *testing.T) {
	_, err := ParseGenerationOutput(`{"files": [], "summary": "nothing to do"}`)
	assert.Error(t, err)
}

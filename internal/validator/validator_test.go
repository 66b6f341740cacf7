package validator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/daglabs/ticketwright/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_MinimalPassesValidSyntax(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a\n\nfunc Foo() {}\n"), 0644))

	d := New(dir, []string{"a.go"})
	report := d.Run(context.Background(), models.ValidationMinimal, time.Second)

	assert.True(t, report.Passed())
}

func TestRun_MinimalReportsSyntaxError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "b.go")
	require.NoError(t, os.WriteFile(path, []byte("package b\n\nfunc Foo( {\n"), 0644))

	d := New(dir, []string{"b.go"})
	report := d.Run(context.Background(), models.ValidationMinimal, time.Second)

	require.False(t, report.Passed())
	require.Len(t, report.Issues, 4)
	assert.Equal(t, IssueSyntax, report.Issues[0].Type)
	assert.Equal(t, "b.go", report.Issues[0].File)
}

func TestRun_SkipsNonGoFilesInSyntaxStage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "readme.md")
	require.NoError(t, os.WriteFile(path, []byte("# not go {{{ at all"), 0644))

	d := New(dir, []string{"readme.md"})
	report := d.Run(context.Background(), models.ValidationMinimal, time.Second)

	assert.True(t, report.Passed())
}

func TestRun_StandardLadderRunsSyntaxAndLint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.go")
	require.NoError(t, os.WriteFile(path, []byte("package c\n\nfunc Foo() {}\n"), 0644))

	d := New(dir, []string{"c.go"})
	report := d.Run(context.Background(), models.ValidationStandard, time.Second)

	// golangci-lint is very unlikely to be on PATH in this environment;
	// its absence must not fail the attempt.
	assert.True(t, report.Passed())
}

func TestRun_TimeoutProducesSyntheticIssue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "d.go")
	require.NoError(t, os.WriteFile(path, []byte("package d\n"), 0644))

	d := New(dir, []string{"d.go"})
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	report := d.Run(ctx, models.ValidationMinimal, time.Second)

	found := false
	for _, issue := range report.Issues {
		if issue.Type == IssueTimeout {
			found = true
		}
	}
	assert.True(t, found, "expected a synthetic timeout issue")
}

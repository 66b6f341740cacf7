// Package validator runs the configured validation ladder (syntax,
// lint, typecheck) over a worker's materialized files. Each stage
// produces structured errors rather than a pass/fail boolean so the
// worker can build a retry prompt that names the exact problem.
package validator

import (
	"bytes"
	"context"
	"fmt"
	"go/parser"
	"go/scanner"
	"go/token"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/daglabs/ticketwright/internal/metrics"
	"github.com/daglabs/ticketwright/internal/models"
)

// IssueType categorizes a structured validation error.
type IssueType string

const (
	IssueSyntax    IssueType = "syntax"
	IssueLint      IssueType = "lint"
	IssueTypecheck IssueType = "typecheck"
	IssueTimeout   IssueType = "timeout"
)

// Issue is a single structured validation error.
type Issue struct {
	Type    IssueType
	File    string
	Line    int
	Column  int
	Message string
}

// Report is the aggregate outcome of running the ladder.
type Report struct {
	Issues []Issue
}

// Passed is true when no stage produced an issue.
func (r Report) Passed() bool {
	return len(r.Issues) == 0
}

// Dispatch runs the validator ladder configured for level against the
// files rooted at dir. Only paths in files are checked; the rest of
// the workspace is ignored. The run honors timeout as a ceiling over
// the whole ladder, not per stage; on expiry a single synthetic
// IssueTimeout is returned.
type Dispatch struct {
	Dir   string
	Files []string
}

// New creates a Dispatch rooted at dir, checking the given file paths
// (relative to dir).
func New(dir string, files []string) *Dispatch {
	return &Dispatch{Dir: dir, Files: files}
}

// Run executes every stage named by level's ladder, stopping early
// only on timeout.
func (d *Dispatch) Run(ctx context.Context, level models.ValidationLevel, timeout time.Duration) Report {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var report Report
	for _, stage := range level.Stages() {
		if ctx.Err() != nil {
			report.Issues = append(report.Issues, Issue{Type: IssueTimeout, Message: "validation timed out"})
			metrics.ValidationRuns.WithLabelValues(stage, "timeout").Inc()
			break
		}

		var issues []Issue
		switch stage {
		case "syntax":
			issues = d.runSyntax()
		case "lint":
			issues = d.runLint(ctx)
		case "typecheck":
			issues = d.runTypecheck(ctx)
		}

		if ctx.Err() != nil {
			report.Issues = append(report.Issues, Issue{Type: IssueTimeout, Message: fmt.Sprintf("%s check timed out", stage)})
			metrics.ValidationRuns.WithLabelValues(stage, "timeout").Inc()
			break
		}

		if len(issues) == 0 {
			metrics.ValidationRuns.WithLabelValues(stage, "pass").Inc()
		} else {
			metrics.ValidationRuns.WithLabelValues(stage, "fail").Inc()
		}
		report.Issues = append(report.Issues, issues...)
	}

	return report
}

// runSyntax parses every .go file in-process with go/parser. Non-Go
// files are skipped; this ladder rung has nothing to say about them.
func (d *Dispatch) runSyntax() []Issue {
	var issues []Issue
	fset := token.NewFileSet()

	for _, path := range d.Files {
		if filepath.Ext(path) != ".go" {
			continue
		}
		abs := filepath.Join(d.Dir, path)
		_, err := parser.ParseFile(fset, abs, nil, parser.AllErrors)
		if err == nil {
			continue
		}

		if list, ok := err.(scanner.ErrorList); ok {
			for _, e := range list {
				issues = append(issues, Issue{
					Type:    IssueSyntax,
					File:    path,
					Line:    e.Pos.Line,
					Column:  e.Pos.Column,
					Message: e.Msg,
				})
			}
			continue
		}

		issues = append(issues, Issue{Type: IssueSyntax, File: path, Message: err.Error()})
	}

	return issues
}

// runLint shells out to golangci-lint if present on PATH. Its absence
// is not a failure: the stage simply reports nothing.
func (d *Dispatch) runLint(ctx context.Context) []Issue {
	binPath, err := exec.LookPath("golangci-lint")
	if err != nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, binPath, "run", "--out-format", "line-number") // #nosec G204 -- binPath resolved via LookPath, args are fixed
	cmd.Dir = d.Dir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stdout
	_ = cmd.Run()

	return parseLineNumberOutput(stdout.String(), IssueLint, d.Files)
}

// runTypecheck shells out to `go vet`, which performs type-aware
// static analysis using the project's own module graph.
func (d *Dispatch) runTypecheck(ctx context.Context) []Issue {
	binPath, err := exec.LookPath("go")
	if err != nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, binPath, "vet", "./...") // #nosec G204 -- binPath resolved via LookPath, args are fixed
	cmd.Dir = d.Dir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stdout
	_ = cmd.Run()

	return parseLineNumberOutput(stdout.String(), IssueTypecheck, d.Files)
}

// parseLineNumberOutput parses "path:line:col: message" lines emitted
// by go vet and golangci-lint's line-number formatter, keeping only
// issues whose file appears in files.
func parseLineNumberOutput(output string, issueType IssueType, files []string) []Issue {
	known := make(map[string]bool, len(files))
	for _, f := range files {
		known[filepath.ToSlash(f)] = true
	}

	var issues []Issue
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 4)
		if len(parts) < 4 {
			continue
		}
		path := filepath.ToSlash(strings.TrimPrefix(parts[0], "./"))
		if !known[path] {
			continue
		}
		lineNo, _ := strconv.Atoi(parts[1])
		colNo, _ := strconv.Atoi(parts[2])
		issues = append(issues, Issue{
			Type:    issueType,
			File:    path,
			Line:    lineNo,
			Column:  colNo,
			Message: strings.TrimSpace(parts[3]),
		})
	}
	return issues
}

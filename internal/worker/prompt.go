package worker

import (
	"fmt"
	"strings"

	"github.com/daglabs/ticketwright/internal/patchengine"
	"github.com/daglabs/ticketwright/internal/validator"
)

// SystemPersona is the fixed system prompt prefix every generation call
// carries.
const SystemPersona = `You are an autonomous coding agent. You are given one ticket from a
dependency-gated backlog; every prerequisite ticket has already merged.
Implement exactly what the ticket describes, nothing more. Respond with a
single JSON object of the shape:

{
  "files": [ { "path": "...", "action": "create" | "modify",
               "content": "...", "patches": [ { "search": "...", "replace": "..." } ] } ],
  "tests": [ { "path": "...", "content": "..." } ],
  "summary": "...",
  "acceptance_criteria_status": [ { "id": "...", "criterion": "...", "status": "SATISFIED" | "PARTIALLY_SATISFIED" | "BLOCKED", "evidence": "..." } ],
  "root_cause_analysis": "..."
}

Use action="modify" with "patches" only for files listed under "Files to
modify" below; every patch's "search" must match the existing file text
verbatim or up to whitespace. Use action="create" for new files and for
any file you must rewrite in full. If a criterion cannot be satisfied
given the current repository state, report it as BLOCKED with evidence
explaining why instead of guessing. Do not wrap the JSON in prose.`

// Feedback carries retry-loop context attached to a regeneration prompt:
// either a structured review verdict from a prior PR (sentinel feedback)
// or the validator/patch errors from the immediately preceding attempt.
type Feedback struct {
	ReviewNote       string
	ValidationIssues []validator.Issue
	PatchFailures    []patchengine.Failure
}

// HasContent reports whether there is anything worth rendering.
func (f *Feedback) HasContent() bool {
	if f == nil {
		return false
	}
	return f.ReviewNote != "" || len(f.ValidationIssues) > 0 || len(f.PatchFailures) > 0
}

// ExistingFile is one file fetched from the workspace before generation,
// already truncated to MaxFileLines.
type ExistingFile struct {
	Path    string
	Content string
}

// BuildPrompt assembles the user-turn prompt for one generation call:
// task description, enumerated criteria with stable ids, the create/modify
// file lists, existing-file snippets, and (on a retry) structured feedback
// from the previous attempt.
func BuildPrompt(ticket TicketView, existing []ExistingFile, feedback *Feedback) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Ticket %s: %s\n\n", ticket.ID, ticket.Title)
	if ticket.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", ticket.Description)
	}

	b.WriteString("Acceptance criteria:\n")
	for _, c := range ticket.Criteria {
		fmt.Fprintf(&b, "- [%s] %s\n", c.ID, c.Description)
	}
	b.WriteString("\n")

	if len(ticket.FilesToCreate) > 0 {
		b.WriteString("Files to create:\n")
		for _, p := range ticket.FilesToCreate {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}

	if len(ticket.FilesToModify) > 0 {
		b.WriteString("Files to modify:\n")
		for _, p := range ticket.FilesToModify {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}

	if len(existing) > 0 {
		b.WriteString("Existing file contents:\n\n")
		for _, f := range existing {
			fmt.Fprintf(&b, "--- %s ---\n%s\n\n", f.Path, f.Content)
		}
	}

	if feedback.HasContent() {
		writeFeedback(&b, feedback)
	}

	return b.String()
}

// writeFeedback renders the retry-loop section: either a human review
// note, or the structured patch/validation errors from the prior attempt,
// with a directive to fix those specific problems.
func writeFeedback(b *strings.Builder, feedback *Feedback) {
	b.WriteString("The previous attempt did not pass review. Fix the following specific problems:\n\n")

	if feedback.ReviewNote != "" {
		fmt.Fprintf(b, "Reviewer feedback:\n%s\n\n", feedback.ReviewNote)
	}

	for _, pf := range feedback.PatchFailures {
		fmt.Fprintf(b, "PATCH FAILED for %s: you must rewrite the full file with action=create\n", pf.Path)
	}
	if len(feedback.PatchFailures) > 0 {
		b.WriteString("\n")
	}

	if len(feedback.ValidationIssues) > 0 {
		b.WriteString("Validation errors:\n")
		for _, issue := range feedback.ValidationIssues {
			if issue.File != "" {
				fmt.Fprintf(b, "- [%s] %s:%d:%d: %s\n", issue.Type, issue.File, issue.Line, issue.Column, issue.Message)
			} else {
				fmt.Fprintf(b, "- [%s] %s\n", issue.Type, issue.Message)
			}
		}
		b.WriteString("\n")
	}
}

// TruncateFile bounds content to maxLines by presenting the head half,
// an ellipsis marker, and the tail half. Files within the limit are
// returned unchanged.
func TruncateFile(content string, maxLines int) string {
	if maxLines <= 0 {
		return content
	}
	lines := strings.Split(content, "\n")
	if len(lines) <= maxLines {
		return content
	}

	half := maxLines / 2
	head := lines[:half]
	tail := lines[len(lines)-half:]

	var b strings.Builder
	b.WriteString(strings.Join(head, "\n"))
	fmt.Fprintf(&b, "\n\n... [%d lines omitted] ...\n\n", len(lines)-2*half)
	b.WriteString(strings.Join(tail, "\n"))
	return b.String()
}

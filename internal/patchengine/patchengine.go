// Package patchengine materializes model-emitted file edits onto disk.
// Each file is either written verbatim (action=create) or patched via
// an ordered list of search/replace edits (action=modify). A file's
// patches either all apply or none persist; the retry prompt must see
// the same preconditions the failed attempt saw.
package patchengine

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/daglabs/ticketwright/internal/metrics"
)

// Action is the kind of edit a file record describes.
type Action string

const (
	ActionCreate Action = "create"
	ActionModify Action = "modify"
)

// Patch is a single search/replace edit within a modify action.
type Patch struct {
	Search  string
	Replace string
}

// FileEdit is one entry of the model's `files` array.
type FileEdit struct {
	Path    string
	Action  Action
	Content string
	Patches []Patch
}

// MatchKind records how a patch was applied, for diagnostics and metrics.
type MatchKind string

const (
	MatchExact  MatchKind = "exact"
	MatchFuzzy  MatchKind = "fuzzy"
	MatchNone   MatchKind = "failed"
	MatchCreate MatchKind = "create"
)

// Failure describes why a file could not be materialized.
type Failure struct {
	Path   string
	Reason string
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Path, f.Reason)
}

// Result is the aggregate outcome of applying a batch of file edits.
type Result struct {
	Written []string
	Failed  []Failure
}

// Engine applies file edits rooted at a single workspace directory.
// Root is the absolute path to the checked-out worktree; every edit
// path is resolved relative to it and validated against traversal.
type Engine struct {
	Root string
}

// New creates an Engine rooted at root.
func New(root string) *Engine {
	return &Engine{Root: root}
}

// Apply materializes every edit, collecting per-file success/failure.
// A failed modify never leaves partial writes on disk.
func (e *Engine) Apply(edits []FileEdit) Result {
	var result Result

	for _, edit := range edits {
		if err := validatePath(edit.Path); err != nil {
			result.Failed = append(result.Failed, Failure{Path: edit.Path, Reason: err.Error()})
			metrics.PatchApplications.WithLabelValues(string(MatchNone)).Inc()
			continue
		}

		switch edit.Action {
		case ActionCreate:
			if err := e.writeCreate(edit); err != nil {
				result.Failed = append(result.Failed, Failure{Path: edit.Path, Reason: err.Error()})
				metrics.PatchApplications.WithLabelValues(string(MatchNone)).Inc()
				continue
			}
			result.Written = append(result.Written, edit.Path)
			metrics.PatchApplications.WithLabelValues(string(MatchCreate)).Inc()

		case ActionModify:
			kind, err := e.applyModify(edit)
			if err != nil {
				result.Failed = append(result.Failed, Failure{Path: edit.Path, Reason: err.Error()})
				metrics.PatchApplications.WithLabelValues(string(MatchNone)).Inc()
				continue
			}
			result.Written = append(result.Written, edit.Path)
			metrics.PatchApplications.WithLabelValues(string(kind)).Inc()

		default:
			result.Failed = append(result.Failed, Failure{Path: edit.Path, Reason: fmt.Sprintf("unknown action %q", edit.Action)})
			metrics.PatchApplications.WithLabelValues(string(MatchNone)).Inc()
		}
	}

	return result
}

func (e *Engine) writeCreate(edit FileEdit) error {
	abs := filepath.Join(e.Root, edit.Path)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}
	if err := os.WriteFile(abs, []byte(edit.Content), 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// applyModify reads the existing file, applies every patch in order
// against an in-memory copy, and only persists once all patches
// succeed. Returns the strictest match kind used (fuzzy if any patch
// needed fuzzy matching, exact otherwise).
func (e *Engine) applyModify(edit FileEdit) (MatchKind, error) {
	abs := filepath.Join(e.Root, edit.Path)
	raw, err := os.ReadFile(abs)
	if err != nil {
		return MatchNone, fmt.Errorf("read existing file: %w", err)
	}
	text := string(raw)

	kind := MatchExact
	for _, patch := range edit.Patches {
		updated, matchKind, ok := applyOnePatch(text, patch)
		if !ok {
			preview := patch.Search
			if len(preview) > 50 {
				preview = preview[:50]
			}
			return MatchNone, fmt.Errorf("no match for search text: %q", preview)
		}
		text = updated
		if matchKind == MatchFuzzy {
			kind = MatchFuzzy
		}
	}

	if err := os.WriteFile(abs, []byte(text), 0644); err != nil {
		return MatchNone, fmt.Errorf("write file: %w", err)
	}
	return kind, nil
}

// applyOnePatch tries an exact substring replacement first, then a
// whitespace-fuzzy regex replacement. Returns the updated text, the
// match kind used, and whether a match was found at all.
func applyOnePatch(text string, patch Patch) (string, MatchKind, bool) {
	if idx := strings.Index(text, patch.Search); idx >= 0 {
		return text[:idx] + patch.Replace + text[idx+len(patch.Search):], MatchExact, true
	}

	normalizedSearch := normalizeWhitespace(patch.Search)
	normalizedText := normalizeWhitespace(text)
	if !strings.Contains(normalizedText, normalizedSearch) {
		return "", "", false
	}

	pattern := fuzzyPattern(patch.Search)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", "", false
	}
	loc := re.FindStringIndex(text)
	if loc == nil {
		return "", "", false
	}
	return text[:loc[0]] + patch.Replace + text[loc[1]:], MatchFuzzy, true
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func normalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// fuzzyPattern turns search into a regex where every whitespace run
// becomes \s+ and every other character is escaped literally.
func fuzzyPattern(search string) string {
	var b strings.Builder
	runs := whitespaceRun.Split(search, -1)
	for i, run := range runs {
		if i > 0 {
			b.WriteString(`\s+`)
		}
		b.WriteString(regexp.QuoteMeta(run))
	}
	return b.String()
}

// validatePath rejects traversal and absolute paths from model output.
var traversalRegex = regexp.MustCompile(`(^|[/\\])\.\.([/\\]|$)`)

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute paths are not permitted: %s", path)
	}
	if traversalRegex.MatchString(path) {
		return fmt.Errorf("path traversal is not permitted: %s", path)
	}
	return nil
}

package worker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// fencedBlockRegex matches a fenced code block, optionally tagged
// ```json, and captures its body.
var fencedBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n?```")

// ParseGenerationOutput parses the model's raw response text into a
// GenerationOutput. It tolerates the JSON being wrapped in a fenced code
// block; if the text is not valid JSON at all, it falls back to a
// delimiter-based extractor and treats every extracted file as
// action=create.
func ParseGenerationOutput(raw string) (*GenerationOutput, error) {
	candidate := extractJSONCandidate(raw)

	var out GenerationOutput
	dec := json.NewDecoder(bytes.NewReader([]byte(candidate)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err == nil {
		if len(out.Files) == 0 {
			return nil, fmt.Errorf("generation output contains no files")
		}
		return &out, nil
	}

	fallback, err := extractDelimitedFiles(raw)
	if err != nil {
		return nil, fmt.Errorf("response was neither valid JSON nor delimited file blocks: %w", err)
	}
	return fallback, nil
}

// extractJSONCandidate strips a fenced code block wrapper if present,
// otherwise returns the trimmed input unchanged.
func extractJSONCandidate(raw string) string {
	if m := fencedBlockRegex.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}

var fileBlockRegex = regexp.MustCompile(`(?s)===FILE:\s*(.+?)\s*===\n(.*?)\n?===END FILE===`)

// extractDelimitedFiles parses the "===FILE: <path>=== ... ===END FILE==="
// fallback format. Every extracted file is forced to action=create since
// the format carries no patch semantics.
func extractDelimitedFiles(raw string) (*GenerationOutput, error) {
	matches := fileBlockRegex.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no ===FILE: ...=== blocks found")
	}

	out := &GenerationOutput{ExtractedViaFallback: true}
	for _, m := range matches {
		out.Files = append(out.Files, FileEdit{
			Path:    strings.TrimSpace(m[1]),
			Action:  "create",
			Content: m[2],
		})
	}
	out.Summary = "extracted via delimiter fallback; response was not valid JSON"
	return out, nil
}

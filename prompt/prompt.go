// Package prompt turns a segment's visual guidance into the synthesis
// prompt sent to the image model. Pure and deterministic: the same
// guidance and label always produce the same prompt.
package prompt

import (
	"strings"

	"storyreel-pipeline/types"
)

// labelClauses shape the shot for each script role.
var labelClauses = map[types.SegmentLabel]string{
	types.LabelHook:       "dynamic opening shot",
	types.LabelConcept:    "clear explanatory wide shot",
	types.LabelProcess:    "step-by-step action sequence",
	types.LabelConclusion: "satisfying resolution shot",
}

const qualityKeywords = "cinematic lighting, high quality, sharp focus"

// noTextSuffix keeps the image model from rendering captions or labels.
const noTextSuffix = "pure visual scene, silent narrative, no text, no watermark"

// rewrites maps words known to trigger unwanted text rendering in the
// image model to visually equivalent phrasing. An empty value drops the
// word entirely.
var rewrites = map[string]string{
	"educational": "illustrative",
	"lesson":      "story",
	"lessons":     "stories",
	"teaching":    "showing",
	"teach":       "show",
	"learn":       "discover",
	"learning":    "discovering",
	"facts":       "details",
	"fact":        "detail",
	"diagram":     "scene",
	"diagrams":    "scenes",
	"infographic": "illustration",
	"label":       "",
	"labels":      "",
	"labeled":     "",
	"text":        "",
	"caption":     "",
	"captions":    "",
}

// Build returns the enhanced prompt for one segment.
func Build(guidance string, label types.SegmentLabel) string {
	parts := []string{Sanitize(guidance)}
	if clause, ok := labelClauses[label]; ok {
		parts = append(parts, clause)
	}
	parts = append(parts, qualityKeywords, noTextSuffix)
	return strings.Join(parts, ", ")
}

// Sanitize rewrites or strips whole words that push the image model
// toward rendering text. Surrounding punctuation is preserved.
func Sanitize(guidance string) string {
	words := strings.Fields(guidance)
	out := make([]string, 0, len(words))
	for _, word := range words {
		core := strings.ToLower(strings.Trim(word, ".,;:!?\"'()"))
		repl, banned := rewrites[core]
		if !banned {
			out = append(out, word)
			continue
		}
		if repl == "" {
			continue
		}
		out = append(out, replaceCore(word, repl))
	}
	return strings.Join(out, " ")
}

// replaceCore swaps the trimmed core of word for repl, keeping any leading
// or trailing punctuation.
func replaceCore(word, repl string) string {
	trimmed := strings.Trim(word, ".,;:!?\"'()")
	i := strings.Index(strings.ToLower(word), strings.ToLower(trimmed))
	if i < 0 {
		return repl
	}
	return word[:i] + repl + word[i+len(trimmed):]
}

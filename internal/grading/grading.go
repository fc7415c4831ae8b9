// Package grading scores a completed request's response text against
// the dataset row's annotated golden label, and extracts per-label
// logprobs from a choice's top-logprob table for diagnostics output.
package grading

import (
	"strings"

	"github.com/llmbench/scale/internal/framer"
)

// Label is one configured class value: a golden-label id and the
// canonical response text that counts as a correct guess for it.
type Label struct {
	ID       int
	Response string
}

// ClassLabel is the full set of labels a benchmark config declares
// for one classification tag (e.g. a yes/no task's two values).
type ClassLabel struct {
	Tag    string
	Values []Label
}

// find looks up the Label with the given id.
func (cl ClassLabel) find(id int) (Label, bool) {
	for _, v := range cl.Values {
		if v.ID == id {
			return v, true
		}
	}
	return Label{}, false
}

// Normalize trims surrounding whitespace and lowercases s, the same
// normalization a guessed completion text goes through before it is
// compared against a label's canonical response.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Grade reports whether responseText is a correct guess for the row
// whose golden label id is goldenLabelID, under cl. An unknown
// goldenLabelID (not present in cl.Values) always grades false.
func Grade(goldenLabelID int, cl ClassLabel, responseText string) bool {
	want, ok := cl.find(goldenLabelID)
	if !ok {
		return false
	}
	return Normalize(responseText) == Normalize(want.Response)
}

// ResponseLogprobs scans every top-logprob entry in choice, position
// by position in the order the server returned them (tokens within one
// position are visited in map order), and returns the first logprob
// found for each configured label response. A label whose
// response never appears among the top logprobs is simply absent from
// the result — callers render that as a missing field, not a zero.
func ResponseLogprobs(choice framer.Choice, cl ClassLabel) map[string]float64 {
	found := make(map[string]float64, len(cl.Values))
	for _, top := range choice.Logprobs.TopLogprobs {
		for token, val := range top {
			normToken := Normalize(token)
			for _, label := range cl.Values {
				if _, already := found[label.Response]; already {
					continue
				}
				if normToken == Normalize(label.Response) {
					found[label.Response] = val
				}
			}
		}
	}
	return found
}

package framer

import "encoding/json"

// Logprobs is the per-choice logprob payload. TopLogprobs maps token
// text to its logprob for each generated position.
type Logprobs struct {
	Tokens        []string             `json:"tokens"`
	TokenLogprobs []float64            `json:"token_logprobs"`
	TopLogprobs   []map[string]float64 `json:"top_logprobs"`
}

// Choice is one completion choice. Completions endpoints observed in
// practice return exactly one choice per streamed chunk event; callers
// that care about multi-choice responses should not assume Choices has
// length 1.
type Choice struct {
	Text         string   `json:"text"`
	Index        int      `json:"index"`
	Logprobs     Logprobs `json:"logprobs"`
	FinishReason string   `json:"finish_reason"`
}

// CompletionResult is one deserialized chunk event.
type CompletionResult struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// Parse deserializes one chunk event's JSON payload, as produced by
// Feed or FeedStrict, into a CompletionResult.
func Parse(event string) (CompletionResult, error) {
	var r CompletionResult
	err := json.Unmarshal([]byte(event), &r)
	return r, err
}

// HasText reports whether any choice in r carries non-empty text. The
// request pipeline drops a chunk event that fails this check.
func (r CompletionResult) HasText() bool {
	for _, c := range r.Choices {
		if c.Text != "" {
			return true
		}
	}
	return false
}

package pipeline

import (
	"encoding/json"

	"github.com/llmbench/scale/internal/framer"
	"github.com/llmbench/scale/internal/stream"
)

// RequestParams is the request body sent to the completions endpoint.
// GoldenLabel is not part of the wire body — it is carried alongside
// the request so the pipeline can grade the response against the row
// it came from.
type RequestParams struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Echo        bool    `json:"echo"`
	Temperature float64 `json:"temperature"`
	NumLogprobs int     `json:"logprobs"`
	MaxTokens   int     `json:"max_tokens"`
	TopK        int     `json:"top_k,omitempty"`
	Stream      bool    `json:"stream"`

	GoldenLabel string `json:"-"`
}

// MarshalJSON omits top_k unless it carries a meaningful value;
// -1 is the sentinel for "let the server pick its default".
func (p RequestParams) MarshalJSON() ([]byte, error) {
	type wire struct {
		Model       string  `json:"model"`
		Prompt      string  `json:"prompt"`
		Echo        bool    `json:"echo"`
		MaxTokens   int     `json:"max_tokens"`
		Logprobs    int     `json:"logprobs"`
		Temperature float64 `json:"temperature"`
		TopK        *int    `json:"top_k,omitempty"`
		Stream      bool    `json:"stream"`
	}
	w := wire{
		Model:       p.Model,
		Prompt:      p.Prompt,
		Echo:        p.Echo,
		MaxTokens:   p.MaxTokens,
		Logprobs:    p.NumLogprobs,
		Temperature: p.Temperature,
		Stream:      p.Stream,
	}
	if p.TopK != -1 {
		w.TopK = &p.TopK
	}
	return json.Marshal(w)
}

// RequestResult is one completed request's outcome.
type RequestResult struct {
	RequestID        string
	Params           RequestParams
	CompletionResult []framer.CompletionResult
	GuessedCorrectly bool
	Latencies        stream.LatencyMetrics
}

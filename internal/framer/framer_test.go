package framer_test

import (
	"reflect"
	"testing"

	"github.com/llmbench/scale/internal/framer"
)

// TestFeedSingleBuffer checks a single buffer carrying two data
// chunks and the [DONE] sentinel.
func TestFeedSingleBuffer(t *testing.T) {
	buf := []byte("data: {\"a\":1}\ndata: {\"b\":2}\ndata: [DONE]\n")

	_, events := framer.Feed(framer.State{}, buf)

	want := []string{`{"a":1}`, `{"b":2}`}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("events: got %v, want %v", events, want)
	}
}

func TestFeedStrictMatchesNonSplitInput(t *testing.T) {
	buf := []byte("data: {\"a\":1}\ndata: {\"b\":2}\ndata: [DONE]\n")

	_, fed := framer.Feed(framer.State{}, buf)
	strict := framer.FeedStrict(buf)

	if !reflect.DeepEqual(fed, strict) {
		t.Fatalf("Feed and FeedStrict disagree on whole input: %v vs %v", fed, strict)
	}
}

// TestFeedCarriesSplitEventAcrossBuffers checks that Feed, unlike
// FeedStrict, recovers an event split mid-token across two writes.
func TestFeedCarriesSplitEventAcrossBuffers(t *testing.T) {
	first := []byte(`data: {"a":1`)
	second := []byte("}\ndata: [DONE]\n")

	state, events1 := framer.Feed(framer.State{}, first)
	if len(events1) != 0 {
		t.Fatalf("events from incomplete first buffer: got %v, want none", events1)
	}

	_, events2 := framer.Feed(state, second)
	want := []string{`{"a":1}`}
	if !reflect.DeepEqual(events2, want) {
		t.Fatalf("events after completing buffer: got %v, want %v", events2, want)
	}
}

// TestFeedStrictDropsSplitEvent documents the original behavior Feed
// deliberately improves on: FeedStrict never carries state across
// calls, so a chunk split across two writes is lost from the second
// buffer's perspective.
func TestFeedStrictDropsSplitEvent(t *testing.T) {
	first := []byte(`data: {"a":1`)
	second := []byte("}\ndata: [DONE]\n")

	if events := framer.FeedStrict(first); len(events) != 0 {
		t.Fatalf("FeedStrict(first): got %v, want none", events)
	}
	if events := framer.FeedStrict(second); len(events) != 0 {
		t.Fatalf("FeedStrict(second): got %v, want none (marker was in the dropped first buffer)", events)
	}
}

func TestFeedMultipleCallsAccumulateAcrossManySplits(t *testing.T) {
	chunks := [][]byte{
		[]byte(`data: {"a":`),
		[]byte(`1}`),
		[]byte("\ndata: "),
		[]byte(`{"b":2}` + "\n"),
		[]byte("data: [DONE]\n"),
	}

	var state framer.State
	var got []string
	for _, c := range chunks {
		var events []string
		state, events = framer.Feed(state, c)
		got = append(got, events...)
	}

	want := []string{`{"a":1}`, `{"b":2}`}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("events across splits: got %v, want %v", got, want)
	}
}

func TestParseCompletionResult(t *testing.T) {
	event := `{"id":"cmpl-1","object":"text_completion","created":1,"model":"gpt-3.5-turbo-instruct","choices":[{"text":"yes","index":0,"logprobs":{"tokens":["yes"],"token_logprobs":[-0.1],"top_logprobs":[{"yes":-0.1,"no":-3.2}]},"finish_reason":"length"}]}`

	r, err := framer.Parse(event)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.ID != "cmpl-1" || len(r.Choices) != 1 || r.Choices[0].Text != "yes" {
		t.Fatalf("Parse: unexpected result %+v", r)
	}
	if !r.HasText() {
		t.Fatal("HasText: got false, want true")
	}
}

func TestHasTextFalseWhenAllChoicesEmpty(t *testing.T) {
	r := framer.CompletionResult{Choices: []framer.Choice{{Text: ""}, {Text: ""}}}
	if r.HasText() {
		t.Fatal("HasText: got true, want false")
	}
}

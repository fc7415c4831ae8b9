package dataset_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/llmbench/scale/internal/dataset"
)

// serverClient returns a client that sends every request to srv,
// whatever host its URL names, so Fetch's fixed datasets-server URLs
// reach the test fixture.
func serverClient(srv *httptest.Server) *http.Client {
	target, _ := url.Parse(srv.URL)
	return &http.Client{Transport: redirectTransport{target: target}}
}

type redirectTransport struct{ target *url.URL }

func (rt redirectTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Scheme = rt.target.Scheme
	r.URL.Host = rt.target.Host
	r.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

func TestFetchPaginatesUntilMaxRows(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		fmt.Fprintf(w, `{"rows":[{"row":{"sentence":"s%d-0","label":1}},{"row":{"sentence":"s%d-1","label":0}}]}`, n, n)
	}))
	defer srv.Close()

	d, err := dataset.Fetch(context.Background(), serverClient(srv), dataset.Params{
		ID: "nyu-mll/glue", Config: "cola", Split: "train",
		RowsPerQuery: 2, MaxRows: 5, MsBetweenCall: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if d.Size() != 5 {
		t.Fatalf("Size: got %d, want 5 (truncated to MaxRows)", d.Size())
	}
}

func TestFetchStopsOnEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.RawQuery, "offset=0") {
			fmt.Fprint(w, `{"rows":[{"row":{"sentence":"only","label":1}}]}`)
			return
		}
		fmt.Fprint(w, `{"rows":[]}`)
	}))
	defer srv.Close()

	d, err := dataset.Fetch(context.Background(), serverClient(srv), dataset.Params{
		ID: "x", Config: "y", Split: "train",
		RowsPerQuery: 100, MaxRows: 1000, MsBetweenCall: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if d.Size() != 1 {
		t.Fatalf("Size: got %d, want 1", d.Size())
	}
}

func TestFetchRetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, "        <h1>429</h1>\n        <p>We had to rate limit you.")
			return
		}
		fmt.Fprint(w, `{"rows":[{"row":{"sentence":"s","label":1}}]}`)
	}))
	defer srv.Close()

	// Fetch retries after a 30s sleep on rate limit; keep this test
	// fast by asserting only via a context deadline shorter than that
	// sleep, which must produce a context error rather than hang.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := dataset.Fetch(ctx, serverClient(srv), dataset.Params{
		ID: "x", Config: "y", Split: "train",
		RowsPerQuery: 100, MaxRows: 1, MsBetweenCall: time.Millisecond,
	})
	if err == nil {
		t.Fatal("Fetch: got nil error, want context deadline exceeded while waiting out the rate-limit backoff")
	}
}

func TestRowFormatSubstitutesTagsInOrder(t *testing.T) {
	r := dataset.Row{"sentence1": "The cat sat.", "sentence2": "A cat was sitting."}
	got := r.Format("S1: {}\nS2: {}\nAnswer:", []string{"sentence1", "sentence2"})
	want := "S1: The cat sat.\nS2: A cat was sitting.\nAnswer:"
	if got != want {
		t.Fatalf("Format: got %q, want %q", got, want)
	}
}

func TestRowGoldenLabelIDFromNumber(t *testing.T) {
	r := dataset.Row{"label": float64(1)}
	id, ok := r.GoldenLabelID("label")
	if !ok || id != 1 {
		t.Fatalf("GoldenLabelID: got (%d, %v), want (1, true)", id, ok)
	}
}

func TestRowGoldenLabelIDMissingTag(t *testing.T) {
	r := dataset.Row{"sentence": "x"}
	if _, ok := r.GoldenLabelID("label"); ok {
		t.Fatal("GoldenLabelID: got ok=true for a row missing the tag")
	}
}

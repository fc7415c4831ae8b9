// Package dataset fetches and holds the rows a benchmark run replays:
// a paginated client against the HuggingFace datasets-server GET API
// (grounded on original_source/src/benchmarks/dataset.cpp's
// DatasetParams::get_dataset), plus the Row/Config types the core
// pipeline's prompt-building and grading depend on.
package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// rateLimitText is the substring the datasets-server HTML rate-limit
// page carries, unchanged from CURLHandler's rate-limit detection.
const rateLimitText = "We had to rate limit you."

// urlTemplate mirrors BenchmarkingConstants::format_string.
const urlTemplate = "https://datasets-server.huggingface.co/rows?dataset=%s&config=%s&split=%s&offset=%d"

// Row is one dataset record, keyed by the upstream service's column
// names (e.g. "sentence", "label").
type Row map[string]any

// Format substitutes the row's tags values, in order, into template's
// "{}" placeholders — sequential positional substitution, the same
// semantics as the original pre_formatted_prompt/std::format pairing,
// reimplemented without a format-string library since the source
// placeholder is always the literal two bytes "{}".
func (r Row) Format(template string, tags []string) string {
	var b strings.Builder
	tagIdx := 0
	for i := 0; i < len(template); i++ {
		if tagIdx < len(tags) && template[i] == '{' && i+1 < len(template) && template[i+1] == '}' {
			b.WriteString(fmt.Sprint(r[tags[tagIdx]]))
			tagIdx++
			i++
			continue
		}
		b.WriteByte(template[i])
	}
	return b.String()
}

// GoldenLabelID reads tag from the row as the integer golden label id
// used to grade a response. Rows from the datasets-server API encode
// integer columns as JSON numbers, which decode as float64.
func (r Row) GoldenLabelID(tag string) (int, bool) {
	switch v := r[tag].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Params configures the paginated fetch: which HuggingFace dataset,
// config (subset) and split to pull rows from, and how to page
// through it.
type Params struct {
	ID            string
	Config        string
	Split         string
	RowsPerQuery  int
	MaxRows       int
	MsBetweenCall time.Duration
}

// Dataset is the read-only, indexed row sequence the core pipeline
// consumes. Rows are fetched once at startup and never mutated
// afterward, so concurrent Row/Size reads from dispatcher goroutines
// need no lock.
type Dataset struct {
	rows   []Row
	params Params
}

// Size returns the row count.
func (d *Dataset) Size() int { return len(d.rows) }

// Row returns the row at i.
func (d *Dataset) Row(i int) Row { return d.rows[i] }

// Config returns the fetch params the dataset was built from.
func (d *Dataset) Config() Params { return d.params }

type datasetServerResponse struct {
	Rows []struct {
		Row Row `json:"row"`
	} `json:"rows"`
}

// Fetch pages through the datasets-server GET endpoint until MaxRows
// rows have been collected or the server stops returning new rows. A
// 429 rate-limit response is detected by substring match against the
// returned HTML, matching the original's str_contains check, and
// handled by sleeping 30s and retrying the same page rather than
// failing the run.
func Fetch(ctx context.Context, client *http.Client, params Params) (*Dataset, error) {
	if params.RowsPerQuery <= 0 {
		params.RowsPerQuery = 100
	}
	if params.MsBetweenCall <= 0 {
		params.MsBetweenCall = 500 * time.Millisecond
	}
	if client == nil {
		client = http.DefaultClient
	}

	d := &Dataset{params: params}
	offset := 0
	for len(d.rows) < params.MaxRows {
		url := fmt.Sprintf(urlTemplate, params.ID, params.Config, params.Split, offset)

		body, err := getPage(ctx, client, url)
		if err != nil {
			return nil, err
		}

		if strings.Contains(body, rateLimitText) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(30 * time.Second):
			}
			continue
		}

		var parsed datasetServerResponse
		if err := json.Unmarshal([]byte(body), &parsed); err != nil {
			// A page that fails to parse is skipped: the offset advances
			// and pagination continues (unlike an empty page, which ends
			// it), matching add_rows swallowing json::parse_error.
			offset += params.RowsPerQuery
			continue
		}
		if len(parsed.Rows) == 0 {
			break
		}
		for _, r := range parsed.Rows {
			d.rows = append(d.rows, r.Row)
		}
		offset += params.RowsPerQuery

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(params.MsBetweenCall):
		}
	}

	if len(d.rows) > params.MaxRows {
		d.rows = d.rows[:params.MaxRows]
	}
	return d, nil
}

func getPage(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("dataset: building request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("dataset: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("dataset: reading response body: %w", err)
	}
	return string(body), nil
}

// Package driver implements the benchmark driver: K dispatcher
// goroutines pull rows off a shared atomic counter, build and send a
// request per row through internal/pipeline, and push completed
// results into a single-consumer results ring; one writer goroutine
// drains that ring to a line-delimited JSON file and accumulates
// metrics. Grounded on
// original_source/src/benchmarks/benchmark.cpp's
// BenchmarkContext::perform_benchmark/consume_buffer_and_write_to_json.
//
// Row content, prompt templating, and grading are all dataset/config
// concerns — driver depends on none of those packages. It asks only
// for a row count and three callbacks (BuildRequest, Grade,
// ExtractLogprobs) that cmd/scale binds against internal/dataset,
// internal/config, and internal/grading when it wires a run.
package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/llmbench/scale/internal/framer"
	"github.com/llmbench/scale/internal/pipeline"
	"github.com/llmbench/scale/internal/ring"
	"github.com/llmbench/scale/internal/stream"
)

// resultsRingCapacity is the results MPSC ring size: 1,000,000 slots,
// rounded up to the next power of 2 by ring.NewMPSC.
const resultsRingCapacity = 1_000_000

// emptyRetryThreshold is how many consecutive empty fetches the
// writer tolerates, once every dispatcher has exited, before deciding
// the results ring is truly drained. Matches spec.md §9's resolved
// ambiguity of using ">=" against the threshold.
const emptyRetryThreshold = 100

// Transport sends one request and returns its Streaming Response plus
// an Awaiter, matching internal/transport.Client's signature. Declared
// here rather than imported so driver's only dependency on the
// transport concern is this one narrow contract, per spec.md §6.
type Transport interface {
	PostStream(ctx context.Context, req pipeline.RequestParams) (resp *stream.Response, awaiter pipeline.Awaiter, err error)
}

// RequestBuilder returns the fully-formed request for row idx
// (0 <= idx < Config.NumRows), including whatever GoldenLabel the
// caller's Grade callback will need to score the response against.
type RequestBuilder func(idx int) pipeline.RequestParams

// GradeFunc scores responseText against the request it answers.
type GradeFunc func(req pipeline.RequestParams, responseText string) bool

// LogprobExtractor pulls the diagnostic per-label logprobs out of one
// completion choice, for the output row's "<response>_logprob" fields.
type LogprobExtractor func(choice framer.Choice) map[string]float64

// Config is everything one benchmark run needs.
type Config struct {
	NumRows           int
	Concurrency       int // K dispatcher goroutines
	WorkersPerRequest int // W consumer goroutines per request
	OutFile           string
	Transport         Transport
	BuildRequest      RequestBuilder
	Grade             GradeFunc
	ExtractLogprobs   LogprobExtractor
	Logger            log.Logger
	OnResult          func(RowResult) // optional: e.g. internal/metrics observer
	OnDropped         func()          // optional: counts a row that produced no usable result
}

// RowResult is what the writer observes for one completed request,
// the unit internal/metrics' collectors update on.
type RowResult struct {
	Latencies        stream.LatencyMetrics
	GuessedCorrectly bool
}

// FinalMetrics is the computed reduction over one run's Accumulator.
type FinalMetrics struct {
	AvgTTFT           time.Duration
	AvgE2ELatency     time.Duration
	RequestsProcessed int64
	DroppedRequests   int64
	Duration          time.Duration
	RequestRate       float64 // requests processed per second
	Accuracy          float64 // correct / processed
}

// accumulator is the running Metrics state spec.md §3 describes:
// start/end, requests_processed, sum_ttft, sum_e2e, sum_correct.
type accumulator struct {
	mu                sync.Mutex
	start             time.Time
	end               time.Time
	requestsProcessed int64
	droppedRequests   int64
	sumTTFT           time.Duration
	sumE2E            time.Duration
	sumCorrect        int64
}

func (a *accumulator) addResult(r RowResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requestsProcessed++
	a.sumTTFT += r.Latencies.TTFT
	a.sumE2E += r.Latencies.E2E
	if r.GuessedCorrectly {
		a.sumCorrect++
	}
}

func (a *accumulator) addDropped() {
	a.mu.Lock()
	a.droppedRequests++
	a.mu.Unlock()
}

func (a *accumulator) finalize() FinalMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	fm := FinalMetrics{
		RequestsProcessed: a.requestsProcessed,
		DroppedRequests:   a.droppedRequests,
		Duration:          a.end.Sub(a.start),
	}
	if a.requestsProcessed > 0 {
		fm.AvgTTFT = a.sumTTFT / time.Duration(a.requestsProcessed)
		fm.AvgE2ELatency = a.sumE2E / time.Duration(a.requestsProcessed)
		fm.Accuracy = float64(a.sumCorrect) / float64(a.requestsProcessed)
	}
	if secs := fm.Duration.Seconds(); secs > 0 {
		fm.RequestRate = float64(a.requestsProcessed) / secs
	}
	return fm
}

// outputRow is one line of the output jsonl file, per spec.md §6's
// required keys plus a "<response>_logprob" entry for every
// configured label response found among the choice's top logprobs.
type outputRow struct {
	E2ELatency       float64
	TTFT             float64
	ID               string
	Model            string
	Object           string
	Prompt           string
	GuessedCorrectly bool
	FinishReason     string
	Text             string
	Logprobs         map[string]float64
}

func (o outputRow) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"e2e_latency":       o.E2ELatency,
		"ttft":              o.TTFT,
		"id":                o.ID,
		"model":             o.Model,
		"object":            o.Object,
		"prompt":            o.Prompt,
		"guessed_correctly": o.GuessedCorrectly,
		"finish_reason":     o.FinishReason,
		"text":              o.Text,
	}
	for response, lp := range o.Logprobs {
		m[response+"_logprob"] = lp
	}
	return json.Marshal(m)
}

// Run executes one complete benchmark: it fans K dispatcher goroutines
// out over [0, cfg.NumRows), writes each completed RequestResult to
// cfg.OutFile as it arrives, and returns the reduced FinalMetrics once
// every dispatcher has exited and the results ring has drained.
func Run(ctx context.Context, cfg Config) (FinalMetrics, error) {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.WorkersPerRequest < 1 {
		cfg.WorkersPerRequest = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	outFile, err := os.Create(cfg.OutFile)
	if err != nil {
		return FinalMetrics{}, fmt.Errorf("driver: opening output file: %w", err)
	}
	defer outFile.Close()

	results := ring.NewMPSC[pipeline.RequestResult](resultsRingCapacity)
	acc := &accumulator{start: time.Now()}

	var nextRow atomix.Int64
	var dispatchersDone sync.WaitGroup
	dispatchersDone.Add(cfg.Concurrency)

	for i := 0; i < cfg.Concurrency; i++ {
		go func() {
			defer dispatchersDone.Done()
			dispatch(ctx, cfg, &nextRow, results, acc, logger)
		}()
	}

	writerDone := make(chan struct{})
	allDispatched := make(chan struct{})
	go func() {
		dispatchersDone.Wait()
		close(allDispatched)
	}()
	go func() {
		defer close(writerDone)
		writeLoop(outFile, results, acc, cfg.ExtractLogprobs, allDispatched, logger)
	}()

	<-writerDone
	acc.mu.Lock()
	acc.end = time.Now()
	acc.mu.Unlock()

	return acc.finalize(), nil
}

// dispatch is one dispatcher goroutine's body: claim rows from
// nextRow until cfg.NumRows is exhausted, building and sending one
// request per row. A panic while processing a single row is recovered
// and counted as a dropped request — it never aborts the dispatcher
// goroutine itself, so sibling rows and sibling dispatchers are
// unaffected, per spec.md §5.
func dispatch(ctx context.Context, cfg Config, nextRow *atomix.Int64, results *ring.MPSC[pipeline.RequestResult], acc *accumulator, logger log.Logger) {
	for {
		idx := int(nextRow.AddAcqRel(1) - 1)
		if idx >= cfg.NumRows {
			return
		}
		processRow(ctx, cfg, idx, results, acc, logger)
	}
}

func processRow(ctx context.Context, cfg Config, idx int, results *ring.MPSC[pipeline.RequestResult], acc *accumulator, logger log.Logger) {
	drop := func() {
		acc.addDropped()
		if cfg.OnDropped != nil {
			cfg.OnDropped()
		}
	}

	defer func() {
		if r := recover(); r != nil {
			level.Error(logger).Log("msg", "dispatcher recovered from panic processing row", "row", idx, "panic", r, "stack", string(debug.Stack()))
			drop()
		}
	}()

	req := cfg.BuildRequest(idx)

	resp, awaiter, err := cfg.Transport.PostStream(ctx, req)
	if err != nil {
		level.Debug(logger).Log("msg", "post_stream failed, dropping row", "row", idx, "err", err)
		drop()
		return
	}

	grade := func(text string) bool {
		return cfg.Grade(req, text)
	}

	result, err := pipeline.Dispatch(ctx, req, resp, awaiter, cfg.WorkersPerRequest, grade, logger)
	if err != nil {
		level.Debug(logger).Log("msg", "dispatch failed, dropping row", "row", idx, "err", err)
		drop()
		return
	}
	if result == nil {
		drop()
		return
	}

	if cfg.OnResult != nil {
		cfg.OnResult(RowResult{Latencies: result.Latencies, GuessedCorrectly: result.GuessedCorrectly})
	}

	if pushErr := results.Push(*result); pushErr != nil {
		// Sized generously (1M slots); a full results ring is a fatal
		// programming error, per spec.md §7, not a condition to
		// silently swallow.
		level.Error(logger).Log("msg", "results ring unexpectedly full", "row", idx, "err", pushErr)
	}
}

// writeLoop drains results to outFile until allDispatched is closed
// and the ring has stayed empty for emptyRetryThreshold consecutive
// fetches, backing off between empty polls with iox.Backoff.
func writeLoop(outFile *os.File, results *ring.MPSC[pipeline.RequestResult], acc *accumulator, extractLogprobs LogprobExtractor, allDispatched <-chan struct{}, logger log.Logger) {
	enc := json.NewEncoder(outFile)
	var bo iox.Backoff
	emptyStreak := 0
	dispatchersFinished := false

	for {
		res, err := results.Fetch()
		if err == nil {
			writeResult(enc, res, extractLogprobs, logger)
			acc.addResult(RowResult{Latencies: res.Latencies, GuessedCorrectly: res.GuessedCorrectly})
			emptyStreak = 0
			bo = iox.Backoff{}
			continue
		}

		if !dispatchersFinished {
			select {
			case <-allDispatched:
				dispatchersFinished = true
			default:
			}
		}

		if dispatchersFinished {
			emptyStreak++
			if emptyStreak >= emptyRetryThreshold {
				return
			}
		}
		bo.Wait()
	}
}

func writeResult(enc *json.Encoder, res pipeline.RequestResult, extractLogprobs LogprobExtractor, logger log.Logger) {
	for _, cr := range res.CompletionResult {
		if len(cr.Choices) == 0 {
			continue
		}
		choice := cr.Choices[0]
		var logprobs map[string]float64
		if extractLogprobs != nil {
			logprobs = extractLogprobs(choice)
		}
		row := outputRow{
			E2ELatency:       res.Latencies.E2E.Seconds(),
			TTFT:             res.Latencies.TTFT.Seconds(),
			ID:               cr.ID,
			Model:            modelOrDefault(cr.Model),
			Object:           cr.Object,
			Prompt:           res.Params.Prompt,
			GuessedCorrectly: res.GuessedCorrectly,
			FinishReason:     choice.FinishReason,
			Text:             choice.Text,
			Logprobs:         logprobs,
		}
		if err := enc.Encode(row); err != nil {
			level.Error(logger).Log("msg", "failed to write result row", "err", err)
		}
	}
}

func modelOrDefault(model string) string {
	if model == "" {
		return "N/A"
	}
	return model
}
